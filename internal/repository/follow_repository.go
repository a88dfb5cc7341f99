package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/d60-Lab/socialsync/internal/model"
)

// RelationRepository 关注 / 拉黑 / 静音三类有向边
type RelationRepository interface {
	// Create 幂等写入；返回边 ID 以及是否新建
	Create(ctx context.Context, kind model.EdgeKind, source, target string) (string, bool, error)
	Delete(ctx context.Context, kind model.EdgeKind, source, target string) (bool, error)
	Exists(ctx context.Context, kind model.EdgeKind, source, target string) (bool, error)
	// Blocked reports a block in either direction.
	Blocked(ctx context.Context, a, b string) (bool, error)
	ListTargets(ctx context.Context, kind model.EdgeKind, source string, offset, limit int) ([]string, error)
	// ListSources pages sources by id, starting after the given id.
	ListSources(ctx context.Context, kind model.EdgeKind, target, after string, limit int) ([]string, error)
}

type relationRepository struct {
	db *gorm.DB
}

func NewRelationRepository(db *gorm.DB) RelationRepository { return &relationRepository{db: db} }

func (r *relationRepository) Create(ctx context.Context, kind model.EdgeKind, source, target string) (string, bool, error) {
	id := uuid.New().String()
	// 幂等：重复关注不报错
	created, err := insertIgnore(r.db.WithContext(ctx), model.NewEdge(kind, id, source, target))
	if err != nil || created {
		return id, created, err
	}
	existing, err := r.id(ctx, kind, source, target)
	return existing, false, err
}

func (r *relationRepository) id(ctx context.Context, kind model.EdgeKind, source, target string) (string, error) {
	t := model.TableOf(kind)
	var ids []string
	err := r.db.WithContext(ctx).Table(t.Table).
		Where(fmt.Sprintf("%s = ? AND %s = ?", t.SourceCol, t.TargetCol), source, target).
		Limit(1).Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return "", err
	}
	return ids[0], nil
}

func (r *relationRepository) Delete(ctx context.Context, kind model.EdgeKind, source, target string) (bool, error) {
	t := model.TableOf(kind)
	res := r.db.WithContext(ctx).
		Where(fmt.Sprintf("%s = ? AND %s = ?", t.SourceCol, t.TargetCol), source, target).
		Delete(model.NewEdge(kind, "", "", ""))
	return res.RowsAffected > 0, res.Error
}

func (r *relationRepository) Exists(ctx context.Context, kind model.EdgeKind, source, target string) (bool, error) {
	id, err := r.id(ctx, kind, source, target)
	return id != "", err
}

func (r *relationRepository) Blocked(ctx context.Context, a, b string) (bool, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.Block{}).
		Where("(blocker_id = ? AND blocked_id = ?) OR (blocker_id = ? AND blocked_id = ?)", a, b, b, a).
		Count(&cnt).Error
	return cnt > 0, err
}

func (r *relationRepository) ListTargets(ctx context.Context, kind model.EdgeKind, source string, offset, limit int) ([]string, error) {
	t := model.TableOf(kind)
	var res []string
	err := r.db.WithContext(ctx).Table(t.Table).
		Where(t.SourceCol+" = ?", source).
		Order(t.TargetCol).
		Offset(offset).Limit(limit).
		Pluck(t.TargetCol, &res).Error
	return res, err
}

func (r *relationRepository) ListSources(ctx context.Context, kind model.EdgeKind, target, after string, limit int) ([]string, error) {
	t := model.TableOf(kind)
	q := r.db.WithContext(ctx).Table(t.Table).Where(t.TargetCol+" = ?", target)
	if after != "" {
		q = q.Where(t.SourceCol+" > ?", after)
	}
	var res []string
	err := q.Order(t.SourceCol).Limit(limit).Pluck(t.SourceCol, &res).Error
	return res, err
}
