package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/socialsync/internal/model"
)

// FeedRepository 命名 feed 及其条目（手动维护的部分）
type FeedRepository interface {
	Ensure(ctx context.Context, f *model.Feed) (bool, error)
	Find(ctx context.Context, ownerID, name string) (*model.Feed, error)
	// AddItem 插入或恢复条目；返回是否发生变化
	AddItem(ctx context.Context, feedID, sourceID string, post *model.Post) (bool, error)
	RemoveItem(ctx context.Context, feedID, postID string) (bool, error)
}

type feedRepository struct {
	db *gorm.DB
}

func NewFeedRepository(db *gorm.DB) FeedRepository { return &feedRepository{db: db} }

func (r *feedRepository) Ensure(ctx context.Context, f *model.Feed) (bool, error) {
	if f.ID == "" {
		f.ID = model.FeedID(f.OwnerID, f.Name)
	}
	return insertIgnore(r.db.WithContext(ctx), f)
}

func (r *feedRepository) Find(ctx context.Context, ownerID, name string) (*model.Feed, error) {
	return firstOrNil[model.Feed](r.db.WithContext(ctx).Where("owner_id = ? AND name = ?", ownerID, name))
}

func (r *feedRepository) AddItem(ctx context.Context, feedID, sourceID string, post *model.Post) (bool, error) {
	item := &model.FeedItem{
		ID:            uuid.New().String(),
		FeedID:        feedID,
		PostID:        post.ID,
		AuthorID:      post.AuthorID,
		SourceID:      sourceID,
		PostCreatedAt: post.CreatedAt,
		CreatedAt:     time.Now().UTC(),
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "feed_id"}, {Name: "post_id"}},
		DoUpdates: clause.Assignments(map[string]any{"removed": false}),
		Where:     clause.Where{Exprs: []clause.Expression{clause.Eq{Column: clause.Column{Table: "feed_items", Name: "removed"}, Value: true}}},
	}).Create(item)
	return res.RowsAffected > 0, res.Error
}

func (r *feedRepository) RemoveItem(ctx context.Context, feedID, postID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.FeedItem{}).
		Where("feed_id = ? AND post_id = ? AND removed = ?", feedID, postID, false).
		Update("removed", true)
	return res.RowsAffected > 0, res.Error
}
