package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/d60-Lab/socialsync/internal/model"
)

// RecordRepository 变更记录（outbox）的追加与查询；派发状态由 fanout 维护
type RecordRepository interface {
	Append(ctx context.Context, rec *model.MutationRecord) error
	FindByKey(ctx context.Context, key string) (*model.MutationRecord, error)
	Get(ctx context.Context, seq int64) (*model.MutationRecord, error)
	// Latest returns the newest record of typ by actor on primaryID.
	Latest(ctx context.Context, typ, actorID, primaryID string) (*model.MutationRecord, error)
}

type recordRepository struct {
	db *gorm.DB
}

func NewRecordRepository(db *gorm.DB) RecordRepository { return &recordRepository{db: db} }

func (r *recordRepository) Append(ctx context.Context, rec *model.MutationRecord) error {
	if rec.Status == "" {
		rec.Status = model.RecordPending
	}
	if rec.NextAttemptAt.IsZero() {
		rec.NextAttemptAt = rec.CreatedAt
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *recordRepository) FindByKey(ctx context.Context, key string) (*model.MutationRecord, error) {
	return firstOrNil[model.MutationRecord](r.db.WithContext(ctx).Where("idempotency_key = ?", key))
}

func (r *recordRepository) Get(ctx context.Context, seq int64) (*model.MutationRecord, error) {
	return firstOrNil[model.MutationRecord](r.db.WithContext(ctx).Where("seq = ?", seq))
}

func (r *recordRepository) Latest(ctx context.Context, typ, actorID, primaryID string) (*model.MutationRecord, error) {
	return firstOrNil[model.MutationRecord](r.db.WithContext(ctx).
		Where("type = ? AND actor_id = ? AND primary_id = ?", typ, actorID, primaryID).
		Order("seq DESC"))
}
