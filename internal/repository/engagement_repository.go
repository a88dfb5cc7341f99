package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/d60-Lab/socialsync/internal/model"
)

// EngagementRepository 账户与帖子 / 账户之间的简单边：互动、转发、收藏、订阅
type EngagementRepository interface {
	AddReaction(ctx context.Context, postID, accountID, typ string) (string, bool, error)
	RemoveReaction(ctx context.Context, postID, accountID, typ string) (bool, error)
	AddRepost(ctx context.Context, postID, accountID string) (string, bool, error)
	RemoveRepost(ctx context.Context, postID, accountID string) (bool, error)
	AddBookmark(ctx context.Context, accountID, postID string) (string, bool, error)
	RemoveBookmark(ctx context.Context, accountID, postID string) (bool, error)
	AddSubscription(ctx context.Context, subscriberID, targetID, kind string) (string, bool, error)
	RemoveSubscription(ctx context.Context, subscriberID, targetID, kind string) (bool, error)
}

type engagementRepository struct {
	db *gorm.DB
}

func NewEngagementRepository(db *gorm.DB) EngagementRepository {
	return &engagementRepository{db: db}
}

// addEdge inserts row or resolves the id of the row already holding the key.
func addEdge[T any](db *gorm.DB, row *T, id string, where string, args ...any) (string, bool, error) {
	created, err := insertIgnore(db, row)
	if err != nil || created {
		return id, created, err
	}
	var ids []string
	if err := db.Model(new(T)).Where(where, args...).Limit(1).Pluck("id", &ids).Error; err != nil {
		return "", false, err
	}
	if len(ids) == 0 {
		return "", false, nil
	}
	return ids[0], false, nil
}

func removeEdge[T any](db *gorm.DB, where string, args ...any) (bool, error) {
	res := db.Where(where, args...).Delete(new(T))
	return res.RowsAffected > 0, res.Error
}

func (r *engagementRepository) AddReaction(ctx context.Context, postID, accountID, typ string) (string, bool, error) {
	id := uuid.New().String()
	row := &model.Reaction{ID: id, PostID: postID, AccountID: accountID, Type: typ}
	return addEdge(r.db.WithContext(ctx), row, id, "post_id = ? AND account_id = ? AND type = ?", postID, accountID, typ)
}

func (r *engagementRepository) RemoveReaction(ctx context.Context, postID, accountID, typ string) (bool, error) {
	return removeEdge[model.Reaction](r.db.WithContext(ctx), "post_id = ? AND account_id = ? AND type = ?", postID, accountID, typ)
}

func (r *engagementRepository) AddRepost(ctx context.Context, postID, accountID string) (string, bool, error) {
	id := uuid.New().String()
	row := &model.Repost{ID: id, PostID: postID, AccountID: accountID}
	return addEdge(r.db.WithContext(ctx), row, id, "post_id = ? AND account_id = ?", postID, accountID)
}

func (r *engagementRepository) RemoveRepost(ctx context.Context, postID, accountID string) (bool, error) {
	return removeEdge[model.Repost](r.db.WithContext(ctx), "post_id = ? AND account_id = ?", postID, accountID)
}

func (r *engagementRepository) AddBookmark(ctx context.Context, accountID, postID string) (string, bool, error) {
	id := uuid.New().String()
	row := &model.Bookmark{ID: id, AccountID: accountID, PostID: postID}
	return addEdge(r.db.WithContext(ctx), row, id, "account_id = ? AND post_id = ?", accountID, postID)
}

func (r *engagementRepository) RemoveBookmark(ctx context.Context, accountID, postID string) (bool, error) {
	return removeEdge[model.Bookmark](r.db.WithContext(ctx), "account_id = ? AND post_id = ?", accountID, postID)
}

func (r *engagementRepository) AddSubscription(ctx context.Context, subscriberID, targetID, kind string) (string, bool, error) {
	id := uuid.New().String()
	row := &model.Subscription{ID: id, SubscriberID: subscriberID, TargetID: targetID, Kind: kind}
	return addEdge(r.db.WithContext(ctx), row, id, "subscriber_id = ? AND target_id = ? AND kind = ?", subscriberID, targetID, kind)
}

func (r *engagementRepository) RemoveSubscription(ctx context.Context, subscriberID, targetID, kind string) (bool, error) {
	return removeEdge[model.Subscription](r.db.WithContext(ctx), "subscriber_id = ? AND target_id = ? AND kind = ?", subscriberID, targetID, kind)
}
