// Package feed materializes home and curated feeds and assembles reads over
// them.
package feed

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/socialsync/config"
	"github.com/d60-Lab/socialsync/internal/model"
	"github.com/d60-Lab/socialsync/internal/repository"
	"github.com/d60-Lab/socialsync/pkg/logger"
)

// Materializer 推模式扇出：把帖子写进粉丝的 home feed
type Materializer struct {
	threshold int64
	batchSize int
	backfill  int
	cache     *CelebrityCache
}

// NewMaterializer builds the push consumer. cache may be nil, in which case
// celebrity posts are only served from the database.
func NewMaterializer(cfg config.FeedConfig, cache *CelebrityCache) *Materializer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.BackfillLimit <= 0 {
		cfg.BackfillLimit = 50
	}
	return &Materializer{threshold: cfg.PushThreshold, batchSize: cfg.BatchSize, backfill: cfg.BackfillLimit, cache: cache}
}

func (m *Materializer) Name() string { return "feed" }

// Pushes reports whether an account with the given follower count gets its
// posts pushed to followers instead of pulled at read time.
func (m *Materializer) Pushes(followers int64) bool { return followers <= m.threshold }

func (m *Materializer) Handle(ctx context.Context, tx *gorm.DB, rec *model.MutationRecord) error {
	p := rec.Data()
	switch rec.Type {
	case model.RecordCreatePost:
		if p.ParentID != "" {
			return nil
		}
		return m.push(ctx, tx, rec.ActorID, itemOf(p), p.Pushed)
	case model.RecordRepost:
		return m.push(ctx, tx, rec.ActorID, itemOf(p), m.Pushes(p.AuthorFollowers))
	case model.RecordFollow:
		return m.backfillFrom(ctx, tx, rec.ActorID, p.TargetID)
	case model.RecordUnfollow:
		return tx.WithContext(ctx).
			Where("feed_id = ? AND source_id = ?", model.FeedID(rec.ActorID, model.HomeFeedName), p.TargetID).
			Delete(&model.FeedItem{}).Error
	case model.RecordDeletePost:
		return tx.WithContext(ctx).Model(&model.FeedItem{}).
			Where("post_id = ? AND removed = ?", p.PostID, false).
			UpdateColumn("removed", true).Error
	case model.RecordUnrepost:
		return m.unrepost(ctx, tx, rec.ActorID, p)
	}
	return nil
}

// AfterCommit keeps the celebrity cache in step with the database.
func (m *Materializer) AfterCommit(ctx context.Context, rec *model.MutationRecord) {
	if m.cache == nil {
		return
	}
	p := rec.Data()
	var err error
	switch rec.Type {
	case model.RecordCreatePost:
		if p.ParentID == "" && !p.Pushed {
			err = m.cache.Add(ctx, rec.ActorID, p.PostID, createdAt(p, rec))
		}
	case model.RecordDeletePost:
		err = m.cache.Remove(ctx, p.AuthorID, p.PostID)
	}
	if err != nil {
		logger.Warn("celebrity cache update failed",
			zap.Int64("seq", rec.Seq), zap.String("type", rec.Type), zap.Error(err))
	}
}

type item struct {
	postID    string
	authorID  string
	createdAt time.Time
}

func itemOf(p model.RecordPayload) item {
	it := item{postID: p.PostID, authorID: p.AuthorID}
	if p.PostCreatedAt != nil {
		it.createdAt = p.PostCreatedAt.UTC()
	}
	return it
}

func createdAt(p model.RecordPayload, rec *model.MutationRecord) time.Time {
	if p.PostCreatedAt != nil {
		return p.PostCreatedAt.UTC()
	}
	return rec.CreatedAt
}

// push writes the item into the source's own home feed and, when fanout is
// set, into every follower's home feed page by page.
func (m *Materializer) push(ctx context.Context, tx *gorm.DB, sourceID string, it item, fanout bool) error {
	if err := insertItems(ctx, tx, sourceID, it, []string{sourceID}); err != nil {
		return err
	}
	if !fanout {
		return nil
	}
	rel := repository.NewRelationRepository(tx)
	after := ""
	for {
		page, err := rel.ListSources(ctx, model.EdgeFollow, sourceID, after, m.batchSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		if err := insertItems(ctx, tx, sourceID, it, page); err != nil {
			return err
		}
		if len(page) < m.batchSize {
			return nil
		}
		after = page[len(page)-1]
	}
}

func insertItems(ctx context.Context, tx *gorm.DB, sourceID string, it item, owners []string) error {
	now := time.Now().UTC()
	rows := make([]model.FeedItem, 0, len(owners))
	for _, owner := range owners {
		rows = append(rows, model.FeedItem{
			ID:            uuid.New().String(),
			FeedID:        model.FeedID(owner, model.HomeFeedName),
			PostID:        it.postID,
			AuthorID:      it.authorID,
			SourceID:      sourceID,
			PostCreatedAt: it.createdAt,
			CreatedAt:     now,
		})
	}
	// 重复投递与重复转发都不产生第二条
	return tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// unrepost removes the home items a repost placed. A feed whose owner also
// follows the author keeps the item under the author: the author's own push
// was a no-op when the repost got there first.
func (m *Materializer) unrepost(ctx context.Context, tx *gorm.DB, reposterID string, p model.RecordPayload) error {
	var items []model.FeedItem
	err := tx.WithContext(ctx).
		Where("post_id = ? AND source_id = ?", p.PostID, reposterID).
		Find(&items).Error
	if err != nil || len(items) == 0 {
		return err
	}
	feedIDs := make([]string, len(items))
	for i, it := range items {
		feedIDs[i] = it.FeedID
	}
	// curated feeds also record their owner as source; they are left alone
	var homes []model.Feed
	err = tx.WithContext(ctx).Where("id IN ? AND name = ?", feedIDs, model.HomeFeedName).Find(&homes).Error
	if err != nil {
		return err
	}
	owners := make(map[string]string, len(homes))
	for _, f := range homes {
		owners[f.ID] = f.OwnerID
	}

	var keep, drop []string
	for _, it := range items {
		owner, ok := owners[it.FeedID]
		if !ok {
			continue
		}
		follows := owner == it.AuthorID
		if !follows {
			var n int64
			err := tx.WithContext(ctx).Model(&model.Follow{}).
				Where("follower_id = ? AND followee_id = ?", owner, it.AuthorID).
				Count(&n).Error
			if err != nil {
				return err
			}
			follows = n > 0
		}
		if follows {
			keep = append(keep, it.ID)
		} else {
			drop = append(drop, it.ID)
		}
	}
	if len(keep) > 0 {
		err := tx.WithContext(ctx).Model(&model.FeedItem{}).
			Where("id IN ?", keep).
			UpdateColumn("source_id", gorm.Expr("author_id")).Error
		if err != nil {
			return err
		}
	}
	if len(drop) > 0 {
		return tx.WithContext(ctx).Where("id IN ?", drop).Delete(&model.FeedItem{}).Error
	}
	return nil
}

// backfillFrom copies the target's recent pushed top-level posts into the
// new follower's home feed. Unpushed posts are pulled at read time.
//
// It reads the live posts table rather than the record: the record cannot
// carry the target's history, and deleted posts must not come back.
func (m *Materializer) backfillFrom(ctx context.Context, tx *gorm.DB, followerID, targetID string) error {
	var posts []model.Post
	err := tx.WithContext(ctx).
		Where("author_id = ? AND parent_id IS NULL AND pushed = ? AND deleted_at IS NULL", targetID, true).
		Order("created_at DESC, id DESC").
		Limit(m.backfill).
		Find(&posts).Error
	if err != nil || len(posts) == 0 {
		return err
	}
	for _, post := range posts {
		it := item{postID: post.ID, authorID: post.AuthorID, createdAt: post.CreatedAt.UTC()}
		if err := insertItems(ctx, tx, targetID, it, []string{followerID}); err != nil {
			return err
		}
	}
	return nil
}
