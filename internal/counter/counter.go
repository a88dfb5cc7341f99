// Package counter keeps the denormalized counters on accounts, posts and
// groups in step with their edge rows.
//
// Deltas are applied inside the command transaction. Post counters are the
// hot rows, so their deltas land in counter_shards and are folded back into
// the post row periodically. Reconcile recounts from the edge tables and
// corrects any drift it finds.
package counter

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/socialsync/config"
	"github.com/d60-Lab/socialsync/internal/model"
)

const (
	tableAccounts = "accounts"
	tablePosts    = "posts"
	tableGroups   = "social_groups"

	FollowerCount  = "follower_count"
	FollowingCount = "following_count"
	PostCount      = "post_count"
	LikesCount     = "likes_count"
	CommentsCount  = "comments_count"
	RepostsCount   = "reposts_count"
	QuotesCount    = "quotes_count"
	MemberCount    = "member_count"
)

// Delta is a signed adjustment to one counter column of one row.
type Delta struct {
	Table  string
	ID     string
	Column string
	Amount int64
}

func account(id, col string, n int64) Delta {
	return Delta{Table: tableAccounts, ID: id, Column: col, Amount: n}
}
func post(id, col string, n int64) Delta {
	return Delta{Table: tablePosts, ID: id, Column: col, Amount: n}
}
func group(id string, n int64) Delta {
	return Delta{Table: tableGroups, ID: id, Column: MemberCount, Amount: n}
}

// Deltas translates a record into counter deltas. Records are only written
// for effective changes, so a duplicate command never reaches here.
func Deltas(rec *model.MutationRecord) []Delta {
	p := rec.Data()
	switch rec.Type {
	case model.RecordFollow:
		return []Delta{account(p.TargetID, FollowerCount, 1), account(rec.ActorID, FollowingCount, 1)}
	case model.RecordUnfollow:
		return []Delta{account(p.TargetID, FollowerCount, -1), account(rec.ActorID, FollowingCount, -1)}
	case model.RecordCreatePost:
		return postDeltas(p, 1)
	case model.RecordDeletePost:
		return postDeltas(p, -1)
	case model.RecordEditPost:
		if !p.Reparented {
			return nil
		}
		var ds []Delta
		if p.OldParentID != "" {
			ds = append(ds, post(p.OldParentID, CommentsCount, -1))
		}
		if p.ParentID != "" {
			ds = append(ds, post(p.ParentID, CommentsCount, 1))
		}
		return ds
	case model.RecordReact:
		return []Delta{post(p.PostID, LikesCount, 1)}
	case model.RecordUnreact:
		return []Delta{post(p.PostID, LikesCount, -1)}
	case model.RecordRepost:
		return []Delta{post(p.PostID, RepostsCount, 1)}
	case model.RecordUnrepost:
		return []Delta{post(p.PostID, RepostsCount, -1)}
	case model.RecordCreateGroup, model.RecordJoinGroup:
		return []Delta{group(p.GroupID, 1)}
	case model.RecordLeaveGroup:
		return []Delta{group(p.GroupID, -1)}
	}
	return nil
}

func postDeltas(p model.RecordPayload, sign int64) []Delta {
	ds := []Delta{account(p.AuthorID, PostCount, sign)}
	if p.ParentID != "" {
		ds = append(ds, post(p.ParentID, CommentsCount, sign))
	}
	if p.QuotedID != "" {
		ds = append(ds, post(p.QuotedID, QuotesCount, sign))
	}
	return ds
}

// Counts 帖子计数（行内值 + 未折叠分片之和）
type Counts struct {
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
	Reposts  int64 `json:"reposts"`
	Quotes   int64 `json:"quotes"`
}

type Reconciler struct {
	db      *gorm.DB
	shards  int
	batch   int
	limiter *rate.Limiter
}

func NewReconciler(db *gorm.DB, cfg config.CounterConfig) *Reconciler {
	shards := cfg.Shards
	if shards < 1 {
		shards = 1
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 500
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Reconciler{db: db, shards: shards, batch: batch, limiter: rate.NewLimiter(limit, 1)}
}

// Apply writes the record's deltas through tx, the command's transaction.
func (r *Reconciler) Apply(ctx context.Context, tx *gorm.DB, rec *model.MutationRecord) error {
	for _, d := range Deltas(rec) {
		if err := r.apply(ctx, tx, d, rec.ID); err != nil {
			return fmt.Errorf("apply %s.%s delta: %w", d.Table, d.Column, err)
		}
	}
	return nil
}

func (r *Reconciler) apply(ctx context.Context, tx *gorm.DB, d Delta, routeKey string) error {
	if d.Table == tablePosts && r.shards > 1 {
		row := model.CounterShard{PostID: d.ID, Field: d.Column, Shard: ShardFor(routeKey, r.shards), Value: d.Amount}
		return tx.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "post_id"}, {Name: "field"}, {Name: "shard"}},
			DoUpdates: clause.Assignments(map[string]any{"value": gorm.Expr("counter_shards.value + excluded.value")}),
		}).Create(&row).Error
	}
	return increment(tx.WithContext(ctx), d.Table, d.ID, d.Column, d.Amount)
}

// increment is an atomic col = col + n; it never reads the current value.
func increment(db *gorm.DB, table, id, column string, n int64) error {
	return db.Table(table).Where("id = ?", id).UpdateColumn(column, gorm.Expr(column+" + ?", n)).Error
}

// Read returns the live counters of a post.
func (r *Reconciler) Read(ctx context.Context, postID string) (Counts, error) {
	var p model.Post
	if err := r.db.WithContext(ctx).Select("likes_count", "comments_count", "reposts_count", "quotes_count").
		Where("id = ?", postID).Take(&p).Error; err != nil {
		return Counts{}, err
	}
	c := Counts{Likes: p.LikesCount, Comments: p.CommentsCount, Reposts: p.RepostsCount, Quotes: p.QuotesCount}

	sums, err := r.shardSums(ctx, postID)
	if err != nil {
		return Counts{}, err
	}
	c.Likes += sums[LikesCount]
	c.Comments += sums[CommentsCount]
	c.Reposts += sums[RepostsCount]
	c.Quotes += sums[QuotesCount]
	return c, nil
}
