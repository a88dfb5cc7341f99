package feed

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/socialsync/config"
	"github.com/d60-Lab/socialsync/internal/model"
	"github.com/d60-Lab/socialsync/internal/repository"
	"github.com/d60-Lab/socialsync/pkg/apperror"
	"github.com/d60-Lab/socialsync/pkg/logger"
)

// Entry is one post in a feed page. SourceID is the account whose post or
// repost placed it there.
type Entry struct {
	model.Post
	SourceID string `json:"source_id"`
}

type Page struct {
	Items      []Entry `json:"items"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

// Assembler 读时组装 feed
type Assembler struct {
	db        *gorm.DB
	feeds     repository.FeedRepository
	cache     *CelebrityCache
	threshold int64
	defLimit  int
	maxLimit  int
}

func NewAssembler(db *gorm.DB, cfg config.FeedConfig, cache *CelebrityCache) *Assembler {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 20
	}
	if cfg.MaxLimit < cfg.DefaultLimit {
		cfg.MaxLimit = cfg.DefaultLimit
	}
	return &Assembler{
		db:        db,
		feeds:     repository.NewFeedRepository(db),
		cache:     cache,
		threshold: cfg.PushThreshold,
		defLimit:  cfg.DefaultLimit,
		maxLimit:  cfg.MaxLimit,
	}
}

// Read returns the viewer's feed strictly descending by (created_at, id),
// starting after cursor. Deleted posts, posts by moderation-blocked accounts,
// accounts blocked in either direction and muted accounts never appear.
func (a *Assembler) Read(ctx context.Context, viewerID, feedName, cursor string, limit int) (*Page, error) {
	if limit <= 0 {
		limit = a.defLimit
	}
	if limit > a.maxLimit {
		limit = a.maxLimit
	}
	if feedName == "" {
		feedName = model.HomeFeedName
	}
	cur, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	f, err := a.feeds.Find(ctx, viewerID, feedName)
	if err != nil {
		return nil, err
	}
	if f == nil {
		if feedName != model.HomeFeedName {
			return nil, apperror.NotFound("feed %q not found", feedName)
		}
		f = &model.Feed{ID: model.FeedID(viewerID, feedName), OwnerID: viewerID, Name: feedName, Strategy: model.FeedStrategyHybrid}
	}
	home := f.Name == model.HomeFeedName

	var entries []Entry
	switch f.Strategy {
	case model.FeedStrategyPush:
		entries, err = a.pushed(ctx, f.ID, viewerID, home, cur, limit)
	case model.FeedStrategyPull:
		entries, err = a.pulled(ctx, viewerID, cur, limit)
	default:
		entries, err = a.hybrid(ctx, f.ID, viewerID, home, cur, limit)
	}
	if err != nil {
		return nil, err
	}
	return paginate(entries, limit), nil
}

// hybrid adds the followed authors' unpushed posts to the materialized
// items. Authors above the threshold are served from the cache when it holds
// everything the page needs; the rest come from the posts table.
func (a *Assembler) hybrid(ctx context.Context, feedID, viewerID string, home bool, cur Cursor, limit int) ([]Entry, error) {
	entries, err := a.pushed(ctx, feedID, viewerID, home, cur, limit)
	if err != nil {
		return nil, err
	}

	var cached, cachedIDs []string
	if a.cache != nil {
		var celebs []string
		err = a.db.WithContext(ctx).Table("follows").
			Joins("JOIN accounts ON accounts.id = follows.followee_id").
			Where("follows.follower_id = ? AND accounts.follower_count > ?", viewerID, a.threshold).
			Pluck("follows.followee_id", &celebs).Error
		if err != nil {
			return nil, err
		}
		for _, celeb := range celebs {
			ids, complete, err := a.cache.Recent(ctx, a.db, celeb, cur.CreatedAt, limit+1)
			if err != nil {
				logger.Warn("celebrity cache read failed, falling back", zap.String("author", celeb), zap.Error(err))
				continue
			}
			if !complete {
				continue
			}
			cached = append(cached, celeb)
			cachedIDs = append(cachedIDs, ids...)
		}
	}

	if len(cachedIDs) > 0 {
		more, err := a.posts(ctx, viewerID, cur, limit, func(q *gorm.DB) *gorm.DB {
			return q.Where("posts.id IN ?", cachedIDs)
		})
		if err != nil {
			return nil, err
		}
		entries = append(entries, more...)
	}
	more, err := a.posts(ctx, viewerID, cur, limit, func(q *gorm.DB) *gorm.DB {
		q = q.Where("posts.parent_id IS NULL AND posts.pushed = ? AND posts.author_id IN (SELECT followee_id FROM follows WHERE follower_id = ?)", false, viewerID)
		if len(cached) > 0 {
			q = q.Where("posts.author_id NOT IN ?", cached)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	return append(entries, more...), nil
}

// pushed reads materialized items. Home items only count while the viewer
// still follows whoever placed them, so a late unfollow delivery never shows
// stale posts.
func (a *Assembler) pushed(ctx context.Context, feedID, viewerID string, home bool, cur Cursor, limit int) ([]Entry, error) {
	q := a.db.WithContext(ctx).Table("feed_items").
		Select("posts.*, feed_items.source_id AS source_id").
		Joins("JOIN posts ON posts.id = feed_items.post_id").
		Where("feed_items.feed_id = ? AND feed_items.removed = ?", feedID, false)
	q = visible(q, "posts.author_id", viewerID)
	if home {
		q = q.Where("(feed_items.source_id = ? OR EXISTS (SELECT 1 FROM follows xf WHERE xf.follower_id = ? AND xf.followee_id = feed_items.source_id))", viewerID, viewerID)
		q = visible(q, "feed_items.source_id", viewerID)
	}
	if !cur.IsZero() {
		q = q.Where("(feed_items.post_created_at < ? OR (feed_items.post_created_at = ? AND feed_items.post_id < ?))",
			cur.CreatedAt, cur.CreatedAt, cur.PostID)
	}
	var out []Entry
	err := q.Order("feed_items.post_created_at DESC, feed_items.post_id DESC").Limit(limit + 1).Scan(&out).Error
	return out, err
}

func (a *Assembler) pulled(ctx context.Context, viewerID string, cur Cursor, limit int) ([]Entry, error) {
	return a.posts(ctx, viewerID, cur, limit, func(q *gorm.DB) *gorm.DB {
		return q.Where("posts.parent_id IS NULL AND (posts.author_id = ? OR posts.author_id IN (SELECT followee_id FROM follows WHERE follower_id = ?))", viewerID, viewerID)
	})
}

func (a *Assembler) posts(ctx context.Context, viewerID string, cur Cursor, limit int, scope func(*gorm.DB) *gorm.DB) ([]Entry, error) {
	q := a.db.WithContext(ctx).Table("posts").Select("posts.*, posts.author_id AS source_id")
	q = visible(scope(q), "posts.author_id", viewerID)
	if !cur.IsZero() {
		q = q.Where("(posts.created_at < ? OR (posts.created_at = ? AND posts.id < ?))", cur.CreatedAt, cur.CreatedAt, cur.PostID)
	}
	var out []Entry
	err := q.Order("posts.created_at DESC, posts.id DESC").Limit(limit + 1).Scan(&out).Error
	return out, err
}

// visible hides deleted posts and anything tied to an account the viewer
// must not see through col.
func visible(q *gorm.DB, col, viewerID string) *gorm.DB {
	return q.Where("posts.deleted_at IS NULL").
		Where("NOT EXISTS (SELECT 1 FROM accounts xa WHERE xa.id = "+col+" AND xa.blocked = ?)", true).
		Where("NOT EXISTS (SELECT 1 FROM blocks xb WHERE (xb.blocker_id = ? AND xb.blocked_id = "+col+") OR (xb.blocker_id = "+col+" AND xb.blocked_id = ?))", viewerID, viewerID).
		Where("NOT EXISTS (SELECT 1 FROM mutes xm WHERE xm.muter_id = ? AND xm.muted_id = "+col+")", viewerID)
}

// paginate merges candidates from every source into one strictly descending
// page without duplicates.
func paginate(entries []Entry, limit int) *Page {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID > entries[j].ID
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	seen := make(map[string]struct{}, len(entries))
	page := &Page{Items: make([]Entry, 0, limit)}
	more := false
	for _, e := range entries {
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		if len(page.Items) == limit {
			more = true
			break
		}
		page.Items = append(page.Items, e)
	}
	if more {
		last := page.Items[len(page.Items)-1]
		page.NextCursor = Cursor{CreatedAt: last.CreatedAt, PostID: last.ID}.Encode()
	}
	return page
}
