package feed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/d60-Lab/socialsync/config"
	"github.com/d60-Lab/socialsync/internal/model"
)

// CelebrityCache 大 V 最近未推送帖子索引：每个作者一个 Redis ZSET，score 为创建时间（微秒）
type CelebrityCache struct {
	rdb  *redis.Client
	ttl  time.Duration
	size int64

	hits  atomic.Int64
	loads atomic.Int64
}

func NewCelebrityCache(rdb *redis.Client, cfg config.FeedConfig) *CelebrityCache {
	size := int64(cfg.CacheSize)
	if size <= 0 {
		size = 200
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CelebrityCache{rdb: rdb, ttl: ttl, size: size}
}

func cacheKey(authorID string) string { return fmt.Sprintf("feed:celebrity:%s", authorID) }

func score(t time.Time) float64 { return float64(t.UTC().UnixMicro()) }

// Add only touches an index that is already loaded; a partial index would
// hide older posts from readers.
func (c *CelebrityCache) Add(ctx context.Context, authorID, postID string, createdAt time.Time) error {
	key := cacheKey(authorID)
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil || n == 0 {
		return err
	}
	pipe := c.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score(createdAt), Member: postID})
	pipe.ZRemRangeByRank(ctx, key, 0, -c.size-1)
	pipe.Expire(ctx, key, c.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *CelebrityCache) Remove(ctx context.Context, authorID, postID string) error {
	return c.rdb.ZRem(ctx, cacheKey(authorID), postID).Err()
}

// Recent returns up to limit post ids at or before the cursor time, newest
// first. complete is false when the index was truncated and may be missing
// older posts the caller still needs.
func (c *CelebrityCache) Recent(ctx context.Context, db *gorm.DB, authorID string, before time.Time, limit int) (ids []string, complete bool, err error) {
	key := cacheKey(authorID)
	card, err := c.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return nil, false, err
	}
	if card == 0 {
		if card, err = c.load(ctx, db, authorID); err != nil {
			return nil, false, err
		}
	} else {
		c.hits.Add(1)
	}

	max := "+inf"
	if !before.IsZero() {
		max = strconv.FormatInt(before.UTC().UnixMicro(), 10)
	}
	ids, err = c.rdb.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
		Max:   max,
		Min:   "-inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, false, err
	}
	complete = len(ids) >= limit || card < c.size
	return ids, complete, nil
}

// load rebuilds the index from the author's newest unpushed top-level posts.
func (c *CelebrityCache) load(ctx context.Context, db *gorm.DB, authorID string) (int64, error) {
	c.loads.Add(1)
	var posts []model.Post
	err := db.WithContext(ctx).
		Select("id", "created_at").
		Where("author_id = ? AND parent_id IS NULL AND pushed = ? AND deleted_at IS NULL", authorID, false).
		Order("created_at DESC, id DESC").
		Limit(int(c.size)).
		Find(&posts).Error
	if err != nil {
		return 0, err
	}
	if len(posts) == 0 {
		return 0, nil
	}
	members := make([]redis.Z, len(posts))
	for i, p := range posts {
		members[i] = redis.Z{Score: score(p.CreatedAt), Member: p.ID}
	}
	key := cacheKey(authorID)
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.ZAdd(ctx, key, members...)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}
	return int64(len(posts)), nil
}

// Counters reports cache hits and database loads.
func (c *CelebrityCache) Counters() (hits, loads int64) {
	return c.hits.Load(), c.loads.Load()
}
