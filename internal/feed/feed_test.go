package feed_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/d60-Lab/socialsync/config"
	"github.com/d60-Lab/socialsync/internal/counter"
	"github.com/d60-Lab/socialsync/internal/fanout"
	"github.com/d60-Lab/socialsync/internal/feed"
	"github.com/d60-Lab/socialsync/internal/model"
	"github.com/d60-Lab/socialsync/internal/repository"
	"github.com/d60-Lab/socialsync/internal/service"
	"github.com/d60-Lab/socialsync/internal/testutil"
	"github.com/d60-Lab/socialsync/pkg/apperror"
)

type env struct {
	t     *testing.T
	ctx   context.Context
	db    *gorm.DB
	gw    *service.Gateway
	disp  *fanout.Dispatcher
	asm   *feed.Assembler
	cache *feed.CelebrityCache
}

func newEnv(t *testing.T, threshold int64, withCache bool) *env {
	cfg := testutil.Config()
	cfg.Feed.PushThreshold = threshold
	cfg.Moderation.Accounts = []string{testutil.Addr(1)}
	db := testutil.NewDB(t)

	var cache *feed.CelebrityCache
	if withCache {
		_, rdb := testutil.NewRedis(t)
		cache = feed.NewCelebrityCache(rdb, cfg.Feed)
	}
	counters := counter.NewReconciler(db, config.CounterConfig{Shards: 1})
	return &env{
		t:     t,
		ctx:   context.Background(),
		db:    db,
		gw:    service.NewGateway(repository.NewStore(db), counters, cfg, nil),
		disp:  fanout.NewDispatcher(db, cfg.Fanout, feed.NewMaterializer(cfg.Feed, cache)),
		asm:   feed.NewAssembler(db, cfg.Feed, cache),
		cache: cache,
	}
}

func meta(actor string) service.Meta { return service.Meta{ActorID: actor} }

func (e *env) account(n int) string {
	e.t.Helper()
	id := testutil.Addr(n)
	_, err := e.gw.CreateAccount(e.ctx, &service.CreateAccount{Meta: meta(id), DisplayName: fmt.Sprintf("user %d", n)})
	require.NoError(e.t, err)
	return id
}

func (e *env) follow(a, b string) {
	e.t.Helper()
	_, err := e.gw.Follow(e.ctx, &service.Follow{Relation: service.Relation{Meta: meta(a), TargetID: b}})
	require.NoError(e.t, err)
}

func (e *env) post(author, content string) string {
	e.t.Helper()
	res, err := e.gw.CreatePost(e.ctx, &service.CreatePost{Meta: meta(author), Content: content})
	require.NoError(e.t, err)
	return res.EntityID
}

func (e *env) drain() {
	e.t.Helper()
	require.NoError(e.t, e.disp.Drain(e.ctx))
}

func (e *env) read(viewer, name string) []feed.Entry {
	e.t.Helper()
	page, err := e.asm.Read(e.ctx, viewer, name, "", 100)
	require.NoError(e.t, err)
	return page.Items
}

func ids(items []feed.Entry) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestPushAndBackfill(t *testing.T) {
	e := newEnv(t, 100, false)
	a, b, c := e.account(1), e.account(2), e.account(3)
	e.follow(b, a)
	e.drain()

	p1 := e.post(a, "one")
	p2 := e.post(a, "two")
	p3 := e.post(a, "three")
	e.drain()

	items := e.read(b, model.HomeFeedName)
	assert.Equal(t, []string{p3, p2, p1}, ids(items))
	for _, it := range items {
		assert.Equal(t, a, it.SourceID)
	}
	assert.Equal(t, []string{p3, p2, p1}, ids(e.read(a, model.HomeFeedName)), "authors see their own posts")

	// a new follower gets recent posts copied in
	e.follow(c, a)
	e.drain()
	assert.Equal(t, []string{p3, p2, p1}, ids(e.read(c, model.HomeFeedName)))
}

func TestRepliesStayOutOfHome(t *testing.T) {
	e := newEnv(t, 100, false)
	a, b := e.account(1), e.account(2)
	e.follow(b, a)
	root := e.post(a, "root")
	_, err := e.gw.CreatePost(e.ctx, &service.CreatePost{Meta: meta(a), Content: "reply", ParentID: &root})
	require.NoError(t, err)
	e.drain()

	assert.Equal(t, []string{root}, ids(e.read(b, model.HomeFeedName)))
}

func TestUnfollowHidesItems(t *testing.T) {
	e := newEnv(t, 100, false)
	a, b := e.account(1), e.account(2)
	e.follow(b, a)
	e.post(a, "hello")
	e.drain()
	require.Len(t, e.read(b, model.HomeFeedName), 1)

	_, err := e.gw.Unfollow(e.ctx, &service.Unfollow{Relation: service.Relation{Meta: meta(b), TargetID: a}})
	require.NoError(t, err)
	assert.Empty(t, e.read(b, model.HomeFeedName), "hidden before the unfollow is delivered")

	e.drain()
	var n int64
	require.NoError(t, e.db.Model(&model.FeedItem{}).
		Where("feed_id = ? AND source_id = ?", model.FeedID(b, model.HomeFeedName), a).Count(&n).Error)
	assert.Zero(t, n)
}

func TestFiltersHidePosts(t *testing.T) {
	e := newEnv(t, 100, false)
	viewer := e.account(1)
	plain, muted, blocker, deleter, flagged := e.account(2), e.account(3), e.account(4), e.account(5), e.account(6)
	for _, a := range []string{plain, muted, blocker, deleter, flagged} {
		e.follow(viewer, a)
	}
	keep := e.post(plain, "stays")
	e.post(muted, "muted")
	e.post(blocker, "blocked")
	gone := e.post(deleter, "deleted")
	e.post(flagged, "flagged")
	e.drain()
	require.Len(t, e.read(viewer, model.HomeFeedName), 5)

	_, err := e.gw.Mute(e.ctx, &service.Mute{Relation: service.Relation{Meta: meta(viewer), TargetID: muted}})
	require.NoError(t, err)
	_, err = e.gw.Block(e.ctx, &service.Block{Relation: service.Relation{Meta: meta(blocker), TargetID: viewer}})
	require.NoError(t, err)
	_, err = e.gw.DeletePost(e.ctx, &service.DeletePost{PostRef: service.PostRef{Meta: meta(deleter), PostID: gone}})
	require.NoError(t, err)
	_, err = e.gw.SetAccountFlags(e.ctx, &service.SetAccountFlags{Meta: meta(viewer), TargetID: flagged, Blocked: ptr(true)})
	require.NoError(t, err)

	// reads filter before the dispatcher catches up
	assert.Equal(t, []string{keep}, ids(e.read(viewer, model.HomeFeedName)))
	e.drain()
	assert.Equal(t, []string{keep}, ids(e.read(viewer, model.HomeFeedName)))

	// the follow survived the block, so lifting it restores the post
	_, err = e.gw.Unblock(e.ctx, &service.Unblock{Relation: service.Relation{Meta: meta(blocker), TargetID: viewer}})
	require.NoError(t, err)
	assert.Len(t, e.read(viewer, model.HomeFeedName), 2)
}

func TestPullFeed(t *testing.T) {
	e := newEnv(t, 100, false)
	a, b := e.account(1), e.account(2)
	_, err := e.gw.CreateFeed(e.ctx, &service.CreateFeed{Meta: meta(b), Name: "latest", Strategy: model.FeedStrategyPull})
	require.NoError(t, err)
	e.follow(b, a)
	p := e.post(a, "fresh")

	// nothing delivered yet; pull reads the posts table directly
	items := e.read(b, "latest")
	assert.Equal(t, []string{p}, ids(items))
	assert.Equal(t, a, items[0].SourceID)
}

func TestCuratedFeed(t *testing.T) {
	e := newEnv(t, 100, false)
	a, b := e.account(1), e.account(2)
	p := e.post(a, "worth keeping")
	_, err := e.gw.CreateFeed(e.ctx, &service.CreateFeed{Meta: meta(b), Name: "picks"})
	require.NoError(t, err)
	assert.Empty(t, e.read(b, "picks"))

	item := service.FeedItem{Meta: meta(b), FeedName: "picks", PostID: p}
	_, err = e.gw.AddFeedItem(e.ctx, &service.AddFeedItem{FeedItem: item})
	require.NoError(t, err)
	items := e.read(b, "picks")
	require.Len(t, items, 1)
	assert.Equal(t, b, items[0].SourceID)

	_, err = e.gw.RemoveFeedItem(e.ctx, &service.RemoveFeedItem{FeedItem: item})
	require.NoError(t, err)
	assert.Empty(t, e.read(b, "picks"))

	_, err = e.asm.Read(e.ctx, b, "nope", "", 10)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestHybridServesCelebritiesFromCache(t *testing.T) {
	e := newEnv(t, 1, true)
	celeb, fan, other := e.account(1), e.account(2), e.account(3)
	e.follow(fan, celeb)
	e.follow(other, celeb)
	e.drain()

	p1 := e.post(celeb, "first")
	p2 := e.post(celeb, "second")
	e.drain()

	var pushed int64
	require.NoError(t, e.db.Model(&model.FeedItem{}).
		Where("feed_id = ?", model.FeedID(fan, model.HomeFeedName)).Count(&pushed).Error)
	assert.Zero(t, pushed, "posts above the threshold are not pushed")

	assert.Equal(t, []string{p2, p1}, ids(e.read(fan, model.HomeFeedName)))
	hits, loads := e.cache.Counters()
	assert.Equal(t, int64(0), hits)
	assert.Equal(t, int64(1), loads)

	p3 := e.post(celeb, "third")
	e.drain()
	assert.Equal(t, []string{p3, p2, p1}, ids(e.read(other, model.HomeFeedName)))
	hits, loads = e.cache.Counters()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), loads)
}

func TestUnpushedPostsSurviveThresholdCrossing(t *testing.T) {
	for _, withCache := range []bool{false, true} {
		t.Run(fmt.Sprintf("cache=%v", withCache), func(t *testing.T) {
			e := newEnv(t, 1, withCache)
			author, f1, f2 := e.account(1), e.account(2), e.account(3)
			e.follow(f1, author)
			e.follow(f2, author)
			p := e.post(author, "posted while popular")
			e.drain()
			require.Equal(t, []string{p}, ids(e.read(f1, model.HomeFeedName)))

			// author drops back to the threshold; the post was never pushed
			_, err := e.gw.Unfollow(e.ctx, &service.Unfollow{Relation: service.Relation{Meta: meta(f2), TargetID: author}})
			require.NoError(t, err)
			e.drain()
			assert.Equal(t, []string{p}, ids(e.read(f1, model.HomeFeedName)))

			// posts made below the threshold are pushed as before
			q := e.post(author, "posted while small")
			e.drain()
			assert.Equal(t, []string{q, p}, ids(e.read(f1, model.HomeFeedName)))
			var pushed int64
			require.NoError(t, e.db.Model(&model.FeedItem{}).
				Where("feed_id = ? AND post_id = ?", model.FeedID(f1, model.HomeFeedName), q).Count(&pushed).Error)
			assert.Equal(t, int64(1), pushed)
		})
	}
}

func TestUnrepostKeepsAuthorsItem(t *testing.T) {
	e := newEnv(t, 100, false)
	author, reposter, viewer, other := e.account(1), e.account(2), e.account(3), e.account(4)
	e.follow(viewer, author)
	e.follow(viewer, reposter)
	e.follow(other, reposter)
	e.drain()
	p := e.post(author, "original")
	_, err := e.gw.Repost(e.ctx, &service.Repost{PostRef: service.PostRef{Meta: meta(reposter), PostID: p}})
	require.NoError(t, err)

	// deliver the repost first, as a retried create would leave it
	var create model.MutationRecord
	require.NoError(t, e.db.First(&create, "type = ?", model.RecordCreatePost).Error)
	require.NoError(t, e.db.Model(&model.MutationRecord{}).Where("seq = ?", create.Seq).
		Update("next_attempt_at", time.Now().UTC().Add(time.Hour)).Error)
	require.NoError(t, e.disp.Drain(e.ctx))
	require.NoError(t, e.db.Model(&model.MutationRecord{}).Where("seq = ?", create.Seq).
		Update("next_attempt_at", time.Now().UTC().Add(-time.Second)).Error)
	e.drain()

	items := e.read(viewer, model.HomeFeedName)
	require.Len(t, items, 1)
	assert.Equal(t, reposter, items[0].SourceID, "the repost landed first")

	_, err = e.gw.Unrepost(e.ctx, &service.Unrepost{PostRef: service.PostRef{Meta: meta(reposter), PostID: p}})
	require.NoError(t, err)
	e.drain()

	items = e.read(viewer, model.HomeFeedName)
	require.Equal(t, []string{p}, ids(items), "viewer still follows the author")
	assert.Equal(t, author, items[0].SourceID)
	assert.Empty(t, e.read(other, model.HomeFeedName))
}

func TestHybridWithoutCache(t *testing.T) {
	e := newEnv(t, 0, false)
	celeb, fan := e.account(1), e.account(2)
	e.follow(fan, celeb)
	p := e.post(celeb, "pulled at read time")
	e.drain()

	assert.Equal(t, []string{p}, ids(e.read(fan, model.HomeFeedName)))
}

func TestCursorPagination(t *testing.T) {
	e := newEnv(t, 100, false)
	a, b := e.account(1), e.account(2)
	e.follow(b, a)
	for i := 0; i < 7; i++ {
		e.post(a, fmt.Sprintf("post %d", i))
	}
	e.drain()

	var seen []feed.Entry
	cursor := ""
	for pages := 0; ; pages++ {
		require.Less(t, pages, 5)
		page, err := e.asm.Read(e.ctx, b, model.HomeFeedName, cursor, 3)
		require.NoError(t, err)
		seen = append(seen, page.Items...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	require.Len(t, seen, 7)
	unique := map[string]struct{}{}
	for i, it := range seen {
		unique[it.ID] = struct{}{}
		if i == 0 {
			continue
		}
		prev := seen[i-1]
		desc := it.CreatedAt.Before(prev.CreatedAt) || (it.CreatedAt.Equal(prev.CreatedAt) && it.ID < prev.ID)
		assert.True(t, desc, "item %d out of order", i)
	}
	assert.Len(t, unique, 7)
}

func TestDecodeCursor(t *testing.T) {
	c, err := feed.DecodeCursor("")
	require.NoError(t, err)
	assert.True(t, c.IsZero())

	for _, bad := range []string{"%%%", "bm9waXBl", "eHx5"} {
		_, err := feed.DecodeCursor(bad)
		assert.ErrorIs(t, err, apperror.ErrValidation, bad)
	}

	e := newEnv(t, 100, false)
	a := e.account(1)
	_, err = e.asm.Read(e.ctx, a, model.HomeFeedName, "%%%", 10)
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func ptr[T any](v T) *T { return &v }
