package service_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/d60-Lab/socialsync/internal/model"
	"github.com/d60-Lab/socialsync/internal/search"
	"github.com/d60-Lab/socialsync/internal/service"
)

// 热点帖子：大量并发点赞落在分片计数器上
func TestConcurrentReactionsOnHotPost(t *testing.T) {
	h := newHarness(t)
	author := h.account(100)
	p := h.post(author, "hot", nil)

	const fans = 32
	ids := make([]string, fans)
	for i := range ids {
		ids[i] = h.account(i + 1)
	}

	var g errgroup.Group
	for _, fan := range ids {
		fan := fan
		g.Go(func() error {
			_, err := h.gw.React(h.ctx, &service.React{Reaction: service.Reaction{Meta: meta(fan), PostID: p, Type: "like"}})
			return err
		})
	}
	require.NoError(t, g.Wait())

	counts, err := h.counters.Read(h.ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int64(fans), counts.Likes)
	assert.Equal(t, int64(fans), h.count(&model.Reaction{}, "post_id = ?", p))

	_, err = h.counters.Fold(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(fans), h.loadPost(p).LikesCount)

	rep, err := h.counters.Reconcile(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Corrected)
}

func TestConcurrentFollowChurn(t *testing.T) {
	h := newHarness(t)
	const n = 6
	ids := make([]string, n)
	for i := range ids {
		ids[i] = h.account(i + 1)
	}

	var g errgroup.Group
	for i := range ids {
		me := ids[i]
		g.Go(func() error {
			for round := 0; round < 5; round++ {
				for _, other := range ids {
					if other == me {
						continue
					}
					var err error
					if round%2 == 0 {
						_, err = h.gw.Follow(h.ctx, follow(me, other))
					} else {
						_, err = h.gw.Unfollow(h.ctx, &service.Unfollow{Relation: service.Relation{Meta: meta(me), TargetID: other}})
					}
					if err != nil {
						return fmt.Errorf("%s round %d: %w", me, round, err)
					}
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// five rounds end on a follow: everyone follows everyone else
	for _, id := range ids {
		acc := h.loadAccount(id)
		assert.Equal(t, int64(n-1), acc.FollowerCount, id)
		assert.Equal(t, int64(n-1), acc.FollowingCount, id)
	}
	rep, err := h.counters.Reconcile(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Corrected)

	h.drain()
	assert.Zero(t, h.count(&model.MutationRecord{}, "status <> ?", model.RecordDone))
}

func TestConcurrentSameIdempotencyKey(t *testing.T) {
	h := newHarness(t)
	a, b := h.account(1), h.account(2)

	const callers = 8
	results := make([]*service.Result, callers)
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		i := i
		g.Go(func() error {
			cmd := follow(a, b)
			cmd.IdempotencyKey = "one-follow"
			res, err := h.gw.Follow(h.ctx, cmd)
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(1), h.count(&model.MutationRecord{}, "idempotency_key = ?", "one-follow"))
	replayed := 0
	for _, res := range results {
		require.NotNil(t, res.Record)
		assert.Equal(t, results[0].Record.Seq, res.Record.Seq)
		if res.Replayed {
			replayed++
		}
	}
	assert.Equal(t, callers-1, replayed)
	assert.Equal(t, int64(1), h.loadAccount(b).FollowerCount)

	h.drain()
	assert.Equal(t, int64(1), h.count(&model.Notification{}, "recipient_id = ?", b))
}

func TestConcurrentFlagUpdates(t *testing.T) {
	h := newHarness(t)
	mod, user := h.account(1), h.account(2)

	var g errgroup.Group
	g.Go(func() error {
		_, err := h.gw.SetAccountFlags(h.ctx, &service.SetAccountFlags{Meta: meta(mod), TargetID: user, Verified: ptr(true)})
		return err
	})
	g.Go(func() error {
		_, err := h.gw.SetAccountFlags(h.ctx, &service.SetAccountFlags{Meta: meta(mod), TargetID: user, Blocked: ptr(true)})
		return err
	})
	require.NoError(t, g.Wait())

	acc := h.loadAccount(user)
	assert.True(t, acc.Verified)
	assert.True(t, acc.Blocked)

	h.drain()
	e, err := search.Lookup(h.ctx, h.db, model.KindAccount, user)
	require.NoError(t, err)
	assert.True(t, e.Tombstoned)
}
