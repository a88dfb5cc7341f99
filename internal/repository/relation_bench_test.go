package repository_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/d60-Lab/socialsync/internal/model"
	"github.com/d60-Lab/socialsync/internal/repository"
	"github.com/d60-Lab/socialsync/internal/testutil"
)

// 随机关注写入；重复边走 ON CONFLICT DO NOTHING
func BenchmarkRelationCreate(b *testing.B) {
	store := repository.NewStore(testutil.NewDB(b))
	ctx := context.Background()

	users := make([]string, 1000)
	for i := range users {
		users[i] = testutil.Addr(i + 1)
	}

	rng := rand.New(rand.NewSource(1))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		from := users[rng.Intn(len(users))]
		to := users[rng.Intn(len(users))]
		if from == to {
			continue
		}
		if _, _, err := store.Relations.Create(ctx, model.EdgeFollow, from, to); err != nil {
			b.Fatal(err)
		}
	}
}

// 一个账号 N 个粉丝、同时关注 N 个账号，比较两个方向的分页
func BenchmarkRelationListing(b *testing.B) {
	store := repository.NewStore(testutil.NewDB(b))
	ctx := context.Background()

	const N = 5000
	u0 := testutil.Addr(0)
	for i := 1; i <= N; i++ {
		uid := testutil.Addr(i)
		if _, _, err := store.Relations.Create(ctx, model.EdgeFollow, uid, u0); err != nil {
			b.Fatal(err)
		}
		if _, _, err := store.Relations.Create(ctx, model.EdgeFollow, u0, uid); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	b.Run("ListSources", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = store.Relations.ListSources(ctx, model.EdgeFollow, u0, "", 50)
		}
	})
	b.Run("ListTargets", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = store.Relations.ListTargets(ctx, model.EdgeFollow, u0, 0, 50)
		}
	})
}
