package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/d60-Lab/socialsync/config"
	"github.com/d60-Lab/socialsync/internal/counter"
	"github.com/d60-Lab/socialsync/internal/fanout"
	"github.com/d60-Lab/socialsync/internal/feed"
	"github.com/d60-Lab/socialsync/internal/model"
	"github.com/d60-Lab/socialsync/internal/repository"
	"github.com/d60-Lab/socialsync/internal/service"
	"github.com/d60-Lab/socialsync/pkg/database"
	"github.com/d60-Lab/socialsync/pkg/logger"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, e := strconv.Atoi(s); e == nil && v > 0 {
			return v
		}
	}
	return def
}

// addr 生成确定性的账户地址
func addr(i int) string { return fmt.Sprintf("%040x", i) }

func main() {
	cfg := must(config.Load())
	_ = logger.Init("warn", "console")
	db := must(database.InitDB(cfg))
	if err := database.Migrate(db); err != nil {
		panic(err)
	}
	ctx := context.Background()

	// params
	N := envInt("N", 20000)         // followers of the author
	POSTS := envInt("POSTS", 100)   // posts to publish
	WORKERS := envInt("WORKERS", 8) // dispatcher workers
	BATCH := envInt("BATCH", 1000)  // follower page per fan-out insert
	CLAIM := envInt("CLAIM", 64)    // records claimed per poll

	cfg.Fanout.Workers = WORKERS
	cfg.Fanout.ClaimLimit = CLAIM
	cfg.Feed.BatchSize = BATCH
	if int64(N) > cfg.Feed.PushThreshold {
		cfg.Feed.PushThreshold = int64(N)
	}

	// clean tables for a reproducible run (ok for local bench)
	if database.IsPostgres(db) {
		_ = db.Exec("TRUNCATE TABLE feed_items, feeds, delivery_receipts, mutation_records, notifications, search_index_entries, counter_shards, reactions, reposts, attachments, posts, follows, blocks, mutes, accounts CASCADE").Error
	}

	counters := counter.NewReconciler(db, cfg.Counter)
	dispatcher := fanout.NewDispatcher(db, cfg.Fanout, feed.NewMaterializer(cfg.Feed, nil))
	gateway := service.NewGateway(repository.NewStore(db), counters, cfg, dispatcher)

	// seed one author through the gateway and N followers in bulk
	author := addr(0)
	must(gateway.CreateAccount(ctx, &service.CreateAccount{Meta: service.Meta{ActorID: author}, DisplayName: "author0"}))
	now := time.Now().UTC()
	accounts := make([]model.Account, N)
	follows := make([]model.Follow, N)
	for i := 0; i < N; i++ {
		id := addr(i + 1)
		accounts[i] = model.Account{ID: id, DisplayName: "u" + strconv.Itoa(i), CreatedAt: now, UpdatedAt: now}
		follows[i] = model.Follow{ID: fmt.Sprintf("%036x", i+1), FollowerID: id, FolloweeID: author, CreatedAt: now}
	}
	if err := db.CreateInBatches(&accounts, 1000).Error; err != nil {
		panic(err)
	}
	if err := db.CreateInBatches(&follows, 1000).Error; err != nil {
		panic(err)
	}
	// bulk rows bypassed the counters; the reconciler brings follower_count back in line
	rep := must(counters.Reconcile(ctx))
	fmt.Printf("Seed reconcile: checked=%d corrected=%d\n", rep.Checked, rep.Corrected)

	stop := dispatcher.Start()
	defer func() { _ = stop(context.Background()) }()

	// publish POSTS
	pubDurations := make([]time.Duration, 0, POSTS)
	for i := 0; i < POSTS; i++ {
		st := time.Now()
		must(gateway.CreatePost(ctx, &service.CreatePost{Meta: service.Meta{ActorID: author}, Content: fmt.Sprintf("hello %d", i)}))
		pubDurations = append(pubDurations, time.Since(st))
	}

	// wait until every record has landed
	deadline := time.Now().Add(2 * time.Minute)
	for {
		pending, dead := must2(dispatcher.Pending(ctx))
		if pending == 0 {
			if dead > 0 {
				fmt.Printf("dead records: %d\n", dead)
			}
			break
		}
		if time.Now().After(deadline) {
			fmt.Printf("timeout while waiting for fan-out: pending=%d\n", pending)
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	var pubSum time.Duration
	for _, d := range pubDurations {
		pubSum += d
	}
	fmt.Printf("N=%d POSTS=%d WORKERS=%d BATCH=%d CLAIM=%d\n", N, POSTS, WORKERS, BATCH, CLAIM)
	fmt.Printf("Command tx latency: avg=%v p95=%v p99=%v\n", pubSum/time.Duration(len(pubDurations)), pct(pubDurations, 0.95), pct(pubDurations, 0.99))
	st := dispatcher.Stats()
	fmt.Printf("Fan-out landing (record->done): samples=%d avg=%v p50=%v p95=%v p99=%v\n", st.Count, st.Mean, st.P50, st.P95, st.P99)

	// measure one follower's home feed read (first page)
	if N > 0 {
		asm := feed.NewAssembler(db, cfg.Feed, nil)
		start := time.Now()
		page := must(asm.Read(ctx, addr(1), model.HomeFeedName, "", 50))
		fmt.Printf("Home feed read (follower1, limit=50): %v, items=%d\n", time.Since(start), len(page.Items))
	}
}

func must2[A, B any](a A, b B, err error) (A, B) {
	if err != nil {
		panic(err)
	}
	return a, b
}
