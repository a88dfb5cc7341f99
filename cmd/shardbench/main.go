package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"gorm.io/gorm"

	"github.com/d60-Lab/socialsync/config"
	"github.com/d60-Lab/socialsync/internal/counter"
	"github.com/d60-Lab/socialsync/internal/model"
	"github.com/d60-Lab/socialsync/internal/repository"
	"github.com/d60-Lab/socialsync/internal/service"
	"github.com/d60-Lab/socialsync/pkg/database"
	"github.com/d60-Lab/socialsync/pkg/logger"
)

// 热帖点赞压测：单行计数 vs 分片计数
var (
	Reactors        = envInt("REACTORS", 5000) // 点赞用户数
	ConcurrentLevel = envInt("CONCURRENCY", 64)
	Shards          = envInt("SHARDS", 16)
)

type BenchResult struct {
	Name            string
	Duration        time.Duration
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	QPS             float64
	AvgLatency      time.Duration
	P50Latency      time.Duration
	P95Latency      time.Duration
	P99Latency      time.Duration
	Likes           int64
}

func main() {
	ctx := context.Background()
	_ = logger.Init("warn", "console")

	cfg, err := config.Load()
	must(err)
	db, err := database.InitDB(cfg)
	must(err)
	must(database.Migrate(db))

	fmt.Println("===== 热帖点赞压测 =====")
	fmt.Printf("点赞用户数: %d\n", Reactors)
	fmt.Printf("并发数: %d\n", ConcurrentLevel)
	fmt.Printf("分片数: %d\n\n", Shards)

	fmt.Println("===== 单行计数 =====")
	single := benchReactions(ctx, db, cfg, 1, "单行")
	printBenchResult(single)

	fmt.Println("\n===== 分片计数 =====")
	sharded := benchReactions(ctx, db, cfg, Shards, "分片")
	printBenchResult(sharded)

	fmt.Println("\n===== 性能对比总结 =====")
	printComparison("点赞", single, sharded)
}

func reset(db *gorm.DB) {
	if database.IsPostgres(db) {
		_ = db.Exec("TRUNCATE TABLE reactions, counter_shards, delivery_receipts, mutation_records, posts, accounts CASCADE").Error
	}
}

// benchReactions 每个用户点赞同一条帖子，最后折叠分片并校验计数
func benchReactions(ctx context.Context, db *gorm.DB, cfg *config.Config, shards int, name string) *BenchResult {
	reset(db)
	cfg.Counter.Shards = shards
	counters := counter.NewReconciler(db, cfg.Counter)
	gateway := service.NewGateway(repository.NewStore(db), counters, cfg, nil)

	author := fmt.Sprintf("%040x", 0)
	_, err := gateway.CreateAccount(ctx, &service.CreateAccount{Meta: service.Meta{ActorID: author}})
	must(err)
	res, err := gateway.CreatePost(ctx, &service.CreatePost{Meta: service.Meta{ActorID: author}, Content: "hot post"})
	must(err)
	postID := res.EntityID

	now := time.Now().UTC()
	reactors := make([]model.Account, Reactors)
	for i := range reactors {
		reactors[i] = model.Account{ID: fmt.Sprintf("%040x", i+1), CreatedAt: now, UpdatedAt: now}
	}
	must(db.CreateInBatches(&reactors, 1000).Error)

	var (
		totalRequests   int64
		successRequests int64
		failedRequests  int64
		hist            = hdrhistogram.New(1, int64(time.Minute/time.Microsecond), 3)
		histMu          sync.Mutex
		wg              sync.WaitGroup
	)
	startTime := time.Now()
	for i := 0; i < ConcurrentLevel; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for idx := workerID; idx < len(reactors); idx += ConcurrentLevel {
				reqStart := time.Now()
				_, err := gateway.React(ctx, &service.React{Reaction: service.Reaction{
					Meta:   service.Meta{ActorID: reactors[idx].ID},
					PostID: postID,
					Type:   "like",
				}})
				latency := time.Since(reqStart)

				atomic.AddInt64(&totalRequests, 1)
				if err != nil {
					if n := atomic.AddInt64(&failedRequests, 1); n <= 10 {
						fmt.Printf("点赞失败 [%d]: %v\n", n, err)
					}
				} else {
					atomic.AddInt64(&successRequests, 1)
				}
				histMu.Lock()
				_ = hist.RecordValue(latency.Microseconds())
				histMu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	duration := time.Since(startTime)

	folded, err := counters.Fold(ctx)
	must(err)
	counts, err := counters.Read(ctx, postID)
	must(err)
	fmt.Printf("折叠分片: %d, likes=%d (期望 %d)\n", folded, counts.Likes, successRequests)

	r := calculateResult(name, duration, totalRequests, successRequests, failedRequests, hist)
	r.Likes = counts.Likes
	return r
}

// calculateResult 汇总请求数与延迟分位（直方图单位为微秒）
func calculateResult(name string, duration time.Duration, total, success, failed int64, hist *hdrhistogram.Histogram) *BenchResult {
	r := &BenchResult{
		Name:            name,
		Duration:        duration,
		TotalRequests:   total,
		SuccessRequests: success,
		FailedRequests:  failed,
	}
	if hist.TotalCount() == 0 {
		return r
	}
	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	r.QPS = float64(total) / duration.Seconds()
	r.AvgLatency = time.Duration(hist.Mean() * float64(time.Microsecond))
	r.P50Latency = us(hist.ValueAtQuantile(50))
	r.P95Latency = us(hist.ValueAtQuantile(95))
	r.P99Latency = us(hist.ValueAtQuantile(99))
	return r
}

func printBenchResult(result *BenchResult) {
	fmt.Printf("名称: %s\n", result.Name)
	fmt.Printf("耗时: %v\n", result.Duration)
	fmt.Printf("总请求数: %d\n", result.TotalRequests)
	fmt.Printf("成功请求: %d\n", result.SuccessRequests)
	fmt.Printf("失败请求: %d\n", result.FailedRequests)
	fmt.Printf("QPS: %.2f\n", result.QPS)
	fmt.Printf("平均延迟: %v\n", result.AvgLatency)
	fmt.Printf("P50 延迟: %v\n", result.P50Latency)
	fmt.Printf("P95 延迟: %v\n", result.P95Latency)
	fmt.Printf("P99 延迟: %v\n", result.P99Latency)
	fmt.Printf("最终 likes: %d\n", result.Likes)
}

func printComparison(operation string, single, sharded *BenchResult) {
	fmt.Printf("\n--- %s ---\n", operation)
	fmt.Printf("单行 QPS: %.2f\n", single.QPS)
	fmt.Printf("分片 QPS: %.2f\n", sharded.QPS)
	if single.QPS > 0 {
		fmt.Printf("性能提升: %.2f%%\n", (sharded.QPS-single.QPS)/single.QPS*100)
	}
	fmt.Printf("单行 P95: %v\n", single.P95Latency)
	fmt.Printf("分片 P95: %v\n", sharded.P95Latency)
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, e := strconv.Atoi(s); e == nil && v > 0 {
			return v
		}
	}
	return def
}

func must(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
