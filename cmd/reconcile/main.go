// reconcile 一次性执行计数分片折叠与全量对账，可选地把死信重新入队
//
// 用法: reconcile [-requeue-dead]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/d60-Lab/socialsync/config"
	"github.com/d60-Lab/socialsync/internal/counter"
	"github.com/d60-Lab/socialsync/internal/model"
	"github.com/d60-Lab/socialsync/pkg/database"
	"github.com/d60-Lab/socialsync/pkg/logger"
)

func main() {
	requeue := flag.Bool("requeue-dead", false, "put dead mutation records back into the pending queue")
	flag.Parse()

	cfg, err := config.Load()
	must(err)
	must(logger.Init(cfg.Log.Level, cfg.Log.Format))
	defer func() { _ = logger.Sync() }()
	if cfg.Sentry.DSN != "" {
		must(sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.DSN, Environment: cfg.Sentry.Environment}))
		defer sentry.Flush(2 * time.Second)
	}

	db, err := database.InitDB(cfg)
	must(err)
	must(database.Migrate(db))

	ctx := context.Background()
	r := counter.NewReconciler(db, cfg.Counter)

	start := time.Now()
	folded, err := r.Fold(ctx)
	if err != nil {
		logger.Error("fold failed", zap.Error(err))
	}
	rep, err := r.Reconcile(ctx)
	if err != nil {
		logger.Error("reconcile finished with errors", zap.Error(err))
	}
	fmt.Printf("folded=%d checked=%d corrected=%d negative=%d elapsed=%s\n",
		folded, rep.Checked, rep.Corrected, rep.Negative, time.Since(start))

	if *requeue {
		res := db.Model(&model.MutationRecord{}).Where("status = ?", model.RecordDead).
			Updates(map[string]any{"status": model.RecordPending, "attempts": 0, "next_attempt_at": time.Now().UTC()})
		must(res.Error)
		fmt.Printf("requeued=%d\n", res.RowsAffected)
	}
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
