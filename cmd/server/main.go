package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/d60-Lab/socialsync/config"
	"github.com/d60-Lab/socialsync/internal/api"
	"github.com/d60-Lab/socialsync/internal/api/handler"
	"github.com/d60-Lab/socialsync/internal/counter"
	"github.com/d60-Lab/socialsync/internal/fanout"
	"github.com/d60-Lab/socialsync/internal/feed"
	"github.com/d60-Lab/socialsync/internal/notification"
	"github.com/d60-Lab/socialsync/internal/repository"
	"github.com/d60-Lab/socialsync/internal/search"
	"github.com/d60-Lab/socialsync/internal/service"
	"github.com/d60-Lab/socialsync/pkg/database"
	"github.com/d60-Lab/socialsync/pkg/logger"
	"github.com/d60-Lab/socialsync/pkg/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.DSN, Environment: cfg.Sentry.Environment}); err != nil {
			logger.Warn("sentry init failed", zap.Error(err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	shutdownTracing, err := tracing.Init(context.Background(), cfg.Tracing)
	if err != nil {
		return err
	}

	db, err := database.InitDB(cfg)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}

	// Redis 可选：没有时名人缓存回落到数据库，实时推送关闭
	var (
		rdb   *redis.Client
		cache *feed.CelebrityCache
		pub   *notification.Publisher
	)
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		cache = feed.NewCelebrityCache(rdb, cfg.Feed)
		pub = notification.NewPublisher(rdb, cfg.Notification.PublishQueueSize)
	}

	var mirror search.Mirror
	if cfg.Search.MeiliHost != "" {
		m := search.NewMeiliMirror(cfg.Search.MeiliHost, cfg.Search.MeiliKey)
		m.Setup()
		mirror = m
	}

	counters := counter.NewReconciler(db, cfg.Counter)
	dispatcher := fanout.NewDispatcher(db, cfg.Fanout,
		notification.NewBuilder(cfg.Notification, pub),
		search.NewIndexer(mirror),
		feed.NewMaterializer(cfg.Feed, cache),
	)
	if err := dispatcher.Validate(); err != nil {
		return err
	}
	gateway := service.NewGateway(repository.NewStore(db), counters, cfg, dispatcher)

	sched := cron.New()
	if err := counters.Schedule(sched, cfg.Counter.FoldSchedule, cfg.Counter.ReconcileCron); err != nil {
		return err
	}
	sched.Start()

	var stopPublisher func(context.Context) error
	if pub != nil {
		stopPublisher = pub.Start(cfg.Notification.PublishWorkers)
	}
	stopDispatcher := dispatcher.Start()

	gin.SetMode(cfg.Server.Mode)
	serviceName := ""
	if cfg.Tracing.Enabled {
		serviceName = cfg.Tracing.ServiceName
	}
	h := handler.NewHandler(db, gateway, feed.NewAssembler(db, cfg.Feed, cache), notification.NewInbox(db), counters, dispatcher)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(h, serviceName),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	<-sched.Stop().Done()
	if err := stopDispatcher(ctx); err != nil {
		logger.Warn("dispatcher shutdown", zap.Error(err))
	}
	if stopPublisher != nil {
		if err := stopPublisher(ctx); err != nil {
			logger.Warn("publisher shutdown", zap.Error(err))
		}
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
	return nil
}
