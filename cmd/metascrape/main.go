// Package main wires together the metascrape service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/metascrape/internal/api"
	"github.com/JakeFAU/metascrape/internal/clock/system"
	"github.com/JakeFAU/metascrape/internal/config"
	"github.com/JakeFAU/metascrape/internal/dispatcher"
	"github.com/JakeFAU/metascrape/internal/extractor"
	"github.com/JakeFAU/metascrape/internal/fetcher"
	"github.com/JakeFAU/metascrape/internal/id/uuid"
	"github.com/JakeFAU/metascrape/internal/logging"
	"github.com/JakeFAU/metascrape/internal/metrics"
	queuememory "github.com/JakeFAU/metascrape/internal/queue/memory"
	queuepubsub "github.com/JakeFAU/metascrape/internal/queue/pubsub"
	"github.com/JakeFAU/metascrape/internal/reaper"
	"github.com/JakeFAU/metascrape/internal/runner"
	"github.com/JakeFAU/metascrape/internal/scraper"
	storememory "github.com/JakeFAU/metascrape/internal/store/memory"
	storepostgres "github.com/JakeFAU/metascrape/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()

	var store scraper.TaskStore
	if cfg.DB.DSN != "" {
		if err := storepostgres.RunMigrations(cfg.DB.DSN); err != nil {
			logger.Fatal("run migrations failed", zap.Error(err))
		}
		pgStore, err := storepostgres.NewTaskStore(ctx, storepostgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
		}, idGen, clock)
		if err != nil {
			logger.Fatal("postgres store init failed", zap.Error(err))
		}
		defer pgStore.Close()
		store = pgStore
		logger.Info("using postgres task store")
	} else {
		store = storememory.NewTaskStore(idGen, clock)
		logger.Warn("db.dsn not set, using in-memory task store")
	}

	var (
		queue    scraper.Queue
		closeFns []func()
	)
	switch cfg.Queue.Provider {
	case "pubsub":
		psQueue, err := queuepubsub.NewQueue(ctx, queuepubsub.Config{
			ProjectID:    cfg.Queue.ProjectID,
			Topic:        cfg.Queue.Topic,
			Subscription: cfg.Queue.Subscription,
			Buffer:       cfg.Queue.Depth,
		}, logger.Named("queue"))
		if err != nil {
			logger.Fatal("pubsub queue init failed", zap.Error(err))
		}
		queue = psQueue
		closeFns = append(closeFns, psQueue.Close)
		logger.Info("using pubsub queue", zap.String("topic", cfg.Queue.Topic))
	default:
		memQueue := queuememory.NewQueue(cfg.Queue.Depth)
		queue = memQueue
		closeFns = append(closeFns, memQueue.Close)
	}

	fetch := fetcher.New(fetcher.Config{
		UserAgents: cfg.Fetcher.UserAgents,
		MinDelay:   time.Duration(cfg.Fetcher.MinDelayMs) * time.Millisecond,
		MaxDelay:   time.Duration(cfg.Fetcher.MaxDelayMs) * time.Millisecond,
		Timeout:    cfg.FetchTimeout(),
	})
	extract := extractor.New(extractor.Config{
		MaxLinks:  cfg.Limits.MaxLinks,
		MaxImages: cfg.Limits.MaxImages,
	})

	runnerCfg := runner.Config{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		RetryBackoff:  cfg.RetryBackoff(),
		SoftLimit:     cfg.SoftLimit(),
		HardLimit:     cfg.HardLimit(),
		SnapshotBytes: cfg.Limits.HTMLSnapshotBytes,
	}
	var runners []*runner.Runner
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		runners = append(runners, runner.New(
			queue,
			store,
			fetch,
			extract,
			clock,
			runnerCfg,
			logger.Named("runner").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, runners)

	sweeper := reaper.New(store, reaper.Config{
		Interval:        time.Duration(cfg.Reaper.IntervalSeconds) * time.Second,
		HardLimit:       cfg.HardLimit(),
		ResultRetention: cfg.ResultRetention(),
	}, logger.Named("reaper"))

	apiServer := api.NewServer(store, dispatch, clock, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", cfg.Worker.Concurrency))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("reaper started")
		sweeper.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	for _, closeFn := range closeFns {
		closeFn()
	}
	logger.Info("shutdown complete")
}
