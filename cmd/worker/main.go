// Command worker runs the Worker Pool: it leases jobs from the Job
// Queue and executes the Alignment Finder against the Event Store,
// draining in-flight jobs on SIGINT/SIGTERM before exiting.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fujialign/fujialign/cache"
	"github.com/fujialign/fujialign/config"
	"github.com/fujialign/fujialign/log"
	"github.com/fujialign/fujialign/observability"
	"github.com/fujialign/fujialign/queue"
	"github.com/fujialign/fujialign/settings"
	"github.com/fujialign/fujialign/store"
	"github.com/fujialign/fujialign/worker"
)

var logger = log.Logger()

const shutdownGrace = 30 * time.Second

func main() {
	cfg := config.Load()
	log.Configure(cfg.LogLevel, cfg.LogFormat == "json")
	ctx := context.Background()

	observer, err := observability.NewObserver(cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := observer.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown observability", "error", err)
		}
	}()

	logger.Info("starting worker", "log_level", cfg.LogLevel, "concurrency", cfg.InitialConcurrency)

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	redisClient, err := cache.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	locations := store.NewLocationRepo(db)
	events := store.NewEventRepo(db)
	settingsRepo := store.NewSettingsRepo(db)
	settingsStore := settings.New(settingsRepo, redisClient)
	unsubscribe := settingsStore.Subscribe(ctx)
	defer unsubscribe()

	calendarCache := cache.NewCalendarCache(redisClient, cache.CalendarCacheTTL)

	q := queue.New(redisClient)
	handlers := &worker.Handlers{Locations: locations, Events: events, Settings: settingsStore, Cache: calendarCache}
	pool := worker.New(q, handlers, settingsStore)
	pool.SetInitialConcurrency(cfg.InitialConcurrency)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		pool.Run(runCtx)
		close(done)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received shutdown signal", "signal", sig)

	cancel()
	select {
	case <-done:
		logger.Info("worker pool drained successfully")
	case <-time.After(shutdownGrace):
		logger.Warn("worker pool shutdown timed out, exiting anyway")
	}

	logger.Info("worker stopped")
}
