// Command scheduler runs the Scheduler & Invalidator: the nightly 02:00
// JST cron sweep that keeps the rolling calculation window populated.
// With scheduler-only unset it also starts a Worker Pool in-process so a
// single binary can run both for small deployments.
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
	"github.com/fujialign/fujialign/scheduler"
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

	logger.Info("starting scheduler", "scheduler_only", cfg.SchedulerOnly)

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
	sched := scheduler.New(q, locations, events, settingsStore, calendarCache)
	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	var poolDone chan struct{}
	var poolCancel context.CancelFunc
	if !cfg.SchedulerOnly {
		handlers := &worker.Handlers{Locations: locations, Events: events, Settings: settingsStore, Cache: calendarCache}
		pool := worker.New(q, handlers, settingsStore)
		pool.SetInitialConcurrency(cfg.InitialConcurrency)

		var runCtx context.Context
		runCtx, poolCancel = context.WithCancel(ctx)
		poolDone = make(chan struct{})
		go func() {
			pool.Run(runCtx)
			close(poolDone)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received shutdown signal", "signal", sig)

	if poolCancel != nil {
		poolCancel()
		select {
		case <-poolDone:
			logger.Info("worker pool drained successfully")
		case <-time.After(shutdownGrace):
			logger.Warn("worker pool shutdown timed out, exiting anyway")
		}
	}

	logger.Info("scheduler stopped")
}
