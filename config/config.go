// Package config resolves process configuration from flags, falling back
// to environment variables for container deployment.
package config

import (
	"flag"
	"os"
	"strconv"
)

// Config holds every setting a worker or scheduler process needs at
// startup. Values a process can't change at runtime (DB/Redis
// connection info, log level) live here; everything else lives in
// Runtime Settings.
type Config struct {
	DatabaseURL        string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	LogLevel           string
	LogFormat          string
	InitialConcurrency int
	SchedulerOnly      bool
	OTLPEndpoint       string
}

// Load parses flags (falling back to environment variables for anything
// not passed on the command line) into a Config.
func Load() Config {
	var cfg Config

	flag.StringVar(&cfg.DatabaseURL, "database-url", envOr("DATABASE_URL", "postgres://localhost:5432/fujialign?sslmode=disable"), "Postgres connection string")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", envOr("REDIS_ADDR", defaultRedisAddr()), "Redis host:port")
	flag.StringVar(&cfg.RedisPassword, "redis-password", envOr("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", envOrInt("REDIS_DB", 0), "Redis logical database index")
	flag.StringVar(&cfg.LogLevel, "log-level", envOr("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", envOr("LOG_FORMAT", "text"), "Log output format (text, json)")
	flag.IntVar(&cfg.InitialConcurrency, "worker-concurrency", envOrInt("WORKER_CONCURRENCY", 1), "Initial worker pool concurrency before Runtime Settings loads, clamped [1,10]")
	flag.BoolVar(&cfg.SchedulerOnly, "scheduler-only", envOrBool("SCHEDULER_ONLY", false), "Run only the cron-driven scheduler, no worker pool")
	flag.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", envOr("OTLP_ENDPOINT", ""), "OTLP gRPC collector endpoint; empty uses the stdout exporter")

	flag.Parse()
	return cfg
}

// defaultRedisAddr assembles host:port from the split REDIS_HOST /
// REDIS_PORT variables container environments often inject, used when
// the combined REDIS_ADDR is not set.
func defaultRedisAddr() string {
	host := envOr("REDIS_HOST", "localhost")
	port := envOr("REDIS_PORT", "6379")
	return host + ":" + port
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
