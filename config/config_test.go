package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultRedisAddrFromSplitVars(t *testing.T) {
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("REDIS_PORT", "6380")
	assert.Equal(t, "redis.internal:6380", defaultRedisAddr())
}

func TestDefaultRedisAddrFallback(t *testing.T) {
	t.Setenv("REDIS_HOST", "")
	t.Setenv("REDIS_PORT", "")
	assert.Equal(t, "localhost:6379", defaultRedisAddr())
}

func TestEnvOrInt(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "4")
	assert.Equal(t, 4, envOrInt("WORKER_CONCURRENCY", 1))

	t.Setenv("WORKER_CONCURRENCY", "not-a-number")
	assert.Equal(t, 1, envOrInt("WORKER_CONCURRENCY", 1))
}

func TestEnvOrBool(t *testing.T) {
	t.Setenv("SCHEDULER_ONLY", "true")
	assert.True(t, envOrBool("SCHEDULER_ONLY", false))

	t.Setenv("SCHEDULER_ONLY", "nope")
	assert.False(t, envOrBool("SCHEDULER_ONLY", false))
}
