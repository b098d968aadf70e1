package settings

import (
	"context"
	"sync"

	gocache "github.com/patrickmn/go-cache"

	"github.com/fujialign/fujialign/cache"
	"github.com/fujialign/fujialign/fujierr"
	"github.com/fujialign/fujialign/log"
	"github.com/fujialign/fujialign/store"
)

var logger = log.Logger()

// InvalidateChannel is the Redis pub/sub channel every process subscribes
// to so a setting write anywhere invalidates every worker's local cache
// within the 60s bound, instead of each worker discovering the change only
// on its own cache's natural expiry.
const InvalidateChannel = "settings:invalidate"

// Store is the Runtime Settings facade: durable values in Postgres via
// store.SettingsRepo, fronted by a 60s local cache and a cross-process
// invalidation broadcast over Redis.
type Store struct {
	repo  *store.SettingsRepo
	redis *cache.Client

	mu    sync.Mutex
	local *gocache.Cache
}

// New builds a Store. redisClient may be nil in single-process/test setups
// that don't need cross-process invalidation.
func New(repo *store.SettingsRepo, redisClient *cache.Client) *Store {
	return &Store{repo: repo, redis: redisClient, local: newLocalCache()}
}

// Snapshot returns the current cached settings view, refreshing from
// Postgres on a cache miss (first call, post-expiry, or post-invalidation).
func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.local.Get(snapshotKey); ok {
		return cached.(Snapshot), nil
	}

	rows, err := s.repo.All(ctx)
	if err != nil {
		logger.Warn("settings snapshot load failed, using defaults", "error", err)
		return DefaultSnapshot(), fujierr.New(fujierr.KindStorageTransient, "settings.Snapshot", err, nil)
	}

	snap := buildSnapshot(rows)
	s.local.Set(snapshotKey, snap, snapshotTTL)
	return snap, nil
}

// Set persists a new value for key then invalidates caches everywhere:
// locally and, if a Redis client is configured, via pub/sub broadcast to
// every other process.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.repo.Set(ctx, key, value); err != nil {
		return err
	}
	s.invalidateLocal()
	if s.redis != nil {
		if err := s.redis.Raw().Publish(ctx, InvalidateChannel, key).Err(); err != nil {
			logger.Warn("settings invalidation broadcast failed", "key", key, "error", err)
		}
	}
	return nil
}

// List returns the persisted setting rows, uncached: the operator
// surface's read path, where seeing the durable value matters more than
// avoiding one query.
func (s *Store) List(ctx context.Context) ([]store.SystemSetting, error) {
	return s.repo.All(ctx)
}

// ClearCache flushes the local snapshot and broadcasts the flush to every
// other process, the operator's "clear settings cache" escape hatch for
// when a value must take effect ahead of natural expiry.
func (s *Store) ClearCache(ctx context.Context) {
	s.invalidateLocal()
	if s.redis != nil {
		if err := s.redis.Raw().Publish(ctx, InvalidateChannel, "*").Err(); err != nil {
			logger.Warn("settings cache-clear broadcast failed", "error", err)
		}
	}
}

func (s *Store) invalidateLocal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local.Flush()
}

// Subscribe starts a goroutine that listens on InvalidateChannel and
// flushes the local cache whenever another process writes a setting.
// Callers should run this once per worker process at startup; it returns
// a cancel function that unsubscribes.
func (s *Store) Subscribe(ctx context.Context) func() {
	if s.redis == nil {
		return func() {}
	}
	pubsub := s.redis.Raw().Subscribe(ctx, InvalidateChannel)
	ch := pubsub.Channel()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				logger.Debug("settings cache invalidated by broadcast", "key", msg.Payload)
				s.invalidateLocal()
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		close(done)
		_ = pubsub.Close()
	}
}
