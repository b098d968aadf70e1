// Package cache provides the shared Redis connection used by the Job
// Queue and the Runtime Settings invalidation channel, along with a thin
// JSON read-through cache for the Calendar Query Facade.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fujialign/fujialign/log"
)

var logger = log.Logger()

// Client wraps a go-redis client shared by every component that needs
// Redis: the priority queue's sorted sets, the settings invalidation
// pub/sub channel, and the calendar read cache below.
type Client struct {
	rdb *redis.Client
}

// NewClient dials Redis and verifies connectivity before returning.
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("redis client connected", "addr", addr, "db", db)

	return &Client{rdb: rdb}, nil
}

// Raw exposes the underlying go-redis client for packages (queue,
// settings) that need sorted-set / pub-sub primitives not wrapped here.
func (c *Client) Raw() *redis.Client { return c.rdb }

// HealthCheck pings Redis.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// CalendarCacheTTL is the default staleness bound for the Calendar Query
// Facade's read-through cache, well inside the staleness any caller of
// monthly_calendar/location_year would tolerate between worker writes.
const CalendarCacheTTL = 10 * time.Minute

// CalendarMonthKey and CalendarLocationYearKey are the canonical key
// builders for the Calendar Query Facade's cached views, shared with the
// Worker Pool and Scheduler so a write-side invalidation always targets
// the exact key a read-side Get/Set used.
func CalendarMonthKey(year int, month time.Month) string {
	return fmt.Sprintf("calendar:month:%04d:%02d", year, int(month))
}

func CalendarLocationYearKey(locationID int64, year int) string {
	return fmt.Sprintf("calendar:locyear:%d:%04d", locationID, year)
}

// CalendarLocationPrefix matches every cached location-year view for
// locationID regardless of year, for use with InvalidatePrefix when a
// Location mutation invalidates its whole cached history at once.
func CalendarLocationPrefix(locationID int64) string {
	return fmt.Sprintf("calendar:locyear:%d:", locationID)
}

// CalendarCache is a JSON read-through cache keyed by an arbitrary string
// (the Calendar Query Facade builds keys from year/month/location), with
// a fixed TTL and an additional staleness check on read.
type CalendarCache struct {
	client *Client
	ttl    time.Duration
}

// NewCalendarCache wraps an existing Redis client with a TTL.
func NewCalendarCache(client *Client, ttl time.Duration) *CalendarCache {
	return &CalendarCache{client: client, ttl: ttl}
}

type cachedEnvelope struct {
	CachedAt time.Time       `json:"cached_at"`
	Payload  json.RawMessage `json:"payload"`
}

// Get unmarshals the cached payload into dst, returning (false, nil) on a
// miss or on a stale/corrupted entry (which it deletes).
func (c *CalendarCache) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	val, err := c.client.rdb.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}

	var env cachedEnvelope
	if err := json.Unmarshal([]byte(val), &env); err != nil {
		logger.Error("corrupted cache entry", "key", key, "error", err)
		c.client.rdb.Del(ctx, key)
		return false, nil
	}

	if time.Since(env.CachedAt) > c.ttl {
		logger.Debug("cache entry expired", "key", key, "cached_at", env.CachedAt)
		c.client.rdb.Del(ctx, key)
		return false, nil
	}

	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return false, fmt.Errorf("cache unmarshal %s: %w", key, err)
	}

	return true, nil
}

// Set stores src under key with the cache's TTL.
func (c *CalendarCache) Set(ctx context.Context, key string, src interface{}) error {
	payload, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("cache marshal %s: %w", key, err)
	}

	env := cachedEnvelope{CachedAt: time.Now(), Payload: payload}
	blob, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("cache envelope marshal %s: %w", key, err)
	}

	if err := c.client.rdb.Set(ctx, key, blob, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// InvalidatePrefix deletes every cache entry whose key starts with
// prefix, used when a Location mutation or Event write invalidates the
// (year, month) or (location, year) views derived from it.
func (c *CalendarCache) InvalidatePrefix(ctx context.Context, prefix string) error {
	keys, err := c.client.rdb.Keys(ctx, prefix+"*").Result()
	if err != nil {
		return fmt.Errorf("cache scan %s*: %w", prefix, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache invalidate %s*: %w", prefix, err)
	}
	logger.Debug("cache invalidated", "prefix", prefix, "keys", len(keys))
	return nil
}
