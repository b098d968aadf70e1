package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fujialign/fujialign/cache"
	"github.com/fujialign/fujialign/fujierr"
	"github.com/fujialign/fujialign/log"
)

var logger = log.Logger()

// Redis key layout, all under one "queue:" namespace so a single FLUSHDB
// in a throwaway environment wipes the whole broker cleanly.
const (
	keyWaiting = "queue:waiting" // ZSET: jobID -> priority/FIFO score
	keyDelayed = "queue:delayed" // ZSET: jobID -> not-before unix seconds
	keyActive  = "queue:active"  // ZSET: jobID -> lease deadline unix seconds
	keyFailed  = "queue:failed"  // ZSET: jobID -> finished-at unix seconds
	keyJobHF   = "queue:job:"    // HASH prefix: job fields
	keyIdemF   = "queue:idem:"   // STRING prefix: idempotency key -> jobID

	jobRetention = time.Hour // how long a completed/failed job hash survives for inspection
	leaseTTL     = 10 * time.Minute
)

// Queue is the Redis-backed priority broker. It has no dependency on the
// Event Store or Astronomy Kernel; workers hold those, the Queue only
// moves job records.
type Queue struct {
	redis *cache.Client
}

// New wraps an existing Redis client as a Queue.
func New(redisClient *cache.Client) *Queue {
	return &Queue{redis: redisClient}
}

func (q *Queue) rdb() *redis.Client { return q.redis.Raw() }

// waitingScore orders the waiting set: priority dominates, and within
// equal priority jobs drain FIFO by not_before.
func waitingScore(priority Priority, notBefore time.Time) float64 {
	return -float64(priority)*1e12 + float64(notBefore.Unix())
}

// Enqueue adds job to the queue, or returns the ID of an existing job
// already waiting/delayed/active under the same idempotency key without
// creating a duplicate.
func (q *Queue) Enqueue(ctx context.Context, job Job) (string, error) {
	idemKey := keyIdemF + job.IdempotencyKey
	if job.IdempotencyKey != "" {
		existingID, err := q.rdb().Get(ctx, idemKey).Result()
		if err == nil && existingID != "" {
			state, err := q.rdb().HGet(ctx, keyJobHF+existingID, "state").Result()
			if err == nil && (State(state) == StateWaiting || State(state) == StateDelayed || State(state) == StateActive) {
				return existingID, nil
			}
		} else if err != nil && err != redis.Nil {
			return "", fujierr.New(fujierr.KindQueueUnavailable, "queue.Enqueue", err, nil)
		}
	}

	fields := jobHashFields(job)
	pipe := q.rdb().TxPipeline()
	pipe.HSet(ctx, keyJobHF+job.ID, fields)

	now := time.Now()
	if job.NotBefore.After(now) {
		pipe.ZAdd(ctx, keyDelayed, &redis.Z{Score: float64(job.NotBefore.Unix()), Member: job.ID})
	} else {
		pipe.ZAdd(ctx, keyWaiting, &redis.Z{Score: waitingScore(job.Priority, job.NotBefore), Member: job.ID})
	}
	if job.IdempotencyKey != "" {
		pipe.Set(ctx, idemKey, job.ID, 0)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return "", fujierr.New(fujierr.KindQueueUnavailable, "queue.Enqueue", err, map[string]interface{}{"job_id": job.ID})
	}

	logger.Info("job enqueued", "job_id", job.ID, "kind", job.Kind, "priority", job.Priority, "delayed", job.NotBefore.After(now))
	return job.ID, nil
}

// PromoteDue moves delayed jobs whose NotBefore has elapsed into the
// waiting set. Dequeue calls this itself, but a scheduler heartbeat may
// also call it eagerly so delayed jobs don't wait for the next Dequeue.
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	now := float64(time.Now().Unix())
	ids, err := q.rdb().ZRangeByScore(ctx, keyDelayed, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil {
		return 0, fujierr.New(fujierr.KindQueueUnavailable, "queue.PromoteDue", err, nil)
	}
	for _, id := range ids {
		priority, notBefore, err := q.loadPriorityAndNotBefore(ctx, id)
		if err != nil {
			continue
		}
		pipe := q.rdb().TxPipeline()
		pipe.ZRem(ctx, keyDelayed, id)
		pipe.ZAdd(ctx, keyWaiting, &redis.Z{Score: waitingScore(priority, notBefore), Member: id})
		pipe.HSet(ctx, keyJobHF+id, "state", string(StateWaiting))
		if _, err := pipe.Exec(ctx); err != nil {
			logger.Warn("failed to promote delayed job", "job_id", id, "error", err)
		}
	}
	return len(ids), nil
}

func (q *Queue) loadPriorityAndNotBefore(ctx context.Context, id string) (Priority, time.Time, error) {
	vals, err := q.rdb().HMGet(ctx, keyJobHF+id, "priority", "not_before").Result()
	if err != nil {
		return 0, time.Time{}, err
	}
	priority := PriorityNormal
	if s, ok := vals[0].(string); ok {
		var p int
		fmt.Sscanf(s, "%d", &p)
		priority = Priority(p)
	}
	notBefore := time.Now()
	if s, ok := vals[1].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			notBefore = t
		}
	}
	return priority, notBefore, nil
}

// Dequeue promotes any due delayed jobs, then leases the highest-priority
// waiting job (earliest among equal priorities). It returns (Job{}, false,
// nil) when nothing is ready.
func (q *Queue) Dequeue(ctx context.Context) (Job, bool, error) {
	if _, err := q.PromoteDue(ctx); err != nil {
		return Job{}, false, err
	}

	popped, err := q.rdb().ZPopMin(ctx, keyWaiting, 1).Result()
	if err != nil {
		return Job{}, false, fujierr.New(fujierr.KindQueueUnavailable, "queue.Dequeue", err, nil)
	}
	if len(popped) == 0 {
		return Job{}, false, nil
	}
	id, ok := popped[0].Member.(string)
	if !ok {
		return Job{}, false, fujierr.New(fujierr.KindQueueUnavailable, "queue.Dequeue", fmt.Errorf("malformed waiting member"), nil)
	}

	now := time.Now()
	deadline := now.Add(leaseTTL)
	pipe := q.rdb().TxPipeline()
	pipe.ZAdd(ctx, keyActive, &redis.Z{Score: float64(deadline.Unix()), Member: id})
	pipe.HIncrBy(ctx, keyJobHF+id, "attempt", 1)
	pipe.HSet(ctx, keyJobHF+id, "state", string(StateActive), "started_at", now.Format(time.RFC3339Nano))
	if _, err := pipe.Exec(ctx); err != nil {
		return Job{}, false, fujierr.New(fujierr.KindQueueUnavailable, "queue.Dequeue", err, map[string]interface{}{"job_id": id})
	}

	job, err := q.loadJob(ctx, id)
	if err != nil {
		return Job{}, false, err
	}
	return job, true, nil
}

// Complete marks a leased job finished successfully.
func (q *Queue) Complete(ctx context.Context, id string) error {
	now := time.Now()
	pipe := q.rdb().TxPipeline()
	pipe.ZRem(ctx, keyActive, id)
	pipe.HSet(ctx, keyJobHF+id, "state", string(StateCompleted), "finished_at", now.Format(time.RFC3339Nano))
	pipe.Expire(ctx, keyJobHF+id, jobRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fujierr.New(fujierr.KindQueueUnavailable, "queue.Complete", err, map[string]interface{}{"job_id": id})
	}
	q.clearIdempotency(ctx, id)
	logger.Info("job completed", "job_id", id)
	return nil
}

// Fail records a leased job's failure. When cause is retryable and the
// job has attempts remaining it is rescheduled with exponential backoff;
// otherwise it moves to StateFailed and is recorded for the recent-failures
// stat.
func (q *Queue) Fail(ctx context.Context, id string, cause error) error {
	job, err := q.loadJob(ctx, id)
	if err != nil {
		return err
	}
	job.LastError = cause.Error()

	if shouldRetryJob(job, cause) {
		delay := NextAttemptDelay(job.Attempt)
		notBefore := time.Now().Add(delay)
		pipe := q.rdb().TxPipeline()
		pipe.ZRem(ctx, keyActive, id)
		pipe.ZAdd(ctx, keyDelayed, &redis.Z{Score: float64(notBefore.Unix()), Member: id})
		pipe.HSet(ctx, keyJobHF+id, "state", string(StateDelayed), "last_error", job.LastError,
			"not_before", notBefore.Format(time.RFC3339Nano))
		if _, err := pipe.Exec(ctx); err != nil {
			return fujierr.New(fujierr.KindQueueUnavailable, "queue.Fail", err, map[string]interface{}{"job_id": id})
		}
		logger.Warn("job failed, will retry", "job_id", id, "attempt", job.Attempt, "retry_in", delay, "error", job.LastError)
		return nil
	}

	now := time.Now()
	pipe := q.rdb().TxPipeline()
	pipe.ZRem(ctx, keyActive, id)
	pipe.ZAdd(ctx, keyFailed, &redis.Z{Score: float64(now.Unix()), Member: id})
	pipe.HSet(ctx, keyJobHF+id, "state", string(StateFailed), "last_error", job.LastError, "finished_at", now.Format(time.RFC3339Nano))
	pipe.Expire(ctx, keyJobHF+id, jobRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fujierr.New(fujierr.KindQueueUnavailable, "queue.Fail", err, map[string]interface{}{"job_id": id})
	}
	q.clearIdempotency(ctx, id)
	logger.Error("job failed permanently", "job_id", id, "attempt", job.Attempt, "error", job.LastError)
	return nil
}

// Requeue returns a leased job to the waiting set without recording a
// failure or consuming an attempt, used when a worker shuts down mid-job
// so in-flight work is handed back rather than failed.
func (q *Queue) Requeue(ctx context.Context, id string) error {
	priority, notBefore, err := q.loadPriorityAndNotBefore(ctx, id)
	if err != nil {
		return fujierr.New(fujierr.KindQueueUnavailable, "queue.Requeue", err, map[string]interface{}{"job_id": id})
	}
	pipe := q.rdb().TxPipeline()
	pipe.ZRem(ctx, keyActive, id)
	pipe.HIncrBy(ctx, keyJobHF+id, "attempt", -1)
	pipe.ZAdd(ctx, keyWaiting, &redis.Z{Score: waitingScore(priority, notBefore), Member: id})
	pipe.HSet(ctx, keyJobHF+id, "state", string(StateWaiting))
	if _, err := pipe.Exec(ctx); err != nil {
		return fujierr.New(fujierr.KindQueueUnavailable, "queue.Requeue", err, map[string]interface{}{"job_id": id})
	}
	logger.Info("job returned to waiting", "job_id", id)
	return nil
}

// shouldRetryJob adapts the package's ShouldRetry to the error taxonomy:
// only a *fujierr.Error whose Kind is retryable gets another attempt; an
// unclassified cause is treated as terminal.
func shouldRetryJob(job Job, cause error) bool {
	retryable := fujierr.Retryable(cause)
	return ShouldRetry(job.Attempt, job.MaxAttempts, retryable)
}

// ReapExpiredLeases fails active jobs whose lease deadline has passed
// without a Complete/Fail call, covering a worker crash mid-job. Each is
// failed with a retryable job timeout, so it moves to the delayed set with
// backoff, or to the failed set once its attempts are exhausted.
func (q *Queue) ReapExpiredLeases(ctx context.Context) (int, error) {
	now := float64(time.Now().Unix())
	ids, err := q.rdb().ZRangeByScore(ctx, keyActive, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil {
		return 0, fujierr.New(fujierr.KindQueueUnavailable, "queue.ReapExpiredLeases", err, nil)
	}
	for _, id := range ids {
		if err := q.Fail(ctx, id, fujierr.New(fujierr.KindJobTimeout, "queue.ReapExpiredLeases", fmt.Errorf("lease expired"), nil)); err != nil {
			logger.Warn("failed to reap expired lease", "job_id", id, "error", err)
		}
	}
	return len(ids), nil
}

// CancelWaitingAndDelayed removes every waiting/delayed job for which
// match returns true, used by the Scheduler to drop jobs targeting a
// deleted Location. Active jobs are left alone; they must tolerate the
// target disappearing by completing as a no-op.
func (q *Queue) CancelWaitingAndDelayed(ctx context.Context, match func(Job) bool) (int, error) {
	cancelled := 0
	for _, key := range []string{keyWaiting, keyDelayed} {
		ids, err := q.rdb().ZRange(ctx, key, 0, -1).Result()
		if err != nil {
			return cancelled, fujierr.New(fujierr.KindQueueUnavailable, "queue.CancelWaitingAndDelayed", err, nil)
		}
		for _, id := range ids {
			job, err := q.loadJob(ctx, id)
			if err != nil {
				continue
			}
			if !match(job) {
				continue
			}
			pipe := q.rdb().TxPipeline()
			pipe.ZRem(ctx, key, id)
			pipe.Del(ctx, keyJobHF+id)
			if job.IdempotencyKey != "" {
				pipe.Del(ctx, keyIdemF+job.IdempotencyKey)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				logger.Warn("failed to cancel job", "job_id", id, "error", err)
				continue
			}
			cancelled++
		}
	}
	return cancelled, nil
}

// Stats summarizes queue depth by state plus the most recent failures,
// the Worker Pool's heartbeat payload.
type Stats struct {
	Waiting      int64
	Delayed      int64
	Active       int64
	Failed       int64
	RecentFailed []Job
}

// Stats reports current queue depth and the five most recently failed jobs.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.rdb().TxPipeline()
	waitingCmd := pipe.ZCard(ctx, keyWaiting)
	delayedCmd := pipe.ZCard(ctx, keyDelayed)
	activeCmd := pipe.ZCard(ctx, keyActive)
	failedCmd := pipe.ZCard(ctx, keyFailed)
	recentCmd := pipe.ZRevRange(ctx, keyFailed, 0, 4)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fujierr.New(fujierr.KindQueueUnavailable, "queue.Stats", err, nil)
	}

	stats := Stats{
		Waiting: waitingCmd.Val(),
		Delayed: delayedCmd.Val(),
		Active:  activeCmd.Val(),
		Failed:  failedCmd.Val(),
	}
	for _, id := range recentCmd.Val() {
		if job, err := q.loadJob(ctx, id); err == nil {
			stats.RecentFailed = append(stats.RecentFailed, job)
		}
	}
	return stats, nil
}

// Cleanup drops failed-job records older than retention from the failed
// index and its hash, keeping the queue's Redis footprint bounded.
func (q *Queue) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := float64(time.Now().Add(-retention).Unix())
	ids, err := q.rdb().ZRangeByScore(ctx, keyFailed, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", cutoff)}).Result()
	if err != nil {
		return 0, fujierr.New(fujierr.KindQueueUnavailable, "queue.Cleanup", err, nil)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	pipe := q.rdb().TxPipeline()
	pipe.ZRem(ctx, keyFailed, toInterfaceSlice(ids)...)
	for _, id := range ids {
		pipe.Del(ctx, keyJobHF+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fujierr.New(fujierr.KindQueueUnavailable, "queue.Cleanup", err, nil)
	}
	return len(ids), nil
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func (q *Queue) clearIdempotency(ctx context.Context, id string) {
	key, err := q.rdb().HGet(ctx, keyJobHF+id, "idempotency_key").Result()
	if err != nil || key == "" {
		return
	}
	q.rdb().Del(ctx, keyIdemF+key)
}

func jobHashFields(job Job) map[string]interface{} {
	return map[string]interface{}{
		"idempotency_key": job.IdempotencyKey,
		"kind":            string(job.Kind),
		"payload":         string(job.Payload),
		"priority":        fmt.Sprintf("%d", job.Priority),
		"attempt":         job.Attempt,
		"max_attempts":    job.MaxAttempts,
		"state":           string(job.State),
		"last_error":      job.LastError,
		"not_before":      job.NotBefore.Format(time.RFC3339Nano),
		"created_at":      job.CreatedAt.Format(time.RFC3339Nano),
	}
}

func (q *Queue) loadJob(ctx context.Context, id string) (Job, error) {
	raw, err := q.rdb().HGetAll(ctx, keyJobHF+id).Result()
	if err != nil {
		return Job{}, fujierr.New(fujierr.KindQueueUnavailable, "queue.loadJob", err, map[string]interface{}{"job_id": id})
	}
	if len(raw) == 0 {
		return Job{}, fujierr.New(fujierr.KindQueueUnavailable, "queue.loadJob", fmt.Errorf("job %s not found", id), nil)
	}

	job := Job{
		ID:             id,
		IdempotencyKey: raw["idempotency_key"],
		Kind:           Kind(raw["kind"]),
		Payload:        json.RawMessage(raw["payload"]),
		State:          State(raw["state"]),
		LastError:      raw["last_error"],
	}
	fmt.Sscanf(raw["priority"], "%d", (*int)(&job.Priority))
	fmt.Sscanf(raw["attempt"], "%d", &job.Attempt)
	fmt.Sscanf(raw["max_attempts"], "%d", &job.MaxAttempts)
	if t, err := time.Parse(time.RFC3339Nano, raw["not_before"]); err == nil {
		job.NotBefore = t
	}
	if t, err := time.Parse(time.RFC3339Nano, raw["created_at"]); err == nil {
		job.CreatedAt = t
	}
	if s := raw["started_at"]; s != "" {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			job.StartedAt = &t
		}
	}
	if s := raw["finished_at"]; s != "" {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			job.FinishedAt = &t
		}
	}
	return job, nil
}
