// Package admin is the operator surface exposed to the external HTTP
// layer: queue stats, concurrency control, failed-job cleanup,
// recomputation triggers and settings management. It owns no state of its
// own; every operation delegates to the Queue, Scheduler or Runtime
// Settings so the contract stays a thin composition over the components
// that do the work.
package admin

import (
	"context"
	"strconv"
	"time"

	"github.com/fujialign/fujialign/fujierr"
	"github.com/fujialign/fujialign/queue"
	"github.com/fujialign/fujialign/scheduler"
	"github.com/fujialign/fujialign/settings"
	"github.com/fujialign/fujialign/store"
)

// Operator bundles the components the admin contract reaches into.
type Operator struct {
	Queue     *queue.Queue
	Scheduler *scheduler.Scheduler
	Settings  *settings.Store
}

// QueueStats reports counts by state plus the most recent failures.
func (o *Operator) QueueStats(ctx context.Context) (queue.Stats, error) {
	return o.Queue.Stats(ctx)
}

// Concurrency returns the current worker_concurrency value.
func (o *Operator) Concurrency(ctx context.Context) (int, error) {
	snap, err := o.Settings.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return snap.WorkerConcurrency, nil
}

// SetConcurrency persists a new worker_concurrency, clamped to [1, 10].
// Running pools pick the change up through the settings broadcast without
// a restart.
func (o *Operator) SetConcurrency(ctx context.Context, n int) error {
	if n < 1 {
		n = 1
	}
	if n > 10 {
		n = 10
	}
	return o.Settings.Set(ctx, "worker_concurrency", strconv.Itoa(n))
}

// ClearFailedJobs drops failed jobs older than olderThanDays. Zero means
// every failed job.
func (o *Operator) ClearFailedJobs(ctx context.Context, olderThanDays int) (int, error) {
	if olderThanDays < 0 {
		return 0, fujierr.New(fujierr.KindInvalidInput, "admin.ClearFailedJobs", nil, map[string]interface{}{
			"reason": "negative retention", "older_than_days": olderThanDays,
		})
	}
	return o.Queue.Cleanup(ctx, time.Duration(olderThanDays)*24*time.Hour)
}

// TriggerRecomputation enqueues a high-priority location-range for one
// Location over [yearFrom, yearTo] and returns the job id.
func (o *Operator) TriggerRecomputation(ctx context.Context, locationID int64, yearFrom, yearTo int) (string, error) {
	if yearTo < yearFrom {
		return "", fujierr.New(fujierr.KindInvalidInput, "admin.TriggerRecomputation", nil, map[string]interface{}{
			"reason": "year_to before year_from", "year_from": yearFrom, "year_to": yearTo,
		})
	}
	return o.Scheduler.ManualTrigger(ctx, locationID, yearFrom, yearTo)
}

// RegenerateAll fans out location-range jobs for every Location over the
// given year range, returning how many were enqueued.
func (o *Operator) RegenerateAll(ctx context.Context, yearFrom, yearTo int) (int, error) {
	if yearTo < yearFrom {
		return 0, fujierr.New(fujierr.KindInvalidInput, "admin.RegenerateAll", nil, map[string]interface{}{
			"reason": "year_to before year_from", "year_from": yearFrom, "year_to": yearTo,
		})
	}
	return o.Scheduler.RegenerateAll(ctx, yearFrom, yearTo)
}

// GetSettings returns the persisted setting rows, uncached.
func (o *Operator) GetSettings(ctx context.Context) ([]store.SystemSetting, error) {
	return o.Settings.List(ctx)
}

// SetSetting writes one setting; non-editable keys are rejected by the
// repository. The write invalidates the snapshot cache everywhere.
func (o *Operator) SetSetting(ctx context.Context, key, value string) error {
	return o.Settings.Set(ctx, key, value)
}

// ClearSettingsCache flushes the snapshot cache in this and every other
// process.
func (o *Operator) ClearSettingsCache(ctx context.Context) {
	o.Settings.ClearCache(ctx)
}
