// Package scheduler implements the triggers that keep the rolling
// calculation window populated and the cascade rules that keep
// materialized Events consistent with Location mutations, built on
// robfig/cron/v3.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fujialign/fujialign/cache"
	"github.com/fujialign/fujialign/log"
	"github.com/fujialign/fujialign/queue"
	"github.com/fujialign/fujialign/settings"
	"github.com/fujialign/fujialign/store"
)

var logger = log.Logger()

// nightlySweepSpec runs the monthly-range gap-fill every day at 02:00
// JST.
const nightlySweepSpec = "0 2 * * *"

// yearSpan is how many civil years ahead a location-range job covers on
// location creation or geometry change.
const yearSpan = 2

// Scheduler owns the cron-driven nightly sweep and the event-driven
// cascade triggers fired by Location mutations.
type Scheduler struct {
	queue         *queue.Queue
	locations     *store.LocationRepo
	events        *store.EventRepo
	settings      *settings.Store
	calendarCache *cache.CalendarCache
	cron          *cron.Cron
}

// New builds a Scheduler whose cron jobs run against JST, matching the
// civil-date bucketing used throughout the alignment pipeline.
// calendarCache may be nil to run without invalidating a read-through
// calendar cache.
func New(q *queue.Queue, locations *store.LocationRepo, events *store.EventRepo, settingsStore *settings.Store, calendarCache *cache.CalendarCache) *Scheduler {
	return &Scheduler{
		queue:         q,
		locations:     locations,
		events:        events,
		settings:      settingsStore,
		calendarCache: calendarCache,
		cron:          cron.New(cron.WithLocation(store.JST)),
	}
}

// Start registers the nightly sweep and starts the cron scheduler. It
// does not block; call Stop to shut down cleanly.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(nightlySweepSpec, func() {
		if err := s.NightlySweep(ctx); err != nil {
			logger.Error("nightly sweep failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	logger.Info("scheduler started", "spec", nightlySweepSpec)
	return nil
}

// Stop waits for any in-progress cron invocation to finish, then returns.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

// NightlySweep is the "Daily at 02:00 JST" trigger: for each Location
// with no events in next month, enqueue a low-priority monthly-range job.
func (s *Scheduler) NightlySweep(ctx context.Context) error {
	locations, err := s.locations.List(ctx)
	if err != nil {
		return err
	}

	nextMonthStart, nextMonthEnd := nextMonthRange(store.NowJST())

	for _, loc := range locations {
		count, err := s.events.CountByLocation(ctx, loc.ID, nextMonthStart, nextMonthEnd)
		if err != nil {
			logger.Warn("nightly sweep: count check failed", "location_id", loc.ID, "error", err)
			continue
		}
		if count > 0 {
			continue
		}

		job, err := queue.NewMonthlyRangeJob(loc.ID, nextMonthStart.Year(), int(nextMonthStart.Month()), queue.PriorityLow)
		if err != nil {
			logger.Warn("nightly sweep: failed to build job", "location_id", loc.ID, "error", err)
			continue
		}
		if _, err := s.enqueue(ctx, job); err != nil {
			logger.Warn("nightly sweep: failed to enqueue", "location_id", loc.ID, "error", err)
			continue
		}
	}
	return nil
}

// enqueue pushes job onto the queue, first applying the job_delay_ms base
// delay from Runtime Settings to low/normal-priority work so routine
// refills yield to interactive high-priority recomputes.
func (s *Scheduler) enqueue(ctx context.Context, job queue.Job) (string, error) {
	if job.Priority != queue.PriorityHigh {
		if snap, err := s.settings.Snapshot(ctx); err == nil && snap.JobDelayMs > 0 {
			job.NotBefore = time.Now().Add(time.Duration(snap.JobDelayMs) * time.Millisecond)
		}
	}
	return s.queue.Enqueue(ctx, job)
}

// nextMonthRange returns the civil-month boundaries of the month after
// now, in JST.
func nextMonthRange(now time.Time) (start, end time.Time) {
	start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, store.JST).AddDate(0, 1, 0)
	end = start.AddDate(0, 1, -1)
	return start, end
}
