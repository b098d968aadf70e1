package scheduler

import (
	"context"

	"github.com/fujialign/fujialign/cache"
	"github.com/fujialign/fujialign/queue"
	"github.com/fujialign/fujialign/settings"
	"github.com/fujialign/fujialign/store"
)

// invalidateLocationCache drops every cached calendar view derived from
// locationID, across all years: a Location mutation invalidates its
// Event rows and every cache built on them.
func (s *Scheduler) invalidateLocationCache(ctx context.Context, locationID int64) {
	if s.calendarCache == nil {
		return
	}
	prefix := cache.CalendarLocationPrefix(locationID)
	if err := s.calendarCache.InvalidatePrefix(ctx, prefix); err != nil {
		logger.Warn("failed to invalidate location calendar cache", "location_id", locationID, "error", err)
	}
}

// OnLocationCreated is the "Location created" trigger: enqueue a
// medium-priority location-range covering the current and next two
// civil years.
func (s *Scheduler) OnLocationCreated(ctx context.Context, locationID int64) error {
	year := store.NowJST().Year()
	job, err := queue.NewLocationRangeJob(locationID, year, year+yearSpan, queue.PriorityNormal)
	if err != nil {
		return err
	}
	_, err = s.enqueue(ctx, job)
	if err != nil {
		return err
	}
	logger.Info("scheduled location-range for new location", "location_id", locationID, "year_from", year, "year_to", year+yearSpan)
	return nil
}

// OnLocationUpdated is the "Location updated" trigger. Callers pass
// geometryChanged from store.LocationRepo.Update's GeometryUpdate; when
// false (a non-geodetic field like name/access_notes changed) no
// recompute is needed and this is a no-op.
func (s *Scheduler) OnLocationUpdated(ctx context.Context, locationID int64, geometryChanged bool) error {
	if !geometryChanged {
		return nil
	}

	if err := s.events.DeleteByLocation(ctx, locationID); err != nil {
		return err
	}
	s.invalidateLocationCache(ctx, locationID)

	year := store.NowJST().Year()
	job, err := queue.NewLocationRangeJob(locationID, year, year+yearSpan, queue.PriorityHigh)
	if err != nil {
		return err
	}
	if _, err := s.enqueue(ctx, job); err != nil {
		return err
	}
	logger.Info("recomputing location after geometry change", "location_id", locationID)
	return nil
}

// OnLocationDeleted is the "Location deleted" trigger: Event rows cascade
// via the locations FK, and any waiting/delayed job still targeting this
// location is cancelled. An active job for the location is left to
// finish and discovers the missing row as a handled no-op.
func (s *Scheduler) OnLocationDeleted(ctx context.Context, locationID int64) error {
	cancelled, err := s.queue.CancelWaitingAndDelayed(ctx, func(j queue.Job) bool {
		id, ok := j.LocationID()
		return ok && id == locationID
	})
	if err != nil {
		return err
	}
	s.invalidateLocationCache(ctx, locationID)
	logger.Info("cancelled queued jobs for deleted location", "location_id", locationID, "cancelled", cancelled)
	return nil
}

// OnStaleGeometry is the StaleDerivedGeometry recovery trigger: a read
// that refused a Location whose derived triple no longer matches its base
// fields reports it here. The triple is re-derived in place and a
// high-priority recompute enqueued, since any events produced from the
// stale triple are suspect.
func (s *Scheduler) OnStaleGeometry(ctx context.Context, locationID int64) error {
	eye := settings.DefaultSnapshot().ObserverEyeHeightM
	if snap, err := s.settings.Snapshot(ctx); err == nil {
		eye = snap.ObserverEyeHeightM
	}
	if _, err := s.locations.Reconcile(ctx, locationID, eye); err != nil {
		return err
	}
	s.invalidateLocationCache(ctx, locationID)

	year := store.NowJST().Year()
	job, err := queue.NewLocationRangeJob(locationID, year, year+yearSpan, queue.PriorityHigh)
	if err != nil {
		return err
	}
	if _, err := s.enqueue(ctx, job); err != nil {
		return err
	}
	logger.Info("re-derived stale geometry and scheduled recompute", "location_id", locationID)
	return nil
}

// ManualTrigger is the admin-initiated recompute: always high priority,
// spanning the requested year range.
func (s *Scheduler) ManualTrigger(ctx context.Context, locationID int64, yearFrom, yearTo int) (string, error) {
	job, err := queue.NewLocationRangeJob(locationID, yearFrom, yearTo, queue.PriorityHigh)
	if err != nil {
		return "", err
	}
	return s.enqueue(ctx, job)
}

// RegenerateAll fans out one location-range job per Location over
// [yearFrom, yearTo]. Idempotency keys collapse re-triggers while the
// previous fan-out is still draining, so the count returned is jobs
// enqueued-or-collapsed, not necessarily fresh work.
func (s *Scheduler) RegenerateAll(ctx context.Context, yearFrom, yearTo int) (int, error) {
	locations, err := s.locations.List(ctx)
	if err != nil {
		return 0, err
	}
	enqueued := 0
	for _, loc := range locations {
		job, err := queue.NewLocationRangeJob(loc.ID, yearFrom, yearTo, queue.PriorityNormal)
		if err != nil {
			logger.Warn("regenerate-all: failed to build job", "location_id", loc.ID, "error", err)
			continue
		}
		if _, err := s.enqueue(ctx, job); err != nil {
			return enqueued, err
		}
		enqueued++
	}
	logger.Info("regenerate-all fanned out", "locations", enqueued, "year_from", yearFrom, "year_to", yearTo)
	return enqueued, nil
}
