// Package worker implements the Worker Pool: it leases jobs from the Job
// Queue, dispatches them to per-kind handlers built on the Alignment
// Finder and Event Store, and reports progress/heartbeats for
// observability.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fujialign/fujialign/alignment"
	"github.com/fujialign/fujialign/cache"
	"github.com/fujialign/fujialign/fujierr"
	"github.com/fujialign/fujialign/log"
	"github.com/fujialign/fujialign/queue"
	"github.com/fujialign/fujialign/settings"
	"github.com/fujialign/fujialign/store"
)

var logger = log.Logger()

// Handlers wires the Event Store and Runtime Settings into the three job
// kinds the queue carries. Cache is optional: nil skips calendar-cache
// invalidation entirely, which keeps Handlers usable in tests with no
// Redis available.
type Handlers struct {
	Locations *store.LocationRepo
	Events    *store.EventRepo
	Settings  SettingsSource
	Cache     *cache.CalendarCache
}

// Dispatch routes a leased Job to its kind handler, unmarshalling the
// payload first.
func (h *Handlers) Dispatch(ctx context.Context, job queue.Job) error {
	switch job.Kind {
	case queue.KindLocationRange:
		var p queue.LocationRangePayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fujierr.New(fujierr.KindInvalidInput, "worker.Dispatch", err, nil)
		}
		return h.LocationRange(ctx, p)
	case queue.KindMonthlyRange:
		var p queue.MonthlyRangePayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fujierr.New(fujierr.KindInvalidInput, "worker.Dispatch", err, nil)
		}
		return h.MonthlyRange(ctx, p)
	case queue.KindDaily:
		var p queue.DailyPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fujierr.New(fujierr.KindInvalidInput, "worker.Dispatch", err, nil)
		}
		return h.Daily(ctx, p)
	default:
		return fujierr.New(fujierr.KindInvalidInput, "worker.Dispatch", nil, map[string]interface{}{"kind": string(job.Kind)})
	}
}

// LocationRange implements location-range(L, y1..y2): every civil year in
// the span, paced by processing_delay_ms between years.
func (h *Handlers) LocationRange(ctx context.Context, p queue.LocationRangePayload) error {
	loc, err := h.loadReconciledLocation(ctx, p.LocationID)
	if err != nil {
		if fujierr.Is(err, fujierr.KindInvalidInput) {
			logger.Info("location-range target missing, treating as no-op", "location_id", p.LocationID)
			return nil
		}
		return err
	}

	snap, err := h.Settings.Snapshot(ctx)
	if err != nil {
		return err
	}
	for year := p.YearFrom; year <= p.YearTo; year++ {
		if err := h.processYear(ctx, loc, year, snap); err != nil {
			return err
		}
		if year != p.YearTo {
			sleepCtx(ctx, time.Duration(snap.ProcessingDelayMs)*time.Millisecond)
		}
	}
	return nil
}

// MonthlyRange implements monthly-range(L, y, m).
func (h *Handlers) MonthlyRange(ctx context.Context, p queue.MonthlyRangePayload) error {
	loc, err := h.loadReconciledLocation(ctx, p.LocationID)
	if err != nil {
		if fujierr.Is(err, fujierr.KindInvalidInput) {
			logger.Info("monthly-range target missing, treating as no-op", "location_id", p.LocationID)
			return nil
		}
		return err
	}
	snap, err := h.Settings.Snapshot(ctx)
	if err != nil {
		return err
	}
	return h.processMonth(ctx, loc, p.Year, time.Month(p.Month), snap)
}

// Daily implements daily(L, d).
func (h *Handlers) Daily(ctx context.Context, p queue.DailyPayload) error {
	loc, err := h.loadReconciledLocation(ctx, p.LocationID)
	if err != nil {
		if fujierr.Is(err, fujierr.KindInvalidInput) {
			logger.Info("daily target missing, treating as no-op", "location_id", p.LocationID)
			return nil
		}
		return err
	}
	snap, err := h.Settings.Snapshot(ctx)
	if err != nil {
		return err
	}
	return h.processDay(ctx, loc, p.Date, snap)
}

func (h *Handlers) loadReconciledLocation(ctx context.Context, locationID int64) (store.Location, error) {
	loc, err := h.Locations.Get(ctx, locationID)
	if err != nil {
		return store.Location{}, err
	}
	snap, err := h.Settings.Snapshot(ctx)
	if err != nil {
		return store.Location{}, err
	}
	if h.Locations.IsStale(loc, snap.ObserverEyeHeightM) {
		logger.Warn("reconciling stale derived geometry before processing", "location_id", locationID)
		return h.Locations.Reconcile(ctx, locationID, snap.ObserverEyeHeightM)
	}
	return loc, nil
}

func (h *Handlers) processYear(ctx context.Context, loc store.Location, year int, snap settings.Snapshot) error {
	start := store.CivilDateAt(year, time.January, 1)
	end := store.CivilDateAt(year, time.December, 31)
	totalDays := daysBetweenInclusive(start, end)
	progressEvery := totalDays / 100
	if progressEvery == 0 {
		progressEvery = 1
	}

	day := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if err := h.processDay(ctx, loc, d, snap); err != nil {
			return err
		}
		day++
		if day%progressEvery == 0 {
			logger.Info("location-range progress", "location_id", loc.ID, "year", year, "percent", 100*day/totalDays)
		}
	}
	return nil
}

func (h *Handlers) processMonth(ctx context.Context, loc store.Location, year int, month time.Month, snap settings.Snapshot) error {
	start := store.CivilDateAt(year, month, 1)
	end := start.AddDate(0, 1, -1)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if err := h.processDay(ctx, loc, d, snap); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handlers) processDay(ctx context.Context, loc store.Location, date time.Time, snap settings.Snapshot) error {
	dateJST := store.CivilDateAt(date.Year(), date.Month(), date.Day())
	events, err := alignment.FindDay(ctx, loc, dateJST, snap)
	if err != nil {
		return err
	}
	for i := range events {
		events[i].CalculationYear = date.Year()
	}
	if err := h.Events.ReplaceDay(ctx, loc.ID, dateJST, events); err != nil {
		return err
	}
	h.invalidateCalendarCache(ctx, loc.ID, dateJST)
	return nil
}

// invalidateCalendarCache drops the monthly-calendar and location-year
// views that cover date: an event write invalidates every cached view
// derived from the affected (year, month) or (location, year). The
// monthly grid can pad into the adjacent civil month, so both neighbors
// are cleared alongside the date's own month.
func (h *Handlers) invalidateCalendarCache(ctx context.Context, locationID int64, dateJST time.Time) {
	if h.Cache == nil {
		return
	}
	monthStart := store.CivilDateAt(dateJST.Year(), dateJST.Month(), 1)
	for _, m := range []time.Time{monthStart.AddDate(0, -1, 0), monthStart, monthStart.AddDate(0, 1, 0)} {
		key := cache.CalendarMonthKey(m.Year(), m.Month())
		if err := h.Cache.InvalidatePrefix(ctx, key); err != nil {
			logger.Warn("failed to invalidate calendar cache", "key", key, "error", err)
		}
	}
	locYearKey := cache.CalendarLocationYearKey(locationID, dateJST.Year())
	if err := h.Cache.InvalidatePrefix(ctx, locYearKey); err != nil {
		logger.Warn("failed to invalidate calendar cache", "key", locYearKey, "error", err)
	}
}

func daysBetweenInclusive(start, end time.Time) int {
	return int(end.Sub(start).Hours()/24) + 1
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
