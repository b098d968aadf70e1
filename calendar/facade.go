// Package calendar implements the read-side query facade: views over the
// Event Store joined with Location, with no business logic beyond join,
// sort, paginate and JST-date bucketing.
package calendar

import (
	"context"
	"sort"
	"time"

	"github.com/fujialign/fujialign/cache"
	"github.com/fujialign/fujialign/fujierr"
	"github.com/fujialign/fujialign/log"
	"github.com/fujialign/fujialign/settings"
	"github.com/fujialign/fujialign/store"
)

var logger = log.Logger()

// EventStore is the slice of the Event repository the facade reads from.
type EventStore interface {
	ByMonthRange(ctx context.Context, from, to time.Time) ([]store.Event, error)
	ByDate(ctx context.Context, date time.Time) ([]store.Event, error)
	Upcoming(ctx context.Context, nowJST time.Time, limit int) ([]store.Event, error)
	ByLocationYear(ctx context.Context, locationID int64, year int) ([]store.Event, error)
	YearlyStats(ctx context.Context, year int) (store.YearlyStats, error)
}

// LocationStore is the slice of the Location repository the facade joins
// against.
type LocationStore interface {
	Get(ctx context.Context, id int64) (store.Location, error)
	List(ctx context.Context) ([]store.Location, error)
}

// SettingsSource yields the settings snapshot the staleness gate reads
// observer_eye_height_m from. *settings.Store is the production
// implementation; nil falls back to the built-in defaults.
type SettingsSource interface {
	Snapshot(ctx context.Context) (settings.Snapshot, error)
}

// StaleNotifier receives Locations a read refused because their derived
// geometry no longer matches their base fields, so the Scheduler can
// re-derive and re-enqueue. *scheduler.Scheduler satisfies it.
type StaleNotifier interface {
	OnStaleGeometry(ctx context.Context, locationID int64) error
}

// Facade is a thin read layer over the Event and Location repositories.
// Cache is optional: nil disables the read-through cache entirely, which
// keeps the zero-value Facade usable in tests with no Redis available.
// Settings and Stale are likewise optional: without them the staleness
// gate runs against default settings and refused rows are only logged.
type Facade struct {
	Locations LocationStore
	Events    EventStore
	Cache     *cache.CalendarCache
	Settings  SettingsSource
	Stale     StaleNotifier
}

// New builds a Facade. calendarCache may be nil to run without the
// read-through cache.
func New(locations LocationStore, events EventStore, calendarCache *cache.CalendarCache) *Facade {
	return &Facade{Locations: locations, Events: events, Cache: calendarCache}
}

// Event is one Event Store row joined with its owning Location, the
// shape every per-event read path returns.
type Event struct {
	store.Event
	Location store.Location
}

// Day is one calendar cell: a civil date plus whatever events landed on
// it (possibly none, for days outside the requested month included only
// to fill out the grid).
type Day struct {
	Date         time.Time
	KindsPresent []store.EventKind
	Events       []Event
}

// MonthlyCalendar is the monthly_calendar(year, month) response: a full
// calendar grid from the first Sunday on/before the 1st to the last
// Saturday on/after the month's last day.
type MonthlyCalendar struct {
	Year  int
	Month time.Month
	Days  []Day
}

// MonthlyCalendar implements monthly_calendar(year, month).
func (f *Facade) MonthlyCalendar(ctx context.Context, year int, month time.Month) (MonthlyCalendar, error) {
	key := cache.CalendarMonthKey(year, month)
	if f.Cache != nil {
		var cached MonthlyCalendar
		if hit, err := f.Cache.Get(ctx, key, &cached); err != nil {
			logger.Warn("calendar cache read failed, falling back to store", "key", key, "error", err)
		} else if hit {
			return cached, nil
		}
	}

	gridStart, gridEnd := gridBounds(year, month)

	rows, err := f.Events.ByMonthRange(ctx, gridStart, gridEnd)
	if err != nil {
		return MonthlyCalendar{}, err
	}
	events, err := f.joinLocations(ctx, rows)
	if err != nil {
		return MonthlyCalendar{}, err
	}
	byDate := groupByDate(events)

	var days []Day
	for d := gridStart; !d.After(gridEnd); d = d.AddDate(0, 0, 1) {
		dayEvents := byDate[d.Format("2006-01-02")]
		days = append(days, Day{
			Date:         d,
			KindsPresent: kindsPresent(dayEvents),
			Events:       dayEvents,
		})
	}

	result := MonthlyCalendar{Year: year, Month: month, Days: days}
	if f.Cache != nil {
		if err := f.Cache.Set(ctx, key, result); err != nil {
			logger.Warn("calendar cache write failed", "key", key, "error", err)
		}
	}
	return result, nil
}

// DayEvents implements day_events(date): every event on date, ascending
// by time, joined with its Location.
func (f *Facade) DayEvents(ctx context.Context, date time.Time) ([]Event, error) {
	civilDate := store.CivilDateAt(date.Year(), date.Month(), date.Day())
	rows, err := f.Events.ByDate(ctx, civilDate)
	if err != nil {
		return nil, err
	}
	events, err := f.joinLocations(ctx, rows)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].EventTime.Before(events[j].EventTime) })
	return events, nil
}

// Upcoming implements upcoming(limit): events with event_time >= now in
// JST, joined with their Locations.
func (f *Facade) Upcoming(ctx context.Context, limit int) ([]Event, error) {
	rows, err := f.Events.Upcoming(ctx, store.NowJST(), limit)
	if err != nil {
		return nil, err
	}
	return f.joinLocations(ctx, rows)
}

// LocationYear implements location_year(location_id, year).
func (f *Facade) LocationYear(ctx context.Context, locationID int64, year int) ([]Event, error) {
	key := cache.CalendarLocationYearKey(locationID, year)
	if f.Cache != nil {
		var cached []Event
		if hit, err := f.Cache.Get(ctx, key, &cached); err != nil {
			logger.Warn("calendar cache read failed, falling back to store", "key", key, "error", err)
		} else if hit {
			return cached, nil
		}
	}

	loc, err := f.Locations.Get(ctx, locationID)
	if err != nil {
		return nil, err
	}
	if locationStale(loc, f.eyeHeight(ctx)) {
		f.reportStale(ctx, loc.ID)
		return nil, fujierr.New(fujierr.KindStaleDerivedGeometry, "calendar.LocationYear", nil, map[string]interface{}{
			"location_id": loc.ID,
		})
	}
	rows, err := f.Events.ByLocationYear(ctx, locationID, year)
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(rows))
	for _, e := range rows {
		events = append(events, Event{Event: e, Location: loc})
	}

	if f.Cache != nil {
		if err := f.Cache.Set(ctx, key, events); err != nil {
			logger.Warn("calendar cache write failed", "key", key, "error", err)
		}
	}
	return events, nil
}

// YearlyStats implements yearly_stats(year).
func (f *Facade) YearlyStats(ctx context.Context, year int) (store.YearlyStats, error) {
	return f.Events.YearlyStats(ctx, year)
}

// joinLocations attaches each event's Location row, loading the location
// set once per call. An event whose Location has vanished (deleted
// between the event read and the join) is dropped from the view rather
// than returned half-populated, and an event whose Location carries a
// stale derived triple is refused the same way — the row must not serve
// queries until the Scheduler has reconciled it.
func (f *Facade) joinLocations(ctx context.Context, rows []store.Event) ([]Event, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	locations, err := f.Locations.List(ctx)
	if err != nil {
		return nil, err
	}
	eye := f.eyeHeight(ctx)
	byID := make(map[int64]store.Location, len(locations))
	for _, l := range locations {
		if locationStale(l, eye) {
			f.reportStale(ctx, l.ID)
			continue
		}
		byID[l.ID] = l
	}

	out := make([]Event, 0, len(rows))
	for _, e := range rows {
		loc, ok := byID[e.LocationID]
		if !ok {
			logger.Warn("event references a missing or stale location, dropping from view", "event_id", e.ID, "location_id", e.LocationID)
			continue
		}
		out = append(out, Event{Event: e, Location: loc})
	}
	return out, nil
}

// eyeHeight resolves observer_eye_height_m from Runtime Settings, falling
// back to the built-in default when no source is wired or the read fails.
func (f *Facade) eyeHeight(ctx context.Context) float64 {
	if f.Settings != nil {
		if snap, err := f.Settings.Snapshot(ctx); err == nil {
			return snap.ObserverEyeHeightM
		}
	}
	return settings.DefaultSnapshot().ObserverEyeHeightM
}

// locationStale reports whether l's stored derived triple could not have
// been produced by its stored base fields, recomputed with the current
// observer eye height.
func locationStale(l store.Location, eyeHeightM float64) bool {
	geo, err := store.DeriveGeometry(l.Latitude, l.Longitude, l.Elevation, eyeHeightM)
	if err != nil {
		return true
	}
	return l.GeometryStale(geo.BearingDeg, geo.ApparentElevationDeg, geo.DistanceM)
}

// reportStale hands a refused Location to the Scheduler for re-derivation
// and re-enqueue. The read itself never fails on the notification.
func (f *Facade) reportStale(ctx context.Context, locationID int64) {
	logger.Warn("refusing location with stale derived geometry", "location_id", locationID)
	if f.Stale == nil {
		return
	}
	if err := f.Stale.OnStaleGeometry(ctx, locationID); err != nil {
		logger.Warn("stale-geometry notification failed", "location_id", locationID, "error", err)
	}
}

// gridBounds returns the calendar grid for (year, month): the first
// Sunday on/before the 1st through the last Saturday on/after the last
// day of the month.
func gridBounds(year int, month time.Month) (start, end time.Time) {
	firstOfMonth := store.CivilDateAt(year, month, 1)
	lastOfMonth := firstOfMonth.AddDate(0, 1, -1)

	start = firstOfMonth
	for start.Weekday() != time.Sunday {
		start = start.AddDate(0, 0, -1)
	}
	end = lastOfMonth
	for end.Weekday() != time.Saturday {
		end = end.AddDate(0, 0, 1)
	}
	return start, end
}

func groupByDate(events []Event) map[string][]Event {
	byDate := make(map[string][]Event)
	for _, e := range events {
		key := e.EventDate.Format("2006-01-02")
		byDate[key] = append(byDate[key], e)
	}
	for key := range byDate {
		day := byDate[key]
		sort.Slice(day, func(i, j int) bool { return day[i].EventTime.Before(day[j].EventTime) })
		byDate[key] = day
	}
	return byDate
}

func kindsPresent(events []Event) []store.EventKind {
	seen := make(map[store.EventKind]bool)
	var kinds []store.EventKind
	for _, e := range events {
		if !seen[e.Kind] {
			seen[e.Kind] = true
			kinds = append(kinds, e.Kind)
		}
	}
	return kinds
}
