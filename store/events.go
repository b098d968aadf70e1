package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fujialign/fujialign/fujierr"
)

// EventRepo persists and queries location_events, the durable materialized
// table the Calendar Query Facade reads from.
type EventRepo struct {
	db *DB
}

func NewEventRepo(db *DB) *EventRepo { return &EventRepo{db: db} }

const eventSelect = `
	SELECT e.id, e.location_id, e.event_kind, e.event_date, e.event_time,
		e.celestial_azimuth_deg, e.celestial_altitude_deg,
		e.moon_phase, e.moon_illumination_fraction,
		e.quality_score, e.accuracy_tier, e.calculation_year, e.created_at, e.updated_at
	FROM location_events e`

func scanEventRows(rows pgx.Rows) (Event, error) {
	var e Event
	var kind, tier string
	err := rows.Scan(&e.ID, &e.LocationID, &kind, &e.EventDate, &e.EventTime,
		&e.CelestialAzimuthDeg, &e.CelestialAltitudeDeg,
		&e.MoonPhase, &e.MoonIlluminationFraction,
		&e.QualityScore, &tier, &e.CalculationYear, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return Event{}, err
	}
	e.Kind, e.AccuracyTier = EventKind(kind), AccuracyTier(tier)
	return e, nil
}

func collectEvents(rows pgx.Rows, op string) ([]Event, error) {
	defer rows.Close()
	var out []Event
	for rows.Next() {
		e, err := scanEventRows(rows)
		if err != nil {
			return nil, fujierr.New(fujierr.KindStorageTransient, op, err, nil)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fujierr.New(fujierr.KindStorageTransient, op, err, nil)
	}
	return out, nil
}

// ByMonthRange returns every event whose event_date falls in
// [from, to] (inclusive), joined implicitly by the Calendar Query Facade
// against Location; the store permits an arbitrary range so the facade
// can include the calendar grid's leading/trailing days of adjacent
// months.
func (r *EventRepo) ByMonthRange(ctx context.Context, from, to time.Time) ([]Event, error) {
	rows, err := r.db.Pool.Query(ctx, eventSelect+`
		WHERE e.event_date BETWEEN $1 AND $2
		ORDER BY e.event_date, e.event_time`, from, to)
	if err != nil {
		return nil, fujierr.New(fujierr.KindStorageTransient, "store.Events.ByMonthRange", err, nil)
	}
	return collectEvents(rows, "store.Events.ByMonthRange")
}

// ByDate returns all events on a single civil date, ascending by time.
func (r *EventRepo) ByDate(ctx context.Context, date time.Time) ([]Event, error) {
	rows, err := r.db.Pool.Query(ctx, eventSelect+`
		WHERE e.event_date = $1
		ORDER BY e.event_time ASC`, date)
	if err != nil {
		return nil, fujierr.New(fujierr.KindStorageTransient, "store.Events.ByDate", err, nil)
	}
	return collectEvents(rows, "store.Events.ByDate")
}

// Upcoming returns up to limit events with event_time >= nowJST, ascending.
func (r *EventRepo) Upcoming(ctx context.Context, nowJST time.Time, limit int) ([]Event, error) {
	rows, err := r.db.Pool.Query(ctx, eventSelect+`
		WHERE e.event_time >= $1
		ORDER BY e.event_time ASC
		LIMIT $2`, nowJST, limit)
	if err != nil {
		return nil, fujierr.New(fujierr.KindStorageTransient, "store.Events.Upcoming", err, nil)
	}
	return collectEvents(rows, "store.Events.Upcoming")
}

// ByLocationYear returns every event for one Location within a civil year.
func (r *EventRepo) ByLocationYear(ctx context.Context, locationID int64, year int) ([]Event, error) {
	from := CivilDateAt(year, time.January, 1)
	to := CivilDateAt(year, time.December, 31)
	rows, err := r.db.Pool.Query(ctx, eventSelect+`
		WHERE e.location_id = $1 AND e.event_date BETWEEN $2 AND $3
		ORDER BY e.event_date, e.event_time`, locationID, from, to)
	if err != nil {
		return nil, fujierr.New(fujierr.KindStorageTransient, "store.Events.ByLocationYear", err, nil)
	}
	return collectEvents(rows, "store.Events.ByLocationYear")
}

// YearlyStats is the aggregate shape returned by YearlyStats.
type YearlyStats struct {
	Total               int
	DiamondTotal        int
	PearlTotal          int
	ActiveLocationCount int
}

// YearlyStats returns event-kind-partitioned counts for one civil year.
func (r *EventRepo) YearlyStats(ctx context.Context, year int) (YearlyStats, error) {
	from := CivilDateAt(year, time.January, 1)
	to := CivilDateAt(year, time.December, 31)

	var stats YearlyStats
	row := r.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE event_kind IN ('diamond_sunrise', 'diamond_sunset')),
			COUNT(*) FILTER (WHERE event_kind IN ('pearl_moonrise', 'pearl_moonset')),
			COUNT(DISTINCT location_id)
		FROM location_events
		WHERE event_date BETWEEN $1 AND $2
	`, from, to)
	if err := row.Scan(&stats.Total, &stats.DiamondTotal, &stats.PearlTotal, &stats.ActiveLocationCount); err != nil {
		return YearlyStats{}, fujierr.New(fujierr.KindStorageTransient, "store.Events.YearlyStats", err, nil)
	}
	return stats, nil
}

// ReplaceDay atomically replaces the full set of events for
// (locationID, date) with newEvents, in a single transaction: the bulk
// write path workers use on job completion, satisfying "the worker MUST
// be able to re-run the same day and converge on the same stored set"
// and "read-side queries never see partially written day-sets."
func (r *EventRepo) ReplaceDay(ctx context.Context, locationID int64, date time.Time, newEvents []Event) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fujierr.New(fujierr.KindStorageTransient, "store.Events.ReplaceDay", err, nil)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM location_events WHERE location_id=$1 AND event_date=$2`, locationID, date); err != nil {
		return fujierr.New(fujierr.KindStorageTransient, "store.Events.ReplaceDay", err, nil)
	}

	for _, e := range newEvents {
		_, err := tx.Exec(ctx, `
			INSERT INTO location_events (location_id, event_kind, event_date, event_time,
				celestial_azimuth_deg, celestial_altitude_deg, moon_phase, moon_illumination_fraction,
				quality_score, accuracy_tier, calculation_year)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (location_id, event_date, event_time, event_kind) DO UPDATE SET
				celestial_azimuth_deg = EXCLUDED.celestial_azimuth_deg,
				celestial_altitude_deg = EXCLUDED.celestial_altitude_deg,
				moon_phase = EXCLUDED.moon_phase,
				moon_illumination_fraction = EXCLUDED.moon_illumination_fraction,
				quality_score = EXCLUDED.quality_score,
				accuracy_tier = EXCLUDED.accuracy_tier,
				calculation_year = EXCLUDED.calculation_year,
				updated_at = NOW()
		`, locationID, string(e.Kind), date, e.EventTime,
			e.CelestialAzimuthDeg, e.CelestialAltitudeDeg, e.MoonPhase, e.MoonIlluminationFraction,
			e.QualityScore, string(e.AccuracyTier), e.CalculationYear)
		if err != nil {
			return fujierr.New(fujierr.KindStorageTransient, "store.Events.ReplaceDay", err, nil)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fujierr.New(fujierr.KindStorageTransient, "store.Events.ReplaceDay", err, nil)
	}
	return nil
}

// DeleteByLocation removes every event for a Location, the purge the
// Scheduler runs before a geometry-change recompute. Location deletion
// itself relies on the FK cascade from Locations.Delete instead.
func (r *EventRepo) DeleteByLocation(ctx context.Context, locationID int64) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM location_events WHERE location_id=$1`, locationID)
	if err != nil {
		return fujierr.New(fujierr.KindStorageTransient, "store.Events.DeleteByLocation", err, nil)
	}
	return nil
}

// CountByLocation reports how many events exist for a location with an
// event_date in [from, to] (inclusive), used by the Scheduler's "no events
// in next_month" gate.
func (r *EventRepo) CountByLocation(ctx context.Context, locationID int64, from, to time.Time) (int, error) {
	var n int
	row := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM location_events WHERE location_id=$1 AND event_date BETWEEN $2 AND $3
	`, locationID, from, to)
	if err := row.Scan(&n); err != nil {
		return 0, fujierr.New(fujierr.KindStorageTransient, "store.Events.CountByLocation", err, nil)
	}
	return n, nil
}
