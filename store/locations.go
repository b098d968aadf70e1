package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fujialign/fujialign/astronomy"
	"github.com/fujialign/fujialign/fujierr"
)

// Geometry is the derived (bearing, apparent elevation, distance) triple
// toward the Fuji summit for a given base geodetic position.
type Geometry struct {
	BearingDeg           float64
	ApparentElevationDeg float64
	DistanceM            float64
}

// DeriveGeometry computes the derived triple from base fields, the single
// place every repository write and reconciliation path calls through so
// the derived-triple consistency invariant has one implementation.
func DeriveGeometry(lat, lon, elev, eyeHeightM float64) (Geometry, error) {
	obs := astronomy.Observer{Lat: lat, Lon: lon, Elev: elev}
	return Geometry{
		BearingDeg:           astronomy.BearingToFuji(obs),
		ApparentElevationDeg: astronomy.ApparentElevationToFujiDeg(obs, eyeHeightM),
		DistanceM:            astronomy.DistanceToFujiKm(obs) * 1000,
	}, nil
}

// LocationRepo persists Location rows.
type LocationRepo struct {
	db *DB
}

func NewLocationRepo(db *DB) *LocationRepo { return &LocationRepo{db: db} }

// Create inserts a Location, deriving its Fuji geometry from the supplied
// base fields before the row is ever visible to readers.
func (r *LocationRepo) Create(ctx context.Context, l Location, eyeHeightM float64) (Location, error) {
	geo, err := DeriveGeometry(l.Latitude, l.Longitude, l.Elevation, eyeHeightM)
	if err != nil {
		return Location{}, err
	}
	l.FujiBearingDeg, l.FujiApparentElevationDeg, l.FujiDistanceM = geo.BearingDeg, geo.ApparentElevationDeg, geo.DistanceM

	row := r.db.Pool.QueryRow(ctx, `
		INSERT INTO locations (name, prefecture, latitude, longitude, elevation, access_notes,
			fuji_bearing_deg, fuji_apparent_elevation_deg, fuji_distance_m)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id, created_at, updated_at
	`, l.Name, l.Prefecture, l.Latitude, l.Longitude, l.Elevation, l.AccessNotes,
		l.FujiBearingDeg, l.FujiApparentElevationDeg, l.FujiDistanceM)

	if err := row.Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return Location{}, fujierr.New(fujierr.KindStorageTransient, "store.Locations.Create", err, nil)
	}
	return l, nil
}

// GeometryUpdate is returned by Update to tell callers (the Scheduler)
// whether the geodetic inputs actually moved and a recompute is due.
type GeometryUpdate struct {
	GeometryChanged bool
}

// Update replaces a Location's mutable fields. If lat/lon/elev changed
// relative to the stored row, the derived geometry is recomputed and
// GeometryChanged is reported so the Scheduler can purge and re-enqueue.
func (r *LocationRepo) Update(ctx context.Context, l Location, eyeHeightM float64) (Location, GeometryUpdate, error) {
	existing, err := r.Get(ctx, l.ID)
	if err != nil {
		return Location{}, GeometryUpdate{}, err
	}

	geometryChanged := existing.Latitude != l.Latitude || existing.Longitude != l.Longitude || existing.Elevation != l.Elevation

	if geometryChanged {
		geo, err := DeriveGeometry(l.Latitude, l.Longitude, l.Elevation, eyeHeightM)
		if err != nil {
			return Location{}, GeometryUpdate{}, err
		}
		l.FujiBearingDeg, l.FujiApparentElevationDeg, l.FujiDistanceM = geo.BearingDeg, geo.ApparentElevationDeg, geo.DistanceM
	} else {
		l.FujiBearingDeg, l.FujiApparentElevationDeg, l.FujiDistanceM =
			existing.FujiBearingDeg, existing.FujiApparentElevationDeg, existing.FujiDistanceM
	}

	row := r.db.Pool.QueryRow(ctx, `
		UPDATE locations SET
			name=$2, prefecture=$3, latitude=$4, longitude=$5, elevation=$6, access_notes=$7,
			fuji_bearing_deg=$8, fuji_apparent_elevation_deg=$9, fuji_distance_m=$10, updated_at=NOW()
		WHERE id=$1
		RETURNING updated_at
	`, l.ID, l.Name, l.Prefecture, l.Latitude, l.Longitude, l.Elevation, l.AccessNotes,
		l.FujiBearingDeg, l.FujiApparentElevationDeg, l.FujiDistanceM)

	if err := row.Scan(&l.UpdatedAt); err != nil {
		return Location{}, GeometryUpdate{}, fujierr.New(fujierr.KindStorageTransient, "store.Locations.Update", err, nil)
	}
	l.CreatedAt = existing.CreatedAt
	return l, GeometryUpdate{GeometryChanged: geometryChanged}, nil
}

// Delete removes a Location; location_events cascade via the FK.
func (r *LocationRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM locations WHERE id=$1`, id)
	if err != nil {
		return fujierr.New(fujierr.KindStorageTransient, "store.Locations.Delete", err, nil)
	}
	return nil
}

// Get fetches one Location by id.
func (r *LocationRepo) Get(ctx context.Context, id int64) (Location, error) {
	row := r.db.Pool.QueryRow(ctx, locationSelect+` WHERE id=$1`, id)
	return scanLocation(row)
}

// List returns every Location, ordered by id.
func (r *LocationRepo) List(ctx context.Context) ([]Location, error) {
	rows, err := r.db.Pool.Query(ctx, locationSelect+` ORDER BY id`)
	if err != nil {
		return nil, fujierr.New(fujierr.KindStorageTransient, "store.Locations.List", err, nil)
	}
	defer rows.Close()

	var out []Location
	for rows.Next() {
		l, err := scanLocationRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Reconcile recomputes and persists a Location's derived geometry,
// implementing the StaleDerivedGeometry recovery path: the calendar
// facade's staleness gate refuses the row and reports it to the
// Scheduler, which calls this to repair it before re-enqueuing.
func (r *LocationRepo) Reconcile(ctx context.Context, id int64, eyeHeightM float64) (Location, error) {
	l, err := r.Get(ctx, id)
	if err != nil {
		return Location{}, err
	}
	geo, err := DeriveGeometry(l.Latitude, l.Longitude, l.Elevation, eyeHeightM)
	if err != nil {
		return Location{}, err
	}
	l.FujiBearingDeg, l.FujiApparentElevationDeg, l.FujiDistanceM = geo.BearingDeg, geo.ApparentElevationDeg, geo.DistanceM

	_, err = r.db.Pool.Exec(ctx, `
		UPDATE locations SET fuji_bearing_deg=$2, fuji_apparent_elevation_deg=$3, fuji_distance_m=$4, updated_at=NOW()
		WHERE id=$1
	`, l.ID, l.FujiBearingDeg, l.FujiApparentElevationDeg, l.FujiDistanceM)
	if err != nil {
		return Location{}, fujierr.New(fujierr.KindStorageTransient, "store.Locations.Reconcile", err, nil)
	}
	logger.Info("reconciled stale derived geometry", "location_id", id)
	return l, nil
}

// IsStale reports whether l's stored derived triple does not match a fresh
// recomputation from its own base fields, per the StaleDerivedGeometry
// error kind's detection rule.
func (r *LocationRepo) IsStale(l Location, eyeHeightM float64) bool {
	geo, err := DeriveGeometry(l.Latitude, l.Longitude, l.Elevation, eyeHeightM)
	if err != nil {
		return true
	}
	return l.GeometryStale(geo.BearingDeg, geo.ApparentElevationDeg, geo.DistanceM)
}

const locationSelect = `
	SELECT id, name, prefecture, latitude, longitude, elevation, COALESCE(access_notes, ''),
		fuji_bearing_deg, fuji_apparent_elevation_deg, fuji_distance_m, created_at, updated_at
	FROM locations`

func scanLocation(row pgx.Row) (Location, error) {
	var l Location
	err := row.Scan(&l.ID, &l.Name, &l.Prefecture, &l.Latitude, &l.Longitude, &l.Elevation, &l.AccessNotes,
		&l.FujiBearingDeg, &l.FujiApparentElevationDeg, &l.FujiDistanceM, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Location{}, fujierr.New(fujierr.KindInvalidInput, "store.Locations.Get", err, nil)
		}
		return Location{}, fujierr.New(fujierr.KindStorageTransient, "store.Locations.Get", err, nil)
	}
	return l, nil
}

func scanLocationRows(rows pgx.Rows) (Location, error) {
	var l Location
	err := rows.Scan(&l.ID, &l.Name, &l.Prefecture, &l.Latitude, &l.Longitude, &l.Elevation, &l.AccessNotes,
		&l.FujiBearingDeg, &l.FujiApparentElevationDeg, &l.FujiDistanceM, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return Location{}, fmt.Errorf("scan location row: %w", err)
	}
	return l, nil
}
