package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fujialign/fujialign/log"
)

var logger = log.Logger()

// DB wraps the shared pgx connection pool used by every repository in
// this package.
type DB struct {
	Pool *pgxpool.Pool
}

// Open dials Postgres and verifies connectivity before returning.
func Open(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	logger.Info("connected to event store")
	return &DB{Pool: pool}, nil
}

// Close closes the underlying pool.
func (db *DB) Close() { db.Pool.Close() }

// Migrate applies the consolidated schema, tracking applied versions in
// schema_migrations so restarts are no-ops.
func (db *DB) Migrate(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range migrations {
		if err := db.runMigration(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) runMigration(ctx context.Context, m migration) error {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)",
		m.version,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check migration %d: %w", m.version, err)
	}
	if exists {
		return nil
	}

	if _, err := db.Pool.Exec(ctx, m.sql); err != nil {
		return fmt.Errorf("failed to run migration %d: %w", m.version, err)
	}
	if _, err := db.Pool.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.version); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", m.version, err)
	}
	logger.Info("applied migration", "version", m.version)
	return nil
}

type migration struct {
	version int
	sql     string
}

// Consolidated schema. Earlier iterative migrations from the design
// process are collapsed into this single authoritative set.
var migrations = []migration{
	{
		version: 1,
		sql: `
			CREATE TABLE locations (
				id               BIGSERIAL PRIMARY KEY,
				name             TEXT NOT NULL,
				prefecture       TEXT NOT NULL,
				latitude         DOUBLE PRECISION NOT NULL,
				longitude        DOUBLE PRECISION NOT NULL,
				elevation        DOUBLE PRECISION NOT NULL,
				access_notes     TEXT,

				fuji_bearing_deg            DOUBLE PRECISION NOT NULL,
				fuji_apparent_elevation_deg DOUBLE PRECISION NOT NULL,
				fuji_distance_m             DOUBLE PRECISION NOT NULL,

				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_locations_latlon ON locations (latitude, longitude);
			CREATE INDEX idx_locations_prefecture ON locations (prefecture);
			CREATE INDEX idx_locations_fuji_geometry ON locations (fuji_bearing_deg, fuji_apparent_elevation_deg);

			CREATE TYPE event_kind AS ENUM ('diamond_sunrise', 'diamond_sunset', 'pearl_moonrise', 'pearl_moonset');
			CREATE TYPE accuracy_tier AS ENUM ('perfect', 'excellent', 'good', 'fair');

			CREATE TABLE location_events (
				id          BIGSERIAL PRIMARY KEY,
				location_id BIGINT NOT NULL REFERENCES locations(id) ON DELETE CASCADE,
				event_kind  event_kind NOT NULL,
				event_date  DATE NOT NULL,
				event_time  TIMESTAMPTZ NOT NULL,

				celestial_azimuth_deg  DOUBLE PRECISION NOT NULL,
				celestial_altitude_deg DOUBLE PRECISION NOT NULL,
				moon_phase                  DOUBLE PRECISION,
				moon_illumination_fraction  DOUBLE PRECISION,

				quality_score    DOUBLE PRECISION NOT NULL,
				accuracy_tier    accuracy_tier NOT NULL,
				calculation_year INTEGER NOT NULL,

				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

				UNIQUE (location_id, event_date, event_time, event_kind)
			);

			CREATE INDEX idx_location_events_date ON location_events (event_date);
			CREATE INDEX idx_location_events_kind_date ON location_events (event_kind, event_date);
			CREATE INDEX idx_location_events_location_date ON location_events (location_id, event_date);
			CREATE INDEX idx_location_events_quality ON location_events (quality_score DESC);

			CREATE TABLE admins (
				id            UUID PRIMARY KEY,
				username      TEXT NOT NULL UNIQUE,
				email         TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE TABLE system_settings (
				key         TEXT PRIMARY KEY,
				value       TEXT NOT NULL,
				type        TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				editable    BOOLEAN NOT NULL DEFAULT TRUE,
				updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
	},
	{
		version: 2,
		sql: `
			INSERT INTO system_settings (key, value, type, description, editable) VALUES
				('worker_concurrency', '1', 'int', 'Worker-pool parallelism; clamp [1,10].', true),
				('job_delay_ms', '5000', 'int', 'Base delay applied to low/normal-priority jobs.', true),
				('processing_delay_ms', '2000', 'int', 'Inter-year pacing inside a job.', true),
				('refraction_coefficient', '1.02', 'float', 'Multiplier applied to atmospheric refraction.', true),
				('observer_eye_height_m', '1.7', 'float', 'Added to site elevation for apparent-elev calc.', true),
				('pearl_illumination_min', '0.10', 'float', 'Minimum Moon illumination fraction for Pearl.', true),
				('diamond_season_months', '10,11,12,1,2,3', 'int_list', 'Months in which Diamond search runs.', true)
			ON CONFLICT (key) DO NOTHING;
		`,
	},
}
