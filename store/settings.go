package store

import (
	"context"
	"strconv"
	"strings"

	"github.com/fujialign/fujialign/fujierr"
)

// SettingsRepo persists the system_settings key/value table. The 60s
// in-process read-through cache and write-invalidation broadcast live in
// package settings; this repository is the durable source of truth.
type SettingsRepo struct {
	db *DB
}

func NewSettingsRepo(db *DB) *SettingsRepo { return &SettingsRepo{db: db} }

// All returns every setting row, used to build the cached snapshot.
func (r *SettingsRepo) All(ctx context.Context) ([]SystemSetting, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT key, value, type, description, editable, updated_at FROM system_settings ORDER BY key`)
	if err != nil {
		return nil, fujierr.New(fujierr.KindStorageTransient, "store.Settings.All", err, nil)
	}
	defer rows.Close()

	var out []SystemSetting
	for rows.Next() {
		var s SystemSetting
		var typ string
		if err := rows.Scan(&s.Key, &s.Value, &typ, &s.Description, &s.Editable, &s.UpdatedAt); err != nil {
			return nil, fujierr.New(fujierr.KindStorageTransient, "store.Settings.All", err, nil)
		}
		s.Type = SettingType(typ)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Get fetches a single setting by key.
func (r *SettingsRepo) Get(ctx context.Context, key string) (SystemSetting, error) {
	var s SystemSetting
	var typ string
	row := r.db.Pool.QueryRow(ctx, `SELECT key, value, type, description, editable, updated_at FROM system_settings WHERE key=$1`, key)
	if err := row.Scan(&s.Key, &s.Value, &typ, &s.Description, &s.Editable, &s.UpdatedAt); err != nil {
		return SystemSetting{}, fujierr.New(fujierr.KindStorageTransient, "store.Settings.Get", err, nil)
	}
	s.Type = SettingType(typ)
	return s, nil
}

// Set writes a setting's value, rejecting writes to non-editable keys.
func (r *SettingsRepo) Set(ctx context.Context, key, value string) error {
	existing, err := r.Get(ctx, key)
	if err != nil {
		return err
	}
	if !existing.Editable {
		return fujierr.New(fujierr.KindInvalidInput, "store.Settings.Set", nil, map[string]interface{}{
			"reason": "setting is not editable", "key": key,
		})
	}
	_, err = r.db.Pool.Exec(ctx, `UPDATE system_settings SET value=$2, updated_at=NOW() WHERE key=$1`, key, value)
	if err != nil {
		return fujierr.New(fujierr.KindStorageTransient, "store.Settings.Set", err, nil)
	}
	return nil
}

// ParseInt parses a SystemSetting's string Value as an int, used at the
// typed edges (worker_concurrency, job_delay_ms, processing_delay_ms).
func (s SystemSetting) ParseInt(fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s.Value))
	if err != nil {
		return fallback
	}
	return n
}

// ParseFloat parses a SystemSetting's string Value as a float64.
func (s SystemSetting) ParseFloat(fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s.Value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// ParseIntList parses a comma-separated SystemSetting Value into ints,
// used for diamond_season_months.
func (s SystemSetting) ParseIntList(fallback []int) []int {
	parts := strings.Split(s.Value, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return fallback
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
