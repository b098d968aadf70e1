// Package settings implements the runtime settings component: a typed
// key/value store with a 60-second in-process read-through cache and a
// write-invalidation broadcast, so a write anywhere clears the cache and
// notifies every affected process.
package settings

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/fujialign/fujialign/store"
)

const snapshotKey = "snapshot"
const snapshotTTL = 60 * time.Second

// Snapshot is an immutable, typed view of every recognized setting,
// built once per cache refresh so a job reads a consistent set of values
// for its whole run instead of tearing mid-job.
type Snapshot struct {
	WorkerConcurrency     int
	JobDelayMs            int
	ProcessingDelayMs     int
	RefractionCoefficient float64
	ObserverEyeHeightM    float64
	PearlIlluminationMin  float64
	DiamondSeasonMonths   []int
	LoadedAt              time.Time
}

// DefaultSnapshot holds the built-in defaults, used when the store has
// no rows yet (fresh install) or is unreachable.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		WorkerConcurrency:     1,
		JobDelayMs:            5000,
		ProcessingDelayMs:     2000,
		RefractionCoefficient: 1.02,
		ObserverEyeHeightM:    1.7,
		PearlIlluminationMin:  0.10,
		DiamondSeasonMonths:   []int{10, 11, 12, 1, 2, 3},
		LoadedAt:              time.Time{},
	}
}

// InSeason reports whether month m is one of the configured Diamond
// search months.
func (s Snapshot) InSeason(m time.Month) bool {
	for _, allowed := range s.DiamondSeasonMonths {
		if time.Month(allowed) == m {
			return true
		}
	}
	return false
}

func buildSnapshot(rows []store.SystemSetting) Snapshot {
	snap := DefaultSnapshot()
	byKey := make(map[string]store.SystemSetting, len(rows))
	for _, r := range rows {
		byKey[r.Key] = r
	}

	if s, ok := byKey["worker_concurrency"]; ok {
		snap.WorkerConcurrency = clampInt(s.ParseInt(snap.WorkerConcurrency), 1, 10)
	}
	if s, ok := byKey["job_delay_ms"]; ok {
		snap.JobDelayMs = s.ParseInt(snap.JobDelayMs)
	}
	if s, ok := byKey["processing_delay_ms"]; ok {
		snap.ProcessingDelayMs = s.ParseInt(snap.ProcessingDelayMs)
	}
	if s, ok := byKey["refraction_coefficient"]; ok {
		snap.RefractionCoefficient = s.ParseFloat(snap.RefractionCoefficient)
	}
	if s, ok := byKey["observer_eye_height_m"]; ok {
		snap.ObserverEyeHeightM = s.ParseFloat(snap.ObserverEyeHeightM)
	}
	if s, ok := byKey["pearl_illumination_min"]; ok {
		snap.PearlIlluminationMin = s.ParseFloat(snap.PearlIlluminationMin)
	}
	if s, ok := byKey["diamond_season_months"]; ok {
		snap.DiamondSeasonMonths = s.ParseIntList(snap.DiamondSeasonMonths)
	}
	snap.LoadedAt = time.Now()
	return snap
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func newLocalCache() *gocache.Cache {
	return gocache.New(snapshotTTL, 2*snapshotTTL)
}
