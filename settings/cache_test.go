package settings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fujialign/fujialign/store"
)

func TestBuildSnapshotAppliesOverridesAndClamps(t *testing.T) {
	rows := []store.SystemSetting{
		{Key: "worker_concurrency", Value: "25"}, // clamped to 10
		{Key: "refraction_coefficient", Value: "1.10"},
		{Key: "diamond_season_months", Value: "10,11,12,1,2"},
	}
	snap := buildSnapshot(rows)

	assert.Equal(t, 10, snap.WorkerConcurrency)
	assert.InDelta(t, 1.10, snap.RefractionCoefficient, 1e-9)
	assert.Equal(t, []int{10, 11, 12, 1, 2}, snap.DiamondSeasonMonths)
	// Untouched keys keep their defaults.
	assert.Equal(t, 5000, snap.JobDelayMs)
}

func TestBuildSnapshotEmptyFallsBackToDefaults(t *testing.T) {
	snap := buildSnapshot(nil)
	assert.Equal(t, DefaultSnapshot().WorkerConcurrency, snap.WorkerConcurrency)
	assert.Equal(t, DefaultSnapshot().DiamondSeasonMonths, snap.DiamondSeasonMonths)
}

func TestSnapshotInSeason(t *testing.T) {
	snap := DefaultSnapshot() // Oct-Mar
	assert.True(t, snap.InSeason(time.December))
	assert.True(t, snap.InSeason(time.January))
	assert.False(t, snap.InSeason(time.June))
	assert.False(t, snap.InSeason(time.July))
}

func TestClampInt(t *testing.T) {
	assert.Equal(t, 1, clampInt(0, 1, 10))
	assert.Equal(t, 10, clampInt(25, 1, 10))
	assert.Equal(t, 5, clampInt(5, 1, 10))
}
