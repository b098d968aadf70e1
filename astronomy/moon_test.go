package astronomy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fujialign/fujialign/fujierr"
	"github.com/fujialign/fujialign/observability"
)

func TestMoonHorizontalRanges(t *testing.T) {
	observability.NewLocalObserver()
	tokyo := Observer{Lat: 35.6762, Lon: 139.6503, Elev: 40}

	for hour := 0; hour < 24; hour += 3 {
		at := time.Date(2025, 2, 4, hour, 0, 0, 0, time.UTC)
		h, phase, illumination, err := MoonHorizontal(context.Background(), at, tokyo)
		require.NoError(t, err)

		assert.GreaterOrEqual(t, h.AzimuthDeg, 0.0)
		assert.Less(t, h.AzimuthDeg, 360.0)
		assert.GreaterOrEqual(t, h.AltitudeDeg, -90.0)
		assert.LessOrEqual(t, h.AltitudeDeg, 90.0)
		assert.GreaterOrEqual(t, phase, 0.0)
		assert.LessOrEqual(t, phase, 1.0)
		assert.GreaterOrEqual(t, illumination, 0.0)
		assert.LessOrEqual(t, illumination, 1.0)
	}
}

func TestMoonIlluminationAtSyzygy(t *testing.T) {
	observability.NewLocalObserver()
	tokyo := Observer{Lat: 35.6762, Lon: 139.6503, Elev: 40}

	// Full moon of 2025-01-13 22:27 UTC.
	_, _, full, err := MoonHorizontal(context.Background(), time.Date(2025, 1, 13, 22, 30, 0, 0, time.UTC), tokyo)
	require.NoError(t, err)
	assert.Greater(t, full, 0.95)

	// New moon of 2025-01-29 12:36 UTC.
	_, _, dark, err := MoonHorizontal(context.Background(), time.Date(2025, 1, 29, 12, 30, 0, 0, time.UTC), tokyo)
	require.NoError(t, err)
	assert.Less(t, dark, 0.05)
}

func TestMoonEquatorialDistancePlausible(t *testing.T) {
	for month := time.January; month <= time.December; month++ {
		eq := moonEquatorial(time.Date(2025, month, 15, 0, 0, 0, 0, time.UTC))
		assert.Greater(t, eq.Distance, 350000.0, "month %v", month)
		assert.Less(t, eq.Distance, 410000.0, "month %v", month)
	}
}

func TestParallaxInAltitudeDeg(t *testing.T) {
	// At the horizon the correction approaches the full horizontal
	// parallax, ~0.95 deg at mean lunar distance; overhead it vanishes.
	assert.InDelta(t, 0.948, parallaxInAltitudeDeg(0, 385000), 0.005)
	assert.InDelta(t, 0, parallaxInAltitudeDeg(90, 385000), 1e-9)
	assert.Equal(t, 0.0, parallaxInAltitudeDeg(10, 0))
}

func TestMoonHorizontalRejectsInvalidObserver(t *testing.T) {
	observability.NewLocalObserver()
	bad := Observer{Lat: 0, Lon: 500, Elev: 0}

	_, _, _, err := MoonHorizontal(context.Background(), time.Now().UTC(), bad)
	require.Error(t, err)
	assert.True(t, fujierr.Is(err, fujierr.KindInvalidInput))
}
