package alignment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fujialign/fujialign/fujierr"
	"github.com/fujialign/fujialign/observability"
	"github.com/fujialign/fujialign/settings"
	"github.com/fujialign/fujialign/store"
)

// testLocation builds a Location with its derived Fuji geometry filled the
// same way the repository write path does.
func testLocation(t *testing.T, id int64, name string, lat, lon, elev float64) store.Location {
	t.Helper()
	geo, err := store.DeriveGeometry(lat, lon, elev, 1.7)
	require.NoError(t, err)
	return store.Location{
		ID: id, Name: name,
		Latitude: lat, Longitude: lon, Elevation: elev,
		FujiBearingDeg:           geo.BearingDeg,
		FujiApparentElevationDeg: geo.ApparentElevationDeg,
		FujiDistanceM:            geo.DistanceM,
	}
}

func kindsOf(events []store.Event) []store.EventKind {
	out := make([]store.EventKind, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}

func TestFindDayUmihotaruDiamondSunset(t *testing.T) {
	observability.NewLocalObserver()
	loc := testLocation(t, 1, "Umihotaru PA", 35.464815, 139.872861, 5)
	assert.InDelta(t, 263.96, loc.FujiBearingDeg, 0.01)

	events, err := FindDay(context.Background(), loc, jstDate(2025, time.March, 10), settings.DefaultSnapshot())
	require.NoError(t, err)

	var sunset *store.Event
	for i := range events {
		if events[i].Kind == store.EventKindDiamondSunset {
			require.Nil(t, sunset, "expected a single diamond_sunset")
			sunset = &events[i]
		}
	}
	require.NotNil(t, sunset, "expected a diamond_sunset, got kinds %v", kindsOf(events))

	at := sunset.EventTime.In(store.JST)
	assert.True(t, at.After(time.Date(2025, 3, 10, 17, 20, 0, 0, store.JST)), "event at %v before window", at)
	assert.True(t, at.Before(time.Date(2025, 3, 10, 17, 40, 0, 0, store.JST)), "event at %v after window", at)

	assert.Equal(t, jstDate(2025, time.March, 10), sunset.EventDate)
	assert.GreaterOrEqual(t, sunset.QualityScore, 0.75)
	assert.Contains(t, []store.AccuracyTier{store.AccuracyExcellent, store.AccuracyPerfect}, sunset.AccuracyTier)
	assert.Nil(t, sunset.MoonPhase)
	assert.Nil(t, sunset.MoonIlluminationFraction)
	assert.InDelta(t, loc.FujiBearingDeg, sunset.CelestialAzimuthDeg, 0.6)
}

func TestFindDaySeasonGateBlocksSummerDiamond(t *testing.T) {
	observability.NewLocalObserver()
	maihama := testLocation(t, 2, "Maihama", 35.6225, 139.8853, 3)

	events, err := FindDay(context.Background(), maihama, jstDate(2025, time.June, 15), settings.DefaultSnapshot())
	require.NoError(t, err)

	for _, e := range events {
		assert.False(t, e.Kind.IsDiamond(), "june must emit no diamond events, got %v", e.Kind)
	}
}

func TestFindDayTenshigatakePearlMoonrise(t *testing.T) {
	observability.NewLocalObserver()
	loc := testLocation(t, 3, "Tenshigatake", 35.329621, 138.535881, 1319)
	assert.InDelta(t, 78.73, loc.FujiBearingDeg, 0.01)

	events, err := FindDay(context.Background(), loc, jstDate(2025, time.March, 12), settings.DefaultSnapshot())
	require.NoError(t, err)

	var moonrise *store.Event
	for i := range events {
		if events[i].Kind == store.EventKindPearlMoonrise {
			moonrise = &events[i]
		}
	}
	require.NotNil(t, moonrise, "expected a pearl_moonrise, got kinds %v", kindsOf(events))

	at := moonrise.EventTime.In(store.JST)
	assert.True(t, at.After(time.Date(2025, 3, 12, 16, 25, 0, 0, store.JST)), "event at %v before window", at)
	assert.True(t, at.Before(time.Date(2025, 3, 12, 16, 55, 0, 0, store.JST)), "event at %v after window", at)

	require.NotNil(t, moonrise.MoonPhase)
	require.NotNil(t, moonrise.MoonIlluminationFraction)
	assert.GreaterOrEqual(t, *moonrise.MoonIlluminationFraction, 0.10)
	assert.LessOrEqual(t, *moonrise.MoonIlluminationFraction, 1.0)
	assert.GreaterOrEqual(t, *moonrise.MoonPhase, 0.0)
	assert.LessOrEqual(t, *moonrise.MoonPhase, 1.0)
	assert.Contains(t, []store.AccuracyTier{store.AccuracyGood, store.AccuracyExcellent, store.AccuracyPerfect}, moonrise.AccuracyTier)
}

func TestFindDayPearlBrightnessGate(t *testing.T) {
	observability.NewLocalObserver()
	loc := testLocation(t, 3, "Tenshigatake", 35.329621, 138.535881, 1319)

	// An impossible illumination floor rejects every pearl candidate.
	snap := settings.DefaultSnapshot()
	snap.PearlIlluminationMin = 1.1

	events, err := FindDay(context.Background(), loc, jstDate(2025, time.March, 12), snap)
	require.NoError(t, err)
	for _, e := range events {
		assert.False(t, e.Kind.IsPearl(), "gated pearl event leaked: %v", e.Kind)
	}
}

func TestFindDayAutumnDiamondSunrise(t *testing.T) {
	observability.NewLocalObserver()
	// A ridge northwest of the summit: Fuji bears ~105 deg, in line with the
	// mid-October rising sun.
	loc := testLocation(t, 4, "Northwest ridge", 35.4758, 138.1940, 300)

	events, err := FindDay(context.Background(), loc, jstDate(2025, time.October, 19), settings.DefaultSnapshot())
	require.NoError(t, err)

	var sunrise *store.Event
	for i := range events {
		if events[i].Kind == store.EventKindDiamondSunrise {
			sunrise = &events[i]
		}
	}
	require.NotNil(t, sunrise, "expected a diamond_sunrise, got kinds %v", kindsOf(events))

	at := sunrise.EventTime.In(store.JST)
	assert.True(t, at.After(time.Date(2025, 10, 19, 6, 10, 0, 0, store.JST)), "event at %v before window", at)
	assert.True(t, at.Before(time.Date(2025, 10, 19, 6, 30, 0, 0, store.JST)), "event at %v after window", at)
	assert.GreaterOrEqual(t, sunrise.QualityScore, 0.4)
}

func TestFindDayDeterministic(t *testing.T) {
	observability.NewLocalObserver()
	loc := testLocation(t, 1, "Umihotaru PA", 35.464815, 139.872861, 5)
	snap := settings.DefaultSnapshot()

	first, err := FindDay(context.Background(), loc, jstDate(2025, time.March, 10), snap)
	require.NoError(t, err)
	second, err := FindDay(context.Background(), loc, jstDate(2025, time.March, 10), snap)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestFindDayCooperativeCancellation(t *testing.T) {
	observability.NewLocalObserver()
	loc := testLocation(t, 1, "Umihotaru PA", 35.464815, 139.872861, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events, err := FindDay(ctx, loc, jstDate(2025, time.March, 10), settings.DefaultSnapshot())
	require.Error(t, err)
	assert.True(t, fujierr.Is(err, fujierr.KindCancelled))
	assert.Empty(t, events)
}
