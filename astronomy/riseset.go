package astronomy

import (
	"context"
	"time"

	"github.com/fujialign/fujialign/astronomy/solver"
	"github.com/fujialign/fujialign/fujierr"
)

// Body identifies which celestial body a rise/set search is for.
type Body int

const (
	BodySun Body = iota
	BodyMoon
)

// Direction selects which horizon crossing next_rise_set looks for.
type Direction int

const (
	DirectionRise Direction = iota
	DirectionSet
)

// horizonAltitudeDeg is the geometric altitude (degrees) treated as "on the
// horizon" for rise/set purposes: the Sun/Moon's own angular radius plus
// standard refraction at the horizon, negated.
const horizonAltitudeDeg = -0.8333

// riseSetSearchWindow bounds how far ahead next_rise_set will look before
// reporting no event, per the contract that a body circumpolar at this
// latitude/season never "finds" a crossing.
const riseSetSearchWindow = 36 * time.Hour

// NextRiseSet returns the earliest instant at or after t0 at which body
// crosses the horizon in the given direction, or ok=false if no such
// crossing occurs within the next 36 hours (e.g. circumpolar Sun/Moon at
// high latitude, or a polar-night interval).
func NextRiseSet(ctx context.Context, body Body, observer Observer, t0 time.Time, direction Direction) (instant time.Time, ok bool, err error) {
	if err := validateObserver("astronomy.NextRiseSet", observer); err != nil {
		return time.Time{}, false, err
	}

	altFunc, altErr := altitudeFuncFor(ctx, body, observer)
	if altErr != nil {
		return time.Time{}, false, altErr
	}

	eventType := solver.CrossingUp
	if direction == DirectionSet {
		eventType = solver.CrossingDown
	}

	end := t0.Add(riseSetSearchWindow)
	// 10-minute sampling is fine-grained enough that the Sun/Moon (whose
	// altitude rate never exceeds ~1 deg/min at this latitude) cannot hide
	// a crossing between samples.
	const sampleInterval = 10 * time.Minute
	steps := int(end.Sub(t0)/sampleInterval) + 1

	crossing, found := solver.FindAltitudeEvent(altFunc, t0, end, horizonAltitudeDeg, eventType, steps, 15*time.Second)
	if !found {
		return time.Time{}, false, nil
	}
	return crossing, true, nil
}

func altitudeFuncFor(ctx context.Context, body Body, observer Observer) (solver.AltitudeFunc, error) {
	switch body {
	case BodySun:
		return func(t time.Time) float64 {
			h, _ := SunHorizontal(ctx, t, observer)
			return h.AltitudeDeg
		}, nil
	case BodyMoon:
		return func(t time.Time) float64 {
			h, _, _, _ := MoonHorizontal(ctx, t, observer)
			return h.AltitudeDeg
		}, nil
	default:
		return nil, fujierr.New(fujierr.KindInvalidInput, "astronomy.NextRiseSet", nil, map[string]interface{}{
			"reason": "unknown body",
		})
	}
}
