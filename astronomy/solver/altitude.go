// Package solver provides the bracket-then-bisect root finder behind
// horizon-crossing detection: sample a time range for a sign change in
// (altitude - target), then bisect the bracket down to the wanted
// resolution. Generic over the altitude function so the Sun and Moon
// searches share it.
package solver

import "time"

// AltitudeFunc returns a body's altitude in degrees at time t.
type AltitudeFunc func(t time.Time) float64

// EventType selects the crossing direction to search for.
type EventType int

const (
	// CrossingUp means altitude is increasing through the target (rise).
	CrossingUp EventType = iota
	// CrossingDown means altitude is decreasing through the target (set).
	CrossingDown
)

// FindAltitudeEvent returns the first instant in [start, end] at which f
// crosses targetDeg in the given direction, located to within tol, and
// ok=false if no such crossing occurs in the range. The range is sampled
// at steps points; the sampling interval must be fine enough that a
// crossing cannot come and go between neighbouring samples.
func FindAltitudeEvent(f AltitudeFunc, start, end time.Time, targetDeg float64, eventType EventType, steps int, tol time.Duration) (instant time.Time, ok bool) {
	if !start.Before(end) {
		return time.Time{}, false
	}
	if steps < 2 {
		steps = 2
	}
	interval := end.Sub(start) / time.Duration(steps-1)

	prevT := start
	prevAlt := f(prevT) - targetDeg
	for i := 1; i < steps; i++ {
		t := start.Add(time.Duration(i) * interval)
		alt := f(t) - targetDeg
		if crosses(prevAlt, alt, eventType) {
			return bisect(f, prevT, t, targetDeg, eventType, tol)
		}
		prevT, prevAlt = t, alt
	}
	return time.Time{}, false
}

func crosses(before, after float64, eventType EventType) bool {
	if eventType == CrossingUp {
		return before < 0 && after >= 0
	}
	return before > 0 && after <= 0
}

func bisect(f AltitudeFunc, a, b time.Time, targetDeg float64, eventType EventType, tol time.Duration) (time.Time, bool) {
	altA := f(a) - targetDeg
	if !crosses(altA, f(b)-targetDeg, eventType) {
		return time.Time{}, false
	}
	for b.Sub(a) > tol {
		mid := a.Add(b.Sub(a) / 2)
		altM := f(mid) - targetDeg
		if crosses(altA, altM, eventType) {
			b = mid
		} else {
			a, altA = mid, altM
		}
	}
	return a.Add(b.Sub(a) / 2), true
}
