package alignment

import "github.com/fujialign/fujialign/store"

// Combined-residual weights; not exposed as a runtime setting, the
// settings table only tunes the tolerances below.
const (
	azimuthWeight  = 1.0
	altitudeWeight = 1.0
)

// coarseAzimuthFactor is how much wider Phase A's retain threshold is
// than Phase B's acceptance tolerance.
const coarseAzimuthFactor = 2.0

// AzimuthToleranceDeg returns the distance-adaptive azimuth acceptance
// tolerance for kind at the given great-circle distance to the summit.
// Diamond uses the base schedule; Pearl scales it ×4 because the Moon's
// angular diameter and topocentric parallax dominate the error budget.
func AzimuthToleranceDeg(kind store.EventKind, distanceKm float64) float64 {
	var base float64
	switch {
	case distanceKm <= 50:
		base = 0.25
	case distanceKm <= 100:
		base = 0.4
	default:
		base = 0.6
	}
	if kind.IsPearl() {
		return base * 4
	}
	return base
}

// AltitudeToleranceDeg returns the fixed altitude acceptance tolerance
// for kind.
func AltitudeToleranceDeg(kind store.EventKind) float64 {
	if kind.IsPearl() {
		return 0.5
	}
	return 0.25
}

// CombinedResidual is Phase B's selection metric: the weighted sum of
// azimuth and (refracted) altitude deltas, both in degrees.
func CombinedResidual(deltaAzimuthDeg, deltaAltitudeDeg float64) float64 {
	return azimuthWeight*absDeg(deltaAzimuthDeg) + altitudeWeight*absDeg(deltaAltitudeDeg)
}

// QualityScore is 1 minus each residual's fraction of its own tolerance,
// weighted evenly, floored at 0.
func QualityScore(deltaAzimuthDeg, azTol, deltaAltitudeDeg, altTol float64) float64 {
	q := 1 - (absDeg(deltaAzimuthDeg)/azTol)*0.5 - (absDeg(deltaAltitudeDeg)/altTol)*0.5
	if q < 0 {
		return 0
	}
	if q > 1 {
		return 1
	}
	return q
}

func absDeg(d float64) float64 {
	if d < 0 {
		return -d
	}
	return d
}

// normalizeDeltaDeg reduces an azimuth difference to its shortest signed
// form in (-180, 180], so a sample a hair past the 360/0 boundary isn't
// scored as a ~360° miss.
func normalizeDeltaDeg(d float64) float64 {
	for d > 180 {
		d -= 360
	}
	for d <= -180 {
		d += 360
	}
	return d
}
