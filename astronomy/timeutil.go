package astronomy

import (
	"math"
	"time"
)

// Degree/radian conversion factors used throughout this package.
const (
	DegToRad = math.Pi / 180
	RadToDeg = 180 / math.Pi
)

var j2000 = time.Date(2000, time.January, 1, 12, 0, 0, 0, time.UTC)

// daysSinceJ2000 returns fractional days since the J2000.0 epoch, the
// time base every position formula in this package works from.
func daysSinceJ2000(t time.Time) float64 {
	return t.UTC().Sub(j2000).Hours() / 24.0
}

// normalize360 reduces a degree value to [0, 360).
func normalize360(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// normalizeSigned180 reduces a degree value to [-180, 180).
func normalizeSigned180(deg float64) float64 {
	deg = normalize360(deg)
	if deg >= 180 {
		deg -= 360
	}
	return deg
}

// gmstDeg returns Greenwich Mean Sidereal Time in degrees for t, using the
// standard linear approximation (accurate to a few arcseconds over the
// timescales this pipeline cares about).
func gmstDeg(t time.Time) float64 {
	d := daysSinceJ2000(t)
	return normalize360(280.46061837 + 360.98564736629*d)
}

// localSiderealTimeDeg returns local sidereal time in degrees for an
// observer at the given east-positive longitude.
func localSiderealTimeDeg(t time.Time, lonDeg float64) float64 {
	return normalize360(gmstDeg(t) + lonDeg)
}

// hourAngleRad returns the hour angle (radians, signed) of a body with the
// given right ascension (degrees) at time t for an observer at lonDeg.
func hourAngleRad(t time.Time, raDeg, lonDeg float64) float64 {
	lstDeg := localSiderealTimeDeg(t, lonDeg)
	hDeg := normalizeSigned180(lstDeg - raDeg)
	return hDeg * DegToRad
}
