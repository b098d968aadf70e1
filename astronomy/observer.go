package astronomy

import (
	"math"

	"github.com/fujialign/fujialign/fujierr"
)

// Observer is a ground position: latitude/longitude in WGS84 degrees and
// elevation in metres above sea level.
type Observer struct {
	Lat  float64
	Lon  float64
	Elev float64
}

// Equatorial holds a body's geocentric right ascension and declination,
// both in degrees, plus distance in kilometres where known (0 if unused).
type Equatorial struct {
	RA       float64
	Dec      float64
	Distance float64
}

// Horizontal holds apparent topocentric azimuth/altitude in degrees.
// Azimuth is normalized to [0, 360) measured clockwise from North;
// altitude to [-90, 90].
type Horizontal struct {
	AzimuthDeg  float64
	AltitudeDeg float64
}

func validateObserver(op string, o Observer) error {
	if math.IsNaN(o.Lat) || math.IsNaN(o.Lon) || math.IsNaN(o.Elev) {
		return fujierr.New(fujierr.KindInvalidInput, op, nil, map[string]interface{}{
			"reason": "NaN coordinate",
		})
	}
	if o.Lat < -90 || o.Lat > 90 {
		return fujierr.New(fujierr.KindInvalidInput, op, nil, map[string]interface{}{
			"reason": "latitude out of range", "lat": o.Lat,
		})
	}
	if o.Lon < -180 || o.Lon > 180 {
		return fujierr.New(fujierr.KindInvalidInput, op, nil, map[string]interface{}{
			"reason": "longitude out of range", "lon": o.Lon,
		})
	}
	return nil
}

// equatorialToHorizontalDeg converts geocentric equatorial coordinates to
// horizontal coordinates for an observer at latDeg using the standard
// hour-angle transform (Meeus ch. 13). Bodies close enough for the
// observer's offset from the geocentre to matter (the Moon) apply the
// parallax-in-altitude correction on top of this.
func equatorialToHorizontalDeg(raDeg, decDeg, latDeg float64, hRad float64) Horizontal {
	latRad := latDeg * DegToRad
	decRad := decDeg * DegToRad

	sinAlt := math.Sin(latRad)*math.Sin(decRad) + math.Cos(latRad)*math.Cos(decRad)*math.Cos(hRad)
	altRad := math.Asin(clamp(sinAlt, -1, 1))

	azRad := math.Atan2(
		math.Sin(hRad),
		math.Cos(hRad)*math.Sin(latRad)-math.Tan(decRad)*math.Cos(latRad),
	)
	// azRad is measured westward from South (Meeus convention); rotate to
	// the compass convention (clockwise from North) used throughout this
	// system.
	azDeg := normalize360(azRad*RadToDeg + 180)

	return Horizontal{
		AzimuthDeg:  azDeg,
		AltitudeDeg: altRad * RadToDeg,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
