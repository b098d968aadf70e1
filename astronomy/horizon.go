package astronomy

import "math"

// FujiSummit is the fixed target geometry every alignment is measured
// against: the summit of Mount Fuji.
var FujiSummit = Observer{
	Lat:  35.3606,
	Lon:  138.7274,
	Elev: 3776,
}

// earthRadiusKm is the mean radius used for curvature-drop calculations.
const earthRadiusKm = 6371.0

// RefractionDeg returns the atmospheric refraction correction, in degrees,
// to add to a geometric altitude to get apparent altitude. Below 15° it
// uses the Bennett-style polynomial fit; at and above 15° the simpler
// cotangent approximation, per the kernel's refraction contract.
// coefficient scales the result for local-atmosphere tuning (from runtime
// settings); 0 is treated as the standard 1.0.
func RefractionDeg(altitudeDeg, coefficient float64) float64 {
	if coefficient == 0 {
		coefficient = 1.0
	}
	h := altitudeDeg
	var r float64
	if h < 15 {
		r = 0.1594 + 0.0196*h + 0.00002*h*h
	} else {
		r = 0.00452 * math.Tan((90-h)*DegToRad)
	}
	return coefficient * r
}

// BearingToFuji returns the initial great-circle bearing (degrees, compass,
// clockwise from North) from observer to the Fuji summit.
func BearingToFuji(observer Observer) float64 {
	lat1 := observer.Lat * DegToRad
	lat2 := FujiSummit.Lat * DegToRad
	dLon := (FujiSummit.Lon - observer.Lon) * DegToRad

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	theta := math.Atan2(y, x)
	return normalize360(theta * RadToDeg)
}

// DistanceToFujiKm returns the great-circle (haversine) distance in
// kilometres from observer to the Fuji summit.
func DistanceToFujiKm(observer Observer) float64 {
	lat1 := observer.Lat * DegToRad
	lat2 := FujiSummit.Lat * DegToRad
	dLat := lat2 - lat1
	dLon := (FujiSummit.Lon - observer.Lon) * DegToRad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// apparentElevationRefractionK is the fraction of the curvature drop
// restored by atmospheric refraction along a long ground sightline, a
// constant of the apparent-elevation model, distinct from the tunable
// refraction_coefficient setting that only scales RefractionDeg.
const apparentElevationRefractionK = 0.13

// ApparentElevationToFujiDeg returns the apparent angular elevation of the
// Fuji summit above the observer's local horizon: the geometric height
// difference reduced by the Earth-curvature drop d²/(2·R_e), with the
// refraction uplift k·drop added back, taken as atan2 over the sight
// distance (the same three-term model used for sun/moon apparent-horizon
// problems at long sight distances). eyeHeightM stacks onto the observer's
// site elevation (runtime setting observer_eye_height_m, default 1.7).
func ApparentElevationToFujiDeg(observer Observer, eyeHeightM float64) float64 {
	distM := DistanceToFujiKm(observer) * 1000
	if distM < 1e-3 {
		return 90
	}
	heightDiffM := FujiSummit.Elev - (observer.Elev + eyeHeightM)

	curvatureDropM := distM * distM / (2 * earthRadiusKm * 1000)
	netHeightM := heightDiffM - curvatureDropM + apparentElevationRefractionK*curvatureDropM

	return math.Atan2(netHeightM, distM) * RadToDeg
}
