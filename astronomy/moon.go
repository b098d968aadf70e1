package astronomy

import (
	"context"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/fujialign/fujialign/observability"
)

// moonEquatorial returns the Moon's apparent geocentric right ascension,
// declination and distance (km) at t, using a truncated Meeus-style
// periodic-term series (a handful of the dominant longitude/latitude/
// distance terms, good to a few arcminutes geocentric — the dominant
// topocentric effect, horizontal parallax, is applied separately in
// MoonHorizontal).
func moonEquatorial(t time.Time) Equatorial {
	d := daysSinceJ2000(t)

	Lp := normalize360(218.3164477 + 13.17639648*d)
	M := normalize360(357.5291092 + 0.98560028*d)
	Mm := normalize360(134.9633964 + 13.06499295*d)
	D := normalize360(297.8501921 + 12.19074912*d)
	F := normalize360(93.2720950 + 13.22935024*d)

	Lr, Mr, Mmr, Dr, Fr := Lp*DegToRad, M*DegToRad, Mm*DegToRad, D*DegToRad, F*DegToRad

	lon := Lr +
		6.289*DegToRad*math.Sin(Mmr) +
		1.274*DegToRad*math.Sin(2*Dr-Mmr) +
		0.658*DegToRad*math.Sin(2*Dr) +
		0.214*DegToRad*math.Sin(2*Mmr) -
		0.186*DegToRad*math.Sin(Mr) -
		0.114*DegToRad*math.Sin(2*Fr)

	lat := 5.128*DegToRad*math.Sin(Fr) +
		0.280*DegToRad*math.Sin(Mmr+Fr) +
		0.277*DegToRad*math.Sin(Mmr-Fr) +
		0.173*DegToRad*math.Sin(2*Dr-Fr)

	eps := (23.439291 - 0.0000137*d) * DegToRad

	x := math.Cos(lat) * math.Cos(lon)
	y := math.Cos(lat) * math.Sin(lon)
	z := math.Sin(lat)

	xEq := x
	yEq := y*math.Cos(eps) - z*math.Sin(eps)
	zEq := y*math.Sin(eps) + z*math.Cos(eps)

	ra := math.Atan2(yEq, xEq)
	if ra < 0 {
		ra += 2 * math.Pi
	}
	dec := math.Asin(zEq)

	T := d / 36525.0
	Dm := normalize360(297.8501921+445267.1114034*T) * DegToRad
	M1 := normalize360(134.9633964+477198.8675055*T) * DegToRad
	distance := 385000.56 -
		20905.0*math.Cos(M1) -
		3699.0*math.Cos(2*Dm-M1) -
		2956.0*math.Cos(2*Dm) -
		570.0*math.Cos(2*M1) -
		246.0*math.Cos(2*Dm+M1)

	return Equatorial{
		RA:       normalize360(ra * RadToDeg),
		Dec:      dec * RadToDeg,
		Distance: distance,
	}
}

// parallaxInAltitudeDeg returns the drop from geocentric to topocentric
// altitude for a body at the given distance (km): p = asin(cos(h)·sin(HP))
// with HP the horizontal parallax asin(R_e/d). For the Moon this is up to
// ~0.95° at the horizon, where every rise/set alignment lives; azimuth is
// unaffected to first order.
func parallaxInAltitudeDeg(altitudeDeg, distanceKm float64) float64 {
	if distanceKm <= 0 {
		return 0
	}
	hp := math.Asin(earthRadiusKm / distanceKm)
	return math.Asin(math.Cos(altitudeDeg*DegToRad)*math.Sin(hp)) * RadToDeg
}

// moonPhaseIllumination returns the Moon's synodic phase (0 = new, 0.25 =
// first quarter, 0.5 = full, cycling to 1) and illuminated fraction
// (0..1) at t, from the Sun-Moon elongation.
func moonPhaseIllumination(t time.Time, sunEq, moonEq Equatorial) (phase, illumination float64) {
	sunRad := sunEq.RA * DegToRad
	sunDecRad := sunEq.Dec * DegToRad
	moonRad := moonEq.RA * DegToRad
	moonDecRad := moonEq.Dec * DegToRad

	cosElong := math.Sin(sunDecRad)*math.Sin(moonDecRad) +
		math.Cos(sunDecRad)*math.Cos(moonDecRad)*math.Cos(sunRad-moonRad)
	elongation := math.Acos(clamp(cosElong, -1, 1))

	illumination = (1 + math.Cos(math.Pi-elongation)) / 2

	// Phase fraction 0..1: waxing half of the cycle when the Moon trails
	// the Sun in ecliptic longitude (approximated here via RA ordering).
	diff := normalize360(moonEq.RA - sunEq.RA)
	phase = diff / 360.0

	return phase, clamp(illumination, 0, 1)
}

// MoonHorizontal returns the Moon's apparent topocentric azimuth and
// altitude (geometric, before refraction), synodic phase and illuminated
// fraction at instant t as seen by observer.
func MoonHorizontal(ctx context.Context, t time.Time, observer Observer) (horiz Horizontal, phase, illumination float64, err error) {
	if err = validateObserver("astronomy.MoonHorizontal", observer); err != nil {
		return Horizontal{}, 0, 0, err
	}

	obs := observability.Observer()
	ctx, span := obs.CreateSpan(ctx, "MoonHorizontal")
	defer span.End()
	span.SetAttributes(
		attribute.Float64("observer.lat", observer.Lat),
		attribute.Float64("observer.lon", observer.Lon),
		attribute.String("instant", t.UTC().Format(time.RFC3339)),
	)

	moonEq := moonEquatorial(t)
	sunEq := sunEquatorial(t)

	h := hourAngleRad(t, moonEq.RA, observer.Lon)
	horiz = equatorialToHorizontalDeg(moonEq.RA, moonEq.Dec, observer.Lat, h)
	horiz.AltitudeDeg -= parallaxInAltitudeDeg(horiz.AltitudeDeg, moonEq.Distance)
	phase, illumination = moonPhaseIllumination(t, sunEq, moonEq)

	span.SetAttributes(
		attribute.Float64("moon.ra", moonEq.RA),
		attribute.Float64("moon.dec", moonEq.Dec),
		attribute.Float64("moon.distance_km", moonEq.Distance),
		attribute.Float64("moon.azimuth", horiz.AzimuthDeg),
		attribute.Float64("moon.altitude", horiz.AltitudeDeg),
		attribute.Float64("moon.phase", phase),
		attribute.Float64("moon.illumination", illumination),
	)
	return horiz, phase, illumination, nil
}
