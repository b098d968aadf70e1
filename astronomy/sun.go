package astronomy

import (
	"context"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/fujialign/fujialign/observability"
)

// sunEquatorial returns the Sun's apparent geocentric right ascension and
// declination at t, using the standard low-precision solar model (mean
// longitude + equation of center), with small aberration and nutation
// terms folded into the apparent ecliptic longitude.
func sunEquatorial(t time.Time) Equatorial {
	n := daysSinceJ2000(t)

	// Mean longitude and mean anomaly of the Sun.
	L := normalize360(280.460 + 0.9856474*n)
	g := normalize360(357.528 + 0.9856003*n) * DegToRad

	// Ecliptic longitude with equation-of-center correction.
	lambda := L + 1.915*math.Sin(g) + 0.020*math.Sin(2*g)

	// Nutation in longitude and annual aberration, both small corrections
	// applied directly to the apparent ecliptic longitude.
	omega := normalize360(125.04 - 0.052954*n) * DegToRad
	nutationLon := -0.00478 * math.Sin(omega) // degrees
	aberration := -0.00569                    // degrees, constant term (-20.5″)
	lambda = lambda + nutationLon + aberration

	lambdaRad := lambda * DegToRad
	epsilon := (23.439 - 0.0000004*n) * DegToRad

	ra := math.Atan2(math.Cos(epsilon)*math.Sin(lambdaRad), math.Cos(lambdaRad)) * RadToDeg
	dec := math.Asin(math.Sin(epsilon)*math.Sin(lambdaRad)) * RadToDeg

	return Equatorial{RA: normalize360(ra), Dec: dec}
}

// SunHorizontal returns the Sun's apparent topocentric azimuth and
// geometric altitude (before refraction) at instant t as seen by observer.
func SunHorizontal(ctx context.Context, t time.Time, observer Observer) (Horizontal, error) {
	if err := validateObserver("astronomy.SunHorizontal", observer); err != nil {
		return Horizontal{}, err
	}

	obs := observability.Observer()
	ctx, span := obs.CreateSpan(ctx, "SunHorizontal")
	defer span.End()
	span.SetAttributes(
		attribute.Float64("observer.lat", observer.Lat),
		attribute.Float64("observer.lon", observer.Lon),
		attribute.String("instant", t.UTC().Format(time.RFC3339)),
	)

	eq := sunEquatorial(t)
	h := hourAngleRad(t, eq.RA, observer.Lon)
	horiz := equatorialToHorizontalDeg(eq.RA, eq.Dec, observer.Lat, h)

	span.SetAttributes(
		attribute.Float64("sun.ra", eq.RA),
		attribute.Float64("sun.dec", eq.Dec),
		attribute.Float64("sun.azimuth", horiz.AzimuthDeg),
		attribute.Float64("sun.altitude", horiz.AltitudeDeg),
	)
	return horiz, nil
}
