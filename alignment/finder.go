// Package alignment implements the two-phase bracketed search that
// locates Diamond/Pearl alignments for one (civil date, location):
// coarse sweep, bracketed refinement, tolerance gating and quality
// scoring, built on the astronomy package's ephemeris kernel.
package alignment

import (
	"context"
	"time"

	"github.com/fujialign/fujialign/astronomy"
	"github.com/fujialign/fujialign/fujierr"
	"github.com/fujialign/fujialign/log"
	"github.com/fujialign/fujialign/settings"
	"github.com/fujialign/fujialign/store"
)

var logger = log.Logger()

const (
	coarseStep = 10 * time.Minute
	refineSpan = 30 * time.Minute
	refineStep = 1 * time.Minute
)

// sample is one instant's celestial position relative to the summit
// bearing/elevation recorded on the Location.
type sample struct {
	t                time.Time
	deltaAzimuthDeg  float64
	deltaAltitudeDeg float64
	moonPhase        *float64
	moonIllumination *float64
}

// FindDay returns every Diamond/Pearl event found for location loc on
// civil date dateJST (a JST midnight), or an empty slice if none align;
// a day without an alignment is a normal empty result, not an error.
func FindDay(ctx context.Context, loc store.Location, dateJST time.Time, snap settings.Snapshot) ([]store.Event, error) {
	observer := astronomy.Observer{Lat: loc.Latitude, Lon: loc.Longitude, Elev: loc.Elevation}
	var events []store.Event

	if snap.InSeason(dateJST.Month()) {
		sunrise, sunset := DiamondWindows(dateJST)
		for _, w := range []Window{sunrise, sunset} {
			ev, found, err := searchWindow(ctx, w, loc, observer, snap)
			if err != nil {
				if fujierr.Is(err, fujierr.KindCancelled) {
					return nil, err
				}
				logger.Warn("diamond window search failed, skipping", "location_id", loc.ID, "kind", w.Kind, "date", dateJST, "error", err)
				continue
			}
			if found {
				events = append(events, ev)
			}
		}
	}

	moonrise, moonset, err := PearlWindows(ctx, observer, dateJST)
	if err != nil {
		logger.Warn("pearl window lookup failed, skipping pearl search", "location_id", loc.ID, "date", dateJST, "error", err)
	} else {
		for _, w := range []*Window{moonrise, moonset} {
			if w == nil {
				continue
			}
			ev, found, err := searchWindow(ctx, *w, loc, observer, snap)
			if err != nil {
				if fujierr.Is(err, fujierr.KindCancelled) {
					return nil, err
				}
				logger.Warn("pearl window search failed, skipping", "location_id", loc.ID, "kind", w.Kind, "date", dateJST, "error", err)
				continue
			}
			if found {
				events = append(events, ev)
			}
		}
	}

	return events, nil
}

// searchWindow runs Phase A then Phase B over one candidate window and
// returns the accepted Event, if any.
func searchWindow(ctx context.Context, w Window, loc store.Location, observer astronomy.Observer, snap settings.Snapshot) (store.Event, bool, error) {
	distanceKm := loc.FujiDistanceM / 1000
	azTol := AzimuthToleranceDeg(w.Kind, distanceKm)
	altTol := AltitudeToleranceDeg(w.Kind)
	coarseAzTol := azTol * coarseAzimuthFactor

	best, ok, err := coarseSweep(ctx, w, loc, observer, snap, coarseAzTol)
	if err != nil {
		return store.Event{}, false, err
	}
	if !ok {
		return store.Event{}, false, nil
	}

	refined, err := refineSweep(ctx, w.Kind, loc, observer, snap, best.t)
	if err != nil {
		return store.Event{}, false, err
	}

	if absDeg(refined.deltaAzimuthDeg) > azTol || absDeg(refined.deltaAltitudeDeg) > altTol {
		return store.Event{}, false, nil
	}

	if w.Kind.IsPearl() {
		illum := 0.0
		if refined.moonIllumination != nil {
			illum = *refined.moonIllumination
		}
		if illum < snap.PearlIlluminationMin {
			return store.Event{}, false, nil
		}
	}

	quality := QualityScore(refined.deltaAzimuthDeg, azTol, refined.deltaAltitudeDeg, altTol)
	azimuthDeg := normalizeDeltaDeg(refined.deltaAzimuthDeg) + loc.FujiBearingDeg
	altitudeDeg := refined.deltaAltitudeDeg + loc.FujiApparentElevationDeg

	event := store.Event{
		LocationID:               loc.ID,
		Kind:                     w.Kind,
		EventDate:                store.CivilDateAt(refined.t.In(store.JST).Year(), refined.t.In(store.JST).Month(), refined.t.In(store.JST).Day()),
		EventTime:                refined.t,
		CelestialAzimuthDeg:      azimuthDeg,
		CelestialAltitudeDeg:     altitudeDeg,
		MoonPhase:                refined.moonPhase,
		MoonIlluminationFraction: refined.moonIllumination,
		QualityScore:             quality,
		AccuracyTier:             store.TierForQuality(quality),
		CalculationYear:          refined.t.In(store.JST).Year(),
	}
	return event, true, nil
}

// coarseSweep is Phase A: sample every coarseStep across the window,
// retain samples within coarseAzTol of the summit bearing, and return the
// one with the smallest azimuth residual.
func coarseSweep(ctx context.Context, w Window, loc store.Location, observer astronomy.Observer, snap settings.Snapshot, coarseAzTol float64) (sample, bool, error) {
	var best sample
	found := false

	for t := w.Start; !t.After(w.End); t = t.Add(coarseStep) {
		if err := ctx.Err(); err != nil {
			return sample{}, false, fujierr.New(fujierr.KindCancelled, "alignment.coarseSweep", err, nil)
		}
		s, err := evaluate(ctx, w.Kind, observer, t, loc, snap)
		if err != nil {
			return sample{}, false, err
		}
		if absDeg(s.deltaAzimuthDeg) > coarseAzTol {
			continue
		}
		if !found || absDeg(s.deltaAzimuthDeg) < absDeg(best.deltaAzimuthDeg) {
			best = s
			found = true
		}
	}
	return best, found, nil
}

// refineSweep is Phase B: bracket ±refineSpan around seed at refineStep
// resolution, selecting the instant minimizing the combined residual.
func refineSweep(ctx context.Context, kind store.EventKind, loc store.Location, observer astronomy.Observer, snap settings.Snapshot, seed time.Time) (sample, error) {
	start := seed.Add(-refineSpan)
	end := seed.Add(refineSpan)

	var best sample
	haveBest := false
	for t := start; !t.After(end); t = t.Add(refineStep) {
		if err := ctx.Err(); err != nil {
			return sample{}, fujierr.New(fujierr.KindCancelled, "alignment.refineSweep", err, nil)
		}
		s, err := evaluate(ctx, kind, observer, t, loc, snap)
		if err != nil {
			return sample{}, err
		}
		residual := CombinedResidual(s.deltaAzimuthDeg, s.deltaAltitudeDeg)
		if !haveBest || residual < CombinedResidual(best.deltaAzimuthDeg, best.deltaAltitudeDeg) {
			best = s
			haveBest = true
		}
	}
	return best, nil
}

// evaluate computes one instant's celestial azimuth/altitude (refracted)
// against loc's summit geometry.
func evaluate(ctx context.Context, kind store.EventKind, observer astronomy.Observer, t time.Time, loc store.Location, snap settings.Snapshot) (sample, error) {
	var horiz astronomy.Horizontal
	var phase, illum *float64

	if kind.IsDiamond() {
		h, err := astronomy.SunHorizontal(ctx, t, observer)
		if err != nil {
			return sample{}, fujierr.New(fujierr.KindEphemerisTransient, "alignment.evaluate", err, map[string]interface{}{"kind": string(kind)})
		}
		horiz = h
	} else {
		h, p, i, err := astronomy.MoonHorizontal(ctx, t, observer)
		if err != nil {
			return sample{}, fujierr.New(fujierr.KindEphemerisTransient, "alignment.evaluate", err, map[string]interface{}{"kind": string(kind)})
		}
		horiz = h
		phase, illum = &p, &i
	}

	refractedAlt := horiz.AltitudeDeg + astronomy.RefractionDeg(horiz.AltitudeDeg, snap.RefractionCoefficient)

	return sample{
		t:                t,
		deltaAzimuthDeg:  normalizeDeltaDeg(horiz.AzimuthDeg - loc.FujiBearingDeg),
		deltaAltitudeDeg: refractedAlt - loc.FujiApparentElevationDeg,
		moonPhase:        phase,
		moonIllumination: illum,
	}, nil
}
