package alignment

import (
	"context"
	"time"

	"github.com/fujialign/fujialign/astronomy"
	"github.com/fujialign/fujialign/store"
)

// Window is a candidate time range to sweep for one event kind on one
// civil date, before Phase A coarse sampling narrows it down.
type Window struct {
	Kind  store.EventKind
	Start time.Time
	End   time.Time
}

// pearlBracket is how far either side of a single next_rise_set instant
// the Pearl coarse sweep spans, wide enough for several 10-minute samples.
const pearlBracket = 30 * time.Minute

// atClock returns the instant on dateJST (a JST midnight) at hour:min JST.
func atClock(dateJST time.Time, hour, min int) time.Time {
	return time.Date(dateJST.Year(), dateJST.Month(), dateJST.Day(), hour, min, 0, 0, store.JST)
}

// DiamondWindows returns the coarse sunrise and sunset search windows for
// dateJST, keyed by Northern-Hemisphere season. Season gating (whether
// Diamond search runs at all this month) is the caller's concern; this
// always returns both windows for the month's season bucket.
func DiamondWindows(dateJST time.Time) (sunrise, sunset Window) {
	var srH0, srM0, srH1, srM1, ssH0, ssM0, ssH1, ssM1 int
	switch dateJST.Month() {
	case time.October, time.November, time.December, time.January, time.February:
		srH0, srM0, srH1, srM1 = 6, 0, 9, 0
		ssH0, ssM0, ssH1, ssM1 = 15, 0, 19, 0
	case time.March, time.April, time.May:
		srH0, srM0, srH1, srM1 = 5, 0, 8, 0
		ssH0, ssM0, ssH1, ssM1 = 16, 0, 19, 0
	default: // June through September
		srH0, srM0, srH1, srM1 = 4, 0, 7, 0
		ssH0, ssM0, ssH1, ssM1 = 17, 0, 20, 0
	}

	sunrise = Window{
		Kind:  store.EventKindDiamondSunrise,
		Start: atClock(dateJST, srH0, srM0),
		End:   atClock(dateJST, srH1, srM1),
	}
	sunset = Window{
		Kind:  store.EventKindDiamondSunset,
		Start: atClock(dateJST, ssH0, ssM0),
		End:   atClock(dateJST, ssH1, ssM1),
	}
	return sunrise, sunset
}

// PearlWindows locates the Moon's rise and set crossings on dateJST (via
// next_rise_set) and brackets each with a coarse search window. A nil
// result for a direction means the Moon does not cross the horizon in
// that direction on this civil date (e.g. the ~50-minute daily drift
// skipped the date entirely).
func PearlWindows(ctx context.Context, observer astronomy.Observer, dateJST time.Time) (moonrise, moonset *Window, err error) {
	dayStart := atClock(dateJST, 0, 0)
	dayEnd := dayStart.Add(24 * time.Hour)

	riseInstant, ok, err := astronomy.NextRiseSet(ctx, astronomy.BodyMoon, observer, dayStart, astronomy.DirectionRise)
	if err != nil {
		return nil, nil, err
	}
	if ok && riseInstant.Before(dayEnd) {
		w := Window{Kind: store.EventKindPearlMoonrise, Start: riseInstant.Add(-pearlBracket), End: riseInstant.Add(pearlBracket)}
		moonrise = &w
	}

	setInstant, ok, err := astronomy.NextRiseSet(ctx, astronomy.BodyMoon, observer, dayStart, astronomy.DirectionSet)
	if err != nil {
		return nil, nil, err
	}
	if ok && setInstant.Before(dayEnd) {
		w := Window{Kind: store.EventKindPearlMoonset, Start: setInstant.Add(-pearlBracket), End: setInstant.Add(pearlBracket)}
		moonset = &w
	}

	return moonrise, moonset, nil
}
