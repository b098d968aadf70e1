package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fujialign/fujialign/fujierr"
	"github.com/fujialign/fujialign/store"
)

type fakeEventStore struct {
	events []store.Event
}

func (f *fakeEventStore) ByMonthRange(_ context.Context, from, to time.Time) ([]store.Event, error) {
	var out []store.Event
	for _, e := range f.events {
		if !e.EventDate.Before(from) && !e.EventDate.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEventStore) ByDate(_ context.Context, date time.Time) ([]store.Event, error) {
	var out []store.Event
	for _, e := range f.events {
		if e.EventDate.Equal(date) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEventStore) Upcoming(_ context.Context, nowJST time.Time, limit int) ([]store.Event, error) {
	var out []store.Event
	for _, e := range f.events {
		if !e.EventTime.Before(nowJST) && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEventStore) ByLocationYear(_ context.Context, locationID int64, year int) ([]store.Event, error) {
	var out []store.Event
	for _, e := range f.events {
		if e.LocationID == locationID && e.EventDate.Year() == year {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEventStore) YearlyStats(context.Context, int) (store.YearlyStats, error) {
	return store.YearlyStats{Total: len(f.events)}, nil
}

type fakeLocationStore struct {
	locations []store.Location
}

func (f *fakeLocationStore) Get(_ context.Context, id int64) (store.Location, error) {
	for _, l := range f.locations {
		if l.ID == id {
			return l, nil
		}
	}
	return store.Location{}, fujierr.New(fujierr.KindInvalidInput, "fake.Get", nil, nil)
}

func (f *fakeLocationStore) List(context.Context) ([]store.Location, error) {
	return f.locations, nil
}

func testLocation(t *testing.T, id int64, name string) store.Location {
	t.Helper()
	loc := store.Location{
		ID: id, Name: name, Prefecture: "Chiba",
		Latitude: 35.464815, Longitude: 139.872861, Elevation: 5,
	}
	geo, err := store.DeriveGeometry(loc.Latitude, loc.Longitude, loc.Elevation, 1.7)
	require.NoError(t, err)
	loc.FujiBearingDeg, loc.FujiApparentElevationDeg, loc.FujiDistanceM = geo.BearingDeg, geo.ApparentElevationDeg, geo.DistanceM
	return loc
}

func testFacade(t *testing.T) (*Facade, store.Location, store.Event) {
	t.Helper()
	loc := testLocation(t, 7, "Umihotaru PA")
	ev := store.Event{
		ID: 1, LocationID: 7,
		Kind:      store.EventKindDiamondSunset,
		EventDate: store.CivilDateAt(2026, time.March, 10),
		EventTime: time.Date(2026, 3, 10, 17, 32, 0, 0, store.JST),
	}
	return New(&fakeLocationStore{locations: []store.Location{loc}}, &fakeEventStore{events: []store.Event{ev}}, nil), loc, ev
}

func TestMonthlyCalendarJoinsLocationRow(t *testing.T) {
	f, loc, ev := testFacade(t)

	cal, err := f.MonthlyCalendar(context.Background(), 2026, time.March)
	require.NoError(t, err)
	assert.Equal(t, 2026, cal.Year)

	var day *Day
	for i := range cal.Days {
		if cal.Days[i].Date.Equal(ev.EventDate) {
			day = &cal.Days[i]
		}
	}
	require.NotNil(t, day)
	require.Len(t, day.Events, 1)
	assert.Equal(t, []store.EventKind{store.EventKindDiamondSunset}, day.KindsPresent)
	assert.Equal(t, loc.Name, day.Events[0].Location.Name)
	assert.Equal(t, loc.Prefecture, day.Events[0].Location.Prefecture)
	assert.Equal(t, loc.Latitude, day.Events[0].Location.Latitude)
}

func TestDayEventsJoinsAndSorts(t *testing.T) {
	f, loc, ev := testFacade(t)
	events := f.Events.(*fakeEventStore)
	earlier := ev
	earlier.ID, earlier.Kind = 2, store.EventKindDiamondSunrise
	earlier.EventTime = time.Date(2026, 3, 10, 6, 10, 0, 0, store.JST)
	events.events = append(events.events, earlier)

	got, err := f.DayEvents(context.Background(), ev.EventDate)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, e := range got {
		assert.Equal(t, loc.Name, e.Location.Name)
	}
	assert.Equal(t, store.EventKindDiamondSunrise, got[0].Kind)
	assert.Equal(t, store.EventKindDiamondSunset, got[1].Kind)
}

func TestUpcomingJoinsLocationRow(t *testing.T) {
	f, loc, _ := testFacade(t)
	events := f.Events.(*fakeEventStore)
	future := events.events[0]
	future.ID = 3
	future.EventTime = store.NowJST().Add(24 * time.Hour)
	events.events = []store.Event{future}

	got, err := f.Upcoming(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, loc.Name, got[0].Location.Name)
}

func TestLocationYearJoinsLocationRow(t *testing.T) {
	f, loc, ev := testFacade(t)

	got, err := f.LocationYear(context.Background(), loc.ID, ev.EventDate.Year())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, loc.Name, got[0].Location.Name)
	assert.Equal(t, ev.Kind, got[0].Kind)
}

func TestJoinDropsEventsWithMissingLocation(t *testing.T) {
	f, _, ev := testFacade(t)
	events := f.Events.(*fakeEventStore)
	orphan := ev
	orphan.ID, orphan.LocationID = 4, 999
	events.events = append(events.events, orphan)

	got, err := f.DayEvents(context.Background(), ev.EventDate)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(7), got[0].LocationID)
}

type recordingStaleNotifier struct {
	reported []int64
}

func (r *recordingStaleNotifier) OnStaleGeometry(_ context.Context, locationID int64) error {
	r.reported = append(r.reported, locationID)
	return nil
}

func TestJoinRefusesStaleLocation(t *testing.T) {
	f, _, ev := testFacade(t)
	notifier := &recordingStaleNotifier{}
	f.Stale = notifier

	// Drift a base field away from the stored derived triple.
	locs := f.Locations.(*fakeLocationStore)
	locs.locations[0].Elevation += 40

	got, err := f.DayEvents(context.Background(), ev.EventDate)
	require.NoError(t, err)
	assert.Empty(t, got, "a stale location must not serve queries")
	assert.Equal(t, []int64{7}, notifier.reported)
}

func TestLocationYearRefusesStaleLocation(t *testing.T) {
	f, loc, ev := testFacade(t)
	notifier := &recordingStaleNotifier{}
	f.Stale = notifier

	locs := f.Locations.(*fakeLocationStore)
	locs.locations[0].Latitude += 0.01

	_, err := f.LocationYear(context.Background(), loc.ID, ev.EventDate.Year())
	require.Error(t, err)
	assert.True(t, fujierr.Is(err, fujierr.KindStaleDerivedGeometry))
	assert.Equal(t, []int64{7}, notifier.reported)
}

func TestGridBoundsSpansFullWeeks(t *testing.T) {
	start, end := gridBounds(2026, time.February)
	assert.Equal(t, time.Sunday, start.Weekday())
	assert.Equal(t, time.Saturday, end.Weekday())
	assert.True(t, !start.After(store.CivilDateAt(2026, time.February, 1)))
	assert.True(t, !end.Before(store.CivilDateAt(2026, time.February, 28)))
}

func TestKindsPresentDeduplicatesAndPreservesFirstSeenOrder(t *testing.T) {
	events := []Event{
		{Event: store.Event{Kind: store.EventKindDiamondSunrise}},
		{Event: store.Event{Kind: store.EventKindPearlMoonset}},
		{Event: store.Event{Kind: store.EventKindDiamondSunrise}},
	}
	assert.Equal(t, []store.EventKind{store.EventKindDiamondSunrise, store.EventKindPearlMoonset}, kindsPresent(events))
}

func TestGroupByDateSortsWithinDay(t *testing.T) {
	date := store.CivilDateAt(2026, time.March, 10)
	late := date.Add(18 * time.Hour)
	early := date.Add(6 * time.Hour)

	events := []Event{
		{Event: store.Event{EventDate: date, EventTime: late, Kind: store.EventKindDiamondSunset}},
		{Event: store.Event{EventDate: date, EventTime: early, Kind: store.EventKindDiamondSunrise}},
	}

	byDate := groupByDate(events)
	day := byDate[date.Format("2006-01-02")]
	assert.Len(t, day, 2)
	assert.Equal(t, store.EventKindDiamondSunrise, day[0].Kind)
	assert.Equal(t, store.EventKindDiamondSunset, day[1].Kind)
}
