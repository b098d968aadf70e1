package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, ttl time.Duration) *CalendarCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return NewCalendarCache(client, ttl)
}

type monthView struct {
	Year  int   `json:"year"`
	Month int   `json:"month"`
	IDs   []int `json:"ids"`
}

func TestCalendarCacheRoundTrip(t *testing.T) {
	c := newTestCache(t, time.Minute)
	ctx := context.Background()

	want := monthView{Year: 2026, Month: 3, IDs: []int{1, 2, 3}}
	key := CalendarMonthKey(2026, time.March)
	require.NoError(t, c.Set(ctx, key, want))

	var got monthView
	hit, err := c.Get(ctx, key, &got)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, want, got)
}

func TestCalendarCacheMiss(t *testing.T) {
	c := newTestCache(t, time.Minute)

	var got monthView
	hit, err := c.Get(context.Background(), CalendarMonthKey(2026, time.April), &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCalendarCacheStaleEntryIsDropped(t *testing.T) {
	c := newTestCache(t, time.Nanosecond)
	ctx := context.Background()

	key := CalendarMonthKey(2026, time.May)
	require.NoError(t, c.Set(ctx, key, monthView{Year: 2026, Month: 5}))
	time.Sleep(time.Millisecond)

	var got monthView
	hit, err := c.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, hit, "an entry past its envelope TTL must read as a miss")
}

func TestInvalidatePrefixDropsMatchingKeysOnly(t *testing.T) {
	c := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, CalendarLocationYearKey(7, 2025), []int{1}))
	require.NoError(t, c.Set(ctx, CalendarLocationYearKey(7, 2026), []int{2}))
	require.NoError(t, c.Set(ctx, CalendarLocationYearKey(8, 2026), []int{3}))

	require.NoError(t, c.InvalidatePrefix(ctx, CalendarLocationPrefix(7)))

	var got []int
	hit, err := c.Get(ctx, CalendarLocationYearKey(7, 2025), &got)
	require.NoError(t, err)
	assert.False(t, hit)

	hit, err = c.Get(ctx, CalendarLocationYearKey(7, 2026), &got)
	require.NoError(t, err)
	assert.False(t, hit)

	hit, err = c.Get(ctx, CalendarLocationYearKey(8, 2026), &got)
	require.NoError(t, err)
	assert.True(t, hit, "other locations' cached years must survive")
}

func TestCalendarKeyBuilders(t *testing.T) {
	assert.Equal(t, "calendar:month:2026:03", CalendarMonthKey(2026, time.March))
	assert.Equal(t, "calendar:locyear:7:2026", CalendarLocationYearKey(7, 2026))
	assert.Equal(t, "calendar:locyear:7:", CalendarLocationPrefix(7))
}
