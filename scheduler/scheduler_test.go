package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fujialign/fujialign/store"
)

func TestNextMonthRangeCrossesYearBoundary(t *testing.T) {
	dec := time.Date(2025, time.December, 15, 10, 0, 0, 0, store.JST)
	start, end := nextMonthRange(dec)

	assert.Equal(t, 2026, start.Year())
	assert.Equal(t, time.January, start.Month())
	assert.Equal(t, 1, start.Day())
	assert.Equal(t, 31, end.Day())
}

func TestNextMonthRangeWithinYear(t *testing.T) {
	mar := time.Date(2026, time.March, 5, 0, 0, 0, 0, store.JST)
	start, end := nextMonthRange(mar)

	assert.Equal(t, time.April, start.Month())
	assert.Equal(t, 30, end.Day())
}
