package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fujialign/fujialign/fujierr"
	"github.com/fujialign/fujialign/queue"
	"github.com/fujialign/fujialign/store"
)

func TestDispatchRejectsUnknownKind(t *testing.T) {
	h := &Handlers{}
	err := h.Dispatch(context.Background(), queue.Job{Kind: "not-a-real-kind"})
	assert.True(t, fujierr.Is(err, fujierr.KindInvalidInput))
}

func TestDispatchRejectsMalformedPayload(t *testing.T) {
	h := &Handlers{}
	job := queue.Job{Kind: queue.KindDaily, Payload: []byte("{not json")}
	err := h.Dispatch(context.Background(), job)
	assert.True(t, fujierr.Is(err, fujierr.KindInvalidInput))
}

func TestDaysBetweenInclusive(t *testing.T) {
	start := store.CivilDateAt(2025, time.January, 1)
	end := store.CivilDateAt(2025, time.December, 31)
	assert.Equal(t, 365, daysBetweenInclusive(start, end))

	sameDay := store.CivilDateAt(2025, time.March, 1)
	assert.Equal(t, 1, daysBetweenInclusive(sameDay, sameDay))
}

func TestSleepCtxReturnsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	sleepCtx(ctx, time.Minute)
	assert.Less(t, time.Since(start), time.Second)
}
