package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fujialign/fujialign/cache"
	"github.com/fujialign/fujialign/fujierr"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := cache.NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return New(client)
}

func mustEnqueue(t *testing.T, q *Queue, job Job) string {
	t.Helper()
	id, err := q.Enqueue(context.Background(), job)
	require.NoError(t, err)
	return id
}

func TestDequeueDrainsByPriorityThenFIFO(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	low, err := NewDailyJob(1, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), PriorityLow)
	require.NoError(t, err)
	normal, err := NewDailyJob(2, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), PriorityNormal)
	require.NoError(t, err)
	high, err := NewDailyJob(3, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), PriorityHigh)
	require.NoError(t, err)

	mustEnqueue(t, q, low)
	mustEnqueue(t, q, normal)
	mustEnqueue(t, q, high)

	var order []Priority
	for i := 0; i < 3; i++ {
		job, ok, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		order = append(order, job.Priority)
		assert.Equal(t, StateActive, job.State)
		assert.Equal(t, 1, job.Attempt)
	}
	assert.Equal(t, []Priority{PriorityHigh, PriorityNormal, PriorityLow}, order)

	_, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnqueueCollapsesDuplicateIdempotencyKeys(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	a, err := NewMonthlyRangeJob(5, 2026, 4, PriorityNormal)
	require.NoError(t, err)
	b, err := NewMonthlyRangeJob(5, 2026, 4, PriorityNormal)
	require.NoError(t, err)

	firstID := mustEnqueue(t, q, a)
	secondID := mustEnqueue(t, q, b)
	assert.Equal(t, firstID, secondID)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Waiting)

	// Once the job completes the key is released and a re-enqueue is a
	// fresh job again.
	job, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, q.Complete(ctx, job.ID))

	c, err := NewMonthlyRangeJob(5, 2026, 4, PriorityNormal)
	require.NoError(t, err)
	thirdID := mustEnqueue(t, q, c)
	assert.NotEqual(t, firstID, thirdID)
}

func TestDelayedJobBecomesEligibleAtNotBefore(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := NewDailyJob(9, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), PriorityNormal)
	require.NoError(t, err)
	job.NotBefore = time.Now().Add(1100 * time.Millisecond)
	mustEnqueue(t, q, job)

	_, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "delayed job must not be leased before its not_before")

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Delayed)

	time.Sleep(1200 * time.Millisecond)

	leased, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, job.ID, leased.ID)
}

func TestFailRetryableMovesToDelayedWithBackoff(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := NewDailyJob(1, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), PriorityNormal)
	require.NoError(t, err)
	mustEnqueue(t, q, job)

	leased, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	cause := fujierr.New(fujierr.KindStorageTransient, "test", fmt.Errorf("pg timeout"), nil)
	require.NoError(t, q.Fail(ctx, leased.ID, cause))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Delayed)
	assert.EqualValues(t, 0, stats.Active)
	assert.EqualValues(t, 0, stats.Failed)

	reloaded, err := q.loadJob(ctx, leased.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDelayed, reloaded.State)
	assert.Contains(t, reloaded.LastError, "pg timeout")
}

func TestFailNonRetryableIsPermanent(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := NewDailyJob(1, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), PriorityNormal)
	require.NoError(t, err)
	mustEnqueue(t, q, job)

	leased, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	cause := fujierr.New(fujierr.KindInvalidInput, "test", fmt.Errorf("bad payload"), nil)
	require.NoError(t, q.Fail(ctx, leased.ID, cause))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Failed)
	assert.EqualValues(t, 0, stats.Delayed)
	require.Len(t, stats.RecentFailed, 1)
	assert.Equal(t, leased.ID, stats.RecentFailed[0].ID)
	assert.Contains(t, stats.RecentFailed[0].LastError, "bad payload")
}

func TestFailExhaustedAttemptsIsPermanent(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := NewDailyJob(1, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), PriorityNormal)
	require.NoError(t, err)
	job.MaxAttempts = 1
	mustEnqueue(t, q, job)

	leased, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	cause := fujierr.New(fujierr.KindStorageTransient, "test", fmt.Errorf("still down"), nil)
	require.NoError(t, q.Fail(ctx, leased.ID, cause))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Failed, "retryable error with attempts exhausted must fail permanently")
}

func TestReapExpiredLeasesFailsTimedOutJobs(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := NewDailyJob(1, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), PriorityNormal)
	require.NoError(t, err)
	mustEnqueue(t, q, job)

	leased, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// Age the lease past its deadline, standing in for a worker that
	// crashed mid-job.
	require.NoError(t, q.rdb().ZAdd(ctx, keyActive, &redis.Z{
		Score:  float64(time.Now().Add(-time.Minute).Unix()),
		Member: leased.ID,
	}).Err())

	reaped, err := q.ReapExpiredLeases(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	// A lease expiry is a timeout: retryable, so the job lands in delayed.
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Delayed)
	assert.EqualValues(t, 0, stats.Active)
}

func TestRequeueReturnsLeasedJobUnharmed(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := NewDailyJob(1, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), PriorityNormal)
	require.NoError(t, err)
	mustEnqueue(t, q, job)

	leased, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, leased.Attempt)

	require.NoError(t, q.Requeue(ctx, leased.ID))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Waiting)
	assert.EqualValues(t, 0, stats.Active)

	again, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, leased.ID, again.ID)
	assert.Equal(t, 1, again.Attempt, "requeue must refund the consumed attempt")
}

func TestCancelWaitingAndDelayedByLocation(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	doomed, err := NewDailyJob(1, time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC), PriorityNormal)
	require.NoError(t, err)
	survivor, err := NewDailyJob(2, time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC), PriorityNormal)
	require.NoError(t, err)
	mustEnqueue(t, q, doomed)
	mustEnqueue(t, q, survivor)

	cancelled, err := q.CancelWaitingAndDelayed(ctx, func(j Job) bool {
		id, ok := j.LocationID()
		return ok && id == 1
	})
	require.NoError(t, err)
	assert.Equal(t, 1, cancelled)

	job, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	locID, ok := job.LocationID()
	require.True(t, ok)
	assert.EqualValues(t, 2, locID)
}

func TestCleanupDropsFailedJobs(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := NewDailyJob(1, time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC), PriorityNormal)
	require.NoError(t, err)
	mustEnqueue(t, q, job)

	leased, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, q.Fail(ctx, leased.ID, fujierr.New(fujierr.KindInvalidInput, "test", nil, nil)))

	// Zero retention drops every failed job.
	dropped, err := q.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.Failed)
	assert.Empty(t, stats.RecentFailed)
}

func TestCompleteReleasesJobAndRecordsFinish(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := NewDailyJob(1, time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), PriorityNormal)
	require.NoError(t, err)
	mustEnqueue(t, q, job)

	leased, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, q.Complete(ctx, leased.ID))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.Waiting)
	assert.EqualValues(t, 0, stats.Active)
	assert.EqualValues(t, 0, stats.Failed)

	finished, err := q.loadJob(ctx, leased.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, finished.State)
	assert.NotNil(t, finished.FinishedAt)
}
