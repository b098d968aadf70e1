package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fujialign/fujialign/fujierr"
	"github.com/fujialign/fujialign/observability"
	"github.com/fujialign/fujialign/queue"
	"github.com/fujialign/fujialign/settings"
)

// maxSlots is the hard ceiling on worker parallelism; concurrency
// settings are clamped into [1, maxSlots].
const maxSlots = 10

const (
	idlePoll           = 500 * time.Millisecond
	concurrencyRefresh = 10 * time.Second
)

// Dispatcher executes one leased job. *Handlers is the production
// implementation; tests substitute their own.
type Dispatcher interface {
	Dispatch(ctx context.Context, job queue.Job) error
}

// SettingsSource yields the settings snapshot the pool polls for
// worker_concurrency. *settings.Store is the production implementation.
type SettingsSource interface {
	Snapshot(ctx context.Context) (settings.Snapshot, error)
}

// Pool runs up to maxSlots lease/process/ack loops against a Queue, with
// the active slot count tracking Runtime Settings' worker_concurrency so
// concurrency changes take effect without a restart.
type Pool struct {
	queue      *queue.Queue
	dispatcher Dispatcher
	settings   SettingsSource

	refreshInterval time.Duration

	desired atomic.Int32
	wg      sync.WaitGroup
}

// New builds a Pool. dispatcher carries the Event Store dependencies the
// per-kind job handlers need; settingsSrc feeds the concurrency watcher.
func New(q *queue.Queue, dispatcher Dispatcher, settingsSrc SettingsSource) *Pool {
	p := &Pool{queue: q, dispatcher: dispatcher, settings: settingsSrc, refreshInterval: concurrencyRefresh}
	p.desired.Store(1)
	return p
}

// SetInitialConcurrency seeds the slot count used until Runtime Settings
// first loads (the WORKER_CONCURRENCY startup value). Once a settings
// snapshot is readable it becomes the source of truth.
func (p *Pool) SetInitialConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	if n > maxSlots {
		n = maxSlots
	}
	p.desired.Store(int32(n))
}

// Run blocks until ctx is cancelled, then waits for every slot to wind
// down before returning, the graceful-shutdown drain behavior: a job still
// in flight sees the cancellation and is returned to the waiting set,
// unless its handler completes first.
func (p *Pool) Run(ctx context.Context) {
	p.wg.Add(1)
	go p.watchConcurrency(ctx)

	p.wg.Add(1)
	go p.heartbeatLoop(ctx)

	for slot := 0; slot < maxSlots; slot++ {
		p.wg.Add(1)
		go p.slotLoop(ctx, slot)
	}

	<-ctx.Done()
	p.wg.Wait()
}

func (p *Pool) slotLoop(ctx context.Context, slot int) {
	defer p.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		if int32(slot) >= p.desired.Load() {
			if !sleepOrDone(ctx, idlePoll) {
				return
			}
			continue
		}

		job, ok, err := p.queue.Dequeue(ctx)
		if err != nil {
			logger.Warn("dequeue failed", "slot", slot, "error", err)
			if !sleepOrDone(ctx, idlePoll) {
				return
			}
			continue
		}
		if !ok {
			if !sleepOrDone(ctx, idlePoll) {
				return
			}
			continue
		}

		p.process(ctx, job)
	}
}

func (p *Pool) process(ctx context.Context, job queue.Job) {
	jobCtx, cancel := context.WithTimeout(ctx, DeadlineFor(job.Kind))
	defer cancel()

	// Acks must land even while the pool is draining after shutdown, so
	// they run on a context that survives ctx's cancellation.
	ackCtx := context.WithoutCancel(ctx)

	err := observability.WrapJob(jobCtx, string(job.Kind), func(ctx context.Context) error {
		return p.dispatcher.Dispatch(ctx, job)
	})
	if err != nil {
		// A handler cut short by the per-kind deadline surfaces as a
		// cancellation; reclassify it as a timeout so it counts toward
		// max_attempts and retries. A shutdown cancellation instead hands
		// the job back to the waiting set unharmed.
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			err = fujierr.New(fujierr.KindJobTimeout, "worker.process", err, map[string]interface{}{"kind": string(job.Kind)})
		} else if ctx.Err() != nil {
			if reqErr := p.queue.Requeue(ackCtx, job.ID); reqErr != nil {
				logger.Error("failed to return job to waiting on shutdown", "job_id", job.ID, "error", reqErr)
			}
			return
		}
		if failErr := p.queue.Fail(ackCtx, job.ID, err); failErr != nil {
			logger.Error("failed to record job failure", "job_id", job.ID, "error", failErr)
		}
		return
	}
	if err := p.queue.Complete(ackCtx, job.ID); err != nil {
		logger.Error("failed to record job completion", "job_id", job.ID, "error", err)
	}
}

// DeadlineFor returns the per-kind processing deadline: a job still
// running past this is cancelled and marked failed-with-timeout, subject
// to the retry policy.
func DeadlineFor(kind queue.Kind) time.Duration {
	switch kind {
	case queue.KindLocationRange:
		return 20 * time.Minute
	case queue.KindMonthlyRange:
		return 5 * time.Minute
	default:
		return 1 * time.Minute
	}
}

// watchConcurrency keeps the pool's active slot count in sync with
// Runtime Settings, clamped to [1, maxSlots].
func (p *Pool) watchConcurrency(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.refreshInterval)
	defer ticker.Stop()

	refresh := func() {
		snap, err := p.settings.Snapshot(ctx)
		if err != nil {
			return
		}
		n := snap.WorkerConcurrency
		if n < 1 {
			n = 1
		}
		if n > maxSlots {
			n = maxSlots
		}
		if int32(n) != p.desired.Load() {
			logger.Info("worker concurrency changed", "from", p.desired.Load(), "to", n)
			p.desired.Store(int32(n))
		}
	}

	refresh()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
