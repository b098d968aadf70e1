package worker

import (
	"context"
	"time"
)

const heartbeatInterval = 5 * time.Minute

// heartbeatLoop emits queue statistics every five minutes as the worker
// heartbeat diagnostic record, reaping any expired leases first so a
// crashed worker's orphaned jobs re-enter the retry cycle.
func (p *Pool) heartbeatLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	emit := func() {
		if reaped, err := p.queue.ReapExpiredLeases(ctx); err != nil {
			logger.Warn("heartbeat: lease reap failed", "error", err)
		} else if reaped > 0 {
			logger.Warn("heartbeat: reaped expired leases", "count", reaped)
		}

		stats, err := p.queue.Stats(ctx)
		if err != nil {
			logger.Warn("heartbeat: failed to read queue stats", "error", err)
			return
		}
		logger.Info("worker heartbeat",
			"waiting", stats.Waiting,
			"delayed", stats.Delayed,
			"active", stats.Active,
			"failed", stats.Failed,
			"concurrency", p.desired.Load(),
		)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			emit()
		}
	}
}
