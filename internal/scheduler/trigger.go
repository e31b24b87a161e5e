package scheduler

import (
	"context"
	"errors"
	"time"

	"procurement_followup/platform/logger"
)

// PeriodicTrigger enqueues the scheduler run and the stale sweep on fixed
// intervals. Only one process should run it; duplicate enqueues are dropped
// by the queue's uniqueness window.
type PeriodicTrigger struct {
	client        *Client
	log           *logger.Logger
	runInterval   time.Duration
	sweepInterval time.Duration
}

func NewPeriodicTrigger(client *Client, log *logger.Logger, runInterval, sweepInterval time.Duration) *PeriodicTrigger {
	if runInterval <= 0 {
		runInterval = time.Hour
	}
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	return &PeriodicTrigger{
		client:        client,
		log:           log,
		runInterval:   runInterval,
		sweepInterval: sweepInterval,
	}
}

func (t *PeriodicTrigger) Run(ctx context.Context) {
	if t == nil || t.client == nil {
		return
	}

	t.enqueueRun(ctx)
	t.enqueueSweep(ctx)

	runTicker := time.NewTicker(t.runInterval)
	defer runTicker.Stop()
	sweepTicker := time.NewTicker(t.sweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-runTicker.C:
			t.enqueueRun(ctx)
		case <-sweepTicker.C:
			t.enqueueSweep(ctx)
		}
	}
}

func (t *PeriodicTrigger) enqueueRun(ctx context.Context) {
	err := t.client.EnqueueRun(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrRunInProgress):
		t.log.Info("scheduler run already queued")
	default:
		t.log.Warn("scheduler run enqueue failed", "error", err)
	}
}

func (t *PeriodicTrigger) enqueueSweep(ctx context.Context) {
	if err := t.client.EnqueueSweep(ctx, t.sweepInterval); err != nil {
		t.log.Warn("stale sweep enqueue failed", "error", err)
	}
}
