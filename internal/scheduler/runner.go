package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"procurement_followup/platform/locks"
	"procurement_followup/platform/logger"
	"procurement_followup/platform/metrics"

	"github.com/google/uuid"
)

// ErrRunInProgress is returned when a run is triggered while another is active.
var ErrRunInProgress = errors.New("scheduler run already in progress")

const runLockKey = "followup:scheduler:run"

// BatchRunner runs one batch.
type BatchRunner interface {
	Run(ctx context.Context) BatchResult
}

// Runner guarantees that batches never overlap, within this process via an
// in-flight flag and across processes via the run lock.
type Runner struct {
	engine   BatchRunner
	locker   locks.Locker
	metrics  *metrics.Metrics
	log      *logger.Logger
	lockTTL  time.Duration
	inFlight atomic.Bool
}

// NewRunner wraps engine. locker may be nil when only one process schedules.
func NewRunner(engine BatchRunner, locker locks.Locker, m *metrics.Metrics, log *logger.Logger, lockTTL time.Duration) *Runner {
	if lockTTL <= 0 {
		lockTTL = time.Hour
	}
	return &Runner{engine: engine, locker: locker, metrics: m, log: log, lockTTL: lockTTL}
}

// RunOnce runs a batch unless one is already running.
func (r *Runner) RunOnce(ctx context.Context) (BatchResult, error) {
	if !r.inFlight.CompareAndSwap(false, true) {
		r.skip("in-process run active")
		return BatchResult{}, ErrRunInProgress
	}
	defer r.inFlight.Store(false)

	if r.locker != nil {
		release, ok, err := r.locker.TryAcquire(ctx, runLockKey, r.lockTTL)
		if err != nil {
			return BatchResult{}, err
		}
		if !ok {
			r.skip("run lock held by another process")
			return BatchResult{}, ErrRunInProgress
		}
		defer release()
	}

	start := time.Now()
	result := r.engine.Run(logger.ContextWithRunID(ctx, uuid.NewString()))
	r.metrics.RunCompleted(time.Since(start).Seconds())
	return result, nil
}

// Running reports whether a batch is active in this process.
func (r *Runner) Running() bool {
	return r.inFlight.Load()
}

// Loop triggers RunOnce every interval until ctx is done. Used when no queue
// is configured.
func (r *Runner) Loop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
			r.log.Error("scheduler run failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Runner) skip(why string) {
	r.metrics.RunSkipped()
	r.log.Info("scheduler run skipped", "reason", why)
}
