package scheduler

import (
	"context"
	"time"

	"procurement_followup/internal/followup"
	"procurement_followup/platform/logger"
	"procurement_followup/platform/metrics"
)

const (
	defaultSweepInterval     = 5 * time.Minute
	defaultStalePendingAfter = 30 * time.Minute
)

// StalePendingReason is written to attempts that never got a transport outcome.
const StalePendingReason = "stale pending attempt: no transport outcome recorded"

// StaleAttemptStore fails PENDING attempts older than a cutoff.
type StaleAttemptStore interface {
	MarkStalePendingFailed(ctx context.Context, cutoff time.Time, reason string) ([]followup.Attempt, error)
}

// StaleAttemptSweeper periodically fails attempts left PENDING by a crash
// between attempt creation and the transport outcome.
type StaleAttemptSweeper struct {
	store    StaleAttemptStore
	metrics  *metrics.Metrics
	log      *logger.Logger
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
}

func NewStaleAttemptSweeper(store StaleAttemptStore, m *metrics.Metrics, log *logger.Logger, interval, maxAge time.Duration) *StaleAttemptSweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if maxAge <= 0 {
		maxAge = defaultStalePendingAfter
	}

	return &StaleAttemptSweeper{
		store:    store,
		metrics:  m,
		log:      log,
		interval: interval,
		maxAge:   maxAge,
		now:      time.Now,
	}
}

func (s *StaleAttemptSweeper) Run(ctx context.Context) {
	if s == nil || s.store == nil {
		return
	}

	_, _ = s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns the attempts it failed.
func (s *StaleAttemptSweeper) Sweep(ctx context.Context) ([]followup.Attempt, error) {
	cutoff := s.now().Add(-s.maxAge)

	failed, err := s.store.MarkStalePendingFailed(ctx, cutoff, StalePendingReason)
	if err != nil {
		s.log.Warn("stale attempt sweep failed", "error", err)
		return nil, err
	}

	if len(failed) > 0 {
		s.metrics.StaleAttemptsFailed(len(failed))
		for _, a := range failed {
			s.log.Warn("stale pending attempt failed",
				"attemptId", a.ID,
				"orderId", a.OrderID,
				"channel", a.Channel,
				"createdAt", a.CreatedAt,
			)
		}
	}
	return failed, nil
}
