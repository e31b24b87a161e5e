package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"procurement_followup/internal/followup"
	"procurement_followup/platform/locks"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type blockingEngine struct {
	started chan struct{}
	release chan struct{}
	runs    int
}

func (b *blockingEngine) Run(context.Context) BatchResult {
	b.runs++
	if b.started != nil {
		close(b.started)
		b.started = nil
		<-b.release
	}
	return BatchResult{Processed: 1}
}

func TestRunnerRejectsOverlappingRun(t *testing.T) {
	engine := &blockingEngine{started: make(chan struct{}), release: make(chan struct{})}
	started := engine.started
	runner := NewRunner(engine, nil, nil, testLogger(), time.Minute)

	done := make(chan error, 1)
	go func() {
		_, err := runner.RunOnce(context.Background())
		done <- err
	}()
	<-started

	if !runner.Running() {
		t.Fatalf("expected runner to report an active run")
	}
	if _, err := runner.RunOnce(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}

	close(engine.release)
	if err := <-done; err != nil {
		t.Fatalf(errUnexpected, err)
	}
	if runner.Running() {
		t.Fatalf("expected runner to be idle")
	}

	res, err := runner.RunOnce(context.Background())
	if err != nil || res.Processed != 1 {
		t.Fatalf("expected a fresh run, got %+v, %v", res, err)
	}
}

func TestRunnerHonorsDistributedRunLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := locks.NewRedis(client)

	release, ok, err := locker.TryAcquire(context.Background(), runLockKey, time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected to take the run lock, got %v, %v", ok, err)
	}

	engine := &blockingEngine{}
	runner := NewRunner(engine, locker, nil, testLogger(), time.Minute)
	if _, err := runner.RunOnce(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress while another process holds the lock, got %v", err)
	}
	if engine.runs != 0 {
		t.Fatalf("engine must not run without the lock")
	}

	release()
	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf(errUnexpected, err)
	}
	if engine.runs != 1 {
		t.Fatalf("expected one run, got %d", engine.runs)
	}
}

type fakeStaleStore struct {
	cutoff time.Time
	reason string
	failed []followup.Attempt
	err    error
}

func (f *fakeStaleStore) MarkStalePendingFailed(_ context.Context, cutoff time.Time, reason string) ([]followup.Attempt, error) {
	f.cutoff = cutoff
	f.reason = reason
	return f.failed, f.err
}

func TestStaleAttemptSweeperUsesCutoff(t *testing.T) {
	store := &fakeStaleStore{failed: []followup.Attempt{{ID: uuid.New(), OrderID: uuid.New(), Status: followup.StatusFailed}}}
	sweeper := NewStaleAttemptSweeper(store, nil, testLogger(), time.Minute, 30*time.Minute)
	sweeper.now = func() time.Time { return testNow }

	failed, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf(errUnexpected, err)
	}
	if len(failed) != 1 {
		t.Fatalf("expected one failed attempt, got %d", len(failed))
	}
	if !store.cutoff.Equal(testNow.Add(-30 * time.Minute)) {
		t.Fatalf("unexpected cutoff %v", store.cutoff)
	}
	if store.reason != StalePendingReason {
		t.Fatalf("unexpected reason %q", store.reason)
	}
}

func TestStaleAttemptSweeperReportsStoreError(t *testing.T) {
	store := &fakeStaleStore{err: errors.New("connection reset")}
	sweeper := NewStaleAttemptSweeper(store, nil, testLogger(), 0, 0)

	if _, err := sweeper.Sweep(context.Background()); err == nil {
		t.Fatalf("expected store error")
	}
	if sweeper.maxAge != defaultStalePendingAfter || sweeper.interval != defaultSweepInterval {
		t.Fatalf("expected defaults, got %v / %v", sweeper.maxAge, sweeper.interval)
	}
}
