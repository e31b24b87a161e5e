// Package locks provides keyed mutual exclusion, in-process or across processes via Redis.
// This is part of the platform layer and contains no business logic.
package locks

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotAcquired is returned by TryAcquire callers that require the lock.
var ErrNotAcquired = errors.New("lock held by another holder")

// Release frees a held lock. It is safe to call more than once.
type Release func()

// Locker hands out exclusive leases on string keys.
type Locker interface {
	// Acquire blocks until the key is free or ctx is done.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
	// TryAcquire returns immediately; ok is false when the key is already held.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release Release, ok bool, err error)
}

type localSlot struct {
	ch   chan struct{}
	refs int
}

// LocalLocker is a keyed mutex scoped to the current process. TTLs are ignored.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*localSlot
}

// NewLocal creates an in-process Locker.
func NewLocal() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*localSlot)}
}

func (l *LocalLocker) slot(key string) *localSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &localSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *LocalLocker) drop(key string, s *localSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *LocalLocker) release(key string, s *localSlot) Release {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.drop(key, s)
		})
	}
}

// Acquire implements Locker.
func (l *LocalLocker) Acquire(ctx context.Context, key string, _ time.Duration) (Release, error) {
	s := l.slot(key)
	select {
	case s.ch <- struct{}{}:
		return l.release(key, s), nil
	case <-ctx.Done():
		l.drop(key, s)
		return nil, ctx.Err()
	}
}

// TryAcquire implements Locker.
func (l *LocalLocker) TryAcquire(_ context.Context, key string, _ time.Duration) (Release, bool, error) {
	s := l.slot(key)
	select {
	case s.ch <- struct{}{}:
		return l.release(key, s), true, nil
	default:
		l.drop(key, s)
		return nil, false, nil
	}
}

// OrderKey is the lock key guarding all writes for one order.
func OrderKey(orderID string) string {
	return "order:" + orderID
}
