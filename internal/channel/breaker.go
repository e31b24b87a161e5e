package channel

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSettings tunes the circuit breaker wrapped around a transport.
type BreakerSettings struct {
	MinRequests      uint32
	FailureThreshold uint32
	Interval         time.Duration
	OpenTimeout      time.Duration
	HalfOpenMax      uint32
}

// DefaultBreakerSettings trips after 5 failures out of at least 5 calls in a minute.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MinRequests:      5,
		FailureThreshold: 5,
		Interval:         time.Minute,
		OpenTimeout:      30 * time.Second,
		HalfOpenMax:      1,
	}
}

type breakerTransport struct {
	next Transport
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker wraps a transport so repeated vendor failures short-circuit further sends.
func WithBreaker(next Transport, s BreakerSettings) Transport {
	if _, ok := next.(Unavailable); ok {
		return next
	}
	settings := gobreaker.Settings{
		Name:        "transport-" + string(next.Channel()),
		MaxRequests: s.HalfOpenMax,
		Interval:    s.Interval,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			return counts.TotalFailures >= s.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellations say nothing about vendor health.
			return err == nil || err == context.Canceled
		},
	}
	return &breakerTransport{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *breakerTransport) Channel() Channel { return b.next.Channel() }

func (b *breakerTransport) Send(ctx context.Context, msg Message) (SendResult, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Send(ctx, msg)
	})
	if err != nil {
		if res, ok := out.(SendResult); ok {
			return res, err
		}
		return SendResult{Channel: b.next.Channel(), Status: SendFailed, QueuedAt: time.Now(), Error: err.Error()}, err
	}
	return out.(SendResult), nil
}
