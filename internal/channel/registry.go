package channel

import (
	"context"
	"time"

	"procurement_followup/platform/apperr"
)

// Unavailable is the transport installed for a channel that was not configured at startup.
type Unavailable struct {
	channel Channel
	reason  string
}

// NewUnavailable returns a transport that rejects every send for ch.
func NewUnavailable(ch Channel, reason string) Unavailable {
	return Unavailable{channel: ch, reason: reason}
}

// Channel implements Transport.
func (u Unavailable) Channel() Channel { return u.channel }

// Send implements Transport. It never performs I/O.
func (u Unavailable) Send(_ context.Context, _ Message) (SendResult, error) {
	err := apperr.Unavailable(string(u.channel) + " transport")
	if u.reason != "" {
		err = apperr.New(apperr.KindUnavailable, string(u.channel)+" transport unavailable: "+u.reason)
	}
	return SendResult{Channel: u.channel, Status: SendFailed, QueuedAt: time.Now(), Error: err.Error()}, err
}

// Registry resolves the transport for each channel. Every channel always has an entry.
type Registry struct {
	transports map[Channel]Transport
}

// NewRegistry builds a registry from the configured transports. Channels without
// a transport get an Unavailable entry.
func NewRegistry(transports ...Transport) *Registry {
	r := &Registry{transports: make(map[Channel]Transport, len(All))}
	for _, ch := range All {
		r.transports[ch] = NewUnavailable(ch, "not configured")
	}
	for _, t := range transports {
		if t == nil {
			continue
		}
		r.transports[t.Channel()] = t
	}
	return r
}

// Transport returns the transport registered for ch.
func (r *Registry) Transport(ch Channel) Transport {
	if t, ok := r.transports[ch]; ok {
		return t
	}
	return NewUnavailable(ch, "unknown channel")
}

// Available reports whether ch has a real transport.
func (r *Registry) Available(ch Channel) bool {
	_, unavailable := r.Transport(ch).(Unavailable)
	return !unavailable
}
