// Package channel defines the outbound communication channels and the
// transports that deliver follow-up messages over them.
package channel

import (
	"context"
	"strings"
	"time"
)

// Channel is a communication medium with its own transport and webhook shape.
type Channel string

const (
	Email Channel = "EMAIL"
	SMS   Channel = "SMS"
	Voice Channel = "VOICE"
)

// All lists the supported channels in display order.
var All = []Channel{Email, SMS, Voice}

// Parse accepts a channel name in any case.
func Parse(value string) (Channel, bool) {
	switch Channel(strings.ToUpper(strings.TrimSpace(value))) {
	case Email:
		return Email, true
	case SMS:
		return SMS, true
	case Voice:
		return Voice, true
	default:
		return "", false
	}
}

func (c Channel) String() string { return string(c) }

// Valid reports whether c is one of the supported channels.
func (c Channel) Valid() bool {
	return c == Email || c == SMS || c == Voice
}

// SendStatus is the transport-level outcome of a send call.
type SendStatus string

const (
	SendQueued SendStatus = "QUEUED"
	SendSent   SendStatus = "SENT"
	SendFailed SendStatus = "FAILED"
)

// Message is one outbound follow-up handed to a transport.
type Message struct {
	OrderID          string
	OrderRef         string
	ProviderID       string
	Channel          Channel
	To               string
	ToName           string
	Subject          string
	Content          string
	PartNumber       string
	ExpectedDelivery string
	Metadata         map[string]any
}

// SendResult is what a transport reports after accepting or rejecting a message.
type SendResult struct {
	MessageID string
	Channel   Channel
	Status    SendStatus
	QueuedAt  time.Time
	Error     string
}

// Transport delivers messages over a single channel.
type Transport interface {
	Channel() Channel
	Send(ctx context.Context, msg Message) (SendResult, error)
}
