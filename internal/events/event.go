// Package events defines the follow-up domain events. The bus itself lives
// in platform/events.
package events

import (
	"time"

	"procurement_followup/platform/events"
	"procurement_followup/platform/logger"

	"github.com/google/uuid"
)

type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

var NewBaseEvent = events.NewBaseEvent

// NewInMemoryBus returns the process-local bus shared by the API and the worker.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return events.NewInMemoryBus(log)
}

// =============================================================================
// Follow-up Domain Events
// =============================================================================

// FollowUpDispatched is published after a transport accepted or rejected a follow-up.
type FollowUpDispatched struct {
	BaseEvent
	OrderID           uuid.UUID      `json:"orderId"`
	AttemptID         uuid.UUID      `json:"attemptId"`
	AttemptNumber     int            `json:"attemptNumber"`
	Channel           string         `json:"channel"`
	ProviderMessageID string         `json:"providerMessageId,omitempty"`
	Success           bool           `json:"success"`
	Error             string         `json:"error,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

func (e FollowUpDispatched) EventName() string { return "followup.dispatched" }

// EscalationCreated is published when an order crosses the escalation threshold.
type EscalationCreated struct {
	BaseEvent
	EscalationID    uuid.UUID `json:"escalationId"`
	OrderID         uuid.UUID `json:"orderId"`
	ExternalOrderID string    `json:"externalOrderId"`
	Reason          string    `json:"reason"`
	Notes           string    `json:"notes"`
	AttemptCount    int       `json:"attemptCount"`
}

func (e EscalationCreated) EventName() string { return "followup.escalation.created" }

// =============================================================================
// Provider Reply Events
// =============================================================================

// ProviderReplyReceived is published once a reply was matched to an attempt.
type ProviderReplyReceived struct {
	BaseEvent
	OrderID   uuid.UUID `json:"orderId"`
	AttemptID uuid.UUID `json:"attemptId"`
	Channel   string    `json:"channel"`
	From      string    `json:"from,omitempty"`
	Summary   string    `json:"summary,omitempty"`
}

func (e ProviderReplyReceived) EventName() string { return "replies.received" }

// OrderStatusChanged is published when a reply moves an order to a new status.
type OrderStatusChanged struct {
	BaseEvent
	OrderID          uuid.UUID  `json:"orderId"`
	OldStatus        string     `json:"oldStatus"`
	NewStatus        string     `json:"newStatus"`
	ExpectedDelivery *time.Time `json:"expectedDelivery,omitempty"`
	DelayReason      string     `json:"delayReason,omitempty"`
}

func (e OrderStatusChanged) EventName() string { return "orders.status.changed" }
