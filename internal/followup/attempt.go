// Package followup tracks every follow-up attempt sent to a provider, the
// escalation ledger and the idempotence receipts of delivery callbacks.
package followup

import (
	"strings"
	"time"

	"procurement_followup/internal/channel"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a single attempt.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSent      Status = "SENT"
	StatusFailed    Status = "FAILED"
	StatusDelivered Status = "DELIVERED"
	StatusRead      Status = "READ"
	StatusReplied   Status = "REPLIED"
	StatusBounced   Status = "BOUNCED"
)

// ParseStatus accepts a status name in any case.
func ParseStatus(value string) (Status, bool) {
	s := Status(strings.ToUpper(strings.TrimSpace(value)))
	switch s {
	case StatusPending, StatusSent, StatusFailed, StatusDelivered, StatusRead, StatusReplied, StatusBounced:
		return s, true
	}
	return "", false
}

// Successful reports whether the status means the message left the transport.
func (s Status) Successful() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusRead, StatusReplied:
		return true
	}
	return false
}

// Attempt is one outbound follow-up message.
type Attempt struct {
	ID                uuid.UUID
	OrderID           uuid.UUID
	ProviderID        uuid.UUID
	Channel           channel.Channel
	Recipient         string
	Subject           string
	Message           string
	Status            Status
	Success           bool
	AttemptNumber     int
	ProviderMessageID *string
	ReplyContent      *string
	LastError         *string
	Metadata          map[string]any
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CreateParams describes a new attempt. New attempts always start PENDING and
// are numbered by the tracker.
type CreateParams struct {
	OrderID    uuid.UUID
	ProviderID uuid.UUID
	Channel    channel.Channel
	Recipient  string
	Subject    string
	Message    string
	Metadata   map[string]any
}

// StatusUpdate is a transition for an existing attempt. Nil fields are left
// unchanged; Metadata is merged into the stored object.
type StatusUpdate struct {
	Status            Status
	Success           *bool
	ProviderMessageID *string
	ReplyContent      *string
	LastError         *string
	Metadata          map[string]any
}

// PendingFilter narrows GetPendingJobs.
type PendingFilter struct {
	Channel channel.Channel
	MaxAge  time.Duration
}

// MaxPendingJobs caps GetPendingJobs results.
const MaxPendingJobs = 100

// MaxMessageIDScan bounds how many recent attempts are scanned when
// correlating a provider message id.
const MaxMessageIDScan = 50

// Escalation reasons and statuses.
const (
	ReasonAttemptThreshold = "ATTEMPT_THRESHOLD_REACHED"
	EscalationOpen         = "OPEN"
)

// Escalation is a ledger row asking a human to intervene on an order.
type Escalation struct {
	ID           uuid.UUID
	OrderID      uuid.UUID
	Reason       string
	Status       string
	Notes        string
	AttemptCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func ptr[T any](v T) *T {
	return &v
}

// Bool returns a pointer to b for StatusUpdate.Success.
func Bool(b bool) *bool { return ptr(b) }

// String returns a pointer to s, or nil when s is blank.
func String(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return ptr(s)
}
