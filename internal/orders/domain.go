// Package orders holds the procurement order, provider and order-history model
// together with their Postgres repositories.
package orders

import (
	"strings"
	"time"

	"procurement_followup/internal/channel"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an order. Any status may follow any other.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusInTransit Status = "IN_TRANSIT"
	StatusDelivered Status = "DELIVERED"
	StatusDelayed   Status = "DELAYED"
	StatusCancelled Status = "CANCELLED"
)

// ParseStatus accepts a status name in any case.
func ParseStatus(value string) (Status, bool) {
	s := Status(strings.ToUpper(strings.TrimSpace(value)))
	switch s {
	case StatusPending, StatusInTransit, StatusDelivered, StatusDelayed, StatusCancelled:
		return s, true
	}
	return "", false
}

// Priority drives how aggressively an order is chased.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// ParsePriority accepts a priority name in any case.
func ParsePriority(value string) (Priority, bool) {
	p := Priority(strings.ToUpper(strings.TrimSpace(value)))
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return p, true
	}
	return "", false
}

// Order is a procurement order under tracking.
type Order struct {
	ID                   uuid.UUID
	ExternalOrderID      string
	PartNumber           string
	Description          string
	ProviderID           uuid.UUID
	Status               Status
	Priority             Priority
	OrderDate            time.Time
	ExpectedDeliveryDate *time.Time
	LeadTimeDays         *int
	DelayReason          *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Ref is the identifier shown to providers: the external id when present.
func (o Order) Ref() string {
	if o.ExternalOrderID != "" {
		return o.ExternalOrderID
	}
	return o.ID.String()
}

// Provider is a supplier that receives follow-ups.
type Provider struct {
	ID               uuid.UUID
	Name             string
	Country          string
	PreferredChannel channel.Channel
	ContactInfo      map[channel.Channel]string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ContactFor returns the address or number registered for ch.
func (p Provider) ContactFor(ch channel.Channel) (string, bool) {
	addr, ok := p.ContactInfo[ch]
	addr = strings.TrimSpace(addr)
	return addr, ok && addr != ""
}

// HistoryType classifies an order history entry.
type HistoryType string

const (
	HistoryAIAnalysis       HistoryType = "AI_ANALYSIS"
	HistoryFollowUpSent     HistoryType = "FOLLOW_UP_SENT"
	HistoryResponseReceived HistoryType = "RESPONSE_RECEIVED"
	HistoryStatusUpdate     HistoryType = "STATUS_UPDATE"
	HistoryManualEntry      HistoryType = "MANUAL_ENTRY"
	HistorySystemEvent      HistoryType = "SYSTEM_EVENT"
	HistoryProviderReply    HistoryType = "PROVIDER_REPLY"
)

// HistoryEntry is one append-only record in an order's audit trail.
type HistoryEntry struct {
	ID               uuid.UUID
	OrderID          uuid.UUID
	Type             HistoryType
	AISummary        *string
	Context          map[string]any
	Metadata         map[string]any
	RawData          map[string]any
	ConversationTurn int
	CreatedAt        time.Time
}

// CreateHistoryParams describes a new history entry. ConversationTurn is
// assigned as max+1 for the order when nil.
type CreateHistoryParams struct {
	OrderID          uuid.UUID
	Type             HistoryType
	AISummary        *string
	Context          map[string]any
	Metadata         map[string]any
	RawData          map[string]any
	ConversationTurn *int
}

// ReplyUpdate carries the optional field changes a provider reply may cause.
type ReplyUpdate struct {
	Status               *Status
	ExpectedDeliveryDate *time.Time
	Priority             *Priority
	DelayReason          *string
}

// Empty reports whether the update changes nothing.
func (u ReplyUpdate) Empty() bool {
	return u.Status == nil && u.ExpectedDeliveryDate == nil && u.Priority == nil && u.DelayReason == nil
}

// SummaryMaxLen bounds AI summaries stored on history entries.
const SummaryMaxLen = 2000

// TruncateSummary trims text to maxLen, appending "..." on overflow.
// Returns nil for blank input.
func TruncateSummary(text string, maxLen int) *string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if len(trimmed) > maxLen {
		trimmed = trimmed[:maxLen] + "..."
	}
	return &trimmed
}
