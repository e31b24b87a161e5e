package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"procurement_followup/internal/channel"
	"procurement_followup/internal/followup"
	"procurement_followup/internal/orders"
	"procurement_followup/platform/apperr"

	"github.com/google/uuid"
)

const historyWindow = 10

// OrderReader is the read side of the orders repository.
type OrderReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (orders.Order, error)
	GetProvider(ctx context.Context, id uuid.UUID) (orders.Provider, error)
	ListRecentHistory(ctx context.Context, orderID uuid.UUID, limit int) ([]orders.HistoryEntry, error)
}

// AttemptReader is the read side of the attempt tracker.
type AttemptReader interface {
	CountByOrder(ctx context.Context, orderID uuid.UUID) (int, error)
	LatestByOrder(ctx context.Context, orderID uuid.UUID) (*followup.Attempt, error)
}

// ContextLoader assembles the order snapshot handed to a model.
type ContextLoader struct {
	orders   OrderReader
	attempts AttemptReader
	now      func() time.Time
}

func NewContextLoader(orderReader OrderReader, attempts AttemptReader) *ContextLoader {
	return &ContextLoader{orders: orderReader, attempts: attempts, now: time.Now}
}

// OrderSnapshot is the model-facing view of an order.
type OrderSnapshot struct {
	OrderID              string            `json:"orderId"`
	ExternalOrderID      string            `json:"externalOrderId"`
	PartNumber           string            `json:"partNumber"`
	Description          string            `json:"description"`
	Status               string            `json:"status"`
	Priority             string            `json:"priority"`
	OrderDate            string            `json:"orderDate"`
	ExpectedDeliveryDate string            `json:"expectedDeliveryDate,omitempty"`
	LeadTimeDays         *int              `json:"leadTimeDays,omitempty"`
	DelayReason          string            `json:"delayReason,omitempty"`
	Today                string            `json:"today"`
	ProviderName         string            `json:"providerName"`
	ProviderCountry      string            `json:"providerCountry"`
	PreferredChannel     string            `json:"preferredChannel"`
	AvailableChannels    []string          `json:"availableChannels"`
	AttemptCount         int               `json:"attemptCount"`
	LastAttempt          *AttemptSnapshot  `json:"lastAttempt,omitempty"`
	RecentHistory        []HistorySnapshot `json:"recentHistory"`

	provider orders.Provider
}

type AttemptSnapshot struct {
	Channel   string `json:"channel"`
	Status    string `json:"status"`
	SentAt    string `json:"sentAt"`
	Message   string `json:"message"`
	Reply     string `json:"reply,omitempty"`
	LastError string `json:"lastError,omitempty"`
}

type HistorySnapshot struct {
	Type    string `json:"type"`
	At      string `json:"at"`
	Summary string `json:"summary,omitempty"`
}

// Load builds the snapshot for one order.
func (l *ContextLoader) Load(ctx context.Context, orderID uuid.UUID) (OrderSnapshot, error) {
	order, err := l.orders.GetByID(ctx, orderID)
	if errors.Is(err, orders.ErrOrderNotFound) {
		return OrderSnapshot{}, apperr.NotFound(fmt.Sprintf("order %s not found", orderID))
	}
	if err != nil {
		return OrderSnapshot{}, err
	}
	provider, err := l.orders.GetProvider(ctx, order.ProviderID)
	if err != nil {
		return OrderSnapshot{}, err
	}
	count, err := l.attempts.CountByOrder(ctx, orderID)
	if err != nil {
		return OrderSnapshot{}, err
	}
	last, err := l.attempts.LatestByOrder(ctx, orderID)
	if err != nil {
		return OrderSnapshot{}, err
	}
	history, err := l.orders.ListRecentHistory(ctx, orderID, historyWindow)
	if err != nil {
		return OrderSnapshot{}, err
	}
	return buildSnapshot(order, provider, count, last, history, l.now()), nil
}

func buildSnapshot(order orders.Order, provider orders.Provider, count int, last *followup.Attempt, history []orders.HistoryEntry, now time.Time) OrderSnapshot {
	snap := OrderSnapshot{
		OrderID:          order.ID.String(),
		ExternalOrderID:  order.ExternalOrderID,
		PartNumber:       order.PartNumber,
		Description:      order.Description,
		Status:           string(order.Status),
		Priority:         string(order.Priority),
		OrderDate:        order.OrderDate.Format(time.DateOnly),
		LeadTimeDays:     order.LeadTimeDays,
		Today:            now.Format(time.DateOnly),
		ProviderName:     provider.Name,
		ProviderCountry:  provider.Country,
		PreferredChannel: string(provider.PreferredChannel),
		AttemptCount:     count,
		RecentHistory:    make([]HistorySnapshot, 0, len(history)),
		provider:         provider,
	}
	if order.ExpectedDeliveryDate != nil {
		snap.ExpectedDeliveryDate = order.ExpectedDeliveryDate.Format(time.DateOnly)
	}
	if order.DelayReason != nil {
		snap.DelayReason = *order.DelayReason
	}
	for _, ch := range channel.All {
		if _, ok := provider.ContactFor(ch); ok {
			snap.AvailableChannels = append(snap.AvailableChannels, string(ch))
		}
	}
	if last != nil {
		snap.LastAttempt = &AttemptSnapshot{
			Channel: string(last.Channel),
			Status:  string(last.Status),
			SentAt:  last.CreatedAt.Format(time.RFC3339),
			Message: last.Message,
		}
		if last.ReplyContent != nil {
			snap.LastAttempt.Reply = *last.ReplyContent
		}
		if last.LastError != nil {
			snap.LastAttempt.LastError = *last.LastError
		}
	}
	for _, h := range history {
		entry := HistorySnapshot{Type: string(h.Type), At: h.CreatedAt.Format(time.RFC3339)}
		if h.AISummary != nil {
			entry.Summary = *h.AISummary
		}
		snap.RecentHistory = append(snap.RecentHistory, entry)
	}
	return snap
}
