// Package dispatch sends one follow-up to an order's provider over a channel
// and records the attempt before and after the transport call.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"procurement_followup/internal/channel"
	"procurement_followup/internal/events"
	"procurement_followup/internal/followup"
	"procurement_followup/internal/orders"
	"procurement_followup/platform/apperr"
	"procurement_followup/platform/logger"
	"procurement_followup/platform/metrics"
	"procurement_followup/platform/phone"
	"procurement_followup/platform/validator"

	"github.com/google/uuid"
)

// SubjectPrefix starts every outbound subject line; replies carry it back.
const SubjectPrefix = "Order Update: "

// Subject builds the subject line for an order reference.
func Subject(orderRef string) string {
	return SubjectPrefix + orderRef
}

// OrderStore is the part of the orders repository the dispatcher uses.
type OrderStore interface {
	Resolve(ctx context.Context, ref string) (orders.Order, error)
	GetProvider(ctx context.Context, id uuid.UUID) (orders.Provider, error)
	CreateHistory(ctx context.Context, params orders.CreateHistoryParams) (orders.HistoryEntry, error)
}

// AttemptStore is the part of the attempt tracker the dispatcher uses.
type AttemptStore interface {
	CreateJob(ctx context.Context, params followup.CreateParams) (followup.Attempt, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, update followup.StatusUpdate) (followup.Attempt, error)
}

// Transports resolves the transport for a channel.
type Transports interface {
	Transport(ch channel.Channel) channel.Transport
}

// Request is one follow-up to send. OrderRef is an internal or external order id.
type Request struct {
	OrderRef string
	Channel  channel.Channel
	Message  string
	Metadata map[string]any
}

// Result describes the recorded attempt and the transport outcome.
type Result struct {
	AttemptID         uuid.UUID          `json:"attemptId"`
	AttemptNumber     int                `json:"attemptNumber"`
	OrderID           uuid.UUID          `json:"orderId"`
	ProviderMessageID string             `json:"providerMessageId,omitempty"`
	Channel           channel.Channel    `json:"channel"`
	Status            channel.SendStatus `json:"status"`
	QueuedAt          time.Time          `json:"queuedAt"`
	Error             string             `json:"error,omitempty"`
}

// Service is the Follow-Up Dispatcher.
type Service struct {
	orders     OrderStore
	attempts   AttemptStore
	transports Transports
	validator  *validator.Validator
	eventBus   events.Bus
	metrics    *metrics.Metrics
	log        *logger.Logger
	timeout    time.Duration
}

// Deps bundles the dispatcher's collaborators.
type Deps struct {
	Orders     OrderStore
	Attempts   AttemptStore
	Transports Transports
	Validator  *validator.Validator
	EventBus   events.Bus
	Metrics    *metrics.Metrics
	Log        *logger.Logger
	// Timeout bounds each transport call. Zero disables the bound.
	Timeout time.Duration
}

func New(deps Deps) *Service {
	v := deps.Validator
	if v == nil {
		v = validator.New()
	}
	return &Service{
		orders:     deps.Orders,
		attempts:   deps.Attempts,
		transports: deps.Transports,
		validator:  v,
		eventBus:   deps.EventBus,
		metrics:    deps.Metrics,
		log:        deps.Log,
		timeout:    deps.Timeout,
	}
}

// SendFollowUp resolves the order and recipient, records a PENDING attempt,
// calls the transport and records its outcome. Transport failures are returned
// as channel errors after the attempt is marked FAILED.
func (s *Service) SendFollowUp(ctx context.Context, req Request) (Result, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return Result{}, apperr.Validation("follow-up message must not be empty")
	}
	if !req.Channel.Valid() {
		return Result{}, apperr.Validation(fmt.Sprintf("unsupported channel %q", req.Channel))
	}

	order, err := s.orders.Resolve(ctx, req.OrderRef)
	if err != nil {
		return Result{}, err
	}

	provider, err := s.orders.GetProvider(ctx, order.ProviderID)
	if errors.Is(err, orders.ErrProviderNotFound) {
		return Result{}, apperr.NotFound(fmt.Sprintf("provider %s not found", order.ProviderID))
	}
	if err != nil {
		return Result{}, err
	}

	recipient, err := s.resolveRecipient(provider, req.Channel)
	if err != nil {
		return Result{}, err
	}

	subject := Subject(order.Ref())
	if custom, ok := req.Metadata["subject"].(string); ok && strings.TrimSpace(custom) != "" {
		subject = strings.TrimSpace(custom)
	}

	attempt, err := s.attempts.CreateJob(ctx, followup.CreateParams{
		OrderID:    order.ID,
		ProviderID: provider.ID,
		Channel:    req.Channel,
		Recipient:  recipient,
		Subject:    subject,
		Message:    message,
		Metadata:   req.Metadata,
	})
	if err != nil {
		return Result{}, err
	}

	msg := channel.Message{
		OrderID:    order.ID.String(),
		OrderRef:   order.Ref(),
		ProviderID: provider.ID.String(),
		Channel:    req.Channel,
		To:         recipient,
		ToName:     provider.Name,
		Subject:    subject,
		Content:    message,
		PartNumber: order.PartNumber,
		Metadata:   req.Metadata,
	}
	if order.ExpectedDeliveryDate != nil {
		msg.ExpectedDelivery = order.ExpectedDeliveryDate.Format("2006-01-02")
	}

	sendResult, sendErr := s.send(ctx, msg)
	if sendErr == nil && sendResult.Status == channel.SendFailed {
		sendErr = errors.New(firstNonEmpty(sendResult.Error, "transport reported failure"))
	}

	result := Result{
		AttemptID:     attempt.ID,
		AttemptNumber: attempt.AttemptNumber,
		OrderID:       order.ID,
		Channel:       req.Channel,
		Status:        sendResult.Status,
		QueuedAt:      sendResult.QueuedAt,
	}
	if result.QueuedAt.IsZero() {
		result.QueuedAt = time.Now()
	}

	if sendErr != nil {
		result.Status = channel.SendFailed
		result.Error = sendErr.Error()
		s.recordFailure(ctx, order, attempt, sendErr, req.Metadata)
		return result, apperr.ChannelFailure(string(req.Channel), sendErr)
	}

	result.ProviderMessageID = sendResult.MessageID
	s.recordSuccess(ctx, order, attempt, sendResult, req.Metadata)
	return result, nil
}

func (s *Service) send(ctx context.Context, msg channel.Message) (channel.SendResult, error) {
	transport := s.transports.Transport(msg.Channel)
	if transport == nil {
		return channel.SendResult{}, apperr.Unavailable(string(msg.Channel) + " transport")
	}

	sendCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return transport.Send(sendCtx, msg)
}

// resolveRecipient fails with a validation error when the provider has no
// usable contact for ch. No transport is touched before this check.
func (s *Service) resolveRecipient(provider orders.Provider, ch channel.Channel) (string, error) {
	addr, ok := provider.ContactFor(ch)
	if !ok {
		return "", apperr.Validation(fmt.Sprintf("provider %s has no %s contact", provider.Name, ch))
	}

	switch ch {
	case channel.Email:
		addr = strings.ToLower(addr)
		if !s.validator.Email(addr) {
			return "", apperr.Validation(fmt.Sprintf("provider %s has an invalid email contact", provider.Name))
		}
	case channel.SMS, channel.Voice:
		addr = phone.NormalizeE164InRegion(addr, regionOf(provider.Country))
		if !s.validator.E164(addr) {
			return "", apperr.Validation(fmt.Sprintf("provider %s has an invalid %s number", provider.Name, ch))
		}
	}
	return addr, nil
}

func (s *Service) recordSuccess(ctx context.Context, order orders.Order, attempt followup.Attempt, res channel.SendResult, metadata map[string]any) {
	_, err := s.attempts.UpdateJobStatus(ctx, attempt.ID, followup.StatusUpdate{
		Status:            followup.StatusSent,
		Success:           followup.Bool(true),
		ProviderMessageID: followup.String(res.MessageID),
		Metadata:          map[string]any{"transportStatus": string(res.Status)},
	})
	if err != nil {
		s.log.DatabaseError("update follow-up attempt", err)
	}

	s.metrics.Dispatched(string(attempt.Channel), string(followup.StatusSent))
	s.log.WithContext(ctx).FollowUpDispatched(order.ID.String(), string(attempt.Channel), attempt.ID.String(), res.MessageID, nil)
	s.writeHistory(ctx, order, attempt, res.MessageID, "", metadata)
	s.publish(ctx, events.FollowUpDispatched{
		BaseEvent:         events.NewBaseEvent(),
		OrderID:           order.ID,
		AttemptID:         attempt.ID,
		AttemptNumber:     attempt.AttemptNumber,
		Channel:           string(attempt.Channel),
		ProviderMessageID: res.MessageID,
		Success:           true,
		Metadata:          metadata,
	})
}

func (s *Service) recordFailure(ctx context.Context, order orders.Order, attempt followup.Attempt, sendErr error, metadata map[string]any) {
	// The request context may already be done when the transport timed out.
	writeCtx := context.WithoutCancel(ctx)
	_, err := s.attempts.UpdateJobStatus(writeCtx, attempt.ID, followup.StatusUpdate{
		Status:    followup.StatusFailed,
		Success:   followup.Bool(false),
		LastError: followup.String(sendErr.Error()),
	})
	if err != nil {
		s.log.DatabaseError("mark follow-up attempt failed", err)
	}

	s.metrics.Dispatched(string(attempt.Channel), string(followup.StatusFailed))
	s.log.WithContext(ctx).FollowUpDispatched(order.ID.String(), string(attempt.Channel), attempt.ID.String(), "", sendErr)
	s.writeHistory(writeCtx, order, attempt, "", sendErr.Error(), metadata)
	s.publish(writeCtx, events.FollowUpDispatched{
		BaseEvent:     events.NewBaseEvent(),
		OrderID:       order.ID,
		AttemptID:     attempt.ID,
		AttemptNumber: attempt.AttemptNumber,
		Channel:       string(attempt.Channel),
		Success:       false,
		Error:         sendErr.Error(),
		Metadata:      metadata,
	})
}

func (s *Service) writeHistory(ctx context.Context, order orders.Order, attempt followup.Attempt, messageID, errText string, metadata map[string]any) {
	meta := map[string]any{
		"attemptId":     attempt.ID.String(),
		"attemptNumber": attempt.AttemptNumber,
		"channel":       string(attempt.Channel),
		"success":       errText == "",
	}
	if messageID != "" {
		meta["providerMessageId"] = messageID
	}
	if errText != "" {
		meta["error"] = errText
	}
	for k, v := range metadata {
		if _, exists := meta[k]; !exists {
			meta[k] = v
		}
	}

	_, err := s.orders.CreateHistory(ctx, orders.CreateHistoryParams{
		OrderID:   order.ID,
		Type:      orders.HistoryFollowUpSent,
		AISummary: orders.TruncateSummary(attempt.Message, orders.SummaryMaxLen),
		Metadata:  meta,
	})
	if err != nil {
		s.log.DatabaseError("write follow-up history", err)
	}
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.eventBus == nil {
		return
	}
	s.eventBus.Publish(ctx, event)
}

// regionOf maps a provider country to a phone region. Only ISO alpha-2 codes
// are understood; anything else falls back to the default region.
func regionOf(country string) string {
	country = strings.TrimSpace(country)
	if len(country) == 2 {
		return strings.ToUpper(country)
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
