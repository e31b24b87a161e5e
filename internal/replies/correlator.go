// Package replies matches inbound channel callbacks to the follow-up attempt
// they answer and applies provider replies to the order.
package replies

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"procurement_followup/internal/ai"
	"procurement_followup/internal/channel"
	"procurement_followup/internal/dispatch"
	"procurement_followup/internal/events"
	"procurement_followup/internal/followup"
	"procurement_followup/internal/orders"
	"procurement_followup/internal/webhook"
	"procurement_followup/platform/apperr"
	"procurement_followup/platform/locks"
	"procurement_followup/platform/logger"
	"procurement_followup/platform/phone"

	"github.com/google/uuid"
)

const (
	defaultLockWait  = 5 * time.Second
	defaultLockTTL   = 2 * time.Minute
	defaultAITimeout = 60 * time.Second
)

// OrderStore is the part of the orders repository the correlator uses.
type OrderStore interface {
	Resolve(ctx context.Context, ref string) (orders.Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (orders.Order, error)
	ApplyReplyUpdate(ctx context.Context, id uuid.UUID, update orders.ReplyUpdate) (orders.Order, error)
	CreateHistory(ctx context.Context, params orders.CreateHistoryParams) (orders.HistoryEntry, error)
}

// AttemptStore is the part of the attempt tracker the correlator uses.
type AttemptStore interface {
	LatestSuccessfulByOrderAndChannel(ctx context.Context, orderID uuid.UUID, ch channel.Channel) (*followup.Attempt, error)
	FindByProviderMessageID(ctx context.Context, ch channel.Channel, messageID string) (*followup.Attempt, error)
	LatestSuccessfulByRecipient(ctx context.Context, ch channel.Channel, recipients ...string) (*followup.Attempt, error)
	RecordCallback(ctx context.Context, id uuid.UUID, status followup.Status, success bool, replyContent, lastError *string) (followup.Attempt, error)
	RecordReceipt(ctx context.Context, provider, messageID, status string, attemptID *uuid.UUID) (bool, error)
}

// Dispatcher sends auxiliary follow-ups.
type Dispatcher interface {
	SendFollowUp(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
}

// ReplyAnalyzer turns reply text into order changes.
type ReplyAnalyzer interface {
	AnalyzeReply(ctx context.Context, orderID uuid.UUID, reply ai.ReplyInput) (ai.ReplyAnalysis, error)
}

// Deps bundles the correlator's collaborators.
type Deps struct {
	Orders     OrderStore
	Attempts   AttemptStore
	Dispatcher Dispatcher
	Analyzer   ReplyAnalyzer
	Locker     locks.Locker
	EventBus   events.Bus
	Log        *logger.Logger
	LockWait   time.Duration
	LockTTL    time.Duration
	AITimeout  time.Duration
}

// Correlator is the Reply Correlator.
type Correlator struct {
	orders     OrderStore
	attempts   AttemptStore
	dispatcher Dispatcher
	analyzer   ReplyAnalyzer
	locker     locks.Locker
	eventBus   events.Bus
	log        *logger.Logger
	lockWait   time.Duration
	lockTTL    time.Duration
	aiTimeout  time.Duration
}

func New(deps Deps) *Correlator {
	c := &Correlator{
		orders:     deps.Orders,
		attempts:   deps.Attempts,
		dispatcher: deps.Dispatcher,
		analyzer:   deps.Analyzer,
		locker:     deps.Locker,
		eventBus:   deps.EventBus,
		log:        deps.Log,
		lockWait:   deps.LockWait,
		lockTTL:    deps.LockTTL,
		aiTimeout:  deps.AITimeout,
	}
	if c.locker == nil {
		c.locker = locks.NewLocal()
	}
	if c.lockWait <= 0 {
		c.lockWait = defaultLockWait
	}
	if c.lockTTL <= 0 {
		c.lockTTL = defaultLockTTL
	}
	if c.aiTimeout <= 0 {
		c.aiTimeout = defaultAITimeout
	}
	return c
}

// Correlate finds the attempt a callback answers and applies it. An unmatched
// callback returns false with a nil error.
func (c *Correlator) Correlate(ctx context.Context, cb webhook.Callback) (bool, error) {
	attempt, tier, err := c.match(ctx, cb)
	if err != nil {
		return false, err
	}
	if attempt == nil {
		return false, nil
	}

	lockCtx, cancel := context.WithTimeout(ctx, c.lockWait)
	release, err := c.locker.Acquire(lockCtx, locks.OrderKey(attempt.OrderID.String()), c.lockTTL)
	cancel()
	if err != nil {
		return true, fmt.Errorf("lock order %s: %w", attempt.OrderID, err)
	}
	defer release()

	log := c.log.WithOrderID(attempt.OrderID.String())
	log.Debug("callback matched",
		"tier", tier,
		"attemptId", attempt.ID,
		"channel", cb.Channel,
		"status", cb.Status,
	)

	if !cb.IsReply() {
		return true, c.applyStatus(ctx, *attempt, cb)
	}

	if fresh := c.recordReceipt(ctx, cb, attempt.ID); !fresh {
		log.Info("replayed reply callback ignored", "provider", cb.Provider, "messageId", cb.MessageID)
		return true, nil
	}
	c.handleReply(ctx, *attempt, cb)
	return true, nil
}

// match runs the correlation tiers in order and reports which one hit.
// Status callbacks that name a transport message id are matched on that id
// alone: their subject repeats the outbound one and points at the newest
// attempt, not the one being reported on.
func (c *Correlator) match(ctx context.Context, cb webhook.Callback) (*followup.Attempt, string, error) {
	if !cb.IsReply() && strings.TrimSpace(cb.MessageID) != "" {
		attempt, err := c.matchByMessageID(ctx, cb.Channel, cb.MessageID)
		if err != nil || attempt == nil {
			return nil, "", err
		}
		return attempt, "message_id", nil
	}

	if ref, ok := ExtractOrderRef(cb.Meta(webhook.MetaSubject)); ok {
		attempt, err := c.matchBySubject(ctx, ref, cb.Channel)
		if err != nil {
			return nil, "", err
		}
		if attempt != nil {
			return attempt, "subject", nil
		}
	}

	attempt, err := c.matchByMessageID(ctx, cb.Channel, cb.MessageID, cb.Meta(webhook.MetaInReplyTo))
	if err != nil {
		return nil, "", err
	}
	if attempt != nil {
		return attempt, "message_id", nil
	}

	if cb.IsReply() && (cb.Channel == channel.SMS || cb.Channel == channel.Voice) {
		attempt, err := c.matchBySender(ctx, cb)
		if err != nil {
			return nil, "", err
		}
		if attempt != nil {
			return attempt, "sender", nil
		}
	}
	return nil, "", nil
}

func (c *Correlator) matchByMessageID(ctx context.Context, ch channel.Channel, ids ...string) (*followup.Attempt, error) {
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			continue
		}
		attempt, err := c.attempts.FindByProviderMessageID(ctx, ch, id)
		if err != nil {
			return nil, fmt.Errorf("find attempt by message id: %w", err)
		}
		if attempt != nil {
			return attempt, nil
		}
	}
	return nil, nil
}

func (c *Correlator) matchBySubject(ctx context.Context, ref string, ch channel.Channel) (*followup.Attempt, error) {
	order, err := c.orders.Resolve(ctx, ref)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) || apperr.Is(err, apperr.KindValidation) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolve order %q: %w", ref, err)
	}
	attempt, err := c.attempts.LatestSuccessfulByOrderAndChannel(ctx, order.ID, ch)
	if err != nil {
		return nil, fmt.Errorf("latest attempt for order %s: %w", order.ID, err)
	}
	return attempt, nil
}

func (c *Correlator) matchBySender(ctx context.Context, cb webhook.Callback) (*followup.Attempt, error) {
	from := strings.TrimSpace(cb.Meta(webhook.MetaFrom))
	if from == "" {
		return nil, nil
	}
	recipients := []string{from}
	if normalized := phone.NormalizeE164(from); normalized != "" && normalized != from {
		recipients = append(recipients, normalized)
	}
	attempt, err := c.attempts.LatestSuccessfulByRecipient(ctx, cb.Channel, recipients...)
	if err != nil {
		return nil, fmt.Errorf("latest attempt by recipient: %w", err)
	}
	return attempt, nil
}

// applyStatus records a delivery, read, failure or bounce callback.
func (c *Correlator) applyStatus(ctx context.Context, attempt followup.Attempt, cb webhook.Callback) error {
	status := nextStatus(attempt.Status, cb.Status)
	success := status.Successful()
	_, err := c.attempts.RecordCallback(ctx, attempt.ID, status, success,
		followup.String(cb.Response), followup.String(cb.Error))
	if err != nil {
		return fmt.Errorf("record callback on attempt %s: %w", attempt.ID, err)
	}
	return nil
}

// nextStatus keeps a replied attempt replied when late delivery or read
// receipts arrive after the reply.
func nextStatus(current, incoming followup.Status) followup.Status {
	if current == followup.StatusReplied && (incoming == followup.StatusDelivered || incoming == followup.StatusRead) {
		return current
	}
	return incoming
}

// recordReceipt returns false when the callback was already applied. Receipt
// failures are logged and treated as fresh.
func (c *Correlator) recordReceipt(ctx context.Context, cb webhook.Callback, attemptID uuid.UUID) bool {
	if strings.TrimSpace(cb.MessageID) == "" {
		return true
	}
	fresh, err := c.attempts.RecordReceipt(ctx, string(cb.Provider), cb.MessageID, string(cb.Status), &attemptID)
	if err != nil {
		c.log.Warn("callback receipt not recorded", "messageId", cb.MessageID, "error", err)
		return true
	}
	return fresh
}

func (c *Correlator) publish(ctx context.Context, event events.Event) {
	if c.eventBus == nil {
		return
	}
	c.eventBus.Publish(ctx, event)
}

func isUnavailable(err error) bool {
	return apperr.Is(err, apperr.KindUnavailable) || errors.Is(err, context.Canceled)
}
