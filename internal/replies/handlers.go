package replies

import (
	"context"
	"fmt"
	"strings"

	"procurement_followup/internal/ai"
	"procurement_followup/internal/channel"
	"procurement_followup/internal/dispatch"
	"procurement_followup/internal/events"
	"procurement_followup/internal/followup"
	"procurement_followup/internal/orders"
	"procurement_followup/internal/webhook"
	"procurement_followup/platform/sanitize"
)

// ReasonMissingDelayReason tags the follow-up sent when a supplier reports a
// delay without saying why.
const ReasonMissingDelayReason = "MISSING_DELAY_REASON"

// replyHandler is the channel-specific part of reply processing.
type replyHandler struct {
	historyType orders.HistoryType
	text        func(cb webhook.Callback) string
}

var replyHandlers = map[channel.Channel]replyHandler{
	channel.Email: {
		historyType: orders.HistoryProviderReply,
		text: func(cb webhook.Callback) string {
			return sanitize.PlainReply(cb.Response)
		},
	},
	channel.SMS: {
		historyType: orders.HistoryResponseReceived,
		text: func(cb webhook.Callback) string {
			return strings.TrimSpace(cb.Response)
		},
	},
	channel.Voice: {
		historyType: orders.HistoryResponseReceived,
		text: func(cb webhook.Callback) string {
			return sanitize.Text(cb.Response)
		},
	},
}

func handlerFor(ch channel.Channel) replyHandler {
	if h, ok := replyHandlers[ch]; ok {
		return h
	}
	return replyHandlers[channel.Email]
}

// replyOutcome collects what happened while applying one reply.
type replyOutcome struct {
	analysis   ai.ReplyAnalysis
	analyzed   bool
	updated    *orders.Order
	autoResult *dispatch.Result
	errs       []string
}

func (o *replyOutcome) fail(step string, err error) {
	o.errs = append(o.errs, fmt.Sprintf("%s: %v", step, err))
}

// handleReply applies a provider reply. Every step runs even when an earlier
// one failed; failures are logged individually.
func (c *Correlator) handleReply(ctx context.Context, attempt followup.Attempt, cb webhook.Callback) {
	log := c.log.WithOrderID(attempt.OrderID.String())
	handler := handlerFor(cb.Channel)
	text := handler.text(cb)
	from := cb.Meta(webhook.MetaFrom)

	outcome := &replyOutcome{}

	before, err := c.orders.GetByID(ctx, attempt.OrderID)
	if err != nil {
		outcome.fail("load order", err)
		log.Error("reply order lookup failed", "error", err)
	}

	if text != "" && c.analyzer != nil {
		c.analyze(ctx, attempt, cb, text, outcome)
	}

	if outcome.analyzed {
		if update := outcome.analysis.Update(); !update.Empty() {
			order, err := c.orders.ApplyReplyUpdate(ctx, attempt.OrderID, update)
			if err != nil {
				outcome.fail("status update", err)
				log.Error("reply status update failed", "error", err)
			} else {
				outcome.updated = &order
				c.publishStatusChange(ctx, before, order)
			}
		}
	}

	if _, err := c.orders.CreateHistory(ctx, c.historyParams(attempt, cb, handler.historyType, text, outcome)); err != nil {
		outcome.fail("history", err)
		log.Error("reply history write failed", "error", err)
	}

	if _, err := c.attempts.RecordCallback(ctx, attempt.ID, followup.StatusReplied, true, followup.String(text), nil); err != nil {
		outcome.fail("attempt update", err)
		log.Error("reply attempt update failed", "attemptId", attempt.ID, "error", err)
	}

	if c.needsDelayReason(outcome) {
		c.requestDelayReason(ctx, attempt, outcome)
	}

	c.publish(ctx, events.ProviderReplyReceived{
		BaseEvent: events.NewBaseEvent(),
		OrderID:   attempt.OrderID,
		AttemptID: attempt.ID,
		Channel:   string(cb.Channel),
		From:      from,
		Summary:   outcome.analysis.Summary,
	})

	log.Info("provider reply processed",
		"attemptId", attempt.ID,
		"channel", cb.Channel,
		"analyzed", outcome.analyzed,
		"orderUpdated", outcome.updated != nil,
		"delayReasonRequested", outcome.autoResult != nil,
		"failedSteps", len(outcome.errs),
	)
}

func (c *Correlator) analyze(ctx context.Context, attempt followup.Attempt, cb webhook.Callback, text string, outcome *replyOutcome) {
	aiCtx, cancel := context.WithTimeout(ctx, c.aiTimeout)
	defer cancel()

	analysis, err := c.analyzer.AnalyzeReply(aiCtx, attempt.OrderID, ai.ReplyInput{
		Channel: cb.Channel,
		From:    cb.Meta(webhook.MetaFrom),
		Subject: cb.Meta(webhook.MetaSubject),
		Text:    text,
	})
	if err != nil {
		if isUnavailable(err) {
			c.log.Debug("reply analysis skipped", "reason", err)
			return
		}
		outcome.fail("analysis", err)
		c.log.Warn("reply analysis failed", "orderId", attempt.OrderID, "error", err)
		return
	}
	outcome.analysis = analysis
	outcome.analyzed = true
}

// needsDelayReason reports whether the reply moved the order to DELAYED
// without a stated cause.
func (c *Correlator) needsDelayReason(outcome *replyOutcome) bool {
	if c.dispatcher == nil || outcome.updated == nil || outcome.analysis.Status == nil {
		return false
	}
	return outcome.updated.Status == orders.StatusDelayed && outcome.analysis.DelayReason == nil
}

func (c *Correlator) requestDelayReason(ctx context.Context, attempt followup.Attempt, outcome *replyOutcome) {
	order := outcome.updated
	message := fmt.Sprintf(
		"Thank you for the update on order %s. Could you tell us the reason for the delay and the new expected delivery date?",
		order.Ref())

	res, err := c.dispatcher.SendFollowUp(ctx, dispatch.Request{
		OrderRef: order.ID.String(),
		Channel:  attempt.Channel,
		Message:  message,
		Metadata: map[string]any{
			"autoTriggered":  true,
			"reason":         ReasonMissingDelayReason,
			"replyAttemptId": attempt.ID.String(),
		},
	})
	if err != nil {
		outcome.fail("delay reason follow-up", err)
		c.log.Warn("delay reason follow-up failed", "orderId", order.ID, "error", err)
		return
	}
	outcome.autoResult = &res
}

func (c *Correlator) historyParams(attempt followup.Attempt, cb webhook.Callback, historyType orders.HistoryType, text string, outcome *replyOutcome) orders.CreateHistoryParams {
	summary := outcome.analysis.Summary
	if summary == "" {
		summary = text
	}

	historyContext := map[string]any{
		"attemptId":     attempt.ID.String(),
		"attemptNumber": attempt.AttemptNumber,
		"channel":       string(cb.Channel),
	}
	if from := cb.Meta(webhook.MetaFrom); from != "" {
		historyContext["from"] = from
	}
	if subject := cb.Meta(webhook.MetaSubject); subject != "" {
		historyContext["subject"] = subject
	}

	metadata := map[string]any{
		"provider":     string(cb.Provider),
		"messageId":    cb.MessageID,
		"analyzed":     outcome.analyzed,
		"orderUpdated": outcome.updated != nil,
	}
	if outcome.analysis.Status != nil {
		metadata["recommendedStatus"] = string(*outcome.analysis.Status)
	}
	if outcome.analysis.DelayReason != nil {
		metadata["delayReason"] = *outcome.analysis.DelayReason
	}
	if len(outcome.errs) > 0 {
		metadata["errors"] = outcome.errs
	}

	rawData := map[string]any{"reply": text}
	if key := cb.Meta(webhook.MetaRawPayloadKey); key != "" {
		rawData["rawPayloadKey"] = key
	}
	if fetchErr := cb.Meta(webhook.MetaContentFetch); fetchErr != "" {
		rawData["contentFetchError"] = fetchErr
	}

	return orders.CreateHistoryParams{
		OrderID:   attempt.OrderID,
		Type:      historyType,
		AISummary: orders.TruncateSummary(summary, orders.SummaryMaxLen),
		Context:   historyContext,
		Metadata:  metadata,
		RawData:   rawData,
	}
}

func (c *Correlator) publishStatusChange(ctx context.Context, before, after orders.Order) {
	if before.ID == after.ID && before.Status == after.Status {
		return
	}
	event := events.OrderStatusChanged{
		BaseEvent:        events.NewBaseEvent(),
		OrderID:          after.ID,
		OldStatus:        string(before.Status),
		NewStatus:        string(after.Status),
		ExpectedDelivery: after.ExpectedDeliveryDate,
	}
	if after.DelayReason != nil {
		event.DelayReason = *after.DelayReason
	}
	c.publish(ctx, event)
}
