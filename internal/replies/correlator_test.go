package replies

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"procurement_followup/internal/ai"
	"procurement_followup/internal/channel"
	"procurement_followup/internal/dispatch"
	"procurement_followup/internal/followup"
	"procurement_followup/internal/orders"
	"procurement_followup/internal/webhook"
	"procurement_followup/platform/apperr"
	"procurement_followup/platform/logger"

	"github.com/google/uuid"
)

const (
	errUnexpected = "unexpected error: %v"
	errMatched    = "expected matched=%v, got %v"
)

type fakeOrders struct {
	mu        sync.Mutex
	orders    map[uuid.UUID]orders.Order
	history   []orders.CreateHistoryParams
	updates   []orders.ReplyUpdate
	updateErr error
}

func (f *fakeOrders) Resolve(_ context.Context, ref string) (orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.ID.String() == ref || o.ExternalOrderID == ref {
			return o, nil
		}
	}
	return orders.Order{}, apperr.NotFound("order " + ref + " not found")
}

func (f *fakeOrders) GetByID(_ context.Context, id uuid.UUID) (orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return o, nil
}

func (f *fakeOrders) ApplyReplyUpdate(_ context.Context, id uuid.UUID, u orders.ReplyUpdate) (orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return orders.Order{}, f.updateErr
	}
	f.updates = append(f.updates, u)
	o := f.orders[id]
	if u.Status != nil {
		o.Status = *u.Status
	}
	if u.ExpectedDeliveryDate != nil {
		o.ExpectedDeliveryDate = u.ExpectedDeliveryDate
	}
	if u.DelayReason != nil {
		o.DelayReason = u.DelayReason
	}
	f.orders[id] = o
	return o, nil
}

func (f *fakeOrders) CreateHistory(_ context.Context, params orders.CreateHistoryParams) (orders.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, params)
	return orders.HistoryEntry{ID: uuid.New(), OrderID: params.OrderID, Type: params.Type}, nil
}

type fakeAttempts struct {
	mu       sync.Mutex
	attempts []followup.Attempt
	receipts map[string]bool
	updates  int
}

func (f *fakeAttempts) LatestSuccessfulByOrderAndChannel(_ context.Context, orderID uuid.UUID, ch channel.Channel) (*followup.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *followup.Attempt
	for i := range f.attempts {
		a := f.attempts[i]
		if a.OrderID != orderID || a.Channel != ch || !a.Success {
			continue
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
			latest = &a
		}
	}
	return latest, nil
}

func (f *fakeAttempts) FindByProviderMessageID(_ context.Context, ch channel.Channel, messageID string) (*followup.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var candidates []followup.Attempt
	for _, a := range f.attempts {
		if a.Channel == ch && a.Success {
			candidates = append(candidates, a)
		}
	}
	match := followup.MatchMessageID(candidates, messageID)
	if match == nil {
		return nil, nil
	}
	found := *match
	return &found, nil
}

func (f *fakeAttempts) LatestSuccessfulByRecipient(_ context.Context, ch channel.Channel, recipients ...string) (*followup.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.attempts) - 1; i >= 0; i-- {
		a := f.attempts[i]
		if a.Channel != ch || !a.Success {
			continue
		}
		for _, r := range recipients {
			if a.Recipient == r {
				return &a, nil
			}
		}
	}
	return nil, nil
}

func (f *fakeAttempts) RecordCallback(_ context.Context, id uuid.UUID, status followup.Status, success bool, replyContent, lastError *string) (followup.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	for i := range f.attempts {
		if f.attempts[i].ID != id {
			continue
		}
		a := &f.attempts[i]
		a.Status = status
		a.Success = success
		if replyContent != nil {
			a.ReplyContent = replyContent
		}
		if lastError != nil {
			a.LastError = lastError
		}
		return *a, nil
	}
	return followup.Attempt{}, followup.ErrAttemptNotFound
}

func (f *fakeAttempts) RecordReceipt(_ context.Context, provider, messageID, status string, _ *uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receipts == nil {
		f.receipts = map[string]bool{}
	}
	key := provider + "|" + messageID + "|" + status
	if f.receipts[key] {
		return false, nil
	}
	f.receipts[key] = true
	return true, nil
}

func (f *fakeAttempts) get(id uuid.UUID) followup.Attempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.attempts {
		if a.ID == id {
			return a
		}
	}
	return followup.Attempt{}
}

type fakeDispatcher struct {
	requests []dispatch.Request
	err      error
}

func (f *fakeDispatcher) SendFollowUp(_ context.Context, req dispatch.Request) (dispatch.Result, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return dispatch.Result{}, f.err
	}
	return dispatch.Result{AttemptID: uuid.New(), Channel: req.Channel, Status: channel.SendSent}, nil
}

type fakeAnalyzer struct {
	analysis ai.ReplyAnalysis
	err      error
	inputs   []ai.ReplyInput
}

func (f *fakeAnalyzer) AnalyzeReply(_ context.Context, _ uuid.UUID, reply ai.ReplyInput) (ai.ReplyAnalysis, error) {
	f.inputs = append(f.inputs, reply)
	return f.analysis, f.err
}

type fixture struct {
	order      orders.Order
	attempt    followup.Attempt
	orders     *fakeOrders
	attempts   *fakeAttempts
	dispatcher *fakeDispatcher
	analyzer   *fakeAnalyzer
	correlator *Correlator
}

func newFixture(ch channel.Channel, recipient string) *fixture {
	order := orders.Order{
		ID:              uuid.New(),
		ExternalOrderID: "PT-TBL-HYD",
		Status:          orders.StatusInTransit,
		Priority:        orders.PriorityNormal,
	}
	messageID := "msg-outbound-1"
	attempt := followup.Attempt{
		ID:                uuid.New(),
		OrderID:           order.ID,
		Channel:           ch,
		Recipient:         recipient,
		Status:            followup.StatusSent,
		Success:           true,
		AttemptNumber:     1,
		ProviderMessageID: &messageID,
		CreatedAt:         time.Now().Add(-time.Hour),
	}

	f := &fixture{
		order:      order,
		attempt:    attempt,
		orders:     &fakeOrders{orders: map[uuid.UUID]orders.Order{order.ID: order}},
		attempts:   &fakeAttempts{attempts: []followup.Attempt{attempt}},
		dispatcher: &fakeDispatcher{},
		analyzer:   &fakeAnalyzer{},
	}
	f.correlator = New(Deps{
		Orders:     f.orders,
		Attempts:   f.attempts,
		Dispatcher: f.dispatcher,
		Analyzer:   f.analyzer,
		Log:        logger.NewWithHandler(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

func emailReply(messageID, subject, text string) webhook.Callback {
	return webhook.Callback{
		Provider:  webhook.ProviderResend,
		MessageID: messageID,
		Channel:   channel.Email,
		Status:    followup.StatusReplied,
		Response:  text,
		Metadata: map[string]any{
			webhook.MetaSubject: subject,
			webhook.MetaFrom:    "ops@supplier.com",
		},
	}
}

func TestCorrelateEmailReplyBySubject(t *testing.T) {
	f := newFixture(channel.Email, "ops@supplier.com")
	inTransit := orders.StatusInTransit
	f.analyzer.analysis = ai.ReplyAnalysis{Summary: "Shipped yesterday", Status: &inTransit}

	matched, err := f.correlator.Correlate(context.Background(),
		emailReply("inbound-1", "Re: Order Update: PT-TBL-HYD", "Shipped yesterday.\n\nOn Mon, ops wrote:\n> old"))
	if err != nil {
		t.Fatalf(errUnexpected, err)
	}
	if !matched {
		t.Fatalf(errMatched, true, matched)
	}

	got := f.attempts.get(f.attempt.ID)
	if got.Status != followup.StatusReplied || !got.Success {
		t.Fatalf("expected REPLIED success, got %s %v", got.Status, got.Success)
	}
	if got.ReplyContent == nil || *got.ReplyContent != "Shipped yesterday." {
		t.Fatalf("expected quoted history stripped, got %v", got.ReplyContent)
	}
	if len(f.orders.history) != 1 || f.orders.history[0].Type != orders.HistoryProviderReply {
		t.Fatalf("expected one PROVIDER_REPLY history entry, got %+v", f.orders.history)
	}
	if s := f.orders.history[0].AISummary; s == nil || *s != "Shipped yesterday" {
		t.Fatalf("expected AI summary in history, got %v", s)
	}
	if len(f.dispatcher.requests) != 0 {
		t.Fatalf("no auxiliary follow-up expected")
	}
}

func TestCorrelateDelayedWithoutReasonRequestsReason(t *testing.T) {
	f := newFixture(channel.Email, "ops@supplier.com")
	delayed := orders.StatusDelayed
	f.analyzer.analysis = ai.ReplyAnalysis{Summary: "Running late", Status: &delayed}

	matched, err := f.correlator.Correlate(context.Background(),
		emailReply("inbound-2", "Re: Order Update: PT-TBL-HYD", "We will be late."))
	if err != nil || !matched {
		t.Fatalf("expected match without error, got %v %v", matched, err)
	}

	if len(f.dispatcher.requests) != 1 {
		t.Fatalf("expected one auxiliary follow-up, got %d", len(f.dispatcher.requests))
	}
	req := f.dispatcher.requests[0]
	if req.Metadata["autoTriggered"] != true || req.Metadata["reason"] != ReasonMissingDelayReason {
		t.Fatalf("unexpected follow-up metadata: %v", req.Metadata)
	}
	if req.Channel != channel.Email || req.OrderRef != f.order.ID.String() {
		t.Fatalf("unexpected follow-up target: %+v", req)
	}
}

func TestCorrelateDelayedWithReasonDoesNotFollowUp(t *testing.T) {
	f := newFixture(channel.Email, "ops@supplier.com")
	delayed := orders.StatusDelayed
	reason := "customs hold"
	f.analyzer.analysis = ai.ReplyAnalysis{Summary: "Held at customs", Status: &delayed, DelayReason: &reason}

	if _, err := f.correlator.Correlate(context.Background(),
		emailReply("inbound-3", "Re: Order Update: PT-TBL-HYD", "Held at customs.")); err != nil {
		t.Fatalf(errUnexpected, err)
	}
	if len(f.dispatcher.requests) != 0 {
		t.Fatalf("delay reason was given; no follow-up expected")
	}
}

func TestCorrelateAuxiliaryFollowUpFailureIsNotFatal(t *testing.T) {
	f := newFixture(channel.Email, "ops@supplier.com")
	delayed := orders.StatusDelayed
	f.analyzer.analysis = ai.ReplyAnalysis{Summary: "Late", Status: &delayed}
	f.dispatcher.err = apperr.ChannelFailure("EMAIL", errors.New("smtp down"))

	matched, err := f.correlator.Correlate(context.Background(),
		emailReply("inbound-4", "Re: Order Update: PT-TBL-HYD", "Late."))
	if err != nil || !matched {
		t.Fatalf("expected match without error, got %v %v", matched, err)
	}
	if got := f.attempts.get(f.attempt.ID); got.Status != followup.StatusReplied {
		t.Fatalf("attempt should still be REPLIED, got %s", got.Status)
	}
}

func TestCorrelateStatusUpdateFailureStillWritesHistory(t *testing.T) {
	f := newFixture(channel.Email, "ops@supplier.com")
	delayed := orders.StatusDelayed
	f.analyzer.analysis = ai.ReplyAnalysis{Summary: "Late", Status: &delayed}
	f.orders.updateErr = errors.New("connection reset")

	if _, err := f.correlator.Correlate(context.Background(),
		emailReply("inbound-5", "Re: Order Update: PT-TBL-HYD", "Late.")); err != nil {
		t.Fatalf(errUnexpected, err)
	}
	if len(f.orders.history) != 1 {
		t.Fatalf("history must be written after a failed status update")
	}
	if errs, ok := f.orders.history[0].Metadata["errors"].([]string); !ok || len(errs) != 1 {
		t.Fatalf("expected failed step in history metadata, got %v", f.orders.history[0].Metadata)
	}
	if f.attempts.get(f.attempt.ID).Status != followup.StatusReplied {
		t.Fatalf("attempt must be updated after a failed status update")
	}
	if len(f.dispatcher.requests) != 0 {
		t.Fatalf("no follow-up when the status was not applied")
	}
}

func TestCorrelateReplyWithoutAI(t *testing.T) {
	f := newFixture(channel.Email, "ops@supplier.com")
	f.analyzer.err = apperr.Unavailable("AI workflow")

	if _, err := f.correlator.Correlate(context.Background(),
		emailReply("inbound-6", "Re: Order Update: PT-TBL-HYD", "Ships Friday.")); err != nil {
		t.Fatalf(errUnexpected, err)
	}
	if len(f.orders.updates) != 0 {
		t.Fatalf("no order update without analysis")
	}
	if s := f.orders.history[0].AISummary; s == nil || *s != "Ships Friday." {
		t.Fatalf("expected reply text as summary, got %v", s)
	}
}

func TestCorrelateReplayedReplyIsIdempotent(t *testing.T) {
	f := newFixture(channel.Email, "ops@supplier.com")
	cb := emailReply("inbound-7", "Re: Order Update: PT-TBL-HYD", "Ships Friday.")

	for i := 0; i < 2; i++ {
		matched, err := f.correlator.Correlate(context.Background(), cb)
		if err != nil || !matched {
			t.Fatalf("delivery %d: expected match without error, got %v %v", i+1, matched, err)
		}
	}

	if len(f.orders.history) != 1 {
		t.Fatalf("replay must not write history twice, got %d", len(f.orders.history))
	}
	if len(f.attempts.attempts) != 1 {
		t.Fatalf("replay must not create attempts")
	}
	if got := f.attempts.get(f.attempt.ID); got.Status != followup.StatusReplied {
		t.Fatalf("expected REPLIED after replay, got %s", got.Status)
	}
}

func TestCorrelateDeliveryByMessageID(t *testing.T) {
	f := newFixture(channel.Email, "ops@supplier.com")
	cb := webhook.Callback{
		Provider:  webhook.ProviderResend,
		MessageID: "<MSG-OUTBOUND-1>",
		Channel:   channel.Email,
		Status:    followup.StatusDelivered,
	}

	for i := 0; i < 2; i++ {
		matched, err := f.correlator.Correlate(context.Background(), cb)
		if err != nil || !matched {
			t.Fatalf("expected match without error, got %v %v", matched, err)
		}
	}
	got := f.attempts.get(f.attempt.ID)
	if got.Status != followup.StatusDelivered || !got.Success {
		t.Fatalf("expected DELIVERED success, got %s %v", got.Status, got.Success)
	}
	if len(f.orders.history) != 0 {
		t.Fatalf("status callbacks do not write history")
	}
}

func TestCorrelateBounceRecordsError(t *testing.T) {
	f := newFixture(channel.Email, "ops@supplier.com")
	cb := webhook.Callback{
		Provider:  webhook.ProviderSendGrid,
		MessageID: "msg-outbound-1",
		Channel:   channel.Email,
		Status:    followup.StatusBounced,
		Error:     "550 mailbox unavailable",
	}

	if _, err := f.correlator.Correlate(context.Background(), cb); err != nil {
		t.Fatalf(errUnexpected, err)
	}
	got := f.attempts.get(f.attempt.ID)
	if got.Success || got.Status != followup.StatusBounced {
		t.Fatalf("expected BOUNCED failure, got %s %v", got.Status, got.Success)
	}
	if got.LastError == nil || *got.LastError != "550 mailbox unavailable" {
		t.Fatalf("expected bounce error, got %v", got.LastError)
	}
}

func TestCorrelateBounceForOlderAttemptIgnoresSubject(t *testing.T) {
	f := newFixture(channel.Email, "ops@supplier.com")
	newerID := "msg-outbound-2"
	newer := f.attempt
	newer.ID = uuid.New()
	newer.AttemptNumber = 2
	newer.ProviderMessageID = &newerID
	newer.CreatedAt = time.Now().Add(-time.Minute)
	f.attempts.attempts = append(f.attempts.attempts, newer)

	cb := webhook.Callback{
		Provider:  webhook.ProviderResend,
		MessageID: "msg-outbound-1",
		Channel:   channel.Email,
		Status:    followup.StatusBounced,
		Error:     "550 mailbox unavailable",
		Metadata:  map[string]any{webhook.MetaSubject: "Order Update: PT-TBL-HYD"},
	}

	matched, err := f.correlator.Correlate(context.Background(), cb)
	if err != nil || !matched {
		t.Fatalf("expected match without error, got %v %v", matched, err)
	}
	if got := f.attempts.get(f.attempt.ID); got.Status != followup.StatusBounced || got.Success {
		t.Fatalf("expected first attempt BOUNCED, got %s %v", got.Status, got.Success)
	}
	if got := f.attempts.get(newer.ID); got.Status != followup.StatusSent || !got.Success {
		t.Fatalf("expected second attempt untouched, got %s %v", got.Status, got.Success)
	}
}

func TestCorrelateStatusWithoutMessageIDFallsBackToSubject(t *testing.T) {
	f := newFixture(channel.Email, "ops@supplier.com")
	cb := webhook.Callback{
		Provider: webhook.ProviderMailgun,
		Channel:  channel.Email,
		Status:   followup.StatusRead,
		Metadata: map[string]any{webhook.MetaSubject: "Order Update: PT-TBL-HYD"},
	}

	matched, err := f.correlator.Correlate(context.Background(), cb)
	if err != nil || !matched {
		t.Fatalf("expected match without error, got %v %v", matched, err)
	}
	if got := f.attempts.get(f.attempt.ID); got.Status != followup.StatusRead {
		t.Fatalf("expected READ, got %s", got.Status)
	}
}

func TestCorrelateLateDeliveryKeepsReplied(t *testing.T) {
	f := newFixture(channel.Email, "ops@supplier.com")
	if _, err := f.correlator.Correlate(context.Background(),
		emailReply("inbound-8", "Re: Order Update: PT-TBL-HYD", "Thanks")); err != nil {
		t.Fatalf(errUnexpected, err)
	}
	if _, err := f.correlator.Correlate(context.Background(), webhook.Callback{
		Provider:  webhook.ProviderResend,
		MessageID: "msg-outbound-1",
		Channel:   channel.Email,
		Status:    followup.StatusDelivered,
	}); err != nil {
		t.Fatalf(errUnexpected, err)
	}
	if got := f.attempts.get(f.attempt.ID); got.Status != followup.StatusReplied {
		t.Fatalf("expected REPLIED to stick, got %s", got.Status)
	}
}

func TestCorrelateSMSReplyBySender(t *testing.T) {
	f := newFixture(channel.SMS, "+16502530000")
	cb := webhook.Callback{
		Provider:  webhook.ProviderTwilio,
		MessageID: "SM-inbound-9",
		Channel:   channel.SMS,
		Status:    followup.StatusReplied,
		Response:  "Delivered to dock 4 this morning",
		Metadata:  map[string]any{webhook.MetaFrom: "+1 650-253-0000"},
	}

	matched, err := f.correlator.Correlate(context.Background(), cb)
	if err != nil || !matched {
		t.Fatalf("expected match without error, got %v %v", matched, err)
	}
	if len(f.orders.history) != 1 || f.orders.history[0].Type != orders.HistoryResponseReceived {
		t.Fatalf("expected RESPONSE_RECEIVED history, got %+v", f.orders.history)
	}
	if len(f.analyzer.inputs) != 1 || f.analyzer.inputs[0].Channel != channel.SMS {
		t.Fatalf("expected SMS reply analysis, got %+v", f.analyzer.inputs)
	}
}

func TestCorrelateUnmatchedIsNotAnError(t *testing.T) {
	f := newFixture(channel.Email, "ops@supplier.com")
	cb := webhook.Callback{
		Provider:  webhook.ProviderResend,
		MessageID: "unknown-id",
		Channel:   channel.Email,
		Status:    followup.StatusDelivered,
		Metadata:  map[string]any{webhook.MetaSubject: "Re: Order Update: NOPE-1"},
	}

	matched, err := f.correlator.Correlate(context.Background(), cb)
	if err != nil {
		t.Fatalf(errUnexpected, err)
	}
	if matched {
		t.Fatalf(errMatched, false, matched)
	}
	if f.attempts.updates != 0 || len(f.orders.history) != 0 {
		t.Fatalf("unmatched callbacks must not write anything")
	}
}
