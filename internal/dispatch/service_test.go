package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"procurement_followup/internal/channel"
	"procurement_followup/internal/followup"
	"procurement_followup/internal/orders"
	"procurement_followup/platform/apperr"
	"procurement_followup/platform/logger"

	"github.com/google/uuid"
)

const (
	errUnexpected   = "unexpected error: %v"
	errExpectedKind = "expected %s error, got %v"
)

type fakeOrders struct {
	mu        sync.Mutex
	orders    map[string]orders.Order
	providers map[uuid.UUID]orders.Provider
	history   []orders.CreateHistoryParams
}

func (f *fakeOrders) Resolve(_ context.Context, ref string) (orders.Order, error) {
	if o, ok := f.orders[ref]; ok {
		return o, nil
	}
	for _, o := range f.orders {
		if o.ExternalOrderID == ref {
			return o, nil
		}
	}
	return orders.Order{}, apperr.NotFound("order " + ref + " not found")
}

func (f *fakeOrders) GetProvider(_ context.Context, id uuid.UUID) (orders.Provider, error) {
	p, ok := f.providers[id]
	if !ok {
		return orders.Provider{}, orders.ErrProviderNotFound
	}
	return p, nil
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
}

func (f *fakeAttempts) CreateJob(_ context.Context, params followup.CreateParams) (followup.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	number := 1
	for _, existing := range f.attempts {
		if existing.OrderID == params.OrderID {
			number++
		}
	}
	a := followup.Attempt{
		ID:            uuid.New(),
		OrderID:       params.OrderID,
		ProviderID:    params.ProviderID,
		Channel:       params.Channel,
		Recipient:     params.Recipient,
		Subject:       params.Subject,
		Message:       params.Message,
		Status:        followup.StatusPending,
		AttemptNumber: number,
		Metadata:      params.Metadata,
		CreatedAt:     time.Now(),
	}
	f.attempts = append(f.attempts, a)
	return a, nil
}

func (f *fakeAttempts) UpdateJobStatus(_ context.Context, id uuid.UUID, update followup.StatusUpdate) (followup.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.attempts {
		if f.attempts[i].ID != id {
			continue
		}
		a := &f.attempts[i]
		a.Status = update.Status
		if update.Success != nil {
			a.Success = *update.Success
		}
		if update.ProviderMessageID != nil && a.ProviderMessageID == nil {
			a.ProviderMessageID = update.ProviderMessageID
		}
		if update.LastError != nil {
			a.LastError = update.LastError
		}
		return *a, nil
	}
	return followup.Attempt{}, followup.ErrAttemptNotFound
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

type fakeTransport struct {
	mu    sync.Mutex
	ch    channel.Channel
	calls []channel.Message
	err   error
	block bool
}

func (f *fakeTransport) Channel() channel.Channel { return f.ch }

func (f *fakeTransport) Send(ctx context.Context, msg channel.Message) (channel.SendResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, msg)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return channel.SendResult{Channel: f.ch, Status: channel.SendFailed}, ctx.Err()
	}
	if f.err != nil {
		return channel.SendResult{Channel: f.ch, Status: channel.SendFailed, Error: f.err.Error()}, f.err
	}
	return channel.SendResult{
		MessageID: "msg-" + msg.To + "-" + time.Now().Format("150405.000000000"),
		Channel:   f.ch,
		Status:    channel.SendSent,
		QueuedAt:  time.Now(),
	}, nil
}

type fixture struct {
	svc      *Service
	orders   *fakeOrders
	attempts *fakeAttempts
	email    *fakeTransport
	sms      *fakeTransport
	order    orders.Order
	other    orders.Order
}

func newFixture(t *testing.T, contacts map[channel.Channel]string) *fixture {
	t.Helper()
	provider := orders.Provider{
		ID:               uuid.New(),
		Name:             "Hydraulics BV",
		Country:          "NL",
		PreferredChannel: channel.Email,
		ContactInfo:      contacts,
	}
	order := orders.Order{ID: uuid.New(), ExternalOrderID: "PT-TBL-HYD", ProviderID: provider.ID, PartNumber: "HYD-220"}
	other := orders.Order{ID: uuid.New(), ExternalOrderID: "PT-OTHER", ProviderID: provider.ID}

	fo := &fakeOrders{
		orders:    map[string]orders.Order{order.ID.String(): order, other.ID.String(): other},
		providers: map[uuid.UUID]orders.Provider{provider.ID: provider},
	}
	fa := &fakeAttempts{}
	emailTransport := &fakeTransport{ch: channel.Email}
	smsTransport := &fakeTransport{ch: channel.SMS}

	svc := New(Deps{
		Orders:     fo,
		Attempts:   fa,
		Transports: channel.NewRegistry(emailTransport, smsTransport),
		Log:        logger.NewWithHandler(slog.NewTextHandler(io.Discard, nil)),
		Timeout:    50 * time.Millisecond,
	})
	return &fixture{svc: svc, orders: fo, attempts: fa, email: emailTransport, sms: smsTransport, order: order, other: other}
}

func TestSendFollowUpMissingContactIsValidationBeforeTransport(t *testing.T) {
	f := newFixture(t, map[channel.Channel]string{channel.Email: "ops@hydraulics.example"})

	_, err := f.svc.SendFollowUp(context.Background(), Request{
		OrderRef: f.order.ID.String(),
		Channel:  channel.SMS,
		Message:  "Any update on the shipment?",
	})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf(errExpectedKind, "validation", err)
	}
	if len(f.sms.calls) != 0 || len(f.email.calls) != 0 {
		t.Fatalf("transport must not be called, got sms=%d email=%d", len(f.sms.calls), len(f.email.calls))
	}
	if len(f.attempts.attempts) != 0 {
		t.Fatalf("no attempt should be recorded, got %d", len(f.attempts.attempts))
	}
}

func TestSendFollowUpNumbersAttemptsPerOrder(t *testing.T) {
	f := newFixture(t, map[channel.Channel]string{channel.Email: "ops@hydraulics.example"})
	ctx := context.Background()

	var got []int
	for i := 0; i < 3; i++ {
		res, err := f.svc.SendFollowUp(ctx, Request{OrderRef: f.order.ID.String(), Channel: channel.Email, Message: "Status please"})
		if err != nil {
			t.Fatalf(errUnexpected, err)
		}
		got = append(got, res.AttemptNumber)

		if _, err := f.svc.SendFollowUp(ctx, Request{OrderRef: f.other.ID.String(), Channel: channel.Email, Message: "Status please"}); err != nil {
			t.Fatalf(errUnexpected, err)
		}
	}

	for i, n := range got {
		if n != i+1 {
			t.Fatalf("expected attempt numbers 1..3, got %v", got)
		}
	}
}

func TestSendFollowUpConcurrentSendsGetDistinctNumbers(t *testing.T) {
	f := newFixture(t, map[channel.Channel]string{channel.Email: "ops@hydraulics.example"})
	const senders = 8

	var wg sync.WaitGroup
	numbers := make(chan int, senders)
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.SendFollowUp(context.Background(), Request{OrderRef: f.order.ID.String(), Channel: channel.Email, Message: "Status please"})
			if err != nil {
				t.Errorf(errUnexpected, err)
				return
			}
			numbers <- res.AttemptNumber
		}()
	}
	wg.Wait()
	close(numbers)

	seen := map[int]bool{}
	for n := range numbers {
		if n < 1 || n > senders || seen[n] {
			t.Fatalf("attempt number %d out of range or repeated: %v", n, seen)
		}
		seen[n] = true
	}
	if len(seen) != senders {
		t.Fatalf("expected %d numbered attempts, got %d", senders, len(seen))
	}
}

func TestSendFollowUpResolvesExternalIDAndStoresMessageID(t *testing.T) {
	f := newFixture(t, map[channel.Channel]string{channel.Email: "Ops@Hydraulics.example"})

	res, err := f.svc.SendFollowUp(context.Background(), Request{
		OrderRef: "PT-TBL-HYD",
		Channel:  channel.Email,
		Message:  "Could you confirm the delivery date?",
		Metadata: map[string]any{"source": "test"},
	})
	if err != nil {
		t.Fatalf(errUnexpected, err)
	}
	if res.OrderID != f.order.ID {
		t.Fatalf("expected order %s, got %s", f.order.ID, res.OrderID)
	}

	stored := f.attempts.get(res.AttemptID)
	if stored.Status != followup.StatusSent || !stored.Success {
		t.Fatalf("expected SENT successful attempt, got %s success=%v", stored.Status, stored.Success)
	}
	if stored.ProviderMessageID == nil || *stored.ProviderMessageID != res.ProviderMessageID {
		t.Fatalf("provider message id not stored: %v", stored.ProviderMessageID)
	}
	if stored.Subject != "Order Update: PT-TBL-HYD" {
		t.Fatalf("unexpected subject %q", stored.Subject)
	}
	if f.email.calls[0].To != "ops@hydraulics.example" {
		t.Fatalf("expected normalized recipient, got %q", f.email.calls[0].To)
	}
	if len(f.orders.history) != 1 || f.orders.history[0].Type != orders.HistoryFollowUpSent {
		t.Fatalf("expected one FOLLOW_UP_SENT history entry, got %+v", f.orders.history)
	}
}

func TestSendFollowUpTransportFailureMarksAttemptFailed(t *testing.T) {
	f := newFixture(t, map[channel.Channel]string{channel.SMS: "06 12345678"})
	f.sms.err = errors.New("carrier rejected")

	res, err := f.svc.SendFollowUp(context.Background(), Request{OrderRef: f.order.ID.String(), Channel: channel.SMS, Message: "ETA?"})
	if !apperr.Is(err, apperr.KindChannel) {
		t.Fatalf(errExpectedKind, "channel", err)
	}
	if ch, ok := apperr.ChannelOf(err); !ok || ch != "SMS" {
		t.Fatalf("expected SMS channel on error, got %q", ch)
	}
	if f.sms.calls[0].To != "+31612345678" {
		t.Fatalf("expected E.164 recipient, got %q", f.sms.calls[0].To)
	}

	stored := f.attempts.get(res.AttemptID)
	if stored.Status != followup.StatusFailed || stored.Success {
		t.Fatalf("expected FAILED attempt, got %s", stored.Status)
	}
	if stored.LastError == nil || *stored.LastError != "carrier rejected" {
		t.Fatalf("expected last error to be recorded, got %v", stored.LastError)
	}
	if stored.ProviderMessageID != nil {
		t.Fatalf("failed attempt must not carry a provider message id")
	}
}

func TestSendFollowUpTimeoutIsChannelFailure(t *testing.T) {
	f := newFixture(t, map[channel.Channel]string{channel.Email: "ops@hydraulics.example"})
	f.email.block = true

	res, err := f.svc.SendFollowUp(context.Background(), Request{OrderRef: f.order.ID.String(), Channel: channel.Email, Message: "ETA?"})
	if !apperr.Is(err, apperr.KindChannel) {
		t.Fatalf(errExpectedKind, "channel", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded in chain, got %v", err)
	}
	if f.attempts.get(res.AttemptID).Status != followup.StatusFailed {
		t.Fatalf("timed out attempt should be FAILED")
	}
}

func TestSendFollowUpUnconfiguredChannelRecordsFailure(t *testing.T) {
	f := newFixture(t, map[channel.Channel]string{channel.Voice: "+16502530000"})

	res, err := f.svc.SendFollowUp(context.Background(), Request{OrderRef: f.order.ID.String(), Channel: channel.Voice, Message: "Calling about your order"})
	if !apperr.Is(err, apperr.KindChannel) {
		t.Fatalf(errExpectedKind, "channel", err)
	}
	if f.attempts.get(res.AttemptID).Status != followup.StatusFailed {
		t.Fatalf("expected FAILED attempt for unavailable transport")
	}
}

func TestSendFollowUpRejectsEmptyMessageAndUnknownOrder(t *testing.T) {
	f := newFixture(t, map[channel.Channel]string{channel.Email: "ops@hydraulics.example"})

	if _, err := f.svc.SendFollowUp(context.Background(), Request{OrderRef: f.order.ID.String(), Channel: channel.Email, Message: "  "}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf(errExpectedKind, "validation", err)
	}
	if _, err := f.svc.SendFollowUp(context.Background(), Request{OrderRef: "missing", Channel: channel.Email, Message: "hi"}); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf(errExpectedKind, "not found", err)
	}
}
