package notification

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"procurement_followup/internal/email"
	"procurement_followup/internal/events"
	"procurement_followup/internal/notification/sse"
	"procurement_followup/platform/logger"

	"github.com/google/uuid"
)

const errAlertCount = "expected %d escalation alerts, got %d"

type testNotifyConfig struct {
	to string
}

func (c testNotifyConfig) GetEscalationNotifyEmail() string { return c.to }
func (testNotifyConfig) GetAppBaseURL() string              { return "https://ops.example.com/" }

type alertCall struct {
	to    string
	alert email.EscalationAlert
}

type testSender struct {
	alerts []alertCall
	err    error
}

func (s *testSender) SendFollowUpEmail(context.Context, email.FollowUpEmail) (string, error) {
	return "", nil
}

func (s *testSender) SendEscalationAlert(_ context.Context, to string, alert email.EscalationAlert) error {
	s.alerts = append(s.alerts, alertCall{to: to, alert: alert})
	return s.err
}

func testLogger() *logger.Logger {
	return logger.NewWithHandler(slog.NewTextHandler(io.Discard, nil))
}

func escalationEvent() events.EscalationCreated {
	return events.EscalationCreated{
		BaseEvent:       events.NewBaseEvent(),
		EscalationID:    uuid.New(),
		OrderID:         uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e"),
		ExternalOrderID: "PO-7781",
		Reason:          "ATTEMPT_THRESHOLD_REACHED",
		Notes:           "3 follow-up attempts sent without resolution (threshold 3)",
		AttemptCount:    3,
	}
}

func TestEscalationCreatedSendsAlert(t *testing.T) {
	sender := &testSender{}
	m := New(sender, testNotifyConfig{to: "ops@example.com"}, testLogger())

	if err := m.Handle(context.Background(), escalationEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.alerts) != 1 {
		t.Fatalf(errAlertCount, 1, len(sender.alerts))
	}
	got := sender.alerts[0]
	if got.to != "ops@example.com" || got.alert.OrderRef != "PO-7781" || got.alert.AttemptCount != 3 {
		t.Fatalf("unexpected alert %+v", got)
	}
	if got.alert.OrderURL != "https://ops.example.com/orders/0f8fad5b-d9cb-469f-a165-70867728950e" {
		t.Fatalf("unexpected order url %s", got.alert.OrderURL)
	}
}

func TestEscalationCreatedWithoutRecipientIsSkipped(t *testing.T) {
	sender := &testSender{}
	m := New(sender, testNotifyConfig{}, testLogger())

	if err := m.Handle(context.Background(), escalationEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.alerts) != 0 {
		t.Fatalf(errAlertCount, 0, len(sender.alerts))
	}
}

func TestEscalationAlertFailureIsReported(t *testing.T) {
	sender := &testSender{err: errors.New("smtp down")}
	m := New(sender, testNotifyConfig{to: "ops@example.com"}, testLogger())

	if err := m.Handle(context.Background(), escalationEvent()); err == nil {
		t.Fatalf("expected sender error")
	}
}

func TestBusDeliversEscalationToModule(t *testing.T) {
	sender := &testSender{}
	m := New(sender, testNotifyConfig{to: "ops@example.com"}, testLogger())
	bus := events.NewInMemoryBus(testLogger())
	m.RegisterHandlers(bus)

	if err := bus.PublishSync(context.Background(), escalationEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.alerts) != 1 {
		t.Fatalf(errAlertCount, 1, len(sender.alerts))
	}
}

func TestHandleBroadcastsWithoutClients(t *testing.T) {
	m := New(&testSender{}, testNotifyConfig{}, testLogger())
	feed := sse.New(testLogger())
	m.SetSSE(feed)

	err := m.Handle(context.Background(), events.FollowUpDispatched{
		BaseEvent: events.NewBaseEvent(),
		OrderID:   uuid.New(),
		AttemptID: uuid.New(),
		Channel:   "EMAIL",
		Success:   true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if feed.ClientCount() != 0 {
		t.Fatalf("expected no clients")
	}
}
