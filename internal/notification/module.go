// Package notification provides event handlers for sending notifications
// in response to follow-up domain events.
// This module subscribes to events and inverts the dependency: the scheduler
// and correlator don't need to know about email providers or live feeds.
package notification

import (
	"context"
	"fmt"
	"strings"

	"procurement_followup/internal/email"
	"procurement_followup/internal/events"
	apphttp "procurement_followup/internal/http"
	"procurement_followup/internal/notification/sse"
	"procurement_followup/platform/config"
	"procurement_followup/platform/httpkit"
	"procurement_followup/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Module handles all notification-related event subscriptions.
type Module struct {
	sender email.Sender
	cfg    config.EscalationNotifyConfig
	log    *logger.Logger
	sse    *sse.Service
}

// New creates the notification module.
func New(sender email.Sender, cfg config.EscalationNotifyConfig, log *logger.Logger) *Module {
	if sender == nil {
		sender = email.NoopSender{}
	}
	return &Module{
		sender: sender,
		cfg:    cfg,
		log:    log,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "notification" }

// RegisterRoutes mounts the operator event stream on the admin group.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	if m.sse == nil {
		return
	}
	admin := ctx.Admin
	if admin == nil {
		admin = ctx.Protected.Group("/admin", httpkit.RequireRole(httpkit.RoleAdmin))
	}
	admin.GET("/events", m.sse.Handler(func(c *gin.Context) (uuid.UUID, bool) {
		op, ok := httpkit.GetOperator(c)
		return op.ID, ok
	}))
}

// SetSSE injects the SSE service so follow-up events are pushed to operators.
func (m *Module) SetSSE(s *sse.Service) {
	m.sse = s
}

// RegisterHandlers subscribes the module to the event bus.
func (m *Module) RegisterHandlers(bus *events.InMemoryBus) {
	bus.Subscribe(events.EscalationCreated{}.EventName(), m)
	bus.Subscribe(events.FollowUpDispatched{}.EventName(), m)
	bus.Subscribe(events.ProviderReplyReceived{}.EventName(), m)
	bus.Subscribe(events.OrderStatusChanged{}.EventName(), m)

	m.log.Info("notification module registered event handlers")
}

// Handle routes events to the appropriate handler method.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.EscalationCreated:
		return m.handleEscalationCreated(ctx, e)
	case events.FollowUpDispatched:
		m.broadcast(sse.EventFollowUpDispatched, e.OrderID, e)
	case events.ProviderReplyReceived:
		m.broadcast(sse.EventReplyReceived, e.OrderID, e)
	case events.OrderStatusChanged:
		m.broadcast(sse.EventOrderStatusChanged, e.OrderID, e)
	default:
		m.log.Warn("unhandled event type", "event", event.EventName())
	}
	return nil
}

func (m *Module) handleEscalationCreated(ctx context.Context, e events.EscalationCreated) error {
	m.broadcast(sse.EventEscalationCreated, e.OrderID, e)

	to := strings.TrimSpace(m.cfg.GetEscalationNotifyEmail())
	if to == "" {
		m.log.Info("escalation alert skipped: no notify address", "orderId", e.OrderID)
		return nil
	}

	alert := email.EscalationAlert{
		OrderRef:     orderRef(e),
		Reason:       e.Reason,
		Notes:        e.Notes,
		AttemptCount: e.AttemptCount,
		OrderURL:     m.orderURL(e.OrderID),
	}
	if err := m.sender.SendEscalationAlert(ctx, to, alert); err != nil {
		m.log.Error("failed to send escalation alert", "error", err, "orderId", e.OrderID, "escalationId", e.EscalationID)
		return err
	}
	m.log.Info("escalation alert sent", "orderId", e.OrderID, "escalationId", e.EscalationID)
	return nil
}

func (m *Module) broadcast(eventType sse.EventType, orderID uuid.UUID, e events.Event) {
	if m.sse == nil {
		return
	}
	m.sse.Broadcast(sse.Event{ID: e.EventID(), Type: eventType, OrderID: orderID, Data: e})
}

func (m *Module) orderURL(orderID uuid.UUID) string {
	base := strings.TrimRight(m.cfg.GetAppBaseURL(), "/")
	if base == "" {
		return ""
	}
	return fmt.Sprintf("%s/orders/%s", base, orderID)
}

func orderRef(e events.EscalationCreated) string {
	if e.ExternalOrderID != "" {
		return e.ExternalOrderID
	}
	return e.OrderID.String()
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
