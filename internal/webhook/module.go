// Package webhook provides the channel callback bounded context module.
// This file defines the module that encapsulates webhook setup and route registration.
package webhook

import (
	apphttp "procurement_followup/internal/http"
	"procurement_followup/platform/logger"
)

// Module is the webhook bounded context module implementing http.Module.
type Module struct {
	handler *Handler
}

// NewModule creates the webhook module around an already configured correlator.
func NewModule(correlator Correlator, log *logger.Logger, opts ...ServiceOption) *Module {
	service := NewService(correlator, log, opts...)
	return &Module{handler: NewHandler(service)}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "webhook"
}

// RegisterRoutes mounts webhook routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.V1.Group("/webhooks")
	if ctx.WebhookRateLimiter != nil {
		group.Use(ctx.WebhookRateLimiter.RateLimit())
	}
	group.POST("/channels", m.handler.HandleChannelWebhook)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
