package scheduler

import (
	apphttp "procurement_followup/internal/http"
	"procurement_followup/platform/httpkit"
)

// Module is the scheduler bounded context module implementing http.Module.
type Module struct {
	handler *Handler
}

// NewModule wraps the admin handler.
func NewModule(handler *Handler) *Module {
	return &Module{handler: handler}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "scheduler"
}

// RegisterRoutes mounts scheduler routes on the admin group.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	admin := ctx.Admin
	if admin == nil {
		admin = ctx.Protected.Group("/admin", httpkit.RequireRole(httpkit.RoleAdmin))
	}
	admin.POST("/scheduler/run", m.handler.TriggerRun)
	admin.POST("/scheduler/orders/:id/run", m.handler.ProcessOrder)
	admin.GET("/followups/pending", m.handler.ListPending)
	admin.GET("/orders/:id/escalations", m.handler.ListEscalations)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
