// Package http defines what the router needs from the composition root and
// how feature modules attach their routes.
package http

import (
	"context"
	"net/http"

	"procurement_followup/platform/config"
	"procurement_followup/platform/httpkit"
	"procurement_followup/platform/logger"

	"github.com/gin-gonic/gin"
)

// RouterConfig is the slice of configuration the router reads.
type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
	config.WebhookConfig
}

// HealthChecker is satisfied by *pgxpool.Pool.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App is assembled in cmd/api and handed to router.New.
type App struct {
	Config RouterConfig
	Logger *logger.Logger
	Health HealthChecker
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
	Modules []Module
}

// Module is a feature area that mounts its own routes: webhooks, scheduler
// triggers, the operator event feed.
type Module interface {
	Name() string
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext carries the route groups a module may attach to.
type RouterContext struct {
	// V1 is /api/v1 without authentication. Vendor webhooks live here.
	V1 *gin.RouterGroup
	// Protected requires a valid operator access token.
	Protected *gin.RouterGroup
	// Admin is /api/v1/admin and additionally requires the admin role.
	Admin *gin.RouterGroup
	// WebhookRateLimiter is nil when webhook throttling is disabled.
	WebhookRateLimiter *httpkit.IPRateLimiter
}
