package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apphttp "procurement_followup/internal/http"
	"procurement_followup/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	testSecret   = "router-test-secret"
	errStatusFmt = "expected status %d, got %d (%s)"
)

type testConfig struct{}

func (testConfig) GetHTTPAddr() string          { return ":0" }
func (testConfig) GetCORSAllowAll() bool        { return false }
func (testConfig) GetCORSOrigins() []string     { return []string{"http://localhost:4200"} }
func (testConfig) GetCORSAllowCreds() bool      { return true }
func (testConfig) GetJWTAccessSecret() string   { return testSecret }
func (testConfig) GetWebhookRateLimit() float64 { return 1 }
func (testConfig) GetWebhookRateBurst() int     { return 1 }

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type probeModule struct{}

func (probeModule) Name() string { return "probe" }

func (probeModule) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Admin.GET("/probe", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	hooks := ctx.V1.Group("/hooks", ctx.WebhookRateLimiter.RateLimit())
	hooks.POST("/probe", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
}

func newTestEngine(health apphttp.HealthChecker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return New(&apphttp.App{
		Config:  testConfig{},
		Logger:  logger.NewWithHandler(slog.NewTextHandler(io.Discard, nil)),
		Health:  health,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
		Modules: []apphttp.Module{probeModule{}},
	})
}

func token(t *testing.T, roles ...string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   uuid.NewString(),
		"type":  "access",
		"roles": roles,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func serve(engine *gin.Engine, method, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	engine := newTestEngine(pingFunc(func(context.Context) error { return nil }))
	rec := serve(engine, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf(errStatusFmt, http.StatusOK, rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a request id header")
	}
}

func TestHealthReportsDatabaseOutage(t *testing.T) {
	engine := newTestEngine(pingFunc(func(context.Context) error { return errors.New("down") }))
	rec := serve(engine, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf(errStatusFmt, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := serve(newTestEngine(nil), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf(errStatusFmt, http.StatusOK, rec.Code, rec.Body.String())
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	engine := newTestEngine(nil)

	cases := []struct {
		name   string
		bearer string
		want   int
	}{
		{name: "anonymous", want: http.StatusUnauthorized},
		{name: "garbage token", bearer: "not-a-jwt", want: http.StatusUnauthorized},
		{name: "operator without admin", bearer: token(t, "buyer"), want: http.StatusForbidden},
		{name: "admin", bearer: token(t, "admin"), want: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(engine, http.MethodGet, "/api/v1/admin/probe", tc.bearer)
			if rec.Code != tc.want {
				t.Fatalf(errStatusFmt, tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestWebhookRoutesAreRateLimited(t *testing.T) {
	engine := newTestEngine(nil)

	if rec := serve(engine, http.MethodPost, "/api/v1/hooks/probe", ""); rec.Code != http.StatusOK {
		t.Fatalf(errStatusFmt, http.StatusOK, rec.Code, rec.Body.String())
	}
	if rec := serve(engine, http.MethodPost, "/api/v1/hooks/probe", ""); rec.Code != http.StatusTooManyRequests {
		t.Fatalf(errStatusFmt, http.StatusTooManyRequests, rec.Code, rec.Body.String())
	}
}
