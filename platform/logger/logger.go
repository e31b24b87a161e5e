// Package logger is the slog wrapper every component receives through its
// constructor. Keys are snake_case; helpers exist for the events operators
// search for: dispatches, unmatched callbacks and batch summaries.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

const (
	// RequestIDKey carries the HTTP correlation id set by httpkit.RequestID.
	RequestIDKey contextKey = "request_id"
	orderIDKey   contextKey = "order_id"
	runIDKey     contextKey = "run_id"
)

// Logger embeds *slog.Logger so the plain Info/Warn/Error methods remain.
type Logger struct {
	*slog.Logger
}

// New logs text at debug level in development and JSON at info elsewhere.
func New(env string) *Logger {
	if strings.EqualFold(env, "development") {
		return NewWithHandler(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return NewWithHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// NewWithHandler wraps an existing slog handler. Tests use it to capture output.
func NewWithHandler(handler slog.Handler) *Logger {
	return &Logger{Logger: slog.New(handler)}
}

// ContextWithRunID tags ctx with a scheduler batch id.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// ContextWithOrderID tags ctx with the order being processed.
func ContextWithOrderID(ctx context.Context, orderID string) context.Context {
	return context.WithValue(ctx, orderIDKey, orderID)
}

// WithContext adds request_id, run_id and order_id when ctx carries them.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}
	var attrs []any
	for _, key := range []contextKey{RequestIDKey, runIDKey, orderIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}
	if len(attrs) == 0 {
		return l
	}
	return &Logger{Logger: l.With(attrs...)}
}

func (l *Logger) WithOrderID(orderID string) *Logger {
	return &Logger{Logger: l.With(slog.String(string(orderIDKey), orderID))}
}

func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	level := slog.LevelInfo
	if status >= 500 {
		level = slog.LevelError
	}
	l.Log(context.Background(), level, "http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

func (l *Logger) DatabaseError(operation string, err error) {
	l.Error("database_error", slog.String("operation", operation), slog.String("error", err.Error()))
}

func (l *Logger) RateLimitExceeded(clientIP, path string) {
	l.Warn("rate_limit_exceeded", slog.String("client_ip", clientIP), slog.String("path", path))
}

// FollowUpDispatched records one transport outcome. Failures log at warn
// because the attempt row already holds the error.
func (l *Logger) FollowUpDispatched(orderID, channel, attemptID, providerMessageID string, err error) {
	attrs := []any{
		slog.String("order_id", orderID),
		slog.String("channel", channel),
		slog.String("attempt_id", attemptID),
	}
	if err != nil {
		l.Warn("followup_dispatch_failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	l.Info("followup_dispatched", append(attrs, slog.String("provider_message_id", providerMessageID))...)
}

// CallbackUnmatched records a webhook event no attempt could be found for.
func (l *Logger) CallbackUnmatched(provider, channel, messageID, status string) {
	l.Info("callback_unmatched",
		slog.String("provider", provider),
		slog.String("channel", channel),
		slog.String("message_id", messageID),
		slog.String("status", status),
	)
}

func (l *Logger) SchedulerBatch(processed, followUpsSent, escalations, errors int, durationMs int64) {
	l.Info("scheduler_batch_completed",
		slog.Int("processed", processed),
		slog.Int("followups_sent", followUpsSent),
		slog.Int("escalations_created", escalations),
		slog.Int("errors", errors),
		slog.Int64("duration_ms", durationMs),
	)
}
