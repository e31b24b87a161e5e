// Package app wires the follow-up engine's collaborators once so the API,
// the scheduler worker and the CLI share one composition.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"procurement_followup/internal/adapters/storage"
	"procurement_followup/internal/ai"
	"procurement_followup/internal/channel"
	"procurement_followup/internal/dispatch"
	"procurement_followup/internal/email"
	"procurement_followup/internal/events"
	"procurement_followup/internal/followup"
	"procurement_followup/internal/orders"
	"procurement_followup/internal/replies"
	"procurement_followup/internal/scheduler"
	"procurement_followup/internal/twilio"
	"procurement_followup/internal/webhook"
	"procurement_followup/platform/config"
	"procurement_followup/platform/db"
	"procurement_followup/platform/locks"
	"procurement_followup/platform/logger"
	"procurement_followup/platform/metrics"
	"procurement_followup/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const (
	retryAttempts  = 5
	retryBaseDelay = 2 * time.Second
)

// Services holds every long-lived collaborator.
type Services struct {
	Config     *config.Config
	Log        *logger.Logger
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	EventBus   *events.InMemoryBus
	Metrics    *metrics.Metrics
	Validator  *validator.Validator
	Locker     locks.Locker
	Orders     *orders.Repository
	Attempts   *followup.Repository
	Sender     email.Sender
	Registry   *channel.Registry
	Dispatcher *dispatch.Service
	AI         ai.Workflow
	Engine     *scheduler.Engine
	Runner     *scheduler.Runner
	Sweeper    *scheduler.StaleAttemptSweeper
	Correlator *replies.Correlator
	Archive    storage.PayloadArchive
}

// Build connects to Postgres (and Redis when configured) and assembles the
// engine. Close releases the connections.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Services, error) {
	s := &Services{
		Config:    cfg,
		Log:       log,
		EventBus:  events.NewInMemoryBus(log),
		Metrics:   metrics.New(),
		Validator: validator.New(),
	}

	if err := WithRetry(ctx, log, "database connection", retryAttempts, retryBaseDelay, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		s.Pool = p
		return nil
	}); err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	log.Info("database connection established")

	s.Locker = locks.NewLocal()
	if cfg.IsRedisEnabled() {
		client, err := locks.NewRedisClient(cfg)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		s.Redis = client
		s.Locker = locks.NewRedis(client)
		log.Info("redis locks enabled")
	} else {
		log.Warn("REDIS_URL not configured; locks are process-local and the task queue is disabled")
	}

	s.Orders = orders.New(s.Pool)
	s.Attempts = followup.New(s.Pool)

	sender, err := email.NewSender(cfg)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("initialize email sender: %w", err)
	}
	s.Sender = sender

	var twilioClient *twilio.Client
	if cfg.IsTwilioEnabled() {
		twilioClient = twilio.NewClient(cfg, log)
	}
	s.Registry = channel.BuildRegistry(cfg.GetEmailEnabled(), sender, twilioClient, channel.DefaultBreakerSettings(), log)

	policy := cfg.GetFollowUpPolicy()
	s.Dispatcher = dispatch.New(dispatch.Deps{
		Orders:     s.Orders,
		Attempts:   s.Attempts,
		Transports: s.Registry,
		Validator:  s.Validator,
		EventBus:   s.EventBus,
		Metrics:    s.Metrics,
		Log:        log,
		Timeout:    policy.TransportTimeout,
	})

	workflow, err := ai.New(cfg, ai.NewContextLoader(s.Orders, s.Attempts), log)
	if err != nil {
		log.Error("failed to initialize AI workflow; continuing without a model", "error", err)
		workflow = ai.Unavailable{}
	}
	s.AI = workflow

	s.Engine = scheduler.NewEngine(scheduler.Deps{
		Orders:      s.Orders,
		Attempts:    s.Attempts,
		Escalations: s.Attempts,
		Dispatcher:  s.Dispatcher,
		AI:          workflow,
		Locker:      s.Locker,
		EventBus:    s.EventBus,
		Metrics:     s.Metrics,
		Policy:      policy,
		Log:         log,
	})

	var runLocker locks.Locker
	if s.Redis != nil {
		runLocker = s.Locker
	}
	s.Runner = scheduler.NewRunner(s.Engine, runLocker, s.Metrics, log, policy.RunInterval)
	s.Sweeper = scheduler.NewStaleAttemptSweeper(s.Attempts, s.Metrics, log, policy.SweepInterval, policy.StalePendingAfter)

	s.Correlator = replies.New(replies.Deps{
		Orders:     s.Orders,
		Attempts:   s.Attempts,
		Dispatcher: s.Dispatcher,
		Analyzer:   workflow,
		Locker:     s.Locker,
		EventBus:   s.EventBus,
		Log:        log,
		LockTTL:    policy.OrderLockTTL,
		AITimeout:  policy.AIDecisionTimeout,
	})

	if cfg.IsMinIOEnabled() {
		archive, err := storage.NewMinIOArchive(cfg)
		if err != nil {
			log.Error("failed to initialize payload archive; raw payloads will not be stored", "error", err)
		} else if err := WithRetry(ctx, log, "ensure webhook payload bucket", retryAttempts, retryBaseDelay, func() error {
			return archive.EnsureBucketExists(ctx)
		}); err != nil {
			log.Error("failed to ensure webhook payload bucket", "error", err)
		} else {
			s.Archive = archive
			log.Info("payload archive enabled", "bucket", cfg.GetMinioBucketWebhookPayloads())
		}
	}

	return s, nil
}

// WebhookOptions returns the normalizer options matching the configuration.
func (s *Services) WebhookOptions() []webhook.ServiceOption {
	opts := []webhook.ServiceOption{webhook.WithMetrics(s.Metrics)}
	if key := s.Config.GetResendAPIKey(); key != "" {
		opts = append(opts, webhook.WithContentFetcher(webhook.NewResendContentFetcher(key)))
	}
	if s.Archive != nil {
		opts = append(opts, webhook.WithArchive(s.Archive))
	}
	return opts
}

// Close waits for in-flight async events and releases connections.
func (s *Services) Close() {
	if s.EventBus != nil {
		s.EventBus.Wait()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// WithRetry runs fn up to attempts times with quadratic backoff.
func WithRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
