package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"procurement_followup/internal/app"
	apphttp "procurement_followup/internal/http"
	"procurement_followup/internal/http/router"
	"procurement_followup/internal/notification"
	"procurement_followup/internal/notification/sse"
	"procurement_followup/internal/scheduler"
	"procurement_followup/internal/webhook"
	"procurement_followup/platform/config"
	"procurement_followup/platform/db"
	"procurement_followup/platform/logger"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := app.WithRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, cfg.MigrationsDir)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	svc, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize services", "error", err)
		panic("failed to initialize services: " + err.Error())
	}
	defer svc.Close()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	liveFeed := sse.New(log)
	defer liveFeed.Close()

	notificationModule := notification.New(svc.Sender, cfg, log)
	notificationModule.SetSSE(liveFeed)
	notificationModule.RegisterHandlers(svc.EventBus)

	webhookModule := webhook.NewModule(svc.Correlator, log, svc.WebhookOptions()...)

	enqueuer, closeEnqueuer := initRunEnqueuer(cfg, log)
	if closeEnqueuer != nil {
		defer closeEnqueuer()
	}
	schedulerModule := scheduler.NewModule(
		scheduler.NewHandler(svc.Runner, svc.Engine, enqueuer, svc.Attempts, svc.Validator),
	)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	engine := router.New(&apphttp.App{
		Config:  cfg,
		Logger:  log,
		Health:  svc.Pool,
		Metrics: svc.Metrics.Handler(),
		Modules: []apphttp.Module{
			webhookModule,
			schedulerModule,
			notificationModule,
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		panic("server error: " + err.Error())
	}
	log.Info("server stopped")
}

// initRunEnqueuer returns a nil interface when Redis is off so manual
// triggers run inline.
func initRunEnqueuer(cfg config.SchedulerConfig, log *logger.Logger) (scheduler.RunEnqueuer, func()) {
	if !cfg.IsRedisEnabled() {
		log.Warn("REDIS_URL not configured; manual scheduler runs execute inline")
		return nil, nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler queue client", "error", err)
		return nil, nil
	}

	return client, func() {
		_ = client.Close()
	}
}
