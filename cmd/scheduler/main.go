package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"procurement_followup/internal/app"
	"procurement_followup/internal/notification"
	"procurement_followup/internal/scheduler"
	"procurement_followup/platform/config"
	"procurement_followup/platform/logger"

	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize services", "error", err)
		panic("failed to initialize services: " + err.Error())
	}
	defer svc.Close()

	notificationModule := notification.New(svc.Sender, cfg, log)
	notificationModule.RegisterHandlers(svc.EventBus)

	policy := cfg.GetFollowUpPolicy()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.IsRedisEnabled() {
		runQueued(gctx, g, cfg, svc, log)
	} else {
		log.Warn("REDIS_URL not configured; running the scheduler loop in-process")
		g.Go(func() error {
			svc.Runner.Loop(gctx, policy.RunInterval)
			return nil
		})
		g.Go(func() error {
			svc.Sweeper.Run(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("scheduler stopped with error", "error", err)
		panic("scheduler error: " + err.Error())
	}
	log.Info("scheduler stopped")
}

// runQueued starts the asynq worker and the periodic enqueuer. The unique
// run task keeps overlapping triggers from several replicas out of the queue.
func runQueued(ctx context.Context, g *errgroup.Group, cfg *config.Config, svc *app.Services, log *logger.Logger) {
	policy := cfg.GetFollowUpPolicy()

	worker, err := scheduler.NewWorker(cfg, svc.Runner, svc.Engine, svc.Sweeper, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}
	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler queue client", "error", err)
		panic("failed to initialize scheduler queue client: " + err.Error())
	}
	trigger := scheduler.NewPeriodicTrigger(client, log, policy.RunInterval, policy.SweepInterval)

	g.Go(func() error {
		worker.Run(ctx)
		return nil
	})
	g.Go(func() error {
		defer func() { _ = client.Close() }()
		trigger.Run(ctx)
		return nil
	})
}
