package scheduler

import (
	"context"
	"errors"
	"fmt"

	"procurement_followup/platform/config"
	"procurement_followup/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// OrderProcessor runs the engine for a single order.
type OrderProcessor interface {
	ProcessOrder(ctx context.Context, orderID uuid.UUID) OrderResult
}

type Worker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	runner  *Runner
	orders  OrderProcessor
	sweeper *StaleAttemptSweeper
	log     *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, runner *Runner, orders OrderProcessor, sweeper *StaleAttemptSweeper, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 4
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:  server,
		mux:     mux,
		runner:  runner,
		orders:  orders,
		sweeper: sweeper,
		log:     log,
	}

	mux.HandleFunc(TaskSchedulerRun, w.handleSchedulerRun)
	mux.HandleFunc(TaskProcessOrder, w.handleProcessOrder)
	mux.HandleFunc(TaskSweepStaleAttempts, w.handleSweepStaleAttempts)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	if err := w.server.Start(w.mux); err != nil {
		w.log.Error("scheduler worker failed to start", "error", err)
		return
	}

	<-ctx.Done()
	w.server.Shutdown()
	w.log.Info("scheduler worker stopped")
}

func (w *Worker) handleSchedulerRun(ctx context.Context, _ *asynq.Task) error {
	_, err := w.runner.RunOnce(ctx)
	if errors.Is(err, ErrRunInProgress) {
		return nil
	}
	return err
}

func (w *Worker) handleProcessOrder(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseProcessOrderPayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	orderID, err := uuid.Parse(payload.OrderID)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	result := w.orders.ProcessOrder(ctx, orderID)
	if result.Error != "" {
		return errors.New(result.Error)
	}
	return nil
}

func (w *Worker) handleSweepStaleAttempts(ctx context.Context, _ *asynq.Task) error {
	if w.sweeper == nil {
		return nil
	}
	_, err := w.sweeper.Sweep(ctx)
	return err
}
