package scheduler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"procurement_followup/platform/config"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

type Client struct {
	client *asynq.Client
	queue  string
	runTTL time.Duration
}

// RunEnqueuer queues scheduler work for the worker process.
type RunEnqueuer interface {
	EnqueueRun(ctx context.Context) error
	EnqueueProcessOrder(ctx context.Context, orderID uuid.UUID) error
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
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

	runTTL := cfg.GetFollowUpPolicy().RunInterval
	if runTTL <= 0 {
		runTTL = time.Hour
	}

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queue,
		runTTL: runTTL,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueRun queues a batch run. A run that is already queued is not queued
// twice and reports ErrRunInProgress.
func (c *Client) EnqueueRun(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}

	_, err := c.client.EnqueueContext(ctx, NewSchedulerRunTask(),
		asynq.Queue(c.queue),
		asynq.Unique(c.runTTL),
		asynq.MaxRetry(0))
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return ErrRunInProgress
	}
	return err
}

// EnqueueProcessOrder queues a single-order run.
func (c *Client) EnqueueProcessOrder(ctx context.Context, orderID uuid.UUID) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewProcessOrderTask(ProcessOrderPayload{OrderID: orderID.String()})
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue), asynq.MaxRetry(0))
	return err
}

// EnqueueSweep queues a stale attempt sweep.
func (c *Client) EnqueueSweep(ctx context.Context, every time.Duration) error {
	if c == nil || c.client == nil {
		return nil
	}

	_, err := c.client.EnqueueContext(ctx, NewSweepStaleAttemptsTask(),
		asynq.Queue(c.queue),
		asynq.Unique(every),
		asynq.MaxRetry(0))
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
