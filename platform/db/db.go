// Package db opens the Postgres pool and runs goose migrations.
package db

import (
	"context"
	"fmt"
	"time"

	"procurement_followup/platform/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultMaxConns = 10
	// Engine queries are short; anything slower is a stuck lock or a bad plan.
	statementTimeout = "30s"
)

// NewPool opens a pgx pool sized for the API or worker process and verifies
// it with a ping. Sessions are tagged with the application name so follow-up
// traffic is identifiable in pg_stat_activity.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	maxConns := cfg.GetDatabaseMaxConns()
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	poolConfig.MaxConns = int32(maxConns)
	poolConfig.MinConns = int32(min(2, maxConns))
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 15 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	params := poolConfig.ConnConfig.RuntimeParams
	if name := cfg.GetDatabaseAppName(); name != "" {
		params["application_name"] = name
	}
	params["statement_timeout"] = statementTimeout
	params["timezone"] = "UTC"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}
