package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"catalog_syncer/internal/config"
)

// Connect opens the store and migrates it. A failed round of attempts under
// cfg.ConnectRetry is followed by cfg.ConnectCooldown and another round, so
// Connect only gives up when ctx is done.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*sqlx.DB, error) {
	policy := cfg.ConnectRetry.Policy()
	onRetry := func(attempt int, wait time.Duration, err error) {
		logger.Warn("database not ready, retrying",
			"attempt", attempt,
			"backoff", wait,
			"error", err,
		)
	}

	for {
		var db *sqlx.DB
		err := policy.Do(ctx, func(ctx context.Context) error {
			conn, err := open(ctx, cfg)
			if err != nil {
				return err
			}
			db = conn
			return nil
		}, onRetry)
		if err == nil {
			return db, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("connect to database: %w", ctx.Err())
		}

		logger.Error("database unavailable, cooling down",
			"cooldown", cfg.ConnectCooldown,
			"error", err,
		)

		t := time.NewTimer(cfg.ConnectCooldown)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("connect to database: %w", ctx.Err())
		case <-t.C:
		}
	}
}

func open(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	if err := RunMigrations(cfg.URL()); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
