package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Pool sizes the connection pool. Zero fields take the defaults below.
type Pool struct {
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnectAttempts int
}

func (p Pool) withDefaults() Pool {
	if p.MaxOpenConns <= 0 {
		p.MaxOpenConns = 10
	}
	if p.ConnMaxLifetime <= 0 {
		p.ConnMaxLifetime = 30 * time.Minute
	}
	if p.ConnectAttempts <= 0 {
		p.ConnectAttempts = 5
	}
	return p
}

// idleConns keeps half the pool warm.
func (p Pool) idleConns() int {
	return max(1, p.MaxOpenConns/2)
}

// NewPostgres opens a pool and waits until the server answers a ping,
// retrying with a linear backoff while the database container starts.
func NewPostgres(ctx context.Context, url string, pool Pool, logger *slog.Logger) (*sqlx.DB, error) {
	pool = pool.withDefaults()

	db, err := sqlx.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.idleConns())
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := ping(ctx, db, pool.ConnectAttempts, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func ping(ctx context.Context, db *sqlx.DB, attempts int, logger *slog.Logger) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		wait := time.Duration(attempt) * time.Second
		logger.Warn("postgres not ready", "attempt", attempt, "retry_in", wait, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("ping postgres: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("ping postgres after %d attempts: %w", attempts, err)
}
