package connections

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"querydesk/internal/metrics"
)

// PostgresStore implements Store on the connection_entries table.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get returns the value stored under key.
func (s *PostgresStore) Get(ctx context.Context, userID uuid.UUID, key string) (string, bool, error) {
	defer metrics.ObserveStoreLatency(ctx, "get", time.Now())

	const query = `SELECT value FROM connection_entries WHERE user_id = $1 AND key = $2`

	var value string
	if err := s.db.GetContext(ctx, &value, query, userID, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

// Set upserts value under key.
func (s *PostgresStore) Set(ctx context.Context, userID uuid.UUID, key, value string) error {
	defer metrics.ObserveStoreLatency(ctx, "set", time.Now())

	const query = `
		INSERT INTO connection_entries (user_id, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, userID, key, value)
	return err
}

// Remove deletes the given keys in one statement.
func (s *PostgresStore) Remove(ctx context.Context, userID uuid.UUID, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	defer metrics.ObserveStoreLatency(ctx, "remove", time.Now())

	const query = `DELETE FROM connection_entries WHERE user_id = $1 AND key = ANY($2)`
	_, err := s.db.ExecContext(ctx, query, userID, pq.Array(keys))
	return err
}

// List returns every entry for the user.
func (s *PostgresStore) List(ctx context.Context, userID uuid.UUID) (map[string]string, error) {
	defer metrics.ObserveStoreLatency(ctx, "list", time.Now())

	const query = `SELECT key, value FROM connection_entries WHERE user_id = $1`

	var rows []entryRow
	if err := s.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Value
	}
	return out, nil
}

type entryRow struct {
	Key   string `db:"key"`
	Value string `db:"value"`
}
