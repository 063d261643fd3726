package connections

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"querydesk/internal/metrics"
)

// Credential is the OAuth token pair held for one provider.
type Credential struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the credential carries an expiry that has passed.
// Credentials without an expiry never count as expired.
func (c Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// TokenDocuments is the server-side document store holding the Analytics token.
type TokenDocuments interface {
	AnalyticsToken(ctx context.Context, userID uuid.UUID) (*Credential, error)
	SaveAnalyticsToken(ctx context.Context, userID uuid.UUID, cred Credential) error
	DeleteAnalyticsToken(ctx context.Context, userID uuid.UUID) error
}

// MemoryTokenDocuments keeps token documents in process memory.
type MemoryTokenDocuments struct {
	mu   sync.RWMutex
	docs map[uuid.UUID]Credential
}

// NewMemoryTokenDocuments constructs an empty document store.
func NewMemoryTokenDocuments() *MemoryTokenDocuments {
	return &MemoryTokenDocuments{docs: make(map[uuid.UUID]Credential)}
}

// AnalyticsToken returns the stored document or nil.
func (m *MemoryTokenDocuments) AnalyticsToken(_ context.Context, userID uuid.UUID) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[userID]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

// SaveAnalyticsToken replaces the user's document.
func (m *MemoryTokenDocuments) SaveAnalyticsToken(_ context.Context, userID uuid.UUID, cred Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.docs[userID] = cred
	return nil
}

// DeleteAnalyticsToken removes the user's document.
func (m *MemoryTokenDocuments) DeleteAnalyticsToken(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.docs, userID)
	return nil
}

// PostgresTokenDocuments stores token documents in analytics_token_documents.
type PostgresTokenDocuments struct {
	db *sqlx.DB
}

// NewPostgresTokenDocuments creates a new PostgresTokenDocuments.
func NewPostgresTokenDocuments(db *sqlx.DB) *PostgresTokenDocuments {
	return &PostgresTokenDocuments{db: db}
}

// AnalyticsToken returns the stored document or nil.
func (p *PostgresTokenDocuments) AnalyticsToken(ctx context.Context, userID uuid.UUID) (*Credential, error) {
	defer metrics.ObserveStoreLatency(ctx, "token_get", time.Now())

	const query = `
		SELECT access_token, refresh_token, expires_at
		FROM analytics_token_documents
		WHERE user_id = $1
	`

	var row tokenRow
	if err := p.db.GetContext(ctx, &row, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	cred := Credential{AccessToken: row.AccessToken, RefreshToken: row.RefreshToken}
	if row.ExpiresAt.Valid {
		expires := row.ExpiresAt.Time
		cred.ExpiresAt = &expires
	}
	return &cred, nil
}

// SaveAnalyticsToken upserts the user's document.
func (p *PostgresTokenDocuments) SaveAnalyticsToken(ctx context.Context, userID uuid.UUID, cred Credential) error {
	defer metrics.ObserveStoreLatency(ctx, "token_save", time.Now())

	const query = `
		INSERT INTO analytics_token_documents (user_id, access_token, refresh_token, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`

	var expires sql.NullTime
	if cred.ExpiresAt != nil {
		expires = sql.NullTime{Time: *cred.ExpiresAt, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, query, userID, cred.AccessToken, cred.RefreshToken, expires)
	return err
}

// DeleteAnalyticsToken removes the user's document.
func (p *PostgresTokenDocuments) DeleteAnalyticsToken(ctx context.Context, userID uuid.UUID) error {
	defer metrics.ObserveStoreLatency(ctx, "token_delete", time.Now())

	_, err := p.db.ExecContext(ctx, `DELETE FROM analytics_token_documents WHERE user_id = $1`, userID)
	return err
}

type tokenRow struct {
	AccessToken  string       `db:"access_token"`
	RefreshToken string       `db:"refresh_token"`
	ExpiresAt    sql.NullTime `db:"expires_at"`
}
