package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"querydesk/internal/metrics"
)

const userColumns = `id, email, name, avatar_url, oauth_provider, oauth_provider_id, created_at, updated_at, last_login_at`

// PostgresRepository stores users and sessions in the users and user_sessions tables.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type userRow struct {
	ID              uuid.UUID `db:"id"`
	Email           string    `db:"email"`
	Name            string    `db:"name"`
	AvatarURL       string    `db:"avatar_url"`
	OAuthProvider   string    `db:"oauth_provider"`
	OAuthProviderID string    `db:"oauth_provider_id"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
	LastLoginAt     time.Time `db:"last_login_at"`
}

func newUserRow(u User) userRow {
	return userRow(u)
}

func (r userRow) user() *User {
	u := User(r)
	return &u
}

// sessionRow scans the session/user join; the user columns are aliased "user.*".
type sessionRow struct {
	ID        uuid.UUID `db:"id"`
	UserID    uuid.UUID `db:"user_id"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
	UserAgent string    `db:"user_agent"`
	IPAddress string    `db:"ip_address"`
	User      userRow   `db:"user"`
}

func (r sessionRow) session() *Session {
	return &Session{
		ID:        r.ID,
		UserID:    r.UserID,
		ExpiresAt: r.ExpiresAt,
		CreatedAt: r.CreatedAt,
		UserAgent: r.UserAgent,
		IPAddress: r.IPAddress,
	}
}

// FindUserByOAuth looks up a user by sign-in provider and provider subject.
func (r *PostgresRepository) FindUserByOAuth(ctx context.Context, provider, providerID string) (*User, error) {
	return r.findUser(ctx, "find_user_oauth",
		`WHERE oauth_provider = $1 AND oauth_provider_id = $2`, provider, providerID)
}

// FindUserByEmail returns the oldest user registered with email, ignoring case.
func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	return r.findUser(ctx, "find_user_email",
		`WHERE LOWER(email) = LOWER($1) ORDER BY created_at LIMIT 1`, strings.TrimSpace(email))
}

func (r *PostgresRepository) findUser(ctx context.Context, operation, where string, args ...any) (*User, error) {
	defer metrics.ObserveStoreLatency(ctx, operation, time.Now())

	var row userRow
	if err := r.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users `+where, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	return row.user(), nil
}

// CreateUser inserts user as given; ids and timestamps are set by the caller.
func (r *PostgresRepository) CreateUser(ctx context.Context, user User) (User, error) {
	defer metrics.ObserveStoreLatency(ctx, "create_user", time.Now())

	const query = `
		INSERT INTO users (` + userColumns + `)
		VALUES (:id, :email, :name, :avatar_url, :oauth_provider, :oauth_provider_id, :created_at, :updated_at, :last_login_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, newUserRow(user)); err != nil {
		return User{}, err
	}
	return user, nil
}

// UpdateUserLogin refreshes profile data and stamps the login time.
func (r *PostgresRepository) UpdateUserLogin(ctx context.Context, id uuid.UUID, name, avatarURL string) error {
	defer metrics.ObserveStoreLatency(ctx, "update_user_login", time.Now())

	const query = `
		UPDATE users
		SET name = $2, avatar_url = $3, last_login_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, name, avatarURL)
	return err
}

// CreateSession stores session under the hash of its cookie token.
func (r *PostgresRepository) CreateSession(ctx context.Context, session Session, tokenHash string) error {
	defer metrics.ObserveStoreLatency(ctx, "create_session", time.Now())

	const query = `
		INSERT INTO user_sessions (id, user_id, session_token_hash, expires_at, created_at, user_agent, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		session.ID, session.UserID, tokenHash, session.ExpiresAt, session.CreatedAt, session.UserAgent, session.IPAddress)
	return err
}

// FindSessionByTokenHash returns the session and its owner, or nils when the hash is unknown.
func (r *PostgresRepository) FindSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, *User, error) {
	defer metrics.ObserveStoreLatency(ctx, "find_session", time.Now())

	const query = `
		SELECT
			s.id, s.user_id, s.expires_at, s.created_at, s.user_agent, s.ip_address,
			u.id AS "user.id", u.email AS "user.email", u.name AS "user.name",
			u.avatar_url AS "user.avatar_url", u.oauth_provider AS "user.oauth_provider",
			u.oauth_provider_id AS "user.oauth_provider_id", u.created_at AS "user.created_at",
			u.updated_at AS "user.updated_at", u.last_login_at AS "user.last_login_at"
		FROM user_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.session_token_hash = $1
	`

	var row sessionRow
	if err := r.db.GetContext(ctx, &row, query, tokenHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("find session: %w", err)
	}
	return row.session(), row.User.user(), nil
}

// DeleteSession removes one session.
func (r *PostgresRepository) DeleteSession(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE id = $1`, id)
	return err
}

// DeleteExpiredSessions removes every session past its expiry and reports how many went.
func (r *PostgresRepository) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	defer metrics.ObserveStoreLatency(ctx, "delete_expired_sessions", time.Now())

	result, err := r.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
