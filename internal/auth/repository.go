package auth

import (
	"context"

	"github.com/google/uuid"
)

// UserStore persists users keyed by sign-in provider identity.
type UserStore interface {
	FindUserByOAuth(ctx context.Context, provider, providerID string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	CreateUser(ctx context.Context, user User) (User, error)
	UpdateUserLogin(ctx context.Context, id uuid.UUID, name, avatarURL string) error
}

// SessionStore persists server sessions by the hash of their cookie token.
// Lookups return nil values, not an error, when nothing matches.
type SessionStore interface {
	CreateSession(ctx context.Context, session Session, tokenHash string) error
	FindSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, *User, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
	DeleteExpiredSessions(ctx context.Context) (int64, error)
}

// Repository is the storage the auth Service needs.
type Repository interface {
	UserStore
	SessionStore
}
