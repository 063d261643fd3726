package auth

import (
	"time"

	"github.com/google/uuid"
)

// Sign-in providers recorded on users.
const (
	ProviderGoogle   = "google"
	ProviderFirebase = "firebase"
)

// User represents an authenticated user in the system.
type User struct {
	ID              uuid.UUID `json:"id"`
	Email           string    `json:"email"`
	Name            string    `json:"name"`
	AvatarURL       string    `json:"avatarUrl"`
	OAuthProvider   string    `json:"-"`
	OAuthProviderID string    `json:"-"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"-"`
	LastLoginAt     time.Time `json:"lastLoginAt"`
}

// Session represents an authenticated user session.
type Session struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	ExpiresAt time.Time
	CreatedAt time.Time
	UserAgent string
	IPAddress string
}

// Identity is a verified assertion from a sign-in provider.
type Identity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// GoogleClaims contains the relevant claims from a Google ID token.
type GoogleClaims struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Identity converts the claims into a provider-neutral identity.
func (c GoogleClaims) Identity() Identity {
	return Identity{
		Provider:      ProviderGoogle,
		Subject:       c.Sub,
		Email:         c.Email,
		EmailVerified: c.EmailVerified,
		Name:          c.Name,
		Picture:       c.Picture,
	}
}

// FirebaseClaims contains the claims carried by a Firebase ID token.
type FirebaseClaims struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	Firebase      struct {
		SignInProvider string `json:"sign_in_provider"`
	} `json:"firebase"`
}

// Identity converts the claims into a provider-neutral identity.
func (c FirebaseClaims) Identity() Identity {
	return Identity{
		Provider:      ProviderFirebase,
		Subject:       c.Sub,
		Email:         c.Email,
		EmailVerified: c.EmailVerified,
		Name:          c.Name,
		Picture:       c.Picture,
	}
}
