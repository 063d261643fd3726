package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUserExists is returned when registering an identity whose email is already taken.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidIdentity is returned when a verified token lacks a subject or email.
	ErrInvalidIdentity = errors.New("identity is missing subject or email")
)

// Service owns users and their server-side sessions.
type Service struct {
	repo       Repository
	sessionTTL time.Duration
	now        func() time.Time
}

// NewService creates a new auth Service.
func NewService(repo Repository, sessionTTL time.Duration) *Service {
	if sessionTTL == 0 {
		sessionTTL = 12 * time.Hour
	}
	return &Service{
		repo:       repo,
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
}

// SessionTTL returns how long issued sessions stay valid.
func (s *Service) SessionTTL() time.Duration {
	return s.sessionTTL
}

// CreateOrUpdateUser resolves the identity to a user, creating one on first
// sign-in, and records the login with the provider's latest profile.
func (s *Service) CreateOrUpdateUser(ctx context.Context, identity Identity) (*User, error) {
	return s.resolve(ctx, identity, true)
}

// UserForIdentity is CreateOrUpdateUser without the login bookkeeping. Bearer
// requests call it on every hit.
func (s *Service) UserForIdentity(ctx context.Context, identity Identity) (*User, error) {
	return s.resolve(ctx, identity, false)
}

func (s *Service) resolve(ctx context.Context, identity Identity, recordLogin bool) (*User, error) {
	if err := validateIdentity(identity); err != nil {
		return nil, err
	}

	user, err := s.repo.FindUserByOAuth(ctx, identity.Provider, identity.Subject)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return s.createUser(ctx, identity)
	}
	if !recordLogin {
		return user, nil
	}

	if err := s.repo.UpdateUserLogin(ctx, user.ID, identity.Name, identity.Picture); err != nil {
		return nil, fmt.Errorf("update user login: %w", err)
	}
	user.Name = identity.Name
	user.AvatarURL = identity.Picture
	user.LastLoginAt = s.now()
	return user, nil
}

// RegisterUser creates a user for the identity, failing when the email is already registered.
func (s *Service) RegisterUser(ctx context.Context, identity Identity) (*User, error) {
	if err := validateIdentity(identity); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindUserByEmail(ctx, identity.Email)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	return s.createUser(ctx, identity)
}

func (s *Service) createUser(ctx context.Context, identity Identity) (*User, error) {
	now := s.now()
	newUser := User{
		ID:              uuid.New(),
		Email:           strings.TrimSpace(identity.Email),
		Name:            identity.Name,
		AvatarURL:       identity.Picture,
		OAuthProvider:   identity.Provider,
		OAuthProviderID: identity.Subject,
		CreatedAt:       now,
		UpdatedAt:       now,
		LastLoginAt:     now,
	}

	created, err := s.repo.CreateUser(ctx, newUser)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	return &created, nil
}

// CreateSession opens a session for userID and returns the opaque token the
// browser keeps. Only its SHA-256 digest is stored.
func (s *Service) CreateSession(ctx context.Context, userID uuid.UUID, userAgent, ipAddress string) (string, error) {
	token, err := newSessionToken()
	if err != nil {
		return "", err
	}

	now := s.now()
	session := Session{
		ID:        uuid.New(),
		UserID:    userID,
		ExpiresAt: now.Add(s.sessionTTL),
		CreatedAt: now,
		UserAgent: truncate(userAgent, maxUserAgentLen),
		IPAddress: truncate(ipAddress, maxIPAddressLen),
	}
	if err := s.repo.CreateSession(ctx, session, hashToken(token)); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return token, nil
}

// ValidateSession checks if the token is valid and returns the associated user.
func (s *Service) ValidateSession(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, nil
	}

	session, user, err := s.repo.FindSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}

	if session == nil || user == nil {
		return nil, nil
	}

	if s.now().After(session.ExpiresAt) {
		_ = s.repo.DeleteSession(ctx, session.ID)
		return nil, nil
	}

	return user, nil
}

// DeleteSession removes the session associated with the given token.
func (s *Service) DeleteSession(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	session, _, err := s.repo.FindSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		return fmt.Errorf("find session: %w", err)
	}

	if session == nil {
		return nil
	}

	return s.repo.DeleteSession(ctx, session.ID)
}

// CleanupExpiredSessions removes all expired sessions from the repository.
func (s *Service) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredSessions(ctx)
}

// RunSessionCleanup prunes expired sessions every interval until ctx is done.
func (s *Service) RunSessionCleanup(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.CleanupExpiredSessions(ctx)
			if err != nil {
				logger.Error("session cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Info("expired sessions removed", "count", removed)
			}
		}
	}
}

func validateIdentity(identity Identity) error {
	if strings.TrimSpace(identity.Subject) == "" || strings.TrimSpace(identity.Email) == "" || identity.Provider == "" {
		return ErrInvalidIdentity
	}
	return nil
}

// Bounds on client metadata stored with a session.
const (
	maxUserAgentLen = 512
	maxIPAddressLen = 45
)

func newSessionToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
