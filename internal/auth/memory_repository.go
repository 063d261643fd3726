package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository keeps users and sessions in process memory for local development and tests.
type InMemoryRepository struct {
	mu       sync.RWMutex
	users    map[uuid.UUID]User
	sessions map[string]Session
	now      func() time.Time
}

// NewInMemoryRepository constructs an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		users:    make(map[uuid.UUID]User),
		sessions: make(map[string]Session),
		now:      time.Now,
	}
}

// FindUserByOAuth looks up a user by provider and provider subject.
func (r *InMemoryRepository) FindUserByOAuth(_ context.Context, provider, providerID string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, user := range r.users {
		if user.OAuthProvider == provider && user.OAuthProviderID == providerID {
			found := user
			return &found, nil
		}
	}
	return nil, nil
}

// FindUserByEmail looks up a user by email, ignoring case.
func (r *InMemoryRepository) FindUserByEmail(_ context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, user := range r.users {
		if strings.EqualFold(user.Email, strings.TrimSpace(email)) {
			found := user
			return &found, nil
		}
	}
	return nil, nil
}

// CreateUser stores a new user.
func (r *InMemoryRepository) CreateUser(_ context.Context, user User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.users[user.ID] = user
	return user, nil
}

// UpdateUserLogin refreshes profile data and the last login time.
func (r *InMemoryRepository) UpdateUserLogin(_ context.Context, id uuid.UUID, name, avatarURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return nil
	}
	now := r.now()
	user.Name = name
	user.AvatarURL = avatarURL
	user.LastLoginAt = now
	user.UpdatedAt = now
	r.users[id] = user
	return nil
}

// CreateSession stores a session under its token hash.
func (r *InMemoryRepository) CreateSession(_ context.Context, session Session, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[tokenHash] = session
	return nil
}

// FindSessionByTokenHash returns the session and its user, or nils when unknown.
func (r *InMemoryRepository) FindSessionByTokenHash(_ context.Context, tokenHash string) (*Session, *User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[tokenHash]
	if !ok {
		return nil, nil, nil
	}
	user, ok := r.users[session.UserID]
	if !ok {
		return nil, nil, nil
	}
	return &session, &user, nil
}

// DeleteSession removes a session by ID.
func (r *InMemoryRepository) DeleteSession(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for hash, session := range r.sessions {
		if session.ID == id {
			delete(r.sessions, hash)
		}
	}
	return nil
}

// DeleteExpiredSessions removes every session past its expiry.
func (r *InMemoryRepository) DeleteExpiredSessions(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var removed int64
	for hash, session := range r.sessions {
		if session.ExpiresAt.Before(now) {
			delete(r.sessions, hash)
			removed++
		}
	}
	return removed, nil
}
