package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"querydesk/internal/auth"
	"querydesk/internal/connections"

	"github.com/google/uuid"
)

type authRepoStub struct {
	findUserByOAuth       func(ctx context.Context, provider, providerID string) (*auth.User, error)
	findUserByEmail       func(ctx context.Context, email string) (*auth.User, error)
	createUser            func(ctx context.Context, user auth.User) (auth.User, error)
	updateUserLogin       func(ctx context.Context, id uuid.UUID, name, avatarURL string) error
	createSession         func(ctx context.Context, session auth.Session, tokenHash string) error
	findSessionByHash     func(ctx context.Context, tokenHash string) (*auth.Session, *auth.User, error)
	deleteSession         func(ctx context.Context, id uuid.UUID) error
	deleteExpiredSessions func(ctx context.Context) (int64, error)
}

func (r *authRepoStub) FindUserByOAuth(ctx context.Context, provider, providerID string) (*auth.User, error) {
	if r.findUserByOAuth != nil {
		return r.findUserByOAuth(ctx, provider, providerID)
	}
	return nil, nil
}

func (r *authRepoStub) FindUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	if r.findUserByEmail != nil {
		return r.findUserByEmail(ctx, email)
	}
	return nil, nil
}

func (r *authRepoStub) CreateUser(ctx context.Context, user auth.User) (auth.User, error) {
	if r.createUser != nil {
		return r.createUser(ctx, user)
	}
	return user, nil
}

func (r *authRepoStub) UpdateUserLogin(ctx context.Context, id uuid.UUID, name, avatarURL string) error {
	if r.updateUserLogin != nil {
		return r.updateUserLogin(ctx, id, name, avatarURL)
	}
	return nil
}

func (r *authRepoStub) CreateSession(ctx context.Context, session auth.Session, tokenHash string) error {
	if r.createSession != nil {
		return r.createSession(ctx, session, tokenHash)
	}
	return nil
}

func (r *authRepoStub) FindSessionByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, *auth.User, error) {
	if r.findSessionByHash != nil {
		return r.findSessionByHash(ctx, tokenHash)
	}
	return nil, nil, nil
}

func (r *authRepoStub) DeleteSession(ctx context.Context, id uuid.UUID) error {
	if r.deleteSession != nil {
		return r.deleteSession(ctx, id)
	}
	return nil
}

func (r *authRepoStub) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	if r.deleteExpiredSessions != nil {
		return r.deleteExpiredSessions(ctx)
	}
	return 0, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeVerifier accepts the raw tokens it was seeded with.
type fakeVerifier struct {
	identities map[string]auth.Identity
	blocked    map[string]bool
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{
		identities: map[string]auth.Identity{
			"good-token": {Provider: auth.ProviderFirebase, Subject: "fb-ana", Email: "ana@example.com", Name: "Ana"},
			"other-ana":  {Provider: auth.ProviderFirebase, Subject: "fb-ana-2", Email: "ana@example.com", Name: "Ana Again"},
			"blocked":    {Provider: auth.ProviderFirebase, Subject: "fb-eve", Email: "eve@blocked.test", Name: "Eve"},
		},
		blocked: map[string]bool{"eve@blocked.test": true},
	}
}

func (f *fakeVerifier) Verify(_ context.Context, raw string) (auth.Identity, error) {
	identity, ok := f.identities[raw]
	if !ok {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return identity, nil
}

func (f *fakeVerifier) IsEmailAllowed(email string) bool {
	return !f.blocked[email]
}

// newSignedInUser returns an auth service backed by the in-memory repository,
// one user and a valid session token for that user.
func newSignedInUser(t *testing.T) (*auth.Service, *auth.User, string) {
	t.Helper()

	svc := auth.NewService(auth.NewInMemoryRepository(), time.Hour)
	user, err := svc.CreateOrUpdateUser(context.Background(), auth.Identity{
		Provider: auth.ProviderFirebase,
		Subject:  "fb-ana",
		Email:    "ana@example.com",
		Name:     "Ana",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, err := svc.CreateSession(context.Background(), user.ID, "test-agent", "127.0.0.1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return svc, user, token
}

func newConnectionService() *connections.Service {
	return connections.NewService(connections.NewMemoryStore(), connections.NewMemoryTokenDocuments())
}

func asUser(req *http.Request, user *auth.User) *http.Request {
	return req.WithContext(withUser(req.Context(), user))
}

func decodeJSONMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}
