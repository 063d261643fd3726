package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"querydesk/internal/auth"

	"github.com/google/uuid"
)

func newTestSessionHandler(t *testing.T) (*SessionHandler, *auth.Service) {
	t.Helper()
	authService := auth.NewService(auth.NewInMemoryRepository(), time.Hour)
	return NewSessionHandler(authService, newFakeVerifier(), "development", discardLogger()), authService
}

func TestSessionHandlerStatusWithNoCookie(t *testing.T) {
	handler := NewSessionHandler(auth.NewService(&authRepoStub{}, time.Hour), nil, "development", discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	rec := httptest.NewRecorder()
	handler.Status(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	response := decodeJSONMap(t, rec)
	if response["authenticated"] != false {
		t.Fatalf("expected authenticated=false without cookie, got %v", response["authenticated"])
	}
}

func TestSessionHandlerStatusWithValidSession(t *testing.T) {
	expectedUser := &auth.User{ID: uuid.New(), Email: "user@example.com", Name: "User", AvatarURL: "avatar.png"}
	repo := &authRepoStub{
		findSessionByHash: func(ctx context.Context, tokenHash string) (*auth.Session, *auth.User, error) {
			return &auth.Session{ID: uuid.New(), ExpiresAt: time.Now().Add(time.Minute)}, expectedUser, nil
		},
	}
	handler := NewSessionHandler(auth.NewService(repo, time.Hour), nil, "development", discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "token"})
	rec := httptest.NewRecorder()
	handler.Status(rec, req)

	response := decodeJSONMap(t, rec)
	if response["authenticated"] != true {
		t.Fatalf("expected authenticated=true, got %v", response["authenticated"])
	}
	user, ok := response["user"].(map[string]any)
	if !ok {
		t.Fatalf("expected user object, got %T", response["user"])
	}
	if user["email"] != expectedUser.Email {
		t.Fatalf("expected user email %q, got %v", expectedUser.Email, user["email"])
	}
}

func TestSessionHandlerLoginIssuesSessionCookie(t *testing.T) {
	handler, authService := newTestSessionHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/users/login", strings.NewReader(`{"idToken":"good-token"}`))
	rec := httptest.NewRecorder()
	handler.Login(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	cookie := findCookie(rec, sessionCookieName)
	if cookie == nil {
		t.Fatal("expected session cookie")
	}
	if !cookie.HttpOnly || cookie.Path != "/" {
		t.Fatalf("expected HttpOnly cookie on /, got %+v", cookie)
	}
	if cookie.MaxAge != int(time.Hour.Seconds()) {
		t.Fatalf("expected cookie to live for the session TTL, got %d", cookie.MaxAge)
	}

	user, err := authService.ValidateSession(context.Background(), cookie.Value)
	if err != nil || user == nil {
		t.Fatalf("expected cookie to map to a session, got user=%v err=%v", user, err)
	}
	if user.Email != "ana@example.com" {
		t.Fatalf("unexpected session user %q", user.Email)
	}

	body := decodeJSONMap(t, rec)
	if body["user"] == nil {
		t.Fatal("expected user in response")
	}
}

func TestSessionHandlerLoginRejectsBadRequests(t *testing.T) {
	cases := []struct {
		name string
		body string
		want int
	}{
		{"missing token", `{}`, http.StatusBadRequest},
		{"blank token", `{"idToken":"  "}`, http.StatusBadRequest},
		{"malformed body", `{"idToken":`, http.StatusBadRequest},
		{"invalid token", `{"idToken":"forged"}`, http.StatusUnauthorized},
		{"blocked email", `{"idToken":"blocked"}`, http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler, _ := newTestSessionHandler(t)

			req := httptest.NewRequest(http.MethodPost, "/users/login", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			handler.Login(rec, req)

			if rec.Code != tc.want {
				t.Fatalf("expected status %d, got %d", tc.want, rec.Code)
			}
			if findCookie(rec, sessionCookieName) != nil {
				t.Fatal("no session cookie expected on failure")
			}
		})
	}
}

func TestSessionHandlerLoginWithoutVerifier(t *testing.T) {
	handler := NewSessionHandler(auth.NewService(auth.NewInMemoryRepository(), time.Hour), nil, "development", discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/users/login", strings.NewReader(`{"idToken":"good-token"}`))
	rec := httptest.NewRecorder()
	handler.Login(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
}

func TestSessionHandlerCreateRejectsDuplicateEmail(t *testing.T) {
	handler, _ := newTestSessionHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/users/create", strings.NewReader(`{"idToken":"good-token"}`))
	rec := httptest.NewRecorder()
	handler.Create(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if findCookie(rec, sessionCookieName) == nil {
		t.Fatal("expected session cookie after sign-up")
	}

	req = httptest.NewRequest(http.MethodPost, "/users/create", strings.NewReader(`{"idToken":"other-ana"}`))
	rec = httptest.NewRecorder()
	handler.Create(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}
}

func TestSessionHandlerLoginPageWithTokenRedirects(t *testing.T) {
	cases := []struct {
		name       string
		redirectTo string
		want       string
	}{
		{"default", "", "/dashboard"},
		{"relative path", "/dashboard/reports", "/dashboard/reports"},
		{"absolute url", "https://evil.test/", "/dashboard"},
		{"protocol relative", "//evil.test", "/dashboard"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler, _ := newTestSessionHandler(t)

			target := "/login?idToken=good-token"
			if tc.redirectTo != "" {
				target += "&redirectTo=" + tc.redirectTo
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			rec := httptest.NewRecorder()
			handler.LoginPage(rec, req)

			if rec.Code != http.StatusSeeOther {
				t.Fatalf("expected status 303, got %d", rec.Code)
			}
			if got := rec.Header().Get("Location"); got != tc.want {
				t.Fatalf("expected redirect to %q, got %q", tc.want, got)
			}
			if findCookie(rec, sessionCookieName) == nil {
				t.Fatal("expected session cookie")
			}
		})
	}
}

func TestSessionHandlerLoginPageInvalidToken(t *testing.T) {
	handler, _ := newTestSessionHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/login?idToken=forged", nil)
	rec := httptest.NewRecorder()
	handler.LoginPage(rec, req)

	if got := rec.Header().Get("Location"); got != "/login?error=invalid_token" {
		t.Fatalf("expected error redirect, got %q", got)
	}
	if findCookie(rec, sessionCookieName) != nil {
		t.Fatal("no session cookie expected")
	}
}

func TestSessionHandlerLoginPageSkipsWhenSignedIn(t *testing.T) {
	authService, _, token := newSignedInUser(t)
	handler := NewSessionHandler(authService, newFakeVerifier(), "development", discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/login?redirectTo=/dashboard/ads", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})
	rec := httptest.NewRecorder()
	handler.LoginPage(rec, req)

	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/dashboard/ads" {
		t.Fatalf("expected redirect to /dashboard/ads, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestSessionHandlerLoginPageRendersPage(t *testing.T) {
	handler, _ := newTestSessionHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	rec := httptest.NewRecorder()
	handler.LoginPage(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if body := decodeJSONMap(t, rec); body["authenticated"] != false {
		t.Fatalf("unexpected login page body %v", body)
	}
}

func TestSessionHandlerLogoutClearsSession(t *testing.T) {
	authService, _, token := newSignedInUser(t)
	handler := NewSessionHandler(authService, nil, "production", discardLogger())

	req := httptest.NewRequest(http.MethodDelete, "/api/session", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})
	rec := httptest.NewRecorder()
	handler.Logout(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	cookie := findCookie(rec, sessionCookieName)
	if cookie == nil || cookie.MaxAge >= 0 {
		t.Fatalf("expected expiring cookie, got %+v", cookie)
	}
	if !cookie.Secure {
		t.Fatal("expected Secure cookie outside development")
	}

	user, err := authService.ValidateSession(context.Background(), token)
	if err != nil {
		t.Fatalf("validate session: %v", err)
	}
	if user != nil {
		t.Fatal("expected session to be deleted")
	}
}
