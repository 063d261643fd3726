package http

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"querydesk/internal/auth"
)

const (
	sessionCookieName = "querydesk_session"
	dashboardPath     = "/dashboard"
)

// SessionHandler signs users in with identity-provider tokens and manages the
// resulting HttpOnly session cookie.
type SessionHandler struct {
	authService  *auth.Service
	verifier     identityVerifier
	logger       *slog.Logger
	secureCookie bool
	sessions     *sessionIssuer
	page         http.Handler
}

// NewSessionHandler returns a handler. verifier may be nil, in which case token
// sign-in answers 503 and only Google sign-in is available.
func NewSessionHandler(authService *auth.Service, verifier identityVerifier, env string, logger *slog.Logger) *SessionHandler {
	secure := !strings.EqualFold(env, "development")
	return &SessionHandler{
		authService:  authService,
		verifier:     verifier,
		logger:       logger,
		secureCookie: secure,
		sessions:     &sessionIssuer{authService: authService, secureCookie: secure, logger: logger},
		page:         http.HandlerFunc(defaultLoginPage),
	}
}

type idTokenPayload struct {
	IDToken string `json:"idToken"`
}

// Login handles POST /users/login. Unknown identities are created on first sign-in.
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identityFromBody(w, r)
	if !ok {
		return
	}

	user, err := h.authService.CreateOrUpdateUser(r.Context(), identity)
	if err != nil {
		h.logger.Error("login: user lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to sign in")
		return
	}

	if !h.issueSession(w, r, user) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// Create handles POST /users/create and refuses identities whose email is already registered.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identityFromBody(w, r)
	if !ok {
		return
	}

	user, err := h.authService.RegisterUser(r.Context(), identity)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			writeError(w, http.StatusConflict, "an account with this email already exists")
			return
		}
		h.logger.Error("create user failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	if !h.issueSession(w, r, user) {
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

// LoginPage handles GET /login. A pre-issued idToken in the query signs the
// user in; an existing session skips straight to the dashboard.
func (h *SessionHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	redirectTo := redirectTarget(r.URL.Query().Get("redirectTo"))

	if raw := strings.TrimSpace(r.URL.Query().Get("idToken")); raw != "" {
		if h.verifier == nil {
			redirectToLogin(w, r, "unavailable")
			return
		}
		identity, err := h.verify(r, raw)
		if err != nil {
			h.logger.Warn("token login rejected", "error", err)
			redirectToLogin(w, r, "invalid_token")
			return
		}
		user, err := h.authService.CreateOrUpdateUser(r.Context(), identity)
		if err != nil {
			h.logger.Error("token login: user lookup failed", "error", err)
			redirectToLogin(w, r, "internal_error")
			return
		}
		if !h.issueSession(w, r, user) {
			return
		}
		http.Redirect(w, r, redirectTo, http.StatusSeeOther)
		return
	}

	if user := sessionUser(r, h.authService, h.logger); user != nil {
		http.Redirect(w, r, redirectTo, http.StatusSeeOther)
		return
	}

	h.page.ServeHTTP(w, r)
}

// Status reports whether the request holds a valid session.
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	user := sessionUser(r, h.authService, h.logger)
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": user != nil,
		"user":          user,
	})
}

// Logout deletes the server session and clears the cookie.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		if err := h.authService.DeleteSession(r.Context(), cookie.Value); err != nil {
			h.logger.Error("logout: delete session failed", "error", err)
		}
	}

	clearCookie := sessionCookie("", 0, h.secureCookie)
	clearCookie.MaxAge = -1
	clearCookie.Expires = time.Unix(0, 0)

	http.SetCookie(w, clearCookie)
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) identityFromBody(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	if h.verifier == nil {
		writeError(w, http.StatusServiceUnavailable, "token sign-in is not configured")
		return auth.Identity{}, false
	}

	var payload idTokenPayload
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return auth.Identity{}, false
	}
	if strings.TrimSpace(payload.IDToken) == "" {
		writeError(w, http.StatusBadRequest, "idToken is required")
		return auth.Identity{}, false
	}

	identity, err := h.verify(r, payload.IDToken)
	if err != nil {
		h.logger.Warn("sign-in rejected", "error", err)
		writeError(w, http.StatusUnauthorized, "sign-in rejected")
		return auth.Identity{}, false
	}
	return identity, true
}

func (h *SessionHandler) verify(r *http.Request, raw string) (auth.Identity, error) {
	identity, err := h.verifier.Verify(r.Context(), raw)
	if err != nil {
		return auth.Identity{}, err
	}
	if !h.verifier.IsEmailAllowed(identity.Email) {
		return auth.Identity{}, errEmailNotAllowed
	}
	return identity, nil
}

func (h *SessionHandler) issueSession(w http.ResponseWriter, r *http.Request, user *auth.User) bool {
	if err := h.sessions.issue(w, r, user); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return false
	}
	return true
}

// sessionIssuer creates a server-side session and hands its token to the
// browser as the session cookie.
type sessionIssuer struct {
	authService  *auth.Service
	secureCookie bool
	logger       *slog.Logger
}

func (s *sessionIssuer) issue(w http.ResponseWriter, r *http.Request, user *auth.User) error {
	token, err := s.authService.CreateSession(r.Context(), user.ID, r.UserAgent(), clientIPFromRequest(r))
	if err != nil {
		s.logger.Error("session creation failed", "user_id", user.ID, "error", err)
		return err
	}

	http.SetCookie(w, sessionCookie(token, s.authService.SessionTTL(), s.secureCookie))
	s.logger.Info("session issued", "user_id", user.ID, "provider", user.OAuthProvider)
	return nil
}

var errEmailNotAllowed = errors.New("email is not on the allowlist")

func sessionCookie(value string, ttl time.Duration, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
		MaxAge:   int(ttl.Seconds()),
		Expires:  time.Now().Add(ttl),
	}
}

func redirectToLogin(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, "/login?error="+url.QueryEscape(code), http.StatusSeeOther)
}

func defaultLoginPage(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
}
