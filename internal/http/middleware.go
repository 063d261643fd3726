package http

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"querydesk/internal/auth"
)

// newSlogMiddleware logs one line per request. Server errors log at error
// level so they stand out from client mistakes.
func newSlogMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.LogAttrs(r.Context(), level, "http request",
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

type contextKey struct{}

var userContextKey contextKey

// UserFromContext returns the signed-in user, or nil outside the auth middleware.
func UserFromContext(ctx context.Context) *auth.User {
	user, _ := ctx.Value(userContextKey).(*auth.User)
	return user
}

func withUser(ctx context.Context, user *auth.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// identityVerifier checks identity-provider tokens presented by the browser.
type identityVerifier interface {
	Verify(ctx context.Context, rawToken string) (auth.Identity, error)
	IsEmailAllowed(email string) bool
}

// sessionUser resolves the session cookie, returning nil when absent or invalid.
func sessionUser(r *http.Request, authService *auth.Service, logger *slog.Logger) *auth.User {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	user, err := authService.ValidateSession(r.Context(), cookie.Value)
	if err != nil {
		logger.Error("session validation error", "error", err)
		return nil
	}
	return user
}

// newAuthMiddleware accepts either the session cookie or an
// "Authorization: Bearer <idToken>" header. Failures answer 401.
func newAuthMiddleware(authService *auth.Service, verifier identityVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := sessionUser(r, authService, logger)

			if user == nil && verifier != nil {
				if raw := bearerToken(r); raw != "" {
					user = bearerUser(r, raw, authService, verifier, logger)
				}
			}

			if user == nil {
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
		})
	}
}

func bearerUser(r *http.Request, raw string, authService *auth.Service, verifier identityVerifier, logger *slog.Logger) *auth.User {
	identity, err := verifier.Verify(r.Context(), raw)
	if err != nil {
		logger.Debug("bearer token rejected", "error", err)
		return nil
	}
	if !verifier.IsEmailAllowed(identity.Email) {
		logger.Warn("bearer token email not allowed", "email", identity.Email)
		return nil
	}

	user, err := authService.UserForIdentity(r.Context(), identity)
	if err != nil {
		logger.Error("resolve bearer identity", "error", err)
		return nil
	}
	return user
}

// newPageGate redirects page requests without a session to the login path,
// carrying the original path in redirectTo.
func newPageGate(authService *auth.Service, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := sessionUser(r, authService, logger)
			if user == nil {
				target := "/login?redirectTo=" + url.QueryEscape(r.URL.RequestURI())
				http.Redirect(w, r, target, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, "authentication required")
}

// newSecurityHeadersMiddleware sets browser hardening headers. HSTS is only
// sent outside development, where the service sits behind TLS.
func newSecurityHeadersMiddleware(environment string) func(http.Handler) http.Handler {
	headers := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "strict-origin-when-cross-origin",
		"Permissions-Policy":      "geolocation=(), camera=(), microphone=()",
		"Content-Security-Policy": "frame-ancestors 'none'",
	}
	if !strings.EqualFold(environment, "development") {
		headers["Strict-Transport-Security"] = "max-age=31536000; includeSubDomains"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for name, value := range headers {
				w.Header().Set(name, value)
			}
			next.ServeHTTP(w, r)
		})
	}
}
