package authcore

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

type contextKey string

const userIDContextKey contextKey = "authcore.userID"

// ContextWithUserID returns a copy of ctx carrying the authenticated user id.
func ContextWithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// UserIDFromContext returns the user id placed by SessionMiddleware.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDContextKey).(int64)
	return id, ok && id != 0
}

// SessionMiddleware authenticates requests carrying a bearer session token.
type SessionMiddleware struct {
	Codec *SessionCodec
	Clock Clock

	// AuthTokenHeaderName defaults to Authorization. Values may carry a
	// "Bearer " prefix.
	AuthTokenHeaderName string

	// AuthTokenCookieName, when set, is also checked for a token.
	AuthTokenCookieName string

	// GetRedirURL returns the login page for unauthenticated browser
	// requests. When nil or empty EnsureUser answers 401.
	GetRedirURL      func(r *http.Request) string
	CallbackURLParam string

	Metrics *Metrics
	Logger  *slog.Logger
}

// EnsureReasonableDefaults fills unset fields.
func (m *SessionMiddleware) EnsureReasonableDefaults() {
	if m.AuthTokenHeaderName == "" {
		m.AuthTokenHeaderName = "Authorization"
	}
	if m.CallbackURLParam == "" {
		m.CallbackURLParam = "callbackURL"
	}
	if m.Logger == nil {
		m.Logger = slog.Default()
	}
}

// Authenticate returns the user id of the first valid token on r.
func (m *SessionMiddleware) Authenticate(r *http.Request) (int64, bool) {
	var tokens []string
	for _, v := range r.Header.Values(m.AuthTokenHeaderName) {
		if t := bearerToken(v); t != "" {
			tokens = append(tokens, t)
		}
	}
	if m.AuthTokenCookieName != "" {
		for _, cookie := range r.CookiesNamed(m.AuthTokenCookieName) {
			if cookie.Value != "" {
				tokens = append(tokens, cookie.Value)
			}
		}
	}

	now := clockOrSystem(m.Clock).Now()
	for _, token := range tokens {
		if id, ok := m.Codec.Verify(token, now); ok {
			m.Metrics.sessionCheck(true)
			return id, true
		}
		m.Metrics.sessionCheck(false)
	}
	return 0, false
}

// ExtractUser puts the user id in the request context when a valid token
// is present and passes every request through.
func (m *SessionMiddleware) ExtractUser(next http.Handler) http.Handler {
	m.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := m.Authenticate(r); ok {
			r = r.WithContext(ContextWithUserID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// EnsureUser rejects requests without a valid token, redirecting to the
// login page when one is configured.
func (m *SessionMiddleware) EnsureUser(next http.Handler) http.Handler {
	m.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := m.Authenticate(r)
		if ok {
			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), id)))
			return
		}

		redirURL := ""
		if m.GetRedirURL != nil {
			redirURL = m.GetRedirURL(r)
		}
		if redirURL != "" {
			encoded := strings.ReplaceAll(url.QueryEscape(r.URL.Path), "+", "%20")
			http.Redirect(w, r, fmt.Sprintf("%s?%s=%s", redirURL, m.CallbackURLParam, encoded), http.StatusFound)
			return
		}
		m.Logger.Debug("unauthenticated request", slog.String("path", r.URL.Path))
		writeJSON(w, http.StatusUnauthorized, apiResponse{
			Success: false,
			Code:    "unauthenticated",
			Message: "Full authentication is required to access this resource",
		})
	})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
