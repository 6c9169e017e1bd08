package session

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// CookieName is the name of the session cookie.
	CookieName = "visionpad_session"

	// DefaultTTL is how long a session cookie lasts when no TTL is configured.
	DefaultTTL = 24 * time.Hour
)

type contextKey int

const sessionIDKey contextKey = iota

// IDFromContext returns the session token placed on the context by
// Manager.Middleware, or "" if there is none.
func IDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey).(string); ok {
		return id
	}
	return ""
}

// WithID returns a copy of ctx carrying the session token.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// Manager issues and verifies signed session cookies.
type Manager struct {
	secret []byte
	ttl    time.Duration
	secure bool
	logger *zap.Logger
}

func NewManager(secret string, ttl time.Duration, logger *zap.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		secret: []byte(secret),
		ttl:    ttl,
		logger: logger,
	}
}

// SetSecure toggles the Secure attribute on issued cookies.
func (m *Manager) SetSecure(secure bool) {
	m.secure = secure
}

// TTL returns the configured session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

func (m *Manager) sign(id string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Encode returns the cookie value for a session token.
func (m *Manager) Encode(id string) string {
	return id + "." + m.sign(id)
}

// Decode verifies a cookie value and returns the session token it carries.
func (m *Manager) Decode(value string) (string, bool) {
	id, sig, ok := strings.Cut(value, ".")
	if !ok {
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	if !hmac.Equal([]byte(sig), []byte(m.sign(id))) {
		return "", false
	}
	return id, true
}

// Middleware makes sure every request carries a session token. A valid
// cookie is reused; anything else gets a fresh token and a new cookie.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
			if decoded, ok := m.Decode(cookie.Value); ok {
				id = decoded
			} else {
				m.logger.Debug("Rejected session cookie", zap.String("path", r.URL.Path))
			}
		}

		if id == "" {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     CookieName,
				Value:    m.Encode(id),
				Path:     "/",
				MaxAge:   int(m.ttl.Seconds()),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
				Secure:   m.secure,
			})
			m.logger.Debug("Issued new session", zap.String("session", id))
		}

		next.ServeHTTP(w, r.WithContext(WithID(r.Context(), id)))
	})
}
