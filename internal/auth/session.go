package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"
)

const (
	// OIDCSessionCookieName is the name of the OIDC session cookie.
	OIDCSessionCookieName = "stackd_oidc_session"
)

// SessionManager handles encrypted session cookies.
type SessionManager struct {
	codec    *cookieCodec
	duration time.Duration
}

// OIDCSession represents the session data stored in the encrypted cookie.
type OIDCSession struct {
	Subject      string    `json:"sub"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenExpiry  time.Time `json:"token_expiry,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewSessionManager creates a new session manager with the given encryption key.
// The key must be exactly 32 bytes for AES-256.
func NewSessionManager(key []byte, duration time.Duration, secure bool) (*SessionManager, error) {
	codec, err := newCookieCodec(key, secure)
	if err != nil {
		return nil, err
	}
	return &SessionManager{codec: codec, duration: duration}, nil
}

// Create creates an encrypted session cookie.
func (sm *SessionManager) Create(w http.ResponseWriter, session *OIDCSession) error {
	session.CreatedAt = time.Now()
	session.ExpiresAt = time.Now().Add(sm.duration)
	return sm.codec.set(w, OIDCSessionCookieName, session, int(sm.duration.Seconds()))
}

// Get retrieves and validates the session from the cookie.
func (sm *SessionManager) Get(r *http.Request) (*OIDCSession, error) {
	var session OIDCSession
	if err := sm.codec.get(r, OIDCSessionCookieName, &session); err != nil {
		return nil, err
	}
	if time.Now().After(session.ExpiresAt) {
		return nil, fmt.Errorf("session expired")
	}
	return &session, nil
}

// Clear clears the session cookie.
func (sm *SessionManager) Clear(w http.ResponseWriter) {
	sm.codec.clear(w, OIDCSessionCookieName)
}

// NeedsRefresh checks if the access token is close to expiring.
func (sm *SessionManager) NeedsRefresh(session *OIDCSession) bool {
	if session.TokenExpiry.IsZero() {
		return false
	}
	// Refresh if token expires within 5 minutes
	return time.Until(session.TokenExpiry) < 5*time.Minute
}

// ConstantTimeCompare performs a constant-time comparison of two strings.
func ConstantTimeCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
