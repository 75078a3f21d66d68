package auth

import (
	"fmt"
	"net/http"
	"time"
)

const (
	// StateCookieName is the name of the state cookie.
	StateCookieName = "stackd_oidc_state"
	// StateCookieMaxAge is how long the state cookie is valid (5 minutes).
	StateCookieMaxAge = 5 * 60
)

// StateStore manages state and nonce for OIDC CSRF protection.
type StateStore struct {
	codec *cookieCodec
}

// StateData holds the state and nonce for an OIDC request.
type StateData struct {
	State     string    `json:"state"`
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewStateStore creates a new state store with encryption.
func NewStateStore(key []byte, secure bool) (*StateStore, error) {
	codec, err := newCookieCodec(key, secure)
	if err != nil {
		return nil, err
	}
	return &StateStore{codec: codec}, nil
}

// Generate creates a new state/nonce pair and stores it in an encrypted cookie.
func (ss *StateStore) Generate(w http.ResponseWriter) (*StateData, error) {
	state, err := GenerateSecureString(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}
	nonce, err := GenerateSecureString(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	data := &StateData{
		State:     state,
		Nonce:     nonce,
		ExpiresAt: time.Now().Add(StateCookieMaxAge * time.Second),
	}
	if err := ss.codec.set(w, StateCookieName, data, StateCookieMaxAge); err != nil {
		return nil, err
	}
	return data, nil
}

// Validate retrieves and validates the state from the cookie.
func (ss *StateStore) Validate(r *http.Request, state string) (*StateData, error) {
	var data StateData
	if err := ss.codec.get(r, StateCookieName, &data); err != nil {
		return nil, err
	}
	if time.Now().After(data.ExpiresAt) {
		return nil, fmt.Errorf("state expired")
	}
	// Constant-time comparison
	if !ConstantTimeCompare(data.State, state) {
		return nil, fmt.Errorf("state mismatch")
	}
	return &data, nil
}

// Clear clears the state cookie.
func (ss *StateStore) Clear(w http.ResponseWriter) {
	ss.codec.clear(w, StateCookieName)
}
