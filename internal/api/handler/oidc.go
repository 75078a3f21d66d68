package handler

import (
	"log"
	"net/http"

	"github.com/iac-sandbox/stackd/internal/auth"
)

// OIDCHandler implements the browser login flow. It is mounted only
// when OIDC is enabled in the configuration.
type OIDCHandler struct {
	provider  *auth.OIDCProvider
	sessions  *auth.SessionManager
	states    *auth.StateStore
	logoutURL string
}

func NewOIDCHandler(provider *auth.OIDCProvider, sessions *auth.SessionManager, states *auth.StateStore, logoutURL string) *OIDCHandler {
	return &OIDCHandler{
		provider:  provider,
		sessions:  sessions,
		states:    states,
		logoutURL: logoutURL,
	}
}

// Login redirects the browser to the identity provider.
func (h *OIDCHandler) Login(w http.ResponseWriter, r *http.Request) {
	stateData, err := h.states.Generate(w)
	if err != nil {
		log.Printf("Failed to generate OIDC state: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to initiate login")
		return
	}

	http.Redirect(w, r, h.provider.AuthCodeURL(stateData.State, stateData.Nonce), http.StatusSeeOther)
}

// Callback completes the authorization code flow and sets the
// encrypted session cookie.
func (h *OIDCHandler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		errDesc := r.URL.Query().Get("error_description")
		if errDesc == "" {
			errDesc = errParam
		}
		log.Printf("OIDC provider returned error: %s - %s", errParam, errDesc)
		respondError(w, http.StatusUnauthorized, errDesc)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		respondError(w, http.StatusBadRequest, "no authorization code received")
		return
	}

	stateData, err := h.states.Validate(r, r.URL.Query().Get("state"))
	if err != nil {
		log.Printf("OIDC state validation failed: %v", err)
		respondError(w, http.StatusUnauthorized, "invalid state parameter")
		return
	}
	h.states.Clear(w)

	result, err := h.provider.Exchange(ctx, code, stateData.Nonce)
	if err != nil {
		log.Printf("OIDC token exchange failed: %v", err)
		respondError(w, http.StatusUnauthorized, "failed to complete authentication")
		return
	}

	if err := h.provider.ValidateClaims(result.Claims); err != nil {
		log.Printf("OIDC claims validation failed: %v", err)
		respondError(w, http.StatusForbidden, err.Error())
		return
	}

	session := &auth.OIDCSession{
		Subject:      result.Claims.Subject,
		Email:        result.Claims.Email,
		Name:         result.Claims.Name,
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenExpiry:  result.Expiry,
	}
	if err := h.sessions.Create(w, session); err != nil {
		log.Printf("Failed to create OIDC session: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"email": result.Claims.Email,
		"name":  result.Claims.Name,
	})
}

// Logout clears the session cookie. If the provider exposes a logout
// endpoint the browser is sent there, otherwise a JSON ack is returned.
func (h *OIDCHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w)

	if h.logoutURL != "" {
		http.Redirect(w, r, h.logoutURL, http.StatusSeeOther)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}
