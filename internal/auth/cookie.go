package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
)

// cookieCodec seals JSON payloads into AES-256-GCM encrypted cookies.
// Both the session cookie and the OIDC state cookie use it.
type cookieCodec struct {
	aead   cipher.AEAD
	secure bool
}

func newCookieCodec(key []byte, secure bool) (*cookieCodec, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("cookie key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &cookieCodec{aead: aead, secure: secure}, nil
}

// set marshals, encrypts, and writes value as a cookie.
func (c *cookieCodec) set(w http.ResponseWriter, name string, value any, maxAge int) error {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cookie payload: %w", err)
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := c.aead.Seal(nonce, nonce, plaintext, nil)
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    base64.RawURLEncoding.EncodeToString(ciphertext),
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   c.secure,
	})
	return nil
}

// get reads, decrypts, and unmarshals the named cookie into out.
func (c *cookieCodec) get(r *http.Request, name string, out any) error {
	cookie, err := r.Cookie(name)
	if err != nil {
		return fmt.Errorf("cookie %s not found: %w", name, err)
	}

	ciphertext, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return fmt.Errorf("failed to decode cookie: %w", err)
	}
	if len(ciphertext) < c.aead.NonceSize() {
		return fmt.Errorf("invalid cookie data")
	}

	nonce := ciphertext[:c.aead.NonceSize()]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext[c.aead.NonceSize():], nil)
	if err != nil {
		return fmt.Errorf("failed to decrypt cookie: %w", err)
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("failed to unmarshal cookie payload: %w", err)
	}
	return nil
}

// clear expires the named cookie.
func (c *cookieCodec) clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   c.secure,
	})
}
