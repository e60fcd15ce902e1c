package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/devhq/devy/internal/validation"
)

const (
	// SessionCookieName carries the signed session token.
	SessionCookieName = "devy_session"

	sessionCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const sessionTokenKey contextKey = iota

// SessionFromContext extracts the session token from the request context.
// Empty when no valid session cookie accompanied the request.
func SessionFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionTokenKey).(string); ok {
		return v
	}
	return ""
}

// SessionSigner signs and verifies session tokens so a tampered cookie
// is indistinguishable from a missing one.
type SessionSigner struct {
	secret []byte
}

func NewSessionSigner(secret string) *SessionSigner {
	return &SessionSigner{secret: []byte(secret)}
}

// Sign returns the cookie value for a token: the token followed by a
// hex-encoded HMAC-SHA256 signature, dot separated.
func (s *SessionSigner) Sign(token string) string {
	return token + "." + s.signature(token)
}

// Verify checks a cookie value and returns the embedded token. The token
// must carry a valid signature and be UUID shaped.
func (s *SessionSigner) Verify(value string) (string, bool) {
	token, sig, found := strings.Cut(value, ".")
	if !found {
		return "", false
	}
	if !hmac.Equal([]byte(sig), []byte(s.signature(token))) {
		return "", false
	}
	if !validation.ValidSessionToken(token) {
		return "", false
	}
	return token, true
}

func (s *SessionSigner) signature(token string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *SessionSigner) setCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    s.Sign(token),
		Path:     "/",
		MaxAge:   int(sessionCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(sessionCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// tokenFromRequest returns the verified session token from the request
// cookie, or empty when the cookie is absent or fails verification.
func (s *SessionSigner) tokenFromRequest(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	token, ok := s.Verify(c.Value)
	if !ok {
		return ""
	}
	return token
}

// EnsureSession injects a session token into the request context, minting
// a fresh one and setting the cookie when the request carries none.
func (s *SessionSigner) EnsureSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.tokenFromRequest(r)
		if token == "" {
			token = uuid.New().String()
			s.setCookie(w, token)
		}
		ctx := context.WithValue(r.Context(), sessionTokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
