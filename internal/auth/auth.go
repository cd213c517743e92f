// Package auth guards the control API with credential login and bearer
// tokens. When disabled every request passes through untouched.
package auth

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Authenticator validates operator credentials and HTTP bearer tokens.
type Authenticator struct {
	enabled      bool
	username     string
	passwordHash []byte
	tokens       *TokenManager
}

// New creates an authenticator. When enabled, the password is stored only as
// a bcrypt hash.
func New(enabled bool, username, password, jwtSecret string, tokenTTL time.Duration) (*Authenticator, error) {
	a := &Authenticator{
		enabled: enabled,
		tokens:  NewTokenManager(jwtSecret, tokenTTL),
	}
	if !enabled {
		log.Println("[Auth] Authentication disabled")
		return a, nil
	}
	if username == "" || password == "" {
		return nil, fmt.Errorf("authentication enabled but username or password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	a.username = username
	a.passwordHash = hash
	return a, nil
}

// Enabled reports whether authentication is enforced.
func (a *Authenticator) Enabled() bool {
	return a.enabled
}

// Login checks credentials and issues a token.
func (a *Authenticator) Login(username, password string) (string, time.Time, error) {
	if !a.enabled {
		return "", time.Time{}, fmt.Errorf("authentication is disabled")
	}
	if username != a.username {
		return "", time.Time{}, fmt.Errorf("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", time.Time{}, fmt.Errorf("invalid credentials")
	}
	return a.tokens.Issue(username)
}

// Middleware wraps a handler with bearer-token enforcement.
func (a *Authenticator) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		if _, err := a.tokens.Verify(token); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
