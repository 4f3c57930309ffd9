// Package auth implements bearer-token authentication: static API keys
// compared in constant time, plus optional HMAC-signed JWTs.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/filedepot/filedepot/internal/config"
	"github.com/filedepot/filedepot/internal/logging"
	"github.com/filedepot/filedepot/internal/metrics"
)

type contextKey string

const subjectKey contextKey = "auth_subject"

// Authenticator verifies bearer tokens. With no API keys and no JWT secret
// configured it is disabled and admits every request.
type Authenticator struct {
	apiKeys   [][]byte
	jwtSecret []byte
}

// New builds an Authenticator from the auth configuration.
func New(cfg config.AuthConfig) *Authenticator {
	a := &Authenticator{}
	for _, k := range cfg.APIKeys {
		if k != "" {
			a.apiKeys = append(a.apiKeys, []byte(k))
		}
	}
	if cfg.JWTSecret != "" {
		a.jwtSecret = []byte(cfg.JWTSecret)
	}
	if !a.Enabled() {
		logging.L().Warn("authentication disabled: no api keys or jwt secret configured")
	}
	return a
}

// Enabled reports whether any credential source is configured.
func (a *Authenticator) Enabled() bool {
	return len(a.apiKeys) > 0 || len(a.jwtSecret) > 0
}

// Verify checks a raw bearer token and returns the authenticated subject.
// API keys authenticate as the subject "api-key"; JWTs as their sub claim.
func (a *Authenticator) Verify(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("empty token")
	}

	for _, k := range a.apiKeys {
		if subtle.ConstantTimeCompare([]byte(token), k) == 1 {
			return "api-key", nil
		}
	}

	if len(a.jwtSecret) > 0 {
		parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return a.jwtSecret, nil
		})
		if err != nil {
			return "", fmt.Errorf("invalid token: %w", err)
		}
		sub, err := parsed.Claims.GetSubject()
		if err != nil || sub == "" {
			sub = "jwt"
		}
		return sub, nil
	}

	return "", fmt.Errorf("unknown token")
}

// Middleware enforces bearer authentication on every request. Disabled
// authenticators pass requests through untouched.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		subject, err := a.Verify(token)
		if err != nil {
			metrics.RecordAuthAttempt(false)
			logging.WithContext(r.Context()).Warn("authentication rejected",
				zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
			w.Header().Set("WWW-Authenticate", `Bearer realm="filedepot"`)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}

		metrics.RecordAuthAttempt(true)
		next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}

// WithSubject binds the authenticated subject to ctx.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// Subject returns the authenticated subject bound to ctx, if any.
func Subject(ctx context.Context) string {
	if s, ok := ctx.Value(subjectKey).(string); ok {
		return s
	}
	return ""
}
