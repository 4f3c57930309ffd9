package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/filedepot/filedepot/internal/config"
)

func signedToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func TestVerifyAPIKey(t *testing.T) {
	a := New(config.AuthConfig{APIKeys: []string{"key-one", "key-two"}})

	for _, key := range []string{"key-one", "key-two"} {
		sub, err := a.Verify(key)
		if err != nil {
			t.Fatalf("verify %q: %v", key, err)
		}
		if sub != "api-key" {
			t.Fatalf("expected api-key subject, got %q", sub)
		}
	}
	if _, err := a.Verify("key-three"); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
	if _, err := a.Verify(""); err == nil {
		t.Fatal("expected empty token to be rejected")
	}
}

func TestVerifyJWT(t *testing.T) {
	a := New(config.AuthConfig{JWTSecret: "s3cret"})

	good := signedToken(t, "s3cret", jwt.MapClaims{
		"sub": "svc-renderer",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	sub, err := a.Verify(good)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if sub != "svc-renderer" {
		t.Fatalf("expected subject svc-renderer, got %q", sub)
	}

	wrongKey := signedToken(t, "other", jwt.MapClaims{"sub": "x"})
	if _, err := a.Verify(wrongKey); err == nil {
		t.Fatal("expected token signed with wrong secret to be rejected")
	}

	expired := signedToken(t, "s3cret", jwt.MapClaims{
		"sub": "x",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	if _, err := a.Verify(expired); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestMiddleware(t *testing.T) {
	a := New(config.AuthConfig{APIKeys: []string{"key-one"}})

	var gotSubject string
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = Subject(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/files/x", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header")
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/files/x", nil)
	req.Header.Set("Authorization", "Bearer key-one")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 with valid key, got %d", rec.Code)
	}
	if gotSubject != "api-key" {
		t.Fatalf("expected api-key subject in context, got %q", gotSubject)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/files/x", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad key, got %d", rec.Code)
	}
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	a := New(config.AuthConfig{})
	if a.Enabled() {
		t.Fatal("expected authenticator to be disabled")
	}

	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/files/x", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected pass-through, got %d", rec.Code)
	}
}
