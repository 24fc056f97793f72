package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func authedReq(t *testing.T, h http.Handler, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", "/api/workspaces", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBearerAuthDisabled(t *testing.T) {
	rt := newTestRouter(t)
	if rec := authedReq(t, rt.Handler(), ""); rec.Code != http.StatusOK {
		t.Fatalf("no token configured: %d", rec.Code)
	}
}

func TestBearerAuthPlainToken(t *testing.T) {
	rt := newTestRouter(t)
	rt.SetAuthToken("sekrit")
	h := rt.Handler()

	if rec := authedReq(t, h, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing header: %d", rec.Code)
	}
	if rec := authedReq(t, h, "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", rec.Code)
	}
	if rec := authedReq(t, h, "sekrit"); rec.Code != http.StatusOK {
		t.Fatalf("valid token: %d %s", rec.Code, rec.Body.String())
	}

	// The operational surface stays open.
	rec := doReq(t, h, "GET", "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz behind auth: %d", rec.Code)
	}
	rec = doReq(t, h, "GET", "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics behind auth: %d", rec.Code)
	}
}

func TestBearerAuthBcryptHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("sekrit"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	rt := newTestRouter(t)
	rt.SetAuthToken(string(hash))
	h := rt.Handler()

	if rec := authedReq(t, h, "sekrit"); rec.Code != http.StatusOK {
		t.Fatalf("hashed token match: %d %s", rec.Code, rec.Body.String())
	}
	if rec := authedReq(t, h, "other"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("hashed token mismatch: %d", rec.Code)
	}
}

func TestTokenMatches(t *testing.T) {
	if tokenMatches("abc", "") {
		t.Fatalf("empty presented token must not match")
	}
	if !tokenMatches("abc", "abc") {
		t.Fatalf("equal tokens must match")
	}
	if tokenMatches("abc", "abd") {
		t.Fatalf("different tokens must not match")
	}
}
