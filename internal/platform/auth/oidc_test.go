package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

type verificationRecord struct {
	success bool
	reason  string
}

type recordingVerifications struct {
	mu      sync.Mutex
	records []verificationRecord
}

func (r *recordingVerifications) record(_ context.Context, success bool, reason string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, verificationRecord{success: success, reason: reason})
}

func (r *recordingVerifications) last() verificationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return verificationRecord{}
	}
	return r.records[len(r.records)-1]
}

type jwksFixture struct {
	key      *rsa.PrivateKey
	server   *httptest.Server
	mu       sync.Mutex
	requests int
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f := &jwksFixture{key: key}
	jwk := jose.JSONWebKey{Key: &key.PublicKey, KeyID: "key1", Algorithm: jwt.SigningMethodRS256.Alg(), Use: "sig"}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests++
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *jwksFixture) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "key1"
	signed, err := token.SignedString(f.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestJWKSCacheFetchesOnce(t *testing.T) {
	f := newJWKSFixture(t)
	cache := NewJWKSCache(f.server.URL)

	for i := 0; i < 3; i++ {
		key, err := cache.Key(context.Background(), "key1")
		if err != nil {
			t.Fatalf("key: %v", err)
		}
		if _, ok := key.(*rsa.PublicKey); !ok {
			t.Fatalf("expected *rsa.PublicKey, got %T", key)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requests != 1 {
		t.Fatalf("expected a single jwks fetch, got %d", f.requests)
	}
}

func TestRequireOIDC(t *testing.T) {
	f := newJWKSFixture(t)
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name   string
		claims jwt.MapClaims
		header func(token string) string
		status int
		reason string
	}{
		{
			name:   "valid",
			claims: jwt.MapClaims{"aud": "https://orders.internal", "iss": "https://accounts.google.com", "sub": "scheduler", "exp": exp},
			status: http.StatusNoContent,
			reason: "ok",
		},
		{
			name:   "audience mismatch",
			claims: jwt.MapClaims{"aud": []string{"https://other"}, "iss": "https://accounts.google.com", "exp": exp},
			status: http.StatusUnauthorized,
			reason: "audience_mismatch",
		},
		{
			name:   "issuer mismatch",
			claims: jwt.MapClaims{"aud": "https://orders.internal", "iss": "https://evil.example", "exp": exp},
			status: http.StatusUnauthorized,
			reason: "issuer_mismatch",
		},
		{
			name:   "expired",
			claims: jwt.MapClaims{"aud": "https://orders.internal", "iss": "https://accounts.google.com", "exp": time.Now().Add(-time.Hour).Unix()},
			status: http.StatusUnauthorized,
			reason: "token_invalid",
		},
		{
			name:   "missing token",
			header: func(string) string { return "" },
			status: http.StatusUnauthorized,
			reason: "token_missing",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recordingVerifications{}
			validator := NewOIDCValidator(NewJWKSCache(f.server.URL), WithOIDCRecorder(rec.record))
			handler := validator.RequireOIDC([]string{"https://orders.internal"}, []string{"https://accounts.google.com"})(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					identity, ok := ServiceIdentityFromContext(r.Context())
					if !ok || identity.Subject != "scheduler" {
						t.Fatalf("expected service identity, got %+v", identity)
					}
					w.WriteHeader(http.StatusNoContent)
				}))

			header := ""
			if tc.claims != nil {
				header = "Bearer " + f.sign(t, tc.claims)
			}
			if tc.header != nil {
				header = tc.header(header)
			}
			req := httptest.NewRequest(http.MethodPost, "/internal/reports/daily", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, req)

			if resp.Code != tc.status {
				t.Fatalf("expected %d, got %d (%s)", tc.status, resp.Code, resp.Body.String())
			}
			if got := rec.last(); got.reason != tc.reason || got.success != (tc.reason == "ok") {
				t.Fatalf("unexpected record %+v", got)
			}
		})
	}
}

func TestRequireOIDCWithoutAudienceIsUnavailable(t *testing.T) {
	validator := NewOIDCValidator(NewJWKSCache("http://127.0.0.1:0"))
	handler := validator.RequireOIDC(nil, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not run")
	}))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}

func TestParseMaxAge(t *testing.T) {
	if got := parseMaxAge("public, max-age=120"); got != 2*time.Minute {
		t.Fatalf("unexpected max-age %v", got)
	}
	if got := parseMaxAge("no-store"); got != 0 {
		t.Fatalf("expected zero, got %v", got)
	}
}
