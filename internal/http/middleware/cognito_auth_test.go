package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/clinic-functions/internal/tenancy"
	"github.com/wolfman30/clinic-functions/pkg/logging"
)

type testPool struct {
	key    *rsa.PrivateKey
	server *httptest.Server
	hits   int
}

func newTestPool(t *testing.T) *testPool {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	pool := &testPool{key: key}
	pool.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/jwks.json" {
			http.NotFound(w, r)
			return
		}
		pool.hits++
		_ = json.NewEncoder(w).Encode(jwksResponse{Keys: []jwkKey{{
			Kid: "k1",
			Kty: "RSA",
			Alg: "RS256",
			Use: "sig",
			N:   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(intToBytes(key.PublicKey.E)),
		}}})
	}))
	t.Cleanup(pool.server.Close)
	return pool
}

func (p *testPool) token(t *testing.T, mutate func(*CognitoClaims)) string {
	t.Helper()
	claims := &CognitoClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    p.server.URL,
			Audience:  jwt.ClaimStrings{"client-1"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email:    "user@example.com",
		TokenUse: "id",
	}
	if mutate != nil {
		mutate(claims)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = "k1"
	signed, err := tok.SignedString(p.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (p *testPool) config() CognitoConfig {
	return CognitoConfig{ClientID: "client-1", Issuer: p.server.URL}
}

func serve(mw func(http.Handler) http.Handler, authorization string) (*httptest.ResponseRecorder, tenancy.Caller, bool) {
	var (
		caller tenancy.Caller
		called bool
	)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		caller, _ = tenancy.CallerFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/callable/createPatient", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, caller, called
}

func quietLogger() *logging.Logger {
	return logging.NewWithWriter("error", io.Discard)
}

func TestCognitoJWTSetsCaller(t *testing.T) {
	pool := newTestPool(t)
	mw := CognitoJWT(pool.config(), quietLogger())

	rec, caller, called := serve(mw, "Bearer "+pool.token(t, nil))

	if !called || rec.Code != http.StatusOK {
		t.Fatalf("expected request to pass, got %d", rec.Code)
	}
	if caller.UID != "user-1" || caller.Email != "user@example.com" {
		t.Fatalf("unexpected caller %+v", caller)
	}

	serve(mw, "Bearer "+pool.token(t, nil))
	if pool.hits != 1 {
		t.Fatalf("expected cached JWKS, fetched %d times", pool.hits)
	}
}

func TestCognitoJWTAcceptsAccessToken(t *testing.T) {
	pool := newTestPool(t)
	mw := CognitoJWT(pool.config(), quietLogger())

	token := pool.token(t, func(c *CognitoClaims) {
		c.TokenUse = "access"
		c.Audience = nil
		c.ClientID = "client-1"
	})
	rec, _, called := serve(mw, "Bearer "+token)

	if !called || rec.Code != http.StatusOK {
		t.Fatalf("expected access token to pass, got %d", rec.Code)
	}
}

func TestCognitoJWTRejectsInvalidTokens(t *testing.T) {
	pool := newTestPool(t)
	mw := CognitoJWT(pool.config(), quietLogger())

	tests := map[string]string{
		"expired": pool.token(t, func(c *CognitoClaims) {
			c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		}),
		"wrong issuer":   pool.token(t, func(c *CognitoClaims) { c.Issuer = "https://elsewhere.example" }),
		"wrong audience": pool.token(t, func(c *CognitoClaims) { c.Audience = jwt.ClaimStrings{"other"} }),
		"no subject":     pool.token(t, func(c *CognitoClaims) { c.Subject = "" }),
		"garbage":        "not-a-jwt",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			rec, _, called := serve(mw, "Bearer "+token)
			if called {
				t.Fatalf("expected handler not to be called")
			}
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), `"code":"unauthenticated"`) {
				t.Fatalf("expected callable error body, got %s", rec.Body.String())
			}
		})
	}
}

func TestCognitoJWTAnonymousPassesThrough(t *testing.T) {
	mw := CognitoJWT(CognitoConfig{}, quietLogger())

	rec, caller, called := serve(mw, "")

	if !called || rec.Code != http.StatusOK {
		t.Fatalf("expected anonymous request to pass")
	}
	if caller.UID != "" {
		t.Fatalf("expected no caller, got %+v", caller)
	}
}

func TestCognitoJWTNotConfigured(t *testing.T) {
	mw := CognitoJWT(CognitoConfig{}, quietLogger())

	rec, _, called := serve(mw, "Bearer abc")

	if called || rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCognitoConfigIssuer(t *testing.T) {
	cfg := CognitoConfig{Region: "us-east-1", UserPoolID: "us-east-1_abc"}
	if got := cfg.issuer(); got != "https://cognito-idp.us-east-1.amazonaws.com/us-east-1_abc" {
		t.Fatalf("unexpected issuer %q", got)
	}
	cfg.Issuer = "http://localhost:9229/pool/"
	if got := cfg.issuer(); got != "http://localhost:9229/pool" {
		t.Fatalf("unexpected override issuer %q", got)
	}
}

func TestParseRSAPublicKeyRoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	n := base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes())
	e := base64.RawURLEncoding.EncodeToString(intToBytes(key.PublicKey.E))

	parsed, err := parseRSAPublicKey(n, e)
	if err != nil {
		t.Fatalf("parse rsa key: %v", err)
	}
	if parsed.N.Cmp(key.PublicKey.N) != 0 || parsed.E != key.PublicKey.E {
		t.Fatalf("parsed key does not match original")
	}
}

func TestFetchJWKSReturnsErrorOnBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	if _, err := fetchJWKS(server.Client(), server.URL); err == nil {
		t.Fatalf("expected error for non-200 response")
	}
}

func intToBytes(v int) []byte {
	if v == 0 {
		return []byte{0}
	}
	out := []byte{}
	for v > 0 {
		out = append([]byte{byte(v & 0xff)}, out...)
		v >>= 8
	}
	return out
}
