package middleware

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/clinic-functions/internal/tenancy"
	"github.com/wolfman30/clinic-functions/pkg/logging"
)

type contextKey string

const cognitoClaimsKey contextKey = "cognitoClaims"

const jwksTTL = time.Hour

// CognitoConfig holds the user pool the dev server trusts.
type CognitoConfig struct {
	Region     string
	UserPoolID string
	ClientID   string // app client for audience validation
	// Issuer overrides the pool issuer URL. Keys are read from
	// {Issuer}/.well-known/jwks.json.
	Issuer string
}

func (c CognitoConfig) issuer() string {
	if c.Issuer != "" {
		return strings.TrimRight(c.Issuer, "/")
	}
	if c.Region == "" || c.UserPoolID == "" {
		return ""
	}
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", c.Region, c.UserPoolID)
}

// CognitoClaims represents the claims in a Cognito JWT.
type CognitoClaims struct {
	jwt.RegisteredClaims
	Email         string   `json:"email"`
	EmailVerified bool     `json:"email_verified"`
	CognitoGroups []string `json:"cognito:groups"`
	TokenUse      string   `json:"token_use"`
	ClientID      string   `json:"client_id"`
}

// keySet caches the pool signing keys.
type keySet struct {
	url    string
	client *http.Client

	mu      sync.RWMutex
	keys    map[string]*rsa.PublicKey
	expires time.Time
}

func (ks *keySet) key(kid string) (*rsa.PublicKey, error) {
	ks.mu.RLock()
	key, ok := ks.keys[kid]
	fresh := time.Now().Before(ks.expires)
	ks.mu.RUnlock()
	if ok && fresh {
		return key, nil
	}

	keys, err := fetchJWKS(ks.client, ks.url)
	if err != nil {
		return nil, err
	}
	ks.mu.Lock()
	ks.keys = keys
	ks.expires = time.Now().Add(jwksTTL)
	ks.mu.Unlock()

	if key, ok := keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("key %s not found in JWKS", kid)
}

// CognitoJWT authenticates callers with Cognito ID or access tokens and
// stores the caller in the request context. Requests without an
// Authorization header pass through anonymously so the callable layer can
// report them as unauthenticated.
func CognitoJWT(cfg CognitoConfig, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	issuer := cfg.issuer()
	keys := &keySet{
		url:    issuer + "/.well-known/jwks.json",
		client: &http.Client{Timeout: 10 * time.Second},
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				next.ServeHTTP(w, r)
				return
			}
			if issuer == "" {
				writeUnauthenticated(w, "token verification is not configured")
				return
			}
			tokenString, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok {
				writeUnauthenticated(w, "authorization header must be a bearer token")
				return
			}

			claims, err := verify(tokenString, keys, issuer, cfg.ClientID)
			if err != nil {
				logger.Info("token rejected", "path", r.URL.Path, "error", err)
				writeUnauthenticated(w, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), cognitoClaimsKey, claims)
			ctx = tenancy.WithCaller(ctx, tenancy.Caller{UID: claims.Subject, Email: claims.Email})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func verify(tokenString string, keys *keySet, issuer, clientID string) (*CognitoClaims, error) {
	claims := &CognitoClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		kid, ok := t.Header["kid"].(string)
		if !ok {
			return nil, errors.New("missing key id")
		}
		return keys.key(kid)
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired(), jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}

	if clientID == "" {
		return claims, nil
	}
	switch claims.TokenUse {
	case "id":
		if !slices.Contains(claims.Audience, clientID) {
			return nil, errors.New("invalid audience")
		}
	case "access":
		if claims.ClientID != clientID {
			return nil, errors.New("invalid client_id")
		}
	default:
		return nil, fmt.Errorf("unexpected token_use %q", claims.TokenUse)
	}
	return claims, nil
}

// CognitoClaimsFromContext retrieves Cognito claims from the request context.
func CognitoClaimsFromContext(ctx context.Context) (*CognitoClaims, bool) {
	claims, ok := ctx.Value(cognitoClaimsKey).(*CognitoClaims)
	return claims, ok
}

func writeUnauthenticated(w http.ResponseWriter, msg string) {
	body, _ := json.Marshal(map[string]any{"error": map[string]string{
		"status":  "UNAUTHENTICATED",
		"code":    "unauthenticated",
		"message": msg,
	}})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write(body)
}

type jwksResponse struct {
	Keys []jwkKey `json:"keys"`
}

type jwkKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func fetchJWKS(client *http.Client, url string) (map[string]*rsa.PublicKey, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS request failed with status %d", resp.StatusCode)
	}

	var jwks jwksResponse
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("decode JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey)
	for _, key := range jwks.Keys {
		if key.Kty != "RSA" {
			continue
		}
		pubKey, err := parseRSAPublicKey(key.N, key.E)
		if err != nil {
			continue
		}
		keys[key.Kid] = pubKey
	}
	if len(keys) == 0 {
		return nil, errors.New("no valid RSA keys found in JWKS")
	}
	return keys, nil
}

// parseRSAPublicKey parses base64url-encoded modulus and exponent.
func parseRSAPublicKey(nStr, eStr string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nStr)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eStr)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}

	e := 0
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}
