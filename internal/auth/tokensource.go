// Package auth mints and caches upstream bearer tokens.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tingly-dev/vertex-relay/internal/typ"
)

// TokenSource yields a bearer token valid for at least the next request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a source that always yields the given token.
func StaticTokenSource(token string) TokenSource {
	return staticSource(token)
}

type staticSource string

func (s staticSource) Token(context.Context) (string, error) {
	return string(s), nil
}

const (
	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"
	assertionGrant     = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	// Tokens within this margin of expiry are refreshed instead of reused.
	refreshMargin = 60 * time.Second
)

// serviceAccountKey is the subset of a GCP service-account JSON key the
// token flow needs.
type serviceAccountKey struct {
	Type        string `json:"type"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// GCPTokenSource exchanges a signed service-account assertion for an access
// token and caches it until shortly before expiry.
type GCPTokenSource struct {
	email    string
	key      *rsa.PrivateKey
	tokenURI string
	client   *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time

	// now is swapped in tests.
	now func() time.Time
}

// NewGCPTokenSource parses a service-account JSON key and prepares the
// assertion signer. No network traffic happens until Token is called.
func NewGCPTokenSource(keyJSON []byte) (*GCPTokenSource, error) {
	var key serviceAccountKey
	if err := json.Unmarshal(keyJSON, &key); err != nil {
		return nil, typ.ConfigError("parse service-account key: %v", err)
	}
	if key.Type != "service_account" {
		return nil, typ.ConfigError("credentials are not a service-account key (type %q)", key.Type)
	}
	if key.ClientEmail == "" || key.PrivateKey == "" {
		return nil, typ.ConfigError("service-account key missing client_email or private_key")
	}
	if key.TokenURI == "" {
		key.TokenURI = "https://oauth2.googleapis.com/token"
	}

	rsaKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(key.PrivateKey))
	if err != nil {
		return nil, typ.ConfigError("parse service-account private key: %v", err)
	}

	return &GCPTokenSource{
		email:    key.ClientEmail,
		key:      rsaKey,
		tokenURI: key.TokenURI,
		client:   &http.Client{Timeout: 30 * time.Second},
		now:      time.Now,
	}, nil
}

// Token returns a cached access token, refreshing it when it is absent or
// within the refresh margin of expiry. Concurrent callers share one refresh.
func (s *GCPTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Add(refreshMargin).Before(s.expires) {
		return s.token, nil
	}

	token, ttl, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	s.expires = s.now().Add(ttl)
	return token, nil
}

func (s *GCPTokenSource) fetch(ctx context.Context) (string, time.Duration, error) {
	assertion, err := s.signAssertion()
	if err != nil {
		return "", 0, err
	}

	form := url.Values{
		"grant_type": {assertionGrant},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, typ.AuthError("build token request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", 0, typ.AuthError("token endpoint request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, typ.AuthError("read token response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, typ.AuthError("token endpoint returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", 0, typ.AuthError("decode token response: %v", err)
	}
	if payload.AccessToken == "" {
		return "", 0, typ.AuthError("token endpoint returned no access token")
	}
	ttl := time.Duration(payload.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	return payload.AccessToken, ttl, nil
}

func (s *GCPTokenSource) signAssertion() (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"iss":   s.email,
		"scope": cloudPlatformScope,
		"aud":   s.tokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", typ.AuthError("sign token assertion: %v", err)
	}
	return signed, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
