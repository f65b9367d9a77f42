package jwks

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrInvalidToken is returned when the token is invalid
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrJWKSFetchFailed is returned when JWKS fetching fails
	ErrJWKSFetchFailed = errors.New("failed to fetch JWKS")

	// ErrKeyNotFound is returned when no key in the set matches the token header
	ErrKeyNotFound = errors.New("no matching key in JWKS")
)

const (
	defaultCacheMaxAge = 10 * time.Minute
	defaultCooldown    = 30 * time.Second
	defaultHTTPTimeout = 10 * time.Second
	maxJWKSBytes       = 1 << 20
)

// SupportedAlgorithms lists the asymmetric signing algorithms accepted for bearer tokens
var SupportedAlgorithms = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

// Config holds configuration for Verifier
type Config struct {
	URL string

	// Issuer and Audience are checked only when set
	Issuer   string
	Audience string

	// CacheMaxAge is how long a fetched key set is trusted before refetching
	CacheMaxAge time.Duration
	// Cooldown is the minimum time between refetches triggered by an unknown kid
	Cooldown time.Duration
	// Leeway is the clock skew tolerated for exp and nbf
	Leeway      time.Duration
	HTTPTimeout time.Duration
	HTTPClient  *http.Client
}

// Verifier verifies bearer tokens against a remote JSON Web Key Set.
// The key set is fetched lazily on first use and cached.
type Verifier struct {
	url         string
	httpClient  *http.Client
	httpTimeout time.Duration
	parser      *jwt.Parser

	maxAge   time.Duration
	cooldown time.Duration

	// Cache for the key set
	keySet    *jose.JSONWebKeySet
	fetchedAt time.Time
	cacheMu   sync.RWMutex

	fetches singleflight.Group
	now     func() time.Time
}

// NewVerifier creates a new JWKS-backed token verifier
func NewVerifier(config Config) *Verifier {
	if config.CacheMaxAge == 0 {
		config.CacheMaxAge = defaultCacheMaxAge
	}
	if config.Cooldown == 0 {
		config.Cooldown = defaultCooldown
	}
	if config.HTTPTimeout == 0 {
		config.HTTPTimeout = defaultHTTPTimeout
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.HTTPTimeout}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(SupportedAlgorithms),
		jwt.WithLeeway(config.Leeway),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		opts = append(opts, jwt.WithAudience(config.Audience))
	}

	return &Verifier{
		url:         config.URL,
		httpClient:  httpClient,
		httpTimeout: config.HTTPTimeout,
		parser:      jwt.NewParser(opts...),
		maxAge:      config.CacheMaxAge,
		cooldown:    config.Cooldown,
		now:         time.Now,
	}
}

// Verify checks the token signature and standard time claims and returns the payload
func (v *Verifier) Verify(ctx context.Context, tokenString string) (jwt.MapClaims, error) {
	unverified, _, err := v.parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	alg := unverified.Method.Alg()
	if !isSupportedAlgorithm(alg) {
		return nil, fmt.Errorf("%w: unexpected signing method: %s", ErrInvalidToken, alg)
	}
	kid, _ := unverified.Header["kid"].(string)

	keys, err := v.keysFor(ctx, kid, alg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	// Without a kid several keys may fit; the first one that verifies wins
	var lastErr error
	for _, key := range keys {
		claims := jwt.MapClaims{}
		_, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		})
		if err == nil {
			return claims, nil
		}
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		lastErr = err
		if !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			break
		}
	}

	return nil, fmt.Errorf("%w: %w", ErrInvalidToken, lastErr)
}

// keysFor resolves the verification keys for a token header, refetching the
// key set when it is stale or when the kid is unknown and the cooldown has passed.
func (v *Verifier) keysFor(ctx context.Context, kid, alg string) ([]interface{}, error) {
	keySet, fetchedAt := v.cached()
	if keySet == nil || v.now().Sub(fetchedAt) > v.maxAge {
		var err error
		keySet, err = v.refresh(ctx)
		if err != nil {
			return nil, err
		}
		fetchedAt = v.now()
	}

	keys := matchingKeys(keySet, kid, alg)
	if len(keys) == 0 && v.now().Sub(fetchedAt) >= v.cooldown {
		refreshed, err := v.refresh(ctx)
		if err != nil {
			return nil, err
		}
		keys = matchingKeys(refreshed, kid, alg)
	}

	if len(keys) == 0 {
		if kid == "" {
			return nil, fmt.Errorf("%w: alg %s", ErrKeyNotFound, alg)
		}
		return nil, fmt.Errorf("%w: kid %s", ErrKeyNotFound, kid)
	}

	return keys, nil
}

func (v *Verifier) cached() (*jose.JSONWebKeySet, time.Time) {
	v.cacheMu.RLock()
	defer v.cacheMu.RUnlock()
	return v.keySet, v.fetchedAt
}

// refresh fetches the key set. Concurrent callers share a single request, which
// outlives any one caller's cancellation and is bounded by the HTTP timeout.
func (v *Verifier) refresh(ctx context.Context) (*jose.JSONWebKeySet, error) {
	results := v.fetches.DoChan(v.url, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.httpTimeout)
		defer cancel()
		return v.FetchJWKS(fetchCtx)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrJWKSFetchFailed, ctx.Err())
	case res := <-results:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*jose.JSONWebKeySet), nil
	}
}

// FetchJWKS fetches the key set from the remote endpoint and replaces the cached copy
func (v *Verifier) FetchJWKS(ctx context.Context) (*jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status code %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var keySet jose.JSONWebKeySet
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJWKSBytes)).Decode(&keySet); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrJWKSFetchFailed, err)
	}

	v.cacheMu.Lock()
	v.keySet = &keySet
	v.fetchedAt = v.now()
	v.cacheMu.Unlock()

	return &keySet, nil
}

// matchingKeys returns the public keys usable for a token signed with alg.
// Without a kid every compatible signing key is a candidate.
func matchingKeys(keySet *jose.JSONWebKeySet, kid, alg string) []interface{} {
	var keys []interface{}
	for _, key := range keySet.Keys {
		if kid != "" && key.KeyID != kid {
			continue
		}
		if key.Use != "" && key.Use != "sig" {
			continue
		}
		if key.Algorithm != "" && key.Algorithm != alg {
			continue
		}
		if !key.IsPublic() || !keyFitsAlgorithm(key.Key, alg) {
			continue
		}
		keys = append(keys, key.Key)
	}
	return keys
}

func isSupportedAlgorithm(alg string) bool {
	for _, supported := range SupportedAlgorithms {
		if alg == supported {
			return true
		}
	}
	return false
}

func keyFitsAlgorithm(key interface{}, alg string) bool {
	switch key.(type) {
	case *rsa.PublicKey:
		return strings.HasPrefix(alg, "RS") || strings.HasPrefix(alg, "PS")
	case *ecdsa.PublicKey:
		return strings.HasPrefix(alg, "ES")
	case ed25519.PublicKey:
		return alg == "EdDSA"
	default:
		return false
	}
}

// InvalidateCache drops the cached key set (useful for testing or forced refresh)
func (v *Verifier) InvalidateCache() {
	v.cacheMu.Lock()
	defer v.cacheMu.Unlock()
	v.keySet = nil
	v.fetchedAt = time.Time{}
}

// GetCacheStats returns cache statistics
func (v *Verifier) GetCacheStats() map[string]interface{} {
	v.cacheMu.RLock()
	defer v.cacheMu.RUnlock()

	stats := map[string]interface{}{
		"jwks_cached":     v.keySet != nil,
		"jwks_fetched_at": v.fetchedAt,
	}
	if v.keySet != nil {
		stats["jwks_keys_count"] = len(v.keySet.Keys)
	}

	return stats
}
