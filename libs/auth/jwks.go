package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"
)

var ErrKeyNotFound = errors.New("jwks key not found")

const (
	defaultJWKSTTL = 5 * time.Minute
	// an unknown kid triggers at most one fetch per interval
	minJWKSRefresh = 30 * time.Second
	maxJWKSBody    = 1 << 20
)

type jsonWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSClient resolves RS256 verification keys by kid from a JWKS endpoint.
// Keys are cached for the TTL; when a refresh fails the last good set keeps
// serving.
type JWKSClient struct {
	url  string
	ttl  time.Duration
	http *http.Client
	now  func() time.Time

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
	triedAt   time.Time
}

func NewJWKSClient(url string, ttl time.Duration) *JWKSClient {
	if ttl <= 0 {
		ttl = defaultJWKSTTL
	}
	return &JWKSClient{
		url:  url,
		ttl:  ttl,
		http: &http.Client{Timeout: 3 * time.Second},
		now:  time.Now,
		keys: map[string]*rsa.PublicKey{},
	}
}

// Key returns the key for kid, fetching the set when the cache is stale or
// the kid is new.
func (c *JWKSClient) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	key, cached := c.keys[kid]
	fresh := now.Sub(c.fetchedAt) < c.ttl
	if cached && fresh {
		return key, nil
	}
	if fresh && now.Sub(c.triedAt) < minJWKSRefresh {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}

	c.triedAt = now
	keys, err := c.fetch(ctx)
	if err != nil {
		if cached {
			return key, nil
		}
		return nil, fmt.Errorf("jwks refresh: %w", err)
	}
	c.keys = keys
	c.fetchedAt = now

	if key, ok := keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
}

func (c *JWKSClient) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var set struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJWKSBody)).Decode(&set); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if !k.usableForRS256() {
			continue
		}
		if pub, err := k.rsaPublicKey(); err == nil {
			keys[k.Kid] = pub
		}
	}
	return keys, nil
}

func (k jsonWebKey) usableForRS256() bool {
	if k.Kty != "RSA" || k.Kid == "" || k.N == "" || k.E == "" {
		return false
	}
	if k.Use != "" && k.Use != "sig" {
		return false
	}
	return k.Alg == "" || k.Alg == "RS256"
}

func (k jsonWebKey) rsaPublicKey() (*rsa.PublicKey, error) {
	n, err := decodeBigInt(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	e, err := decodeBigInt(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	if !e.IsInt64() || e.Int64() < 3 || e.Int64() > 1<<31-1 {
		return nil, errors.New("invalid jwk exponent")
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func decodeBigInt(s string) (*big.Int, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}
