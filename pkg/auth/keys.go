package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	apierr "github.com/shelfwise/books-api/pkg/errors"
)

// Sentinel errors for key resolution. Callers distinguish a key that is
// provably absent from the current key set (ErrKeyNotFound, a client
// problem) from an unreachable key-set endpoint (ErrKeySourceUnavailable,
// a dependency problem that must fail closed).
var (
	// ErrKeyNotFound means the key set was (re)fetched successfully and
	// the requested key identifier is not in it.
	ErrKeyNotFound = errors.New("auth: signing key not found in key set")

	// ErrKeySourceUnavailable means the key-set endpoint could not be
	// reached or returned an unusable response, so the presence of the
	// requested key could not be determined.
	ErrKeySourceUnavailable = errors.New("auth: key source unavailable")
)

// maxJWKSResponseSize caps the JWKS response body at 1 MB to prevent
// resource exhaustion from a misbehaving or hostile endpoint.
const maxJWKSResponseSize = 1 << 20

// HTTPClient abstracts the HTTP client used for fetching the JWKS
// document, allowing tests and callers to supply custom transports.
// The standard [http.Client] satisfies this interface.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// keySnapshot is one immutable fetch result: the complete kid-to-key
// mapping as of fetchedAt. A rotation produces a new snapshot; an existing
// snapshot is never mutated after publication.
type keySnapshot struct {
	keys      map[string]any // kid -> *rsa.PublicKey or *ecdsa.PublicKey
	fetchedAt time.Time
}

// KeyCache maintains the current public signing keys of the identity
// provider, fetched from its JWKS endpoint. The cache is replaced
// wholesale on every successful fetch and starts empty.
//
// A cache miss triggers at most one synchronous refetch so that key
// rotation is tolerated without restarting the service. Concurrent misses
// coalesce into a single outbound request via singleflight; all waiters
// receive the result of the one in-flight fetch. A background refresh
// goroutine (started with [KeyCache.Start]) additionally refetches on a
// fixed interval.
//
// If a fetch fails, the last-known-good snapshot keeps serving keys it
// already holds; only unresolvable key identifiers surface
// [ErrKeySourceUnavailable].
//
// KeyCache is safe for concurrent use by multiple goroutines.
type KeyCache struct {
	url             string
	client          HTTPClient
	refreshInterval time.Duration
	logger          *slog.Logger

	group singleflight.Group

	mu   sync.RWMutex
	snap *keySnapshot // nil until the first successful fetch

	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewKeyCache creates a KeyCache for the given JWKS URL. If client is nil,
// a default [http.Client] with a 10-second timeout is used. A
// refreshInterval of zero disables the background refresh; the miss-path
// refetch still operates.
func NewKeyCache(url string, client HTTPClient, refreshInterval time.Duration) *KeyCache {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &KeyCache{
		url:             url,
		client:          client,
		refreshInterval: refreshInterval,
		logger:          slog.Default(),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
}

// Get returns the public key for the given key identifier. On a miss the
// entire key set is refetched once (coalesced across concurrent callers)
// before concluding the key does not exist.
//
// Returns [ErrKeyNotFound] if the key set is current and the kid is
// absent, or [ErrKeySourceUnavailable] if the endpoint cannot be reached
// and the kid is not in the last-known-good set.
func (c *KeyCache) Get(ctx context.Context, kid string) (any, error) {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	if snap != nil {
		if key, ok := snap.keys[kid]; ok {
			return key, nil
		}
	}

	// Miss: possibly a rotation. Coalesce the refetch; every concurrent
	// miss waits on the same outbound request and shares its outcome.
	fresh, err := c.refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeySourceUnavailable, err)
	}

	if key, ok := fresh.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
}

// Refresh fetches the key set immediately, replacing the cached snapshot
// on success. Used at startup when strict mode requires the key source to
// be reachable before serving.
func (c *KeyCache) Refresh(ctx context.Context) error {
	_, err := c.refresh(ctx)
	return err
}

// refresh performs a single-flight fetch of the JWKS document and installs
// the resulting snapshot.
func (c *KeyCache) refresh(ctx context.Context) (*keySnapshot, error) {
	v, err, _ := c.group.Do("jwks", func() (any, error) {
		keys, err := c.fetchKeys(ctx)
		if err != nil {
			return nil, err
		}
		snap := &keySnapshot{keys: keys, fetchedAt: time.Now()}
		c.mu.Lock()
		c.snap = snap
		c.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*keySnapshot), nil
}

// Start launches the background refresh loop. It returns immediately; the
// loop runs until [KeyCache.Close] is called or ctx is cancelled. Failed
// refreshes are logged and the last-known-good snapshot is retained.
//
// Start must be called at most once.
func (c *KeyCache) Start(ctx context.Context) {
	if c.refreshInterval <= 0 {
		return
	}
	c.started = true
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := c.refresh(ctx); err != nil {
					c.logger.WarnContext(ctx, "auth: scheduled key set refresh failed; retaining last-known-good keys",
						"error", err,
						"jwks_url", c.url,
					)
				}
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			}
		}
	}()
}

// Close stops the background refresh loop and waits for it to exit.
// Safe to call multiple times, and a no-op if Start was never called.
func (c *KeyCache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	if c.started {
		<-c.done
	}
}

// KeyCount returns the number of keys in the current snapshot. Zero means
// the cache is cold (no successful fetch yet).
func (c *KeyCache) KeyCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return 0
	}
	return len(c.snap.keys)
}

// jwksDocument is the JSON structure of a JWKS endpoint response.
type jwksDocument struct {
	Keys []jwkEntry `json:"keys"`
}

// jwkEntry is a single key in a JWKS response, restricted to the fields
// needed to reconstruct RSA and EC public keys.
type jwkEntry struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	// RSA fields
	N string `json:"n"`
	E string `json:"e"`
	// EC fields
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// fetchKeys GETs the JWKS document and builds the kid-to-key map.
// Malformed individual keys are skipped; an empty or unparseable document
// is an error.
func (c *KeyCache) fetchKeys(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, apierr.Wrap(err, apierr.CodeUnavailableKeySource,
			"auth: failed to create JWKS request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apierr.Wrap(err, apierr.CodeUnavailableKeySource,
			"auth: JWKS request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, apierr.Newf(apierr.CodeUnavailableKeySource,
			"auth: JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSResponseSize))
	if err != nil {
		return nil, apierr.Wrap(err, apierr.CodeUnavailableKeySource,
			"auth: failed to read JWKS response")
	}

	var doc jwksDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, apierr.Wrap(err, apierr.CodeUnavailableKeySource,
			"auth: failed to parse JWKS JSON")
	}

	keys := make(map[string]any, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kid == "" {
			continue
		}
		switch k.Kty {
		case "RSA":
			pub, err := parseRSAPublicKey(k.N, k.E)
			if err != nil {
				continue
			}
			keys[k.Kid] = pub
		case "EC":
			pub, err := parseECPublicKey(k.Crv, k.X, k.Y)
			if err != nil {
				continue
			}
			keys[k.Kid] = pub
		}
	}
	return keys, nil
}

// parseRSAPublicKey builds an *rsa.PublicKey from base64url-encoded
// modulus and exponent.
func parseRSAPublicKey(nB64, eB64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nB64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode RSA modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eB64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode RSA exponent: %w", err)
	}

	e := new(big.Int).SetBytes(eBytes)
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(e.Int64()),
	}, nil
}

// parseECPublicKey builds an *ecdsa.PublicKey from a curve name and
// base64url-encoded coordinates.
func parseECPublicKey(crv, xB64, yB64 string) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("auth: unsupported EC curve %q", crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(xB64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode EC x coordinate: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(yB64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode EC y coordinate: %w", err)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}
