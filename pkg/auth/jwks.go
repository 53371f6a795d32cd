package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	agerr "github.com/humanflow/authgate/pkg/errors"
)

// ---------------------------------------------------------------------------
// HTTPClient interface
// ---------------------------------------------------------------------------

// HTTPClient abstracts the HTTP client used for fetching JWKS and OIDC
// discovery documents. This allows callers to provide custom HTTP clients
// with specific timeouts, transport settings, or middleware.
//
// The standard [http.Client] satisfies this interface.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// defaultHTTPTimeout bounds provider-facing requests when the caller
// does not supply an HTTP client of their own.
const defaultHTTPTimeout = 10 * time.Second

// maxJWKSResponseSize limits the JWKS and discovery response bodies to
// 1 MB to prevent resource exhaustion from a misbehaving provider.
const maxJWKSResponseSize = 1 << 20

// ---------------------------------------------------------------------------
// KeyCache — provider signing keys, keyed by kid
// ---------------------------------------------------------------------------

// KeyCache fetches and caches the public signing keys published at a
// provider's JWKS endpoint. Keys are held in memory keyed by key ID.
//
// A lookup for an unknown kid triggers one refetch of the key set, which
// handles provider key rotation: the new key appears in the refreshed
// set, and a kid that is still unknown after the refetch is reported as
// [agerr.CodeTokenKeyNotFound] without further network traffic.
//
// KeyCache is safe for concurrent use by multiple goroutines. It
// implements [KeyResolver].
type KeyCache struct {
	jwksURL string
	client  HTTPClient
	tracer  trace.Tracer

	mu   sync.Mutex
	keys map[string]any // kid -> *rsa.PublicKey or *ecdsa.PublicKey
}

// Compile-time assertion that KeyCache implements KeyResolver.
var _ KeyResolver = (*KeyCache)(nil)

// NewKeyCache creates a KeyCache for the given JWKS URL. If client is
// nil, a default [http.Client] with a 10-second timeout is used. The
// cache starts empty; the first [KeyCache.ResolveKey] call fetches the
// key set.
func NewKeyCache(jwksURL string, client HTTPClient) *KeyCache {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &KeyCache{
		jwksURL: jwksURL,
		client:  client,
		tracer:  otel.Tracer(tracerName),
		keys:    make(map[string]any),
	}
}

// ResolveKey returns the public key for the given key ID, fetching the
// provider's key set when the kid is not cached.
//
// Error codes returned:
//   - [agerr.CodeTokenKeyNotFound]: kid absent even after a refetch
//   - [agerr.CodeTokenKeyFetch]: the key set could not be fetched or parsed
func (c *KeyCache) ResolveKey(ctx context.Context, kid string) (any, error) {
	ctx, span := c.tracer.Start(ctx, "auth.ResolveKey")
	defer span.End()
	span.SetAttributes(attribute.String("auth.kid", kid))

	c.mu.Lock()
	defer c.mu.Unlock()

	if key, ok := c.keys[kid]; ok {
		span.SetAttributes(attribute.Bool("auth.cache_hit", true))
		return key, nil
	}
	span.SetAttributes(attribute.Bool("auth.cache_hit", false))

	// Unknown kid: refetch the key set once to pick up rotated keys.
	keys, err := fetchJWKS(ctx, c.client, c.jwksURL)
	if err != nil {
		return nil, err
	}
	c.keys = keys

	key, ok := c.keys[kid]
	if !ok {
		return nil, agerr.New(agerr.CodeTokenKeyNotFound,
			fmt.Sprintf("auth: key ID %q not found in provider key set", kid))
	}
	return key, nil
}

// fetchJWKS makes an HTTP GET request to the JWKS URL, parses the
// response, and constructs a map of key ID to public key. Supports RSA
// and ECDSA (P-256, P-384, P-521) key types.
func fetchJWKS(ctx context.Context, client HTTPClient, jwksURL string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, agerr.Wrap(err, agerr.CodeTokenKeyFetch,
			"auth: failed to create JWKS request")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, agerr.Wrap(err, agerr.CodeTokenKeyFetch,
			fmt.Sprintf("auth: JWKS request to %s failed", jwksURL))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, agerr.New(agerr.CodeTokenKeyFetch,
			fmt.Sprintf("auth: JWKS endpoint returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSResponseSize))
	if err != nil {
		return nil, agerr.Wrap(err, agerr.CodeTokenKeyFetch,
			"auth: failed to read JWKS response")
	}

	var jwks jwksResponse
	if err := json.Unmarshal(body, &jwks); err != nil {
		return nil, agerr.Wrap(err, agerr.CodeTokenKeyFetch,
			"auth: failed to parse JWKS JSON")
	}

	keys := make(map[string]any, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kid == "" {
			continue
		}
		switch k.Kty {
		case "RSA":
			pubKey, err := parseRSAPublicKey(k.N, k.E)
			if err != nil {
				continue // Skip malformed keys.
			}
			keys[k.Kid] = pubKey
		case "EC":
			pubKey, err := parseECPublicKey(k.Crv, k.X, k.Y)
			if err != nil {
				continue // Skip malformed keys.
			}
			keys[k.Kid] = pubKey
		}
	}
	return keys, nil
}

// jwksResponse represents the JSON structure of a JWKS endpoint response.
type jwksResponse struct {
	Keys []jwkKey `json:"keys"`
}

// jwkKey represents a single key in a JWKS response. Only the fields
// needed for RSA and EC key reconstruction are included.
type jwkKey struct {
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

// parseRSAPublicKey constructs an *rsa.PublicKey from base64url-encoded
// modulus (n) and exponent (e) values.
func parseRSAPublicKey(nBase64, eBase64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode RSA modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode RSA exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)

	return &rsa.PublicKey{
		N: n,
		E: int(e.Int64()),
	}, nil
}

// parseECPublicKey constructs an *ecdsa.PublicKey from a curve name and
// base64url-encoded x and y coordinates.
func parseECPublicKey(crv, xBase64, yBase64 string) (*ecdsa.PublicKey, error) {
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

	xBytes, err := base64.RawURLEncoding.DecodeString(xBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode EC x coordinate: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(yBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode EC y coordinate: %w", err)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}
