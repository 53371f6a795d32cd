package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agerr "github.com/humanflow/authgate/pkg/errors"
)

// genRSAKey generates a 2048-bit RSA key pair for token signing tests.
func genRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

// jwksDocument builds a JWKS JSON document exposing the given RSA
// public keys under their kids.
func jwksDocument(t *testing.T, keys map[string]*rsa.PublicKey) []byte {
	t.Helper()
	doc := jwksResponse{}
	for kid, pub := range keys {
		doc.Keys = append(doc.Keys, jwkKey{
			Kty: "RSA",
			Kid: kid,
			Alg: "RS256",
			Use: "sig",
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return data
}

// jwksServer serves the JWKS document currently stored in doc and
// counts requests. Swap the stored document to simulate key rotation.
type jwksServer struct {
	*httptest.Server
	doc      atomic.Value // []byte
	requests atomic.Int64
}

func newJWKSServer(t *testing.T, doc []byte) *jwksServer {
	t.Helper()
	s := &jwksServer{}
	s.doc.Store(doc)
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(s.doc.Load().([]byte))
	}))
	t.Cleanup(s.Close)
	return s
}

func TestKeyCache_ResolvesKnownKid(t *testing.T) {
	t.Parallel()
	key := genRSAKey(t)
	srv := newJWKSServer(t, jwksDocument(t, map[string]*rsa.PublicKey{"kid-1": &key.PublicKey}))

	cache := NewKeyCache(srv.URL, srv.Client())

	got, err := cache.ResolveKey(context.Background(), "kid-1")
	require.NoError(t, err)
	pub, ok := got.(*rsa.PublicKey)
	require.True(t, ok, "expected *rsa.PublicKey, got %T", got)
	assert.Equal(t, key.PublicKey.N, pub.N)
	assert.Equal(t, int64(1), srv.requests.Load())
}

func TestKeyCache_CachesAcrossLookups(t *testing.T) {
	t.Parallel()
	key := genRSAKey(t)
	srv := newJWKSServer(t, jwksDocument(t, map[string]*rsa.PublicKey{"kid-1": &key.PublicKey}))

	cache := NewKeyCache(srv.URL, srv.Client())

	for i := 0; i < 5; i++ {
		_, err := cache.ResolveKey(context.Background(), "kid-1")
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), srv.requests.Load(),
		"cached kid lookups must not hit the provider")
}

func TestKeyCache_RefetchesOnRotation(t *testing.T) {
	t.Parallel()
	oldKey := genRSAKey(t)
	newKey := genRSAKey(t)
	srv := newJWKSServer(t, jwksDocument(t, map[string]*rsa.PublicKey{"kid-old": &oldKey.PublicKey}))

	cache := NewKeyCache(srv.URL, srv.Client())
	_, err := cache.ResolveKey(context.Background(), "kid-old")
	require.NoError(t, err)

	// Provider rotates its signing key.
	srv.doc.Store(jwksDocument(t, map[string]*rsa.PublicKey{"kid-new": &newKey.PublicKey}))

	got, err := cache.ResolveKey(context.Background(), "kid-new")
	require.NoError(t, err, "unknown kid must trigger one refetch")
	pub, ok := got.(*rsa.PublicKey)
	require.True(t, ok)
	assert.Equal(t, newKey.PublicKey.N, pub.N)
	assert.Equal(t, int64(2), srv.requests.Load())
}

func TestKeyCache_UnknownKidAfterRefetch(t *testing.T) {
	t.Parallel()
	key := genRSAKey(t)
	srv := newJWKSServer(t, jwksDocument(t, map[string]*rsa.PublicKey{"kid-1": &key.PublicKey}))

	cache := NewKeyCache(srv.URL, srv.Client())

	_, err := cache.ResolveKey(context.Background(), "kid-bogus")
	require.Error(t, err)
	assert.Equal(t, agerr.CodeTokenKeyNotFound, agerr.GetCode(err))
	assert.Equal(t, int64(1), srv.requests.Load(),
		"exactly one refetch per unknown-kid lookup")
}

func TestKeyCache_FetchFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	cache := NewKeyCache(srv.URL, srv.Client())

	_, err := cache.ResolveKey(context.Background(), "kid-1")
	require.Error(t, err)
	assert.Equal(t, agerr.CodeTokenKeyFetch, agerr.GetCode(err))
}

func TestKeyCache_MalformedResponse(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	t.Cleanup(srv.Close)

	cache := NewKeyCache(srv.URL, srv.Client())

	_, err := cache.ResolveKey(context.Background(), "kid-1")
	require.Error(t, err)
	assert.Equal(t, agerr.CodeTokenKeyFetch, agerr.GetCode(err))
}

func TestKeyCache_SkipsMalformedKeys(t *testing.T) {
	t.Parallel()
	key := genRSAKey(t)
	doc := jwksDocument(t, map[string]*rsa.PublicKey{"kid-good": &key.PublicKey})

	// Splice in a key with invalid base64 and one with no kid.
	var parsed jwksResponse
	require.NoError(t, json.Unmarshal(doc, &parsed))
	parsed.Keys = append(parsed.Keys,
		jwkKey{Kty: "RSA", Kid: "kid-bad", N: "!!not-base64!!", E: "AQAB"},
		jwkKey{Kty: "RSA", N: "AQAB", E: "AQAB"},
	)
	spliced, err := json.Marshal(parsed)
	require.NoError(t, err)
	srv := newJWKSServer(t, spliced)

	cache := NewKeyCache(srv.URL, srv.Client())

	_, err = cache.ResolveKey(context.Background(), "kid-good")
	assert.NoError(t, err, "good keys load even when siblings are malformed")

	_, err = cache.ResolveKey(context.Background(), "kid-bad")
	require.Error(t, err)
	assert.Equal(t, agerr.CodeTokenKeyNotFound, agerr.GetCode(err))
}

func TestParseECPublicKey_SupportedCurves(t *testing.T) {
	t.Parallel()

	// P-256 generator point coordinates, base64url encoded.
	x := base64.RawURLEncoding.EncodeToString(big.NewInt(0).SetBytes([]byte{0x6b, 0x17, 0xd1, 0xf2}).Bytes())
	y := base64.RawURLEncoding.EncodeToString(big.NewInt(0).SetBytes([]byte{0x4f, 0xe3, 0x42, 0xe2}).Bytes())

	_, err := parseECPublicKey("P-256", x, y)
	assert.NoError(t, err)

	_, err = parseECPublicKey("P-999", x, y)
	assert.Error(t, err, "unsupported curve must be rejected")
}
