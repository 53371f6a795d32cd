package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agerr "github.com/humanflow/authgate/pkg/errors"
)

func discoveryHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func TestFetchProviderMetadata(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(discoveryHandler(`{
		"issuer": "https://issuer.test",
		"authorization_endpoint": "https://issuer.test/auth",
		"token_endpoint": "https://issuer.test/token",
		"jwks_uri": "https://issuer.test/jwks",
		"end_session_endpoint": "https://issuer.test/logout"
	}`))
	t.Cleanup(srv.Close)

	meta, err := FetchProviderMetadata(context.Background(), srv.URL, srv.Client())
	require.NoError(t, err)

	assert.Equal(t, "https://issuer.test", meta.Issuer)
	assert.Equal(t, "https://issuer.test/auth", meta.AuthorizationEndpoint)
	assert.Equal(t, "https://issuer.test/token", meta.TokenEndpoint)
	assert.Equal(t, "https://issuer.test/jwks", meta.JWKSURI)
	assert.Equal(t, "https://issuer.test/logout", meta.EndSessionEndpoint)
}

func TestFetchProviderMetadata_TrailingSlash(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(discoveryHandler(`{
		"authorization_endpoint": "a",
		"token_endpoint": "t",
		"jwks_uri": "j"
	}`))
	t.Cleanup(srv.Close)

	_, err := FetchProviderMetadata(context.Background(), srv.URL+"/", srv.Client())
	assert.NoError(t, err)
}

func TestFetchProviderMetadata_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "provider unreachable sends 500",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name:    "malformed JSON",
			handler: discoveryHandler(`{"jwks_uri": `),
		},
		{
			name:    "missing jwks_uri",
			handler: discoveryHandler(`{"authorization_endpoint": "a", "token_endpoint": "t"}`),
		},
		{
			name:    "missing endpoints",
			handler: discoveryHandler(`{"jwks_uri": "j"}`),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			t.Cleanup(srv.Close)

			_, err := FetchProviderMetadata(context.Background(), srv.URL, srv.Client())
			require.Error(t, err)
			assert.Equal(t, agerr.CodeUnavailable, agerr.GetCode(err))
		})
	}
}
