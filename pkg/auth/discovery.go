package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	agerr "github.com/humanflow/authgate/pkg/errors"
)

// ---------------------------------------------------------------------------
// OIDC discovery
// ---------------------------------------------------------------------------

// ProviderMetadata is the subset of an OpenID Connect discovery
// document the gateway uses. The authorization and token endpoints
// drive the federated login flow; the JWKS URI feeds the [KeyCache];
// the end-session endpoint, when present, lets logout also terminate
// the provider session.
type ProviderMetadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
	EndSessionEndpoint    string `json:"end_session_endpoint,omitempty"`
}

// FetchProviderMetadata fetches and parses the provider's
// .well-known/openid-configuration document. The issuer URL is the
// document's base; a trailing slash is tolerated.
//
// The gateway calls this once at startup, so a failure is returned with
// [agerr.CodeUnavailable] and treated as fatal rather than retried.
func FetchProviderMetadata(ctx context.Context, issuerURL string, client HTTPClient) (*ProviderMetadata, error) {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	discoveryURL := strings.TrimRight(issuerURL, "/") + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, agerr.Wrap(err, agerr.CodeInternal,
			"auth: failed to create discovery request")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, agerr.Wrap(err, agerr.CodeUnavailable,
			fmt.Sprintf("auth: discovery request to %s failed", discoveryURL))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, agerr.New(agerr.CodeUnavailable,
			fmt.Sprintf("auth: discovery endpoint returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSResponseSize))
	if err != nil {
		return nil, agerr.Wrap(err, agerr.CodeUnavailable,
			"auth: failed to read discovery response")
	}

	var meta ProviderMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, agerr.Wrap(err, agerr.CodeUnavailable,
			"auth: failed to parse discovery JSON")
	}

	if meta.JWKSURI == "" {
		return nil, agerr.New(agerr.CodeUnavailable,
			"auth: discovery document missing jwks_uri")
	}
	if meta.AuthorizationEndpoint == "" || meta.TokenEndpoint == "" {
		return nil, agerr.New(agerr.CodeUnavailable,
			"auth: discovery document missing authorization or token endpoint")
	}

	return &meta, nil
}
