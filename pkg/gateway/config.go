// Package gateway is the request-level access gate. It composes the
// credential store, login throttle, token verifier, and session
// manager into the login, callback, logout, and guard flow, and owns
// the HTTP surface those flows are reached through.
//
// The gate supports two login modes. In local mode, /login renders a
// credential form and verifies submissions against the credential
// store, throttled per client address. In federated mode, /login
// redirects to an OpenID Connect provider and /callback turns the
// provider's response into a session after full token verification.
// Both modes end in the same place: a server-side session whose group
// drives every later authorization decision.
package gateway

import (
	"net/netip"
	"strconv"
	"time"

	agerr "github.com/humanflow/authgate/pkg/errors"
	"github.com/humanflow/authgate/pkg/session"
)

// DefaultExchangeTimeout bounds the provider code exchange during the
// callback. An unresponsive token endpoint fails the login rather than
// holding the request open.
const DefaultExchangeTimeout = 10 * time.Second

// Mode selects which login flow the gateway serves.
type Mode string

const (
	// ModeLocal verifies username/password submissions against the
	// credential file.
	ModeLocal Mode = "local"

	// ModeFederated delegates authentication to an OpenID Connect
	// provider.
	ModeFederated Mode = "federated"
)

// Paths served by the gateway. The rest of the URL space belongs to
// the protected application.
const (
	LoginPath    = "/login"
	CallbackPath = "/callback"
	LogoutPath   = "/logout"
	HealthzPath  = "/healthz"
)

// ProviderConfig holds the OpenID Connect client registration for
// federated mode.
type ProviderConfig struct {
	// IssuerURL is the provider's issuer, used for discovery and as
	// the expected "iss" claim.
	IssuerURL string `json:"issuer_url" env:"PROVIDER_ISSUER_URL"`

	// ClientID is the OAuth client identifier, also the expected
	// token audience.
	ClientID string `json:"client_id" env:"PROVIDER_CLIENT_ID"`

	// ClientSecret is the OAuth client secret used for the code
	// exchange.
	ClientSecret session.Secret `json:"-" env:"PROVIDER_CLIENT_SECRET"`

	// RedirectURL is this gateway's externally reachable callback
	// URL, registered with the provider.
	RedirectURL string `json:"redirect_url" env:"PROVIDER_REDIRECT_URL"`
}

// Config holds the gateway parameters.
type Config struct {
	// Mode selects local or federated login. Defaults to local.
	Mode Mode `json:"mode" env:"MODE" envDefault:"local"`

	// HomeURL is where successful logins land. Defaults to "/".
	HomeURL string `json:"home_url" env:"HOME_URL" envDefault:"/"`

	// TrustForwardedFor makes the gateway derive the client address
	// from the X-Forwarded-For header. Enable only behind a proxy
	// that overwrites the header, otherwise clients can dodge the
	// login throttle by forging it.
	TrustForwardedFor bool `json:"trust_forwarded_for" env:"TRUST_FORWARDED_FOR" envDefault:"false"`

	// ExchangeTimeout bounds the provider code exchange in federated
	// mode. Defaults to [DefaultExchangeTimeout] when zero.
	ExchangeTimeout time.Duration `json:"exchange_timeout" env:"EXCHANGE_TIMEOUT" envDefault:"10s"`

	// Provider is the OIDC registration, required in federated mode.
	Provider ProviderConfig `json:"provider"`
}

// Validate checks the configuration for logical correctness.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeLocal:
	case ModeFederated:
		if c.Provider.IssuerURL == "" {
			return agerr.New(agerr.CodeInternalConfiguration,
				"gateway: federated mode requires a provider issuer URL")
		}
		if c.Provider.ClientID == "" {
			return agerr.New(agerr.CodeInternalConfiguration,
				"gateway: federated mode requires a provider client ID")
		}
		if c.Provider.ClientSecret.Value() == "" {
			return agerr.New(agerr.CodeInternalConfiguration,
				"gateway: federated mode requires a provider client secret")
		}
		if c.Provider.RedirectURL == "" {
			return agerr.New(agerr.CodeInternalConfiguration,
				"gateway: federated mode requires a redirect URL")
		}
	default:
		return agerr.New(agerr.CodeInternalConfiguration,
			"gateway: mode must be local or federated, got "+strconv.Quote(string(c.Mode)))
	}

	if c.HomeURL == "" {
		return agerr.New(agerr.CodeInternalConfiguration,
			"gateway: home URL must not be empty")
	}
	if c.ExchangeTimeout < 0 {
		return agerr.New(agerr.CodeInternalConfiguration,
			"gateway: exchange timeout must not be negative")
	}
	return nil
}

// isValidAddr reports whether s parses as a bare IP address.
func isValidAddr(s string) bool {
	_, err := netip.ParseAddr(s)
	return err == nil
}
