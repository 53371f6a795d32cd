package gateway

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/humanflow/authgate/pkg/auth"
	redisclient "github.com/humanflow/authgate/pkg/clients/redis"
	agerr "github.com/humanflow/authgate/pkg/errors"
	"github.com/humanflow/authgate/pkg/session"
	"github.com/humanflow/authgate/pkg/throttle"
)

const tracerName = "github.com/humanflow/authgate/pkg/gateway"

// defaultScopes are the OAuth scopes requested from the provider in
// federated mode.
var defaultScopes = []string{"openid", "email", "profile"}

// Components are the collaborators the gateway composes. Which ones
// are required depends on the configured mode: local mode needs the
// credential store and throttle, federated mode needs the verifier
// and provider metadata. The session manager and store are always
// required.
type Components struct {
	// Credentials maps usernames and emails to groups. Required in
	// local mode; optional in federated mode, where it upgrades
	// known emails to their configured group.
	Credentials *auth.CredentialStore

	// Throttle limits failed local login attempts per client
	// address. Required in local mode.
	Throttle *throttle.Throttle

	// Verifier validates provider-issued identity tokens. Required
	// in federated mode.
	Verifier *auth.Verifier

	// Provider is the discovered OIDC endpoint set. Required in
	// federated mode.
	Provider *auth.ProviderMetadata

	// Sessions creates and reads server-side sessions. Always
	// required.
	Sessions *session.Manager

	// Store is the backing Redis client, used by the health
	// endpoint. Always required.
	Store *redisclient.Client

	// Logger receives structured request-flow events. Defaults to
	// [slog.Default].
	Logger *slog.Logger
}

// Gateway is the access gate. It serves the login, callback, logout,
// and health endpoints, and guards every other path behind a valid
// session.
type Gateway struct {
	config   Config
	creds    *auth.CredentialStore
	throttle *throttle.Throttle
	verifier *auth.Verifier
	provider *auth.ProviderMetadata
	sessions *session.Manager
	store    *redisclient.Client
	oauth    *oauth2.Config
	log      *slog.Logger
	tracer   trace.Tracer
}

// New creates a gateway from the configuration and its collaborators.
//
// Example:
//
//	gw, err := gateway.New(cfg, gateway.Components{
//	    Credentials: creds,
//	    Throttle:    thr,
//	    Sessions:    sessions,
//	    Store:       store,
//	})
//	if err != nil {
//	    return err
//	}
//	http.ListenAndServe(":8080", gw.Handler(app))
func New(cfg Config, comp Components) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ExchangeTimeout == 0 {
		cfg.ExchangeTimeout = DefaultExchangeTimeout
	}
	if comp.Sessions == nil {
		return nil, agerr.New(agerr.CodeInternalConfiguration,
			"gateway: session manager is required")
	}
	if comp.Store == nil {
		return nil, agerr.New(agerr.CodeInternalConfiguration,
			"gateway: store client is required")
	}

	g := &Gateway{
		config:   cfg,
		creds:    comp.Credentials,
		throttle: comp.Throttle,
		verifier: comp.Verifier,
		provider: comp.Provider,
		sessions: comp.Sessions,
		store:    comp.Store,
		log:      comp.Logger,
		tracer:   otel.Tracer(tracerName),
	}
	if g.log == nil {
		g.log = slog.Default()
	}

	switch cfg.Mode {
	case ModeLocal:
		if g.creds == nil {
			return nil, agerr.New(agerr.CodeInternalConfiguration,
				"gateway: local mode requires a credential store")
		}
		if g.throttle == nil {
			return nil, agerr.New(agerr.CodeInternalConfiguration,
				"gateway: local mode requires a login throttle")
		}
	case ModeFederated:
		if g.verifier == nil {
			return nil, agerr.New(agerr.CodeInternalConfiguration,
				"gateway: federated mode requires a token verifier")
		}
		if g.provider == nil {
			return nil, agerr.New(agerr.CodeInternalConfiguration,
				"gateway: federated mode requires provider metadata")
		}
		g.oauth = &oauth2.Config{
			ClientID:     cfg.Provider.ClientID,
			ClientSecret: cfg.Provider.ClientSecret.Value(),
			RedirectURL:  cfg.Provider.RedirectURL,
			Scopes:       defaultScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  g.provider.AuthorizationEndpoint,
				TokenURL: g.provider.TokenEndpoint,
			},
		}
	}

	return g, nil
}

// Handler returns the gateway's full HTTP surface: the login,
// callback, logout, and health endpoints, with every other path
// routed to app behind the session guard.
func (g *Gateway) Handler(app http.Handler) http.Handler {
	r := chi.NewRouter()
	g.mountRoutes(r)
	r.Handle("/*", g.RequireSession(app))
	return r
}

// Routes returns only the gateway's own endpoints, for callers that
// assemble their router themselves and apply [Gateway.RequireSession]
// to the paths they choose.
func (g *Gateway) Routes() chi.Router {
	r := chi.NewRouter()
	g.mountRoutes(r)
	return r
}

func (g *Gateway) mountRoutes(r chi.Router) {
	r.Get(LoginPath, g.handleLoginStart)
	r.Post(LoginPath, g.handleLoginSubmit)
	r.Get(CallbackPath, g.handleCallback)
	r.Get(LogoutPath, g.handleLogout)
	r.Get(HealthzPath, g.handleHealthz)
}
