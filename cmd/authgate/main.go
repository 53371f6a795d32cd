// Command authgate runs the authentication gateway: a Redis-backed
// session layer in front of an HTTP application, with local
// credential-file login or federated OpenID Connect login.
//
// Run with:
//
//	AUTHGATE_SESSION_SIGNING_KEY=<32+ bytes> go run ./cmd/authgate
//
// Configuration is resolved from an optional .env file, then
// AUTHGATE_-prefixed environment variables:
//
//	AUTHGATE_LISTEN_ADDR=:8080
//	AUTHGATE_MODE=federated
//	AUTHGATE_REDIS_HOST=redis.internal
//	AUTHGATE_PROVIDER_ISSUER_URL=https://accounts.google.com
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/humanflow/authgate/pkg/auth"
	redisclient "github.com/humanflow/authgate/pkg/clients/redis"
	"github.com/humanflow/authgate/pkg/config"
	"github.com/humanflow/authgate/pkg/gateway"
	"github.com/humanflow/authgate/pkg/session"
	"github.com/humanflow/authgate/pkg/throttle"
)

// AppConfig is the full gateway configuration, resolved from defaults,
// an optional config file, and AUTHGATE_-prefixed environment
// variables.
type AppConfig struct {
	// ListenAddr is the address the HTTP server binds to.
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	// UpstreamURL is the protected application the gateway proxies
	// authenticated requests to. When empty, the gateway serves a
	// minimal landing page instead, which is useful for smoke tests.
	UpstreamURL string `env:"UPSTREAM_URL"`

	// CredentialFile is the YAML or JSON credential file. Required in
	// local mode; optional in federated mode, where it maps known
	// emails to groups.
	CredentialFile string `env:"CREDENTIAL_FILE"`

	// ShutdownTimeout bounds graceful shutdown on SIGINT/SIGTERM.
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	Redis    redisclient.Config `json:"redis" env:"REDIS"`
	Throttle throttle.Config    `json:"throttle"`
	Session  session.Config     `json:"session"`
	Gateway  gateway.Config     `json:"gateway"`
}

func main() {
	// A missing .env file is fine; the environment wins either way.
	_ = godotenv.Load()

	loader := config.New().WithEnvPrefix("AUTHGATE")
	if path := os.Getenv("AUTHGATE_CONFIG_FILE"); path != "" {
		loader = loader.WithFile(path)
	}
	cfg := config.MustLoad[AppConfig](loader)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("gateway exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg AppConfig, logger *slog.Logger) error {
	// NewClient pings the store; an unreachable Redis is fatal at
	// startup rather than a degraded launch.
	store, err := redisclient.NewClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("connected to session store",
		"host", cfg.Redis.Host,
		"port", cfg.Redis.Port,
	)

	sessions, err := session.New(cfg.Session, store)
	if err != nil {
		return err
	}

	comp := gateway.Components{
		Sessions: sessions,
		Store:    store,
		Logger:   logger,
	}

	if cfg.CredentialFile != "" {
		creds, err := auth.LoadCredentials(cfg.CredentialFile)
		if err != nil {
			return err
		}
		logger.Info("loaded credential file",
			"path", cfg.CredentialFile,
			"entries", creds.Len(),
		)
		comp.Credentials = creds
	}

	switch cfg.Gateway.Mode {
	case gateway.ModeLocal:
		thr, err := throttle.New(cfg.Throttle, store, logger)
		if err != nil {
			return err
		}
		comp.Throttle = thr

	case gateway.ModeFederated:
		provider, err := auth.FetchProviderMetadata(ctx, cfg.Gateway.Provider.IssuerURL, nil)
		if err != nil {
			return err
		}
		logger.Info("discovered identity provider",
			"issuer", provider.Issuer,
			"jwks_uri", provider.JWKSURI,
		)
		verifier, err := auth.NewVerifier(auth.VerifierConfig{
			Issuer:   provider.Issuer,
			Audience: cfg.Gateway.Provider.ClientID,
		}, auth.NewKeyCache(provider.JWKSURI, nil))
		if err != nil {
			return err
		}
		comp.Provider = provider
		comp.Verifier = verifier
	}

	gw, err := gateway.New(cfg.Gateway, comp)
	if err != nil {
		return err
	}

	app, err := upstreamHandler(cfg.UpstreamURL)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           gw.Handler(app),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening",
			"addr", cfg.ListenAddr,
			"mode", string(cfg.Gateway.Mode),
		)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("gateway stopped")
	return nil
}

// upstreamHandler returns the protected application: a reverse proxy
// to the configured upstream, or a landing page when none is set.
func upstreamHandler(upstream string) (http.Handler, error) {
	if upstream == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec, ok := gateway.RecordFromContext(r.Context())
			if !ok {
				http.Error(w, "no session", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Write([]byte("authenticated as " + rec.Subject + " (" + string(rec.Group) + ")\n"))
		}), nil
	}

	target, err := url.Parse(upstream)
	if err != nil {
		return nil, err
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		director(r)
		// Pass the authenticated identity to the upstream.
		if rec, ok := gateway.RecordFromContext(r.Context()); ok {
			r.Header.Set("X-Auth-Subject", rec.Subject)
			r.Header.Set("X-Auth-Email", rec.Email)
			r.Header.Set("X-Auth-Group", string(rec.Group))
		}
	}
	return proxy, nil
}
