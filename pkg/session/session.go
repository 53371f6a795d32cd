// Package session manages server-side login sessions backed by the
// shared Redis store.
//
// The browser holds only an opaque session ID inside an HMAC-signed
// cookie; everything about the principal (subject, profile, access
// group) lives in a Redis hash keyed by that ID. Any gateway process
// that shares the store and the signing key can read a session another
// process created, and destroying the record in the store invalidates
// the session everywhere at once.
//
// The package also stashes login nonces: short-lived one-time values
// that bind a federated login round-trip to the browser that started
// it. Nonces are consumed with an atomic GETDEL so a replayed callback
// can never find one.
package session

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/humanflow/authgate/pkg/auth"
	redisclient "github.com/humanflow/authgate/pkg/clients/redis"
	agerr "github.com/humanflow/authgate/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for
// session spans.
const tracerName = "github.com/humanflow/authgate/pkg/session"

// Store key prefixes.
const (
	sessionKeyPrefix = "session:"
	nonceKeyPrefix   = "login_nonce:"
)

// Defaults applied by [DefaultConfig].
const (
	DefaultCookieName = "authgate_session"
	DefaultTTL        = 24 * time.Hour
	DefaultNonceTTL   = 10 * time.Minute
)

// minSigningKeyLen is the minimum cookie signing key length. Shorter
// keys make the HMAC tag brute-forceable.
const minSigningKeyLen = 32

// ---------------------------------------------------------------------------
// Secret type
// ---------------------------------------------------------------------------

// Secret is a string type that redacts its value in String(),
// GoString(), and MarshalText() to prevent accidental exposure in logs
// or serialized output. The actual value is only accessible via
// [Secret.Value].
type Secret string

const secretRedacted = "[REDACTED]"

// String returns the redacted placeholder.
func (s Secret) String() string { return secretRedacted }

// GoString returns the redacted placeholder.
func (s Secret) GoString() string { return secretRedacted }

// Value returns the actual secret string.
func (s Secret) Value() string { return string(s) }

// MarshalText implements [encoding.TextMarshaler], returning the
// redacted placeholder.
func (s Secret) MarshalText() ([]byte, error) { return []byte(secretRedacted), nil }

// ---------------------------------------------------------------------------
// Record
// ---------------------------------------------------------------------------

// Record is the server-side state of one login session.
type Record struct {
	// Subject identifies the principal: the username for local logins
	// or the provider's subject claim for federated ones.
	Subject string

	// Name is the principal's display name. May be empty.
	Name string

	// Email is the principal's email address. May be empty for local
	// accounts without one.
	Email string

	// Picture is an avatar URL from the federated provider. May be
	// empty.
	Picture string

	// Group is the access group captured at login. [Manager.Read]
	// re-parses this fail-closed, so a tampered record degrades to
	// [auth.GroupUnauthorized] rather than escalating.
	Group auth.Group
}

// Hash field names for the session record.
const (
	fieldSubject = "subject"
	fieldName    = "name"
	fieldEmail   = "email"
	fieldPicture = "picture"
	fieldGroup   = "group"
)

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

// Config holds the session manager parameters.
type Config struct {
	// CookieName is the name of the session cookie. Defaults to
	// [DefaultCookieName].
	CookieName string `json:"cookie_name" env:"SESSION_COOKIE_NAME" envDefault:"authgate_session"`

	// SigningKey authenticates cookie contents. Every gateway process
	// sharing the store must use the same key. Must be at least 32
	// bytes.
	SigningKey Secret `json:"-" env:"SESSION_SIGNING_KEY" required:"true"`

	// TTL is the session lifetime. Reads slide the expiry forward, so
	// an active session stays alive and an idle one lapses.
	TTL time.Duration `json:"ttl" env:"SESSION_TTL" envDefault:"24h"`

	// NonceTTL bounds how long a federated login round-trip may take.
	NonceTTL time.Duration `json:"nonce_ttl" env:"SESSION_NONCE_TTL" envDefault:"10m"`

	// Secure marks the session cookie Secure, restricting it to HTTPS.
	// Disable only for local development over plain HTTP.
	Secure bool `json:"secure" env:"SESSION_SECURE_COOKIES" envDefault:"true"`
}

// DefaultConfig returns a Config with standard lifetimes and secure
// cookies. The signing key must still be supplied.
func DefaultConfig() Config {
	return Config{
		CookieName: DefaultCookieName,
		TTL:        DefaultTTL,
		NonceTTL:   DefaultNonceTTL,
		Secure:     true,
	}
}

// Validate checks the configuration for logical correctness.
func (c *Config) Validate() error {
	if c.CookieName == "" {
		return agerr.New(agerr.CodeValidation, "session: cookie name must not be empty")
	}
	if len(c.SigningKey.Value()) < minSigningKeyLen {
		return agerr.New(agerr.CodeValidation, "session: signing key must be at least 32 bytes")
	}
	if c.TTL <= 0 {
		return agerr.New(agerr.CodeValidation, "session: TTL must be positive")
	}
	if c.NonceTTL <= 0 {
		return agerr.New(agerr.CodeValidation, "session: nonce TTL must be positive")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

// Manager creates, reads, and destroys sessions. It is safe for
// concurrent use by multiple goroutines.
type Manager struct {
	config Config
	store  *redisclient.Client
	tracer trace.Tracer
}

// New creates a session Manager over the given store.
func New(cfg Config, store *redisclient.Client) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, agerr.New(agerr.CodeValidation, "session: store must not be nil")
	}
	return &Manager{
		config: cfg,
		store:  store,
		tracer: otel.Tracer(tracerName),
	}, nil
}

// Create stores a new session record and returns the cookie that
// references it. The session ID is a fresh UUID; the cookie value is
// the ID plus an HMAC tag so a guessed or tampered ID fails signature
// verification before the store is ever consulted.
func (m *Manager) Create(ctx context.Context, rec Record) (*http.Cookie, error) {
	ctx, span := m.tracer.Start(ctx, "session.Create")
	defer span.End()

	if rec.Subject == "" {
		return nil, agerr.New(agerr.CodeValidation, "session: record subject must not be empty")
	}
	if !rec.Group.Valid() {
		rec.Group = auth.GroupUnauthorized
	}

	sid := uuid.NewString()
	span.SetAttributes(attribute.String("session.subject", rec.Subject))

	key := sessionKeyPrefix + sid
	if _, err := m.store.HSet(ctx, key,
		fieldSubject, rec.Subject,
		fieldName, rec.Name,
		fieldEmail, rec.Email,
		fieldPicture, rec.Picture,
		fieldGroup, string(rec.Group),
	); err != nil {
		return nil, agerr.Wrap(err, agerr.CodeUnavailableStore,
			"session: failed to store session record")
	}
	if _, err := m.store.Expire(ctx, key, m.config.TTL); err != nil {
		// Do not hand out a cookie for a record that never expires.
		_, _ = m.store.Del(ctx, key)
		return nil, agerr.Wrap(err, agerr.CodeUnavailableStore,
			"session: failed to set session expiry")
	}

	return m.cookie(m.signValue(sid), false), nil
}

// Read returns the session record referenced by the request's cookie.
//
// A missing cookie, a cookie with a bad signature, and an expired or
// deleted record all return (nil, nil): the request simply has no
// session. Errors are reserved for store failures, returned with
// [agerr.CodeUnavailableStore] so callers fail closed instead of
// treating an unreachable store as "logged out".
//
// Reading an active session slides its expiry forward by the
// configured TTL.
func (m *Manager) Read(ctx context.Context, r *http.Request) (*Record, error) {
	ctx, span := m.tracer.Start(ctx, "session.Read")
	defer span.End()

	sid, ok := m.sidFromRequest(r)
	if !ok {
		return nil, nil
	}

	key := sessionKeyPrefix + sid
	fields, err := m.store.HGetAll(ctx, key)
	if err != nil {
		return nil, agerr.Wrap(err, agerr.CodeUnavailableStore,
			"session: failed to read session record")
	}
	if len(fields) == 0 {
		return nil, nil // Expired or destroyed.
	}

	// Sliding expiry: activity keeps the session alive.
	if _, err := m.store.Expire(ctx, key, m.config.TTL); err != nil {
		return nil, agerr.Wrap(err, agerr.CodeUnavailableStore,
			"session: failed to refresh session expiry")
	}

	rec := &Record{
		Subject: fields[fieldSubject],
		Name:    fields[fieldName],
		Email:   fields[fieldEmail],
		Picture: fields[fieldPicture],
		Group:   auth.ParseGroup(fields[fieldGroup]),
	}
	if rec.Subject == "" {
		return nil, nil // Corrupted record; treat as absent.
	}

	span.SetAttributes(
		attribute.String("session.subject", rec.Subject),
		attribute.String("session.group", string(rec.Group)),
	)
	return rec, nil
}

// Destroy deletes the session referenced by the request's cookie and
// returns an expired cookie that clears it from the browser. Destroy
// is idempotent: requests without a valid session still get the
// clearing cookie and a nil error.
func (m *Manager) Destroy(ctx context.Context, r *http.Request) (*http.Cookie, error) {
	ctx, span := m.tracer.Start(ctx, "session.Destroy")
	defer span.End()

	cleared := m.cookie("", true)

	sid, ok := m.sidFromRequest(r)
	if !ok {
		return cleared, nil
	}
	if _, err := m.store.Del(ctx, sessionKeyPrefix+sid); err != nil {
		return cleared, agerr.Wrap(err, agerr.CodeUnavailableStore,
			"session: failed to delete session record")
	}
	return cleared, nil
}

// StashNonce stores a one-time nonce under the login flow's state
// value, expiring after the configured nonce TTL.
func (m *Manager) StashNonce(ctx context.Context, state, nonce string) error {
	ctx, span := m.tracer.Start(ctx, "session.StashNonce")
	defer span.End()

	if state == "" || nonce == "" {
		return agerr.New(agerr.CodeValidation, "session: state and nonce must not be empty")
	}
	if err := m.store.Set(ctx, nonceKeyPrefix+state, nonce, m.config.NonceTTL); err != nil {
		return agerr.Wrap(err, agerr.CodeUnavailableStore,
			"session: failed to stash login nonce")
	}
	return nil
}

// TakeNonce atomically consumes and returns the nonce stashed under
// state. A second take for the same state, or a take after the nonce
// TTL, returns [agerr.CodeTokenNonce]: the callback is either replayed
// or too late.
func (m *Manager) TakeNonce(ctx context.Context, state string) (string, error) {
	ctx, span := m.tracer.Start(ctx, "session.TakeNonce")
	defer span.End()

	nonce, err := m.store.GetDel(ctx, nonceKeyPrefix+state)
	if err != nil {
		if redisclient.IsNil(err) {
			return "", agerr.New(agerr.CodeTokenNonce,
				"session: login nonce is missing, expired, or already used")
		}
		return "", agerr.Wrap(err, agerr.CodeUnavailableStore,
			"session: failed to take login nonce")
	}
	return nonce, nil
}

// LoginStateCookie returns a short-lived cookie that binds a login
// flow's state value to the browser that started it. The value is the
// state's HMAC tag rather than the state itself, so the cookie leaks
// nothing and is useless without the matching callback parameters.
func (m *Manager) LoginStateCookie(state string) *http.Cookie {
	return &http.Cookie{
		Name:     m.stateCookieName(),
		Value:    m.tag(state),
		Path:     "/",
		MaxAge:   int(m.config.NonceTTL.Seconds()),
		HttpOnly: true,
		Secure:   m.config.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// VerifyLoginState reports whether the request carries the login state
// cookie matching the given state value. A callback arriving in a
// browser that never started the flow fails this check.
func (m *Manager) VerifyLoginState(r *http.Request, state string) bool {
	c, err := r.Cookie(m.stateCookieName())
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(c.Value), []byte(m.tag(state)))
}

// ClearLoginStateCookie returns an expired copy of the login state
// cookie, set once the callback has consumed the flow.
func (m *Manager) ClearLoginStateCookie() *http.Cookie {
	c := m.LoginStateCookie("")
	c.Value = ""
	c.MaxAge = -1
	return c
}

func (m *Manager) stateCookieName() string {
	return m.config.CookieName + "_state"
}

// ---------------------------------------------------------------------------
// Cookie signing
// ---------------------------------------------------------------------------

// signValue returns sid plus its HMAC-SHA256 tag, dot-separated.
func (m *Manager) signValue(sid string) string {
	return sid + "." + m.tag(sid)
}

// tag computes the base64url HMAC-SHA256 tag for sid.
func (m *Manager) tag(sid string) string {
	mac := hmac.New(sha256.New, []byte(m.config.SigningKey.Value()))
	mac.Write([]byte(sid))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// sidFromRequest extracts and authenticates the session ID from the
// request's cookie. Returns false for a missing cookie, a malformed
// value, or a tag mismatch.
func (m *Manager) sidFromRequest(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(m.config.CookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	sid, tag, found := strings.Cut(cookie.Value, ".")
	if !found || sid == "" {
		return "", false
	}
	if !hmac.Equal([]byte(tag), []byte(m.tag(sid))) {
		return "", false
	}
	return sid, true
}

// cookie builds the session cookie with the manager's attributes.
// Live cookies carry no Max-Age: the browser keeps them for the
// browsing session, and the record's sliding TTL bounds the lifetime
// server-side. Clearing cookies expire immediately.
func (m *Manager) cookie(value string, clear bool) *http.Cookie {
	c := &http.Cookie{
		Name:     m.config.CookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.config.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if clear {
		c.MaxAge = -1
	}
	return c
}
