// Package throttle rate-limits failed login attempts per client
// address. Counters live in the shared Redis store, so the limit holds
// across every gateway process pointed at the same store.
//
// The bookkeeping is deliberately simple: each failed login increments
// a per-address counter that expires after the configured window, a
// successful login deletes the counter, and an address at or over the
// threshold is rejected before its credentials are even examined.
package throttle

import (
	"context"
	"log/slog"
	"net/netip"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	redisclient "github.com/humanflow/authgate/pkg/clients/redis"
	agerr "github.com/humanflow/authgate/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for
// throttle spans.
const tracerName = "github.com/humanflow/authgate/pkg/throttle"

// keyPrefix namespaces throttle counters in the shared store.
const keyPrefix = "login_attempts:"

// Default throttle parameters.
const (
	// DefaultThreshold is the number of failed attempts after which an
	// address is locked out.
	DefaultThreshold = 10

	// DefaultWindow is how long a failure counter lives without
	// further failures.
	DefaultWindow = time.Hour
)

// Config holds the throttle parameters.
type Config struct {
	// Threshold is the failure count at which an address is locked
	// out. Attempts are rejected once the counter reaches this value.
	Threshold int64 `json:"threshold" env:"THROTTLE_THRESHOLD" envDefault:"10"`

	// Window is the lifetime of a failure counter. The clock restarts
	// only when the counter expires or a login succeeds, not on each
	// failure.
	Window time.Duration `json:"window" env:"THROTTLE_WINDOW" envDefault:"1h"`

	// ExemptPrefixes lists CIDR prefixes whose addresses bypass the
	// throttle entirely, typically health checkers and internal load
	// balancers.
	ExemptPrefixes []string `json:"exempt_prefixes,omitempty" env:"THROTTLE_EXEMPT_PREFIXES"`
}

// DefaultConfig returns a Config with the standard threshold and window
// and no exemptions.
func DefaultConfig() Config {
	return Config{
		Threshold: DefaultThreshold,
		Window:    DefaultWindow,
	}
}

// Validate checks the configuration for logical correctness.
func (c *Config) Validate() error {
	if c.Threshold <= 0 {
		return agerr.New(agerr.CodeValidation, "throttle: threshold must be positive")
	}
	if c.Window <= 0 {
		return agerr.New(agerr.CodeValidation, "throttle: window must be positive")
	}
	for _, p := range c.ExemptPrefixes {
		if _, err := netip.ParsePrefix(p); err != nil {
			return agerr.Wrap(err, agerr.CodeValidation,
				"throttle: invalid exempt prefix "+strconv.Quote(p))
		}
	}
	return nil
}

// Throttle tracks failed login attempts per client address against the
// shared store. It is safe for concurrent use by multiple goroutines.
type Throttle struct {
	config Config
	store  *redisclient.Client
	log    *slog.Logger
	tracer trace.Tracer
	exempt []netip.Prefix
}

// New creates a Throttle backed by the given store. The logger may be
// nil, in which case [slog.Default] is used.
func New(cfg Config, store *redisclient.Client, log *slog.Logger) (*Throttle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, agerr.New(agerr.CodeValidation, "throttle: store must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	exempt := make([]netip.Prefix, 0, len(cfg.ExemptPrefixes))
	for _, p := range cfg.ExemptPrefixes {
		prefix, err := netip.ParsePrefix(p)
		if err != nil {
			return nil, agerr.Wrap(err, agerr.CodeValidation,
				"throttle: invalid exempt prefix "+strconv.Quote(p))
		}
		exempt = append(exempt, prefix)
	}

	return &Throttle{
		config: cfg,
		store:  store,
		log:    log,
		tracer: otel.Tracer(tracerName),
		exempt: exempt,
	}, nil
}

// Check rejects the address when its failure counter has reached the
// threshold. A nil return means the login attempt may proceed.
//
// Error codes returned:
//   - [agerr.CodeRateLimited]: the address is locked out
//   - [agerr.CodeUnavailableStore]: the counter could not be read; the
//     gateway fails closed rather than admitting attempts it cannot
//     count
func (t *Throttle) Check(ctx context.Context, addr string) error {
	ctx, span := t.tracer.Start(ctx, "throttle.Check")
	defer span.End()
	span.SetAttributes(attribute.String("throttle.addr", addr))

	if t.Exempt(addr) {
		span.SetAttributes(attribute.Bool("throttle.exempt", true))
		return nil
	}

	val, err := t.store.Get(ctx, keyPrefix+addr)
	if err != nil {
		if redisclient.IsNil(err) {
			return nil // No failures recorded for this address.
		}
		t.log.Error("throttle: counter read failed", "addr", addr, "error", err)
		return agerr.Wrap(err, agerr.CodeUnavailableStore,
			"throttle: failed to read attempt counter")
	}

	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		// A corrupted counter counts against the address, not for it.
		t.log.Warn("throttle: corrupted counter value", "addr", addr, "value", val)
		count = t.config.Threshold
	}

	span.SetAttributes(attribute.Int64("throttle.count", count))
	if count >= t.config.Threshold {
		return agerr.New(agerr.CodeRateLimited,
			"throttle: too many failed login attempts")
	}
	return nil
}

// RecordFailure increments the address's failure counter and returns
// the new count. The expiry window is attached when the counter is
// created, so the lockout clock runs from the first failure in a burst.
//
// Exempt addresses are not counted.
func (t *Throttle) RecordFailure(ctx context.Context, addr string) (int64, error) {
	ctx, span := t.tracer.Start(ctx, "throttle.RecordFailure")
	defer span.End()
	span.SetAttributes(attribute.String("throttle.addr", addr))

	if t.Exempt(addr) {
		return 0, nil
	}

	count, err := t.store.Incr(ctx, keyPrefix+addr)
	if err != nil {
		return 0, agerr.Wrap(err, agerr.CodeUnavailableStore,
			"throttle: failed to record login failure")
	}

	if count == 1 {
		if _, err := t.store.Expire(ctx, keyPrefix+addr, t.config.Window); err != nil {
			// The counter exists but would never expire; log loudly
			// and keep counting. A successful login still clears it.
			t.log.Error("throttle: failed to set counter expiry",
				"addr", addr, "error", err)
		}
	}

	span.SetAttributes(attribute.Int64("throttle.count", count))
	return count, nil
}

// RecordSuccess clears the address's failure counter after a
// successful login.
func (t *Throttle) RecordSuccess(ctx context.Context, addr string) error {
	ctx, span := t.tracer.Start(ctx, "throttle.RecordSuccess")
	defer span.End()
	span.SetAttributes(attribute.String("throttle.addr", addr))

	if _, err := t.store.Del(ctx, keyPrefix+addr); err != nil {
		return agerr.Wrap(err, agerr.CodeUnavailableStore,
			"throttle: failed to clear attempt counter")
	}
	return nil
}

// Remaining reports how many failed attempts the address has left
// before lockout, along with the counter's remaining lifetime. Used by
// operators debugging lockouts; never exposed to clients.
func (t *Throttle) Remaining(ctx context.Context, addr string) (int64, time.Duration, error) {
	val, err := t.store.Get(ctx, keyPrefix+addr)
	if err != nil {
		if redisclient.IsNil(err) {
			return t.config.Threshold, 0, nil
		}
		return 0, 0, agerr.Wrap(err, agerr.CodeUnavailableStore,
			"throttle: failed to read attempt counter")
	}

	count, parseErr := strconv.ParseInt(val, 10, 64)
	if parseErr != nil {
		count = t.config.Threshold
	}

	ttl, err := t.store.TTL(ctx, keyPrefix+addr)
	if err != nil {
		return 0, 0, agerr.Wrap(err, agerr.CodeUnavailableStore,
			"throttle: failed to read counter expiry")
	}

	remaining := t.config.Threshold - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, ttl, nil
}

// Exempt reports whether the address falls inside a configured exempt
// prefix. Unparseable addresses are never exempt.
func (t *Throttle) Exempt(addr string) bool {
	if len(t.exempt) == 0 {
		return false
	}
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	for _, prefix := range t.exempt {
		if prefix.Contains(ip) {
			return true
		}
	}
	return false
}
