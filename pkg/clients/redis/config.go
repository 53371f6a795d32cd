// Package redis provides the Redis client used by the authgate gateway as
// its shared key-value store. Throttle counters, session records, and
// one-time login nonces all live here, which makes the store the single
// point of external consistency across concurrently running gateway
// instances.
//
// # Connection Management
//
// The client wraps go-redis (github.com/redis/go-redis/v9) and adds
// cross-cutting concerns (tracing, error classification) transparently to
// all Redis operations. Connection pooling, reconnection, and retry are
// handled internally by go-redis.
//
// # Configuration
//
// Create a client using [NewClient] with a [Config]:
//
//	cfg := redis.DefaultConfig()
//	cfg.Password = redis.Secret(os.Getenv("REDIS_PASSWORD"))
//	client, err := redis.NewClient(ctx, *cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
// For testing, use [NewFromClient] to inject a mock:
//
//	mock := &mockCmdable{}
//	client := redis.NewFromClient(mock, &redis.Config{DB: 0})
//
// # OpenTelemetry Tracing
//
// All Redis operations automatically create OpenTelemetry spans with
// standard database semantic attributes (db.system,
// db.redis.database_index, db.statement). Statements are truncated to 100
// characters in spans so session IDs and nonce values do not leak into
// telemetry systems.
package redis

import (
	"fmt"
	"net/url"
	"time"
)

// maxStatementTruncateLen is the maximum length for Redis command statements
// recorded in OpenTelemetry trace spans. Statements longer than this are
// truncated to keep session identifiers and nonce values out of telemetry.
const maxStatementTruncateLen = 100

// Default connection pool and timeout settings. These values suit a
// deployment where Redis runs alongside the gateway instances and every
// login request touches at most a handful of keys.
const (
	// DefaultHost is the default Redis host name. The original deployment
	// resolves "redis" through container DNS.
	DefaultHost = "redis"

	// DefaultPort is the standard Redis port.
	DefaultPort = 6379

	// DefaultDB is the default Redis database index. Redis supports
	// databases numbered 0-15 by default.
	DefaultDB = 0

	// DefaultPoolSize is the maximum number of connections in the pool.
	DefaultPoolSize = 25

	// DefaultMinIdleConns is the minimum number of idle connections
	// maintained in the pool. Keeping idle connections avoids the latency
	// of establishing new connections for burst login traffic.
	DefaultMinIdleConns = 5

	// DefaultMaxRetries is the maximum number of retries before giving
	// up on a command. Set to 3 to handle transient network failures.
	DefaultMaxRetries = 3

	// DefaultDialTimeout is the maximum time to wait when establishing
	// a new connection to Redis.
	DefaultDialTimeout = 10 * time.Second

	// DefaultReadTimeout is the maximum time to wait for a read response
	// from Redis.
	DefaultReadTimeout = 5 * time.Second

	// DefaultWriteTimeout is the maximum time to wait for a write to
	// complete on the Redis connection.
	DefaultWriteTimeout = 5 * time.Second

	// DefaultHealthTimeout is the maximum time for a health check ping
	// when the caller's context has no deadline.
	DefaultHealthTimeout = 5 * time.Second
)

// Secret is a string type that prevents accidental logging of sensitive
// values such as Redis passwords. Its [Secret.String] and [Secret.GoString]
// methods return a redacted placeholder. Use [Secret.Value] to retrieve the
// actual secret value.
type Secret string

// redacted is the placeholder string returned by Secret's string methods.
const redacted = "[REDACTED]"

// String returns "[REDACTED]" to prevent accidental logging of the secret.
func (s Secret) String() string {
	return redacted
}

// GoString returns "[REDACTED]" to prevent accidental logging via %#v.
func (s Secret) GoString() string {
	return redacted
}

// Value returns the actual secret string. Call this only where the raw
// value is required (e.g., building connection options).
func (s Secret) Value() string {
	return string(s)
}

// MarshalText implements encoding.TextMarshaler, returning the redacted
// placeholder so the secret never leaks into serialized configuration.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// Config holds the connection settings for the Redis client. Either URI
// or Host/Port may be used; when URI is set it takes precedence and the
// pool settings from this struct are applied on top of the parsed options.
type Config struct {
	// URI is an optional redis:// connection string. When set, Host,
	// Port, Password, and DB are ignored in favor of the parsed URI.
	URI string `json:"uri,omitempty" env:"URI"`

	// Host is the Redis server host name or IP address.
	Host string `json:"host" env:"HOST" envDefault:"redis"`

	// Port is the Redis server port.
	Port int `json:"port" env:"PORT" envDefault:"6379"`

	// Password is the Redis AUTH password. Empty means no authentication.
	Password Secret `json:"-" env:"PASSWORD"`

	// DB is the Redis database index (0-15).
	DB int `json:"db" env:"DB" envDefault:"0"`

	// PoolSize is the maximum number of connections in the pool.
	PoolSize int `json:"pool_size" env:"POOL_SIZE" envDefault:"25"`

	// MinIdleConns is the minimum number of idle connections kept open.
	MinIdleConns int `json:"min_idle_conns" env:"MIN_IDLE_CONNS" envDefault:"5"`

	// MaxRetries is the maximum number of command retries.
	MaxRetries int `json:"max_retries" env:"MAX_RETRIES" envDefault:"3"`

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration `json:"dial_timeout" env:"DIAL_TIMEOUT" envDefault:"10s"`

	// ReadTimeout bounds each read from the connection.
	ReadTimeout time.Duration `json:"read_timeout" env:"READ_TIMEOUT" envDefault:"5s"`

	// WriteTimeout bounds each write to the connection.
	WriteTimeout time.Duration `json:"write_timeout" env:"WRITE_TIMEOUT" envDefault:"5s"`

	// TLSEnabled enables TLS for the connection (host/port mode only;
	// use rediss:// in URI mode).
	TLSEnabled bool `json:"tls_enabled" env:"TLS_ENABLED" envDefault:"false"`
}

// DefaultConfig returns a Config populated with the package defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		DB:           DefaultDB,
		PoolSize:     DefaultPoolSize,
		MinIdleConns: DefaultMinIdleConns,
		MaxRetries:   DefaultMaxRetries,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Validate checks the configuration for logical correctness.
//
// Validation rules:
//   - URI, when set, must parse as a URL with scheme redis or rediss
//   - Host must not be empty when URI is unset
//   - Port must be in [1, 65535] when URI is unset
//   - DB must be non-negative
//   - PoolSize must be positive; MinIdleConns must be non-negative and
//     must not exceed PoolSize
//   - Timeouts must be non-negative
func (c *Config) Validate() error {
	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return fmt.Errorf("redis: invalid URI: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("redis: URI scheme must be redis or rediss, got %q", u.Scheme)
		}
	} else {
		if c.Host == "" {
			return fmt.Errorf("redis: host must not be empty")
		}
		if c.Port < 1 || c.Port > 65535 {
			return fmt.Errorf("redis: port %d is out of range [1, 65535]", c.Port)
		}
	}

	if c.DB < 0 {
		return fmt.Errorf("redis: database index %d must be non-negative", c.DB)
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("redis: pool size must be positive")
	}
	if c.MinIdleConns < 0 {
		return fmt.Errorf("redis: min idle connections must be non-negative")
	}
	if c.MinIdleConns > c.PoolSize {
		return fmt.Errorf("redis: min idle connections (%d) must not exceed pool size (%d)",
			c.MinIdleConns, c.PoolSize)
	}
	if c.DialTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("redis: timeouts must be non-negative")
	}

	return nil
}

// truncateStatement shortens a Redis statement for span recording.
func truncateStatement(statement string) string {
	if len(statement) <= maxStatementTruncateLen {
		return statement
	}
	return statement[:maxStatementTruncateLen] + "..."
}
