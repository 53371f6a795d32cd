package redis

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecret_Redaction(t *testing.T) {
	t.Parallel()
	s := Secret("hunter2")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", s.GoString())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%+v", s))
	assert.Equal(t, "hunter2", s.Value())

	text, err := s.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "[REDACTED]", string(text))
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultDB, cfg.DB)
	assert.Equal(t, DefaultPoolSize, cfg.PoolSize)
	assert.Equal(t, DefaultMinIdleConns, cfg.MinIdleConns)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, DefaultDialTimeout, cfg.DialTimeout)
	assert.Equal(t, DefaultReadTimeout, cfg.ReadTimeout)
	assert.Equal(t, DefaultWriteTimeout, cfg.WriteTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			modify: func(c *Config) {},
		},
		{
			name: "valid redis URI",
			modify: func(c *Config) {
				c.URI = "redis://localhost:6379/2"
			},
		},
		{
			name: "valid rediss URI",
			modify: func(c *Config) {
				c.URI = "rediss://cache.internal:6380"
			},
		},
		{
			name: "URI with bad scheme",
			modify: func(c *Config) {
				c.URI = "http://localhost:6379"
			},
			wantErr: "scheme must be redis or rediss",
		},
		{
			name: "empty host",
			modify: func(c *Config) {
				c.Host = ""
			},
			wantErr: "host must not be empty",
		},
		{
			name: "port zero",
			modify: func(c *Config) {
				c.Port = 0
			},
			wantErr: "out of range",
		},
		{
			name: "port too large",
			modify: func(c *Config) {
				c.Port = 70000
			},
			wantErr: "out of range",
		},
		{
			name: "negative database index",
			modify: func(c *Config) {
				c.DB = -1
			},
			wantErr: "must be non-negative",
		},
		{
			name: "zero pool size",
			modify: func(c *Config) {
				c.PoolSize = 0
			},
			wantErr: "pool size must be positive",
		},
		{
			name: "negative min idle",
			modify: func(c *Config) {
				c.MinIdleConns = -1
			},
			wantErr: "min idle connections must be non-negative",
		},
		{
			name: "min idle exceeds pool size",
			modify: func(c *Config) {
				c.PoolSize = 5
				c.MinIdleConns = 10
			},
			wantErr: "must not exceed pool size",
		},
		{
			name: "negative read timeout",
			modify: func(c *Config) {
				c.ReadTimeout = -1
			},
			wantErr: "timeouts must be non-negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTruncateStatement(t *testing.T) {
	t.Parallel()

	short := "GET login_attempts:203.0.113.7"
	assert.Equal(t, short, truncateStatement(short))

	long := "HSET session:" + strings.Repeat("a", 200)
	got := truncateStatement(long)
	assert.Len(t, got, maxStatementTruncateLen+3)
	assert.True(t, strings.HasSuffix(got, "..."))
}
