package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsError(t *testing.T) {
	t.Parallel()

	t.Run("direct gateway error", func(t *testing.T) {
		t.Parallel()
		original := New(CodeAuthentication, "invalid credentials")
		e, ok := AsError(original)
		require.True(t, ok)
		assert.Equal(t, original, e)
	})

	t.Run("wrapped in standard error chain", func(t *testing.T) {
		t.Parallel()
		inner := New(CodeTokenSignature, "signature did not verify")
		wrapped := fmt.Errorf("callback rejected: %w", inner)
		e, ok := AsError(wrapped)
		require.True(t, ok)
		assert.Equal(t, CodeTokenSignature, e.Code)
	})

	t.Run("plain error", func(t *testing.T) {
		t.Parallel()
		e, ok := AsError(errors.New("plain"))
		assert.False(t, ok)
		assert.Nil(t, e)
	})

	t.Run("nil error", func(t *testing.T) {
		t.Parallel()
		_, ok := AsError(nil)
		assert.False(t, ok)
	})
}

func TestGetCode(t *testing.T) {
	t.Parallel()
	assert.Equal(t, CodeRateLimited, GetCode(RateLimited("blocked")))
	assert.Equal(t, Code(""), GetCode(errors.New("plain")))
	assert.Equal(t, Code(""), GetCode(nil))
}

func TestHasCode(t *testing.T) {
	t.Parallel()
	err := New(CodeTokenNonce, "nonce mismatch")
	assert.True(t, HasCode(err, CodeTokenNonce))
	assert.False(t, HasCode(err, CodeTokenClaim))
	assert.False(t, HasCode(nil, CodeTokenNonce))
}

func TestCategoryChecks(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		check func(error) bool
		err   error
		want  bool
	}{
		{"validation error", IsValidation, Validation("bad input"), true},
		{"authentication error", IsAuthentication, Unauthorized("invalid credentials"), true},
		{"session-absent error", IsAuthentication, New(CodeAuthenticationSession, "no session"), true},
		{"authorization error", IsAuthorization, Forbidden("denied"), true},
		{"token error", IsToken, New(CodeTokenKeyNotFound, "unknown kid"), true},
		{"rate error", IsRateLimited, RateLimited("blocked"), true},
		{"not found error", IsNotFound, NotFoundf("user %q not found", "bob"), true},
		{"internal error", IsInternal, Internal("boom"), true},
		{"unavailable error", IsUnavailable, New(CodeUnavailableStore, "store down"), true},
		{"timeout error", IsTimeout, New(CodeTimeoutProvider, "provider slow"), true},
		{"wrong category", IsRateLimited, Unauthorized("nope"), false},
		{"plain error", IsToken, errors.New("plain"), false},
		{"nil error", IsAuthentication, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.check(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()
	assert.True(t, IsRetryable(New(CodeTimeoutStore, "slow")))
	assert.True(t, IsRetryable(New(CodeUnavailableStore, "down")))
	assert.False(t, IsRetryable(New(CodeAuthentication, "bad password")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestIsClientServerError(t *testing.T) {
	t.Parallel()
	assert.True(t, IsClientError(New(CodeTokenMalformed, "garbage token")))
	assert.True(t, IsClientError(RateLimited("blocked")))
	assert.False(t, IsClientError(Internal("boom")))

	assert.True(t, IsServerError(New(CodeUnavailableStore, "down")))
	assert.False(t, IsServerError(Unauthorized("no")))
}

func TestFromError(t *testing.T) {
	t.Parallel()

	t.Run("nil", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, FromError(nil))
	})

	t.Run("already a gateway error", func(t *testing.T) {
		t.Parallel()
		original := New(CodeTokenClaim, "expired")
		assert.Equal(t, original, FromError(original))
	})

	t.Run("plain error becomes internal", func(t *testing.T) {
		t.Parallel()
		e := FromError(errors.New("surprise"))
		require.NotNil(t, e)
		assert.Equal(t, CodeInternal, e.Code)
	})
}

func TestWrapNilReturnsNil(t *testing.T) {
	t.Parallel()
	assert.Nil(t, Wrap(nil, CodeInternal, "ignored"))
	assert.Nil(t, Wrapf(nil, CodeInternal, "ignored %d", 1))
}
