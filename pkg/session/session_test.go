package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/humanflow/authgate/internal/testutil/memredis"
	"github.com/humanflow/authgate/pkg/auth"
	redisclient "github.com/humanflow/authgate/pkg/clients/redis"
	agerr "github.com/humanflow/authgate/pkg/errors"
)

const testSigningKey = Secret("0123456789abcdef0123456789abcdef")

var testRecord = Record{
	Subject: "alice@example.com",
	Name:    "Alice Example",
	Email:   "alice@example.com",
	Picture: "https://img.example.com/alice.png",
	Group:   auth.GroupAdmin,
}

func newTestManager(t *testing.T) (*Manager, *memredis.Store) {
	t.Helper()
	store := memredis.New()
	cfg := DefaultConfig()
	cfg.SigningKey = testSigningKey
	cfg.Secure = false

	m, err := New(cfg, redisclient.NewFromClient(store, nil))
	require.NoError(t, err)
	return m, store
}

// requestWithCookie builds a GET request carrying the given session
// cookie value.
func requestWithCookie(name, value string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if value != "" {
		r.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	return r
}

func TestSecret_Redaction(t *testing.T) {
	t.Parallel()
	s := Secret("superkey")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "superkey", s.Value())
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SigningKey = testSigningKey
	assert.NoError(t, cfg.Validate())

	short := cfg
	short.SigningKey = "too short"
	assert.Error(t, short.Validate())

	noName := cfg
	noName.CookieName = ""
	assert.Error(t, noName.Validate())

	badTTL := cfg
	badTTL.TTL = 0
	assert.Error(t, badTTL.Validate())

	badNonce := cfg
	badNonce.NonceTTL = -time.Second
	assert.Error(t, badNonce.Validate())
}

func TestManager_CreateAndRead(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	ctx := context.Background()

	cookie, err := m.Create(ctx, testRecord)
	require.NoError(t, err)

	assert.Equal(t, DefaultCookieName, cookie.Name)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Contains(t, cookie.Value, ".", "cookie value is sid.tag")

	rec, err := m.Read(ctx, requestWithCookie(cookie.Name, cookie.Value))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, testRecord, *rec)
}

func TestManager_Create_EmptySubject(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)

	_, err := m.Create(context.Background(), Record{Group: auth.GroupUser})
	require.Error(t, err)
	assert.Equal(t, agerr.CodeValidation, agerr.GetCode(err))
}

func TestManager_Read_NoSession(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	ctx := context.Background()

	cookie, err := m.Create(ctx, testRecord)
	require.NoError(t, err)
	sid, tag, _ := strings.Cut(cookie.Value, ".")

	tests := []struct {
		name  string
		value string
	}{
		{name: "no cookie", value: ""},
		{name: "empty value", value: " "},
		{name: "missing tag", value: sid},
		{name: "tampered sid", value: "other-sid." + tag},
		{name: "tampered tag", value: sid + ".AAAA" + tag[4:]},
		{name: "unknown but well-formed sid", value: "x.y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec, err := m.Read(ctx, requestWithCookie(DefaultCookieName, tt.value))
			assert.NoError(t, err, "absent session is not an error")
			assert.Nil(t, rec)
		})
	}
}

func TestManager_Read_ExpiredSession(t *testing.T) {
	t.Parallel()
	m, store := newTestManager(t)
	ctx := context.Background()

	cookie, err := m.Create(ctx, testRecord)
	require.NoError(t, err)

	store.Advance(DefaultTTL + time.Minute)

	rec, err := m.Read(ctx, requestWithCookie(cookie.Name, cookie.Value))
	assert.NoError(t, err)
	assert.Nil(t, rec, "expired session reads as absent")
}

func TestManager_Read_SlidingExpiry(t *testing.T) {
	t.Parallel()
	m, store := newTestManager(t)
	ctx := context.Background()

	cookie, err := m.Create(ctx, testRecord)
	require.NoError(t, err)
	req := requestWithCookie(cookie.Name, cookie.Value)

	// Touch the session just before it would lapse, repeatedly.
	for i := 0; i < 3; i++ {
		store.Advance(DefaultTTL - time.Minute)
		rec, err := m.Read(ctx, req)
		require.NoError(t, err)
		require.NotNil(t, rec, "activity must keep the session alive (round %d)", i)
	}
}

func TestManager_Read_TamperedGroupFailsClosed(t *testing.T) {
	t.Parallel()
	m, store := newTestManager(t)
	ctx := context.Background()

	cookie, err := m.Create(ctx, testRecord)
	require.NoError(t, err)
	sid, _, _ := strings.Cut(cookie.Value, ".")

	// Corrupt the stored group out from under the manager.
	client := redisclient.NewFromClient(store, nil)
	_, err = client.HSet(ctx, "session:"+sid, "group", "SuperAdmin")
	require.NoError(t, err)

	rec, err := m.Read(ctx, requestWithCookie(cookie.Name, cookie.Value))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, auth.GroupUnauthorized, rec.Group)
}

func TestManager_Read_StoreFailure(t *testing.T) {
	t.Parallel()
	m, store := newTestManager(t)
	ctx := context.Background()

	cookie, err := m.Create(ctx, testRecord)
	require.NoError(t, err)

	store.FailOp("HGetAll", errors.New("connection reset"))

	_, err = m.Read(ctx, requestWithCookie(cookie.Name, cookie.Value))
	require.Error(t, err, "store failure must be distinguishable from logged-out")
	assert.Equal(t, agerr.CodeUnavailableStore, agerr.GetCode(err))
}

func TestManager_Destroy(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	ctx := context.Background()

	cookie, err := m.Create(ctx, testRecord)
	require.NoError(t, err)
	req := requestWithCookie(cookie.Name, cookie.Value)

	cleared, err := m.Destroy(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, -1, cleared.MaxAge, "clearing cookie must expire immediately")
	assert.Empty(t, cleared.Value)

	rec, err := m.Read(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, rec, "destroyed session reads as absent")

	// Destroy is idempotent.
	_, err = m.Destroy(ctx, req)
	assert.NoError(t, err)

	// Destroy without any cookie still returns the clearing cookie.
	cleared, err = m.Destroy(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, -1, cleared.MaxAge)
}

func TestManager_DistinctSessionIDs(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	ctx := context.Background()

	c1, err := m.Create(ctx, testRecord)
	require.NoError(t, err)
	c2, err := m.Create(ctx, testRecord)
	require.NoError(t, err)

	assert.NotEqual(t, c1.Value, c2.Value,
		"two logins for the same principal get independent sessions")
}

func TestManager_Nonce(t *testing.T) {
	t.Parallel()
	m, store := newTestManager(t)
	ctx := context.Background()

	t.Run("stash and take", func(t *testing.T) {
		require.NoError(t, m.StashNonce(ctx, "state-1", "nonce-1"))
		nonce, err := m.TakeNonce(ctx, "state-1")
		require.NoError(t, err)
		assert.Equal(t, "nonce-1", nonce)
	})

	t.Run("second take fails", func(t *testing.T) {
		require.NoError(t, m.StashNonce(ctx, "state-2", "nonce-2"))
		_, err := m.TakeNonce(ctx, "state-2")
		require.NoError(t, err)

		_, err = m.TakeNonce(ctx, "state-2")
		require.Error(t, err)
		assert.Equal(t, agerr.CodeTokenNonce, agerr.GetCode(err))
	})

	t.Run("unknown state fails", func(t *testing.T) {
		_, err := m.TakeNonce(ctx, "never-stashed")
		require.Error(t, err)
		assert.Equal(t, agerr.CodeTokenNonce, agerr.GetCode(err))
	})

	t.Run("expired nonce fails", func(t *testing.T) {
		require.NoError(t, m.StashNonce(ctx, "state-3", "nonce-3"))
		store.Advance(DefaultNonceTTL + time.Minute)

		_, err := m.TakeNonce(ctx, "state-3")
		require.Error(t, err)
		assert.Equal(t, agerr.CodeTokenNonce, agerr.GetCode(err))
	})

	t.Run("empty state rejected", func(t *testing.T) {
		err := m.StashNonce(ctx, "", "nonce")
		require.Error(t, err)
		assert.Equal(t, agerr.CodeValidation, agerr.GetCode(err))
	})
}

func TestManager_LoginStateCookie(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)

	c := m.LoginStateCookie("state-1")
	assert.Equal(t, DefaultCookieName+"_state", c.Name)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, int(DefaultNonceTTL.Seconds()), c.MaxAge)
	assert.NotContains(t, c.Value, "state-1", "cookie must not carry the raw state")

	cleared := m.ClearLoginStateCookie()
	assert.Equal(t, c.Name, cleared.Name)
	assert.Equal(t, -1, cleared.MaxAge)
	assert.Empty(t, cleared.Value)
}

func TestManager_VerifyLoginState(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	c := m.LoginStateCookie("state-1")

	t.Run("matching cookie", func(t *testing.T) {
		r := requestWithCookie(c.Name, c.Value)
		assert.True(t, m.VerifyLoginState(r, "state-1"))
	})

	t.Run("different state", func(t *testing.T) {
		r := requestWithCookie(c.Name, c.Value)
		assert.False(t, m.VerifyLoginState(r, "state-2"))
	})

	t.Run("missing cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		assert.False(t, m.VerifyLoginState(r, "state-1"))
	})

	t.Run("tampered cookie", func(t *testing.T) {
		r := requestWithCookie(c.Name, c.Value+"x")
		assert.False(t, m.VerifyLoginState(r, "state-1"))
	})

	t.Run("different signing key", func(t *testing.T) {
		other, _ := newTestManager(t)
		otherCfg := other.config
		otherCfg.SigningKey = Secret(strings.Repeat("x", 32))
		forged, err := New(otherCfg, redisclient.NewFromClient(memredis.New(), nil))
		require.NoError(t, err)

		r := requestWithCookie(c.Name, forged.LoginStateCookie("state-1").Value)
		assert.False(t, m.VerifyLoginState(r, "state-1"))
	})
}

func TestManager_CookieSecureFlag(t *testing.T) {
	t.Parallel()
	store := memredis.New()
	cfg := DefaultConfig()
	cfg.SigningKey = testSigningKey

	m, err := New(cfg, redisclient.NewFromClient(store, nil))
	require.NoError(t, err)

	cookie, err := m.Create(context.Background(), testRecord)
	require.NoError(t, err)
	assert.True(t, cookie.Secure)
}
