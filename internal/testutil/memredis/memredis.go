// Package memredis provides an in-memory implementation of the redis
// client's Cmdable interface for unit tests. It supports the commands
// the gateway uses (strings, counters, hashes, expiry) with a fake
// clock, so throttle-window and session-TTL behavior can be tested
// without a Redis instance or real waiting.
//
// The zero value is not usable; create instances with [New].
package memredis

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	redisclient "github.com/humanflow/authgate/pkg/clients/redis"
)

// Compile-time assertion that Store satisfies the client's Cmdable.
var _ redisclient.Cmdable = (*Store)(nil)

// entry is one stored key: either a string value or a hash.
type entry struct {
	value     string
	hash      map[string]string
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store is an in-memory Cmdable. It is safe for concurrent use.
//
// Tests can inject failures per command name with [Store.FailOp] and
// move time forward with [Store.Advance] to expire keys.
type Store struct {
	mu       sync.Mutex
	entries  map[string]*entry
	offset   time.Duration
	failures map[string]error
	closed   bool
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		entries:  make(map[string]*entry),
		failures: make(map[string]error),
	}
}

// FailOp makes every subsequent call to the named command (e.g. "Get",
// "Incr") return err. Pass nil to clear the failure.
func (s *Store) FailOp(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Advance moves the store's clock forward, expiring any keys whose TTL
// elapses.
func (s *Store) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset += d
}

// Len returns the number of live keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if !e.expired(s.now()) {
			n++
		}
	}
	return n
}

// now returns the fake-clock time. Caller must hold mu.
func (s *Store) now() time.Time {
	return time.Now().Add(s.offset)
}

// get returns the live entry for key, dropping it if expired. Caller
// must hold mu.
func (s *Store) get(key string) (*entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(s.now()) {
		delete(s.entries, key)
		return nil, false
	}
	return e, true
}

// ---------------------------------------------------------------------------
// Cmdable implementation
// ---------------------------------------------------------------------------

func (s *Store) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["Set"]; err != nil {
		cmd.SetErr(err)
		return cmd
	}
	e := &entry{value: asString(value)}
	if expiration > 0 {
		e.expiresAt = s.now().Add(expiration)
	}
	s.entries[key] = e
	cmd.SetVal("OK")
	return cmd
}

func (s *Store) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["Get"]; err != nil {
		cmd.SetErr(err)
		return cmd
	}
	e, ok := s.get(key)
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(e.value)
	return cmd
}

func (s *Store) GetDel(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["GetDel"]; err != nil {
		cmd.SetErr(err)
		return cmd
	}
	e, ok := s.get(key)
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	delete(s.entries, key)
	cmd.SetVal(e.value)
	return cmd
}

func (s *Store) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["Del"]; err != nil {
		cmd.SetErr(err)
		return cmd
	}
	var n int64
	for _, key := range keys {
		if _, ok := s.get(key); ok {
			delete(s.entries, key)
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func (s *Store) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["Exists"]; err != nil {
		cmd.SetErr(err)
		return cmd
	}
	var n int64
	for _, key := range keys {
		if _, ok := s.get(key); ok {
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func (s *Store) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["Expire"]; err != nil {
		cmd.SetErr(err)
		return cmd
	}
	e, ok := s.get(key)
	if !ok {
		cmd.SetVal(false)
		return cmd
	}
	e.expiresAt = s.now().Add(expiration)
	cmd.SetVal(true)
	return cmd
}

func (s *Store) TTL(ctx context.Context, key string) *redis.DurationCmd {
	cmd := redis.NewDurationCmd(ctx, time.Second)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["TTL"]; err != nil {
		cmd.SetErr(err)
		return cmd
	}
	e, ok := s.get(key)
	if !ok {
		cmd.SetVal(-2 * time.Second)
		return cmd
	}
	if e.expiresAt.IsZero() {
		cmd.SetVal(-1 * time.Second)
		return cmd
	}
	cmd.SetVal(e.expiresAt.Sub(s.now()))
	return cmd
}

func (s *Store) Incr(ctx context.Context, key string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["Incr"]; err != nil {
		cmd.SetErr(err)
		return cmd
	}
	e, ok := s.get(key)
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil && e.value != "" {
		cmd.SetErr(err)
		return cmd
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	cmd.SetVal(n)
	return cmd
}

func (s *Store) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["HSet"]; err != nil {
		cmd.SetErr(err)
		return cmd
	}
	e, ok := s.get(key)
	if !ok {
		e = &entry{hash: make(map[string]string)}
		s.entries[key] = e
	}
	if e.hash == nil {
		e.hash = make(map[string]string)
	}
	var added int64
	for i := 0; i+1 < len(values); i += 2 {
		field := asString(values[i])
		if _, exists := e.hash[field]; !exists {
			added++
		}
		e.hash[field] = asString(values[i+1])
	}
	cmd.SetVal(added)
	return cmd
}

func (s *Store) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	cmd := redis.NewMapStringStringCmd(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["HGetAll"]; err != nil {
		cmd.SetErr(err)
		return cmd
	}
	e, ok := s.get(key)
	if !ok || e.hash == nil {
		cmd.SetVal(map[string]string{})
		return cmd
	}
	out := make(map[string]string, len(e.hash))
	for k, v := range e.hash {
		out[k] = v
	}
	cmd.SetVal(out)
	return cmd
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["HDel"]; err != nil {
		cmd.SetErr(err)
		return cmd
	}
	e, ok := s.get(key)
	if !ok || e.hash == nil {
		cmd.SetVal(0)
		return cmd
	}
	var n int64
	for _, f := range fields {
		if _, exists := e.hash[f]; exists {
			delete(e.hash, f)
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func (s *Store) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["Ping"]; err != nil {
		cmd.SetErr(err)
		return cmd
	}
	cmd.SetVal("PONG")
	return cmd
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// asString renders a stored value the way go-redis would.
func asString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}
