package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	agerr "github.com/humanflow/authgate/pkg/errors"
)

// testHash returns a bcrypt hash with the minimum cost so the test
// suite does not spend its time on key stretching.
func testHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func writeCredFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadCredentials_YAML(t *testing.T) {
	t.Parallel()
	hash := testHash(t, "s3cret")
	path := writeCredFile(t, "users.yaml", `
users:
  - username: alice
    email: alice@example.com
    password_hash: "`+hash+`"
    group: Admin
  - username: bob
    password_hash: "`+hash+`"
    group: User
`)

	store, err := LoadCredentials(path)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())

	cred, ok := store.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, GroupAdmin, cred.Group)
	assert.Equal(t, "alice@example.com", cred.Email)
}

func TestLoadCredentials_JSON(t *testing.T) {
	t.Parallel()
	hash := testHash(t, "s3cret")
	path := writeCredFile(t, "users.json",
		`{"users":[{"username":"carol","password_hash":"`+hash+`","group":"User"}]}`)

	store, err := LoadCredentials(path)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestLoadCredentials_Errors(t *testing.T) {
	t.Parallel()
	hash := testHash(t, "pw")

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name:    "malformed yaml",
			file:    "users.yaml",
			content: "users: [unclosed",
		},
		{
			name:    "unsupported extension",
			file:    "users.toml",
			content: "users = []",
		},
		{
			name:    "missing username",
			file:    "users.yaml",
			content: "users:\n  - password_hash: \"" + hash + "\"\n    group: User\n",
		},
		{
			name:    "missing password hash",
			file:    "users.yaml",
			content: "users:\n  - username: dave\n    group: User\n",
		},
		{
			name:    "plaintext password instead of hash",
			file:    "users.yaml",
			content: "users:\n  - username: dave\n    password_hash: hunter2\n    group: User\n",
		},
		{
			name:    "unknown group",
			file:    "users.yaml",
			content: "users:\n  - username: dave\n    password_hash: \"" + hash + "\"\n    group: Root\n",
		},
		{
			name: "duplicate username",
			file: "users.yaml",
			content: "users:\n" +
				"  - username: dave\n    password_hash: \"" + hash + "\"\n    group: User\n" +
				"  - username: dave\n    password_hash: \"" + hash + "\"\n    group: Admin\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := writeCredFile(t, tt.file, tt.content)

			_, err := LoadCredentials(path)
			require.Error(t, err)
			assert.Equal(t, agerr.CodeInternalConfiguration, agerr.GetCode(err))
		})
	}
}

func TestLoadCredentials_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := LoadCredentials(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, agerr.CodeInternalConfiguration, agerr.GetCode(err))
}

func TestCredentialStore_Verify(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	hash := testHash(t, "correct horse")

	store, err := NewCredentialStore([]Credential{
		{Username: "alice", PasswordHash: hash, Group: GroupAdmin},
	})
	require.NoError(t, err)

	t.Run("correct password", func(t *testing.T) {
		t.Parallel()
		cred, err := store.Verify(ctx, "alice", "correct horse")
		require.NoError(t, err)
		assert.Equal(t, "alice", cred.Username)
		assert.Equal(t, GroupAdmin, cred.Group)
	})

	t.Run("wrong password", func(t *testing.T) {
		t.Parallel()
		_, err := store.Verify(ctx, "alice", "battery staple")
		require.Error(t, err)
		assert.Equal(t, agerr.CodeAuthentication, agerr.GetCode(err))
	})

	t.Run("unknown username", func(t *testing.T) {
		t.Parallel()
		_, err := store.Verify(ctx, "mallory", "anything")
		require.Error(t, err)
		assert.Equal(t, agerr.CodeAuthentication, agerr.GetCode(err))
	})

	t.Run("unknown username and wrong password are indistinguishable", func(t *testing.T) {
		t.Parallel()
		_, errWrongPass := store.Verify(ctx, "alice", "nope")
		_, errNoUser := store.Verify(ctx, "mallory", "nope")
		require.Error(t, errWrongPass)
		require.Error(t, errNoUser)
		assert.Equal(t, errWrongPass.Error(), errNoUser.Error())
	})
}

func TestCredentialStore_GroupForEmail(t *testing.T) {
	t.Parallel()
	hash := testHash(t, "pw")

	store, err := NewCredentialStore([]Credential{
		{Username: "alice", Email: "Alice@Example.com", PasswordHash: hash, Group: GroupAdmin},
	})
	require.NoError(t, err)

	tests := []struct {
		name  string
		email string
		want  Group
	}{
		{name: "known email keeps assigned group", email: "alice@example.com", want: GroupAdmin},
		{name: "match is case-insensitive", email: "ALICE@EXAMPLE.COM", want: GroupAdmin},
		{name: "unknown email gets standard access", email: "visitor@example.com", want: GroupUser},
		{name: "empty email fails closed", email: "", want: GroupUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, store.GroupForEmail(tt.email))
		})
	}
}

func TestHashPassword_RoundTrip(t *testing.T) {
	t.Parallel()
	hash, err := HashPassword("opensesame")
	require.NoError(t, err)

	store, err := NewCredentialStore([]Credential{
		{Username: "eve", PasswordHash: hash, Group: GroupUser},
	})
	require.NoError(t, err)

	_, err = store.Verify(context.Background(), "eve", "opensesame")
	assert.NoError(t, err)
}
