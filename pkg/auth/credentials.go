package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	agerr "github.com/humanflow/authgate/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for auth spans.
const tracerName = "github.com/humanflow/authgate/pkg/auth"

// ---------------------------------------------------------------------------
// Credential — one entry in the credential file
// ---------------------------------------------------------------------------

// Credential is a single local account loaded from the credential file.
// PasswordHash holds a bcrypt hash, never a plaintext password.
type Credential struct {
	// Username is the login name. It identifies the account uniquely
	// and is matched case-sensitively.
	Username string `json:"username" yaml:"username"`

	// Email is the address the federated provider reports for this
	// account. It links a provider identity back to a local group
	// assignment and may be empty for accounts that only log in with
	// a password.
	Email string `json:"email,omitempty" yaml:"email,omitempty"`

	// PasswordHash is the bcrypt hash of the account password.
	PasswordHash string `json:"password_hash" yaml:"password_hash"`

	// Group is the access group assigned to the account.
	Group Group `json:"group" yaml:"group"`
}

// credentialFile is the on-disk layout of the credential file.
type credentialFile struct {
	Users []Credential `json:"users" yaml:"users"`
}

// ---------------------------------------------------------------------------
// CredentialStore — read-only verification against the credential file
// ---------------------------------------------------------------------------

// dummyBcryptHash is a valid bcrypt hash of a random string, compared
// against when the username is unknown so that lookup misses cost the
// same as a real password check.
const dummyBcryptHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// CredentialStore verifies username/password pairs against credentials
// loaded once at startup. The store is immutable after construction and
// safe for concurrent use; changing the credential file requires a
// process restart.
type CredentialStore struct {
	byUsername map[string]Credential
	byEmail    map[string]Credential
	tracer     trace.Tracer
}

// LoadCredentials reads the credential file at path and returns a
// [CredentialStore]. The file format is selected by extension: .yaml,
// .yml, or .json. Every entry must carry a username, a bcrypt password
// hash, and a valid group.
//
// Any failure is returned with code [agerr.CodeInternalConfiguration];
// the gateway treats this as fatal at startup rather than serving with
// an empty credential set.
func LoadCredentials(path string) (*CredentialStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, agerr.Wrap(err, agerr.CodeInternalConfiguration,
			fmt.Sprintf("auth: failed to read credential file %s", path))
	}

	var file credentialFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, agerr.Wrap(err, agerr.CodeInternalConfiguration,
				"auth: failed to parse YAML credential file")
		}
	case ".json":
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, agerr.Wrap(err, agerr.CodeInternalConfiguration,
				"auth: failed to parse JSON credential file")
		}
	default:
		return nil, agerr.New(agerr.CodeInternalConfiguration,
			fmt.Sprintf("auth: unsupported credential file extension %q (use .yaml, .yml, or .json)", ext))
	}

	return NewCredentialStore(file.Users)
}

// NewCredentialStore builds a store from an already-loaded credential
// slice. Used directly by tests and by [LoadCredentials].
func NewCredentialStore(creds []Credential) (*CredentialStore, error) {
	byUsername := make(map[string]Credential, len(creds))
	byEmail := make(map[string]Credential)

	for i, c := range creds {
		if c.Username == "" {
			return nil, agerr.New(agerr.CodeInternalConfiguration,
				fmt.Sprintf("auth: credential entry %d has no username", i))
		}
		if c.PasswordHash == "" {
			return nil, agerr.New(agerr.CodeInternalConfiguration,
				fmt.Sprintf("auth: credential %q has no password hash", c.Username))
		}
		if !strings.HasPrefix(c.PasswordHash, "$2") {
			return nil, agerr.New(agerr.CodeInternalConfiguration,
				fmt.Sprintf("auth: credential %q password hash is not bcrypt", c.Username))
		}
		if !c.Group.Valid() {
			return nil, agerr.New(agerr.CodeInternalConfiguration,
				fmt.Sprintf("auth: credential %q has unknown group %q", c.Username, string(c.Group)))
		}
		if _, dup := byUsername[c.Username]; dup {
			return nil, agerr.New(agerr.CodeInternalConfiguration,
				fmt.Sprintf("auth: duplicate credential username %q", c.Username))
		}
		byUsername[c.Username] = c
		if c.Email != "" {
			byEmail[strings.ToLower(c.Email)] = c
		}
	}

	return &CredentialStore{
		byUsername: byUsername,
		byEmail:    byEmail,
		tracer:     otel.Tracer(tracerName),
	}, nil
}

// Len returns the number of loaded credentials.
func (s *CredentialStore) Len() int { return len(s.byUsername) }

// Verify checks a username/password pair and returns the matching
// credential on success.
//
// Unknown usernames and wrong passwords both return the same
// [agerr.CodeAuthentication] error, and unknown usernames still pay for
// a bcrypt comparison against a dummy hash, so the response does not
// reveal whether the account exists.
func (s *CredentialStore) Verify(ctx context.Context, username, password string) (Credential, error) {
	_, span := s.tracer.Start(ctx, "auth.Verify")
	defer span.End()
	span.SetAttributes(attribute.String("auth.username", username))

	cred, ok := s.byUsername[username]
	if !ok {
		// Equalize timing for unknown accounts.
		_ = bcrypt.CompareHashAndPassword([]byte(dummyBcryptHash), []byte(password))
		return Credential{}, agerr.New(agerr.CodeAuthentication, "auth: invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return Credential{}, agerr.New(agerr.CodeAuthentication, "auth: invalid credentials")
	}

	return cred, nil
}

// Lookup returns the credential for a username without checking any
// password. The second return value reports whether the account exists.
func (s *CredentialStore) Lookup(username string) (Credential, bool) {
	cred, ok := s.byUsername[username]
	return cred, ok
}

// GroupForEmail derives the access group for a federated identity.
// When the provider-reported email matches a local credential, that
// credential's group applies; otherwise the identity gets [GroupUser].
// The match is case-insensitive because providers normalize email
// casing inconsistently.
func (s *CredentialStore) GroupForEmail(email string) Group {
	if email == "" {
		return GroupUnauthorized
	}
	if cred, ok := s.byEmail[strings.ToLower(email)]; ok {
		return cred.Group
	}
	return GroupUser
}

// HashPassword produces a bcrypt hash suitable for a credential file
// entry. Exposed so provisioning tooling and tests share the exact
// parameters Verify expects.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", agerr.Wrap(err, agerr.CodeInternal, "auth: failed to hash password")
	}
	return string(hash), nil
}
