// Package auth implements the identity side of the gateway: local
// credential verification with bcrypt, federated token verification
// against a provider's JWKS, and the access group model that the
// gateway dispatches on.
//
// The package exposes three cooperating pieces:
//
//   - [CredentialStore] verifies username/password pairs against a
//     read-only credential file and assigns each user an access [Group].
//   - [KeyCache] fetches and caches the provider's signing keys.
//   - [Verifier] checks an identity token's signature and claims using
//     keys resolved through a [KeyResolver].
//
// All verification failures are reported as *[agerr.Error] values so the
// gateway can map them to HTTP statuses without inspecting causes.
package auth

import "fmt"

// ---------------------------------------------------------------------------
// Group — access group model
// ---------------------------------------------------------------------------

// Group is the access level assigned to an authenticated principal.
// The gateway dispatches every protected request on the principal's
// group, so an unrecognized or missing group must never widen access.
type Group string

const (
	// GroupAdmin grants access to the administrative surface in
	// addition to everything GroupUser can reach.
	GroupAdmin Group = "Admin"

	// GroupUser grants access to the standard application surface.
	GroupUser Group = "User"

	// GroupUnauthorized is the fail-closed default. Principals in this
	// group hold a valid session but are denied all protected content.
	GroupUnauthorized Group = "Unauthorized"
)

// ParseGroup converts a stored group string back into a [Group].
// Unrecognized values map to [GroupUnauthorized] so that a corrupted
// or tampered session record can never escalate access.
func ParseGroup(s string) Group {
	switch Group(s) {
	case GroupAdmin:
		return GroupAdmin
	case GroupUser:
		return GroupUser
	default:
		return GroupUnauthorized
	}
}

// Valid reports whether g is one of the three defined groups.
func (g Group) Valid() bool {
	switch g {
	case GroupAdmin, GroupUser, GroupUnauthorized:
		return true
	}
	return false
}

// String returns the group name. Unknown values are rendered with a
// Group(...) wrapper for diagnostics.
func (g Group) String() string {
	if g.Valid() {
		return string(g)
	}
	return fmt.Sprintf("Group(%q)", string(g))
}
