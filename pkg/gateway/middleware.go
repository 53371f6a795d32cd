package gateway

import (
	"net"
	"net/http"
	"strings"

	"github.com/humanflow/authgate/pkg/auth"
)

// RequireSession guards next behind a valid session. Each request
// resolves to one of three outcomes:
//
//   - a valid session: the record is attached to the request context
//     and next runs;
//   - no session (absent, tampered, or expired cookie): the client is
//     redirected to the login page;
//   - a session store failure: the request is refused with 503. An
//     unreachable store must read as an outage, never as "everyone is
//     logged out".
func (g *Gateway) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec, err := g.sessions.Read(r.Context(), r)
		if err != nil {
			g.log.ErrorContext(r.Context(), "gateway: session lookup failed",
				"error", err,
				"path", r.URL.Path,
			)
			http.Error(w, "Service temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		if rec == nil {
			http.Redirect(w, r, LoginPath, http.StatusFound)
			return
		}

		// Re-derive the group from the credential store on every
		// request, so a group change takes effect without waiting
		// for the session to expire. Local sessions are keyed by
		// username; an account removed from the credential file
		// loses access on its next request.
		if g.creds != nil {
			switch g.config.Mode {
			case ModeLocal:
				if cred, ok := g.creds.Lookup(rec.Subject); ok {
					rec.Group = cred.Group
				} else {
					rec.Group = auth.GroupUnauthorized
				}
			case ModeFederated:
				if rec.Email != "" {
					rec.Group = g.creds.GroupForEmail(rec.Email)
				}
			}
		}

		next.ServeHTTP(w, r.WithContext(ContextWithRecord(r.Context(), rec)))
	})
}

// RequireGroup guards next behind membership in the given group. It
// must run inside [Gateway.RequireSession]; a request whose context
// carries no record, or whose record belongs to another group, is
// refused with 403.
func (g *Gateway) RequireGroup(group auth.Group) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec, ok := RecordFromContext(r.Context())
			if !ok || rec.Group != group {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientAddr derives the throttling address for a request. With
// TrustForwardedFor enabled it takes the first entry of the
// X-Forwarded-For header when that entry is a well-formed address;
// otherwise it falls back to the connection's remote address.
func (g *Gateway) clientAddr(r *http.Request) string {
	if g.config.TrustForwardedFor {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			addr, _, _ := strings.Cut(fwd, ",")
			addr = strings.TrimSpace(addr)
			if isValidAddr(addr) {
				return addr
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
