package gateway

import (
	"context"

	"github.com/humanflow/authgate/pkg/session"
)

// ctxKey is the private type for context keys in this package,
// preventing collisions with keys from other packages.
type ctxKey int

const recordKey ctxKey = iota

// ContextWithRecord returns a context carrying the session record.
// The gate's middleware attaches the record before invoking protected
// handlers.
func ContextWithRecord(ctx context.Context, rec *session.Record) context.Context {
	return context.WithValue(ctx, recordKey, rec)
}

// RecordFromContext returns the session record attached by the gate's
// middleware, or nil and false when the request carried no session.
// Protected handlers use this to dispatch content by group.
func RecordFromContext(ctx context.Context) (*session.Record, bool) {
	rec, ok := ctx.Value(recordKey).(*session.Record)
	if !ok || rec == nil {
		return nil, false
	}
	return rec, true
}
