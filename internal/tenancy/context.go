// Package tenancy carries the authenticated caller through a request.
package tenancy

import (
	"context"
	"strings"
)

type ctxKey string

const callerKey ctxKey = "clinic.caller"

// Caller is the identity the platform authenticated for a request.
type Caller struct {
	UID   string
	Email string
}

// WithCaller stores the caller in context.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	caller.UID = strings.TrimSpace(caller.UID)
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFromContext extracts the caller if present.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerKey).(Caller)
	return caller, ok && caller.UID != ""
}

// CallerUID returns the caller uid, or "" for anonymous requests.
func CallerUID(ctx context.Context) string {
	caller, _ := CallerFromContext(ctx)
	return caller.UID
}
