// Package identity carries the resolved caller identity through the
// request context once admission succeeds. Downstream handlers read it;
// nothing may mutate it.
package identity

import "context"

type contextKey struct{}

// Identity is the read-only result of a successful admission.
type Identity struct {
	APIKeyID         string
	OrgID            string
	RemainingCredits int64
}

// WithIdentity stores the admitted identity in the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the admitted identity, if the request passed the
// gate.
func FromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
