package types

import "context"

// cycleIDKey is the private context key for the per-cycle correlation id.
type cycleIDKey struct{}

// WithCycleID returns a context carrying the cycle correlation id. The poll
// controller sets it once per invocation; outbound HTTP and log lines pick it
// up for cross-component correlation.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleIDKey{}, id)
}

// GetCycleID returns the cycle correlation id, or "" if none is set.
func GetCycleID(ctx context.Context) string {
	if v, ok := ctx.Value(cycleIDKey{}).(string); ok {
		return v
	}
	return ""
}
