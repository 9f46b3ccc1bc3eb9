package state

import "context"

type contextKey struct{}

// WithRunContext attaches the run context to ctx. The dispatcher does this
// once per participating process before any trial executes.
func WithRunContext(ctx context.Context, rc *RunContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// FromContext extracts the run context attached by the dispatcher. Trial
// functions use this to reach the global store and the results-store client.
func FromContext(ctx context.Context) (*RunContext, bool) {
	rc, ok := ctx.Value(contextKey{}).(*RunContext)
	return rc, ok
}
