package ctxutil

import "context"

// Default returns context.Background() when ctx is nil.
func Default(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

type loopKey struct{}

// WithLoop marks ctx as running on the dispatch loop identified by owner.
func WithLoop(ctx context.Context, owner any) context.Context {
	return context.WithValue(Default(ctx), loopKey{}, owner)
}

// OnLoop reports whether ctx was produced by WithLoop for owner.
func OnLoop(ctx context.Context, owner any) bool {
	if ctx == nil || owner == nil {
		return false
	}
	return ctx.Value(loopKey{}) == owner
}
