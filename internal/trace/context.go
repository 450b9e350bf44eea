package trace

import "context"

type (
	tracerKey struct{}
	parentKey struct{}
)

// FromContext returns the tracer of the running command, or Nop.
func FromContext(ctx context.Context) Tracer {
	if ctx == nil {
		return Nop
	}
	if t, ok := ctx.Value(tracerKey{}).(Tracer); ok {
		return t
	}
	return Nop
}

// WithTracer attaches t for every span opened below ctx.
func WithTracer(ctx context.Context, t Tracer) context.Context {
	if t == nil {
		t = Nop
	}
	return context.WithValue(ctx, tracerKey{}, t)
}

// Parent is the id of the innermost span opened with Enter, 0 at the top
// of a command.
func Parent(ctx context.Context) uint64 {
	if ctx == nil {
		return 0
	}
	id, _ := ctx.Value(parentKey{}).(uint64)
	return id
}

// Enter begins a span under the current one and returns a context in which
// the new span is the parent. A span filtered out by the level leaves the
// parent unchanged, so points below it attach to the nearest visible span.
func Enter(ctx context.Context, scope Scope, name string) (context.Context, *Span) {
	span := Begin(FromContext(ctx), scope, name, Parent(ctx))
	if span.ID() == 0 {
		return ctx, span
	}
	return context.WithValue(ctx, parentKey{}, span.ID()), span
}

// Note emits a point event under the current span.
func Note(ctx context.Context, scope Scope, name, detail string, extra map[string]string) {
	Point(FromContext(ctx), scope, name, detail, Parent(ctx), extra)
}
