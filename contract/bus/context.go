package bus

import "context"

// HeaderPropagator abstracts carrying tracing context through message headers.
// Implementations may bridge to OpenTelemetry or any other propagation standard.
// This keeps adapters decoupled from concrete tracing libraries (code-to-interface).
// Inject mutates the provided headers map by inserting keys that carry the context
// across process boundaries; Extract does the reverse on the consumer side.
// Implementations must be safe for concurrent use.
type HeaderPropagator interface {
	Inject(ctx context.Context, headers map[string]string)
	Extract(ctx context.Context, headers map[string]string) context.Context
}

// NopHeaderPropagator is a no-op implementation useful for tests or when tracing is disabled.
type NopHeaderPropagator struct{}

func (NopHeaderPropagator) Inject(ctx context.Context, headers map[string]string) {
	_ = ctx
	_ = headers
}

func (NopHeaderPropagator) Extract(ctx context.Context, headers map[string]string) context.Context {
	_ = headers
	return ctx
}
