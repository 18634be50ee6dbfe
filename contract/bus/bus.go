package bus

import "context"

// Bus is a minimal, tech-agnostic interface over the admin request router.
//
// Typed helpers remain available via generic helper functions in the servicebus package.
// This interface is intended for consumers that want to depend only on contracts.
type Bus interface {
	// BindOf registers an untyped handler for the type of sample.
	BindOf(sample any, handler func(ctx context.Context, req any) (any, error)) error

	// Ask routes a request to its handler and returns the untyped response.
	Ask(ctx context.Context, req any) (any, error)

	// Lifecycle
	Close() error
}
