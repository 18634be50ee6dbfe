package bus

import "context"

// Handler handles admin requests of type Req and returns a response of type Resp.
// Implementations must be safe for concurrent use by multiple goroutines.
type Handler[Req any, Resp any] interface {
	Handle(ctx context.Context, req Req) (Resp, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc[Req any, Resp any] func(ctx context.Context, req Req) (Resp, error)

func (f HandlerFunc[Req, Resp]) Handle(ctx context.Context, req Req) (Resp, error) {
	return f(ctx, req)
}
