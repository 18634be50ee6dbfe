package servicebus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	cbus "github.com/next-trace/scg-service-admin/contract/bus"
	berr "github.com/next-trace/scg-service-admin/contract/errors"
)

// HandlerFunc is the untyped form every bound handler is reduced to.
type HandlerFunc func(ctx context.Context, req any) (any, error)

// Middleware wraps request handling. Middlewares are executed in registration order.
type Middleware func(next HandlerFunc) HandlerFunc

// Bus routes admin requests to exactly one handler per request type.
//
// Bus is concurrency-safe and contains no global state.
type Bus struct {
	mu sync.RWMutex

	routes map[reflect.Type]HandlerFunc

	// global middleware executed in registration order
	mw []Middleware

	closed bool
	logger *slog.Logger
}

var _ cbus.Bus = (*Bus)(nil)

// Option configures a Bus instance.
type Option func(*Bus)

// WithMiddleware registers global middleware via an option.
func WithMiddleware(mw ...Middleware) Option {
	return func(b *Bus) { b.mw = append(b.mw, mw...) }
}

// New constructs a new Bus.
func New(logger *slog.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	b := &Bus{routes: make(map[reflect.Type]HandlerFunc), logger: logger}
	for _, opt := range opts {
		opt(b)
	}

	return b
}

func (b *Bus) bind(t reflect.Type, h HandlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("bind %s: bus closed: %w", t, berr.ErrHandlerNotFound)
	}

	if _, exists := b.routes[t]; exists {
		return fmt.Errorf("bind %s: %w", t, berr.ErrHandlerExists)
	}

	b.routes[t] = h
	b.logger.Debug("handler bound", "op", t.String())

	return nil
}

// BindOf registers a handler for the type of sample. Duplicate bindings are rejected.
func (b *Bus) BindOf(sample any, handler func(ctx context.Context, req any) (any, error)) error {
	return b.bind(reflect.TypeOf(sample), handler)
}

// Bind registers h for request type Req. Duplicate bindings are rejected.
func Bind[Req any, Resp any](b *Bus, h cbus.Handler[Req, Resp]) error {
	var zero Req

	t := reflect.TypeOf(zero)

	return b.bind(t, func(ctx context.Context, v any) (any, error) {
		req, ok := v.(Req)
		if !ok {
			return nil, fmt.Errorf("ask %s: %w", reflect.TypeOf(v), berr.ErrHandlerTypeMismatch)
		}

		return h.Handle(ctx, req)
	})
}

// BindFunc registers a plain function for request type Req.
func BindFunc[Req any, Resp any](b *Bus, f func(ctx context.Context, req Req) (Resp, error)) error {
	return Bind[Req, Resp](b, cbus.HandlerFunc[Req, Resp](f))
}

// Ask routes req through the middleware chain to its handler and returns the untyped response.
func (b *Bus) Ask(ctx context.Context, req any) (any, error) {
	return b.askWithMiddleware(ctx, req)
}

// AskWithMiddleware routes req with additional per-call middleware.
func (b *Bus) AskWithMiddleware(ctx context.Context, req any, mws ...Middleware) (any, error) {
	return b.askWithMiddleware(ctx, req, mws...)
}

func (b *Bus) askWithMiddleware(ctx context.Context, req any, mws ...Middleware) (any, error) {
	t := reflect.TypeOf(req)

	b.mu.RLock()
	f, ok := b.routes[t]
	chain := make([]Middleware, 0, len(b.mw)+len(mws))
	chain = append(chain, b.mw...)
	b.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("ask %v: %w", t, berr.ErrHandlerNotFound)
	}

	chain = append(chain, mws...)

	// Build chain so the first registered middleware runs first
	final := f
	for i := len(chain) - 1; i >= 0; i-- {
		final = chain[i](final)
	}

	return final(ctx, req)
}

// Call routes req and asserts the response type.
func Call[Req any, Resp any](ctx context.Context, b *Bus, req Req) (Resp, error) {
	var zero Resp

	res, err := b.Ask(ctx, req)
	if err != nil {
		return zero, err
	}

	if res == nil {
		return zero, nil
	}

	r, ok := res.(Resp)
	if !ok {
		return zero, fmt.Errorf("ask %s: got %T: %w", reflect.TypeOf(req), res, berr.ErrHandlerTypeMismatch)
	}

	return r, nil
}

// Close drops every binding; later binds fail.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	clear(b.routes)

	return nil
}

// BatchOptions controls Batch execution behavior.
// OnProgress is called after each request completes (success or failure) with done and total.
// OnError is called when a request fails with its index, the request value, and the error.
type BatchOptions struct {
	OnProgress func(done, total int)
	OnError    func(index int, req any, err error)
}

// BatchOpt configures BatchOptions.
type BatchOpt func(*BatchOptions)

// WithBatchProgress sets the progress callback.
func WithBatchProgress(fn func(done, total int)) BatchOpt {
	return func(o *BatchOptions) { o.OnProgress = fn }
}

// WithBatchOnError sets the error callback.
func WithBatchOnError(fn func(index int, req any, err error)) BatchOpt {
	return func(o *BatchOptions) { o.OnError = fn }
}

// Batch routes the provided requests sequentially and returns their responses
// in order, nil for failed ones. It respects context cancellation, reports
// progress, and aggregates errors.
func (b *Bus) Batch(ctx context.Context, reqs []any, opts ...BatchOpt) ([]any, error) {
	var o BatchOptions
	for _, f := range opts {
		f(&o)
	}

	total := len(reqs)
	out := make([]any, total)

	var errs []error

	for i, r := range reqs {
		if err := ctx.Err(); err != nil { // canceled or deadline exceeded
			return out, errors.Join(append(errs, err)...)
		}

		res, err := b.askWithMiddleware(ctx, r)
		if err != nil {
			if o.OnError != nil {
				o.OnError(i, r, err)
			}

			errs = append(errs, err)
		} else {
			out[i] = res
		}

		if o.OnProgress != nil {
			o.OnProgress(i+1, total)
		}
	}

	return out, errors.Join(errs...)
}

// LogRequests logs every routed request with its duration, error code and status.
func LogRequests(logger *slog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			res, err := next(ctx, req)

			attrs := []any{
				"op", reflect.TypeOf(req).String(),
				"elapsed", time.Since(start),
				"status", berr.Status(err),
			}

			if err != nil {
				attrs = append(attrs, "code", berr.CodeOf(err), "err", err)
				logger.WarnContext(ctx, "admin request failed", attrs...)
			} else {
				logger.InfoContext(ctx, "admin request", attrs...)
			}

			return res, err
		}
	}
}
