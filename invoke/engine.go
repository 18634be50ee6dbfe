// Package invoke runs deployed services on behalf of the admin surface.
//
// An invocation resolves the service, decodes the payload with the requested
// data format, builds a fresh implementation instance and executes it once,
// synchronously. Implementation faults are reported as InvocationError and are
// never retried.
package invoke

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/next-trace/scg-service-admin/catalog"
	cbus "github.com/next-trace/scg-service-admin/contract/bus"
	berr "github.com/next-trace/scg-service-admin/contract/errors"
	"github.com/next-trace/scg-service-admin/registry"
)

const tracerName = "github.com/next-trace/scg-service-admin/invoke"

// Resolver is the subset of the registry the engine depends on.
type Resolver interface {
	Resolve(ctx context.Context, key string, opts ...registry.ResolveOption) (catalog.Service, error)
	Instantiate(implName string) (cbus.Invocable, error)
}

// Input describes one invocation request.
type Input struct {
	// Service is a service name or a numeric id.
	Service    string
	Payload    []byte
	DataFormat cbus.DataFormat
	Transport  cbus.Transport
	// Internal allows internal services to be invoked.
	Internal bool
}

// Output is the normalised result of an invocation.
// Response is a string, []byte, io.Reader, nil or the encoded form of any other value.
type Output struct {
	CorrelationID string
	Service       string
	Response      any
}

// Engine executes services. It is safe for concurrent use.
type Engine struct {
	resolver Resolver
	logger   *slog.Logger
	tracer   trace.Tracer
	simpleIO cbus.SimpleIOConfig
	newID    func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithTracerProvider sets the provider spans are started from. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer(tracerName) }
}

// WithSimpleIO sets the input coercion rules handed to every implementation.
func WithSimpleIO(cfg cbus.SimpleIOConfig) Option {
	return func(e *Engine) { e.simpleIO = cfg }
}

// WithIDGenerator overrides correlation id generation.
func WithIDGenerator(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

// New constructs an Engine.
func New(resolver Resolver, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	e := &Engine{
		resolver: resolver,
		logger:   logger,
		tracer:   otel.GetTracerProvider().Tracer(tracerName),
		newID:    newCorrelationID,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Invoke resolves, decodes and executes in.Service once.
func (e *Engine) Invoke(ctx context.Context, in Input) (Output, error) {
	var resolveOpts []registry.ResolveOption
	if in.Internal {
		resolveOpts = append(resolveOpts, registry.IncludeInternal())
	}

	svc, err := e.resolver.Resolve(ctx, in.Service, resolveOpts...)
	if err != nil {
		return Output{}, err
	}

	if !in.Transport.Valid() {
		return Output{}, fmt.Errorf("invoke %s: transport %q: %w", svc.Name, in.Transport, berr.ErrBadRequest)
	}

	codec, err := CodecFor(in.DataFormat)
	if err != nil {
		return Output{}, fmt.Errorf("invoke %s: %w", svc.Name, err)
	}

	decoded, err := codec.Decode(in.Payload, in.Transport)
	if err != nil {
		return Output{}, &berr.DecodeError{Format: string(codec.Format()), Payload: bytes.Clone(in.Payload), Err: err}
	}

	impl, err := e.resolver.Instantiate(svc.ImplName)
	if err != nil {
		return Output{}, fmt.Errorf("invoke %s: %w", svc.Name, err)
	}

	req := cbus.Request{
		CorrelationID: e.newID(),
		Service:       svc.Name,
		Payload:       decoded,
		RawPayload:    bytes.Clone(in.Payload),
		Transport:     in.Transport,
		DataFormat:    codec.Format(),
		SimpleIO:      e.simpleIO.Clone(),
	}

	ctx, span := e.tracer.Start(ctx, "invoke "+svc.Name, trace.WithAttributes(
		attribute.String("scg.service", svc.Name),
		attribute.Int64("scg.service_id", svc.ID),
		attribute.String("scg.cid", req.CorrelationID),
		attribute.String("scg.data_format", string(req.DataFormat)),
	))
	defer span.End()

	log := e.logger.With("cid", req.CorrelationID, "service", svc.Name)
	start := time.Now()

	out, err := execute(ctx, impl, req)
	if err == nil {
		out, err = normalise(codec, out)
	}

	if err != nil {
		ierr := &berr.InvocationError{Service: svc.Name, Cause: err}
		span.RecordError(ierr)
		span.SetStatus(codes.Error, ierr.Error())
		log.Error("invocation failed", "err", err, "elapsed", time.Since(start))

		return Output{}, ierr
	}

	span.SetStatus(codes.Ok, "")
	log.Debug("invocation finished", "elapsed", time.Since(start))

	return Output{CorrelationID: req.CorrelationID, Service: svc.Name, Response: out}, nil
}

// execute runs impl, turning a panic into an error.
func execute(ctx context.Context, impl cbus.Invocable, req cbus.Request) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if rerr, ok := r.(error); ok {
				err = fmt.Errorf("panic: %w", rerr)
			} else {
				err = fmt.Errorf("panic: %v", r)
			}
		}
	}()

	return impl.Execute(ctx, req)
}

func normalise(codec Codec, out any) (any, error) {
	switch out.(type) {
	case nil, string, []byte, io.Reader:
		return out, nil
	}

	b, err := codec.Encode(out)
	if err != nil {
		return nil, errors.Join(berr.ErrSerializationFailed, err)
	}

	return b, nil
}

func newCorrelationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}
