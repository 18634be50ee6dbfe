// Package tracing bridges cbus.HeaderPropagator to OpenTelemetry propagation.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	cbus "github.com/next-trace/scg-service-admin/contract/bus"
)

// Propagator carries span context through message headers.
type Propagator struct {
	p propagation.TextMapPropagator
}

var _ cbus.HeaderPropagator = Propagator{}

// New returns a W3C trace-context and baggage propagator.
func New() Propagator {
	return Propagator{p: propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})}
}

// FromGlobal uses whatever propagator is installed with otel.SetTextMapPropagator.
func FromGlobal() Propagator { return Propagator{p: otel.GetTextMapPropagator()} }

func (p Propagator) Inject(ctx context.Context, headers map[string]string) {
	if headers == nil {
		return
	}

	p.p.Inject(ctx, propagation.MapCarrier(headers))
}

func (p Propagator) Extract(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}

	return p.p.Extract(ctx, propagation.MapCarrier(headers))
}
