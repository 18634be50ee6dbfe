package bus

import (
	"context"
	"slices"
)

// DataFormat names the codec used to decode an invocation payload and encode its output.
type DataFormat string

const (
	FormatJSON DataFormat = "json"
	FormatXML  DataFormat = "xml"
	FormatText DataFormat = "text"
)

// Transport names the channel kind an invocation pretends to arrive through.
// The empty transport means a direct administrative call.
type Transport string

const (
	TransportNone      Transport = ""
	TransportPlainHTTP Transport = "plain_http"
	TransportSOAP      Transport = "soap"
	TransportAMQP      Transport = "amqp"
	TransportJMSQueue  Transport = "jms_queue"
	TransportZMQ       Transport = "zmq"
)

// Valid reports whether t is one of the known transports.
func (t Transport) Valid() bool {
	switch t {
	case TransportNone, TransportPlainHTTP, TransportSOAP, TransportAMQP, TransportJMSQueue, TransportZMQ:
		return true
	default:
		return false
	}
}

// SimpleIOConfig carries the server-wide rules implementations use to coerce
// untyped input parameters.
type SimpleIOConfig struct {
	BoolPrefixes []string
	IntParams    []string
	IntSuffixes  []string
}

// Clone returns a copy that shares no backing arrays with c.
func (c SimpleIOConfig) Clone() SimpleIOConfig {
	return SimpleIOConfig{
		BoolPrefixes: slices.Clone(c.BoolPrefixes),
		IntParams:    slices.Clone(c.IntParams),
		IntSuffixes:  slices.Clone(c.IntSuffixes),
	}
}

// Request is the invocation context handed to an Invocable.
// It is built fresh for every call and must not be retained after Execute returns.
type Request struct {
	CorrelationID string
	Service       string
	Payload       any
	RawPayload    []byte
	Transport     Transport
	DataFormat    DataFormat
	SimpleIO      SimpleIOConfig
}

// Invocable is a deployed unit of business logic.
// Execute returns the raw output (string, []byte, io.Reader or any value the
// request's codec can encode) or a fault.
type Invocable interface {
	Execute(ctx context.Context, req Request) (any, error)
}

// InvocableFunc adapts a plain function to Invocable.
type InvocableFunc func(ctx context.Context, req Request) (any, error)

func (f InvocableFunc) Execute(ctx context.Context, req Request) (any, error) { return f(ctx, req) }
