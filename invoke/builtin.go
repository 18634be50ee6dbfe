package invoke

import (
	"context"

	cbus "github.com/next-trace/scg-service-admin/contract/bus"
	"github.com/next-trace/scg-service-admin/registry"
)

// Implementation names of the built-in services.
const (
	ImplEcho = "builtin.echo"
	ImplPing = "builtin.ping"
)

// Echo returns the decoded payload unchanged.
type Echo struct{}

func (Echo) Execute(_ context.Context, req cbus.Request) (any, error) { return req.Payload, nil }

// Ping answers "pong".
type Ping struct{}

func (Ping) Execute(context.Context, cbus.Request) (any, error) { return "pong", nil }

// RegisterBuiltins adds the built-in implementations to reg.
func RegisterBuiltins(reg *registry.Registry) error {
	if err := reg.Register(ImplEcho, func() cbus.Invocable { return Echo{} }); err != nil {
		return err
	}

	return reg.Register(ImplPing, func() cbus.Invocable { return Ping{} })
}
