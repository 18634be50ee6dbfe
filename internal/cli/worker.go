package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	cbus "github.com/next-trace/scg-service-admin/contract/bus"
	"github.com/next-trace/scg-service-admin/notify"
)

// NewWorkerCommand creates the worker command. A worker follows the broadcast topic and
// evicts changed services from its registry cache until it is signalled to stop.
func NewWorkerCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Follow catalog change broadcasts until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			rt, err := openRuntime(opts.Config, opts.Logger)
			if err != nil {
				return emit(cmd, nil, err)
			}
			defer rt.close()

			listener := notify.NewListener(rt.subscriber, opts.Logger)
			listener.Handle(cbus.KindService, rt.registry.Apply)
			listener.Handle(notify.Wildcard, func(ctx context.Context, evt cbus.ChangeEvent) error {
				opts.Logger.InfoContext(ctx, "catalog change", "kind", evt.Kind, "action", evt.Action, "payload", evt.Payload)
				return nil
			})

			stop, err := listener.Start(ctx)
			if err != nil {
				return emit(cmd, nil, err)
			}

			opts.Logger.Info("worker started", "broker", opts.Config.Broker, "topic", opts.Config.BroadcastTopic)

			<-ctx.Done()

			if err := stop(); err != nil {
				opts.Logger.Warn("worker stop", "err", err)
			}

			opts.Logger.Info("worker stopped")

			return nil
		},
	}
}
