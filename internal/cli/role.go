package cli

import (
	"github.com/spf13/cobra"

	"github.com/next-trace/scg-service-admin/admin"
	"github.com/next-trace/scg-service-admin/servicebus"
)

// NewRoleCommand creates the RBAC role command group.
func NewRoleCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Manage RBAC roles",
	}

	cmd.AddCommand(
		newRoleListCommand(opts),
		newRoleCreateCommand(opts),
		newRoleEditCommand(opts),
		newRoleDeleteCommand(opts),
	)

	return cmd
}

func newRoleListCommand(opts *RootOptions) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the RBAC roles of the cluster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ask(cmd, opts, admin.RoleGetList{ClusterID: opts.Config.ClusterID, Name: name})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "only roles whose name contains this text")

	return cmd
}

func newRoleCreateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>...",
		Short: "Create one or more RBAC roles",
		Long:  "Create one or more RBAC roles. Each role is created in its own transaction; failures do not stop the rest.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(opts.Config, opts.Logger)
			if err != nil {
				return emit(cmd, nil, err)
			}
			defer rt.close()

			reqs := make([]any, 0, len(args))
			for _, name := range args {
				reqs = append(reqs, admin.RoleCreate{ClusterID: opts.Config.ClusterID, Name: name})
			}

			out, err := rt.bus.Batch(cmd.Context(), reqs,
				servicebus.WithBatchProgress(func(done, total int) {
					opts.Logger.Debug("role create progress", "done", done, "total", total)
				}),
				servicebus.WithBatchOnError(func(i int, _ any, err error) {
					opts.Logger.Warn("role create failed", "name", args[i], "err", err)
				}),
			)
			if err != nil && len(args) == 1 {
				return emit(cmd, nil, err)
			}

			if err != nil {
				_ = writeJSON(cmd.OutOrStdout(), Response{
					Status: "partial",
					Data:   out,
					Error:  errorBody(err),
				})

				return err
			}

			return emit(cmd, out, nil)
		},
	}
}

func newRoleEditCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <id> <name>",
		Short: "Rename an RBAC role",
		Long:  "Rename an RBAC role. The names of client role bindings referencing it are recomputed in the same transaction.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return emit(cmd, nil, err)
			}

			return ask(cmd, opts, admin.RoleEdit{ID: id, Name: args[1]})
		},
	}
}

func newRoleDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an RBAC role that no client role references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return emit(cmd, nil, err)
			}

			return ask(cmd, opts, admin.RoleDelete{ID: id})
		},
	}
}
