package cli

import (
	"github.com/spf13/cobra"

	"github.com/next-trace/scg-service-admin/admin"
)

// NewClientRoleCommand creates the RBAC client role command group.
func NewClientRoleCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client-role",
		Short: "Manage bindings of client definitions to RBAC roles",
	}

	cmd.AddCommand(
		newClientRoleListCommand(opts),
		newClientRoleCreateCommand(opts),
		newClientRoleEditCommand(opts),
		newClientRoleDeleteCommand(opts),
		newClientDefsCommand(opts),
	)

	return cmd
}

func newClientRoleListCommand(opts *RootOptions) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List client role bindings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ask(cmd, opts, admin.ClientRoleGetList{ClusterID: opts.Config.ClusterID, Name: name})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "only bindings whose name contains this text")

	return cmd
}

func newClientRoleCreateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <client-def> <role-id>",
		Short: "Bind a client definition to a role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			roleID, err := parseID(args[1])
			if err != nil {
				return emit(cmd, nil, err)
			}

			return ask(cmd, opts, admin.ClientRoleCreate{ClusterID: opts.Config.ClusterID, ClientDef: args[0], RoleID: roleID})
		},
	}
}

func newClientRoleEditCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <id> <client-def> <role-id>",
		Short: "Change the client definition or role of a binding",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return emit(cmd, nil, err)
			}

			roleID, err := parseID(args[2])
			if err != nil {
				return emit(cmd, nil, err)
			}

			return ask(cmd, opts, admin.ClientRoleEdit{ID: id, ClientDef: args[1], RoleID: roleID})
		},
	}
}

func newClientRoleDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a client role binding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return emit(cmd, nil, err)
			}

			return ask(cmd, opts, admin.ClientRoleDelete{ID: id})
		},
	}
}

func newClientDefsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "client-defs",
		Short: "List the client definitions roles can be bound to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ask(cmd, opts, admin.ClientRoleGetClientDefList{ClusterID: opts.Config.ClusterID})
		},
	}
}
