package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/next-trace/scg-service-admin/admin"
	berr "github.com/next-trace/scg-service-admin/contract/errors"
)

// NewServiceCommand creates the service command group.
func NewServiceCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Inspect, edit and invoke deployed services",
	}

	cmd.AddCommand(
		newServiceListCommand(opts),
		newServiceGetCommand(opts),
		newServiceEditCommand(opts),
		newServiceDeleteCommand(opts),
		newServiceInvokeCommand(opts),
		newServiceDeploymentsCommand(opts),
		newServiceChannelsCommand(opts),
		newServiceWSDLCommand(opts),
	)

	return cmd
}

func newServiceListCommand(opts *RootOptions) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the services of the cluster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ask(cmd, opts, admin.ServiceGetList{ClusterID: opts.Config.ClusterID, Name: name})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "only services whose name contains this text")

	return cmd
}

func newServiceGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>",
		Short: "Show one service by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ask(cmd, opts, admin.ServiceGetByName{ClusterID: opts.Config.ClusterID, Name: args[0]})
		},
	}
}

func newServiceEditCommand(opts *RootOptions) *cobra.Command {
	var (
		name   string
		active bool
	)

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Rename a service or change whether it is active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return emit(cmd, nil, err)
			}

			return ask(cmd, opts, admin.ServiceEdit{ID: id, Name: name, IsActive: active})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "service name")
	cmd.Flags().BoolVar(&active, "active", true, "whether the service is active")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newServiceDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return emit(cmd, nil, err)
			}

			return ask(cmd, opts, admin.ServiceDelete{ID: id})
		},
	}
}

func newServiceInvokeCommand(opts *RootOptions) *cobra.Command {
	var (
		payload     string
		payloadFile string
		dataFormat  string
		transport   string
	)

	cmd := &cobra.Command{
		Use:   "invoke <id>",
		Short: "Invoke a service directly, outside of any channel",
		Long: `Invoke a service directly, outside of any channel.

Example:
  scgadmin service invoke 5 --payload '{"name": "x"}' --data-format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return emit(cmd, nil, err)
			}

			if payloadFile != "" {
				raw, err := readPayload(cmd, payloadFile)
				if err != nil {
					return emit(cmd, nil, err)
				}

				payload = string(raw)
			}

			return ask(cmd, opts, admin.ServiceInvoke{ID: id, Payload: payload, DataFormat: dataFormat, Transport: transport})
		},
	}

	cmd.Flags().StringVarP(&payload, "payload", "p", "", "request payload")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "", "read the payload from a file, - for stdin")
	cmd.Flags().StringVar(&dataFormat, "data-format", "", "payload format: json|xml|text")
	cmd.Flags().StringVar(&transport, "transport", "", "transport the payload is treated as arriving on, e.g. soap")
	cmd.MarkFlagsMutuallyExclusive("payload", "payload-file")

	return cmd
}

func readPayload(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}

	return os.ReadFile(path)
}

func newServiceDeploymentsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deployments <id>",
		Short: "Show the servers a service is deployed to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return emit(cmd, nil, err)
			}

			return ask(cmd, opts, admin.ServiceGetDeploymentInfoList{ID: id})
		},
	}
}

func newServiceChannelsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "channels <id> <plain_http|soap|amqp|jms_queue|zmq>",
		Short: "List the channels of one type exposing a service",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return emit(cmd, nil, err)
			}

			return ask(cmd, opts, admin.ServiceGetChannelList{ID: id, ChannelType: args[1]})
		},
	}
}

func newServiceWSDLCommand(opts *RootOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "wsdl <name>",
		Short: "Download the WSDL of a service",
		Long:  "Download the WSDL of a service. Without --out the document is written to stdout as is.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(opts.Config, opts.Logger)
			if err != nil {
				return emit(cmd, nil, err)
			}
			defer rt.close()

			res, err := rt.bus.Ask(cmd.Context(), admin.ServiceGetWSDL{Name: args[0]})
			if err != nil {
				return emit(cmd, nil, err)
			}

			att, ok := res.(admin.Attachment)
			if !ok {
				return emit(cmd, nil, fmt.Errorf("unexpected wsdl response %T", res))
			}

			if out == "" {
				_, err := cmd.OutOrStdout().Write(att.Content)
				return err
			}

			if err := os.WriteFile(out, att.Content, 0o644); err != nil {
				return emit(cmd, nil, err)
			}

			return emit(cmd, map[string]any{
				"path":                out,
				"content_type":        att.ContentType,
				"content_disposition": att.ContentDisposition,
			}, nil)
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "write the WSDL to this file")

	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q: %w", s, berr.ErrBadRequest)
	}

	return id, nil
}
