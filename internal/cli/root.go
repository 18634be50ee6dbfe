// Package cli implements the scgadmin command line.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/next-trace/scg-service-admin/config"
)

// RootOptions holds the configuration shared by every command.
// Flags override the SCG_ADMIN_* environment.
type RootOptions struct {
	Config config.Config
	Logger *slog.Logger

	dbPath    string
	clusterID int64
	broker    string
	logLevel  string
}

// NewRootCommand creates the root command for the scgadmin CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "scgadmin",
		Short:         "Administer services and RBAC roles of a service bus cluster",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.dbPath, "db", "", "catalog database path (SCG_ADMIN_DB_PATH)")
	pf.Int64Var(&opts.clusterID, "cluster-id", 0, "cluster id (SCG_ADMIN_CLUSTER_ID)")
	pf.StringVar(&opts.broker, "broker", "", "broadcast broker: inmemory|nats|rabbitmq|kafka (SCG_ADMIN_BROKER)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level (SCG_ADMIN_LOG_LEVEL)")

	cmd.AddCommand(NewServiceCommand(opts))
	cmd.AddCommand(NewRoleCommand(opts))
	cmd.AddCommand(NewClientRoleCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewWorkerCommand(opts))

	return cmd
}

func (o *RootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = o.dbPath
	}

	if flags.Changed("cluster-id") {
		cfg.ClusterID = o.clusterID
	}

	if flags.Changed("broker") {
		cfg.Broker = o.broker
	}

	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	o.Config = cfg
	o.Logger = cfg.NewLogger(cmd.ErrOrStderr())

	return nil
}
