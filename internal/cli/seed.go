package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/next-trace/scg-service-admin/catalog/sqlite"
)

// NewSeedCommand creates the seed command, which loads deployment fixtures into the catalog.
func NewSeedCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <fixtures.yaml>",
		Short: "Load clusters, servers, services, channels and roles from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return emit(cmd, nil, fmt.Errorf("open fixtures: %w", err))
			}
			defer f.Close()

			fx, err := sqlite.LoadFixtures(f)
			if err != nil {
				return emit(cmd, nil, err)
			}

			store, err := sqlite.Open(opts.Config.DBPath)
			if err != nil {
				return emit(cmd, nil, err)
			}
			defer store.Close()

			if err := store.Seed(cmd.Context(), fx); err != nil {
				return emit(cmd, nil, err)
			}

			opts.Logger.Info("catalog seeded", "db", opts.Config.DBPath, "services", len(fx.Services))

			return emit(cmd, map[string]int{
				"clusters":      len(fx.Clusters),
				"servers":       len(fx.Servers),
				"services":      len(fx.Services),
				"deployments":   len(fx.Deployments),
				"channels":      len(fx.Channels),
				"security_defs": len(fx.SecurityDefs),
				"roles":         len(fx.Roles),
			}, nil)
		},
	}
}
