package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/lorevault/internal/sqlite"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize lorevault storage",
		Long:  "Create the configuration and data directories, then create or migrate the database.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// setup already wrote config.yaml; attaching creates the
			// data directory and applies migrations.
			err := a.withVault(cmd, func(ctx context.Context, v *sqlite.Backend) error {
				return nil
			})
			if err != nil {
				return err
			}
			if a.flags.json {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"config_file": a.viper.ConfigFileUsed(),
					"data_dir":    a.dataDir,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "lorevault initialized in %s\n", a.dataDir)
			return nil
		},
	}
}
