package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Creates the Postgres schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			if err := migrate(cmd.Context(), env.cfg, env.logger); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema ready")
			return nil
		},
	}
}
