package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API",
		Long: `Serves the crawl trigger, ticker query, labeler and cache endpoints until
SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			app, err := newApp(cmd.Context(), env.cfg, env.logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			if err := app.Run(cmd.Context()); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
}
