// Package cmd defines and implements the blogpulse CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/blogpulse/internal/config"
	"github.com/JakeFAU/blogpulse/internal/crawler"
	"github.com/JakeFAU/blogpulse/internal/logging"
	"github.com/JakeFAU/blogpulse/internal/server"
)

// envKeyType is the key for storing the loaded environment in the context.
type envKeyType string

const envKey envKeyType = "env"

// environment carries what PersistentPreRunE loaded for the subcommands.
type environment struct {
	cfg    config.Config
	logger *zap.Logger
}

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Run(ctx context.Context) error
	Crawl(ctx context.Context, scope crawler.Scope) (crawler.CrawlRun, error)
	Close()
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return app, nil
}

// migrate is the schema migration hook, replaceable in tests.
var migrate = server.Migrate

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "blogpulse",
		Short: "Crawls a stock blog and serves ticker sentiment for chart overlays.",
		Long: `blogpulse crawls a single blog, stores each post once with its publish date
and the tickers it mentions, and serves per-ticker sentiment aggregates for
price chart overlays. Sentiment labels are written by an external labeler.`,
		SilenceUsage: true,

		// Config and logging are loaded once here, before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, environment{cfg: cfg, logger: logger}))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env BLOGPULSE_* overrides)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newMigrateCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (environment, error) {
	env, ok := ctx.Value(envKey).(environment)
	if !ok {
		return environment{}, errors.New("configuration not loaded")
	}
	return env, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
