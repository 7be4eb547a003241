package cmd

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/blogpulse/internal/crawler"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one crawl to
// completion and prints its summary as JSON.
func newCrawlCmd() *cobra.Command {
	var pages, year int
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs a single crawl",
		Long: `Crawls the configured blog once, either the newest --pages listing pages
or every post published in --year, and prints the run summary.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			scope := crawler.PagesScope(env.cfg.Crawler.MaxPagesDefault)
			switch {
			case cmd.Flags().Changed("year"):
				scope = crawler.YearScope(year)
			case cmd.Flags().Changed("pages"):
				scope = crawler.PagesScope(pages)
			}
			return runCrawl(cmd, env, scope)
		},
	}
	cmd.Flags().IntVar(&pages, "pages", 0, "number of newest listing pages to crawl")
	cmd.Flags().IntVar(&year, "year", 0, "calendar year to collect")
	cmd.MarkFlagsMutuallyExclusive("pages", "year")
	return cmd
}

func runCrawl(cmd *cobra.Command, env environment, scope crawler.Scope) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, env.cfg, env.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer app.Close()

	run, err := app.Crawl(ctx, scope)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(run); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if run.Status == crawler.RunFailed {
		return fmt.Errorf("crawl %s failed: %s", run.ID, run.Error)
	}
	env.logger.Info("Crawl command finished.",
		zap.String("run_id", run.ID),
		zap.Int("new", run.New),
		zap.Int("updated", run.Updated),
		zap.Int("failed", run.Failed),
	)
	return nil
}

