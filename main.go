package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"taxrag/apps/ingestor/internal/app"
	"taxrag/apps/ingestor/internal/config"
	"taxrag/apps/ingestor/internal/logger"
)

const (
	Version = "0.1.0"
	appName = "ingestor"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Tax knowledge-base ingestion pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var limit int
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Process one batch of pending work items and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, cfg *config.Config, a *app.App) error {
				if limit <= 0 {
					limit = cfg.BatchLimit
				}
				res, err := a.Pipeline.ProcessBatch(ctx, limit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "attempted=%d processed=%d failed=%d\n", res.Attempted, res.Processed, res.Failed)
				return nil
			})
		},
	}
	runCmd.Flags().IntVar(&limit, "limit", 0, "Maximum items to claim (defaults to BATCH_LIMIT)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve HTTP and consume ingest.trigger messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), serve)
		},
	}

	seedCmd := &cobra.Command{
		Use:   "seed [sitemap-url...]",
		Short: "Queue eligible URLs from sitemaps (defaults to the configured ones)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, cfg *config.Config, a *app.App) error {
				sitemaps := args
				if len(sitemaps) == 0 {
					sitemaps = a.SitemapURLs()
				}
				res, err := a.Seeder.Run(ctx, sitemaps...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "discovered=%d eligible=%d inserted=%d\n", res.Discovered, res.Eligible, res.Inserted)
				return nil
			})
		},
	}

	cmd.AddCommand(runCmd, serveCmd, seedCmd, &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
		},
	})

	return cmd
}

// withApp loads config, bootstraps dependencies and builds the app around fn.
// SIGINT and SIGTERM cancel ctx.
func withApp(parent context.Context, fn func(context.Context, *config.Config, *app.App) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	slog.SetDefault(logger.New(os.Stdout, cfg.LogLevel))

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			slog.Warn("failed to close dependencies", "error", err)
		}
	}()

	a, err := app.New(cfg, deps)
	if err != nil {
		return err
	}
	return fn(ctx, cfg, a)
}

func serve(ctx context.Context, cfg *config.Config, a *app.App) error {
	return a.Run(ctx)
}
