package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xiaolu-workflow/crawler-service/internal/api"
	"github.com/xiaolu-workflow/crawler-service/internal/supervisor"
)

// knownSpiders lists the crawl targets the supervisor will accept.
var knownSpiders = []string{"xiaohongshu"}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the job-control HTTP server",
		Long: `Starts the HTTP API that launches, stops and reports crawl jobs.
Jobs run as separate OS processes so a crashing crawl cannot take the
control plane down.`,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	launcher, err := supervisor.NewExecLauncher(cfgFile, logger)
	if err != nil {
		return fmt.Errorf("init launcher: %w", err)
	}
	sup := supervisor.New(launcher, knownSpiders, cfg.Crawl.StopGracePeriod, logger)
	server := api.NewServer(sup, cfg, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("crawler service starting",
		zap.Int("port", cfg.Server.Port),
		zap.Strings("spiders", knownSpiders))
	return server.Run(ctx)
}
