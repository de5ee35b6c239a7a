// Command subarchive-media downloads the media of every post already in the
// archive. Files that exist are skipped, so it can be rerun at any time.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"subarchive/internal/app"
	"subarchive/pkg/config"
	"subarchive/pkg/logger"
	"subarchive/pkg/ui"
)

var (
	configFile      string
	logLevel        string
	archiveDir      string
	batchSize       int
	metricsAddr     string
	metricsTextfile string
	notifications   bool
)

var rootCmd = &cobra.Command{
	Use:   "subarchive-media",
	Short: "Download the media referenced by archived posts",
	Long: `subarchive-media reads every post record in the archive, resolves the
images and videos of the post and all of its comments, and downloads them
next to the records as <datestamp>_<post id>_<media key>.<ext>.

Downloads run in sequential batches; items inside a batch run concurrently.`,
	Args: cobra.NoArgs,
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "config file")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.Flags().StringVarP(&archiveDir, "archive-dir", "o", "", "archive directory")
	rootCmd.Flags().IntVar(&batchSize, "batch-size", 0, "downloads per batch (default 100)")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.Flags().StringVar(&metricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file at the end of the run")
	rootCmd.Flags().BoolVar(&notifications, "notify", false, "send a desktop notification when the run ends")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, map[string]interface{}{
		"archive-dir":      archiveDir,
		"log-level":        logLevel,
		"batch-size":       batchSize,
		"metrics-addr":     metricsAddr,
		"metrics-textfile": metricsTextfile,
	})
	if err != nil {
		return err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a, err := app.New(cfg, logger.GetLogger())
	if err != nil {
		return err
	}

	ui.PrintBanner()
	ui.PrintInfo("Archive", a.Store.Dir())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.StartMetrics(ctx)

	progress := ui.NewBatchProgress(ui.Out)
	notifier := ui.NewNotifier(notifications)

	sum, runErr := a.Replayer(progress).Replay(ctx)
	progress.Complete(sum.Downloaded, sum.Skipped, sum.Failed)

	if err := a.Close(); err != nil {
		logger.WithError(err).Warn("metrics textfile not written")
	}

	if runErr != nil {
		notifier.SendError("Media download interrupted", runErr.Error())
		return runErr
	}
	notifier.SendSuccess("Media download finished",
		fmt.Sprintf("%d downloaded, %d already present, %d failed", sum.Downloaded, sum.Skipped, sum.Failed))
	return nil
}
