package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"subarchive/internal/app"
	"subarchive/pkg/auth"
	"subarchive/pkg/config"
	"subarchive/pkg/discovery"
	"subarchive/pkg/logger"
	"subarchive/pkg/ui"
)

var (
	// Version information
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile      string
	logLevel        string
	archiveDir      string
	subreddit       string
	accountName     string
	metricsAddr     string
	metricsTextfile string
	notifications   bool
)

// rootCmd archives posts; the optional argument selects discovery
var rootCmd = &cobra.Command{
	Use:   "subarchive [index|scrape]",
	Short: "Archive the posts of a subreddit as raw JSON files",
	Long: `subarchive keeps a local copy of every post of a subreddit.

Post ids are discovered either from the subreddit's complete post index wiki
page (index, the default) or by paging through the hot listing until the
newest archived post is reached (scrape). Posts missing from the archive are
fetched and written as <datestamp>_<id>_<slug>.json.

Media referenced by archived posts is downloaded separately by
subarchive-media.`,
	Example: `  # Fetch everything listed in the post index
  subarchive

  # Page through the hot listing instead
  subarchive scrape

  # Use stored API credentials and expose metrics
  subarchive --account mybot --metrics-addr :9090`,
	Version:   fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: discovery.ValidModes,
	RunE:      runArchive,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.subarchive.yaml or ~/.config/subarchive/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&archiveDir, "archive-dir", "o", "", "archive directory")
	rootCmd.PersistentFlags().StringVarP(&subreddit, "subreddit", "r", "", "subreddit to archive")
	rootCmd.PersistentFlags().StringVarP(&accountName, "account", "a", "", "use stored API credentials for this Reddit user")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.PersistentFlags().StringVar(&metricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file at the end of the run")
	rootCmd.PersistentFlags().BoolVar(&notifications, "notify", false, "send a desktop notification when the run ends")

	rootCmd.SetVersionTemplate(`subarchive {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// flagMap collects the global flags for config.Load
func flagMap() map[string]interface{} {
	return map[string]interface{}{
		"archive-dir":      archiveDir,
		"subreddit":        subreddit,
		"account":          accountName,
		"log-level":        logLevel,
		"metrics-addr":     metricsAddr,
		"metrics-textfile": metricsTextfile,
	}
}

// loadConfig loads configuration and sets up the global logger
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile, flagMap())
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

// setup builds the application and applies stored credentials
func setup() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.New(cfg, logger.GetLogger())
	if err != nil {
		return nil, err
	}

	if cfg.Reddit.Account != "" {
		manager, err := auth.NewManager()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize credential manager: %w", err)
		}
		if err := a.Authenticate(manager); err != nil {
			ui.PrintInfo("Available accounts", "use 'subarchive auth list' to see stored accounts")
			return nil, err
		}
	}
	return a, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runArchive(cmd *cobra.Command, args []string) error {
	modeName := ""
	if len(args) > 0 {
		modeName = args[0]
	}
	mode, err := discovery.ParseMode(modeName)
	if err != nil {
		return err
	}

	a, err := setup()
	if err != nil {
		return err
	}
	ui.PrintBanner()
	ui.PrintInfo("Subreddit", "r/"+a.Config.Reddit.Subreddit)
	ui.PrintInfo("Archive", a.Store.Dir())

	ctx, stop := signalContext()
	defer stop()
	a.StartMetrics(ctx)

	logger.WithFields(map[string]interface{}{
		"version": version,
		"mode":    string(mode),
	}).Info("archive run starting")

	notifier := ui.NewNotifier(notifications)
	sum, runErr := a.Archiver().Archive(ctx, mode)
	if err := a.Close(); err != nil {
		logger.WithError(err).Warn("metrics textfile not written")
	}

	if runErr != nil {
		notifier.SendError("Archive failed", runErr.Error())
		return runErr
	}

	msg := fmt.Sprintf("%d new posts archived", sum.Archived)
	if n := len(sum.FailedIDs); n > 0 {
		msg += fmt.Sprintf(", %d could not be fetched", n)
	}
	notifier.SendSuccess("r/"+a.Config.Reddit.Subreddit, msg)
	return nil
}
