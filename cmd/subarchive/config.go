package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"subarchive/pkg/config"
	"subarchive/pkg/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage subarchive configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (SUBARCHIVE_*, also read from .env)
  - Configuration file
  - Default values (lowest priority)`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default values",
	Long: `Write the default configuration to .subarchive.yaml in the current
directory, or to the path given with --config.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = ".subarchive.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists: %s", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	cfg := config.DefaultConfig()
	cfg.MergeCommandLineFlags(flagMap())
	if err := cfg.Save(path); err != nil {
		return err
	}

	ui.PrintSuccess("Configuration written to " + path)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Edit the subreddit and archive directory")
	fmt.Println("2. Run 'subarchive config validate' to check the configuration")
	fmt.Println("3. Start archiving with 'subarchive' or 'subarchive scrape'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, flagMap())
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}
	fmt.Print(string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, flagMap())
	if err != nil {
		ui.PrintError("Configuration is invalid", err.Error())
		return err
	}

	if cfg.Reddit.Account == "" {
		ui.PrintWarning("No API account configured, public endpoints will be used")
	}
	if cfg.RateLimit.Strategy == "none" {
		ui.PrintWarning("Rate limiting is disabled")
	}

	ui.PrintSuccess("Configuration is valid")
	ui.PrintInfo("Subreddit", "r/"+cfg.Reddit.Subreddit)
	ui.PrintInfo("Archive directory", cfg.Archive.Directory)
	ui.PrintInfo("Rate limit", fmt.Sprintf("%s, %d requests/minute", cfg.RateLimit.Strategy, cfg.RateLimit.RequestsPerMinute))
	ui.PrintInfo("Media batch size", fmt.Sprint(cfg.Download.BatchSize))
	return nil
}
