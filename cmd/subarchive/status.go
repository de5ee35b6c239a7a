package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"subarchive/pkg/archiver"
	"subarchive/pkg/checkpoint"
	"subarchive/pkg/logger"
	"subarchive/pkg/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the journal of the last run",
	Long: `Show the journal written by the last archive or media run for the
configured subreddit. An interrupted run shows how far it got.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	manager, err := checkpoint.NewManager(cfg.Journal.Path, cfg.Reddit.Subreddit, logger.GetLogger())
	if err != nil {
		return err
	}

	j, err := manager.Load()
	if err != nil {
		return err
	}
	if j == nil {
		ui.PrintInfo("No journal", manager.Path())
		return nil
	}

	ui.PrintInfo("Subreddit", "r/"+j.Subreddit)
	ui.PrintInfo("Mode", j.Mode)
	ui.PrintInfo("Run", j.RunID)
	ui.PrintInfo("Started", j.StartedAt.Format(time.DateTime))
	if j.Finished() {
		ui.PrintInfo("Finished", j.FinishedAt.Format(time.DateTime))
	} else {
		ui.PrintWarning("Run did not finish", "last update "+j.UpdatedAt.Format(time.DateTime))
	}

	if j.Mode == archiver.ModeMedia {
		ui.PrintInfo("Records", strconv.Itoa(j.AlreadyArchived))
		ui.PrintInfo("Media downloaded", strconv.Itoa(j.MediaDownloaded))
		ui.PrintInfo("Media already present", strconv.Itoa(j.MediaSkipped))
		ui.PrintInfo("Media failed", strconv.Itoa(j.MediaFailed))
		if j.MediaCancelled > 0 {
			ui.PrintInfo("Media left for next run", strconv.Itoa(j.MediaCancelled))
		}
		return nil
	}

	ui.PrintInfo("Already archived", strconv.Itoa(j.AlreadyArchived))
	ui.PrintInfo("Discovered", strconv.Itoa(j.Discovered))
	ui.PrintInfo("Archived", fmt.Sprintf("%d/%d", j.Archived, j.ToArchive))
	if j.LastFile != "" {
		ui.PrintInfo("Last file", j.LastFile)
	}
	if len(j.FailedIDs) > 0 {
		ui.PrintWarning("Could not fetch", strings.Join(j.FailedIDs, ", "))
	}
	return nil
}
