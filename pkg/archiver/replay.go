package archiver

import (
	"context"
	"fmt"

	"subarchive/internal/downloader"
	"subarchive/pkg/checkpoint"
	"subarchive/pkg/logger"
	"subarchive/pkg/media"
	"subarchive/pkg/storage"
)

// ModeMedia names replay runs in the journal
const ModeMedia = "media"

// Replayer downloads the media of every record already in the archive
type Replayer struct {
	store     *storage.Store
	resolver  *media.Resolver
	scheduler *downloader.Scheduler
	journal   *checkpoint.Manager
	recorder  Recorder
	subreddit string
	logger    logger.Logger
}

// NewReplayer creates a Replayer
func NewReplayer(store *storage.Store, resolver *media.Resolver, scheduler *downloader.Scheduler, log logger.Logger) *Replayer {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Replayer{
		store:     store,
		resolver:  resolver,
		scheduler: scheduler,
		recorder:  nopRecorder{},
		logger:    log,
	}
}

// SetJournal persists the replay outcome through m under subreddit
func (r *Replayer) SetJournal(m *checkpoint.Manager, subreddit string) {
	r.journal = m
	r.subreddit = subreddit
}

// SetRecorder sets the counter sink
func (r *Replayer) SetRecorder(rec Recorder) {
	if rec != nil {
		r.recorder = rec
	}
}

// Replay loads every record, resolves its media and hands the descriptors
// to the scheduler. Resolution failures are logged one by one and do not
// stop the run.
func (r *Replayer) Replay(ctx context.Context) (downloader.Summary, error) {
	records, err := r.store.LoadAll()
	if err != nil {
		return downloader.Summary{}, fmt.Errorf("failed to load archive: %w", err)
	}

	var j *checkpoint.Journal
	if r.journal != nil {
		j, err = r.journal.Start(r.subreddit, ModeMedia)
		if err != nil {
			return downloader.Summary{}, fmt.Errorf("failed to start journal: %w", err)
		}
		j.AlreadyArchived = len(records)
	}

	descriptors, err := r.resolver.ResolveAll(records)
	if err != nil {
		failures := media.ResolveErrors(err)
		for _, re := range failures {
			r.logger.WarnWithFields("could not resolve media", map[string]interface{}{
				"post_id":   re.PostID,
				"media_key": re.MediaKey,
				"reason":    re.Reason,
			})
		}
		r.recorder.ResolveErrors(len(failures))
	}

	r.logger.InfoWithFields("replaying archive", map[string]interface{}{
		"records":     len(records),
		"descriptors": len(descriptors),
	})

	sum := r.scheduler.Run(ctx, descriptors)

	if j != nil {
		j.MediaDownloaded = sum.Downloaded
		j.MediaSkipped = sum.Skipped
		j.MediaFailed = sum.Failed
		j.MediaCancelled = sum.Cancelled
		if err := r.journal.Finish(j); err != nil {
			r.logger.WithError(err).Warn("failed to finish journal")
		}
	}

	return sum, ctx.Err()
}
