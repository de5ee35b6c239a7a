// Package archiver drives a run: it discovers post ids, saves the posts the
// archive does not hold yet, and replays the archive to download media.
package archiver

import (
	"context"
	"fmt"

	"subarchive/pkg/checkpoint"
	"subarchive/pkg/discovery"
	"subarchive/pkg/logger"
	"subarchive/pkg/reddit"
	"subarchive/pkg/storage"
	"subarchive/pkg/ui"
)

// Fetcher returns raw JSON bodies. *reddit.Fetcher satisfies it.
type Fetcher interface {
	GetJSON(ctx context.Context, url string) ([]byte, error)
}

// Discoverer lists candidate post ids. *discovery.Discoverer satisfies it.
type Discoverer interface {
	Discover(ctx context.Context, mode discovery.Mode, stopAt string) ([]string, error)
}

// Recorder receives run counters. *metrics.Metrics satisfies it.
type Recorder interface {
	Discovered(n int)
	Archived()
	Failed()
	ResolveErrors(n int)
}

// Summary reports the counts of one Archive run
type Summary struct {
	AlreadyArchived int
	Discovered      int
	ToArchive       int
	Archived        int
	FailedIDs       []string
}

// Archiver ties the store, discovery and the post endpoint together
type Archiver struct {
	store      *storage.Store
	discoverer Discoverer
	fetcher    Fetcher
	endpoints  *reddit.Endpoints
	journal    *checkpoint.Manager
	recorder   Recorder
	logger     logger.Logger
}

// New creates an Archiver. The journal and recorder are optional.
func New(store *storage.Store, discoverer Discoverer, fetcher Fetcher, endpoints *reddit.Endpoints, log logger.Logger) *Archiver {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Archiver{
		store:      store,
		discoverer: discoverer,
		fetcher:    fetcher,
		endpoints:  endpoints,
		recorder:   nopRecorder{},
		logger:     log,
	}
}

// SetJournal persists run progress through m
func (a *Archiver) SetJournal(m *checkpoint.Manager) {
	a.journal = m
}

// SetRecorder sets the counter sink
func (a *Archiver) SetRecorder(r Recorder) {
	if r != nil {
		a.recorder = r
	}
}

// Archive discovers ids with mode and saves every post not already in the
// archive. A post that cannot be fetched is logged and skipped.
func (a *Archiver) Archive(ctx context.Context, mode discovery.Mode) (Summary, error) {
	var sum Summary

	inArchive, err := a.store.ArchivedIDs()
	if err != nil {
		return sum, fmt.Errorf("failed to list archive: %w", err)
	}
	sum.AlreadyArchived = len(inArchive)

	ui.PrintInfo("archive contains", fmt.Sprintf("%d posts", len(inArchive)))
	ui.PrintInfo("using fetch mode", string(mode))

	j, err := a.startJournal(string(mode))
	if err != nil {
		return sum, err
	}
	if j != nil {
		j.AlreadyArchived = sum.AlreadyArchived
	}

	stopAt := ""
	if mode == discovery.ModeScrape && len(inArchive) > 0 {
		stopAt = inArchive[len(inArchive)-1]
	}

	discovered, err := a.discoverer.Discover(ctx, mode, stopAt)
	if err != nil {
		return sum, fmt.Errorf("discovery failed: %w", err)
	}
	sum.Discovered = len(discovered)
	a.recorder.Discovered(len(discovered))

	toArchive := Missing(discovered, inArchive)
	sum.ToArchive = len(toArchive)
	if j != nil {
		j.Discovered = sum.Discovered
		j.ToArchive = sum.ToArchive
		a.saveJournal(j)
	}

	ui.PrintInfo("fetching", fmt.Sprintf("%d posts not yet archived", len(toArchive)))

	for n, id := range toArchive {
		if err := ctx.Err(); err != nil {
			logger.LogComponentStop(a.logger, "archiver", "cancelled")
			return sum, err
		}

		filename, err := a.archivePost(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				logger.LogComponentStop(a.logger, "archiver", "cancelled")
				return sum, ctx.Err()
			}
			a.logger.WithError(err).WarnWithFields("could not get json for post", map[string]interface{}{
				"post_id": id,
			})
			sum.FailedIDs = append(sum.FailedIDs, id)
			a.recorder.Failed()
			if j != nil {
				if err := a.journal.RecordFailed(j, id); err != nil {
					a.logger.WithError(err).Warn("failed to save journal")
				}
			}
			continue
		}

		sum.Archived++
		a.recorder.Archived()
		ui.PrintStep(n+1, len(toArchive), filename)
		if j != nil {
			if err := a.journal.RecordArchived(j, filename); err != nil {
				a.logger.WithError(err).Warn("failed to save journal")
			}
		}
	}

	a.finishJournal(j)
	logger.LogMetrics(a.logger, "archive", map[string]interface{}{
		"mode":             string(mode),
		"already_archived": sum.AlreadyArchived,
		"discovered":       sum.Discovered,
		"to_archive":       sum.ToArchive,
		"archived":         sum.Archived,
		"failed":           len(sum.FailedIDs),
	})
	logger.LogComponentStop(a.logger, "archiver", "completed")
	return sum, nil
}

func (a *Archiver) archivePost(ctx context.Context, id string) (string, error) {
	body, err := a.fetcher.GetJSON(ctx, a.endpoints.Post(id))
	if err != nil {
		return "", err
	}
	rec, err := reddit.NewPostRecord(body)
	if err != nil {
		return "", err
	}
	return a.store.Append(rec)
}

// Missing returns the ids of discovered that are not in archived, in
// discovery order and without repeats.
func Missing(discovered, archived []string) []string {
	skip := make(map[string]bool, len(archived)+len(discovered))
	for _, id := range archived {
		skip[id] = true
	}

	var out []string
	for _, id := range discovered {
		if skip[id] {
			continue
		}
		skip[id] = true
		out = append(out, id)
	}
	return out
}

func (a *Archiver) startJournal(mode string) (*checkpoint.Journal, error) {
	if a.journal == nil {
		return nil, nil
	}
	j, err := a.journal.Start(a.endpoints.Subreddit, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to start journal: %w", err)
	}
	return j, nil
}

func (a *Archiver) saveJournal(j *checkpoint.Journal) {
	if err := a.journal.Save(j); err != nil {
		a.logger.WithError(err).Warn("failed to save journal")
	}
}

func (a *Archiver) finishJournal(j *checkpoint.Journal) {
	if j == nil {
		return
	}
	if err := a.journal.Finish(j); err != nil {
		a.logger.WithError(err).Warn("failed to finish journal")
	}
}

type nopRecorder struct{}

func (nopRecorder) Discovered(int)    {}
func (nopRecorder) Archived()         {}
func (nopRecorder) Failed()           {}
func (nopRecorder) ResolveErrors(int) {}
