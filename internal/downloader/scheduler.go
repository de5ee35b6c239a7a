// Package downloader fetches resolved media into the archive in fixed-size
// batches.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"subarchive/pkg/config"
	"subarchive/pkg/logger"
	"subarchive/pkg/media"
)

const (
	DefaultBatchSize = 100
	DefaultChunkSize = 512
)

// HTTPGetter issues the GET for one media URL. *reddit.Client satisfies it.
type HTTPGetter interface {
	Get(ctx context.Context, url string) (*http.Response, error)
}

// MediaStorage is the part of the archive the scheduler writes to
type MediaStorage interface {
	Exists(name string) bool
	Create(name string) (*os.File, error)
	Remove(name string) error
}

// Progress observes a run. Calls arrive from many goroutines.
type Progress interface {
	StartBatch(batch, batches, size int)
	Update(completed int, bytes int64)
	FinishBatch(completed int, bytes int64)
}

// Recorder receives per-item outcomes. metrics.Metrics satisfies it.
type Recorder interface {
	MediaDownloaded(bytes int64)
	MediaSkipped()
	MediaFailed()
	BatchInFlight(n int)
}

// Outcome of one descriptor
type Outcome int

const (
	Downloaded Outcome = iota
	Skipped
	Failed
	// Cancelled items were not attempted, or were cut off, because the run's
	// context ended. They are left for the next run.
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Downloaded:
		return "downloaded"
	case Skipped:
		return "skipped"
	case Cancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// Result represents the result of one descriptor
type Result struct {
	Descriptor media.Descriptor
	Outcome    Outcome
	Bytes      int64
	Status     int
	Err        error
	Duration   time.Duration
}

// Summary totals a run
type Summary struct {
	Total      int
	Skipped    int
	Downloaded int
	Failed     int
	Cancelled  int
	Bytes      int64
}

// Scheduler downloads descriptors batch by batch
type Scheduler struct {
	client    HTTPGetter
	store     MediaStorage
	batchSize int
	chunkSize int
	progress  Progress
	recorder  Recorder
	logger    logger.Logger
}

// New creates a scheduler from the download settings
func New(client HTTPGetter, store MediaStorage, cfg config.DownloadConfig, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.GetLogger()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	return &Scheduler{
		client:    client,
		store:     store,
		batchSize: batchSize,
		chunkSize: chunkSize,
		progress:  nopProgress{},
		recorder:  nopRecorder{},
		logger:    log,
	}
}

// SetProgress attaches a progress sink
func (s *Scheduler) SetProgress(p Progress) {
	if p == nil {
		p = nopProgress{}
	}
	s.progress = p
}

// SetRecorder attaches an outcome recorder
func (s *Scheduler) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	s.recorder = r
}

// batch holds the counters shared by one batch's goroutines
type batch struct {
	completed atomic.Int64
	bytes     atomic.Int64
}

// Run downloads every descriptor. Batches run one after another; items in
// a batch run concurrently. Item failures are logged and counted, never
// returned. Once ctx is done no further batch starts and the remaining
// items are counted as Cancelled, not Failed.
func (s *Scheduler) Run(ctx context.Context, descriptors []media.Descriptor) Summary {
	sum := Summary{Total: len(descriptors)}
	batches := (len(descriptors) + s.batchSize - 1) / s.batchSize

	logger.LogComponentStart(s.logger, "downloader", map[string]interface{}{
		"descriptors": len(descriptors),
		"batches":     batches,
		"batch_size":  s.batchSize,
	})

	reason := "completed"
	for i := 0; i < batches; i++ {
		start := i * s.batchSize
		if ctx.Err() != nil {
			sum.Cancelled += len(descriptors) - start
			reason = "cancelled"
			break
		}
		end := min(start+s.batchSize, len(descriptors))

		for _, r := range s.runBatch(ctx, i+1, batches, descriptors[start:end]) {
			switch r.Outcome {
			case Downloaded:
				sum.Downloaded++
				sum.Bytes += r.Bytes
			case Skipped:
				sum.Skipped++
			case Failed:
				sum.Failed++
			case Cancelled:
				sum.Cancelled++
			}
		}
	}

	logger.LogMetrics(s.logger, "media download", map[string]interface{}{
		"total":      sum.Total,
		"downloaded": sum.Downloaded,
		"skipped":    sum.Skipped,
		"failed":     sum.Failed,
		"cancelled":  sum.Cancelled,
		"bytes":      sum.Bytes,
	})
	logger.LogComponentStop(s.logger, "downloader", reason)
	return sum
}

func (s *Scheduler) runBatch(ctx context.Context, index, batches int, items []media.Descriptor) []Result {
	results := make([]Result, len(items))
	b := &batch{}

	s.progress.StartBatch(index, batches, len(items))
	s.recorder.BatchInFlight(len(items))

	var g errgroup.Group
	for i := range items {
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = Result{Descriptor: items[i], Outcome: Cancelled}
				return nil
			}
			results[i] = s.download(ctx, b, items[i])
			b.completed.Add(1)
			s.progress.Update(int(b.completed.Load()), b.bytes.Load())
			return nil
		})
	}
	_ = g.Wait()

	s.recorder.BatchInFlight(0)
	s.progress.FinishBatch(int(b.completed.Load()), b.bytes.Load())
	return results
}

func (s *Scheduler) download(ctx context.Context, b *batch, d media.Descriptor) Result {
	start := time.Now()
	res := Result{Descriptor: d}

	skip := func() Result {
		res.Outcome = Skipped
		res.Duration = time.Since(start)
		s.recorder.MediaSkipped()
		s.logger.DebugWithFields("media already archived", map[string]interface{}{
			"file": d.Filename,
		})
		return res
	}
	fail := func(err error) Result {
		res.Err = err
		res.Duration = time.Since(start)
		if ctx.Err() != nil {
			res.Outcome = Cancelled
			s.logger.DebugWithFields("media download cancelled", map[string]interface{}{
				"file": d.Filename,
			})
			return res
		}
		res.Outcome = Failed
		s.recorder.MediaFailed()
		logger.LogMediaDownload(s.logger.WithFields(map[string]interface{}{
			"url":        d.URL,
			"status":     res.Status,
			"attributes": d.Attributes,
		}), d.MediaKey, d.Kind.String(), res.Bytes, err)
		return res
	}

	if s.store.Exists(d.Filename) {
		return skip()
	}

	resp, err := s.client.Get(ctx, d.URL)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	res.Status = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	f, err := s.store.Create(d.Filename)
	if errors.Is(err, fs.ErrExist) {
		return skip()
	}
	if err != nil {
		return fail(fmt.Errorf("failed to create %s: %w", d.Filename, err))
	}

	var item atomic.Int64
	buf := make([]byte, s.chunkSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				err = fmt.Errorf("failed to write %s: %w", d.Filename, werr)
				break
			}
			item.Add(int64(n))
			s.progress.Update(int(b.completed.Load()), b.bytes.Add(int64(n)))
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			err = fmt.Errorf("stream interrupted: %w", rerr)
			break
		}
	}
	res.Bytes = item.Load()

	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close %s: %w", d.Filename, cerr)
	}
	if err != nil {
		if rmErr := s.store.Remove(d.Filename); rmErr != nil {
			s.logger.WithError(rmErr).WarnWithFields("failed to remove partial file", map[string]interface{}{
				"file": d.Filename,
			})
		}
		return fail(err)
	}

	res.Outcome = Downloaded
	res.Duration = time.Since(start)
	s.recorder.MediaDownloaded(res.Bytes)
	logger.LogMediaDownload(s.logger, d.MediaKey, d.Kind.String(), res.Bytes, nil)
	return res
}

type nopProgress struct{}

func (nopProgress) StartBatch(int, int, int) {}
func (nopProgress) Update(int, int64)        {}
func (nopProgress) FinishBatch(int, int64)   {}

type nopRecorder struct{}

func (nopRecorder) MediaDownloaded(int64) {}
func (nopRecorder) MediaSkipped()         {}
func (nopRecorder) MediaFailed()          {}
func (nopRecorder) BatchInFlight(int)     {}
