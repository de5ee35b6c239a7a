package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"subarchive/pkg/config"
	"subarchive/pkg/logger"
	"subarchive/pkg/media"
	"subarchive/pkg/reddit"
	"subarchive/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGetter serves canned responses and counts requests per URL
type fakeGetter struct {
	mu       sync.Mutex
	hits     map[string]int
	handlers map[string]func() (*http.Response, error)
	delay    time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func newFakeGetter() *fakeGetter {
	return &fakeGetter{
		hits:     make(map[string]int),
		handlers: make(map[string]func() (*http.Response, error)),
	}
}

func (f *fakeGetter) serve(url string, status int, body string) {
	f.handlers[url] = func() (*http.Response, error) {
		return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}, nil
	}
}

func (f *fakeGetter) Get(ctx context.Context, url string) (*http.Response, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.hits[url]++
	h, ok := f.handlers[url]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no route for %s", url)
	}
	return h()
}

func (f *fakeGetter) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.hits {
		n += c
	}
	return n
}

// brokenReader returns some bytes then fails
type brokenReader struct {
	data []byte
	read bool
}

func (b *brokenReader) Read(p []byte) (int, error) {
	if !b.read {
		b.read = true
		return copy(p, b.data), nil
	}
	return 0, io.ErrUnexpectedEOF
}

type recordingProgress struct {
	mu      sync.Mutex
	batches []int
	final   []int
}

func (p *recordingProgress) StartBatch(batch, batches, size int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, size)
}
func (p *recordingProgress) Update(int, int64) {}
func (p *recordingProgress) FinishBatch(completed int, bytes int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.final = append(p.final, completed)
}

func descriptor(key string) media.Descriptor {
	return media.Descriptor{
		PostID:     "abc123",
		MediaID:    key,
		MediaKey:   key,
		Kind:       media.KindImage,
		Attributes: []byte(`{"e":"Image","m":"image/png"}`),
		URL:        "https://i.redd.it/" + key + ".png",
		Ext:        "png",
		Filename:   "20210101000000_abc123_" + key + ".png",
	}
}

func newTestScheduler(t *testing.T, getter HTTPGetter, batchSize int) (*Scheduler, *storage.Store, *logger.TestLogger) {
	t.Helper()
	log := logger.NewTestLogger()
	store, err := storage.NewStore(t.TempDir(), time.UTC, 70, log)
	require.NoError(t, err)

	cfg := config.DefaultConfig().Download
	cfg.BatchSize = batchSize
	return New(getter, store, cfg, log), store, log
}

func TestRunDownloadsAndIsIdempotent(t *testing.T) {
	getter := newFakeGetter()
	var ds []media.Descriptor
	for i := 0; i < 5; i++ {
		d := descriptor(fmt.Sprintf("m%d", i))
		getter.serve(d.URL, http.StatusOK, strings.Repeat("x", 1000+i))
		ds = append(ds, d)
	}

	s, store, _ := newTestScheduler(t, getter, 100)

	first := s.Run(context.Background(), ds)
	assert.Equal(t, Summary{Total: 5, Downloaded: 5, Bytes: 5010}, first)

	for i, d := range ds {
		data, err := os.ReadFile(store.Path(d.Filename))
		require.NoError(t, err)
		assert.Len(t, data, 1000+i)
	}

	requests := getter.total()
	second := s.Run(context.Background(), ds)
	assert.Equal(t, Summary{Total: 5, Skipped: 5}, second)
	assert.Equal(t, requests, getter.total(), "second run must not issue requests")
}

func TestRunIsolatesFailures(t *testing.T) {
	getter := newFakeGetter()
	ok := descriptor("ok")
	missing := descriptor("missing")
	broken := descriptor("broken")
	offline := descriptor("offline")

	getter.serve(ok.URL, http.StatusOK, "fine")
	getter.serve(missing.URL, http.StatusNotFound, "")
	getter.handlers[broken.URL] = func() (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(&brokenReader{data: []byte("partial")})}, nil
	}
	getter.handlers[offline.URL] = func() (*http.Response, error) {
		return nil, errors.New("connection refused")
	}

	s, store, log := newTestScheduler(t, getter, 100)
	sum := s.Run(context.Background(), []media.Descriptor{missing, broken, ok, offline})

	assert.Equal(t, 4, sum.Total)
	assert.Equal(t, 1, sum.Downloaded)
	assert.Equal(t, 3, sum.Failed)

	assert.True(t, store.Exists(ok.Filename))
	assert.False(t, store.Exists(missing.Filename))
	assert.False(t, store.Exists(broken.Filename), "partial file is removed")
	assert.False(t, store.Exists(offline.Filename))

	var notFound *logger.LogMessage
	errs := log.GetMessagesByLevel("ERROR")
	for i := range errs {
		if errs[i].Fields["status"] == http.StatusNotFound {
			notFound = &errs[i]
		}
	}
	require.NotNil(t, notFound, "non-200 responses are logged")
	assert.Equal(t, missing.URL, notFound.Fields["url"])
	assert.Equal(t, missing.Attributes, notFound.Fields["attributes"])
}

func TestRunBatchesSequentially(t *testing.T) {
	getter := newFakeGetter()
	getter.delay = 20 * time.Millisecond
	var ds []media.Descriptor
	for i := 0; i < 7; i++ {
		d := descriptor(fmt.Sprintf("b%d", i))
		getter.serve(d.URL, http.StatusOK, "data")
		ds = append(ds, d)
	}

	s, _, _ := newTestScheduler(t, getter, 3)
	progress := &recordingProgress{}
	s.SetProgress(progress)

	sum := s.Run(context.Background(), ds)
	assert.Equal(t, 7, sum.Downloaded)
	assert.Equal(t, []int{3, 3, 1}, progress.batches)
	assert.Equal(t, []int{3, 3, 1}, progress.final)
	assert.LessOrEqual(t, getter.maxSeen.Load(), int32(3))
	assert.Greater(t, getter.maxSeen.Load(), int32(1), "items within a batch run concurrently")
}

func TestRunSkipsExistingFile(t *testing.T) {
	getter := newFakeGetter()
	d := descriptor("kept")
	getter.serve(d.URL, http.StatusOK, "new content")

	s, store, _ := newTestScheduler(t, getter, 100)
	require.NoError(t, os.WriteFile(store.Path(d.Filename), []byte("old"), 0644))

	sum := s.Run(context.Background(), []media.Descriptor{d})
	assert.Equal(t, 1, sum.Skipped)
	assert.Zero(t, getter.total())

	data, err := os.ReadFile(store.Path(d.Filename))
	require.NoError(t, err)
	assert.Equal(t, "old", string(data), "existing files are never overwritten")
}

func TestRunOverHTTP(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 4096+17)
	var userAgent atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent.Store(r.Header.Get("User-Agent"))
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	client := reddit.NewClient(5*time.Second, "", logger.NewNopLogger())
	s, store, _ := newTestScheduler(t, client, 100)

	d := descriptor("http")
	d.URL = server.URL + "/http.png"
	sum := s.Run(context.Background(), []media.Descriptor{d})

	assert.Equal(t, 1, sum.Downloaded)
	assert.Equal(t, int64(len(payload)), sum.Bytes)
	assert.Equal(t, config.DefaultUserAgent, userAgent.Load())

	data, err := os.ReadFile(store.Path(d.Filename))
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestRunEmpty(t *testing.T) {
	s, _, _ := newTestScheduler(t, newFakeGetter(), 100)
	assert.Equal(t, Summary{}, s.Run(context.Background(), nil))
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	getter := newFakeGetter()
	var ds []media.Descriptor
	for i := 0; i < 350; i++ {
		d := descriptor(fmt.Sprintf("c%d", i))
		getter.serve(d.URL, http.StatusOK, "data")
		ds = append(ds, d)
	}

	s, _, log := newTestScheduler(t, getter, 100)
	progress := &recordingProgress{}
	s.SetProgress(progress)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum := s.Run(ctx, ds)
	assert.Equal(t, Summary{Total: 350, Cancelled: 350}, sum)
	assert.Zero(t, getter.total(), "no requests after cancellation")
	assert.Empty(t, progress.batches, "no batch starts after cancellation")
	assert.False(t, log.HasError())

	stop, ok := log.Find("component stopped")
	require.True(t, ok)
	assert.Equal(t, "cancelled", stop.Fields["reason"])
}

// cancellingGetter cancels the run on its first request
type cancellingGetter struct {
	cancel context.CancelFunc
	hits   atomic.Int32
}

func (c *cancellingGetter) Get(ctx context.Context, url string) (*http.Response, error) {
	c.hits.Add(1)
	c.cancel()
	return nil, ctx.Err()
}

func TestRunCancelledMidRunLeavesLaterBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	getter := &cancellingGetter{cancel: cancel}

	var ds []media.Descriptor
	for i := 0; i < 5; i++ {
		ds = append(ds, descriptor(fmt.Sprintf("d%d", i)))
	}

	s, store, log := newTestScheduler(t, getter, 1)
	sum := s.Run(ctx, ds)

	assert.Equal(t, 5, sum.Total)
	assert.Zero(t, sum.Failed)
	assert.Equal(t, 5, sum.Cancelled)
	assert.Equal(t, int32(1), getter.hits.Load(), "only the first batch is attempted")
	assert.False(t, log.HasError())
	for _, d := range ds {
		assert.False(t, store.Exists(d.Filename))
	}
}
