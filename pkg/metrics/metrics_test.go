package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subarchive/pkg/logger"
)

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.Discovered(3)
	m.Archived()
	m.Failed()
	m.JSONRequest(200)
	m.JSONRequest(200)
	m.JSONRequest(429)
	m.RateLimited()
	m.MediaDownloaded(1024)
	m.MediaDownloaded(512)
	m.MediaSkipped()
	m.MediaFailed()
	m.ResolveErrors(2)
	m.BatchInFlight(7)

	path := filepath.Join(t.TempDir(), "subarchive.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	for _, want := range []string{
		"subarchive_posts_discovered_total 3",
		"subarchive_posts_archived_total 1",
		"subarchive_posts_failed_total 1",
		`subarchive_json_requests_total{status="200"} 2`,
		`subarchive_json_requests_total{status="429"} 1`,
		"subarchive_rate_limited_total 1",
		"subarchive_media_downloaded_total 2",
		"subarchive_media_bytes_total 1536",
		"subarchive_media_skipped_total 1",
		"subarchive_media_failed_total 1",
		"subarchive_resolve_errors_total 2",
		"subarchive_batch_in_flight 7",
	} {
		assert.Contains(t, text, want)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.Archived()

	rec := httptest.NewRecorder()
	promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "subarchive_posts_archived_total 1")
}

func TestServeStopsWithContext(t *testing.T) {
	m := New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx, "127.0.0.1:0", logger.NewNopLogger()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
