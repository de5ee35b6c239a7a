// Package metrics exposes run counters for Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"subarchive/pkg/logger"
)

// Namespace prefixes every metric name
const Namespace = "subarchive"

// Metrics holds all counters for one process
type Metrics struct {
	registry *prometheus.Registry

	PostsDiscovered prometheus.Counter
	PostsArchived   prometheus.Counter
	PostsFailed     prometheus.Counter
	JSONRequests    *prometheus.CounterVec
	RateLimitPauses prometheus.Counter

	MediaDownloadedTotal prometheus.Counter
	MediaSkippedTotal    prometheus.Counter
	MediaFailedTotal     prometheus.Counter
	MediaBytes           prometheus.Counter
	ResolveErrorsTotal   prometheus.Counter
	BatchInFlightGauge   prometheus.Gauge
}

// New creates all metrics on a private registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	m := &Metrics{registry: reg}

	m.initPostMetrics(factory)
	m.initMediaMetrics(factory)
	return m
}

func (m *Metrics) initPostMetrics(factory promauto.Factory) {
	m.PostsDiscovered = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "posts_discovered_total",
		Help:      "Post ids returned by discovery",
	})
	m.PostsArchived = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "posts_archived_total",
		Help:      "Post records written to the archive",
	})
	m.PostsFailed = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "posts_failed_total",
		Help:      "Posts that could not be fetched",
	})
	m.JSONRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "json_requests_total",
		Help:      "JSON requests by response status (0 for transport errors)",
	}, []string{"status"})
	m.RateLimitPauses = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "rate_limited_total",
		Help:      "Pauses taken after HTTP 429",
	})
}

func (m *Metrics) initMediaMetrics(factory promauto.Factory) {
	m.MediaDownloadedTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "media_downloaded_total",
		Help:      "Media files written",
	})
	m.MediaSkippedTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "media_skipped_total",
		Help:      "Media files already present",
	})
	m.MediaFailedTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "media_failed_total",
		Help:      "Media downloads that failed",
	})
	m.MediaBytes = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "media_bytes_total",
		Help:      "Bytes written to media files",
	})
	m.ResolveErrorsTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "resolve_errors_total",
		Help:      "Media entries that could not be resolved to a URL",
	})
	m.BatchInFlightGauge = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "batch_in_flight",
		Help:      "Downloads in the current batch",
	})
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) JSONRequest(status int) {
	m.JSONRequests.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (m *Metrics) RateLimited()        { m.RateLimitPauses.Inc() }
func (m *Metrics) Discovered(n int)    { m.PostsDiscovered.Add(float64(n)) }
func (m *Metrics) Archived()           { m.PostsArchived.Inc() }
func (m *Metrics) Failed()             { m.PostsFailed.Inc() }
func (m *Metrics) MediaSkipped()       { m.MediaSkippedTotal.Inc() }
func (m *Metrics) MediaFailed()        { m.MediaFailedTotal.Inc() }
func (m *Metrics) ResolveErrors(n int) { m.ResolveErrorsTotal.Add(float64(n)) }
func (m *Metrics) BatchInFlight(n int) { m.BatchInFlightGauge.Set(float64(n)) }

func (m *Metrics) MediaDownloaded(bytes int64) {
	m.MediaDownloadedTotal.Inc()
	m.MediaBytes.Add(float64(bytes))
}

// Serve exposes /metrics on addr until ctx is done
func (m *Metrics) Serve(ctx context.Context, addr string, log logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.LogComponentStart(log, "metrics", map[string]interface{}{"addr": addr})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// WriteTextfile dumps the current values in the node exporter textfile format
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
