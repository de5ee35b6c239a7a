// Package app wires configuration into the running components shared by
// both entry points.
package app

import (
	"context"
	"fmt"

	"subarchive/internal/downloader"
	"subarchive/pkg/archiver"
	"subarchive/pkg/auth"
	"subarchive/pkg/checkpoint"
	"subarchive/pkg/config"
	"subarchive/pkg/discovery"
	"subarchive/pkg/logger"
	"subarchive/pkg/media"
	"subarchive/pkg/metrics"
	"subarchive/pkg/ratelimit"
	"subarchive/pkg/reddit"
	"subarchive/pkg/storage"
	"subarchive/pkg/ui"
)

// CredentialSource looks up stored API credentials. *auth.Manager satisfies it.
type CredentialSource interface {
	Retrieve(username string) (*auth.Account, error)
}

// App holds the components built from one configuration
type App struct {
	Config    *config.Config
	Logger    logger.Logger
	Endpoints *reddit.Endpoints
	Client    *reddit.Client
	Fetcher   *reddit.Fetcher
	Store     *storage.Store
	Journal   *checkpoint.Manager
	Metrics   *metrics.Metrics
}

// New builds the components for cfg. log may be nil to use the global logger.
func New(cfg *config.Config, log logger.Logger) (*App, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	m := metrics.New()

	endpoints := reddit.NewEndpoints(cfg.Reddit.Subreddit)
	endpoints.PageSize = cfg.Reddit.PageSize
	endpoints.IndexURL = cfg.Reddit.IndexURL

	client := reddit.NewClient(cfg.Reddit.Timeout, cfg.Reddit.UserAgent, log)
	client.SetRecorder(m)

	limiter, err := ratelimit.New(cfg.RateLimit.Strategy, cfg.RateLimit.RequestsPerMinute)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewStore(cfg.Archive.Directory, cfg.Location(), cfg.Archive.SlugLength, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	journal, err := checkpoint.NewManager(cfg.Journal.Path, cfg.Reddit.Subreddit, log)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:    cfg,
		Logger:    log,
		Endpoints: endpoints,
		Client:    client,
		Fetcher:   reddit.NewFetcher(client, limiter, cfg.RateLimit, log),
		Store:     store,
		Journal:   journal,
		Metrics:   m,
	}, nil
}

// Authenticate switches JSON requests to the OAuth host when an account is
// configured. Without one the public endpoints are used.
func (a *App) Authenticate(creds CredentialSource) error {
	name := a.Config.Reddit.Account
	if name == "" {
		return nil
	}

	account, err := creds.Retrieve(name)
	if err != nil {
		return fmt.Errorf("account %s: %w", name, err)
	}

	a.Client.SetTokenSource(account.TokenSource(a.Config.Reddit.UserAgent, a.Client.HTTPClient()))
	a.Logger.InfoWithFields("using api credentials", map[string]interface{}{"account": account.Username})
	return nil
}

// StartMetrics serves /metrics in the background when a listen address is set
func (a *App) StartMetrics(ctx context.Context) {
	addr := a.Config.Metrics.ListenAddr
	if addr == "" {
		return
	}
	go func() {
		if err := a.Metrics.Serve(ctx, addr, a.Logger); err != nil {
			a.Logger.WithError(err).Error("metrics listener stopped")
		}
	}()
}

// Close writes the metrics textfile when one is configured
func (a *App) Close() error {
	if path := a.Config.Metrics.Textfile; path != "" {
		if err := a.Metrics.WriteTextfile(path); err != nil {
			return fmt.Errorf("failed to write metrics textfile: %w", err)
		}
	}
	return nil
}

// Archiver returns the discovery and post archiving driver
func (a *App) Archiver() *archiver.Archiver {
	d := discovery.New(a.Fetcher, a.Endpoints, a.Logger)
	arch := archiver.New(a.Store, d, a.Fetcher, a.Endpoints, a.Logger)
	arch.SetJournal(a.Journal)
	arch.SetRecorder(a.Metrics)
	return arch
}

// Replayer returns the media replay driver. Media requests use their own
// client so the download timeout and the public CDN hosts apply.
func (a *App) Replayer(progress *ui.BatchProgress) *archiver.Replayer {
	mediaClient := reddit.NewClient(a.Config.Download.Timeout, a.Config.Reddit.UserAgent, a.Logger)

	scheduler := downloader.New(mediaClient, a.Store, a.Config.Download, a.Logger)
	scheduler.SetRecorder(a.Metrics)
	if progress != nil {
		scheduler.SetProgress(progress)
	}

	r := archiver.NewReplayer(a.Store, media.NewResolver(a.Store.Location(), a.Logger), scheduler, a.Logger)
	r.SetJournal(a.Journal, a.Config.Reddit.Subreddit)
	r.SetRecorder(a.Metrics)
	return r
}
