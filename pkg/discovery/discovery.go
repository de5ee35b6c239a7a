// Package discovery finds the ids of posts to archive, either from the
// subreddit's wiki index or by paging through the hot listing.
package discovery

import (
	"context"
	"fmt"

	"subarchive/pkg/logger"
	"subarchive/pkg/reddit"
)

// Mode selects how post ids are discovered
type Mode string

const (
	ModeIndex  Mode = "index"
	ModeScrape Mode = "scrape"
)

// ValidModes lists the accepted mode names
var ValidModes = []string{string(ModeIndex), string(ModeScrape)}

// ParseMode validates a mode name. An empty name selects the index.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeIndex:
		return ModeIndex, nil
	case ModeScrape:
		return ModeScrape, nil
	default:
		return "", fmt.Errorf("fetch mode must be either 'index' or 'scrape', got %q", s)
	}
}

// Source fetches pages. *reddit.Fetcher satisfies it.
type Source interface {
	GetJSON(ctx context.Context, url string) ([]byte, error)
	GetHTML(ctx context.Context, url string) (string, error)
}

// Discoverer runs both discovery strategies against one subreddit
type Discoverer struct {
	source    Source
	endpoints *reddit.Endpoints
	logger    logger.Logger
}

// New creates a Discoverer
func New(source Source, endpoints *reddit.Endpoints, log logger.Logger) *Discoverer {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Discoverer{source: source, endpoints: endpoints, logger: log}
}

// Discover runs the strategy for mode. stopAt only applies to scraping.
func (d *Discoverer) Discover(ctx context.Context, mode Mode, stopAt string) ([]string, error) {
	switch mode {
	case ModeIndex:
		ids, _, err := d.Index(ctx)
		return ids, err
	case ModeScrape:
		return d.Scrape(ctx, stopAt)
	default:
		return nil, fmt.Errorf("unknown discovery mode %q", mode)
	}
}
