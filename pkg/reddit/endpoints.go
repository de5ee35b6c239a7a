package reddit

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// WWWBaseURL serves listings and comment permalinks
	WWWBaseURL = "https://www.reddit.com"

	// PostBaseURL serves the per-post JSON endpoint
	PostBaseURL = "https://reddit.com"

	// WikiBaseURL serves the HTML wiki pages
	WikiBaseURL = "https://old.reddit.com"

	// OAuthBaseURL replaces the public hosts for authenticated JSON requests
	OAuthBaseURL = "https://oauth.reddit.com"

	// ImageCDN hosts uploaded images keyed by media id
	ImageCDN = "https://i.redd.it"

	// VideoCDN hosts DASH renditions keyed by media id and height
	VideoCDN = "https://v.redd.it"

	// IndexPagePath is the wiki page listing every post permalink
	IndexPagePath = "wiki/index/complete_post_index"

	// DefaultPageSize is the hot listing page size
	DefaultPageSize = 25
)

// Endpoints builds the JSON and HTML URLs for one subreddit. The base URLs
// are fields so tests can point them at a local server.
type Endpoints struct {
	Subreddit   string
	PageSize    int
	ListingBase string
	PostBase    string
	WikiBase    string
	// IndexURL overrides the wiki index location when set
	IndexURL string
}

// NewEndpoints returns the public endpoints for sub
func NewEndpoints(sub string) *Endpoints {
	return &Endpoints{
		Subreddit:   sub,
		PageSize:    DefaultPageSize,
		ListingBase: WWWBaseURL,
		PostBase:    PostBaseURL,
		WikiBase:    WikiBaseURL,
	}
}

// Hot returns the hot listing page following the post named after
func (e *Endpoints) Hot(after string) string {
	count := e.PageSize
	if count <= 0 {
		count = DefaultPageSize
	}
	return fmt.Sprintf("%s/r/%s/hot.json?count=%d&after=%s",
		e.ListingBase, e.Subreddit, count, url.QueryEscape(after))
}

// Post returns the JSON endpoint for a single post and its comment tree
func (e *Endpoints) Post(id string) string {
	return fmt.Sprintf("%s/r/%s/comments/%s.json", e.PostBase, e.Subreddit, id)
}

// Index returns the wiki index page
func (e *Endpoints) Index() string {
	if e.IndexURL != "" {
		return e.IndexURL
	}
	return fmt.Sprintf("%s/r/%s/%s", e.WikiBase, e.Subreddit, IndexPagePath)
}

// PermalinkPrefix is the prefix every canonical post link in the index starts with
func (e *Endpoints) PermalinkPrefix() string {
	return fmt.Sprintf("%s/r/%s", WWWBaseURL, e.Subreddit)
}

// ImageURL returns the CDN location of an uploaded image
func ImageURL(mediaID, ext string) string {
	return fmt.Sprintf("%s/%s.%s", ImageCDN, mediaID, ext)
}

// VideoURL returns the DASH rendition of a hosted video at the given height
func VideoURL(mediaID string, height int64) string {
	return fmt.Sprintf("%s/%s/DASH_%d.mp4", VideoCDN, mediaID, height)
}

// CommentURL qualifies a comment permalink
func CommentURL(permalink string) string {
	if permalink == "" {
		return ""
	}
	if !strings.HasPrefix(permalink, "/") {
		permalink = "/" + permalink
	}
	return WWWBaseURL + permalink
}

// oauthURL moves a public JSON URL onto the OAuth host, leaving other hosts alone
func oauthURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	switch u.Host {
	case "www.reddit.com", "reddit.com":
		u.Scheme = "https"
		u.Host = "oauth.reddit.com"
		return u.String()
	default:
		return raw
	}
}
