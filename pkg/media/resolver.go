// Package media turns archived post records into downloadable media
// descriptors.
package media

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"subarchive/pkg/logger"
	"subarchive/pkg/reddit"
	"subarchive/pkg/storage"
)

// Descriptor is one media file to fetch
type Descriptor struct {
	PostID   string
	MediaID  string
	MediaKey string
	Kind     Kind
	// Attributes is the raw media_metadata entry
	Attributes []byte

	CommentID        string
	CommentPermalink string
	CommentURL       string

	URL string
	Ext string
	// Filename is the destination inside the archive and the dedup key
	Filename string
}

// ResolveError reports a media entry that could not be turned into a URL
type ResolveError struct {
	PostID   string
	MediaKey string
	Reason   string
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("post %s media %s: %s", e.PostID, e.MediaKey, e.Reason)
}

// Resolver maps post records to descriptors. It does no I/O.
type Resolver struct {
	loc    *time.Location
	logger logger.Logger
}

// NewResolver creates a resolver that stamps filenames in loc
func NewResolver(loc *time.Location, log logger.Logger) *Resolver {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Resolver{loc: loc, logger: log}
}

type entry struct {
	key       string
	mediaID   string
	attrs     gjson.Result
	commentID string
	permalink string
}

// collect gathers post media then comment media in pre-order. The first
// entry seen for a key wins.
func collect(rec *reddit.PostRecord) []entry {
	var entries []entry
	seen := make(map[string]bool)

	add := func(metadata gjson.Result, commentID, permalink string) {
		if !metadata.IsObject() {
			return
		}
		metadata.ForEach(func(k, v gjson.Result) bool {
			key := k.String()
			if commentID != "" {
				key = commentID + "_" + key
			}
			if !seen[key] {
				seen[key] = true
				entries = append(entries, entry{
					key:       key,
					mediaID:   k.String(),
					attrs:     v,
					commentID: commentID,
					permalink: permalink,
				})
			}
			return true
		})
	}

	add(rec.Post().Get("media_metadata"), "", "")

	// explicit stack; children are pushed in reverse to keep document order
	var stack []gjson.Result
	push := func(children gjson.Result) {
		nodes := children.Array()
		for i := len(nodes) - 1; i >= 0; i-- {
			stack = append(stack, nodes[i])
		}
	}
	push(rec.Comments())

	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		data := node.Get("data")
		add(data.Get("media_metadata"), data.Get("id").String(), data.Get("permalink").String())

		if replies := data.Get("replies"); replies.IsObject() {
			push(replies.Get("data.children"))
		}
	}
	return entries
}

// Resolve returns the descriptors for rec in deterministic order. Entries
// that cannot be resolved are reported together in the error while the
// rest are still returned.
func (r *Resolver) Resolve(rec *reddit.PostRecord) ([]Descriptor, error) {
	postID := rec.ID()
	datestamp := storage.Datestamp(rec.Created(), r.loc)

	var (
		out  []Descriptor
		errs []error
	)
	for _, e := range collect(rec) {
		d := Descriptor{
			PostID:           postID,
			MediaID:          e.mediaID,
			MediaKey:         e.key,
			Kind:             ParseKind(e.attrs.Get("e").String()),
			Attributes:       []byte(e.attrs.Raw),
			CommentID:        e.commentID,
			CommentPermalink: e.permalink,
			CommentURL:       reddit.CommentURL(e.permalink),
		}

		switch d.Kind {
		case KindImage, KindAnimatedImage:
			ok, err := resolveImage(&d, e.attrs)
			if err != nil {
				errs = append(errs, &ResolveError{PostID: postID, MediaKey: e.key, Reason: err.Error()})
				continue
			}
			if !ok {
				r.logger.DebugWithFields("skipping embedded gif", map[string]interface{}{
					"post_id":   postID,
					"media_key": e.key,
					"url":       e.attrs.Get("ext").String(),
				})
				continue
			}
		case KindRedditVideo:
			if err := resolveVideo(&d, e.attrs); err != nil {
				errs = append(errs, &ResolveError{PostID: postID, MediaKey: e.key, Reason: err.Error()})
				continue
			}
		case KindUnhandled:
			r.logger.WarnWithFields("unhandled media kind", map[string]interface{}{
				"kind":      e.attrs.Get("e").String(),
				"datestamp": datestamp,
				"post_id":   postID,
				"media_key": e.key,
			})
			continue
		}

		d.Filename = fmt.Sprintf("%s_%s_%s.%s", datestamp, postID, d.MediaKey, d.Ext)
		out = append(out, d)
	}

	return out, errors.Join(errs...)
}

// ResolveAll resolves every record and drops descriptors whose filename was
// already produced, so no two downloads share a destination.
func (r *Resolver) ResolveAll(records []*reddit.PostRecord) ([]Descriptor, error) {
	var (
		out  []Descriptor
		errs []error
	)
	seen := make(map[string]bool)

	for _, rec := range records {
		ds, err := r.Resolve(rec)
		if err != nil {
			errs = append(errs, err)
		}
		for _, d := range ds {
			if seen[d.Filename] {
				continue
			}
			seen[d.Filename] = true
			out = append(out, d)
		}
	}
	return out, errors.Join(errs...)
}

// resolveImage fills URL and Ext. It returns false when the entry points at
// an embeddable gif host and should be dropped.
func resolveImage(d *Descriptor, attrs gjson.Result) (bool, error) {
	if ext := attrs.Get("ext").String(); ext != "" {
		u, err := url.Parse(ext)
		if err != nil {
			return false, fmt.Errorf("bad external url %q: %w", ext, err)
		}
		if isGiphy(u.Hostname()) {
			return false, nil
		}

		d.URL = ext
		d.Ext = strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
		if d.Ext != "" {
			return true, nil
		}
	}

	mime := attrs.Get("m").String()
	ext, ok := ExtensionForMIME(mime)
	if !ok {
		return false, fmt.Errorf("unknown mime type %q", mime)
	}
	d.Ext = ext
	if d.URL == "" {
		d.URL = reddit.ImageURL(d.MediaID, ext)
	}
	return true, nil
}

func resolveVideo(d *Descriptor, attrs gjson.Result) error {
	id := attrs.Get("id").String()
	if id == "" {
		id = d.MediaID
	}
	y := attrs.Get("y")
	if !y.Exists() || y.Int() <= 0 {
		return fmt.Errorf("video has no resolution")
	}

	d.URL = reddit.VideoURL(id, y.Int())
	d.Ext = "mp4"
	return nil
}

func isGiphy(host string) bool {
	host = strings.ToLower(host)
	return host == "giphy.com" || strings.HasSuffix(host, ".giphy.com")
}

// ResolveErrors flattens the joined error returned by Resolve or ResolveAll.
func ResolveErrors(err error) []*ResolveError {
	var out []*ResolveError
	stack := []error{err}
	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if e == nil {
			continue
		}
		if re, ok := e.(*ResolveError); ok {
			out = append(out, re)
			continue
		}
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			errs := joined.Unwrap()
			for i := len(errs) - 1; i >= 0; i-- {
				stack = append(stack, errs[i])
			}
		}
	}
	return out
}
