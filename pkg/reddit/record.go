package reddit

import (
	"fmt"

	"github.com/tidwall/gjson"
)

const (
	postPath     = "0.data.children.0.data"
	commentsPath = "1.data.children"
)

// PostRecord is the verbatim two-listing response of the per-post endpoint:
// the first listing holds the post, the second its comment tree.
type PostRecord struct {
	Raw []byte
}

// NewPostRecord wraps raw after checking its shape
func NewPostRecord(raw []byte) (*PostRecord, error) {
	r := &PostRecord{Raw: raw}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks that the record is a two-element array whose first
// listing carries exactly one post with an id.
func (r *PostRecord) Validate() error {
	if !gjson.ValidBytes(r.Raw) {
		return fmt.Errorf("post record is not valid JSON")
	}
	root := gjson.ParseBytes(r.Raw)
	if !root.IsArray() {
		return fmt.Errorf("post record is not an array")
	}
	if n := len(root.Array()); n != 2 {
		return fmt.Errorf("post record has %d listings, want 2", n)
	}
	if n := root.Get("0.data.children.#").Int(); n != 1 {
		return fmt.Errorf("post listing has %d entries, want 1", n)
	}
	if r.ID() == "" {
		return fmt.Errorf("post record has no id")
	}
	return nil
}

// Post returns the post's data object
func (r *PostRecord) Post() gjson.Result {
	return gjson.GetBytes(r.Raw, postPath)
}

// Comments returns the top-level comment listing children
func (r *PostRecord) Comments() gjson.Result {
	return gjson.GetBytes(r.Raw, commentsPath)
}

// ID returns the short post id
func (r *PostRecord) ID() string {
	return r.Post().Get("id").String()
}

// Name returns the fullname (t3_ prefixed id) used as a listing cursor
func (r *PostRecord) Name() string {
	return r.Post().Get("name").String()
}

// Title returns the post title
func (r *PostRecord) Title() string {
	return r.Post().Get("title").String()
}

// Created returns the creation epoch in seconds
func (r *PostRecord) Created() int64 {
	return int64(r.Post().Get("created").Float())
}
