package storage

import (
	"strings"
	"testing"
	"time"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"Hello World", 70, "hello-world"},
		{"  Tensegrity & the Left Side!  ", 70, "tensegrity-the-left-side"},
		{"Café Déjà Vu", 70, "cafe-deja-vu"},
		{"Don't stop", 70, "don-t-stop"},
		{"---", 70, ""},
		{"Привет, мир", 70, "privet-mir"},
		{"Αθήνα", 70, "athena"},
		{"日本語", 70, "ri-ben-yu"},
		{"abc def", 5, "abc-d"},
		{"UPPER_case__mix", 0, "upper-case-mix"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in, tt.max); got != tt.want {
			t.Errorf("Slugify(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestSlugifyCapsLength(t *testing.T) {
	got := Slugify(strings.Repeat("word ", 40), 70)
	if len(got) != 70 {
		t.Errorf("expected 70 characters, got %d", len(got))
	}
}

func TestDatestamp(t *testing.T) {
	if got := Datestamp(1609459200, time.UTC); got != "20210101000000" {
		t.Errorf("got %q", got)
	}
	tokyo := time.FixedZone("JST", 9*3600)
	if got := Datestamp(1609459200, tokyo); got != "20210101090000" {
		t.Errorf("got %q", got)
	}
}

func TestRecordFilenameRoundTrip(t *testing.T) {
	name := RecordFilename(1609459200, "abc123", "A_Title With_Underscores", time.UTC, 70)
	if name != "20210101000000_abc123_a-title-with-underscores.json" {
		t.Errorf("unexpected name %q", name)
	}

	id, ok := IDFromFilename("/archive/" + name)
	if !ok || id != "abc123" {
		t.Errorf("IDFromFilename = %q, %v", id, ok)
	}

	if _, ok := IDFromFilename("nounderscore.json"); ok {
		t.Error("expected failure for a name without an id field")
	}
}
