package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DatestampLayout renders a creation time as YYYYMMDDHHMMSS
const DatestampLayout = "20060102150405"

// Datestamp formats a creation epoch in loc
func Datestamp(created int64, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return time.Unix(created, 0).In(loc).Format(DatestampLayout)
}

var stripMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))

// Slugify folds accents, transliterates non-Latin scripts to ASCII,
// lowercases, and joins the remaining runs of ASCII letters and digits with
// single dashes. The result is cut to max bytes when max > 0.
func Slugify(s string, max int) string {
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(unidecode.Unidecode(folded))

	var b strings.Builder
	dash := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
			continue
		}
		dash = true
	}

	slug := b.String()
	if max > 0 && len(slug) > max {
		slug = slug[:max]
	}
	return slug
}

// RecordFilename builds {datestamp}_{id}_{slug}.json
func RecordFilename(created int64, id, title string, loc *time.Location, slugLength int) string {
	return fmt.Sprintf("%s_%s_%s.json", Datestamp(created, loc), id, Slugify(title, slugLength))
}

// IDFromFilename returns the post id, the second underscore-separated field
// of the file's stem.
func IDFromFilename(name string) (string, bool) {
	base := filepath.Base(name)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	parts := strings.Split(stem, "_")
	if len(parts) < 2 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
