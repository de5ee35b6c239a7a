package discovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// IndexStats summarises one pass over the wiki index
type IndexStats struct {
	// Total is the number of candidate links that yielded an id
	Total  int
	Unique int
	// Errors counts candidate links that did not
	Errors int
}

// Index reads the wiki index page and returns every post id it links to,
// deduplicated, in first-seen order.
func (d *Discoverer) Index(ctx context.Context) ([]string, IndexStats, error) {
	var stats IndexStats
	url := d.endpoints.Index()

	d.logger.InfoWithFields("fetching post index and extracting ids", map[string]interface{}{"url": url})

	html, err := d.source.GetHTML(ctx, url)
	if err != nil {
		return nil, stats, fmt.Errorf("failed to fetch post index: %w", err)
	}

	prefix := d.endpoints.PermalinkPrefix()
	candidates, err := indexCandidates(html, prefix)
	if err != nil {
		return nil, stats, err
	}

	var ids []string
	seen := make(map[string]bool)
	for _, line := range candidates {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, prefix) {
			continue
		}

		id, ok := ExtractID(line)
		if !ok {
			stats.Errors++
			d.logger.WarnWithFields("wrong link format", map[string]interface{}{
				"post_id": id,
				"link":    line,
			})
			continue
		}

		stats.Total++
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	stats.Unique = len(ids)

	d.logger.InfoWithFields("post index parsed", map[string]interface{}{
		"total":      stats.Total,
		"post_dedup": stats.Unique,
		"errors":     stats.Errors,
	})
	return ids, stats, nil
}

// indexCandidates returns the text lines of the wiki body, followed by the
// targets of links whose text is not itself a permalink.
func indexCandidates(html, prefix string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse post index: %w", err)
	}

	body := doc.Find("div.wiki")
	if body.Length() == 0 {
		body = doc.Find("body")
	}

	candidates := strings.Split(body.Text(), "\n")
	body.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		if strings.HasPrefix(strings.TrimSpace(a.Text()), prefix) {
			return
		}
		if href, ok := a.Attr("href"); ok {
			candidates = append(candidates, href)
		}
	})
	return candidates, nil
}

// ExtractID pulls the post id out of a permalink. Anything after the first
// space is ignored and a missing trailing slash is tolerated. The id must
// be 6 or 7 characters; otherwise the offending segment is returned with
// false.
func ExtractID(link string) (string, bool) {
	link = strings.TrimSpace(link)
	if i := strings.Index(link, " "); i >= 0 {
		link = link[:i]
	}
	if !strings.HasSuffix(link, "/") {
		link += "/"
	}

	s := strings.Split(link, "/")
	if len(s) < 4 {
		return "", false
	}
	id := s[len(s)-4]
	if id == "comments" {
		id = s[len(s)-3]
	}
	if len(id) != 6 && len(id) != 7 {
		return id, false
	}
	return id, true
}
