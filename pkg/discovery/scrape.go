package discovery

import (
	"context"

	"github.com/tidwall/gjson"
)

// Scrape pages through the hot listing and returns post ids in the order
// they are seen. Paging stops at an empty page, at a failed request, or as
// soon as stopAt is met; ids from stopAt onward are not returned.
func (d *Discoverer) Scrape(ctx context.Context, stopAt string) ([]string, error) {
	var ids []string
	after := ""
	seenCursors := make(map[string]bool)

	d.logger.InfoWithFields("scraping post ids", map[string]interface{}{
		"subreddit": d.endpoints.Subreddit,
		"stop_at":   stopAt,
	})

	for {
		if err := ctx.Err(); err != nil {
			return ids, err
		}

		url := d.endpoints.Hot(after)
		d.logger.DebugWithFields("request", map[string]interface{}{"url": url})

		body, err := d.source.GetJSON(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return ids, ctx.Err()
			}
			d.logger.WithError(err).WarnWithFields("no resp", map[string]interface{}{"url": url})
			return ids, nil
		}

		posts := gjson.GetBytes(body, "data.children").Array()
		if len(posts) == 0 {
			return ids, nil
		}

		for _, post := range posts {
			id := post.Get("data.id").String()
			if stopAt != "" && id == stopAt {
				d.logger.InfoWithFields("reached stop id", map[string]interface{}{"id": id})
				return ids, nil
			}
			d.logger.InfoWithFields("post", map[string]interface{}{
				"id":    id,
				"title": post.Get("data.title").String(),
			})
			ids = append(ids, id)
		}

		// the listing only pages on the fullname, not the short id
		after = posts[len(posts)-1].Get("data.name").String()
		if after == "" || seenCursors[after] {
			return ids, nil
		}
		seenCursors[after] = true
	}
}
