// Package videos supplies the ordered list of YouTube videos for the site's
// gallery: configured ids first, then the newest uploads from a channel feed.
package videos

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	appLog "momcal/internal/log"
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// Video is one gallery entry.
type Video struct {
	ID        string     `json:"id"`
	Title     string     `json:"title,omitempty"`
	URL       string     `json:"url"`
	Thumbnail string     `json:"thumbnail"`
	Published *time.Time `json:"published,omitempty"`
}

func newVideo(id string) Video {
	return Video{
		ID:        id,
		URL:       "https://www.youtube.com/watch?v=" + id,
		Thumbnail: "https://i.ytimg.com/vi/" + id + "/hqdefault.jpg",
	}
}

// Source memoizes the merged list for a TTL.
type Source struct {
	ids     []string
	feedURL string
	max     int
	ttl     time.Duration
	parser  *gofeed.Parser
	now     func() time.Time

	mu        sync.Mutex
	cached    []Video
	expiresAt time.Time
}

func NewSource(ids []string, feedURL string, max int, ttl time.Duration) *Source {
	p := gofeed.NewParser()
	p.Client = &http.Client{Timeout: 10 * time.Second}
	return &Source{
		ids:     ids,
		feedURL: feedURL,
		max:     max,
		ttl:     ttl,
		parser:  p,
		now:     time.Now,
	}
}

// List returns at most max videos, deduplicated by id. A failing channel feed
// degrades to the configured ids and is retried after the TTL.
func (s *Source) List(ctx context.Context) []Video {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.now().Before(s.expiresAt) {
		return append([]Video(nil), s.cached...)
	}

	seen := make(map[string]bool)
	out := make([]Video, 0, len(s.ids))
	add := func(v Video) {
		if seen[v.ID] || (s.max > 0 && len(out) >= s.max) {
			return
		}
		seen[v.ID] = true
		out = append(out, v)
	}

	for _, id := range s.ids {
		if id = strings.TrimSpace(id); videoIDPattern.MatchString(id) {
			add(newVideo(id))
		}
	}

	if s.feedURL != "" {
		feed, err := s.parser.ParseURLWithContext(s.feedURL, ctx)
		if err != nil {
			appLog.Warn("video feed unavailable, using configured ids", "err", err)
		} else {
			for _, item := range feed.Items {
				if v, ok := videoFromItem(item); ok {
					add(v)
				}
			}
		}
	}

	s.cached = out
	s.expiresAt = s.now().Add(s.ttl)
	return append([]Video(nil), out...)
}

// videoFromItem reads the yt:videoId extension of a YouTube Atom entry, or
// falls back to the watch link.
func videoFromItem(item *gofeed.Item) (Video, bool) {
	id := ""
	if yt, ok := item.Extensions["yt"]; ok {
		if vals := yt["videoId"]; len(vals) > 0 {
			id = vals[0].Value
		}
	}
	if id == "" {
		id = idFromLink(item.Link)
	}
	if !videoIDPattern.MatchString(id) {
		return Video{}, false
	}

	v := newVideo(id)
	v.Title = item.Title
	if item.PublishedParsed != nil {
		t := *item.PublishedParsed
		v.Published = &t
	}
	return v, true
}

func idFromLink(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	if v := u.Query().Get("v"); v != "" {
		return v
	}
	if u.Host == "youtu.be" {
		return strings.Trim(u.Path, "/")
	}
	return ""
}
