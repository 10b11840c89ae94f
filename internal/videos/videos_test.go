package videos

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const channelFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns="http://www.w3.org/2005/Atom">
  <title>MOM Beatbox</title>
  <entry>
    <id>yt:video:aaaaaaaaaaa</id>
    <yt:videoId>aaaaaaaaaaa</yt:videoId>
    <title>Loop session</title>
    <link rel="alternate" href="https://www.youtube.com/watch?v=aaaaaaaaaaa"/>
    <published>2025-11-20T10:00:00+00:00</published>
  </entry>
  <entry>
    <id>yt:video:bbbbbbbbbbb</id>
    <title>Link only</title>
    <link rel="alternate" href="https://www.youtube.com/watch?v=bbbbbbbbbbb"/>
    <published>2025-11-10T10:00:00+00:00</published>
  </entry>
  <entry>
    <id>yt:video:dupe</id>
    <yt:videoId>dQw4w9WgXcQ</yt:videoId>
    <title>Already configured</title>
    <link rel="alternate" href="https://www.youtube.com/watch?v=dQw4w9WgXcQ"/>
  </entry>
</feed>`

func newChannelServer(t *testing.T, status int, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Header().Set("Content-Type", "application/atom+xml")
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = io.WriteString(w, channelFeed)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestListMergesConfiguredAndFeed(t *testing.T) {
	var hits int32
	srv := newChannelServer(t, http.StatusOK, &hits)

	s := NewSource([]string{"dQw4w9WgXcQ", "not-an-id", "dQw4w9WgXcQ"}, srv.URL, 10, time.Hour)
	got := s.List(context.Background())

	wantIDs := []string{"dQw4w9WgXcQ", "aaaaaaaaaaa", "bbbbbbbbbbb"}
	if len(got) != len(wantIDs) {
		t.Fatalf("Expected %d videos, got %+v", len(wantIDs), got)
	}
	for i, id := range wantIDs {
		if got[i].ID != id {
			t.Errorf("Video %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
	if got[1].Title != "Loop session" || got[1].Published == nil {
		t.Errorf("Expected feed metadata, got %+v", got[1])
	}
	if got[0].Thumbnail != "https://i.ytimg.com/vi/dQw4w9WgXcQ/hqdefault.jpg" {
		t.Errorf("Unexpected thumbnail %s", got[0].Thumbnail)
	}
}

func TestListCapsAndMemoizes(t *testing.T) {
	var hits int32
	srv := newChannelServer(t, http.StatusOK, &hits)

	now := time.Date(2025, 12, 1, 12, 0, 0, 0, time.UTC)
	s := NewSource(nil, srv.URL, 2, time.Hour)
	s.now = func() time.Time { return now }

	if got := s.List(context.Background()); len(got) != 2 {
		t.Errorf("Expected cap of 2, got %d", len(got))
	}
	s.List(context.Background())
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("Expected memoized result within TTL, got %d feed requests", hits)
	}

	now = now.Add(2 * time.Hour)
	s.List(context.Background())
	if atomic.LoadInt32(&hits) != 2 {
		t.Errorf("Expected refetch after TTL, got %d feed requests", hits)
	}
}

func TestListFeedFailureFallsBack(t *testing.T) {
	var hits int32
	srv := newChannelServer(t, http.StatusInternalServerError, &hits)

	s := NewSource([]string{"dQw4w9WgXcQ"}, srv.URL, 10, time.Hour)
	got := s.List(context.Background())
	if len(got) != 1 || got[0].ID != "dQw4w9WgXcQ" {
		t.Errorf("Expected configured ids only, got %+v", got)
	}
}

func TestIDFromLink(t *testing.T) {
	tests := map[string]string{
		"https://www.youtube.com/watch?v=aaaaaaaaaaa": "aaaaaaaaaaa",
		"https://youtu.be/bbbbbbbbbbb":                "bbbbbbbbbbb",
		"https://example.com/video":                   "",
		"::bad":                                       "",
	}
	for link, want := range tests {
		if got := idFromLink(link); got != want {
			t.Errorf("idFromLink(%q) = %q, want %q", link, got, want)
		}
	}
}
