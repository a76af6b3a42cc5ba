package feeds

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"
	require_ "github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vodkeeper/vodkeeper"
	"github.com/vodkeeper/vodkeeper/internal/store"
)

const feedTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns:media="http://search.yahoo.com/mrss/" xmlns="http://www.w3.org/2005/Atom">
  <title>some channel</title>
  <entry>
    <title>a video</title>
    <link rel="alternate" href="https://x/watch?v=abc123"/>
    <published>%s</published>
    <media:group>
      <media:thumbnail url="https://x/thumb/abc123.jpg" width="480" height="360"/>
      <media:description>a description</media:description>
      <media:community>
        <media:starRating count="10" average="4.75" min="1" max="5"/>
        <media:statistics views="12345"/>
      </media:community>
    </media:group>
  </entry>
</feed>`

func serveFeed(t *testing.T, published time.Time) *httptest.Server {
	t.Helper()
	body := fmt.Sprintf(feedTemplate, published.Format(time.RFC3339))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestDiscovererParsesMediaExtensions(t *testing.T) {
	assert := assert_.New(t)
	published := time.Now().Add(-time.Hour).Truncate(time.Second)
	server := serveFeed(t, published)

	items, err := NewDiscoverer().Fetch(context.Background(), Subscription{
		Name:    "some channel",
		FeedURL: server.URL,
	})
	assert.NoError(err)
	if assert.Len(items, 1) {
		item := items[0]
		assert.Equal("https://x/watch?v=abc123", item.URL)
		assert.Equal("a video", item.Title)
		assert.Equal("some channel", item.Channel)
		assert.Equal("https://x/thumb/abc123.jpg", item.ThumbnailURL)
		assert.Equal("a description", item.Description)
		assert.Equal(12345, item.Views)
		assert.Equal(4.75, item.Rating)
		assert.Equal(published.Unix(), item.Published)
	}
}

func TestLoadSubscriptions(t *testing.T) {
	assert := assert_.New(t)
	path := filepath.Join(t.TempDir(), "subscriptions.json")
	require_.NoError(t, os.WriteFile(path, []byte(
		`[{"name": "some channel", "feed_url": "https://x/feed"}]`), 0644))

	subs, err := LoadSubscriptions(path)
	assert.NoError(err)
	if assert.Len(subs, 1) {
		assert.Equal("some channel", subs[0].Name)
		assert.Equal("https://x/feed", subs[0].FeedURL)
	}

	_, err = LoadSubscriptions(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(err)
}

func newPollerHarness(t *testing.T) (*Poller, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:", zap.NewNop())
	require_.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	cfg := vodkeeper.DefaultConfig()
	return NewPoller(cfg, st, NewDiscoverer(), nil), st
}

func TestIngestRouting(t *testing.T) {
	assert := assert_.New(t)
	poller, st := newPollerHarness(t)
	now := time.Now()

	// Already archived: counters refreshed, no job.
	require_.NoError(t, st.InsertVideo(&store.Video{
		URL:   "https://x/watch?v=seen01",
		Views: 10,
	}))

	items := []vodkeeper.CandidateItem{
		{URL: "https://x/watch?v=new001", Title: "new", Published: now.Unix()},
		{URL: "https://x/watch?v=seen01", Published: now.Unix(), Views: 999, Rating: 4.5},
		{URL: "https://x/watch?v=stale1", Published: now.Add(-72 * time.Hour).Unix()},
	}

	enqueued, refreshed := poller.ingest(items)
	assert.Equal(1, enqueued)
	assert.Equal(1, refreshed)

	jobs, _ := st.PendingJobs(10)
	if assert.Len(jobs, 1) {
		assert.Equal("https://x/watch?v=new001", jobs[0].VideoURL)
	}
	video, _ := st.VideoByURL("https://x/watch?v=seen01")
	assert.Equal(999, video.Views)

	// Re-ingesting is idempotent: the active job blocks a duplicate.
	enqueued, _ = poller.ingest(items[:1])
	assert.Zero(enqueued)
}

func TestPollAggregatesFeedFailures(t *testing.T) {
	assert := assert_.New(t)
	_, st := newPollerHarness(t)

	good := serveFeed(t, time.Now().Add(-time.Hour))
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(bad.Close)

	cfg := vodkeeper.DefaultConfig()
	poller := NewPoller(cfg, st, NewDiscoverer(), []Subscription{
		{Name: "good", FeedURL: good.URL},
		{Name: "bad", FeedURL: bad.URL},
	})

	err := poller.Poll(context.Background())
	assert.Error(err)

	// The healthy feed was still ingested.
	jobs, _ := st.PendingJobs(10)
	assert.Len(jobs, 1)
}
