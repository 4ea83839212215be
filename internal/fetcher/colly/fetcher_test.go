package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/antonlok/aggregator-threadpool/internal/news"
	"github.com/antonlok/aggregator-threadpool/internal/policy/ratelimit"
)

const rssFeed = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Test</title>
<item><title> First Story </title><link>http://example.com/first</link></item>
<item><title>Relative Story</title><link>/relative</link></item>
<item><title>No Link</title></item>
</channel></rss>`

const atomFeed = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom"><title>Atom</title>
<entry><title>Atom One</title><link rel="self" href="http://example.com/self"/><link rel="alternate" href="http://example.com/atom-one"/></entry>
<entry><title>Atom Two</title><link href="http://example.com/atom-two"/></entry>
</feed>`

const article = `<html><head><title>Pool Story</title><style>.hidden { color: red }</style></head>
<body><p>Worker pools</p><p>schedule tasks</p>
<script>var secret = "javascript";</script><noscript>enable scripts</noscript></body></html>`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/rss", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssFeed))
	})
	mux.HandleFunc("/atom", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(atomFeed))
	})
	mux.HandleFunc("/article", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(article))
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("just words"))
	})
	mux.HandleFunc("/private/article", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(article))
	})
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestFetcher(cfg Config) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return New(cfg, ratelimit.New(ratelimit.Config{}), zap.NewNop())
}

func TestLoadFeedRSS(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	articles, err := newTestFetcher(Config{}).LoadFeed(context.Background(), srv.URL+"/rss")
	require.NoError(t, err)
	require.Equal(t, []news.Article{
		{URL: "http://example.com/first", Title: "First Story"},
		{URL: srv.URL + "/relative", Title: "Relative Story"},
	}, articles)
}

func TestLoadFeedAtom(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	articles, err := newTestFetcher(Config{}).LoadFeed(context.Background(), srv.URL+"/atom")
	require.NoError(t, err)
	require.Equal(t, []news.Article{
		{URL: "http://example.com/atom-one", Title: "Atom One"},
		{URL: "http://example.com/atom-two", Title: "Atom Two"},
	}, articles)
}

func TestLoadFeedRejectsNonXML(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	_, err := newTestFetcher(Config{}).LoadFeed(context.Background(), srv.URL+"/plain")
	require.ErrorIs(t, err, ErrNotFeed)
}

func TestLoadFeedNotFound(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	_, err := newTestFetcher(Config{}).LoadFeed(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")
}

func TestLoadFeedListFromBarePath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "feeds.xml")
	list := `<?xml version="1.0"?><rss><channel>
<item><title>Feed A</title><link>http://a.example/rss</link></item>
<item><title>Feed B</title><link>http://b.example/rss</link></item>
<item><title>Feed A again</title><link>http://a.example/rss</link></item>
</channel></rss>`
	require.NoError(t, os.WriteFile(path, []byte(list), 0o600))

	feeds, err := newTestFetcher(Config{RespectRobots: true}).LoadFeedList(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"http://a.example/rss": "Feed A",
		"http://b.example/rss": "Feed B",
	}, feeds)
}

func TestLoadFeedListEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.xml")
	require.NoError(t, os.WriteFile(path, []byte(`<?xml version="1.0"?><rss><channel></channel></rss>`), 0o600))

	feeds, err := newTestFetcher(Config{}).LoadFeedList(context.Background(), path)
	require.NoError(t, err)
	require.Empty(t, feeds)
}

func TestLoadFeedListMissingFile(t *testing.T) {
	t.Parallel()

	_, err := newTestFetcher(Config{}).LoadFeedList(context.Background(), filepath.Join(t.TempDir(), "nope.xml"))
	require.Error(t, err)
}

func TestLoadDocumentSkipsScripts(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	tokens, err := newTestFetcher(Config{}).LoadDocument(context.Background(), srv.URL+"/article")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"pool", "story", "worker", "pools", "schedule", "tasks"}, tokens)
}

func TestLoadDocumentRejectsNonHTML(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	_, err := newTestFetcher(Config{}).LoadDocument(context.Background(), srv.URL+"/plain")
	require.ErrorIs(t, err, ErrNotHTML)
}

func TestLoadDocumentHonorsRobots(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	_, err := newTestFetcher(Config{RespectRobots: true}).LoadDocument(context.Background(), srv.URL+"/private/article")
	require.Error(t, err)

	tokens, err := newTestFetcher(Config{RespectRobots: false}).LoadDocument(context.Background(), srv.URL+"/private/article")
	require.NoError(t, err)
	require.NotEmpty(t, tokens)
}

func TestLoadDocumentCanceledContext(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestFetcher(Config{}).LoadDocument(ctx, srv.URL+"/article")
	require.ErrorIs(t, err, context.Canceled)
}

func TestResolveLocator(t *testing.T) {
	t.Parallel()

	got, err := resolveLocator("http://example.com/feed")
	require.NoError(t, err)
	require.Equal(t, "http://example.com/feed", got)

	got, err = resolveLocator("small-feed.xml")
	require.NoError(t, err)
	require.True(t, isLocal(got))
	require.Contains(t, got, "small-feed.xml")
}
