package aggregator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/antonlok/aggregator-threadpool/internal/index"
	"github.com/antonlok/aggregator-threadpool/internal/news"
)

var errUnreachable = errors.New("unreachable")

type fakeLists struct {
	feeds map[string]string
	err   error
}

func (f *fakeLists) LoadFeedList(_ context.Context, _ string) (map[string]string, error) {
	return f.feeds, f.err
}

// fakeWeb serves feeds and documents from maps keyed by normalized URL and
// counts every load.
type fakeWeb struct {
	mu        sync.Mutex
	feeds     map[string][]news.Article
	docs      map[string][]string
	feedLoads map[string]int
	docLoads  map[string]int
}

func newFakeWeb() *fakeWeb {
	return &fakeWeb{
		feeds:     make(map[string][]news.Article),
		docs:      make(map[string][]string),
		feedLoads: make(map[string]int),
		docLoads:  make(map[string]int),
	}
}

func (f *fakeWeb) LoadFeed(_ context.Context, feedURL string) ([]news.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := normalized(feedURL)
	f.feedLoads[key]++
	articles, ok := f.feeds[key]
	if !ok {
		return nil, errUnreachable
	}
	return articles, nil
}

func (f *fakeWeb) LoadDocument(_ context.Context, articleURL string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := normalized(articleURL)
	f.docLoads[key]++
	tokens, ok := f.docs[key]
	if !ok {
		return nil, errUnreachable
	}
	return tokens, nil
}

func normalized(rawURL string) string {
	if n, err := news.NormalizeURL(rawURL); err == nil {
		return n
	}
	return rawURL
}

func (f *fakeWeb) totalDocLoads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.docLoads {
		total += n
	}
	return total
}

type addCall struct {
	article news.Article
	tokens  []string
}

type recordingIndex struct {
	mu    sync.Mutex
	calls []addCall
}

func (r *recordingIndex) Add(article news.Article, tokens []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, addCall{article: article, tokens: tokens})
}

func (r *recordingIndex) byURL() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]string, len(r.calls))
	for _, c := range r.calls {
		out[c.article.URL] = c.tokens
	}
	return out
}

func newTestAggregator(t *testing.T, lists news.FeedListLoader, web *fakeWeb, idx news.Indexer) *Aggregator {
	t.Helper()
	agg, err := New(Config{FeedListURI: "feeds.xml", FeedWorkers: 2, ArticleWorkers: 3}, lists, web, web, idx, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(agg.Close)
	return agg
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	web := newFakeWeb()
	_, err := New(Config{}, nil, web, web, index.New(), nil)
	require.Error(t, err)
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	web := newFakeWeb()
	agg, err := New(Config{}, &fakeLists{}, web, web, index.New(), nil)
	require.NoError(t, err)
	t.Cleanup(agg.Close)

	require.Equal(t, DefaultFeedListURI, agg.cfg.FeedListURI)
	require.Equal(t, DefaultFeedWorkers, agg.feedPool.Capacity())
	require.Equal(t, DefaultArticleWorkers, agg.articlePool.Capacity())
	require.Equal(t, NotBuilt, agg.State())
}

func TestBuildIndexMergesVariantsOfOneArticle(t *testing.T) {
	t.Parallel()

	web := newFakeWeb()
	web.feeds["http://feeds.test/one"] = []news.Article{
		{URL: "http://example.com/b", Title: "Same Story"},
		{URL: "http://other.org/c", Title: "Same Story"},
	}
	web.feeds["http://feeds.test/two"] = []news.Article{
		{URL: "http://example.com/a", Title: "Same Story"},
	}
	web.docs["http://example.com/b"] = []string{"z", "x", "y"}
	web.docs["http://example.com/a"] = []string{"w", "y", "z"}
	web.docs["http://other.org/c"] = []string{"q"}

	lists := &fakeLists{feeds: map[string]string{
		"http://feeds.test/one": "One",
		"http://feeds.test/two": "Two",
	}}
	idx := &recordingIndex{}
	agg := newTestAggregator(t, lists, web, idx)

	require.NoError(t, agg.BuildIndex(context.Background()))
	require.Equal(t, Built, agg.State())

	got := idx.byURL()
	require.Len(t, got, 2)
	require.Equal(t, []string{"y", "z"}, got["http://example.com/a"])
	require.Equal(t, []string{"q"}, got["http://other.org/c"])
	require.NotContains(t, got, "http://example.com/b")

	stats := agg.Stats()
	require.EqualValues(t, 2, stats.FeedsProcessed)
	require.EqualValues(t, 2, stats.ArticlesMerged)
	require.EqualValues(t, 1, stats.ArticlesCollapsed)
	require.EqualValues(t, 2, stats.Indexed)
}

func TestBuildIndexFetchesEachURLOnce(t *testing.T) {
	t.Parallel()

	web := newFakeWeb()
	shared := news.Article{URL: "http://example.com/shared", Title: "Shared"}
	web.feeds["http://feeds.test/one"] = []news.Article{shared, shared}
	web.feeds["http://feeds.test/two"] = []news.Article{
		{URL: "HTTP://EXAMPLE.com:80/shared#top", Title: "Shared"},
	}
	web.docs["http://example.com/shared"] = []string{"token"}

	lists := &fakeLists{feeds: map[string]string{
		"http://feeds.test/one":           "One",
		"http://feeds.test/two":           "Two",
		"HTTP://FEEDS.test:80/one#latest": "One again",
	}}
	idx := &recordingIndex{}
	agg := newTestAggregator(t, lists, web, idx)

	require.NoError(t, agg.BuildIndex(context.Background()))

	require.Equal(t, 1, web.totalDocLoads())
	require.Len(t, idx.calls, 1)
	stats := agg.Stats()
	require.EqualValues(t, 1, stats.FeedsDuplicate)
	require.EqualValues(t, 2, stats.ArticlesDuplicate)
}

func TestBuildIndexWithEmptyFeedList(t *testing.T) {
	t.Parallel()

	web := newFakeWeb()
	idx := &recordingIndex{}
	agg := newTestAggregator(t, &fakeLists{feeds: map[string]string{}}, web, idx)

	require.NoError(t, agg.BuildIndex(context.Background()))
	require.Equal(t, Built, agg.State())
	require.Empty(t, idx.byURL())
}

func TestBuildIndexReportsListError(t *testing.T) {
	t.Parallel()

	web := newFakeWeb()
	idx := &recordingIndex{}
	agg := newTestAggregator(t, &fakeLists{err: errUnreachable}, web, idx)

	err := agg.BuildIndex(context.Background())
	var listErr *ListError
	require.ErrorAs(t, err, &listErr)
	require.Equal(t, "feeds.xml", listErr.URI)
	require.ErrorIs(t, err, errUnreachable)
	require.Equal(t, Built, agg.State())
	require.Empty(t, idx.byURL())
}

func TestBuildIndexSkipsFailedFeedsAndDocuments(t *testing.T) {
	t.Parallel()

	web := newFakeWeb()
	web.feeds["http://feeds.test/ok"] = []news.Article{
		{URL: "http://example.com/good", Title: "Good"},
		{URL: "http://example.com/broken", Title: "Broken"},
	}
	web.feeds["http://feeds.test/empty"] = nil
	web.docs["http://example.com/good"] = []string{"fine"}

	lists := &fakeLists{feeds: map[string]string{
		"http://feeds.test/ok":      "OK",
		"http://feeds.test/empty":   "Empty",
		"http://feeds.test/missing": "Missing",
	}}
	idx := &recordingIndex{}
	agg := newTestAggregator(t, lists, web, idx)

	require.NoError(t, agg.BuildIndex(context.Background()))

	got := idx.byURL()
	require.Len(t, got, 1)
	require.Equal(t, []string{"fine"}, got["http://example.com/good"])

	stats := agg.Stats()
	require.EqualValues(t, 1, stats.FeedsFailed)
	require.EqualValues(t, 1, stats.FeedsEmpty)
	require.EqualValues(t, 1, stats.ArticlesFailed)
}

func TestBuildIndexRunsOnce(t *testing.T) {
	t.Parallel()

	web := newFakeWeb()
	web.feeds["http://feeds.test/one"] = []news.Article{{URL: "http://example.com/a", Title: "A"}}
	web.docs["http://example.com/a"] = []string{"alpha"}
	lists := &fakeLists{feeds: map[string]string{"http://feeds.test/one": "One"}}
	idx := &recordingIndex{}
	agg := newTestAggregator(t, lists, web, idx)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = agg.BuildIndex(context.Background())
		}()
	}
	wg.Wait()
	require.NoError(t, agg.BuildIndex(context.Background()))

	require.Equal(t, 1, web.feedLoads["http://feeds.test/one"])
	require.Equal(t, 1, web.totalDocLoads())
	require.Len(t, idx.calls, 1)
}

func TestBuildIndexIntoRealIndex(t *testing.T) {
	t.Parallel()

	web := newFakeWeb()
	web.feeds["http://feeds.test/one"] = []news.Article{
		{URL: "http://example.com/a", Title: "Go News"},
		{URL: "http://example.com/b", Title: "Rust News"},
	}
	web.docs["http://example.com/a"] = []string{"go", "go", "pool"}
	web.docs["http://example.com/b"] = []string{"go", "borrow"}
	lists := &fakeLists{feeds: map[string]string{"http://feeds.test/one": "One"}}
	idx := index.New()
	agg := newTestAggregator(t, lists, web, idx)

	require.NoError(t, agg.BuildIndex(context.Background()))

	matches := idx.Query("go")
	require.Len(t, matches, 2)
	require.Equal(t, "Go News", matches[0].Article.Title)
	require.Equal(t, 2, matches[0].Count)
	require.Empty(t, idx.Query("missing"))
}

func TestIntersectSorted(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []string
		want []string
	}{
		{"disjoint", []string{"a", "b"}, []string{"c"}, []string{}},
		{"overlap", []string{"w", "x", "y", "z"}, []string{"y", "z", "zz"}, []string{"y", "z"}},
		{"multiset", []string{"a", "a", "a", "b"}, []string{"a", "a", "c"}, []string{"a", "a"}},
		{"empty", nil, []string{"a"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, intersectSorted(tt.a, tt.b))
		})
	}
}

func TestPartialResultsKeepsSmallestURL(t *testing.T) {
	t.Parallel()

	p := newPartialResults()
	require.False(t, p.merge(news.Article{URL: "http://example.com/z", Title: "T"}, []string{"a", "b"}))
	require.True(t, p.merge(news.Article{URL: "http://example.com/m", Title: "T"}, []string{"b", "c"}))
	require.True(t, p.merge(news.Article{URL: "http://example.com/x", Title: "T"}, []string{"b"}))
	require.False(t, p.merge(news.Article{URL: "http://example.com/y", Title: "U"}, nil))

	entries := p.drain()
	require.Len(t, entries, 2)
	require.Equal(t, "http://example.com/m", entries[0].article.URL)
	require.Equal(t, []string{"b"}, entries[0].tokens)
	require.Equal(t, "U", entries[1].article.Title)
	require.True(t, sort.SliceIsSorted(entries, func(i, j int) bool {
		return news.IdentityOf(entries[i].article).Less(news.IdentityOf(entries[j].article))
	}))
}

func TestSeenSetNormalizes(t *testing.T) {
	t.Parallel()

	s := newSeenSet()
	require.True(t, s.markSeen("http://example.com/a"))
	require.False(t, s.markSeen("HTTP://example.com:80/a#frag"))
	require.True(t, s.markSeen("http://example.com/b"))
	require.True(t, s.markSeen("::not a url"))
	require.False(t, s.markSeen("::not a url"))
	require.Equal(t, 3, s.len())
}
