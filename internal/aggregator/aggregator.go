// Package aggregator builds a search index from a list of feeds.
//
// The build fans out over two worker pools. The feed pool runs one task per
// feed; each feed task schedules one task per article on the article pool
// and then waits for the article pool to drain. That nested Wait blocks a
// feed-pool worker, never an article-pool worker: the two pools own disjoint
// goroutine sets, so the composition cannot deadlock. Feed-pool capacity
// bounds how many feeds can be waiting on articles at once.
//
// Feed and article URLs share one dedup ledger, so a URL is fetched at most
// once per build. Articles with the same title on the same server are merged
// before anything reaches the index: the smallest URL wins and only the
// words common to every variant are kept.
package aggregator

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/antonlok/aggregator-threadpool/internal/metrics"
	"github.com/antonlok/aggregator-threadpool/internal/news"
	"github.com/antonlok/aggregator-threadpool/internal/threadpool"
)

// Defaults applied by New to zero Config fields.
const (
	DefaultFeedListURI    = "small-feed.xml"
	DefaultFeedWorkers    = 10
	DefaultArticleWorkers = 50
)

var tracer = otel.Tracer("github.com/antonlok/aggregator-threadpool/internal/aggregator")

// State is the lifecycle of one Aggregator's build.
type State int32

// Build states. Transitions are one-way.
const (
	NotBuilt State = iota
	Building
	Built
)

func (s State) String() string {
	switch s {
	case NotBuilt:
		return "not_built"
	case Building:
		return "building"
	case Built:
		return "built"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config sizes the pools and names the feed list.
type Config struct {
	FeedListURI    string
	FeedWorkers    int
	ArticleWorkers int
}

// Stats summarizes what a build did.
type Stats struct {
	FeedsProcessed    int64 `json:"feeds_processed"`
	FeedsDuplicate    int64 `json:"feeds_duplicate"`
	FeedsFailed       int64 `json:"feeds_failed"`
	FeedsEmpty        int64 `json:"feeds_empty"`
	ArticlesMerged    int64 `json:"articles_merged"`
	ArticlesCollapsed int64 `json:"articles_collapsed"`
	ArticlesDuplicate int64 `json:"articles_duplicate"`
	ArticlesFailed    int64 `json:"articles_failed"`
	Indexed           int64 `json:"indexed"`
}

type counters struct {
	feedsProcessed    atomic.Int64
	feedsDuplicate    atomic.Int64
	feedsFailed       atomic.Int64
	feedsEmpty        atomic.Int64
	articlesMerged    atomic.Int64
	articlesCollapsed atomic.Int64
	articlesDuplicate atomic.Int64
	articlesFailed    atomic.Int64
	indexed           atomic.Int64
}

// Aggregator crawls feeds and their articles into an index.
type Aggregator struct {
	cfg    Config
	lists  news.FeedListLoader
	feeds  news.FeedLoader
	docs   news.DocumentLoader
	index  news.Indexer
	logger *zap.Logger

	feedPool    *threadpool.Pool
	articlePool *threadpool.Pool
	seen        *seenSet
	partial     *partialResults
	counters    counters

	state atomic.Int32
	once  sync.Once
}

// New wires an Aggregator and starts its two pools.
func New(
	cfg Config,
	lists news.FeedListLoader,
	feeds news.FeedLoader,
	docs news.DocumentLoader,
	index news.Indexer,
	logger *zap.Logger,
) (*Aggregator, error) {
	if lists == nil || feeds == nil || docs == nil || index == nil {
		return nil, fmt.Errorf("aggregator: loaders and index are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FeedListURI == "" {
		cfg.FeedListURI = DefaultFeedListURI
	}
	if cfg.FeedWorkers <= 0 {
		cfg.FeedWorkers = DefaultFeedWorkers
	}
	if cfg.ArticleWorkers <= 0 {
		cfg.ArticleWorkers = DefaultArticleWorkers
	}

	feedPool, err := threadpool.New(cfg.FeedWorkers,
		threadpool.WithName("feeds"),
		threadpool.WithLogger(logger.Named("feed_pool")),
	)
	if err != nil {
		return nil, fmt.Errorf("create feed pool: %w", err)
	}
	articlePool, err := threadpool.New(cfg.ArticleWorkers,
		threadpool.WithName("articles"),
		threadpool.WithLogger(logger.Named("article_pool")),
	)
	if err != nil {
		feedPool.Close()
		return nil, fmt.Errorf("create article pool: %w", err)
	}

	return &Aggregator{
		cfg:         cfg,
		lists:       lists,
		feeds:       feeds,
		docs:        docs,
		index:       index,
		logger:      logger,
		feedPool:    feedPool,
		articlePool: articlePool,
		seen:        newSeenSet(),
		partial:     newPartialResults(),
	}, nil
}

// State reports where the build is.
func (a *Aggregator) State() State {
	return State(a.state.Load())
}

// Stats returns the counters accumulated so far.
func (a *Aggregator) Stats() Stats {
	c := &a.counters
	return Stats{
		FeedsProcessed:    c.feedsProcessed.Load(),
		FeedsDuplicate:    c.feedsDuplicate.Load(),
		FeedsFailed:       c.feedsFailed.Load(),
		FeedsEmpty:        c.feedsEmpty.Load(),
		ArticlesMerged:    c.articlesMerged.Load(),
		ArticlesCollapsed: c.articlesCollapsed.Load(),
		ArticlesDuplicate: c.articlesDuplicate.Load(),
		ArticlesFailed:    c.articlesFailed.Load(),
		Indexed:           c.indexed.Load(),
	}
}

// BuildIndex crawls every feed and flushes the merged articles into the
// index. Only the first call does any work; later calls block until that
// build has finished and return nil. A *ListError means the feed list was
// unusable and the index was left empty.
func (a *Aggregator) BuildIndex(ctx context.Context) error {
	var (
		ran bool
		err error
	)
	a.once.Do(func() {
		ran = true
		a.state.Store(int32(Building))
		start := time.Now()
		var span trace.Span
		ctx, span = tracer.Start(ctx, "aggregator.BuildIndex",
			trace.WithAttributes(attribute.String("feed_list.uri", a.cfg.FeedListURI)))
		err = a.processAllFeeds(ctx)
		endSpan(span, err)
		a.state.Store(int32(Built))
		metrics.ObserveBuild(time.Since(start))

		stats := a.Stats()
		a.logger.Info("index build finished",
			zap.Duration("elapsed", time.Since(start)),
			zap.Int64("feeds", stats.FeedsProcessed),
			zap.Int64("indexed", stats.Indexed),
			zap.Int("urls_seen", a.seen.len()),
		)
	})
	if !ran {
		return nil
	}
	return err
}

// Close drains and stops both pools.
func (a *Aggregator) Close() {
	a.feedPool.Close()
	a.articlePool.Close()
}

func (a *Aggregator) processAllFeeds(ctx context.Context) error {
	uri := a.cfg.FeedListURI
	feeds, err := a.lists.LoadFeedList(ctx, uri)
	if err != nil {
		listErr := &ListError{URI: uri, Err: err}
		a.logger.Warn("feed list unavailable; index left empty", zap.Error(listErr))
		return listErr
	}
	if len(feeds) == 0 {
		a.logger.Info("feed list is well-formed but empty", zap.String("uri", uri))
		return nil
	}

	feedURLs := lo.Keys(feeds)
	sort.Strings(feedURLs)
	a.logger.Info("crawling feeds", zap.String("uri", uri), zap.Int("feeds", len(feedURLs)))

	var scheduleErr error
	for _, feedURL := range feedURLs {
		feedURL, title := feedURL, feeds[feedURL]
		if err := a.feedPool.Schedule(func() { a.processFeed(ctx, feedURL, title) }); err != nil {
			scheduleErr = fmt.Errorf("schedule feed %q: %w", feedURL, err)
			break
		}
	}
	a.feedPool.Wait()
	if scheduleErr != nil {
		return scheduleErr
	}

	a.flush()
	return nil
}

func (a *Aggregator) processFeed(ctx context.Context, feedURL, title string) {
	ctx, span := tracer.Start(ctx, "aggregator.feed", trace.WithAttributes(attribute.String("feed.url", feedURL)))
	defer span.End()

	if !a.seen.markSeen(feedURL) {
		a.counters.feedsDuplicate.Add(1)
		metrics.ObserveFeed("duplicate")
		a.logger.Debug("feed already seen", zap.String("url", feedURL))
		return
	}

	articles, err := a.feeds.LoadFeed(ctx, feedURL)
	if err != nil {
		a.counters.feedsFailed.Add(1)
		metrics.ObserveFeed("failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "load feed")
		a.logger.Debug("skipping feed", zap.String("title", title), zap.Error(&FeedError{URL: feedURL, Err: err}))
		return
	}
	a.counters.feedsProcessed.Add(1)
	if len(articles) == 0 {
		a.counters.feedsEmpty.Add(1)
		metrics.ObserveFeed("empty")
		a.logger.Info("feed is well-formed but empty", zap.String("url", feedURL), zap.String("title", title))
		return
	}
	metrics.ObserveFeed("processed")
	span.SetAttributes(attribute.Int("feed.articles", len(articles)))
	a.logger.Debug("feed loaded",
		zap.String("url", feedURL),
		zap.String("title", title),
		zap.Int("articles", len(articles)),
	)

	for _, article := range articles {
		article := article
		if err := a.articlePool.Schedule(func() { a.processArticle(ctx, article) }); err != nil {
			a.logger.Error("schedule article failed", zap.String("url", article.URL), zap.Error(err))
			break
		}
	}
	// Blocks this feed-pool worker, not an article-pool worker.
	a.articlePool.Wait()
}

func (a *Aggregator) processArticle(ctx context.Context, article news.Article) {
	ctx, span := tracer.Start(ctx, "aggregator.article", trace.WithAttributes(attribute.String("article.url", article.URL)))
	defer span.End()

	if !a.seen.markSeen(article.URL) {
		a.counters.articlesDuplicate.Add(1)
		metrics.ObserveArticle(article.URL, "duplicate")
		return
	}

	tokens, err := a.docs.LoadDocument(ctx, article.URL)
	if err != nil {
		a.counters.articlesFailed.Add(1)
		metrics.ObserveArticle(article.URL, "failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "load document")
		a.logger.Debug("skipping article", zap.Error(&DocumentError{URL: article.URL, Err: err}))
		return
	}

	sorted := slices.Clone(tokens)
	slices.Sort(sorted)
	if a.partial.merge(article, sorted) {
		a.counters.articlesCollapsed.Add(1)
		metrics.ObserveArticle(article.URL, "collapsed")
		return
	}
	a.counters.articlesMerged.Add(1)
	metrics.ObserveArticle(article.URL, "merged")
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (a *Aggregator) flush() {
	for _, entry := range a.partial.drain() {
		a.index.Add(entry.article, entry.tokens)
		a.counters.indexed.Add(1)
	}
}
