// Package collyfetcher loads feed lists, feeds and article documents with
// gocolly. It serves http(s) and file URLs; a bare path is read from disk.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/antonlok/aggregator-threadpool/internal/metrics"
	"github.com/antonlok/aggregator-threadpool/internal/news"
	"github.com/antonlok/aggregator-threadpool/internal/policy/ratelimit"
	"github.com/antonlok/aggregator-threadpool/internal/tokenize"
)

const defaultTimeout = 15 * time.Second

var (
	// ErrNotFeed is returned when a feed or feed list is served with a
	// content type that cannot hold RSS or Atom.
	ErrNotFeed = errors.New("response is not an XML feed")
	// ErrNotHTML is returned when an article document has no html element.
	ErrNotHTML = errors.New("response is not an HTML document")
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher implements news.FeedListLoader, news.FeedLoader and
// news.DocumentLoader on top of one shared Colly backend.
type Fetcher struct {
	cfg           Config
	limiter       *ratelimit.Limiter
	logger        *zap.Logger
	baseCollector *colly.Collector
}

var (
	_ news.FeedListLoader = (*Fetcher)(nil)
	_ news.FeedLoader     = (*Fetcher)(nil)
	_ news.DocumentLoader = (*Fetcher)(nil)
)

// New builds a Fetcher. limiter may be nil to disable politeness waits.
func New(cfg Config, limiter *ratelimit.Limiter, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	c := colly.NewCollector(colly.Async(false))
	// Dedup is the aggregator's job; the clones share colly's visited store.
	c.AllowURLRevisit = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	transport := newHTTPTransport()
	transport.RegisterProtocol("file", http.NewFileTransport(http.Dir("/")))
	c.WithTransport(newRobotsTransport(transport, logger.Named("robots")))
	// Clones share the backend, so the timeout is set once here.
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		limiter:       limiter,
		logger:        logger,
		baseCollector: c,
	}
}

// LoadFeedList reads an RSS or Atom document whose items name feeds and
// returns feed URL -> feed title.
func (f *Fetcher) LoadFeedList(ctx context.Context, uri string) (map[string]string, error) {
	items, err := f.loadItems(ctx, uri)
	if err != nil {
		return nil, err
	}
	feeds := make(map[string]string, len(items))
	for _, item := range items {
		if _, ok := feeds[item.URL]; !ok {
			feeds[item.URL] = item.Title
		}
	}
	return feeds, nil
}

// LoadFeed returns the articles of an RSS or Atom feed in document order.
func (f *Fetcher) LoadFeed(ctx context.Context, feedURL string) ([]news.Article, error) {
	return f.loadItems(ctx, feedURL)
}

// LoadDocument fetches an HTML page and returns the words of its visible
// text.
func (f *Fetcher) LoadDocument(ctx context.Context, articleURL string) ([]string, error) {
	target, err := resolveLocator(articleURL)
	if err != nil {
		return nil, err
	}
	collector := f.collectorFor(target)

	var (
		tokens []string
		found  bool
	)
	collector.OnHTML("html", func(e *colly.HTMLElement) {
		found = true
		tokens = tokenize.Words(visibleText(e.DOM))
	})
	if err := f.visit(ctx, collector, target, nil); err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%s: %w", target, ErrNotHTML)
	}
	return tokens, nil
}

func (f *Fetcher) loadItems(ctx context.Context, rawURL string) ([]news.Article, error) {
	target, err := resolveLocator(rawURL)
	if err != nil {
		return nil, err
	}
	collector := f.collectorFor(target)

	var items []news.Article
	appendItem := func(e *colly.XMLElement, link string) {
		link = strings.TrimSpace(link)
		if link == "" {
			return
		}
		if link = e.Request.AbsoluteURL(link); link == "" {
			return
		}
		items = append(items, news.Article{
			URL:   link,
			Title: strings.TrimSpace(e.ChildText("title")),
		})
	}
	collector.OnXML("//item", func(e *colly.XMLElement) {
		appendItem(e, e.ChildText("link"))
	})
	collector.OnXML("//entry", func(e *colly.XMLElement) {
		link := e.ChildAttr("link[@rel='alternate']", "href")
		if link == "" {
			link = e.ChildAttr("link", "href")
		}
		appendItem(e, link)
	})

	if err := f.visit(ctx, collector, target, isFeedResponse); err != nil {
		return nil, err
	}
	return items, nil
}

func (f *Fetcher) collectorFor(target string) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots || isLocal(target)
	return collector
}

// visit runs collector against target. accept, when set, vets the response
// before any content callback has a say.
func (f *Fetcher) visit(
	ctx context.Context,
	collector *colly.Collector,
	target string,
	accept func(*colly.Response) error,
) error {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, target); err != nil {
			return err
		}
	}

	var fetchErr error
	collector.OnResponse(func(r *colly.Response) {
		metrics.ObserveBytes(target, len(r.Body))
		if accept != nil && fetchErr == nil {
			fetchErr = accept(r)
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			err = fmt.Errorf("status %d: %w", r.StatusCode, err)
		}
		fetchErr = err
	})

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		f.logger.Debug("fetched",
			zap.String("url", target),
			zap.Duration("elapsed", time.Since(start)),
		)
		return nil
	}
}

func isFeedResponse(r *colly.Response) error {
	contentType := strings.ToLower(r.Headers.Get("Content-Type"))
	if strings.Contains(contentType, "xml") || strings.HasSuffix(strings.ToLower(r.Request.URL.Path), ".xml") {
		return nil
	}
	return fmt.Errorf("%s (%q): %w", r.Request.URL, contentType, ErrNotFeed)
}

// visibleText joins the text nodes under sel once script-like elements are
// gone.
func visibleText(sel *goquery.Selection) string {
	sel.Find("script, style, noscript, template").Remove()
	var b strings.Builder
	sel.Find("*").AddSelection(sel).Contents().Each(func(_ int, node *goquery.Selection) {
		if goquery.NodeName(node) == "#text" {
			b.WriteString(node.Text())
			b.WriteByte(' ')
		}
	})
	return b.String()
}

// resolveLocator turns a bare path into a file URL and leaves URLs alone.
func resolveLocator(raw string) (string, error) {
	// A one-letter scheme is a Windows drive, not a URL.
	if u, err := url.Parse(raw); err == nil && len(u.Scheme) > 1 {
		return raw, nil
	}
	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", fmt.Errorf("resolve local path %q: %w", raw, err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

func isLocal(target string) bool {
	return strings.HasPrefix(strings.ToLower(target), "file:")
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
