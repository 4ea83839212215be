package news

import (
	"context"
	"io"
	"time"
)

// FeedListLoader resolves a feed-list locator into feed URL -> feed title.
type FeedListLoader interface {
	LoadFeedList(ctx context.Context, uri string) (map[string]string, error)
}

// FeedLoader returns the articles a feed references, in feed order.
type FeedLoader interface {
	LoadFeed(ctx context.Context, feedURL string) ([]Article, error)
}

// DocumentLoader returns the word tokens of an article.
type DocumentLoader interface {
	LoadDocument(ctx context.Context, articleURL string) ([]string, error)
}

// Indexer receives merged articles once a build has drained.
type Indexer interface {
	Add(article Article, tokens []string)
}

// Searcher answers term queries against a built index.
type Searcher interface {
	Query(term string) []Match
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for integrity checks.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces build run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
