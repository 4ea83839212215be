package aggregator

import "fmt"

// ListError reports a feed list that could not be fetched or parsed. It
// ends the build with an empty index.
type ListError struct {
	URI string
	Err error
}

func (e *ListError) Error() string {
	return fmt.Sprintf("feed list %q: %v", e.URI, e.Err)
}

func (e *ListError) Unwrap() error { return e.Err }

// FeedError reports a feed that could not be fetched or parsed. The feed is
// skipped; the build continues.
type FeedError struct {
	URL string
	Err error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("feed %q: %v", e.URL, e.Err)
}

func (e *FeedError) Unwrap() error { return e.Err }

// DocumentError reports an article document that could not be fetched or
// parsed. The article is skipped; the build continues.
type DocumentError struct {
	URL string
	Err error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("document %q: %v", e.URL, e.Err)
}

func (e *DocumentError) Unwrap() error { return e.Err }
