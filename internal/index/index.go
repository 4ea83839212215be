// Package index implements the in-memory inverted index that a build is
// flushed into and that queries are answered from.
package index

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/antonlok/aggregator-threadpool/internal/news"
	"github.com/antonlok/aggregator-threadpool/internal/tokenize"
)

// Entry is one indexed article with its term frequencies.
type Entry struct {
	Article news.Article   `json:"article"`
	Terms   map[string]int `json:"terms"`
}

// Index maps terms to the articles containing them. It is safe for
// concurrent use.
type Index struct {
	mu       sync.RWMutex
	entries  map[string]Entry          // article URL -> entry
	postings map[string]map[string]int // term -> article URL -> count
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		entries:  make(map[string]Entry),
		postings: make(map[string]map[string]int),
	}
}

// Add indexes article with the given tokens. Adding an article whose URL is
// already indexed replaces the earlier entry.
func (i *Index) Add(article news.Article, tokens []string) {
	terms := lo.CountValues(lo.Map(tokens, func(token string, _ int) string {
		return tokenize.Normalize(token)
	}))
	delete(terms, "")

	i.mu.Lock()
	defer i.mu.Unlock()
	i.removeLocked(article.URL)
	i.entries[article.URL] = Entry{Article: article, Terms: terms}
	for term, count := range terms {
		byURL, ok := i.postings[term]
		if !ok {
			byURL = make(map[string]int)
			i.postings[term] = byURL
		}
		byURL[article.URL] = count
	}
}

func (i *Index) removeLocked(url string) {
	old, ok := i.entries[url]
	if !ok {
		return
	}
	for term := range old.Terms {
		byURL := i.postings[term]
		delete(byURL, url)
		if len(byURL) == 0 {
			delete(i.postings, term)
		}
	}
	delete(i.entries, url)
}

// Query returns the articles containing term, most occurrences first. Ties
// are broken by title and then URL. An unknown term yields an empty slice.
func (i *Index) Query(term string) []news.Match {
	term = tokenize.Normalize(term)

	i.mu.RLock()
	byURL := i.postings[term]
	matches := make([]news.Match, 0, len(byURL))
	for url, count := range byURL {
		matches = append(matches, news.Match{Article: i.entries[url].Article, Count: count})
	}
	i.mu.RUnlock()

	sort.Slice(matches, func(a, b int) bool {
		ma, mb := matches[a], matches[b]
		if ma.Count != mb.Count {
			return ma.Count > mb.Count
		}
		if ma.Article.Title != mb.Article.Title {
			return ma.Article.Title < mb.Article.Title
		}
		return ma.Article.URL < mb.Article.URL
	})
	return matches
}

// Len returns the number of indexed articles.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.entries)
}

// Entries returns a copy of every entry, sorted by article URL.
func (i *Index) Entries() []Entry {
	i.mu.RLock()
	out := lo.MapToSlice(i.entries, func(_ string, e Entry) Entry {
		return Entry{Article: e.Article, Terms: lo.Assign(e.Terms)}
	})
	i.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		return out[a].Article.URL < out[b].Article.URL
	})
	return out
}
