package aggregator

import (
	"sort"
	"sync"

	"github.com/antonlok/aggregator-threadpool/internal/news"
)

type partialEntry struct {
	article news.Article
	tokens  []string // sorted
}

// partialResults collects article variants keyed by identity until the
// build drains.
type partialResults struct {
	mu      sync.Mutex
	entries map[news.Identity]*partialEntry
}

func newPartialResults() *partialResults {
	return &partialResults{entries: make(map[news.Identity]*partialEntry)}
}

// merge folds one variant into the map and reports whether the identity was
// already present. tokens must be sorted. The stored URL is the smallest
// URL seen for the identity; the stored tokens are the intersection of every
// variant's tokens.
func (p *partialResults) merge(article news.Article, tokens []string) bool {
	id := news.IdentityOf(article)

	p.mu.Lock()
	defer p.mu.Unlock()
	existing, ok := p.entries[id]
	if !ok {
		p.entries[id] = &partialEntry{article: article, tokens: tokens}
		return false
	}
	if article.URL < existing.article.URL {
		existing.article.URL = article.URL
	}
	existing.tokens = intersectSorted(existing.tokens, tokens)
	return true
}

// drain returns every entry ordered by identity.
func (p *partialResults) drain() []partialEntry {
	p.mu.Lock()
	ids := make([]news.Identity, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a].Less(ids[b]) })
	out := make([]partialEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, *p.entries[id])
	}
	p.mu.Unlock()
	return out
}

// intersectSorted returns the multiset intersection of two sorted slices: a
// token repeated m times in a and n times in b appears min(m, n) times.
func intersectSorted(a, b []string) []string {
	out := make([]string, 0, min(len(a), len(b)))
	for i, j := 0, 0; i < len(a) && j < len(b); {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}
