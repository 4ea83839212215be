package aggregator

import (
	"sync"

	"github.com/antonlok/aggregator-threadpool/internal/news"
)

// seenSet is the dedup ledger shared by feed and article tasks.
type seenSet struct {
	mu   sync.Mutex
	urls map[string]struct{}
}

func newSeenSet() *seenSet {
	return &seenSet{urls: make(map[string]struct{})}
}

// markSeen records rawURL and reports whether it was new.
func (s *seenSet) markSeen(rawURL string) bool {
	key := rawURL
	if normalized, err := news.NormalizeURL(rawURL); err == nil {
		key = normalized
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.urls[key]; ok {
		return false
	}
	s.urls[key] = struct{}{}
	return true
}

func (s *seenSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.urls)
}
