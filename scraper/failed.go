package scraper

import "sync"

// FailedSet is an append-only, insertion-ordered set of URLs.
type FailedSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
	urls []string
}

// NewFailedSet returns an empty set.
func NewFailedSet() *FailedSet {
	return &FailedSet{seen: make(map[string]struct{})}
}

// Add records url and reports whether it was new.
func (s *FailedSet) Add(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[url]; ok {
		return false
	}
	s.seen[url] = struct{}{}
	s.urls = append(s.urls, url)
	return true
}

// Contains reports whether url has been recorded.
func (s *FailedSet) Contains(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[url]
	return ok
}

// URLs returns a snapshot in insertion order.
func (s *FailedSet) URLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.urls))
	copy(out, s.urls)
	return out
}

// Len returns the number of recorded URLs.
func (s *FailedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.urls)
}
