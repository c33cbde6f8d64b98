package frontier

import "sync"

// MemoryStore is the default Store backend: a mutex-guarded set that
// lives and dies with the run. Suited to single-run audits where the
// frontier fits in memory.
type MemoryStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryStore returns an empty in-memory frontier.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]struct{})}
}

// MarkURLSeen implements the Store interface.
func (s *MemoryStore) MarkURLSeen(normalizedURL string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[normalizedURL]; ok {
		return false, nil
	}
	s.seen[normalizedURL] = struct{}{}
	return true, nil
}

// Len reports how many distinct URLs have been marked.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Close implements the Store interface. Nothing to release.
func (s *MemoryStore) Close() error { return nil }
