// Package sessions defines the per-browser-session key-value capability the
// auth flow mutates. The web framework owns the session lifecycle; this
// package only reads and writes named keys inside it.
package sessions

import "sync"

// Store is a flat key-value mapping scoped to a single browser session.
// Implementations need no transactional guarantees beyond last-write-wins.
// Values are opaque strings; callers serialize their own records.
type Store interface {
	// Get returns the value for key, and whether it was present.
	Get(key string) (string, bool, error)
	// Set stores the value under key, replacing any previous value.
	Set(key, value string) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
}

// MapStore is an in-memory Store, suitable for tests and single-process apps
// that keep their own session-to-store mapping.
type MapStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMapStore creates an empty in-memory session store.
func NewMapStore() *MapStore {
	return &MapStore{values: make(map[string]string)}
}

func (s *MapStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MapStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}

func (s *MapStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}
