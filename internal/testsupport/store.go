package testsupport

import (
	"context"
	"sort"
	"sync"
	"testing"

	"snapkeep/internal/config"
	"snapkeep/internal/history"
)

// MustOpenHistory opens the config's history database and registers cleanup.
func MustOpenHistory(t testing.TB, cfg *config.Config) *history.Store {
	t.Helper()

	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MemoryStore is an in-memory remote store. Listing returns the stored names
// as lines in lexical order.
type MemoryStore struct {
	mu        sync.Mutex
	files     map[string]int64
	uploads   []string
	deletes   []string
	UploadErr func(name string) error
	DeleteErr func(name string) error
	ListErr   error
}

// NewMemoryStore seeds a store with existing remote names.
func NewMemoryStore(names ...string) *MemoryStore {
	s := &MemoryStore{files: make(map[string]int64)}
	for _, name := range names {
		s.files[name] = 0
	}
	return s
}

func (s *MemoryStore) Upload(_ context.Context, _ string, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UploadErr != nil {
		if err := s.UploadErr(name); err != nil {
			return err
		}
	}
	s.files[name] = 1
	s.uploads = append(s.uploads, name)
	return nil
}

func (s *MemoryStore) List(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	names := make([]string, 0, len(s.files))
	for name := range s.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeleteErr != nil {
		if err := s.DeleteErr(name); err != nil {
			return err
		}
	}
	delete(s.files, name)
	s.deletes = append(s.deletes, name)
	return nil
}

// Uploads returns the names uploaded so far, in order.
func (s *MemoryStore) Uploads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.uploads...)
}

// Deletes returns the names deleted so far, in order.
func (s *MemoryStore) Deletes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deletes...)
}
