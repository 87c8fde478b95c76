// Package memory is an in-memory blobstore.Store for tests and local runs.
// Listing is deterministic (lexicographic by key) and paginates with a
// configurable page size so callers' pagination loops get exercised.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"flightetl/internal/blobstore"
)

type Store struct {
	mu       sync.RWMutex
	objects  map[string][]byte
	pageSize int
}

// New returns an empty store. pageSize <= 0 disables pagination (everything
// in one page).
func New(pageSize int) *Store {
	return &Store{
		objects:  make(map[string][]byte),
		pageSize: pageSize,
	}
}

func (s *Store) List(_ context.Context, prefix, token string) (blobstore.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	// token is the key to resume after.
	start := 0
	if token != "" {
		start = sort.SearchStrings(keys, token)
		if start < len(keys) && keys[start] == token {
			start++
		}
	}

	end := len(keys)
	truncated := false
	if s.pageSize > 0 && start+s.pageSize < len(keys) {
		end = start + s.pageSize
		truncated = true
	}

	page := blobstore.Page{IsTruncated: truncated}
	for _, k := range keys[start:end] {
		page.Entries = append(page.Entries, blobstore.Entry{Key: k, Size: int64(len(s.objects[k]))})
	}
	if truncated {
		page.NextToken = keys[end-1]
	}
	return page, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	body, ok := s.objects[key]
	if !ok {
		return nil, blobstore.ErrNotFound
	}
	out := make([]byte, len(body))
	copy(out, body)
	return out, nil
}

func (s *Store) Put(_ context.Context, key string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(body))
	copy(cp, body)
	s.objects[key] = cp
	return nil
}

// Len reports the number of stored objects. Test helper.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Has reports whether key exists. Test helper.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok
}
