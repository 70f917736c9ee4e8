// Package memory provides a bounded in-process Store, the minimal backend
// spec.md §4.A names alongside disk and remote object-store implementations
// and the default when no other backend is configured.
package memory

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/Sumatoshi-tech/sccached/internal/storage"
)

// Store is a mutex-guarded map-backed storage.Store. When a positive
// maxSize is set, a write that would exceed it first deletes existing
// entries, in map iteration order, until the new entry fits.
type Store struct {
	mu      sync.RWMutex
	entries map[string][]byte
	maxSize int64
}

// New constructs an empty Store. maxSize of 0 means unbounded.
func New(maxSize int64) *Store {
	return &Store{
		entries: make(map[string][]byte),
		maxSize: maxSize,
	}
}

func (s *Store) Get(_ context.Context, key string) (io.ReadCloser, bool, error) {
	s.mu.RLock()
	data, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}

	return io.NopCloser(bytes.NewReader(data)), true, nil
}

// Put returns immediately and stores data on its own goroutine, matching
// spec.md §4.A's non-blocking contract even though this backend's own
// write is cheap — so callers exercise the same "future resolves later"
// path they would against disk or S3.
func (s *Store) Put(_ context.Context, key string, data io.Reader) storage.PutFuture {
	return storage.Async(func() (storage.WriteInfo, error) {
		return s.writeEntry(key, data)
	})
}

func (s *Store) writeEntry(key string, data io.Reader) (storage.WriteInfo, error) {
	start := time.Now()

	buf, err := io.ReadAll(data)
	if err != nil {
		return storage.WriteInfo{}, err
	}

	s.mu.Lock()

	if s.maxSize > 0 && s.sizeLocked()+int64(len(buf)) > s.maxSize {
		s.evictLocked(int64(len(buf)))
	}

	s.entries[key] = buf
	s.mu.Unlock()

	return storage.WriteInfo{
		Key:      key,
		Duration: time.Since(start),
		Bytes:    int64(len(buf)),
	}, nil
}

// evictLocked drops arbitrary entries until room is made for need bytes.
// Map iteration order is unspecified; this backend makes no LRU guarantee,
// matching its role as a test/default mock rather than the size-bounded
// disk backend.
func (s *Store) evictLocked(need int64) {
	for key := range s.entries {
		if s.sizeLocked()+need <= s.maxSize {
			return
		}

		delete(s.entries, key)
	}
}

func (s *Store) sizeLocked() int64 {
	var total int64
	for _, v := range s.entries {
		total += int64(len(v))
	}

	return total
}

func (s *Store) CurrentSize() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sizeLocked(), true
}

func (s *Store) MaxSize() (int64, bool) {
	if s.maxSize <= 0 {
		return 0, false
	}

	return s.maxSize, true
}

func (s *Store) Location() string {
	return "In-memory cache"
}
