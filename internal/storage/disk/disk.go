// Package disk implements a content-addressed, write-once on-disk cache
// backend: spec.md §4.A's "local LRU on disk (size-bounded, evict
// least-recently-used)" implementation. Writes land via a temp file plus
// os.Rename so a reader never observes a partially written entry, and an
// in-memory pkg/alg/lru index tracks what is on disk so eviction can run
// without a directory scan, reusing internal/cache/lru.go's
// "evict large, rarely-accessed entries first" cost function generalized
// from blob hashes to cache-entry file paths. The index's Bloom pre-filter
// short-circuits the common case of a cold cache miss before the lookup
// even takes the index's lock.
package disk

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Sumatoshi-tech/sccached/internal/storage"
	"github.com/Sumatoshi-tech/sccached/pkg/alg/lru"
)

const (
	bytesPerKB          = 1024.0
	evictionSampleSize  = 5
	defaultMaxCacheSize = 10 * 1024 * 1024 * 1024 // 10 GiB, spec.md's implied default scale.

	// bloomExpectedEntries sizes the index's Bloom pre-filter. Oversizing
	// only costs a little memory; this is comfortably above what a 10 GiB
	// cache of object-file-sized entries holds.
	bloomExpectedEntries = 100_000
)

type indexEntry struct {
	size int64
}

// Store is a write-once, size-bounded on-disk Store.
type Store struct {
	dir     string
	maxSize int64
	index   *lru.Cache[string, indexEntry]
}

// New constructs a Store rooted at dir. maxSize of 0 uses defaultMaxCacheSize.
// dir must already exist and be writable.
func New(dir string, maxSize int64) (*Store, error) {
	if maxSize <= 0 {
		maxSize = defaultMaxCacheSize
	}

	s := &Store{dir: dir, maxSize: maxSize}

	s.index = lru.New(
		lru.WithMaxBytes[string, indexEntry](maxSize, func(e indexEntry) int64 { return e.size }),
		lru.WithCostEviction[string, indexEntry](evictionSampleSize, evictionCost),
		lru.WithBloomFilter[string, indexEntry](func(key string) []byte { return []byte(key) }, bloomExpectedEntries),
		lru.WithOnEvict[string, indexEntry](func(key string, _ indexEntry) {
			_ = os.Remove(s.pathFor(key))
		}),
	)

	if err := s.loadExisting(); err != nil {
		return nil, fmt.Errorf("disk: scan existing cache dir: %w", err)
	}

	return s, nil
}

// evictionCost mirrors internal/cache/lru.go's evictionCost: higher cost is
// less desirable to evict, so large and rarely touched entries go first.
func evictionCost(accessCount, sizeBytes int64) float64 {
	if sizeBytes == 0 {
		return float64(accessCount)
	}

	sizeKB := float64(sizeBytes) / bytesPerKB
	if sizeKB < 1 {
		sizeKB = 1
	}

	return float64(accessCount) / sizeKB
}

// loadExisting seeds the index from files already present in dir, so a
// restarted daemon recognizes entries written by a previous run instead of
// silently orphaning them.
func (s *Store) loadExisting() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	for _, de := range entries {
		if de.IsDir() || filepath.Ext(de.Name()) == ".tmp" {
			continue
		}

		info, err := de.Info()
		if err != nil {
			continue
		}

		s.index.Put(de.Name(), indexEntry{size: info.Size()})
	}

	return nil
}

func (s *Store) pathFor(key string) string {
	return filepath.Join(s.dir, key)
}

func (s *Store) Get(_ context.Context, key string) (io.ReadCloser, bool, error) {
	if _, ok := s.index.Get(key); !ok {
		return nil, false, nil
	}

	f, err := os.Open(s.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("disk: open %q: %w", key, err)
	}

	return f, true, nil
}

// Put returns immediately and writes data to a temp file in dir, then
// renames it into place, on its own goroutine (spec.md §4.A: "put returns
// immediately ... MUST NOT block the request-response path"). An existing
// entry for key is left untouched: entries are immutable once written, and
// callers only ever write identical bytes for a given key.
func (s *Store) Put(_ context.Context, key string, data io.Reader) storage.PutFuture {
	if _, ok := s.index.Get(key); ok {
		return storage.Resolved(storage.WriteInfo{Key: key}, nil)
	}

	return storage.Async(func() (storage.WriteInfo, error) {
		return s.writeFile(key, data)
	})
}

// writeFile does the actual temp-file-then-rename write; it runs on the
// goroutine storage.Async spawns, off the request-response path.
func (s *Store) writeFile(key string, data io.Reader) (storage.WriteInfo, error) {
	start := time.Now()

	tmp, err := os.CreateTemp(s.dir, "."+key+"-*.tmp")
	if err != nil {
		return storage.WriteInfo{}, fmt.Errorf("disk: create temp file: %w", err)
	}

	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, data)
	if err != nil {
		tmp.Close()

		return storage.WriteInfo{}, fmt.Errorf("disk: write temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return storage.WriteInfo{}, fmt.Errorf("disk: close temp file: %w", err)
	}

	dest := s.pathFor(key)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return storage.WriteInfo{}, fmt.Errorf("disk: publish %q: %w", key, err)
	}

	s.index.Put(key, indexEntry{size: n})

	return storage.WriteInfo{
		Key:      key,
		Duration: time.Since(start),
		Bytes:    n,
	}, nil
}

func (s *Store) CurrentSize() (int64, bool) {
	return s.index.Stats().CurrentSize, true
}

func (s *Store) MaxSize() (int64, bool) {
	return s.maxSize, true
}

func (s *Store) Location() string {
	return fmt.Sprintf("Local disk: %s", s.dir)
}
