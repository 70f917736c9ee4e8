// Package compilerinfo caches detected-compiler information keyed by
// executable path, invalidating entries when the executable's mtime
// changes and caching "not a compiler" as a negative result.
package compilerinfo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Sumatoshi-tech/sccached/internal/runner"
)

// Kind identifies a detected compiler family. Per-compiler argument parsing
// beyond Default (internal/dialect) is out of scope; Kind is carried
// through so a future dialect can branch on it.
type Kind string

// Known compiler kinds. Unsupported or undetected executables carry no
// Kind at all (see Cache's negative-entry policy).
const (
	KindGCC     Kind = "gcc"
	KindClang   Kind = "clang"
	KindMSVC    Kind = "msvc"
	KindUnknown Kind = "unknown"
)

// Compiler is a detected compiler's identity, keyed by its executable's
// path and invalidated by that path's mtime (spec.md §3's Compiler record).
type Compiler struct {
	Kind       Kind
	Executable string
	ModTime    time.Time
	Version    string
}

// Digest derives the compiler-identity component of a request fingerprint
// (spec.md §3: "compiler identity (kind + version + mtime + path-normalized
// executable hash)"), hashing the fields that must invalidate the cache
// when the compiler changes.
func (c Compiler) Digest() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d", c.Kind, c.Executable, c.Version, c.ModTime.UnixNano())

	return hex.EncodeToString(h.Sum(nil))
}

// Detector runs a version-probe subprocess to identify the compiler at
// path, returning ok=false when path is not a recognized compiler.
type Detector func(ctx context.Context, r runner.Runner, path string) (Compiler, bool, error)

// entry is a cached lookup result: either a Compiler or an explicit
// negative ("not a compiler") result, both tagged with the mtime observed
// when the entry was populated.
type entry struct {
	modTime time.Time
	info    Compiler
	found   bool
}

// Cache is a process-local, path-keyed, mtime-invalidated cache of
// detected-compiler information. It has no eviction: the teacher's
// bounded pkg/alg/lru is reserved for the genuinely size-bounded
// storage/disk index, because spec.md §4.C calls for an unbounded map
// here (compiler executables are few).
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	detect  Detector
	runner  runner.Runner
}

// New builds a Cache that uses detect to identify executables not already
// cached, running the version-probe subprocess through r.
func New(r runner.Runner, detect Detector) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		detect:  detect,
		runner:  r,
	}
}

// Lookup returns the Compiler at path, detecting it if necessary. ok is
// false if path is not a recognized compiler; err is non-nil only for
// unexpected failures (e.g. the detector itself erroring), which the
// compile pipeline is expected to fold into CompilerDetectionFailure.
func (c *Cache) Lookup(ctx context.Context, path string) (Compiler, bool, error) {
	info, statErr := os.Stat(path)
	if statErr != nil {
		// An executable that can't be stat'd can't be served from cache
		// either way; re-detect, replacing any cached entry with the new
		// result under a zero mtime.
		return c.detectAndCache(ctx, path, time.Time{})
	}

	mtime := info.ModTime()

	c.mu.Lock()
	cached, ok := c.entries[path]
	c.mu.Unlock()

	if ok && cached.modTime.Equal(mtime) {
		return cached.info, cached.found, nil
	}

	return c.detectAndCache(ctx, path, mtime)
}

func (c *Cache) detectAndCache(ctx context.Context, path string, mtime time.Time) (Compiler, bool, error) {
	info, found, err := c.detect(ctx, c.runner, path)
	if err != nil {
		return Compiler{}, false, err
	}

	c.mu.Lock()
	c.entries[path] = entry{modTime: mtime, info: info, found: found}
	c.mu.Unlock()

	return info, found, nil
}

// Invalidate drops any cached entry for path, forcing the next Lookup to
// re-detect regardless of mtime.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

// Len reports how many executables currently have a cached result
// (positive or negative), for diagnostics and tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
