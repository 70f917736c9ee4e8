// Package stats holds the daemon's server-wide counters and duration
// accumulators (spec.md §3's Server Statistics). Writers go through Owner,
// which serializes them behind one mutex; other consumers read a Snapshot
// copy.
package stats

import (
	"fmt"
	"time"

	"github.com/Sumatoshi-tech/sccached/internal/wire"
)

// Stats is the authoritative counters struct. It has no lock of its own;
// the pipeline and dispatcher goroutines mutate it through Owner.Mutate,
// and every other consumer reads a Snapshot instead.
type Stats struct {
	CompileRequests             uint64
	RequestsExecuted            uint64
	RequestsNotCompile          uint64
	RequestsNotCacheable        uint64
	RequestsUnsupportedCompiler uint64

	CacheHits        uint64
	CacheMisses      uint64
	CacheErrors      uint64
	CacheReadErrors  uint64
	CacheWriteErrors uint64
	CacheWrites      uint64

	ForcedRecaches           uint64
	NonCacheableCompilations uint64
	CompileFails             uint64

	CacheWriteDuration    time.Duration
	CacheReadHitDuration  time.Duration
	CacheReadMissDuration time.Duration
}

// Snapshot is a read-only copy of Stats safe to hand to other goroutines
// (the Prometheus exporter, a get_stats response writer).
type Snapshot Stats

// Snapshot copies the current counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot(*s)
}

// Reset zeroes every counter, matching zero_stats' "explicit zero-stats
// request" reset (spec.md §3).
func (s *Stats) Reset() {
	*s = Stats{}
}

// durationPerOp formats total/n as "S.MMM s", matching
// original_source/src/server.rs's set_duration_stat! macro (average
// duration per operation, "0.000 s" when n is zero).
func durationPerOp(total time.Duration, n uint64) string {
	if n == 0 {
		return "0.000 s"
	}

	avg := total / time.Duration(n)
	secs := avg / time.Second
	millis := (avg % time.Second) / time.Millisecond

	return fmt.Sprintf("%d.%03d s", secs, millis)
}

// ToCacheStatistics renders the snapshot as the ordered (name, value) pairs
// the get_stats/zero_stats wire response carries, field order matching
// original_source/src/server.rs's ServerStats::to_cache_statistics.
func (s Snapshot) ToCacheStatistics() []wire.CacheStatistic {
	return []wire.CacheStatistic{
		countStat("Compile requests", s.CompileRequests),
		countStat("Compile requests executed", s.RequestsExecuted),
		countStat("Cache hits", s.CacheHits),
		countStat("Cache misses", s.CacheMisses),
		countStat("Forced recaches", s.ForcedRecaches),
		countStat("Cache read errors", s.CacheReadErrors),
		countStat("Cache write errors", s.CacheWriteErrors),
		countStat("Compilation failures", s.CompileFails),
		countStat("Cache errors", s.CacheErrors),
		countStat("Successful compilations which could not be cached", s.NonCacheableCompilations),
		countStat("Non-cacheable calls", s.RequestsNotCacheable),
		countStat("Non-compilation calls", s.RequestsNotCompile),
		countStat("Unsupported compiler calls", s.RequestsUnsupportedCompiler),
		strStat("Average cache write", durationPerOp(s.CacheWriteDuration, s.CacheWrites)),
		strStat("Average cache read miss", durationPerOp(s.CacheReadMissDuration, s.CacheMisses)),
		strStat("Average cache read hit", durationPerOp(s.CacheReadHitDuration, s.CacheHits)),
	}
}

func countStat(name string, v uint64) wire.CacheStatistic {
	return wire.CacheStatistic{Name: name, Count: v, HasCount: true}
}

func strStat(name, v string) wire.CacheStatistic {
	return wire.CacheStatistic{Name: name, Str: v}
}
