package stats

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// Export registers OTel observable-counter instruments that read from a
// Snapshot each time the meter's reader collects, exporting what the
// authoritative struct already holds — the named counters spec.md §3
// defines rather than generic RED attributes. snapshot is called from the meter's collection goroutine, so
// it must be safe to call concurrently with every goroutine mutating the
// underlying counters — passing an Owner's Snapshot method satisfies this,
// since Owner serializes access behind its own mutex (see owner.go).
func Export(meter metric.Meter, snapshot func() Snapshot) (metric.Registration, error) {
	compileRequests, err := meter.Int64ObservableCounter(
		"sccache.compile_requests", metric.WithDescription("Total compile requests received"))
	if err != nil {
		return nil, err
	}

	cacheHits, err := meter.Int64ObservableCounter(
		"sccache.cache_hits", metric.WithDescription("Cache hits"))
	if err != nil {
		return nil, err
	}

	cacheMisses, err := meter.Int64ObservableCounter(
		"sccache.cache_misses", metric.WithDescription("Cache misses"))
	if err != nil {
		return nil, err
	}

	cacheErrors, err := meter.Int64ObservableCounter(
		"sccache.cache_errors", metric.WithDescription("Internal errors (retcode -2)"))
	if err != nil {
		return nil, err
	}

	compileFails, err := meter.Int64ObservableCounter(
		"sccache.compile_fails", metric.WithDescription("Compile subprocess failures"))
	if err != nil {
		return nil, err
	}

	cacheWrites, err := meter.Int64ObservableCounter(
		"sccache.cache_writes", metric.WithDescription("Successful cache writes"))
	if err != nil {
		return nil, err
	}

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snap := snapshot()

		o.ObserveInt64(compileRequests, int64(snap.CompileRequests))
		o.ObserveInt64(cacheHits, int64(snap.CacheHits))
		o.ObserveInt64(cacheMisses, int64(snap.CacheMisses))
		o.ObserveInt64(cacheErrors, int64(snap.CacheErrors))
		o.ObserveInt64(compileFails, int64(snap.CompileFails))
		o.ObserveInt64(cacheWrites, int64(snap.CacheWrites))

		return nil
	}, compileRequests, cacheHits, cacheMisses, cacheErrors, compileFails, cacheWrites)
	if err != nil {
		return nil, err
	}

	return reg, nil
}
