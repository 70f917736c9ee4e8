package stats_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	noopmetric "go.opentelemetry.io/otel/metric/noop"

	"github.com/Sumatoshi-tech/sccached/internal/stats"
)

func TestStats_SnapshotIsIndependentCopy(t *testing.T) {
	t.Parallel()

	var s stats.Stats
	s.CacheHits = 1

	snap := s.Snapshot()
	s.CacheHits = 2

	assert.Equal(t, uint64(1), snap.CacheHits)
	assert.Equal(t, uint64(2), s.CacheHits)
}

func TestStats_Reset(t *testing.T) {
	t.Parallel()

	var s stats.Stats
	s.CacheHits = 5
	s.CompileFails = 2

	s.Reset()

	assert.Equal(t, uint64(0), s.CacheHits)
	assert.Equal(t, uint64(0), s.CompileFails)
}

func TestSnapshot_ToCacheStatistics_OrderAndCounts(t *testing.T) {
	t.Parallel()

	var s stats.Stats
	s.CompileRequests = 10
	s.CacheHits = 4
	s.CacheMisses = 6

	entries := s.Snapshot().ToCacheStatistics()
	require.NotEmpty(t, entries)

	assert.Equal(t, "Compile requests", entries[0].Name)
	assert.Equal(t, uint64(10), entries[0].Count)
	assert.True(t, entries[0].HasCount)

	assert.Equal(t, "Cache hits", entries[2].Name)
	assert.Equal(t, uint64(4), entries[2].Count)
}

func TestSnapshot_DurationAverages(t *testing.T) {
	t.Parallel()

	var s stats.Stats
	s.CacheWrites = 2
	s.CacheWriteDuration = 3 * time.Second

	entries := s.Snapshot().ToCacheStatistics()

	var found bool

	for _, e := range entries {
		if e.Name == "Average cache write" {
			found = true

			assert.Equal(t, "1.500 s", e.Str)
		}
	}

	assert.True(t, found)
}

func TestSnapshot_ZeroDurationFormatsAsZero(t *testing.T) {
	t.Parallel()

	var s stats.Stats

	entries := s.Snapshot().ToCacheStatistics()

	for _, e := range entries {
		if e.Name == "Average cache read hit" {
			assert.Equal(t, "0.000 s", e.Str)
		}
	}
}

func TestExport_RegistersWithoutError(t *testing.T) {
	t.Parallel()

	meter := noopmetric.NewMeterProvider().Meter("test")

	reg, err := stats.Export(meter, func() stats.Snapshot { return stats.Snapshot{} })
	require.NoError(t, err)
	require.NotNil(t, reg)

	assert.NoError(t, reg.Unregister())
}
