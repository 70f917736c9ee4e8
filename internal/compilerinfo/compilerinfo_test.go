package compilerinfo_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/sccached/internal/compilerinfo"
	"github.com/Sumatoshi-tech/sccached/internal/runner"
)

func writeExe(t *testing.T, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))

	return path
}

func TestCache_DetectsOnce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeExe(t, dir, "cc")

	calls := 0
	detect := func(_ context.Context, _ runner.Runner, p string) (compilerinfo.Compiler, bool, error) {
		calls++

		return compilerinfo.Compiler{Kind: compilerinfo.KindGCC, Executable: p, Version: "1.0"}, true, nil
	}

	c := compilerinfo.New(runner.New(), detect)

	_, ok, err := c.Lookup(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = c.Lookup(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, 1, calls)
}

func TestCache_ReDetectsOnMtimeChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeExe(t, dir, "cc")

	calls := 0
	detect := func(_ context.Context, _ runner.Runner, p string) (compilerinfo.Compiler, bool, error) {
		calls++

		return compilerinfo.Compiler{Kind: compilerinfo.KindGCC, Executable: p}, true, nil
	}

	c := compilerinfo.New(runner.New(), detect)

	_, _, err := c.Lookup(context.Background(), path)
	require.NoError(t, err)

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	_, _, err = c.Lookup(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
}

func TestCache_NegativeEntryCached(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeExe(t, dir, "not-a-compiler")

	calls := 0
	detect := func(_ context.Context, _ runner.Runner, _ string) (compilerinfo.Compiler, bool, error) {
		calls++

		return compilerinfo.Compiler{}, false, nil
	}

	c := compilerinfo.New(runner.New(), detect)

	_, ok, err := c.Lookup(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.Lookup(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, calls)
}

func TestCache_Invalidate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeExe(t, dir, "cc")

	calls := 0
	detect := func(_ context.Context, _ runner.Runner, p string) (compilerinfo.Compiler, bool, error) {
		calls++

		return compilerinfo.Compiler{Kind: compilerinfo.KindGCC, Executable: p}, true, nil
	}

	c := compilerinfo.New(runner.New(), detect)

	_, _, err := c.Lookup(context.Background(), path)
	require.NoError(t, err)

	c.Invalidate(path)
	assert.Equal(t, 0, c.Len())

	_, _, err = c.Lookup(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
