package dialect_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/sccached/internal/dialect"
	"github.com/Sumatoshi-tech/sccached/internal/runner"
)

func TestDefault_ParseArguments_Cacheable(t *testing.T) {
	t.Parallel()

	d := dialect.NewDefault()

	class, parsed := d.ParseArguments([]string{"cc", "-c", "-Wall", "foo.c", "-o", "foo.o"})
	assert.Equal(t, dialect.Cacheable, class)
	assert.Equal(t, "foo.c", parsed.InputFile)
	assert.Equal(t, "foo.o", parsed.OutputFile)
	assert.Equal(t, ".o", parsed.OutputExt)
	assert.Contains(t, parsed.CacheableArgs, "-Wall")
	assert.Contains(t, parsed.CacheableArgs, "-c")
}

func TestDefault_ParseArguments_NotCompilation(t *testing.T) {
	t.Parallel()

	d := dialect.NewDefault()

	class, _ := d.ParseArguments([]string{"cc", "foo.o", "-o", "a.out"})
	assert.Equal(t, dialect.NotCompilation, class)
}

func TestDefault_ParseArguments_CannotCache_MultipleInputs(t *testing.T) {
	t.Parallel()

	d := dialect.NewDefault()

	class, _ := d.ParseArguments([]string{"cc", "-c", "foo.c", "bar.c", "-o", "foo.o"})
	assert.Equal(t, dialect.CannotCache, class)
}

func TestDefault_ParseArguments_CannotCache_PreprocessOnly(t *testing.T) {
	t.Parallel()

	d := dialect.NewDefault()

	class, _ := d.ParseArguments([]string{"cc", "-c", "-E", "foo.c", "-o", "foo.o"})
	assert.Equal(t, dialect.CannotCache, class)
}

func TestDefault_ParseArguments_CannotCache_MissingOutput(t *testing.T) {
	t.Parallel()

	d := dialect.NewDefault()

	class, _ := d.ParseArguments([]string{"cc", "-c", "foo.c"})
	assert.Equal(t, dialect.CannotCache, class)
}

func TestDefault_ParseArguments_TooFewArgs(t *testing.T) {
	t.Parallel()

	d := dialect.NewDefault()

	class, _ := d.ParseArguments([]string{"cc"})
	assert.Equal(t, dialect.NotCompilation, class)
}

func TestDefault_Preprocess_NonzeroExitReturnsFailedError(t *testing.T) {
	t.Parallel()

	d := dialect.NewDefault()
	fake := runner.NewFake()
	fake.On("/usr/bin/cc", runner.Output{ExitCode: 1, Stderr: []byte("foo.c:1:1: error: bad token")})

	parsed := dialect.ParsedArguments{InputFile: "foo.c", CacheableArgs: []string{"-c"}}

	_, err := d.Preprocess(context.Background(), fake, "/usr/bin/cc", "/tmp", parsed)
	require.Error(t, err)

	var failed *dialect.FailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, 1, failed.Output.ExitCode)
	assert.Equal(t, "foo.c:1:1: error: bad token", string(failed.Output.Stderr))
}

func TestDefault_Preprocess_LaunchFailureIsNotFailedError(t *testing.T) {
	t.Parallel()

	d := dialect.NewDefault()
	fake := runner.NewFake()
	fake.OnError("/usr/bin/cc", errors.New("exec: \"cc\": executable file not found in $PATH"))

	parsed := dialect.ParsedArguments{InputFile: "foo.c", CacheableArgs: []string{"-c"}}

	_, err := d.Preprocess(context.Background(), fake, "/usr/bin/cc", "/tmp", parsed)
	require.Error(t, err)

	var failed *dialect.FailedError
	assert.False(t, errors.As(err, &failed))
}
