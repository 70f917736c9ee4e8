// Package dialect classifies a wrapped compiler's command line and extracts
// the information the compile pipeline needs to fingerprint and cache it.
//
// Per-compiler dialects (GCC, Clang, MSVC) are out of scope (spec.md
// Non-goals); Default implements the common GCC-like convention and is
// sufficient to exercise every other component end to end.
package dialect

import (
	"context"
	"fmt"
	"strings"

	"github.com/Sumatoshi-tech/sccached/internal/runner"
)

// Classification is the three-way outcome of inspecting a command line,
// matching original_source/src/server.rs's CompilerArguments::{Ok,
// CannotCache, NotCompilation}.
type Classification int

const (
	// NotCompilation means the invocation is not a single-file,
	// object-producing compile at all (e.g. a version query or a link step).
	NotCompilation Classification = iota
	// CannotCache means it is a compile, but one this dialect cannot safely
	// cache (e.g. multiple source files, or an unsupported flag).
	CannotCache
	// Cacheable means the invocation is a cacheable single-file compile.
	Cacheable
)

// ParsedArguments is what a Classification of Cacheable extracts from argv.
type ParsedArguments struct {
	// InputFile is the single source file being compiled.
	InputFile string
	// OutputFile is the object file the compiler will produce.
	OutputFile string
	// OutputExt is OutputFile's extension, used in the cache fingerprint.
	OutputExt string
	// CacheableArgs is the argument subset that affects the cached output:
	// every dash-argument except -o and its value; the input file itself is
	// not included.
	CacheableArgs []string
}

// FailedError wraps a preprocessor subprocess that ran to completion but
// exited nonzero, carrying its real exit code and captured stdout/stderr.
// spec.md §7's PreprocessingFailure must "surface as CompileFinished with
// the real exit code and stderr" — a plain wrapped error loses that
// structure, so the pipeline needs to tell this apart from a genuine
// internal error (the subprocess never running at all).
type FailedError struct {
	Input  string
	Output runner.Output
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("dialect: preprocess %s: exit %d", e.Input, e.Output.ExitCode)
}

// Dialect classifies a command line and, for cacheable compiles, drives
// preprocessing.
type Dialect interface {
	// ParseArguments inspects argv (argv[0] is the compiler path) and
	// classifies the invocation.
	ParseArguments(argv []string) (Classification, ParsedArguments)

	// Preprocess runs the compiler in preprocess-only mode over parsed's
	// input file and returns the fully expanded source text used for
	// fingerprinting, via r so the call is mockable in tests.
	Preprocess(ctx context.Context, r runner.Runner, exe, cwd string, parsed ParsedArguments) ([]byte, error)
}

// Default is a GCC/Clang-like dialect: `-c` marks a compile, `-o PATH`
// names the output, any other argument not recognized as a flag is taken
// as the input file. Multiple input files, `-E` (preprocess-only), and
// link-only invocations (no `-c`) are not cacheable.
type Default struct{}

// NewDefault returns the default GCC-like dialect.
func NewDefault() Default { return Default{} }

var nonCacheableFlags = map[string]bool{
	"-E": true, // preprocess-only: nothing to compile or cache
	"-S": true, // assembly output: out of scope for the default dialect
	"-M": true, // dependency generation only
}

// ParseArguments implements Dialect.
func (Default) ParseArguments(argv []string) (Classification, ParsedArguments) {
	if len(argv) < 2 {
		return NotCompilation, ParsedArguments{}
	}

	args := argv[1:]

	var (
		hasCompileFlag bool
		output         string
		inputs         []string
		cacheable      []string
	)

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch {
		case arg == "-c":
			hasCompileFlag = true
			cacheable = append(cacheable, arg)
		case arg == "-o":
			if i+1 >= len(args) {
				return CannotCache, ParsedArguments{}
			}

			output = args[i+1]
			i++
		case nonCacheableFlags[arg]:
			return CannotCache, ParsedArguments{}
		case strings.HasPrefix(arg, "-"):
			cacheable = append(cacheable, arg)
		default:
			inputs = append(inputs, arg)
		}
	}

	if !hasCompileFlag {
		return NotCompilation, ParsedArguments{}
	}

	if len(inputs) != 1 {
		return CannotCache, ParsedArguments{}
	}

	if output == "" {
		return CannotCache, ParsedArguments{}
	}

	return Cacheable, ParsedArguments{
		InputFile:     inputs[0],
		OutputFile:    output,
		OutputExt:     extOf(output),
		CacheableArgs: cacheable,
	}
}

// Preprocess implements Dialect for the GCC/Clang-like default: it
// re-invokes the compiler with `-E` (preprocess only, emit to stdout) over
// the same cacheable flags minus `-c`, matching the original's own
// "run the compiler a second time in preprocess mode" strategy for
// deriving fingerprint input (spec.md §4.D).
func (Default) Preprocess(ctx context.Context, r runner.Runner, exe, cwd string, parsed ParsedArguments) ([]byte, error) {
	argv := []string{exe}

	for _, a := range parsed.CacheableArgs {
		if a == "-c" {
			continue
		}

		argv = append(argv, a)
	}

	argv = append(argv, "-E", parsed.InputFile)

	out, err := r.Run(ctx, cwd, argv, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("dialect: preprocess %s: %w", parsed.InputFile, err)
	}

	if !out.Success() {
		return nil, &FailedError{Input: parsed.InputFile, Output: out}
	}

	return out.Stdout, nil
}

func extOf(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ""
	}

	return path[i:]
}
