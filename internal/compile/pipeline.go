// Package compile implements the per-request compile state machine
// spec.md §4.D describes: classify → preprocess → fingerprint → probe
// cache → hit/miss branch → compile on miss → archive + write-back.
// Grounded on Compiler::get_cached_or_compile
// (original_source/src/server.rs's start_compile_task) for the branch
// structure, and on the hash-then-lookup-then-compile-then-store shape of
// other_examples/986d6946_dphaener-conduit__internal-compiler-cache-coordinator.go.go's
// compileFile for its Go-idiomatic realization (phase timing folded into a
// stats sink, cache-by-key lookup before falling through to real work).
package compile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Sumatoshi-tech/sccached/internal/archive"
	"github.com/Sumatoshi-tech/sccached/internal/compilerinfo"
	"github.com/Sumatoshi-tech/sccached/internal/dialect"
	"github.com/Sumatoshi-tech/sccached/internal/fingerprint"
	"github.com/Sumatoshi-tech/sccached/internal/runner"
	"github.com/Sumatoshi-tech/sccached/internal/stats"
	"github.com/Sumatoshi-tech/sccached/internal/storage"
	"github.com/Sumatoshi-tech/sccached/internal/wire"
	"github.com/Sumatoshi-tech/sccached/internal/workerpool"
)

// internalErrorSentinel is the retcode surfaced to the client for an
// InternalError (spec.md §7): an unexpected failure distinct from a real
// compiler exit code.
const internalErrorSentinel = -2

// Archive member names, fixed so a cache hit from any writer round-trips.
const (
	memberObject = "object"
	memberStdout = "stdout"
	memberStderr = "stderr"
)

// Verdict is the outcome of classifying a compile request, before any
// preprocessing or cache work happens.
type Verdict int

const (
	// VerdictUnsupportedCompiler means the executable is not a recognized
	// compiler (spec.md §7's CompilerDetectionFailure).
	VerdictUnsupportedCompiler Verdict = iota
	// VerdictNotCompilation means the invocation is not a compile at all.
	VerdictNotCompilation
	// VerdictCannotCache means it's a compile this dialect can't cache.
	VerdictCannotCache
	// VerdictCacheable means the invocation can proceed through the full
	// preprocess/fingerprint/cache pipeline.
	VerdictCacheable
)

// Request is one inbound compile invocation, mirroring spec.md §3's
// in-flight Compile request record.
type Request struct {
	Exe          string
	Argv         []string
	Cwd          string
	ForceRecache bool
}

// Pipeline wires together the collaborators a compile request touches:
// compiler detection (4.C), argument classification and preprocessing
// (4.D via a Dialect), subprocess execution (4.B), the cache backend
// (4.A), and the archive container (cache entry format).
type Pipeline struct {
	Dialect   dialect.Dialect
	Compilers *compilerinfo.Cache
	Runner    runner.Runner
	Store     storage.Store
	Pool      *workerpool.Pool
	Stats     *stats.Owner
	Logger    *slog.Logger
}

// Classify resolves the compiler at req.Exe and classifies req.Argv,
// without doing any preprocessing or cache work. The caller is expected to
// reply UnhandledCompile immediately for every Verdict except
// VerdictCacheable, and otherwise open the streaming response before
// calling Execute.
func (p *Pipeline) Classify(
	ctx context.Context, req Request,
) (Verdict, dialect.ParsedArguments, compilerinfo.Compiler, error) {
	compiler, found, err := p.Compilers.Lookup(ctx, req.Exe)
	if err != nil {
		return VerdictUnsupportedCompiler, dialect.ParsedArguments{}, compilerinfo.Compiler{}, err
	}

	if !found {
		return VerdictUnsupportedCompiler, dialect.ParsedArguments{}, compilerinfo.Compiler{}, nil
	}

	class, parsed := p.Dialect.ParseArguments(req.Argv)

	switch class {
	case dialect.NotCompilation:
		return VerdictNotCompilation, parsed, compiler, nil
	case dialect.CannotCache:
		return VerdictCannotCache, parsed, compiler, nil
	default:
		return VerdictCacheable, parsed, compiler, nil
	}
}

// Execute runs the preprocess/fingerprint/cache/compile/write-back chain
// for a VerdictCacheable request and returns the CompileFinished message
// to send as the stream's closing frame. ctx governs the compile
// subprocess and cache write-back and should be scoped to the server's
// lifetime rather than the client connection — spec.md §5's cancellation
// policy is that a client disconnect must not abort an in-flight compile
// or its write-back.
func (p *Pipeline) Execute(
	ctx context.Context, req Request, compiler compilerinfo.Compiler, parsed dialect.ParsedArguments,
) wire.ServerMessage {
	preprocessed, err := p.preprocess(ctx, req, parsed)
	if err != nil {
		return p.preprocessFailure(err)
	}

	fp := fingerprint.Compute(
		compiler.Digest(), fingerprint.FlagsDigest(parsed.CacheableArgs), preprocessed, parsed.OutputExt)

	if !req.ForceRecache {
		if msg, hit := p.probeCache(ctx, req, parsed, fp); hit {
			return msg
		}
	} else {
		p.Stats.Mutate(func(s *stats.Stats) { s.ForcedRecaches++ })
	}

	return p.compileAndCache(ctx, req, parsed, fp)
}

func (p *Pipeline) preprocess(ctx context.Context, req Request, parsed dialect.ParsedArguments) ([]byte, error) {
	g, gctx := p.Pool.Group(ctx)

	var out []byte

	g.Go(func() error {
		preprocessed, err := p.Dialect.Preprocess(gctx, p.Runner, req.Exe, req.Cwd, parsed)
		if err != nil {
			return err
		}

		out = preprocessed

		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

// preprocessFailure surfaces a PreprocessingFailure (spec.md §7) as a
// CompileFinished frame carrying the preprocessor's real exit code and
// stderr when the preprocessor actually ran, or the internal-error
// sentinel for a genuine InternalError (spec.md §7: "return a sentinel
// retcode (−2) ... increment cache_errors") such as the subprocess never
// launching at all.
func (p *Pipeline) preprocessFailure(err error) wire.ServerMessage {
	var failed *dialect.FailedError
	if errors.As(err, &failed) {
		p.Stats.Mutate(func(s *stats.Stats) { s.CompileFails++ })
		p.Logger.Warn("preprocess exited nonzero", "input", failed.Input, "exitcode", failed.Output.ExitCode)

		return wire.ServerMessage{
			Kind:    wire.ServerCompileFinished,
			Retcode: int32(failed.Output.ExitCode),
			Stdout:  failed.Output.Stdout,
			Stderr:  failed.Output.Stderr,
		}
	}

	p.Stats.Mutate(func(s *stats.Stats) { s.CacheErrors++ })
	p.Logger.Warn("preprocess failed", "error", err)

	return wire.ServerMessage{
		Kind:    wire.ServerCompileFinished,
		Retcode: internalErrorSentinel,
		Stderr:  []byte(err.Error()),
	}
}

// probeCache attempts a cache read for fp, returning (message, true) on a
// usable hit and (zero, false) for anything that should fall through to a
// real compile: a clean miss, a read error (counted separately per
// spec.md §7's CacheReadError, but otherwise treated as a miss), or a
// corrupt/unextractable entry.
func (p *Pipeline) probeCache(
	ctx context.Context, req Request, parsed dialect.ParsedArguments, fp fingerprint.Digest,
) (wire.ServerMessage, bool) {
	start := time.Now()

	rc, found, err := p.Store.Get(ctx, string(fp))
	if err != nil {
		p.Stats.Mutate(func(s *stats.Stats) { s.CacheReadErrors++ })
		p.Logger.Warn("cache read error", "error", err)

		return wire.ServerMessage{}, false
	}

	if !found {
		p.Stats.Mutate(func(s *stats.Stats) {
			s.CacheMisses++
			s.CacheReadMissDuration += time.Since(start)
		})

		return wire.ServerMessage{}, false
	}

	defer rc.Close()

	data, readErr := io.ReadAll(rc)
	dur := time.Since(start)

	if readErr != nil {
		p.Stats.Mutate(func(s *stats.Stats) { s.CacheReadErrors++ })
		p.Logger.Warn("cache blob read error", "error", readErr)

		return wire.ServerMessage{}, false
	}

	members, extractErr := archive.Extract(data)
	if extractErr != nil {
		p.Stats.Mutate(func(s *stats.Stats) { s.CacheReadErrors++ })
		p.Logger.Warn("cache entry corrupt", "error", extractErr)

		return wire.ServerMessage{}, false
	}

	stdout, stderr, materializeErr := materialize(req.Cwd, parsed.OutputFile, members)
	if materializeErr != nil {
		p.Stats.Mutate(func(s *stats.Stats) { s.CacheReadErrors++ })
		p.Logger.Warn("cache materialize error", "error", materializeErr)

		return wire.ServerMessage{}, false
	}

	p.Stats.Mutate(func(s *stats.Stats) {
		s.CacheHits++
		s.CacheReadHitDuration += dur
	})

	return wire.ServerMessage{Kind: wire.ServerCompileFinished, Retcode: 0, Stdout: stdout, Stderr: stderr}, true
}

// compileAndCache runs the real compiler on the worker pool, then — only
// on success — packages and schedules a detached write-back under fp.
// spec.md §4.D: "When the compile itself fails, no cache write occurs."
func (p *Pipeline) compileAndCache(
	ctx context.Context, req Request, parsed dialect.ParsedArguments, fp fingerprint.Digest,
) wire.ServerMessage {
	g, gctx := p.Pool.Group(ctx)

	var out runner.Output

	g.Go(func() error {
		argv := append([]string{req.Exe}, req.Argv[1:]...)

		result, runErr := p.Runner.Run(gctx, req.Cwd, argv, nil, nil)
		if runErr != nil {
			return runErr
		}

		out = result

		return nil
	})

	if err := g.Wait(); err != nil {
		p.Stats.Mutate(func(s *stats.Stats) { s.CacheErrors++ })
		p.Logger.Warn("compile subprocess error", "error", err)

		return wire.ServerMessage{Kind: wire.ServerCompileFinished, Retcode: internalErrorSentinel}
	}

	if !out.Success() {
		p.Stats.Mutate(func(s *stats.Stats) { s.CompileFails++ })

		return wire.ServerMessage{
			Kind: wire.ServerCompileFinished, Retcode: int32(out.ExitCode), Stdout: out.Stdout, Stderr: out.Stderr,
		}
	}

	p.writeBack(ctx, req, parsed, fp, out)

	p.Stats.Mutate(func(s *stats.Stats) { s.RequestsExecuted++ })

	return wire.ServerMessage{Kind: wire.ServerCompileFinished, Retcode: 0, Stdout: out.Stdout, Stderr: out.Stderr}
}

// writeBack packages the compiled object plus captured stdout/stderr into
// one archive and schedules Store.Put detached from the request-response
// path (spec.md §4.A: "put returns immediately ... MUST NOT block"). The
// write's own outcome is recorded asynchronously once the future resolves.
func (p *Pipeline) writeBack(
	ctx context.Context, req Request, parsed dialect.ParsedArguments, fp fingerprint.Digest, out runner.Output,
) {
	objPath := parsed.OutputFile
	if !filepath.IsAbs(objPath) {
		objPath = filepath.Join(req.Cwd, objPath)
	}

	objData, readErr := os.ReadFile(objPath)
	if readErr != nil {
		p.Stats.Mutate(func(s *stats.Stats) { s.CacheWriteErrors++ })
		p.Logger.Warn("read compiled object for write-back", "error", readErr)

		return
	}

	blob, buildErr := archive.Build([]archive.Member{
		{Name: memberObject, Data: objData},
		{Name: memberStdout, Data: out.Stdout},
		{Name: memberStderr, Data: out.Stderr},
	})
	if buildErr != nil {
		p.Stats.Mutate(func(s *stats.Stats) { s.CacheWriteErrors++ })
		p.Logger.Warn("build cache archive", "error", buildErr)

		return
	}

	future := p.Store.Put(ctx, string(fp), bytes.NewReader(blob))

	go func() {
		info, err := future.Wait(context.Background())
		if err != nil {
			p.Stats.Mutate(func(s *stats.Stats) { s.CacheWriteErrors++ })
			p.Logger.Warn("cache write-back failed", "error", err)

			return
		}

		p.Stats.Mutate(func(s *stats.Stats) {
			s.CacheWrites++
			s.CacheWriteDuration += info.Duration
		})
	}()
}

// materialize writes a cache entry's object member to outputFile (resolved
// relative to cwd) and returns the stdout/stderr members captured at
// write-back time, restoring the exact client-visible result of the
// original compile.
func materialize(cwd, outputFile string, members []archive.Member) (stdout, stderr []byte, err error) {
	byName := make(map[string][]byte, len(members))
	for _, m := range members {
		byName[m.Name] = m.Data
	}

	objData, ok := byName[memberObject]
	if !ok {
		return nil, nil, fmt.Errorf("compile: cache entry missing %q member", memberObject)
	}

	objPath := outputFile
	if !filepath.IsAbs(objPath) {
		objPath = filepath.Join(cwd, objPath)
	}

	if mkErr := os.MkdirAll(filepath.Dir(objPath), 0o755); mkErr != nil {
		return nil, nil, fmt.Errorf("compile: create output directory: %w", mkErr)
	}

	if writeErr := os.WriteFile(objPath, objData, 0o644); writeErr != nil {
		return nil, nil, fmt.Errorf("compile: write object file: %w", writeErr)
	}

	return byName[memberStdout], byName[memberStderr], nil
}
