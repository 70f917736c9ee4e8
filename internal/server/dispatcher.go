package server

import (
	"bufio"
	"context"
	"log/slog"
	"net"

	"github.com/Sumatoshi-tech/sccached/internal/compile"
	"github.com/Sumatoshi-tech/sccached/internal/compilerinfo"
	"github.com/Sumatoshi-tech/sccached/internal/dialect"
	"github.com/Sumatoshi-tech/sccached/internal/stats"
	"github.com/Sumatoshi-tech/sccached/internal/storage"
	"github.com/Sumatoshi-tech/sccached/internal/wire"
)

// Dispatcher demultiplexes one decoded request per connection to the
// stats/shutdown/compile handlers spec.md §4.F's table names. Grounded on
// SccacheService::call/handle_compile/check_compiler in
// original_source/src/server.rs, and on the request-dispatch/response
// loop shape of
// other_examples/98d5ba73_creachadair-gocache__gocache.go.go's
// handleRequest.
type Dispatcher struct {
	Pipeline   *compile.Pipeline
	Store      storage.Store
	Stats      *stats.Owner
	Supervisor *Supervisor
	Logger     *slog.Logger

	// Recache mirrors SCCACHE_RECACHE (spec.md §6): every compile bypasses
	// the cache read but still populates the cache on completion.
	Recache bool

	// RootCtx governs compile subprocess execution and cache write-back. It
	// must outlive any single connection so a client disconnect cannot
	// cancel an in-flight compile (spec.md §5's cancellation policy) — only
	// the supervisor's grace window bounds it.
	RootCtx context.Context
}

// Handle serves one connection end to end: decode exactly one
// ClientMessage, dispatch it, write the response frame(s), then close.
// Per-connection concurrency (CPU-bound work fanned out within a single
// compile) is bounded by the Pipeline's workerpool.Pool, not by this
// method.
func (d *Dispatcher) Handle(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)

	payload, err := wire.ReadFrame(reader)
	if err != nil {
		d.Logger.Debug("read frame failed", "error", err, "remote", conn.RemoteAddr())

		return
	}

	msg, err := wire.DecodeClientMessage(payload)
	if err != nil {
		d.Logger.Warn("decode client message failed", "error", err, "remote", conn.RemoteAddr())

		return
	}

	d.Supervisor.NotifyActivity()

	switch msg.Kind {
	case wire.ClientGetStats:
		d.replyStats(conn, wire.ServerStats)
	case wire.ClientZeroStats:
		d.Stats.Mutate(func(s *stats.Stats) { s.Reset() })
		d.replyStats(conn, wire.ServerStats)
	case wire.ClientShutdown:
		d.Supervisor.RequestShutdown()
		d.replyStats(conn, wire.ServerShuttingDown)
	case wire.ClientCompile:
		d.handleCompile(conn, msg)
	default:
		d.writeFrame(conn, wire.ServerMessage{Kind: wire.ServerUnknownCommand})
	}
}

// statsReport renders the current counters plus the active backend's
// location/size fields, composed here rather than inside internal/stats so
// that package keeps no storage dependency of its own.
func (d *Dispatcher) statsReport() []wire.CacheStatistic {
	entries := []wire.CacheStatistic{
		{Name: "Cache location", Str: d.Store.Location()},
	}

	if size, ok := d.Store.CurrentSize(); ok {
		entries = append(entries, wire.CacheStatistic{Name: "Cache size", Count: uint64(size), HasCount: true})
	}

	if maxSize, ok := d.Store.MaxSize(); ok {
		entries = append(entries, wire.CacheStatistic{Name: "Max cache size", Count: uint64(maxSize), HasCount: true})
	}

	return append(entries, d.Stats.Snapshot().ToCacheStatistics()...)
}

func (d *Dispatcher) replyStats(conn net.Conn, kind wire.ServerKind) {
	d.writeFrame(conn, wire.ServerMessage{Kind: kind, Stats: d.statsReport()})
}

// handleCompile drives the full compile state machine (spec.md §4.D):
// classify first, replying UnhandledCompile immediately for anything that
// isn't a cacheable compile; otherwise open the stream with CompileStarted
// and run the pipeline to completion before sending CompileFinished.
func (d *Dispatcher) handleCompile(conn net.Conn, msg wire.ClientMessage) {
	d.Stats.Mutate(func(s *stats.Stats) { s.CompileRequests++ })

	req := compile.Request{Exe: msg.Exe, Argv: msg.Command, Cwd: msg.Cwd, ForceRecache: d.Recache}

	verdict, parsed, compiler, err := d.Pipeline.Classify(d.RootCtx, req)
	if err != nil {
		d.Logger.Warn("compiler detection failed", "exe", req.Exe, "error", err)
		d.Stats.Mutate(func(s *stats.Stats) { s.RequestsUnsupportedCompiler++ })
		d.writeFrame(conn, wire.ServerMessage{Kind: wire.ServerUnhandledCompile})

		return
	}

	switch verdict {
	case compile.VerdictUnsupportedCompiler:
		d.Stats.Mutate(func(s *stats.Stats) { s.RequestsUnsupportedCompiler++ })
		d.writeFrame(conn, wire.ServerMessage{Kind: wire.ServerUnhandledCompile})
	case compile.VerdictNotCompilation:
		d.Stats.Mutate(func(s *stats.Stats) { s.RequestsNotCompile++ })
		d.writeFrame(conn, wire.ServerMessage{Kind: wire.ServerUnhandledCompile})
	case compile.VerdictCannotCache:
		d.Stats.Mutate(func(s *stats.Stats) { s.RequestsNotCacheable++ })
		d.writeFrame(conn, wire.ServerMessage{Kind: wire.ServerUnhandledCompile})
	case compile.VerdictCacheable:
		d.runCompile(conn, req, compiler, parsed)
	}
}

func (d *Dispatcher) runCompile(
	conn net.Conn, req compile.Request, compiler compilerinfo.Compiler, parsed dialect.ParsedArguments,
) {
	if !d.writeFrame(conn, wire.ServerMessage{Kind: wire.ServerCompileStarted}) {
		// Peer is already gone; the write-back still has to run, so fall
		// through to Execute rather than returning early.
		d.Logger.Debug("client disconnected before CompileStarted", "exe", req.Exe)
	}

	finished := d.Pipeline.Execute(d.RootCtx, req, compiler, parsed)
	d.writeFrame(conn, finished)
}

// writeFrame encodes and writes msg, returning false (and logging) on
// failure instead of propagating the error — a write failure means the
// peer is gone, which is not itself an error condition for the compile
// that may still be in flight.
func (d *Dispatcher) writeFrame(conn net.Conn, msg wire.ServerMessage) bool {
	payload, err := wire.EncodeServerMessage(msg)
	if err != nil {
		d.Logger.Error("encode server message failed", "error", err)

		return false
	}

	if err := wire.WriteFrame(conn, payload); err != nil {
		d.Logger.Debug("write frame failed", "error", err, "remote", conn.RemoteAddr())

		return false
	}

	return true
}
