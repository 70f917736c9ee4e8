// Package server wires the framed wire protocol (internal/wire) to the
// compile pipeline (internal/compile), and supervises the daemon's
// lifecycle: three independent shutdown triggers, an accept loop bounded
// by a handler reference count, and a bounded grace-window drain —
// spec.md §4.F/§4.G.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/oklog/run"
)

// Supervisor tracks the three orthogonal termination triggers spec.md
// §4.G names (external shutdown, in-band shutdown RPC, inactivity) and
// drives an accept loop that stops taking new connections the instant any
// of them fires, then drains in-flight handlers up to a bounded grace
// window. Grounded on
// GoogleCloudPlatform-prometheus-engine/cmd/config-reloader/main.go's
// `var g run.Group; g.Add(execute, interrupt)` idiom: "first actor to
// return interrupts the rest" is exactly the "completes on any of three
// triggers" semantics spec.md §9 calls for.
type Supervisor struct {
	idleTimeout time.Duration
	graceWindow time.Duration

	activity     chan struct{}
	shutdownRPC  chan struct{}
	shutdownOnce sync.Once

	handlers sync.WaitGroup
	active   int64
	mu       sync.Mutex

	logger *slog.Logger
}

// New returns a Supervisor with the given idle timeout and post-shutdown
// grace window (spec.md §4.G defaults: 600,000 ms and 1,000 ms).
func New(idleTimeout, graceWindow time.Duration, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		idleTimeout: idleTimeout,
		graceWindow: graceWindow,
		activity:    make(chan struct{}, 1),
		shutdownRPC: make(chan struct{}),
		logger:      logger,
	}
}

// NotifyActivity resets the idle deadline. It is best-effort: a full
// channel (another notification already pending) is not an error, matching
// spec.md §4.F's "notification to the supervisor is best-effort" rule —
// the request proceeds either way.
func (s *Supervisor) NotifyActivity() {
	select {
	case s.activity <- struct{}{}:
	default:
	}
}

// RequestShutdown signals the in-band shutdown RPC trigger. Safe to call
// more than once.
func (s *Supervisor) RequestShutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdownRPC) })
}

// HandlerStarted must be called once per accepted connection before its
// handler goroutine begins, and HandlerDone once it exits. The Supervisor
// uses this count to know when in-flight work has drained during the
// grace window.
func (s *Supervisor) HandlerStarted() {
	s.handlers.Add(1)

	s.mu.Lock()
	s.active++
	s.mu.Unlock()
}

// HandlerDone marks one handler as finished.
func (s *Supervisor) HandlerDone() {
	s.mu.Lock()
	s.active--
	s.mu.Unlock()

	s.handlers.Done()
}

// Run accepts connections on listener, dispatching each to handle in its
// own goroutine, until any of the three termination triggers fires (ctx
// cancellation is the "external shutdown" trigger). It then stops
// accepting, waits up to the grace window for in-flight handlers to
// finish, and returns.
func (s *Supervisor) Run(ctx context.Context, listener net.Listener, handle func(net.Conn)) error {
	var g run.Group

	g.Add(func() error {
		return s.acceptLoop(listener, handle)
	}, func(error) {
		_ = listener.Close()
	})

	idleStop := make(chan struct{})
	g.Add(func() error {
		return s.idleLoop(idleStop)
	}, func(error) {
		close(idleStop)
	})

	g.Add(func() error {
		<-s.shutdownRPC

		return nil
	}, func(error) {})

	g.Add(func() error {
		<-ctx.Done()

		return ctx.Err()
	}, func(error) {})

	err := g.Run()

	s.drain()

	switch {
	case err == nil, errors.Is(err, errIdleTimeout), errors.Is(err, context.Canceled):
		return nil
	default:
		var acceptErr acceptLoopStopped
		if errors.As(err, &acceptErr) {
			// The accept loop returning first (rather than as a side effect
			// of another trigger's interrupt closing the listener) means a
			// genuine transport fault, not a deliberate shutdown.
			return acceptErr
		}

		return err
	}
}

// idleLoop returns when idleTimeout elapses without an intervening
// NotifyActivity call — spec.md §4.G / §5's "the idle deadline advances
// only on arrival of a new request" invariant.
func (s *Supervisor) idleLoop(stop <-chan struct{}) error {
	if s.idleTimeout <= 0 {
		<-stop

		return nil
	}

	timer := time.NewTimer(s.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-s.activity:
			if !timer.Stop() {
				<-timer.C
			}

			timer.Reset(s.idleTimeout)
		case <-timer.C:
			return errIdleTimeout
		case <-stop:
			return nil
		}
	}
}

// acceptLoopStopped wraps a listener-closed error so Run can recognize a
// deliberate shutdown (listener closed by the interrupt function) rather
// than a genuine transport fault.
type acceptLoopStopped struct{ err error }

func (e acceptLoopStopped) Error() string { return e.err.Error() }
func (e acceptLoopStopped) Unwrap() error { return e.err }

func (s *Supervisor) acceptLoop(listener net.Listener, handle func(net.Conn)) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return acceptLoopStopped{err: err}
		}

		s.HandlerStarted()

		go func() {
			defer s.HandlerDone()
			handle(conn)
		}()
	}
}

// drain waits up to the grace window for every started handler to finish
// (spec.md invariant 4: "a shutdown that has been acknowledged to a client
// must drain all in-flight finished-frames within the grace window before
// exiting"). Handlers still running when the window expires are abandoned.
func (s *Supervisor) drain() {
	done := make(chan struct{})

	go func() {
		s.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.graceWindow):
		s.mu.Lock()
		remaining := s.active
		s.mu.Unlock()

		if remaining > 0 {
			s.logger.Warn("grace window expired with handlers still in flight", "remaining", remaining)
		}
	}
}

var errIdleTimeout = idleTimeoutError{}

type idleTimeoutError struct{}

func (idleTimeoutError) Error() string { return "server: idle timeout elapsed" }
