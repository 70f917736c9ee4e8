package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// FakeRunner is a scripted Runner for tests: it matches the joined argv
// against registered prefixes and returns the canned Output, the same
// inversion-of-control seam original_source/src/main.rs's
// mock_command::CommandCreatorSync gives the original's own test suite.
type FakeRunner struct {
	mu       sync.Mutex
	scripts  []script
	calls    []Call
	fallback *Output
}

type script struct {
	prefix string
	output Output
	err    error
}

// Call records one invocation made against a FakeRunner, for assertions.
type Call struct {
	Cwd   string
	Argv  []string
	Env   []string
	Stdin []byte
}

// NewFake returns an empty FakeRunner; register behavior with On/OnError.
func NewFake() *FakeRunner {
	return &FakeRunner{}
}

// On registers an Output to return when the joined argv has prefix as a
// prefix. Later registrations take precedence over earlier overlapping ones.
func (f *FakeRunner) On(prefix string, out Output) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.scripts = append(f.scripts, script{prefix: prefix, output: out})
}

// OnError registers an error to return when the joined argv has prefix as
// a prefix.
func (f *FakeRunner) OnError(prefix string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.scripts = append(f.scripts, script{prefix: prefix, err: err})
}

// SetFallback sets the Output returned for argv matching no registered
// prefix, instead of the default "no script matched" error.
func (f *FakeRunner) SetFallback(out Output) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fallback = &out
}

// Calls returns every invocation made against this FakeRunner, in order.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]Call(nil), f.calls...)
}

// Run implements Runner.
func (f *FakeRunner) Run(_ context.Context, cwd string, argv []string, env []string, stdin []byte) (Output, error) {
	joined := strings.Join(argv, " ")

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{Cwd: cwd, Argv: append([]string(nil), argv...), Env: env, Stdin: stdin})

	for i := len(f.scripts) - 1; i >= 0; i-- {
		s := f.scripts[i]
		if strings.HasPrefix(joined, s.prefix) {
			if s.err != nil {
				return Output{}, s.err
			}

			return s.output, nil
		}
	}

	if f.fallback != nil {
		return *f.fallback, nil
	}

	return Output{}, fmt.Errorf("runner: fake: no script registered for argv %v", argv)
}
