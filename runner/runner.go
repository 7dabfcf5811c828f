package runner

// Package runner executes tests as local processes, one at a time, and
// resolves the race between a test's completion and a concurrent request
// to kill it.

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/carlsmedstad/texttest/action"
	"github.com/carlsmedstad/texttest/config"
	"github.com/carlsmedstad/texttest/model"
)

const (
	killPollInterval = 200 * time.Millisecond
	killPollAttempts = 10
	defaultKillGrace = 5 * time.Second
)

// Runner runs tests as local processes. It is used by a single worker
// goroutine while Kill may be called from any other goroutine.
//
// The set of killed tests and the most recent kill signal are kept for the
// lifetime of the Runner, so a kill-all request also covers tests that have
// not been started yet.
type Runner struct {
	action.Base
	logger    zerolog.Logger
	clock     clock.Clock
	hostname  string
	killGrace time.Duration

	mu          sync.Mutex
	currentTest *model.Test
	current     *testProcess
	killed      map[*model.Test]bool
	finished    map[*model.Test]bool
	killSignal  os.Signal
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock sets the clock used for kill polling and termination grace.
func WithClock(c clock.Clock) Option {
	return func(r *Runner) {
		r.clock = c
	}
}

// WithKillGrace sets how long a killed process tree gets to exit after
// SIGTERM before it receives SIGKILL.
func WithKillGrace(d time.Duration) Option {
	return func(r *Runner) {
		r.killGrace = d
	}
}

// WithHostname overrides the execution host reported for running tests.
func WithHostname(h string) Option {
	return func(r *Runner) {
		r.hostname = h
	}
}

// New creates a Runner.
func New(logger zerolog.Logger, opts ...Option) *Runner {
	r := &Runner{
		logger:    logger,
		clock:     clock.NewClock(),
		killGrace: defaultKillGrace,
		killed:    make(map[*model.Test]bool),
		finished:  make(map[*model.Test]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.hostname == "" {
		if h, err := os.Hostname(); err == nil {
			r.hostname = strings.Split(h, ".")[0]
		} else {
			r.hostname = "localhost"
		}
	}
	return r
}

func (r *Runner) String() string { return "Running" }

func (r *Runner) SetUpSuite(_ context.Context, s *model.Suite) error {
	r.logger.Info().Str("suite", s.Describe()).Msg("Running suite")
	return nil
}

// Perform runs t to completion. A test killed before, during or right
// after its execution ends up Killed. A non-zero exit status is not an
// error; it is for the evaluation stage to judge the test's output.
func (r *Runner) Perform(_ context.Context, t *model.Test) error {
	args, err := r.commandLine(t)
	if err != nil {
		return err
	}

	r.logger.Info().Str("test", t.RelPath()).Msg("Running")
	r.logger.Debug().Str("test", t.RelPath()).Strs("args", args).Strs("env", t.EnvironmentList()).Msg("Test command line")

	p, err := r.start(t, args)
	if err != nil {
		return err
	}

	r.register(t, p)
	signalled := r.wait(t, p)

	if signalled && !r.isKilled(t) {
		// Killed from outside; the kill request may still be on its way
		r.waitForKill(t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentTest = nil
	r.current = nil
	r.finished[t] = true
	if r.killed[t] {
		r.changeToKilled(t)
	}
	return nil
}

func (r *Runner) commandLine(t *model.Test) ([]string, error) {
	args, err := config.CommandArgs(t)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve command line: %w", err)
	}
	if t.App.HasAutomaticCPUTimeChecking() {
		args = append([]string{"time", "-p", "-o", t.TmpFileName("unixperf")}, args...)
	}
	return args, nil
}

func (r *Runner) start(t *model.Test, args []string) (*testProcess, error) {
	stdin := os.DevNull
	if name := t.FileName("input"); name != "" {
		stdin = name
	}
	in, err := os.Open(stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	out, err := os.Create(t.TmpFileName("output"))
	if err != nil {
		in.Close()
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	errOut, err := os.Create(t.TmpFileName("errors"))
	if err != nil {
		in.Close()
		out.Close()
		return nil, fmt.Errorf("failed to create errors file: %w", err)
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = t.WriteDir
	cmd.Env = append(os.Environ(), t.EnvironmentList()...)
	cmd.Stdin = in
	cmd.Stdout = out
	cmd.Stderr = errOut
	// Own process group: job-control signals aimed at us do not reach the
	// test, and the whole tree can be signalled at once.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		in.Close()
		out.Close()
		errOut.Close()
		return nil, fmt.Errorf("failed to start test process: %w", err)
	}
	return &testProcess{cmd: cmd, files: []*os.File{in, out, errOut}, exited: make(chan struct{})}, nil
}

// register publishes the started process and, if a kill request for t
// arrived before it could be seen, terminates it straight away.
func (r *Runner) register(t *model.Test, p *testProcess) {
	r.mu.Lock()
	defer r.mu.Unlock()

	running := model.Running{
		Hosts: []string{r.hostname},
		Free:  "Running on " + r.hostname,
	}
	if err := t.ChangeState(running); err != nil {
		r.logger.Debug().Err(err).Str("test", t.RelPath()).Msg("Not marking test as running")
	}

	r.currentTest = t
	r.current = p
	if r.killed[t] {
		r.terminate(p)
	}
}

// wait blocks until the process exits and reports whether it was ended by
// a signal.
func (r *Runner) wait(t *model.Test, p *testProcess) bool {
	err := p.cmd.Wait()
	close(p.exited)
	for _, f := range p.files {
		f.Close()
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		r.logger.Debug().Str("test", t.RelPath()).Msg("Process exited with code 0")
		return false
	case errors.As(err, &exitErr):
		status, ok := exitErr.Sys().(syscall.WaitStatus)
		if ok && status.Signaled() {
			r.logger.Debug().Str("test", t.RelPath()).Str("signal", status.Signal().String()).Msg("Process terminated by signal")
			return true
		}
		r.logger.Debug().Str("test", t.RelPath()).Int("code", exitErr.ExitCode()).Msg("Process exited")
		return false
	default:
		r.logger.Warn().Err(err).Str("test", t.RelPath()).Msg("Failed to wait for test process")
		return false
	}
}

func (r *Runner) isKilled(t *model.Test) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.killed[t]
}

func (r *Runner) waitForKill(t *model.Test) {
	for i := 0; i < killPollAttempts; i++ {
		r.clock.Sleep(killPollInterval)
		if r.isKilled(t) {
			return
		}
	}
}

// Kill records a kill request for t. sig classifies the request; nil means
// an explicit kill. The process is terminated only if it belongs to t, and
// a test whose process has already exited is marked Killed directly unless
// its results have been evaluated.
func (r *Runner) Kill(t *model.Test, sig os.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.killed[t] = true
	r.killSignal = sig

	switch {
	case r.currentTest == t && r.current != nil:
		r.logger.Info().Str("test", t.RelPath()).Int("pid", r.current.cmd.Process.Pid).Msg("Killing running test")
		r.terminate(r.current)
	case r.finished[t] && !model.IsComplete(t.State()):
		r.changeToKilled(t)
	}
}

// changeToKilled must be called with r.mu held.
func (r *Runner) changeToKilled(t *model.Test) {
	brief, full := killInfo(r.killSignal, r.clock.Now())
	prev := t.State()
	err := t.ChangeState(model.Killed{
		Brief:    brief,
		Free:     "Test " + full + "\n",
		Previous: prev,
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("test", t.RelPath()).Msg("Failed to mark test as killed")
		return
	}
	r.logger.Info().Str("test", t.RelPath()).Str("reason", brief).Str("previous", string(prev.Category())).Msg("Test killed")
}

// killInfo returns the brief and full kill reason for sig.
func killInfo(sig os.Signal, now time.Time) (brief, full string) {
	if sig == nil {
		return "KILLED", "killed explicitly at " + now.Format("15:04")
	}
	switch sig {
	case unix.SIGUSR1:
		return "SIGUSR1", "terminated by user signal 1"
	case unix.SIGUSR2:
		return "SIGUSR2", "terminated by user signal 2"
	case unix.SIGXCPU:
		return "CPULIMIT", "exceeded maximum cpu time allowed"
	case unix.SIGINT:
		return "INTERRUPT", "terminated via a keyboard interrupt (Ctrl-C)"
	}
	brief = "signal " + sig.String()
	if s, ok := sig.(syscall.Signal); ok {
		brief = fmt.Sprintf("signal %d", int(s))
	}
	return brief, "terminated by " + brief
}
