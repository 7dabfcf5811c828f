package action

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/carlsmedstad/texttest/model"
)

// Pipeline applies a fixed sequence of passes to the selected tests. Each
// pass visits every test in order before the next pass starts, so a
// scheduler can have all jobs submitted before the first one is awaited.
type Pipeline struct {
	logger zerolog.Logger
	passes []Composite
	killer Killer

	mu    sync.Mutex
	tests []*model.Test
}

// NewPipeline creates a pipeline. killer receives kill requests from
// KillAll; it may be nil when the passes cannot be interrupted.
func NewPipeline(logger zerolog.Logger, killer Killer, passes ...Composite) *Pipeline {
	return &Pipeline{
		logger: logger,
		passes: passes,
		killer: killer,
	}
}

// Run drives tests through every pass. A failing stage aborts the rest of
// that test's processing; the other tests continue. The returned error
// aggregates every per-test failure. Errors from SetUpApplication are
// configuration errors and abort the run before any test is processed.
func (p *Pipeline) Run(ctx context.Context, app *model.Application, tests []*model.Test) error {
	for _, pass := range p.passes {
		if err := pass.SetUpApplication(ctx, app); err != nil {
			return fmt.Errorf("failed to set up application %s: %w", app, err)
		}
	}

	p.mu.Lock()
	p.tests = tests
	p.mu.Unlock()

	var result *multierror.Error
	failed := make(map[*model.Test]bool)

	for i, pass := range p.passes {
		p.logger.Debug().Int("pass", i+1).Str("actions", pass.String()).Msg("Starting pass")
		entered := make(map[*model.Suite]bool)
		for _, t := range tests {
			if failed[t] {
				continue
			}
			if err := p.enterSuites(ctx, pass, t.Parent, entered); err != nil {
				failed[t] = true
				result = multierror.Append(result, fmt.Errorf("%s: %w", t.RelPath(), err))
				continue
			}
			if err := pass.Perform(ctx, t); err != nil {
				p.logger.Error().Err(err).Str("test", t.RelPath()).Msg("Test processing failed")
				failed[t] = true
				result = multierror.Append(result, fmt.Errorf("%s: %w", t.RelPath(), err))
			}
		}
	}

	return result.ErrorOrNil()
}

// enterSuites calls SetUpSuite for s and its ancestors, outermost first,
// unless the pass has already entered them.
func (p *Pipeline) enterSuites(ctx context.Context, pass Composite, s *model.Suite, entered map[*model.Suite]bool) error {
	if s == nil || entered[s] {
		return nil
	}
	if err := p.enterSuites(ctx, pass, s.Parent, entered); err != nil {
		return err
	}
	entered[s] = true
	return pass.SetUpSuite(ctx, s)
}

// KillAll asks the killer to stop every selected test that has not yet
// completed.
func (p *Pipeline) KillAll(sig os.Signal) {
	if p.killer == nil {
		return
	}

	p.mu.Lock()
	tests := p.tests
	p.mu.Unlock()

	p.logger.Info().Str("signal", signalName(sig)).Int("tests", len(tests)).Msg("Killing all remaining tests")
	for _, t := range tests {
		if model.IsComplete(t.State()) {
			continue
		}
		p.killer.Kill(t, sig)
	}
}

func signalName(sig os.Signal) string {
	if sig == nil {
		return "none"
	}
	return sig.String()
}
