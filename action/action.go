package action

// Package action contains the pipeline that drives selected tests through
// an ordered list of stages, and the stages shared by every run mode.

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/carlsmedstad/texttest/model"
)

// Action is one stage of the pipeline.
type Action interface {
	// Perform processes a single test
	Perform(ctx context.Context, t *model.Test) error
	// SetUpSuite is called the first time a pass enters a suite
	SetUpSuite(ctx context.Context, s *model.Suite) error
	// SetUpApplication is called once before any test is processed
	SetUpApplication(ctx context.Context, app *model.Application) error
	String() string
}

// Base provides no-op hooks. Stages embed it and override what they need.
type Base struct{}

func (Base) Perform(context.Context, *model.Test) error                 { return nil }
func (Base) SetUpSuite(context.Context, *model.Suite) error             { return nil }
func (Base) SetUpApplication(context.Context, *model.Application) error { return nil }

// Killer stops the execution of a test. It may be called from any
// goroutine at any time.
type Killer interface {
	Kill(t *model.Test, sig os.Signal)
}

// Composite runs its actions in order as a single stage. Perform stops at
// the first failing action.
type Composite []Action

func (c Composite) Perform(ctx context.Context, t *model.Test) error {
	for _, a := range c {
		if err := a.Perform(ctx, t); err != nil {
			return fmt.Errorf("%s: %w", a, err)
		}
	}
	return nil
}

func (c Composite) SetUpSuite(ctx context.Context, s *model.Suite) error {
	for _, a := range c {
		if err := a.SetUpSuite(ctx, s); err != nil {
			return fmt.Errorf("%s: %w", a, err)
		}
	}
	return nil
}

func (c Composite) SetUpApplication(ctx context.Context, app *model.Application) error {
	for _, a := range c {
		if err := a.SetUpApplication(ctx, app); err != nil {
			return fmt.Errorf("%s: %w", a, err)
		}
	}
	return nil
}

func (c Composite) String() string {
	names := make([]string, len(c))
	for i, a := range c {
		names[i] = a.String()
	}
	return strings.Join(names, ", ")
}
