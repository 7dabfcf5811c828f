package model

// This file contains the test state variants and the rules for moving
// a test between them.

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned by ChangeState when the requested state
// would move a test backwards in its lifecycle.
var ErrInvalidTransition = errors.New("invalid state transition")

// Category identifies the variant of a State
type Category string

const (
	CategoryNotStarted Category = "not_started"
	CategoryRunning    Category = "running"
	CategoryKilled     Category = "killed"
	CategoryComplete   Category = "complete"
)

// State is the lifecycle value attached to a Test. Implementations are
// immutable; a transition always replaces the whole value.
type State interface {
	Category() Category
	// BriefText is a short label, e.g. "KILLED" or "CPULIMIT"
	BriefText() string
	// FreeText is a longer human-readable description
	FreeText() string
	// ExecutionHosts are the machines the test ran on, if known
	ExecutionHosts() []string

	isState()
}

// NotStarted is the state of every test before it is run or submitted.
type NotStarted struct{}

func (NotStarted) Category() Category       { return CategoryNotStarted }
func (NotStarted) BriefText() string        { return "" }
func (NotStarted) FreeText() string         { return "" }
func (NotStarted) ExecutionHosts() []string { return nil }
func (NotStarted) isState()                 {}

// Running is entered once the test's process (or remote job) is executing.
type Running struct {
	Hosts []string
	Brief string
	Free  string
}

func (s Running) Category() Category       { return CategoryRunning }
func (s Running) BriefText() string        { return s.Brief }
func (s Running) FreeText() string         { return s.Free }
func (s Running) ExecutionHosts() []string { return s.Hosts }
func (Running) isState()                   {}

// Killed is terminal. Previous keeps the state the test was in when the
// kill was applied, which is useful for diagnostics.
type Killed struct {
	Brief    string
	Free     string
	Previous State
}

func (s Killed) Category() Category { return CategoryKilled }
func (s Killed) BriefText() string  { return s.Brief }
func (s Killed) FreeText() string   { return s.Free }
func (s Killed) ExecutionHosts() []string {
	if s.Previous == nil {
		return nil
	}
	return s.Previous.ExecutionHosts()
}
func (Killed) isState() {}

// Comparison is the outcome of comparing one temporary file with its
// standard counterpart.
type Comparison struct {
	Stem    string `json:"stem"`
	Success bool   `json:"success"`
	// Missing is set when the standard file exists but the test did not produce it
	Missing bool `json:"missing,omitempty"`
	// New is set when the test produced a file that has no standard counterpart
	New bool `json:"new,omitempty"`
}

// Complete is produced by the evaluation stage.
type Complete struct {
	Hosts       []string
	Comparisons []Comparison
}

func (s Complete) Category() Category       { return CategoryComplete }
func (s Complete) ExecutionHosts() []string { return s.Hosts }
func (Complete) isState()                   {}

func (s Complete) BriefText() string {
	if s.Succeeded() {
		return ""
	}
	return "FAILED"
}

func (s Complete) FreeText() string {
	for _, c := range s.Comparisons {
		if !c.Success {
			return fmt.Sprintf("Differences in %s", c.Stem)
		}
	}
	return ""
}

// Succeeded reports whether every comparison matched.
func (s Complete) Succeeded() bool {
	for _, c := range s.Comparisons {
		if !c.Success {
			return false
		}
	}
	return true
}

// IsComplete reports whether the state is terminal.
func IsComplete(s State) bool {
	switch s.Category() {
	case CategoryKilled, CategoryComplete:
		return true
	}
	return false
}

// HasStarted reports whether the test has left NotStarted.
func HasStarted(s State) bool {
	return s.Category() != CategoryNotStarted
}

// HasResults reports whether comparison results are attached.
func HasResults(s State) bool {
	return s.Category() == CategoryComplete
}

func rank(c Category) int {
	switch c {
	case CategoryNotStarted:
		return 0
	case CategoryRunning:
		return 1
	default:
		return 2
	}
}

// checkTransition decides whether prev may be replaced by next. A nil error
// with apply=false means the request is accepted but leaves prev in place.
func checkTransition(prev, next State) (apply bool, err error) {
	if prev.Category() == CategoryKilled {
		if next.Category() == CategoryKilled {
			return false, nil
		}
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev.Category(), next.Category())
	}
	if next.Category() == CategoryKilled {
		if prev.Category() == CategoryComplete {
			return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev.Category(), next.Category())
		}
		return true, nil
	}
	if rank(next.Category()) <= rank(prev.Category()) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev.Category(), next.Category())
	}
	return true, nil
}
