package model

import "time"

// RunMode identifies how the tests of a run were executed
type RunMode string

const (
	RunModeLocal     RunMode = "local"
	RunModeLSF       RunMode = "lsf"
	RunModeReconnect RunMode = "reconnect"

	// RunModeBatchCollect gathers the results of earlier runs of a batch
	// session instead of running anything
	RunModeBatchCollect RunMode = "batch-collect"
)

// Run represents a single texttest execution over one application.
type Run struct {
	// Unique ID for this run (16 random bytes, hex encoded)
	ID string `json:"id"`
	// Application name and versions, e.g. "myapp.v2"
	App string `json:"app"`
	// How the tests were executed
	Mode RunMode `json:"mode"`
	// Batch session the run belongs to, if any
	Batch string `json:"batch,omitempty"`
	// Timestamp when the run started
	Timestamp time.Time `json:"timestamp"`
	// Command-line arguments (including command name)
	Args []string `json:"args"`
	// Test suite root directory
	WorkDir string `json:"workdir"`
	// Scratch directory holding the temporary files of this run
	WriteDir string `json:"write_dir"`
	// Exit code of the run
	ExitCode int `json:"exit_code"`
	// Duration of the run
	Duration time.Duration `json:"duration"`
	// Git information of the test suite checkout
	Git *Git `json:"git,omitempty"`
	// Target execution environment
	Target *Target `json:"target,omitempty"`
	// Final state of every selected test
	Tests []TestRecord `json:"tests,omitempty"`
}

// Git contains git repository information
type Git struct {
	// Git commit hash at time of execution
	Commit string `json:"commit,omitempty"`
	// Git branch at time of execution
	Branch string `json:"branch,omitempty"`
}

// Target contains information about the execution environment
type Target struct {
	// LSF queue the tests were submitted to
	Queue string `json:"queue,omitempty"`
	// Host the scheduler commands ran on, if not local
	SubmitHost string `json:"submit_host,omitempty"`
	// LSF resource requirement used for submission
	Resource string `json:"resource,omitempty"`
}

// TestRecord is the final state of one test.
type TestRecord struct {
	Path        string       `json:"path"`
	State       Category     `json:"state"`
	Brief       string       `json:"brief,omitempty"`
	Free        string       `json:"free,omitempty"`
	Hosts       []string     `json:"hosts,omitempty"`
	Comparisons []Comparison `json:"comparisons,omitempty"`
}

// NewTestRecord captures the current state of t.
func NewTestRecord(t *Test) TestRecord {
	s := t.State()
	rec := TestRecord{
		Path:  t.RelPath(),
		State: s.Category(),
		Brief: s.BriefText(),
		Free:  s.FreeText(),
		Hosts: s.ExecutionHosts(),
	}
	if c, ok := s.(Complete); ok {
		rec.Comparisons = c.Comparisons
	}
	return rec
}

// RecordedState rebuilds the state captured by NewTestRecord. Comparison
// results are kept, file contents are not.
func (r TestRecord) RecordedState() State {
	switch r.State {
	case CategoryRunning:
		return Running{Hosts: r.Hosts, Brief: r.Brief, Free: r.Free}
	case CategoryKilled:
		return Killed{Brief: r.Brief, Free: r.Free, Previous: Running{Hosts: r.Hosts}}
	case CategoryComplete:
		return Complete{Hosts: r.Hosts, Comparisons: r.Comparisons}
	}
	return NotStarted{}
}
