package model

// This file contains the suite tree: applications, suites and tests, along
// with the naming rules for the files a test reads and writes.

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Config is the application configuration as seen by the pipeline.
type Config interface {
	// Value returns a scalar entry, or "" if unset
	Value(key string) string
	// List returns a list entry, or nil if unset
	List(key string) []string
	// Map returns a map entry, or nil if unset
	Map(key string) map[string]string
	// Bool interprets a scalar entry as a boolean, false if unset
	Bool(key string) bool
	// SetDefault sets key to value unless it is already set
	SetDefault(key, value string)
}

// Observer is notified after every successful state change.
type Observer interface {
	StateChanged(t *Test, prev, next State)
}

// Application is one configured system under test.
type Application struct {
	Name     string
	Versions []string
	// Dir is the root directory of the test suite
	Dir string
	// WriteDir is the scratch directory for this run
	WriteDir string
	// RunTag identifies this run; it is part of every scheduler job name
	RunTag string
	Config Config
	Root   *Suite

	mu        sync.RWMutex
	observers []Observer
}

// AddObserver registers o for state change notifications.
func (a *Application) AddObserver(o Observer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observers = append(a.observers, o)
}

func (a *Application) notify(t *Test, prev, next State) {
	a.mu.RLock()
	observers := append([]Observer(nil), a.observers...)
	a.mu.RUnlock()
	for _, o := range observers {
		o.StateChanged(t, prev, next)
	}
}

// VersionSuffix returns the versions joined with dots, with a leading dot,
// or "" when no version is active.
func (a *Application) VersionSuffix() string {
	if len(a.Versions) == 0 {
		return ""
	}
	return "." + strings.Join(a.Versions, ".")
}

// HasAutomaticCPUTimeChecking reports whether CPU time is measured by
// wrapping the test command with time(1).
func (a *Application) HasAutomaticCPUTimeChecking() bool {
	return a.Config != nil && len(a.Config.List("performance_test_machine")) > 0
}

func (a *Application) String() string {
	return a.Name + a.VersionSuffix()
}

// Node is an entry in a suite: either a *Test or a *Suite.
type Node interface {
	RelPath() string
	Describe() string
}

// Suite is an ordered collection of tests and sub-suites.
type Suite struct {
	Name        string
	Description string
	Dir         string
	Parent      *Suite
	App         *Application
	Contents    []Node
}

// RelPath is the path of the suite relative to the application root; the
// root suite has an empty path.
func (s *Suite) RelPath() string {
	if s.Parent == nil {
		return ""
	}
	return path.Join(s.Parent.RelPath(), s.Name)
}

// Describe returns a short label for logging.
func (s *Suite) Describe() string {
	if rel := s.RelPath(); rel != "" {
		return rel
	}
	return s.Name
}

// AllTests returns every test below s in suite order.
func (s *Suite) AllTests() []*Test {
	var tests []*Test
	for _, n := range s.Contents {
		switch v := n.(type) {
		case *Test:
			tests = append(tests, v)
		case *Suite:
			tests = append(tests, v.AllTests()...)
		}
	}
	return tests
}

// Test is one executable unit of work.
type Test struct {
	Name        string
	Description string
	// Dir holds the standard (expected) files
	Dir string
	// WriteDir is the test's scratch directory, also its working directory
	WriteDir    string
	Parent      *Suite
	App         *Application
	Environment map[string]string

	mu    sync.RWMutex
	state State

	filesMu sync.Mutex
	files   []string
}

// RelPath is the path of the test relative to the application root.
func (t *Test) RelPath() string {
	if t.Parent == nil {
		return t.Name
	}
	return path.Join(t.Parent.RelPath(), t.Name)
}

// Describe returns a short label for logging.
func (t *Test) Describe() string {
	return t.RelPath()
}

// State returns the current state.
func (t *Test) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.state == nil {
		return NotStarted{}
	}
	return t.state
}

// ChangeState replaces the current state with next. Moving backwards, or
// out of Killed, fails with ErrInvalidTransition. Requesting Killed on an
// already killed test succeeds and keeps the original kill.
func (t *Test) ChangeState(next State) error {
	t.mu.Lock()
	prev := t.state
	if prev == nil {
		prev = NotStarted{}
	}
	apply, err := checkTransition(prev, next)
	if err != nil || !apply {
		t.mu.Unlock()
		return err
	}
	t.state = next
	t.mu.Unlock()

	if t.App != nil {
		t.App.notify(t, prev, next)
	}
	return nil
}

// EnvironmentList returns the test environment as sorted KEY=VALUE pairs.
func (t *Test) EnvironmentList() []string {
	env := make([]string, 0, len(t.Environment))
	for k, v := range t.Environment {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// TmpFileName returns the path of a file the test produces in its write
// directory.
func (t *Test) TmpFileName(stem string) string {
	return filepath.Join(t.WriteDir, stem+"."+t.App.Name)
}

// FileName returns the standard file for stem that best matches the active
// versions, or "" if there is none.
func (t *Test) FileName(stem string) string {
	best := ""
	bestVersions := -1
	for _, f := range t.AllStdFiles(stem) {
		versions := FileVersions(f)
		if !VersionsAllowed(versions, t.App.Versions) {
			continue
		}
		if len(versions) > bestVersions {
			best = f
			bestVersions = len(versions)
		}
	}
	return best
}

// AllStdFiles lists every standard file named <stem>.<app>[.<version>...],
// whatever its versions.
func (t *Test) AllStdFiles(stem string) []string {
	prefix := stem + "." + t.App.Name
	var matches []string
	for _, name := range t.dirEntries() {
		if name == prefix || strings.HasPrefix(name, prefix+".") {
			matches = append(matches, filepath.Join(t.Dir, name))
		}
	}
	return matches
}

// RefreshFiles drops the cached directory listing so files created since
// the last lookup become visible.
func (t *Test) RefreshFiles() {
	t.filesMu.Lock()
	defer t.filesMu.Unlock()
	t.files = nil
}

func (t *Test) dirEntries() []string {
	t.filesMu.Lock()
	defer t.filesMu.Unlock()
	if t.files == nil {
		entries, err := os.ReadDir(t.Dir)
		if err != nil {
			return nil
		}
		t.files = make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() {
				t.files = append(t.files, e.Name())
			}
		}
	}
	return t.files
}

// FileVersions returns the version parts of a standard file name, i.e.
// everything after <stem>.<app>.
func FileVersions(fileName string) []string {
	parts := strings.Split(filepath.Base(fileName), ".")
	if len(parts) <= 2 {
		return nil
	}
	return parts[2:]
}

// VersionsAllowed reports whether every file version is active.
func VersionsAllowed(fileVersions, active []string) bool {
	for _, v := range fileVersions {
		found := false
		for _, a := range active {
			if v == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
