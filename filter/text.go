package filter

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/carlsmedstad/texttest/model"
)

// textFilter matches a field against comma separated regular expressions.
// A match anywhere in the field is enough.
type textFilter struct {
	Base
	patterns []*regexp.Regexp
}

func newTextFilter(text string) (textFilter, error) {
	var f textFilter
	for _, part := range splitList(text) {
		re, err := regexp.Compile(part)
		if err != nil {
			return textFilter{}, fmt.Errorf("invalid pattern %q: %w", part, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

func (f textFilter) containsText(s string) bool {
	for _, re := range f.patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// NameFilter selects tests by name.
type NameFilter struct{ textFilter }

func NewNameFilter(text string) (*NameFilter, error) {
	tf, err := newTextFilter(text)
	if err != nil {
		return nil, err
	}
	return &NameFilter{tf}, nil
}

func (f *NameFilter) AcceptsTestCase(t *model.Test) bool {
	return f.containsText(t.Name)
}

// SuiteFilter selects tests by the relative path of their parent suite.
type SuiteFilter struct{ textFilter }

func NewSuiteFilter(text string) (*SuiteFilter, error) {
	tf, err := newTextFilter(text)
	if err != nil {
		return nil, err
	}
	return &SuiteFilter{tf}, nil
}

func (f *SuiteFilter) AcceptsTestCase(t *model.Test) bool {
	if t.Parent == nil {
		return f.containsText("")
	}
	return f.containsText(t.Parent.RelPath())
}

// DescriptionFilter selects tests by their description.
type DescriptionFilter struct{ textFilter }

func NewDescriptionFilter(text string) (*DescriptionFilter, error) {
	tf, err := newTextFilter(text)
	if err != nil {
		return nil, err
	}
	return &DescriptionFilter{tf}, nil
}

func (f *DescriptionFilter) AcceptsTestCase(t *model.Test) bool {
	return f.containsText(t.Description)
}

// AppFilter selects whole applications by name.
type AppFilter struct{ textFilter }

func NewAppFilter(text string) (*AppFilter, error) {
	tf, err := newTextFilter(text)
	if err != nil {
		return nil, err
	}
	return &AppFilter{tf}, nil
}

func (f *AppFilter) AcceptsTestSuite(s *model.Suite) bool {
	if s.Parent != nil || s.App == nil {
		return true
	}
	return f.containsText(s.App.Name)
}

// GrepFilter selects tests whose standard file for Stem contains a line
// matching one of the patterns. Only files whose versions are all active
// are searched.
type GrepFilter struct {
	textFilter
	Stem string
}

func NewGrepFilter(text, stem string) (*GrepFilter, error) {
	tf, err := newTextFilter(text)
	if err != nil {
		return nil, err
	}
	return &GrepFilter{textFilter: tf, Stem: stem}, nil
}

func (f *GrepFilter) AcceptsTestCase(t *model.Test) bool {
	for _, file := range f.logFiles(t, true) {
		if f.matches(file) {
			return true
		}
	}
	return false
}

// logFiles lists the candidate files. A cached name that vanished from disk
// triggers one rescan of the test directory.
func (f *GrepFilter) logFiles(t *model.Test, mayRefresh bool) []string {
	var files []string
	for _, name := range t.AllStdFiles(f.Stem) {
		if !model.VersionsAllowed(model.FileVersions(name), t.App.Versions) {
			continue
		}
		if info, err := os.Stat(name); err == nil && !info.IsDir() {
			files = append(files, name)
			continue
		}
		if mayRefresh {
			t.RefreshFiles()
			return f.logFiles(t, false)
		}
	}
	return files
}

func (f *GrepFilter) matches(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if f.containsText(scanner.Text()) {
			return true
		}
	}
	return false
}

// PathFilter selects tests by their exact relative path.
type PathFilter struct {
	Base
	paths []string
}

func NewPathFilter(text string) *PathFilter {
	return &PathFilter{paths: splitList(text)}
}

func (f *PathFilter) AcceptsTestCase(t *model.Test) bool {
	rel := t.RelPath()
	for _, p := range f.paths {
		if p == rel {
			return true
		}
	}
	return false
}

func (f *PathFilter) AcceptsTestSuite(s *model.Suite) bool {
	rel := s.RelPath()
	if rel == "" {
		return true
	}
	for _, p := range f.paths {
		if strings.HasPrefix(p, rel+"/") {
			return true
		}
	}
	return false
}

func splitList(text string) []string {
	var parts []string
	for _, p := range strings.Split(text, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
