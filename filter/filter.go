package filter

// Package filter decides which tests of a suite tree take part in a run.
// Filters are pure predicates over test and suite metadata.

import (
	"github.com/carlsmedstad/texttest/model"
)

// Filter is a predicate over the suite tree.
type Filter interface {
	AcceptsTestCase(t *model.Test) bool
	AcceptsTestSuite(s *model.Suite) bool
	// AcceptsTestSuiteContents is false when no test below s can be accepted
	AcceptsTestSuiteContents(s *model.Suite) bool
}

// Base accepts everything. Filters embed it and override what they restrict.
type Base struct{}

func (Base) AcceptsTestCase(*model.Test) bool           { return true }
func (Base) AcceptsTestSuite(*model.Suite) bool         { return true }
func (Base) AcceptsTestSuiteContents(*model.Suite) bool { return true }

// AcceptedByAll reports whether every filter accepts n. An empty list
// accepts everything.
func AcceptedByAll(filters []Filter, n model.Node) bool {
	for _, f := range filters {
		switch v := n.(type) {
		case *model.Test:
			if !f.AcceptsTestCase(v) {
				return false
			}
		case *model.Suite:
			if !f.AcceptsTestSuite(v) {
				return false
			}
		}
	}
	return true
}

func contentsAcceptedByAll(filters []Filter, s *model.Suite) bool {
	for _, f := range filters {
		if !f.AcceptsTestSuiteContents(s) {
			return false
		}
	}
	return true
}

// Or accepts a node when at least one group accepts it. Each group is
// itself a conjunction.
type Or struct {
	Groups [][]Filter
}

func (o Or) accepts(n model.Node) bool {
	for _, g := range o.Groups {
		if AcceptedByAll(g, n) {
			return true
		}
	}
	return false
}

func (o Or) AcceptsTestCase(t *model.Test) bool   { return o.accepts(t) }
func (o Or) AcceptsTestSuite(s *model.Suite) bool { return o.accepts(s) }

func (o Or) AcceptsTestSuiteContents(s *model.Suite) bool {
	for _, g := range o.Groups {
		if contentsAcceptedByAll(g, s) {
			return true
		}
	}
	return false
}

// Not accepts a test when the wrapped conjunction rejects it. Suites are
// always accepted so that tests below them can be considered.
type Not struct {
	Base
	Filters []Filter
}

func (n Not) AcceptsTestCase(t *model.Test) bool {
	return !AcceptedByAll(n.Filters, t)
}

// Select walks the suite tree below root and returns, in suite order, every
// test accepted by all filters.
func Select(root *model.Suite, filters []Filter) []*model.Test {
	var tests []*model.Test
	var walk func(s *model.Suite)
	walk = func(s *model.Suite) {
		if !AcceptedByAll(filters, s) || !contentsAcceptedByAll(filters, s) {
			return
		}
		for _, n := range s.Contents {
			switch v := n.(type) {
			case *model.Test:
				if AcceptedByAll(filters, v) {
					tests = append(tests, v)
				}
			case *model.Suite:
				walk(v)
			}
		}
	}
	walk(root)
	return tests
}
