package filter

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/carlsmedstad/texttest/model"
	"github.com/carlsmedstad/texttest/performance"
)

// TimeFilter selects tests whose expected CPU time, in minutes, lies
// within the configured bounds. The expected time is read from the
// test's standard performance file; a test without one counts as 0.
type TimeFilter struct {
	Base
	Min, Max                   float64
	MinInclusive, MaxInclusive bool
}

// NewTimeFilter parses comma separated limits. Each limit is either a
// comparison (">=5", ">5", "<=10", "<10") or a plain value; the first
// plain value is a minimum and the second a maximum. Empty limits are
// ignored. Values are minutes, or "h:m:s" / "m:s" when they contain colons.
func NewTimeFilter(text string) (*TimeFilter, error) {
	f := &TimeFilter{
		Min:          0,
		Max:          math.Inf(1),
		MinInclusive: true,
		MaxInclusive: true,
	}
	for pos, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		op, value := splitComparator(part)
		minutes, err := parseMinutes(value)
		if err != nil {
			return nil, fmt.Errorf("invalid time limit %q: %w", part, err)
		}
		switch op {
		case ">=":
			f.Min, f.MinInclusive = minutes, true
		case ">":
			f.Min, f.MinInclusive = minutes, false
		case "<=":
			f.Max, f.MaxInclusive = minutes, true
		case "<":
			f.Max, f.MaxInclusive = minutes, false
		default:
			if pos == 0 {
				f.Min, f.MinInclusive = minutes, true
			} else {
				f.Max, f.MaxInclusive = minutes, true
			}
		}
	}
	return f, nil
}

func (f *TimeFilter) AcceptsTestCase(t *model.Test) bool {
	return f.AcceptsMinutes(testMinutes(t))
}

// AcceptsMinutes applies the bounds to a duration in minutes.
func (f *TimeFilter) AcceptsMinutes(minutes float64) bool {
	if f.MinInclusive && minutes < f.Min || !f.MinInclusive && minutes <= f.Min {
		return false
	}
	if f.MaxInclusive && minutes > f.Max || !f.MaxInclusive && minutes >= f.Max {
		return false
	}
	return true
}

func testMinutes(t *model.Test) float64 {
	name := t.FileName("performance")
	if name == "" {
		return 0
	}
	seconds, ok, err := performance.ReadCPUTime(name)
	if err != nil || !ok {
		return 0
	}
	return seconds / 60
}

func splitComparator(s string) (op, value string) {
	for _, candidate := range []string{">=", "<=", ">", "<"} {
		if strings.HasPrefix(s, candidate) {
			return candidate, strings.TrimSpace(s[len(candidate):])
		}
	}
	return "", s
}

// parseMinutes converts "5", "1.5", "1:30" (m:s) or "1:02:03" (h:m:s) to
// minutes.
func parseMinutes(s string) (float64, error) {
	if !strings.Contains(s, ":") {
		return strconv.ParseFloat(s, 64)
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("too many fields")
	}
	seconds := 0.0
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, err
		}
		seconds = seconds*60 + v
	}
	return seconds / 60, nil
}
