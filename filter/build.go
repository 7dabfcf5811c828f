package filter

// This file contains the construction of filters from command-line options
// and filter files.

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
	"github.com/hashicorp/go-multierror"

	"github.com/carlsmedstad/texttest/model"
)

// Options maps an option name (without the leading dash) to its value.
type Options map[string]string

// ParseOptions turns tokens such as ["-t", "foo", "-ts", "bar"] into
// Options. Tokens before the first option belong to defaultKey.
func ParseOptions(tokens []string, defaultKey string) Options {
	opts := Options{}
	key := defaultKey
	for _, tok := range tokens {
		if len(tok) > 1 && strings.HasPrefix(tok, "-") {
			key = tok[1:]
			if _, ok := opts[key]; !ok {
				opts[key] = ""
			}
			continue
		}
		if opts[key] != "" {
			opts[key] += " " + tok
		} else {
			opts[key] = tok
		}
	}
	return opts
}

func (o Options) list(key string) []string {
	v, ok := o[key]
	if !ok {
		return nil
	}
	return splitList(v)
}

// Build returns the filters selected by opts for app. Filter files named
// with -f, -fintersect and the default_filter_file config entry add to the
// conjunction, -funion files are combined into one Or and -finverse is
// negated. A batch session given with -b adds its batch_filter_file and
// batch_timelimit entries. Every problem found is reported, not only the
// first.
func Build(opts Options, app *model.Application) ([]Filter, error) {
	return build(opts, app, true)
}

func build(opts Options, app *model.Application, includeConfig bool) ([]Filter, error) {
	var result *multierror.Error

	filters, err := fromOptions(opts, app)
	if err != nil {
		result = multierror.Append(result, err)
	}

	names := append(opts.list("f"), opts.list("fintersect")...)
	if includeConfig && app.Config != nil {
		names = append(names, app.Config.List("default_filter_file")...)
		if session := opts["b"]; session != "" {
			names = append(names, splitList(sessionValue(app.Config, "batch_filter_file", session))...)
			if limit := sessionValue(app.Config, "batch_timelimit", session); limit != "" {
				f, err := NewTimeFilter(limit)
				if err != nil {
					result = multierror.Append(result, fmt.Errorf("invalid batch_timelimit for session %s: %w", session, err))
				} else {
					filters = append(filters, f)
				}
			}
		}
	}
	for _, name := range names {
		fileFilters, err := fromFile(app, name)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		filters = append(filters, fileFilters...)
	}

	if union := opts.list("funion"); len(union) > 0 {
		var groups [][]Filter
		for _, name := range union {
			fileFilters, err := fromFile(app, name)
			if err != nil {
				result = multierror.Append(result, err)
				continue
			}
			groups = append(groups, fileFilters)
		}
		filters = append(filters, Or{Groups: groups})
	}

	if name := opts["finverse"]; name != "" {
		fileFilters, err := fromFile(app, name)
		if err != nil {
			result = multierror.Append(result, err)
		} else {
			filters = append(filters, Not{Filters: fileFilters})
		}
	}

	return filters, result.ErrorOrNil()
}

// sessionValue looks key up for a batch session. A mapping entry is keyed
// by session name with "default" as fallback; a scalar applies to every
// session.
func sessionValue(cfg model.Config, key, session string) string {
	if m := cfg.Map(key); m != nil {
		if v, ok := m[session]; ok {
			return v
		}
		return m["default"]
	}
	return cfg.Value(key)
}

func fromOptions(opts Options, app *model.Application) ([]Filter, error) {
	var result *multierror.Error
	var filters []Filter

	add := func(f Filter, err error) {
		if err != nil {
			result = multierror.Append(result, err)
			return
		}
		filters = append(filters, f)
	}

	if v := opts["t"]; v != "" {
		add(NewNameFilter(v))
	}
	if v := opts["tp"]; v != "" {
		add(NewPathFilter(v), nil)
	}
	if v := opts["ts"]; v != "" {
		add(NewSuiteFilter(v))
	}
	if v := opts["r"]; v != "" {
		add(NewTimeFilter(v))
	}
	if v := opts["a"]; v != "" {
		add(NewAppFilter(v))
	}
	if v := opts["desc"]; v != "" {
		add(NewDescriptionFilter(v))
	}
	if v, ok := opts["grep"]; ok {
		stem := opts["grepfile"]
		if stem == "" && app.Config != nil {
			stem = app.Config.Value("log_file")
		}
		if stem == "" {
			stem = "output"
		}
		add(NewGrepFilter(v, stem))
	}
	return filters, result.ErrorOrNil()
}

func fromFile(app *model.Application, name string) ([]Filter, error) {
	path, err := findFilterFile(app, name)
	if err != nil {
		return nil, err
	}
	lines, err := readList(path)
	if err != nil {
		return nil, err
	}
	tokens, err := shlex.Split(strings.Join(lines, ","))
	if err != nil {
		return nil, fmt.Errorf("failed to parse filter file %s: %w", path, err)
	}
	filters, err := build(ParseOptions(tokens, "t"), app, false)
	if err != nil {
		return nil, fmt.Errorf("invalid filter file %s: %w", path, err)
	}
	return filters, nil
}

func findFilterFile(app *model.Application, name string) (string, error) {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("could not find filter file at '%s'", name)
		}
		return name, nil
	}

	configured := []string{"filter_files"}
	if app.Config != nil {
		if l := app.Config.List("filter_file_directory"); len(l) > 0 {
			configured = l
		}
	}
	var dirs []string
	for _, dir := range configured {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(app.Dir, dir)
		}
		dirs = append(dirs, dir)
	}
	dirs = append(dirs, app.Dir)

	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no filter file named '%s' found in: %s", name, strings.Join(dirs, ", "))
}

// readList returns the non-empty lines of path that are not comments.
func readList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open filter file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read filter file: %w", err)
	}
	return lines, nil
}
