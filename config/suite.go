package config

// This file contains loading of the suite tree. A testsuite.<app> file lists
// the entries of a suite, one per line. Comment lines directly above an
// entry form its description. An entry whose directory holds its own
// testsuite.<app> file is a suite, any other entry is a test.

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/carlsmedstad/texttest/model"
)

type suiteEntry struct {
	name        string
	description string
}

// LoadApplication loads the configuration and suite tree of app from dir.
func LoadApplication(logger zerolog.Logger, dir, app string, versions []string) (*model.Application, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve suite directory: %w", err)
	}
	cfg, err := Load(absDir, app)
	if err != nil {
		return nil, err
	}

	a := &model.Application{
		Name:     app,
		Versions: versions,
		Dir:      absDir,
		Config:   cfg,
	}

	env, err := readEnvironment(filepath.Join(absDir, "environment."+app), cfg.Map("environment"))
	if err != nil {
		return nil, err
	}

	l := &loader{logger: logger, app: a}
	root, err := l.loadSuite(nil, app, absDir, "", env)
	if err != nil {
		return nil, err
	}
	a.Root = root
	return a, nil
}

type loader struct {
	logger zerolog.Logger
	app    *model.Application
}

func (l *loader) suiteFile(dir string) string {
	return filepath.Join(dir, "testsuite."+l.app.Name)
}

func (l *loader) loadSuite(parent *model.Suite, name, dir, description string, env map[string]string) (*model.Suite, error) {
	s := &model.Suite{
		Name:        name,
		Description: description,
		Dir:         dir,
		Parent:      parent,
		App:         l.app,
	}

	entries, err := readSuiteFile(l.suiteFile(dir))
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		childDir := filepath.Join(dir, e.name)
		info, err := os.Stat(childDir)
		if err != nil || !info.IsDir() {
			l.logger.Warn().Str("suite", s.Describe()).Str("entry", e.name).Msg("Directory for suite entry not found, ignoring")
			continue
		}
		childEnv, err := readEnvironment(filepath.Join(childDir, "environment."+l.app.Name), env)
		if err != nil {
			return nil, err
		}

		if _, err := os.Stat(l.suiteFile(childDir)); err == nil {
			child, err := l.loadSuite(s, e.name, childDir, e.description, childEnv)
			if err != nil {
				return nil, err
			}
			s.Contents = append(s.Contents, child)
			continue
		}

		s.Contents = append(s.Contents, &model.Test{
			Name:        e.name,
			Description: e.description,
			Dir:         childDir,
			Parent:      s,
			App:         l.app,
			Environment: childEnv,
		})
	}

	l.logger.Debug().Str("suite", s.Describe()).Int("entries", len(s.Contents)).Msg("Loaded suite")
	return s, nil
}

func readSuiteFile(path string) ([]suiteEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open suite file: %w", err)
	}
	defer f.Close()

	var entries []suiteEntry
	var comment []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			comment = nil
		case strings.HasPrefix(line, "#"):
			comment = append(comment, strings.TrimSpace(strings.TrimPrefix(line, "#")))
		default:
			entries = append(entries, suiteEntry{name: line, description: strings.Join(comment, "\n")})
			comment = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read suite file %s: %w", path, err)
	}
	return entries, nil
}

// readEnvironment returns inherited extended with the KEY:VALUE lines of
// path, if it exists. Values may refer to earlier variables as $NAME.
func readEnvironment(path string, inherited map[string]string) (map[string]string, error) {
	env := make(map[string]string, len(inherited))
	for k, v := range inherited {
		env[k] = v
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return env, nil
		}
		return nil, fmt.Errorf("failed to open environment file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("invalid environment line in %s: %q", path, line)
		}
		env[strings.TrimSpace(key)] = os.Expand(strings.TrimSpace(value), func(name string) string {
			if v, ok := env[name]; ok {
				return v
			}
			return os.Getenv(name)
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read environment file %s: %w", path, err)
	}
	return env, nil
}
