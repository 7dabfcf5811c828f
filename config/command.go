package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/shlex"

	"github.com/carlsmedstad/texttest/model"
)

// CommandArgs resolves the command line of t: the configured interpreter
// and executable followed by the arguments in the test's options file.
// References to environment variables in the options file are expanded
// using the test environment first and the process environment second.
func CommandArgs(t *model.Test) ([]string, error) {
	cfg := t.App.Config
	if cfg == nil || cfg.Value("executable") == "" {
		return nil, ErrNoExecutable
	}

	var args []string
	if interpreter := cfg.Value("interpreter"); interpreter != "" {
		parts, err := shlex.Split(interpreter)
		if err != nil {
			return nil, fmt.Errorf("invalid interpreter %q: %w", interpreter, err)
		}
		args = append(args, parts...)
	}
	args = append(args, cfg.Value("executable"))

	if name := t.FileName("options"); name != "" {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read options file: %w", err)
		}
		expanded := os.Expand(strings.TrimSpace(string(data)), func(key string) string {
			if v, ok := t.Environment[key]; ok {
				return v
			}
			return os.Getenv(key)
		})
		options, err := shlex.Split(expanded)
		if err != nil {
			return nil, fmt.Errorf("invalid options file %s: %w", name, err)
		}
		args = append(args, options...)
	}
	return args, nil
}
