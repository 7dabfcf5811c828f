package history

// This file contains shared history utilities for recording and loading
// run records. Every run leaves a run.json in its write directory, so the
// temporary root doubles as the history store.

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/carlsmedstad/texttest/model"
)

// FileName is the name of the run record inside a write directory.
const FileName = "run.json"

type Entry struct {
	Run      model.Run
	FullPath string
}

// Root returns the temporary root holding the write directories of all
// runs: $TEXTTEST_TMP if set, else ~/.texttest/tmp.
func Root() (string, error) {
	if dir := os.Getenv("TEXTTEST_TMP"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}
	return filepath.Join(home, ".texttest", "tmp"), nil
}

// Record writes the run record into dir.
func Record(dir string, run *model.Run) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, FileName), data, 0644); err != nil {
		return fmt.Errorf("failed to write run record: %w", err)
	}
	return nil
}

// LoadEntries loads every run record below root, newest first. A missing
// root is an empty history.
func LoadEntries(logger zerolog.Logger, root string) ([]Entry, error) {
	var entries []Entry

	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			runPath := filepath.Join(path, FileName)
			if _, err := os.Stat(runPath); err == nil {
				run, err := parseRunJSON(runPath)
				if err != nil {
					logger.Warn().Err(err).Str("path", runPath).Msg("Failed to parse run record")
					return nil
				}

				entries = append(entries, Entry{
					Run:      run,
					FullPath: path,
				})
				// Test write directories below a run hold no records
				return filepath.SkipDir
			}
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Run.Timestamp.After(entries[j].Run.Timestamp)
	})
	return entries, nil
}

// parseRunJSON parses a run.json file.
func parseRunJSON(path string) (model.Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Run{}, err
	}

	var run model.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return model.Run{}, err
	}

	return run, nil
}
