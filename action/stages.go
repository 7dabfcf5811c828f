package action

// This file contains the stages shared by every run mode.

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/carlsmedstad/texttest/model"
)

// MakeWriteDirectory creates the scratch directory of every test below the
// application's write directory.
type MakeWriteDirectory struct {
	Base
}

func (MakeWriteDirectory) String() string { return "Making write directory for" }

func (MakeWriteDirectory) SetUpApplication(_ context.Context, app *model.Application) error {
	if app.WriteDir == "" {
		return fmt.Errorf("no write directory configured")
	}
	if err := os.MkdirAll(app.WriteDir, 0755); err != nil {
		return fmt.Errorf("failed to create write directory: %w", err)
	}
	return nil
}

func (MakeWriteDirectory) Perform(_ context.Context, t *model.Test) error {
	if t.WriteDir == "" {
		t.WriteDir = filepath.Join(t.App.WriteDir, filepath.FromSlash(t.RelPath()))
	}
	if err := os.MkdirAll(t.WriteDir, 0755); err != nil {
		return fmt.Errorf("failed to create test write directory: %w", err)
	}
	return nil
}

// Collate copies files the test produced under arbitrary names to
// <stem>.<app>, according to the collate_file config entry which maps a
// stem to a glob relative to the write directory.
type Collate struct {
	Base
	logger   zerolog.Logger
	patterns map[string]string
}

func NewCollate(logger zerolog.Logger) *Collate {
	return &Collate{logger: logger}
}

func (c *Collate) String() string { return "Collating files for" }

func (c *Collate) SetUpApplication(_ context.Context, app *model.Application) error {
	if app.Config != nil {
		c.patterns = app.Config.Map("collate_file")
	}
	return nil
}

func (c *Collate) Perform(_ context.Context, t *model.Test) error {
	stems := make([]string, 0, len(c.patterns))
	for stem := range c.patterns {
		stems = append(stems, stem)
	}
	sort.Strings(stems)

	for _, stem := range stems {
		matches, err := filepath.Glob(filepath.Join(t.WriteDir, c.patterns[stem]))
		if err != nil {
			return fmt.Errorf("invalid collate pattern for %s: %w", stem, err)
		}
		if len(matches) == 0 {
			continue
		}
		sort.Strings(matches)
		target := t.TmpFileName(stem)
		if matches[0] == target {
			continue
		}
		if err := copyFile(matches[0], target); err != nil {
			return fmt.Errorf("failed to collate %s: %w", stem, err)
		}
		c.logger.Debug().Str("test", t.RelPath()).Str("source", matches[0]).Str("target", target).Msg("Collated file")
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Evaluate compares the temporary files listed in compare_files with their
// standard counterparts and completes the test. Killed tests are left as
// they are.
type Evaluate struct {
	Base
	logger zerolog.Logger
	stems  []string
}

func NewEvaluate(logger zerolog.Logger) *Evaluate {
	return &Evaluate{logger: logger}
}

func (e *Evaluate) String() string { return "Comparing results for" }

func (e *Evaluate) SetUpApplication(_ context.Context, app *model.Application) error {
	if app.Config != nil {
		e.stems = app.Config.List("compare_files")
	}
	if len(e.stems) == 0 {
		e.stems = []string{"output", "errors"}
	}
	return nil
}

func (e *Evaluate) Perform(_ context.Context, t *model.Test) error {
	prev := t.State()
	if prev.Category() == model.CategoryKilled {
		return nil
	}

	var comparisons []model.Comparison
	for _, stem := range e.stems {
		c, ok, err := compare(t, stem)
		if err != nil {
			return err
		}
		if ok {
			comparisons = append(comparisons, c)
		}
	}

	next := model.Complete{Hosts: prev.ExecutionHosts(), Comparisons: comparisons}
	if err := t.ChangeState(next); err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			// Killed while being compared
			e.logger.Debug().Err(err).Str("test", t.RelPath()).Msg("Not completing test")
			return nil
		}
		return err
	}

	event := e.logger.Info()
	if !next.Succeeded() {
		event = e.logger.Warn()
	}
	event.Str("test", t.RelPath()).Str("result", resultText(next)).Msg("Test completed")
	return nil
}

func resultText(c model.Complete) string {
	if c.Succeeded() {
		return "succeeded"
	}
	return c.FreeText()
}

// compare reports the outcome for stem; ok is false when neither file exists.
func compare(t *model.Test, stem string) (c model.Comparison, ok bool, err error) {
	c.Stem = stem
	stdName := t.FileName(stem)
	tmp, tmpErr := os.ReadFile(t.TmpFileName(stem))
	if tmpErr != nil && !os.IsNotExist(tmpErr) {
		return c, false, fmt.Errorf("failed to read %s: %w", t.TmpFileName(stem), tmpErr)
	}
	tmpExists := tmpErr == nil

	switch {
	case stdName == "" && (!tmpExists || len(tmp) == 0):
		// An empty file without a standard is as good as none
		return c, false, nil
	case stdName == "":
		c.New = true
		return c, true, nil
	case !tmpExists:
		c.Missing = true
		return c, true, nil
	}

	std, err := os.ReadFile(stdName)
	if err != nil {
		return c, false, fmt.Errorf("failed to read %s: %w", stdName, err)
	}
	c.Success = bytes.Equal(std, tmp)
	return c, true, nil
}

// Reconnect points every test at the write directory of a previous run so
// that its results can be evaluated again without re-running it.
type Reconnect struct {
	Base
	logger  zerolog.Logger
	fromDir string
}

func NewReconnect(logger zerolog.Logger, fromDir string) *Reconnect {
	return &Reconnect{logger: logger, fromDir: fromDir}
}

func (r *Reconnect) String() string { return "Reconnecting to" }

func (r *Reconnect) SetUpApplication(_ context.Context, app *model.Application) error {
	info, err := os.Stat(r.fromDir)
	if err != nil {
		return fmt.Errorf("failed to find previous run: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("previous run %s is not a directory", r.fromDir)
	}
	r.logger.Info().Str("dir", r.fromDir).Str("app", app.String()).Msg("Reconnecting to previous run")
	return nil
}

func (r *Reconnect) Perform(_ context.Context, t *model.Test) error {
	dir := filepath.Join(r.fromDir, filepath.FromSlash(t.RelPath()))
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("no results found for test in %s", r.fromDir)
	}
	t.WriteDir = dir
	return t.ChangeState(model.Running{Brief: "reconnected", Free: "Reconnected to " + dir + "\n"})
}

// CollectBatch gives every test the most recent result recorded for it in
// the runs of a batch session. runs must be sorted newest first.
type CollectBatch struct {
	Base
	logger  zerolog.Logger
	session string
	runs    []model.Run
}

func NewCollectBatch(logger zerolog.Logger, session string, runs []model.Run) *CollectBatch {
	return &CollectBatch{logger: logger, session: session, runs: runs}
}

func (c *CollectBatch) String() string { return "Collecting batch results for" }

func (c *CollectBatch) SetUpApplication(_ context.Context, app *model.Application) error {
	if len(c.runs) == 0 {
		return fmt.Errorf("no runs recorded for batch session %s", c.session)
	}
	c.logger.Info().Str("app", app.String()).Str("session", c.session).Int("runs", len(c.runs)).Msg("Collecting batch session")
	return nil
}

func (c *CollectBatch) Perform(_ context.Context, t *model.Test) error {
	path := t.RelPath()
	for _, run := range c.runs {
		for _, rec := range run.Tests {
			// A test selected but never started says nothing about an older run
			if rec.Path != path || rec.State == model.CategoryNotStarted {
				continue
			}
			c.logger.Debug().Str("test", path).Str("run", run.ID).Str("state", string(rec.State)).Msg("Collected result")
			if rec.State == model.CategoryComplete {
				if err := t.ChangeState(model.Running{Hosts: rec.Hosts}); err != nil {
					return err
				}
			}
			return t.ChangeState(rec.RecordedState())
		}
	}
	c.logger.Info().Str("test", path).Str("session", c.session).Msg("No result recorded in batch session")
	return nil
}

// CountTests counts the tests it is applied to.
type CountTests struct {
	Base
	count atomic.Int64
}

func (c *CountTests) String() string { return "Counting" }

func (c *CountTests) Perform(context.Context, *model.Test) error {
	c.count.Add(1)
	return nil
}

// Count returns the number of tests seen so far.
func (c *CountTests) Count() int {
	return int(c.count.Load())
}
