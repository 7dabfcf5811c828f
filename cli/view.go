package cli

// This file contains the view command for displaying the test results of
// a previous run.

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/carlsmedstad/texttest/history"
	"github.com/carlsmedstad/texttest/model"
)

func removeFirstDashDash(in []string) []string {
	if len(in) > 0 && in[0] == "--" {
		return in[1:]
	}
	return in
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range strings.ToLower(s) {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// parseViewArgs splits the view arguments into the run selector and the
// test paths to show in detail. A first argument that is neither an index
// nor a hex ID is a test path of the last run; "--" forces that reading.
func parseViewArgs(in []string) (idArg string, testPaths []string) {
	if len(in) == 0 {
		return "0", nil
	}

	if in[0] == "--" {
		return "0", in[1:]
	}

	if _, err := strconv.ParseInt(in[0], 10, 64); err != nil && !isHex(in[0]) {
		return "0", in
	}

	return in[0], removeFirstDashDash(in[1:])
}

// selectEntry finds the run named by arg in entries sorted newest first.
func selectEntry(entries []history.Entry, arg string) (*history.Entry, error) {
	if parsed, err := strconv.ParseInt(arg, 10, 64); err == nil {
		if parsed > 0 {
			return nil, fmt.Errorf("invalid index: %s (use 0 for last, -1 for second-to-last, -2 for third-to-last, etc.)", arg)
		}
		index := int(-parsed)
		if index >= len(entries) {
			return nil, fmt.Errorf("index %s out of range (only %d runs)", arg, len(entries))
		}
		return &entries[index], nil
	}

	hexID := strings.ToLower(arg)
	for i := range entries {
		if strings.HasPrefix(strings.ToLower(entries[i].Run.ID), hexID) {
			return &entries[i], nil
		}
	}
	return nil, fmt.Errorf("no run found matching ID: %s", arg)
}

func (a *App) view(ctx *cli.Context) error {
	arg, testPaths := parseViewArgs(ctx.Args().Slice())

	root, err := history.Root()
	if err != nil {
		return err
	}

	entries, err := history.LoadEntries(a.logger, root)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	if len(entries) == 0 {
		return fmt.Errorf("no runs found in %s", root)
	}

	entry, err := selectEntry(entries, arg)
	if err != nil {
		return err
	}

	return displayRun(os.Stdout, entry, testPaths)
}

// matchesPath reports whether the test at p is, or lies below, one of the
// selected paths.
func matchesPath(p string, selected []string) bool {
	for _, s := range selected {
		s = path.Clean(s)
		if p == s || strings.HasPrefix(p, s+"/") {
			return true
		}
	}
	return false
}

func displayRun(w io.Writer, entry *history.Entry, testPaths []string) error {
	run := entry.Run

	fmt.Fprintf(w, "=== Run: %s ===\n", shortID(run.ID))
	fmt.Fprintf(w, "Application: %s\n", run.App)
	fmt.Fprintf(w, "Mode: %s\n", run.Mode)
	fmt.Fprintf(w, "Time: %s\n", run.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Duration: %s\n", run.Duration)
	fmt.Fprintf(w, "Exit Code: %d\n", run.ExitCode)
	if run.WorkDir != "" {
		fmt.Fprintf(w, "Suite Dir: %s\n", run.WorkDir)
	}
	if run.Git != nil && run.Git.Commit != "" {
		fmt.Fprintf(w, "Git Commit: %s", shortID(run.Git.Commit))
		if run.Git.Branch != "" {
			fmt.Fprintf(w, " (%s)", run.Git.Branch)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)

	if len(testPaths) == 0 {
		for _, rec := range run.Tests {
			fmt.Fprintf(w, "%-40s %s\n", rec.Path, recordResult(rec))
		}
		return nil
	}

	shown := 0
	for _, rec := range run.Tests {
		if !matchesPath(rec.Path, testPaths) {
			continue
		}
		shown++
		displayRecord(w, entry.FullPath, rec)
	}
	if shown == 0 {
		return fmt.Errorf("no tests in run %s match %s", shortID(run.ID), strings.Join(testPaths, ", "))
	}
	return nil
}

func displayRecord(w io.Writer, runDir string, rec model.TestRecord) {
	fmt.Fprintf(w, "--- %s: %s\n", rec.Path, recordResult(rec))
	if len(rec.Hosts) > 0 {
		fmt.Fprintf(w, "Hosts: %s\n", strings.Join(rec.Hosts, ","))
	}
	for _, c := range rec.Comparisons {
		result := "identical"
		switch {
		case c.Missing:
			result = "missing"
		case c.New:
			result = "new"
		case !c.Success:
			result = "different"
		}
		fmt.Fprintf(w, "  %-12s %s\n", c.Stem, result)
	}
	if rec.Free != "" {
		fmt.Fprintln(w, strings.TrimRight(rec.Free, "\n"))
	}
	fmt.Fprintf(w, "Files: %s\n\n", filepath.Join(runDir, filepath.FromSlash(rec.Path)))
}
