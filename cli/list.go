package cli

// This file contains the list command for displaying previous runs, and
// the per-run summary shared with the run and view commands.

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/carlsmedstad/texttest/history"
	"github.com/carlsmedstad/texttest/model"
)

func (a *App) list(ctx *cli.Context) error {
	filterApp := ctx.String("app")
	limit := ctx.Int("limit")

	root, err := history.Root()
	if err != nil {
		return err
	}

	// Entries come back newest first
	entries, err := history.LoadEntries(a.logger, root)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	var filteredEntries []history.Entry
	for _, entry := range entries {
		if filterApp == "" || strings.Contains(entry.Run.App, filterApp) {
			filteredEntries = append(filteredEntries, entry)
		}
	}

	if len(filteredEntries) == 0 {
		if filterApp != "" {
			fmt.Printf("No runs found for application: %s\n", filterApp)
		} else {
			fmt.Println("No runs found")
		}
		return nil
	}

	displayRuns := filteredEntries
	if limit > 0 && limit < len(displayRuns) {
		displayRuns = displayRuns[:limit]
	}

	fmt.Printf("\n=== History (%d total) ===\n\n", len(filteredEntries))
	for _, entry := range displayRuns {
		printEntry(os.Stdout, entry)
	}

	fmt.Println("\nView test results: texttest view <ID>")
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// countStates returns how many tests ended in each state, and how many of
// the completed ones failed.
func countStates(run model.Run) (counts map[model.Category]int, failed int) {
	counts = make(map[model.Category]int)
	for _, rec := range run.Tests {
		counts[rec.State]++
		if rec.State == model.CategoryComplete && !recordSucceeded(rec) {
			failed++
		}
	}
	return counts, failed
}

func recordSucceeded(rec model.TestRecord) bool {
	return model.Complete{Comparisons: rec.Comparisons}.Succeeded()
}

func printEntry(w io.Writer, entry history.Entry) {
	run := entry.Run
	timestamp := run.Timestamp.Format("2006-01-02 15:04:05")
	duration := run.Duration.Round(time.Millisecond)

	counts, failed := countStates(run)
	status := "✓"
	if run.ExitCode != 0 || failed > 0 || counts[model.CategoryKilled] > 0 {
		status = "✗"
	}

	fmt.Fprintf(w, "%s  %s  [%s]  %s  mode=%s  exit=%d  id=%s\n", status, timestamp, duration, run.App, run.Mode, run.ExitCode, shortID(run.ID))
	fmt.Fprintf(w, "   Tests: %d succeeded, %d failed, %d killed, %d not run\n",
		counts[model.CategoryComplete]-failed, failed, counts[model.CategoryKilled],
		counts[model.CategoryNotStarted]+counts[model.CategoryRunning])
	if len(run.Args) > 1 {
		fmt.Fprintf(w, "   Args: %s\n", strings.Join(run.Args[1:], " "))
	}
	if run.WorkDir != "" {
		fmt.Fprintf(w, "   Path: %s\n", run.WorkDir)
	}
	if run.Batch != "" {
		fmt.Fprintf(w, "   Batch: %s\n", run.Batch)
	}
	if run.Target != nil {
		fmt.Fprintf(w, "   LSF: queue=%s", run.Target.Queue)
		if run.Target.Resource != "" {
			fmt.Fprintf(w, " resource=%s", run.Target.Resource)
		}
		if run.Target.SubmitHost != "" {
			fmt.Fprintf(w, " via %s", run.Target.SubmitHost)
		}
		fmt.Fprintln(w)
	}
	if run.Git != nil && run.Git.Commit != "" {
		fmt.Fprintf(w, "   Commit: %s", shortID(run.Git.Commit))
		if run.Git.Branch != "" {
			fmt.Fprintf(w, " (%s)", run.Git.Branch)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "   %s\n\n", entry.FullPath)
}

// printSummary prints one line per test of a finished run.
func printSummary(w io.Writer, run *model.Run) {
	fmt.Fprintf(w, "\n=== Results for %s ===\n", run.App)
	for _, rec := range run.Tests {
		fmt.Fprintf(w, "%-40s %s\n", rec.Path, recordResult(rec))
	}
	counts, failed := countStates(*run)
	fmt.Fprintf(w, "\n%d tests: %d succeeded, %d failed, %d killed\n", len(run.Tests),
		counts[model.CategoryComplete]-failed, failed, counts[model.CategoryKilled])
}

func recordResult(rec model.TestRecord) string {
	switch rec.State {
	case model.CategoryComplete:
		if recordSucceeded(rec) {
			return "succeeded"
		}
		var diffs []string
		for _, c := range rec.Comparisons {
			if !c.Success {
				diffs = append(diffs, c.Stem)
			}
		}
		return "FAILED: differences in " + strings.Join(diffs, ",")
	case model.CategoryKilled:
		return "killed (" + rec.Brief + ")"
	case model.CategoryRunning:
		return "not finished"
	}
	return "not run"
}
