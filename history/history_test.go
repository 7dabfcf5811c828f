package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/carlsmedstad/texttest/model"
)

func TestRecordAndLoad(t *testing.T) {
	root := t.TempDir()
	start := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

	older := &model.Run{
		ID:        "aaaa1111",
		App:       "app",
		Mode:      model.RunModeLocal,
		Timestamp: start,
		Tests: []model.TestRecord{
			{Path: "suite/t1", State: model.CategoryComplete, Brief: "succeeded"},
		},
	}
	newer := &model.Run{
		ID:        "bbbb2222",
		App:       "app.v2",
		Mode:      model.RunModeLSF,
		Timestamp: start.Add(time.Hour),
		ExitCode:  1,
		Target:    &model.Target{Queue: "short"},
	}
	require.NoError(t, Record(filepath.Join(root, "app.02Jan100000"), older))
	require.NoError(t, Record(filepath.Join(root, "app.v2.02Jan110000"), newer))

	// Test write directories and broken records are skipped
	require.NoError(t, os.MkdirAll(filepath.Join(root, "app.02Jan100000", "suite", "t1"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "broken"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken", FileName), []byte("{"), 0644))

	entries, err := LoadEntries(zerolog.Nop(), root)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.Equal(t, "bbbb2222", entries[0].Run.ID)
	require.Equal(t, filepath.Join(root, "app.v2.02Jan110000"), entries[0].FullPath)
	require.Equal(t, "short", entries[0].Run.Target.Queue)
	require.Equal(t, 1, entries[0].Run.ExitCode)

	require.Equal(t, "aaaa1111", entries[1].Run.ID)
	require.True(t, start.Equal(entries[1].Run.Timestamp))
	require.Equal(t, older.Tests, entries[1].Run.Tests)
}

func TestLoadEntriesMissingRoot(t *testing.T) {
	entries, err := LoadEntries(zerolog.Nop(), filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRoot(t *testing.T) {
	t.Setenv("TEXTTEST_TMP", "/scratch/tt")
	root, err := Root()
	require.NoError(t, err)
	require.Equal(t, "/scratch/tt", root)

	t.Setenv("TEXTTEST_TMP", "")
	t.Setenv("HOME", "/home/u")
	root, err = Root()
	require.NoError(t, err)
	require.Equal(t, "/home/u/.texttest/tmp", root)
}
