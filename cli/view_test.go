package cli

import (
	"bytes"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carlsmedstad/texttest/history"
	"github.com/carlsmedstad/texttest/model"
)

func TestRemoveFirstDashDash(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "empty slice",
			in:   []string{},
			want: []string{},
		},
		{
			name: "starts with --",
			in:   []string{"--", "suite/t1", "suite/t2"},
			want: []string{"suite/t1", "suite/t2"},
		},
		{
			name: "no --",
			in:   []string{"suite/t1"},
			want: []string{"suite/t1"},
		},
		{
			name: "only --",
			in:   []string{"--"},
			want: []string{},
		},
		{
			name: "-- in middle",
			in:   []string{"suite/t1", "--", "suite/t2"},
			want: []string{"suite/t1", "--", "suite/t2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := removeFirstDashDash(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("removeFirstDashDash() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseViewArgs(t *testing.T) {
	tests := []struct {
		name      string
		in        []string
		wantID    string
		wantPaths []string
	}{
		{
			name:      "empty args - default to 0",
			in:        []string{},
			wantID:    "0",
			wantPaths: nil,
		},
		{
			name:      "only ID - index 0",
			in:        []string{"0"},
			wantID:    "0",
			wantPaths: []string{},
		},
		{
			name:      "only ID - negative index",
			in:        []string{"-1"},
			wantID:    "-1",
			wantPaths: []string{},
		},
		{
			name:      "only ID - hex string",
			in:        []string{"abc123"},
			wantID:    "abc123",
			wantPaths: []string{},
		},
		{
			name:      "only test path",
			in:        []string{"suite/t1"},
			wantID:    "0",
			wantPaths: []string{"suite/t1"},
		},
		{
			name:      "ID with test path",
			in:        []string{"0", "suite/t1"},
			wantID:    "0",
			wantPaths: []string{"suite/t1"},
		},
		{
			name:      "ID with -- separator and test paths",
			in:        []string{"0", "--", "suite/t1", "suite/t2"},
			wantID:    "0",
			wantPaths: []string{"suite/t1", "suite/t2"},
		},
		{
			name:      "negative index with -- and test path",
			in:        []string{"-1", "--", "t1"},
			wantID:    "-1",
			wantPaths: []string{"t1"},
		},
		{
			name:      "hex ID with test paths no separator",
			in:        []string{"abc123", "suite/t1"},
			wantID:    "abc123",
			wantPaths: []string{"suite/t1"},
		},
		{
			name:      "only -- uses default 0",
			in:        []string{"--", "cafe"},
			wantID:    "0",
			wantPaths: []string{"cafe"},
		},
		{
			name:      "path first keeps following paths",
			in:        []string{"suite/t1", "suite/t2"},
			wantID:    "0",
			wantPaths: []string{"suite/t1", "suite/t2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotID, gotPaths := parseViewArgs(tt.in)
			if gotID != tt.wantID {
				t.Errorf("parseViewArgs() gotID = %v, want %v", gotID, tt.wantID)
			}
			if !reflect.DeepEqual(gotPaths, tt.wantPaths) {
				t.Errorf("parseViewArgs() gotPaths = %v, want %v", gotPaths, tt.wantPaths)
			}
		})
	}
}

func sampleEntries() []history.Entry {
	start := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	return []history.Entry{
		{Run: model.Run{ID: "bbbb2222", Timestamp: start.Add(time.Hour)}, FullPath: "/tmp/b"},
		{Run: model.Run{ID: "aaaa1111", Timestamp: start}, FullPath: "/tmp/a"},
	}
}

func TestSelectEntry(t *testing.T) {
	entries := sampleEntries()

	tests := []struct {
		arg     string
		want    string
		wantErr string
	}{
		{arg: "0", want: "bbbb2222"},
		{arg: "-1", want: "aaaa1111"},
		{arg: "-2", wantErr: "out of range"},
		{arg: "1", wantErr: "invalid index"},
		{arg: "AAAA", want: "aaaa1111"},
		{arg: "cccc", wantErr: "no run found"},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			got, err := selectEntry(entries, tt.arg)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got.Run.ID)
		})
	}
}

func TestDisplayRun(t *testing.T) {
	entry := &history.Entry{
		FullPath: "/tmp/app.02Jan100000",
		Run: model.Run{
			ID:   "0123456789abcdef",
			App:  "app",
			Mode: model.RunModeLSF,
			Tests: []model.TestRecord{
				{Path: "suite/t1", State: model.CategoryComplete, Comparisons: []model.Comparison{{Stem: "output", Success: true}}},
				{
					Path:        "suite/t2",
					State:       model.CategoryComplete,
					Hosts:       []string{"host1"},
					Comparisons: []model.Comparison{{Stem: "output"}, {Stem: "errors", Success: true}},
				},
				{Path: "other/t3", State: model.CategoryKilled, Brief: "CPULIMIT", Free: "Test exceeded maximum cpu time allowed\n"},
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, displayRun(&buf, entry, nil))
	out := buf.String()
	require.Contains(t, out, "=== Run: 01234567 ===")
	require.Contains(t, out, "suite/t1")
	require.Contains(t, out, "FAILED: differences in output")
	require.Contains(t, out, "killed (CPULIMIT)")

	buf.Reset()
	require.NoError(t, displayRun(&buf, entry, []string{"suite"}))
	out = buf.String()
	require.Contains(t, out, "--- suite/t2: FAILED: differences in output")
	require.Contains(t, out, "Hosts: host1")
	require.Contains(t, out, "output       different")
	require.Contains(t, out, "Files: /tmp/app.02Jan100000/suite/t2")
	require.NotContains(t, out, "other/t3")

	buf.Reset()
	require.NoError(t, displayRun(&buf, entry, []string{"other/t3"}))
	require.Contains(t, buf.String(), "Test exceeded maximum cpu time allowed")

	require.Error(t, displayRun(&buf, entry, []string{"missing"}))
}

func TestMatchesPath(t *testing.T) {
	require.True(t, matchesPath("suite/t1", []string{"suite"}))
	require.True(t, matchesPath("suite/t1", []string{"suite/t1"}))
	require.True(t, matchesPath("suite/t1", []string{"suite/"}))
	require.False(t, matchesPath("suite2/t1", []string{"suite"}))
	require.False(t, matchesPath("suite/t1", nil))
}
