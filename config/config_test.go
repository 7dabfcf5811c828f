package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/carlsmedstad/texttest/model"
)

func TestParse(t *testing.T) {
	c, err := Parse([]byte(`
executable: /usr/bin/myapp
performance_test_machine: [perf1, perf2]
collate_file:
  trace: "*.trace"
check_memory: true
lsf_processes: 4
`))
	require.NoError(t, err)

	require.Equal(t, "/usr/bin/myapp", c.Value("executable"))
	require.Equal(t, "output", c.Value("log_file"))
	require.Equal(t, "normal", c.Value("lsf_queue"))
	require.Equal(t, "4", c.Value("lsf_processes"))
	require.Equal(t, []string{"perf1", "perf2"}, c.List("performance_test_machine"))
	require.Equal(t, []string{"output", "errors"}, c.List("compare_files"))
	require.Equal(t, map[string]string{"trace": "*.trace"}, c.Map("collate_file"))
	require.True(t, c.Bool("check_memory"))
	require.True(t, c.Bool("check_performance"))
	require.False(t, c.Bool("lsf_processes"))
	require.Nil(t, c.List("slowdown_job_users"))
	require.Equal(t, "", c.Value("collate_file"))

	c.SetDefault("lsf_queue", "other")
	c.SetDefault("lsf_resource", "mem>100")
	require.Equal(t, "normal", c.Value("lsf_queue"))
	require.Equal(t, "mem>100", c.Value("lsf_resource"))
	require.Equal(t, []string{"mem>100"}, c.List("lsf_resource"))
}

func TestParseRequiresExecutable(t *testing.T) {
	_, err := Parse([]byte("log_file: log\n"))
	require.ErrorIs(t, err, ErrNoExecutable)

	_, err = Parse([]byte("executable: [unterminated\n"))
	require.Error(t, err)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadApplication(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.app.yaml"), "executable: /bin/cat\nenvironment:\n  BASE: /data\n")
	writeFile(t, filepath.Join(dir, "testsuite.app"), "# First test\n# runs fast\nfirst\n\nsub\nmissing\n")
	writeFile(t, filepath.Join(dir, "environment.app"), "LEVEL:root\n")
	writeFile(t, filepath.Join(dir, "first", "options.app"), "-v\n")
	writeFile(t, filepath.Join(dir, "sub", "testsuite.app"), "# Nested\nsecond\n")
	writeFile(t, filepath.Join(dir, "sub", "environment.app"), "LEVEL:sub\nINPUT:$BASE/in\n")
	writeFile(t, filepath.Join(dir, "sub", "second", "input.app"), "hello\n")

	app, err := LoadApplication(zerolog.Nop(), dir, "app", []string{"v1"})
	require.NoError(t, err)
	require.Equal(t, "app.v1", app.String())

	tests := app.Root.AllTests()
	require.Len(t, tests, 2)

	first, second := tests[0], tests[1]
	require.Equal(t, "first", first.RelPath())
	require.Equal(t, "First test\nruns fast", first.Description)
	require.Equal(t, map[string]string{"BASE": "/data", "LEVEL": "root"}, first.Environment)

	require.Equal(t, "sub/second", second.RelPath())
	require.Equal(t, "Nested", second.Description)
	require.Equal(t, map[string]string{"BASE": "/data", "LEVEL": "sub", "INPUT": "/data/in"}, second.Environment)

	sub, ok := app.Root.Contents[1].(*model.Suite)
	require.True(t, ok)
	require.Equal(t, "sub", sub.RelPath())
}

func TestLoadApplicationMissingConfig(t *testing.T) {
	_, err := LoadApplication(zerolog.Nop(), t.TempDir(), "app", nil)
	require.Error(t, err)
}
