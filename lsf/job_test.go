package lsf

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/carlsmedstad/texttest/config"
	"github.com/carlsmedstad/texttest/model"
)

const (
	bjobsHeader = "JOBID   USER    STAT  QUEUE      FROM_HOST   EXEC_HOST   JOB_NAME   SUBMIT_TIME\n"
	notFound    = "Job <texttest.app/t1> is not found\n"
)

func runningLine(status, host string) string {
	return "1234    tester  " + status + "   normal     submithost  " + host + "  texttest.app/t1  Jan  2 10:00\n"
}

// fakeCommander answers LSF commands with respond and records them.
type fakeCommander struct {
	mu       sync.Mutex
	commands []string
	respond  func(command string) (stdout, stderr string, err error)
}

func (c *fakeCommander) RunCommand(command string) (string, string, error) {
	c.mu.Lock()
	c.commands = append(c.commands, command)
	respond := c.respond
	c.mu.Unlock()
	if respond == nil {
		return "", "", nil
	}
	return respond(command)
}

func (c *fakeCommander) Commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.commands...)
}

func newLSFApp(t *testing.T, yaml string) *model.Application {
	t.Helper()
	cfg, err := config.Parse([]byte("executable: /bin/app\n" + yaml))
	require.NoError(t, err)
	dir := t.TempDir()
	app := &model.Application{Name: "app", Dir: dir, WriteDir: t.TempDir(), RunTag: "texttest.", Config: cfg}
	app.Root = &model.Suite{Name: "app", Dir: dir, App: app}
	return app
}

func addTest(t *testing.T, app *model.Application, name string) *model.Test {
	t.Helper()
	test := &model.Test{
		Name:     name,
		Dir:      filepath.Join(app.Dir, name),
		WriteDir: filepath.Join(app.WriteDir, name),
		Parent:   app.Root,
		App:      app,
	}
	require.NoError(t, os.MkdirAll(test.Dir, 0755))
	require.NoError(t, os.MkdirAll(test.WriteDir, 0755))
	app.Root.Contents = append(app.Root.Contents, test)
	return test
}

func TestJobName(t *testing.T) {
	app := newLSFApp(t, "")
	app.Versions = []string{"v2", "linux"}
	suite := &model.Suite{Name: "suite", Parent: app.Root, App: app}
	test := &model.Test{Name: "t1", Parent: suite, App: app}

	require.Equal(t, "texttest.app.v2.linuxsuite/t1", JobName(test))
	// The name is derived from the test alone, so it can be found again later
	require.Equal(t, JobName(test), NewJob(&fakeCommander{}, test).Name)
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   JobStatus
	}{
		{name: "no output", output: "", want: JobStatus{State: Done, Raw: "DONE"}},
		{name: "not found", output: notFound, want: JobStatus{State: Done, Raw: "DONE"}},
		{name: "pending", output: bjobsHeader + "1234 tester PEND normal submithost texttest.app/t1 Jan 2 10:00\n", want: JobStatus{State: Pending, Raw: "PEND"}},
		{name: "running", output: bjobsHeader + runningLine("RUN", "host1.example.com"), want: JobStatus{State: Running, Host: "host1", Raw: "RUN"}},
		{name: "suspended", output: bjobsHeader + runningLine("SSUSP", "host2"), want: JobStatus{State: Running, Host: "host2", Raw: "SSUSP"}},
		{name: "done", output: bjobsHeader + runningLine("DONE", "host1"), want: JobStatus{State: Done, Host: "host1", Raw: "DONE"}},
		{name: "exited", output: bjobsHeader + runningLine("EXIT", "host1"), want: JobStatus{State: Exited, Host: "host1", Raw: "EXIT"}},
		{name: "last line wins", output: bjobsHeader + runningLine("EXIT", "host1") + runningLine("RUN", "host3") + "\n", want: JobStatus{State: Running, Host: "host3", Raw: "RUN"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStatus(tt.output)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	_, err := ParseStatus("garbage\n")
	require.Error(t, err)
}

func TestJobQueries(t *testing.T) {
	app := newLSFApp(t, "")
	test := addTest(t, app, "t1")

	c := &fakeCommander{}
	job := NewJob(c, test)

	// bjobs fails for unknown jobs but still says why
	c.respond = func(string) (string, string, error) { return notFound, "", errors.New("exit status 255") }
	done, err := job.HasFinished()
	require.NoError(t, err)
	require.True(t, done)

	c.respond = func(string) (string, string, error) { return bjobsHeader + runningLine("RUN", "host1"), "", nil }
	done, err = job.HasFinished()
	require.NoError(t, err)
	require.False(t, done)

	c.respond = func(string) (string, string, error) { return "", "", errors.New("connection reset") }
	_, err = job.HasFinished()
	require.ErrorContains(t, err, "connection reset")
	_, err = job.Status()
	require.ErrorContains(t, err, "connection reset")

	require.Equal(t, []string{
		"bjobs -J texttest.appt1 2>&1",
		"bjobs -J texttest.appt1 -r 2>&1",
		"bjobs -J texttest.appt1 2>&1",
		"bjobs -J texttest.appt1 -r 2>&1",
		"bjobs -J texttest.appt1 2>&1",
		"bjobs -J texttest.appt1 -w -a 2>&1",
	}, c.Commands())
}

func TestJobKill(t *testing.T) {
	app := newLSFApp(t, "")
	test := addTest(t, app, "t1")

	c := &fakeCommander{}
	require.NoError(t, NewJob(c, test).Kill())
	require.Equal(t, []string{"bkill -J texttest.appt1"}, c.Commands())

	c.respond = func(string) (string, string, error) {
		return "", "Job has already finished\n", errors.New("exit status 255")
	}
	err := NewJob(c, test).Kill()
	require.ErrorContains(t, err, "Job has already finished")
}

func TestBuildBsubCommand(t *testing.T) {
	cmd := BuildBsubCommand(BsubOptions{
		JobName:    "texttest.appt1",
		Queue:      "normal",
		ReportFile: "/w/report.app",
		Resource:   "select[hname == perf1]",
		Processes:  "2",
		CmdFile:    "/w/cmd.app",
		UnixPerf:   "/w/unixperf.app",
	})
	require.Equal(t,
		`bsub -J texttest.appt1 -q normal -o /w/report.app -u nobody -R 'select[hname == perf1]' -n 2 '\time -p sh /w/cmd.app 2> /w/unixperf.app' > /w/report.app`,
		cmd)

	cmd = BuildBsubCommand(BsubOptions{
		JobName:    "texttest.appt1",
		Queue:      "short",
		ReportFile: "/w/report.app",
		CmdFile:    "/w/cmd.app",
		UnixPerf:   "/w/unixperf.app",
	})
	require.False(t, strings.Contains(cmd, "-R"))
	require.False(t, strings.Contains(cmd, "-n"))
}

func TestBuildHostJobsCommand(t *testing.T) {
	require.Equal(t, "bjobs -m host1 -u all -w 2>&1", BuildHostJobsCommand("host1"))
}
