package lsf

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/carlsmedstad/texttest/model"
)

const sampleReport = `Job <1234> is submitted to queue <normal>.

Sender: LSF System <lsfadmin@host1.example.com>
Subject: Job 1234: <texttest.appt1> Done

Job <texttest.appt1> was submitted from host <submithost> by user <tester>.
Job was executed on host(s) <2*host1.example.com>, in queue <normal>, as user <tester>.
                            <1*host2.example.com>
</home/tester> was used as the home directory.
</tmp/w/t1> was used as the working directory.
Started at Tue Jan  2 10:00:00 2024
Results reported at Tue Jan  2 10:05:00 2024

Successfully completed.

Resource usage summary:

    CPU time   :     12.30 sec.
    Max Memory :        10 MB
    Max Swap   :        20 MB
    Real time  :     15.00 sec.
`

func TestParseReport(t *testing.T) {
	report, err := ParseReport(strings.NewReader(sampleReport))
	require.NoError(t, err)

	want := Report{
		ExecutedOn: {
			"Job was executed on host(s) <2*host1.example.com>, in queue <normal>, as user <tester>.",
			"                            <1*host2.example.com>",
		},
		CPUTime:   {"    CPU time   :     12.30 sec."},
		MaxMemory: {"    Max Memory :        10 MB"},
		MaxSwap:   {"    Max Swap   :        20 MB"},
		RealTime:  {"    Real time  :     15.00 sec."},
	}
	if diff := cmp.Diff(want, report); diff != "" {
		t.Errorf("ParseReport() mismatch (-want +got):\n%s", diff)
	}
	require.True(t, report.Complete())

	again, err := ParseReport(strings.NewReader(sampleReport))
	require.NoError(t, err)
	if diff := cmp.Diff(report, again); diff != "" {
		t.Errorf("ParseReport() is not repeatable (-first +second):\n%s", diff)
	}
}

func TestParseReportIncomplete(t *testing.T) {
	truncated := sampleReport[:strings.Index(sampleReport, "Resource usage summary")]
	report, err := ParseReport(strings.NewReader(truncated))
	require.NoError(t, err)
	require.False(t, report.Complete())
	require.Len(t, report[ExecutedOn], 2)
}

func TestApplyUnixPerf(t *testing.T) {
	dir := t.TempDir()

	// Without a timing file the report figures stay as they are
	report := Report{CPUTime: {"CPU time : 12.3 sec. on host1"}}
	require.NoError(t, applyUnixPerf(dir+"/missing", report))
	require.Equal(t, "CPU time : 12.3 sec. on host1", report.line(CPUTime))

	path := dir + "/unixperf.app"
	require.NoError(t, os.WriteFile(path, []byte("real 1:02.50\nuser 9.87\nsys 0.12\n"), 0644))
	require.NoError(t, applyUnixPerf(path, report))
	want := Report{
		CPUTime:  {"CPU time   :      9.87 sec."},
		RealTime: {"Real time  :      62.5 sec."},
	}
	if diff := cmp.Diff(want, report); diff != "" {
		t.Errorf("applyUnixPerf() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseUnixTime(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "12.30", want: "    12.30"},
		{in: "1:02", want: "     62.0"},
		{in: "1:02.5", want: "     62.5"},
		{in: "10:00", want: "    600.0"},
		{in: "0:00.25", want: "     0.25"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseUnixTime(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	_, err := parseUnixTime("x:10")
	require.Error(t, err)
}

func TestExecutionMachine(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{line: "Job was executed on host(s) <host1.example.com>, in queue <normal>", want: "host1"},
		{line: "Job was executed on host(s) <1*host1>, in queue <normal>", want: "host1"},
		{line: "                            <4*host2.example.com>", want: "host2"},
		{line: "no host here", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			require.Equal(t, tt.want, executionMachine(tt.line))
		})
	}
}

func hostJobs(command string) (string, string, error) {
	switch {
	case strings.Contains(command, "-m host1"):
		return "JOBID USER STAT QUEUE FROM_HOST EXEC_HOST JOB_NAME SUBMIT_TIME\n" +
			"2001 alice RUN normal sub host1 bigsim Jan 2 09:00\n" +
			"2002 bob PEND normal sub - waiting Jan 2 09:30\n" +
			"2003 batch RUN normal sub host1 nightly Jan 2 09:45\n", "", nil
	case strings.Contains(command, "-m host2"):
		return "No unfinished job found\n", "", nil
	}
	return "", "", nil
}

func writeReport(t *testing.T, test *model.Test, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(test.TmpFileName("report"), []byte(content), 0644))
}

func TestMakeResourceFiles(t *testing.T) {
	app := newLSFApp(t, "check_memory: true\nslowdown_job_users: [batch]\n")
	test := addTest(t, app, "t1")
	writeReport(t, test, sampleReport)
	require.NoError(t, os.WriteFile(test.TmpFileName("unixperf"), []byte("real 14.00\nuser 11.50\nsys 0.20\n"), 0644))
	require.NoError(t, os.WriteFile(test.TmpFileName("cmd"), []byte("true\n"), 0644))

	c := &fakeCommander{respond: hostJobs}
	m := NewMakeResourceFiles(zerolog.Nop(), c, newFakeClock())
	require.NoError(t, m.SetUpApplication(context.Background(), app))
	require.NoError(t, m.Perform(context.Background(), test))

	perf, err := os.ReadFile(test.TmpFileName("performance"))
	require.NoError(t, err)
	require.Equal(t, "CPU time   :     11.50 sec. on host1,host2\n"+
		"Real time  :     14.00 sec.\n"+
		"Also on host1 : alice's job 'bigsim'\n"+
		"Suspected of SLOWING DOWN host1 : batch's job 'nightly'\n",
		string(perf))

	mem, err := os.ReadFile(test.TmpFileName("memory"))
	require.NoError(t, err)
	require.Equal(t, "Max Memory :        10 MB\nMax Swap   :        20 MB\n", string(mem))

	require.Equal(t, []string{"bjobs -m host1 -u all -w 2>&1", "bjobs -m host2 -u all -w 2>&1"}, c.Commands())
	require.NoFileExists(t, test.TmpFileName("report"))
	require.NoFileExists(t, test.TmpFileName("unixperf"))
	require.NoFileExists(t, test.TmpFileName("cmd"))
}

func TestMakeResourceFilesKeepsReportCPUTime(t *testing.T) {
	app := newLSFApp(t, "")
	test := addTest(t, app, "t1")
	writeReport(t, test, "Job was executed on host(s) <host1>, in queue <normal>, as user <tester>.\n"+
		"</home/tester> was used as the home directory.\n"+
		"CPU time : 12.3 sec.\n"+
		"Max Memory : 1 MB\n"+
		"Max Swap : 2 MB\n"+
		"Real time : 13 sec.\n")

	m := NewMakeResourceFiles(zerolog.Nop(), &fakeCommander{}, newFakeClock())
	require.NoError(t, m.SetUpApplication(context.Background(), app))
	require.NoError(t, m.Perform(context.Background(), test))

	perf, err := os.ReadFile(test.TmpFileName("performance"))
	require.NoError(t, err)
	require.Equal(t, "CPU time : 12.3 sec. on host1\nReal time : 13 sec.\n", string(perf))
	// Memory checking is off by default
	require.NoFileExists(t, test.TmpFileName("memory"))
}

func TestReportCPUTimeWithoutUnixPerf(t *testing.T) {
	report, err := ParseReport(strings.NewReader("Job was executed on host(s) <host1>, in queue <normal>, as user <tester>.\n" +
		"</home/tester> was used as the home directory.\n" +
		"CPU time : 12.3 sec. on host1\n"))
	require.NoError(t, err)

	require.NoError(t, applyUnixPerf(filepath.Join(t.TempDir(), "unixperf.app"), report))
	require.Equal(t, "CPU time : 12.3 sec. on host1", report.line(CPUTime))
}

func TestMakeResourceFilesRetriesIncompleteReport(t *testing.T) {
	app := newLSFApp(t, "")
	test := addTest(t, app, "t1")
	writeReport(t, test, sampleReport[:strings.Index(sampleReport, "Resource usage summary")])

	fc := newFakeClock()
	m := NewMakeResourceFiles(zerolog.Nop(), &fakeCommander{}, fc)
	require.NoError(t, m.SetUpApplication(context.Background(), app))

	done := make(chan error, 1)
	go func() {
		done <- m.Perform(context.Background(), test)
	}()

	// LSF finishes writing the report while we wait
	require.Eventually(t, func() bool { return fc.WatcherCount() == 1 }, 5*time.Second, time.Millisecond)
	writeReport(t, test, sampleReport)
	fc.Increment(reportRetryDelay)
	require.NoError(t, <-done)
	require.FileExists(t, test.TmpFileName("performance"))
}

func TestMakeResourceFilesGivesUp(t *testing.T) {
	app := newLSFApp(t, "")
	test := addTest(t, app, "t1")
	writeReport(t, test, "Job <texttest.appt1> was submitted\n")

	fc := newFakeClock()
	m := NewMakeResourceFiles(zerolog.Nop(), &fakeCommander{}, fc)
	require.NoError(t, m.SetUpApplication(context.Background(), app))

	done := make(chan error, 1)
	go func() {
		done <- m.Perform(context.Background(), test)
	}()
	fc.WaitForWatcherAndIncrement(reportRetryDelay)
	require.NoError(t, <-done)
	require.NoFileExists(t, test.TmpFileName("performance"))
	require.NoFileExists(t, test.TmpFileName("report"))
}

func TestMakeResourceFilesKilledTest(t *testing.T) {
	app := newLSFApp(t, "")
	test := addTest(t, app, "t1")
	require.NoError(t, test.ChangeState(model.Killed{Brief: "KILLED"}))
	require.NoError(t, os.WriteFile(test.TmpFileName("cmd"), []byte("true\n"), 0644))

	// No retry delay for jobs that were killed
	m := NewMakeResourceFiles(zerolog.Nop(), &fakeCommander{}, newFakeClock())
	require.NoError(t, m.Perform(context.Background(), test))
	require.NoFileExists(t, test.TmpFileName("performance"))
	require.NoFileExists(t, test.TmpFileName("cmd"))
}
