package lsf

// Package lsf runs tests as jobs of the LSF batch scheduler. Jobs are
// identified by a name derived from the test, so their status can always
// be queried again without keeping track of what was submitted.

import (
	"errors"
	"fmt"
	"strings"

	"github.com/carlsmedstad/texttest/model"
)

// JobState is the scheduler's view of a job.
type JobState int

const (
	Pending JobState = iota
	Running
	Done
	Exited
)

func (s JobState) String() string {
	switch s {
	case Pending:
		return "PEND"
	case Running:
		return "RUN"
	case Done:
		return "DONE"
	case Exited:
		return "EXIT"
	}
	return fmt.Sprintf("JobState(%d)", int(s))
}

// JobStatus is one status observation.
type JobStatus struct {
	State JobState
	// Host is the short name of the execution host, if known
	Host string
	// Raw is the status string reported by bjobs, e.g. RUN or SSUSP
	Raw string
}

// Job is the LSF job running a test.
type Job struct {
	Name      string
	commander Commander
}

// JobName returns the job name of t. It combines the run tag, the
// application with its versions and the test path.
func JobName(t *model.Test) string {
	return t.App.RunTag + t.App.Name + t.App.VersionSuffix() + t.RelPath()
}

// NewJob returns the job of t.
func NewJob(commander Commander, t *model.Test) *Job {
	return &Job{Name: JobName(t), commander: commander}
}

// HasFinished reports whether the job is no longer known to the scheduler.
func (j *Job) HasFinished() (bool, error) {
	line, err := j.query()
	if err != nil {
		return false, err
	}
	return strings.Contains(line, "not found"), nil
}

// query returns the first line of a bjobs query for the job.
func (j *Job) query(options ...string) (string, error) {
	stdout, _, err := j.commander.RunCommand(BuildJobsCommand(j.Name, options...))
	if stdout == "" {
		if err == nil {
			err = errors.New("no output")
		}
		return "", fmt.Errorf("failed to query job %s: %w", j.Name, err)
	}
	line, _, _ := strings.Cut(stdout, "\n")
	return line, nil
}

// Status returns the job's current status. A job bjobs has no record of
// any more is Done.
func (j *Job) Status() (JobStatus, error) {
	stdout, _, err := j.commander.RunCommand(BuildJobsCommand(j.Name, "-w", "-a"))
	if stdout == "" && err != nil {
		return JobStatus{}, fmt.Errorf("failed to query job %s: %w", j.Name, err)
	}
	return ParseStatus(stdout)
}

// ParseStatus parses the output of bjobs -w -a. The last line describes
// the most recent job with the name.
func ParseStatus(output string) (JobStatus, error) {
	lines := nonEmptyLines(output)
	if len(lines) == 0 {
		return JobStatus{State: Done, Raw: "DONE"}, nil
	}
	last := lines[len(lines)-1]
	if strings.Contains(last, "not found") {
		return JobStatus{State: Done, Raw: "DONE"}, nil
	}

	fields := strings.Fields(last)
	if len(fields) < 3 {
		return JobStatus{}, fmt.Errorf("unexpected bjobs output: %q", last)
	}
	status := JobStatus{Raw: fields[2]}
	switch fields[2] {
	case "PEND":
		status.State = Pending
		return status, nil
	case "DONE":
		status.State = Done
	case "EXIT":
		status.State = Exited
	default:
		status.State = Running
	}
	if len(fields) >= 6 {
		status.Host = shortHostName(fields[5])
	}
	return status, nil
}

// Kill asks the scheduler to cancel the job. bkill complains about jobs
// that have already finished, so its output is only logged by callers.
func (j *Job) Kill() error {
	_, stderr, err := j.commander.RunCommand(BuildKillCommand(j.Name))
	if err != nil {
		return fmt.Errorf("failed to kill job %s: %w (stderr: %s)", j.Name, err, strings.TrimSpace(stderr))
	}
	return nil
}

func nonEmptyLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func shortHostName(name string) string {
	return strings.Split(name, ".")[0]
}
