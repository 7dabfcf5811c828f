package lsf

// command.go contains the LSF command builders and the interface used to
// run them, either locally or on a submit host.

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/rs/zerolog"
)

// Commander runs a shell command line. Output is returned even when the
// command fails, since bjobs reports unknown jobs with a non-zero status.
type Commander interface {
	RunCommand(command string) (stdout, stderr string, err error)
}

// LocalCommander runs commands with sh on this machine.
type LocalCommander struct {
	logger zerolog.Logger
}

// NewLocalCommander creates a LocalCommander.
func NewLocalCommander(logger zerolog.Logger) *LocalCommander {
	return &LocalCommander{logger: logger}
}

// RunCommand executes command with sh -c.
func (c *LocalCommander) RunCommand(command string) (string, string, error) {
	cmd := exec.Command("sh", "-c", command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.Debug().Str("command", command).Msg("Running LSF command")

	if err := cmd.Run(); err != nil {
		return stdout.String(), stderr.String(), fmt.Errorf("command failed: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}

// BsubOptions describes a bsub invocation.
type BsubOptions struct {
	JobName    string
	Queue      string
	ReportFile string
	Resource   string // Resource requirement, omitted when empty
	Processes  string // Number of processes, omitted when empty
	CmdFile    string // Script run by the job
	UnixPerf   string // Receives the output of time -p
}

// BuildBsubArgs builds the bsub arguments, job command included.
func BuildBsubArgs(opts BsubOptions) []string {
	args := []string{
		"-J", opts.JobName,
		"-q", opts.Queue,
		"-o", opts.ReportFile,
		"-u", "nobody",
	}
	if opts.Resource != "" {
		args = append(args, "-R", opts.Resource)
	}
	if opts.Processes != "" {
		args = append(args, "-n", opts.Processes)
	}

	// The backslash bypasses any shell builtin or alias called time
	args = append(args, `\time -p sh `+shellescape.Quote(opts.CmdFile)+" 2> "+shellescape.Quote(opts.UnixPerf))
	return args
}

// BuildBsubCommand builds the bsub command line. bsub's own output goes
// to the report file, which LSF appends its job report to.
func BuildBsubCommand(opts BsubOptions) string {
	return quoteCommand("bsub", BuildBsubArgs(opts)) + " > " + shellescape.Quote(opts.ReportFile)
}

// BuildJobsCommand builds a bjobs query for the named job, with stderr
// merged into stdout.
func BuildJobsCommand(jobName string, options ...string) string {
	args := append([]string{"-J", jobName}, options...)
	return quoteCommand("bjobs", args) + " 2>&1"
}

// BuildHostJobsCommand builds a bjobs query listing every user's jobs on
// machine.
func BuildHostJobsCommand(machine string) string {
	return quoteCommand("bjobs", []string{"-m", machine, "-u", "all", "-w"}) + " 2>&1"
}

// BuildKillCommand builds the bkill command for the named job.
func BuildKillCommand(jobName string) string {
	return quoteCommand("bkill", []string{"-J", jobName})
}

func quoteCommand(name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, name)
	for _, arg := range args {
		parts = append(parts, shellescape.Quote(arg))
	}
	return strings.Join(parts, " ")
}
