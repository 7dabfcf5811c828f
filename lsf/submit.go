package lsf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/rs/zerolog"

	"github.com/carlsmedstad/texttest/action"
	"github.com/carlsmedstad/texttest/config"
	"github.com/carlsmedstad/texttest/model"
)

// Submission results passed to a SubmissionRecorder.
const (
	SubmitOK          = "submitted"
	SubmitStillTrying = "still_trying"
	SubmitFailed      = "failed"
)

// SubmissionRecorder is told about the outcome of every bsub call.
type SubmissionRecorder interface {
	RecordSubmission(result string)
}

// SubmitConfig holds the command-line choices affecting submission.
type SubmitConfig struct {
	// Queue overrides the configured lsf_queue
	Queue string
	// Resource is an extra resource requirement
	Resource string
	// Perf restricts jobs to the configured performance test machines
	Perf     bool
	Recorder SubmissionRecorder
}

// Submit submits each test as an LSF job.
type Submit struct {
	action.Base
	logger    zerolog.Logger
	commander Commander
	cfg       SubmitConfig
}

// NewSubmit creates the submission stage.
func NewSubmit(logger zerolog.Logger, commander Commander, cfg SubmitConfig) *Submit {
	return &Submit{logger: logger, commander: commander, cfg: cfg}
}

func (s *Submit) String() string { return "Submitting" }

func (s *Submit) SetUpApplication(_ context.Context, app *model.Application) error {
	app.Config.SetDefault("lsf_queue", "normal")
	app.Config.SetDefault("lsf_processes", "1")
	if s.cfg.Perf && len(app.Config.List("performance_test_machine")) == 0 {
		return errors.New("no performance_test_machine configured for performance runs")
	}
	return nil
}

func (s *Submit) SetUpSuite(_ context.Context, suite *model.Suite) error {
	s.logger.Debug().Str("suite", suite.Describe()).Msg("Submitting suite")
	return nil
}

// Perform writes the test's command file and submits it. Tests that are
// already complete are left alone.
func (s *Submit) Perform(_ context.Context, t *model.Test) error {
	if model.IsComplete(t.State()) {
		s.logger.Debug().Str("test", t.RelPath()).Msg("Not submitting completed test")
		return nil
	}

	queue := s.queue(t.App)
	s.logger.Info().Str("test", t.RelPath()).Str("queue", queue).Msg("Submitting to LSF")

	cmdFile, err := writeCmdFile(t)
	if err != nil {
		return err
	}

	command := BuildBsubCommand(BsubOptions{
		JobName:    JobName(t),
		Queue:      queue,
		ReportFile: t.TmpFileName("report"),
		Resource:   ResourceExpression(s.resourceList(t.App)),
		Processes:  os.Getenv("LSF_PROCESSES"),
		CmdFile:    cmdFile,
		UnixPerf:   t.TmpFileName("unixperf"),
	})
	s.logger.Debug().Str("test", t.RelPath()).Str("command", command).Msg("Submitting with command")

	_, stderr, err := s.commander.RunCommand(command)
	message, _, _ := strings.Cut(strings.TrimSpace(stderr), "\n")
	switch {
	case message != "" && strings.Contains(message, "still trying"):
		s.logger.Warn().Str("test", t.RelPath()).Str("message", message).Msg("LSF is still trying to submit the job")
		s.record(SubmitStillTrying)
	case message != "":
		s.record(SubmitFailed)
		return fmt.Errorf("failed to submit to LSF (%s)", message)
	case err != nil:
		// Without error text the exit status is all there is to go on
		s.record(SubmitFailed)
		return fmt.Errorf("failed to submit to LSF: %w", err)
	default:
		s.record(SubmitOK)
	}
	return nil
}

func (s *Submit) record(result string) {
	if s.cfg.Recorder != nil {
		s.cfg.Recorder.RecordSubmission(result)
	}
}

func (s *Submit) queue(app *model.Application) string {
	if s.cfg.Queue != "" {
		return s.cfg.Queue
	}
	return app.Config.Value("lsf_queue")
}

// resourceList collects the resource requirements from the command line,
// the performance machines and $LSF_RESOURCE, in that order.
func (s *Submit) resourceList(app *model.Application) []string {
	var resources []string
	if s.cfg.Resource != "" {
		resources = append(resources, s.cfg.Resource)
	}
	if s.cfg.Perf {
		if machines := app.Config.List("performance_test_machine"); len(machines) > 0 {
			resources = append(resources, "select[hname == "+strings.Join(machines, " || hname == ")+"]")
		}
	}
	if env := os.Getenv("LSF_RESOURCE"); env != "" {
		resources = append(resources, env)
	}
	return resources
}

// ResourceExpression combines resource requirements so that all of them
// must hold.
func ResourceExpression(resources []string) string {
	switch len(resources) {
	case 0:
		return ""
	case 1:
		return resources[0]
	}
	return "(" + strings.Join(resources, ") && (") + ")"
}

// writeCmdFile writes the script the job runs. LSF does not set HOST, and
// the job starts outside the write directory without the test environment.
func writeCmdFile(t *model.Test) (string, error) {
	args, err := config.CommandArgs(t)
	if err != nil {
		return "", fmt.Errorf("failed to resolve command line: %w", err)
	}

	var b strings.Builder
	b.WriteString("HOST=`hostname`; export HOST\n")
	b.WriteString("cd " + shellescape.Quote(t.WriteDir) + "\n")
	for _, kv := range t.EnvironmentList() {
		key, value, _ := strings.Cut(kv, "=")
		b.WriteString(key + "=" + shellescape.Quote(value) + "; export " + key + "\n")
	}

	command := quoteCommand(args[0], args[1:])
	if input := t.FileName("input"); input != "" {
		command += " < " + shellescape.Quote(input)
	}
	command += " > " + shellescape.Quote(t.TmpFileName("output")) + " 2> " + shellescape.Quote(t.TmpFileName("errors"))
	b.WriteString(command + "\n")

	path := t.TmpFileName("cmd")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write command file: %w", err)
	}
	return path, nil
}
