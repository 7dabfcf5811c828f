package lsf

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/carlsmedstad/texttest/action"
	"github.com/carlsmedstad/texttest/model"
)

const pollInterval = 2 * time.Second

// Wait blocks the pipeline until a test's job has finished.
//
// Cancelling the context passed to Perform requests an emergency finish,
// which LSF announces shortly before it terminates the whole run: the job
// being waited for is killed at once and no further status query is made.
type Wait struct {
	action.Base
	logger    zerolog.Logger
	commander Commander
	clock     clock.Clock
	updater   *UpdateStatus
}

// NewWait creates the wait stage. When updater is not nil it is run on
// every poll, so tests are reported as running while they are waited for.
func NewWait(logger zerolog.Logger, commander Commander, clk clock.Clock, updater *UpdateStatus) *Wait {
	return &Wait{logger: logger, commander: commander, clock: clk, updater: updater}
}

func (w *Wait) String() string { return "Waiting for completion of" }

func (w *Wait) Perform(ctx context.Context, t *model.Test) error {
	job := NewJob(w.commander, t)
	if ctx.Err() != nil {
		return w.emergencyFinish(t, job)
	}
	if w.finished(job) {
		return nil
	}
	w.logger.Info().Str("test", t.RelPath()).Str("job", job.Name).Msg("Waiting for completion")

	for {
		if ctx.Err() != nil {
			return w.emergencyFinish(t, job)
		}
		if w.updater != nil {
			w.updater.update(t, job)
		}
		select {
		case <-ctx.Done():
			return w.emergencyFinish(t, job)
		case <-w.clock.After(pollInterval):
		}
		if w.finished(job) {
			return nil
		}
	}
}

// finished treats a failed query as not finished; bjobs is known to fail
// transiently while the scheduler is busy.
func (w *Wait) finished(job *Job) bool {
	done, err := job.HasFinished()
	if err != nil {
		w.logger.Debug().Err(err).Str("job", job.Name).Msg("Failed to query job, assuming it has not finished")
		return false
	}
	return done
}

func (w *Wait) emergencyFinish(t *model.Test, job *Job) error {
	w.logger.Warn().Str("test", t.RelPath()).Str("job", job.Name).Msg("Emergency finish: killing job")
	if err := job.Kill(); err != nil {
		w.logger.Warn().Err(err).Str("job", job.Name).Msg("Failed to kill job")
	}
	err := t.ChangeState(model.Killed{
		Brief:    "KILLED",
		Free:     "Killed by LSF emergency finish",
		Previous: t.State(),
	})
	if err != nil {
		w.logger.Warn().Err(err).Str("test", t.RelPath()).Msg("Failed to mark test as killed")
	}
	return nil
}

// UpdateStatus reports the scheduler's view of a job on its test. A test
// whose job is executing moves to Running with the execution host and an
// estimate of its progress.
type UpdateStatus struct {
	action.Base
	logger    zerolog.Logger
	commander Commander
	logFile   string
}

// NewUpdateStatus creates the status update stage.
func NewUpdateStatus(logger zerolog.Logger, commander Commander) *UpdateStatus {
	return &UpdateStatus{logger: logger, commander: commander, logFile: "output"}
}

func (u *UpdateStatus) String() string { return "Updating LSF status for" }

func (u *UpdateStatus) SetUpApplication(_ context.Context, app *model.Application) error {
	app.Config.SetDefault("log_file", "output")
	u.logFile = app.Config.Value("log_file")
	return nil
}

func (u *UpdateStatus) Perform(_ context.Context, t *model.Test) error {
	if t.State().Category() == model.CategoryKilled {
		return nil
	}
	u.update(t, NewJob(u.commander, t))
	return nil
}

func (u *UpdateStatus) update(t *model.Test, job *Job) {
	status, err := job.Status()
	if err != nil {
		u.logger.Debug().Err(err).Str("job", job.Name).Msg("Failed to get job status")
		return
	}
	switch status.State {
	case Done, Exited:
		return
	case Pending:
		u.logger.Debug().Str("test", t.RelPath()).Msg("Job is pending")
		return
	}

	details := statusText(status, u.percentage(t))
	if model.HasStarted(t.State()) {
		u.logger.Debug().Str("test", t.RelPath()).Str("status", details).Msg("Job status")
		return
	}

	var hosts []string
	if status.Host != "" {
		hosts = []string{status.Host}
	}
	err = t.ChangeState(model.Running{Hosts: hosts, Brief: status.Raw, Free: details})
	if err != nil {
		u.logger.Debug().Err(err).Str("test", t.RelPath()).Msg("Not marking test as running")
	}
}

func statusText(status JobStatus, percent int) string {
	var b strings.Builder
	if status.Host != "" {
		b.WriteString("Executing on " + status.Host + "\n")
	}
	b.WriteString("Current LSF status = " + status.Raw + "\n")
	if percent > 0 {
		b.WriteString("From log file reckoned to be " + strconv.Itoa(percent) + "% complete.")
	}
	return b.String()
}

// percentage estimates progress from the size of the log file written so
// far relative to the standard one. It is 0 when either file is missing or
// the standard file is empty.
func (u *UpdateStatus) percentage(t *model.Test) int {
	stdFile := t.FileName(u.logFile)
	if stdFile == "" {
		return 0
	}
	stdInfo, err := os.Stat(stdFile)
	if err != nil || stdInfo.Size() == 0 {
		return 0
	}
	tmpInfo, err := os.Stat(t.TmpFileName(u.logFile))
	if err != nil {
		return 0
	}
	percent := int(tmpInfo.Size() * 100 / stdInfo.Size())
	u.logger.Debug().
		Str("test", t.RelPath()).
		Str("written", humanize.Bytes(uint64(tmpInfo.Size()))).
		Str("expected", humanize.Bytes(uint64(stdInfo.Size()))).
		Int("percent", percent).
		Msg("Log file progress")
	return percent
}
