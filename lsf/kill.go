package lsf

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/carlsmedstad/texttest/model"
)

// KillJob cancels the LSF jobs of killed tests. Cancellation is best
// effort: bkill returns before the job has actually stopped.
type KillJob struct {
	logger    zerolog.Logger
	commander Commander
}

// NewKillJob creates a KillJob.
func NewKillJob(logger zerolog.Logger, commander Commander) *KillJob {
	return &KillJob{logger: logger, commander: commander}
}

// Kill cancels the job of t unless it has already finished. Jobs are
// killed the same way whatever the signal.
func (k *KillJob) Kill(t *model.Test, _ os.Signal) {
	job := NewJob(k.commander, t)
	done, err := job.HasFinished()
	if err != nil {
		k.logger.Debug().Err(err).Str("job", job.Name).Msg("Failed to query job, killing it anyway")
	}
	if done {
		return
	}

	k.logger.Info().Str("test", t.RelPath()).Str("job", job.Name).Msg("Cancelling in LSF")
	if err := job.Kill(); err != nil {
		k.logger.Warn().Err(err).Str("job", job.Name).Msg("Failed to kill job")
	}
	err = t.ChangeState(model.Killed{
		Brief:    "KILLED",
		Free:     "Killed in LSF",
		Previous: t.State(),
	})
	if err != nil {
		k.logger.Warn().Err(err).Str("test", t.RelPath()).Msg("Failed to mark test as killed")
	}
}
