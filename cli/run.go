package cli

// This file contains the run command: it loads the suite, selects tests,
// drives them through the pipeline of the chosen mode and records the run.

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/urfave/cli/v2"

	"github.com/carlsmedstad/texttest/action"
	"github.com/carlsmedstad/texttest/cli/ssh"
	"github.com/carlsmedstad/texttest/config"
	"github.com/carlsmedstad/texttest/filter"
	"github.com/carlsmedstad/texttest/history"
	"github.com/carlsmedstad/texttest/lsf"
	"github.com/carlsmedstad/texttest/metrics"
	"github.com/carlsmedstad/texttest/model"
	"github.com/carlsmedstad/texttest/runner"
)

// pipelineConfig selects and parameterises the pipeline of a run.
type pipelineConfig struct {
	mode         model.RunMode
	reconnectDir string
	batch        string
	batchRuns    []model.Run
	commander    lsf.Commander
	submit       lsf.SubmitConfig
	clock        clock.Clock
}

// buildPipeline composes the passes of cfg.mode. In LSF mode every job is
// submitted before the first one is waited for.
func (a *App) buildPipeline(cfg pipelineConfig) *action.Pipeline {
	switch cfg.mode {
	case model.RunModeBatchCollect:
		return action.NewPipeline(a.logger, nil, action.Composite{
			action.NewCollectBatch(a.logger, cfg.batch, cfg.batchRuns),
		})
	case model.RunModeReconnect:
		return action.NewPipeline(a.logger, nil, action.Composite{
			action.NewReconnect(a.logger, cfg.reconnectDir),
			action.NewEvaluate(a.logger),
		})
	case model.RunModeLSF:
		updater := lsf.NewUpdateStatus(a.logger, cfg.commander)
		return action.NewPipeline(a.logger, lsf.NewKillJob(a.logger, cfg.commander),
			action.Composite{
				action.MakeWriteDirectory{},
				lsf.NewSubmit(a.logger, cfg.commander, cfg.submit),
			},
			action.Composite{
				action.Composite{
					lsf.NewWait(a.logger, cfg.commander, cfg.clock, updater),
					updater,
					lsf.NewMakeResourceFiles(a.logger, cfg.commander, cfg.clock),
					action.NewCollate(a.logger),
				},
				action.NewEvaluate(a.logger),
			},
		)
	default:
		r := runner.New(a.logger, runner.WithClock(cfg.clock))
		return action.NewPipeline(a.logger, r, action.Composite{
			action.MakeWriteDirectory{},
			r,
			action.NewCollate(a.logger),
			action.NewEvaluate(a.logger),
		})
	}
}

// filterOptions collects the filter flags that were given.
func filterOptions(ctx *cli.Context) filter.Options {
	opts := filter.Options{}
	for _, f := range filterFlags {
		name := f.Names()[0]
		if ctx.IsSet(name) {
			opts[name] = ctx.String(name)
		}
	}
	return opts
}

// sshOptions returns the connection options given for the submit host.
func sshOptions(ctx *cli.Context) []ssh.SSHOption {
	var opts []ssh.SSHOption
	if v := ctx.String("ssh-identity"); v != "" {
		opts = append(opts, ssh.WithIdentityFile(v))
	}
	if v := ctx.String("ssh-known-hosts"); v != "" {
		opts = append(opts, ssh.WithKnownHostsFile(v))
	}
	if v := ctx.String("ssh-proxy"); v != "" {
		opts = append(opts, ssh.WithProxyCommand(v))
	}
	if v := ctx.StringSlice("ssh-option"); len(v) > 0 {
		opts = append(opts, ssh.WithExtraOptions(v...))
	}
	return opts
}

func runMode(ctx *cli.Context) model.RunMode {
	switch {
	case ctx.String("reconnect") != "":
		return model.RunModeReconnect
	case ctx.Bool("collect"):
		return model.RunModeBatchCollect
	case ctx.Bool("local"):
		return model.RunModeLocal
	}
	return model.RunModeLSF
}

// runName identifies a run in write directory and job names.
func runName(start time.Time) string {
	return start.Format("02Jan150405")
}

// batchRuns returns the recorded runs of app in a batch session, newest
// first. Earlier collections are not results of their own.
func (a *App) batchRuns(root, app, session string) ([]model.Run, error) {
	entries, err := history.LoadEntries(a.logger, root)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	var runs []model.Run
	for _, entry := range entries {
		if entry.Run.App == app && entry.Run.Batch == session && entry.Run.Mode != model.RunModeBatchCollect {
			runs = append(runs, entry.Run)
		}
	}
	return runs, nil
}

func newRunID() (string, error) {
	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return "", fmt.Errorf("failed to generate run ID: %w", err)
	}
	return hex.EncodeToString(idBytes), nil
}

func (a *App) run(ctx *cli.Context) error {
	startTime := time.Now()

	if ctx.Bool("collect") && ctx.String("b") == "" {
		return errors.New("--collect requires a batch session (-b)")
	}

	app, err := config.LoadApplication(a.logger, ctx.String("dir"), ctx.String("app"), ctx.StringSlice("versions"))
	if err != nil {
		return fmt.Errorf("failed to load application: %w", err)
	}

	filters, err := filter.Build(filterOptions(ctx), app)
	if err != nil {
		return fmt.Errorf("failed to build filters: %w", err)
	}
	tests := filter.Select(app.Root, filters)
	if len(tests) == 0 {
		a.logger.Warn().Str("app", app.String()).Msg("No tests selected")
		return nil
	}

	if ctx.Bool("dry-run") {
		return a.listSelected(ctx.Context, app, tests)
	}

	runID, err := newRunID()
	if err != nil {
		return err
	}

	tmpRoot, err := history.Root()
	if err != nil {
		return err
	}
	name := runName(startTime)
	app.WriteDir = filepath.Join(tmpRoot, app.Name+app.VersionSuffix()+"."+name)
	app.RunTag = name + "."

	m := metrics.New()
	app.AddObserver(m)

	mode := runMode(ctx)
	run := &model.Run{
		ID:        runID,
		App:       app.String(),
		Mode:      mode,
		Batch:     ctx.String("b"),
		Timestamp: startTime,
		Args:      os.Args,
		WorkDir:   app.Dir,
		WriteDir:  app.WriteDir,
	}

	// Capture git info (non-fatal if it fails)
	if commit, branch, err := a.getGitInfo(app.Dir); err == nil {
		run.Git = &model.Git{
			Commit: commit,
			Branch: branch,
		}
	}

	cfg := pipelineConfig{
		mode:         mode,
		reconnectDir: ctx.String("reconnect"),
		batch:        ctx.String("b"),
		clock:        clock.NewClock(),
	}

	if mode == model.RunModeBatchCollect {
		cfg.batchRuns, err = a.batchRuns(tmpRoot, app.String(), cfg.batch)
		if err != nil {
			return err
		}
	}

	if mode == model.RunModeLSF {
		cfg.submit = lsf.SubmitConfig{
			Queue:    ctx.String("queue"),
			Resource: ctx.String("resource"),
			Perf:     ctx.Bool("perf"),
			Recorder: m,
		}
		run.Target = &model.Target{
			Queue:      ctx.String("queue"),
			SubmitHost: ctx.String("submit-host"),
			Resource:   ctx.String("resource"),
		}

		if host := ctx.String("submit-host"); host != "" {
			a.logger.Info().Str("host", host).Msg("Connecting to submit host")
			client, err := ssh.New(a.logger, host, sshOptions(ctx)...)
			if err != nil {
				return fmt.Errorf("failed to create SSH client: %w", err)
			}
			defer client.Close()
			cfg.commander = client
		} else {
			cfg.commander = lsf.NewLocalCommander(a.logger)
		}
	}

	runCtx, cancel := context.WithCancel(ctx.Context)
	defer cancel()

	pipeline := a.buildPipeline(cfg)

	// SIGUSR2 cancels the waits in LSF mode; locally it kills like the rest
	var emergency context.CancelFunc
	if mode == model.RunModeLSF {
		emergency = cancel
	}
	stopSignals := a.handleSignals(pipeline, emergency)
	defer stopSignals()

	a.logger.Info().Str("app", app.String()).Str("mode", string(mode)).Int("tests", len(tests)).Str("dir", app.WriteDir).Msg("Starting run")

	finalErr := pipeline.Run(runCtx, app, tests)

	run.Duration = time.Since(startTime)
	if finalErr != nil {
		run.ExitCode = 1
	}
	for _, t := range tests {
		run.Tests = append(run.Tests, model.NewTestRecord(t))
	}

	// Record the history (non-fatal if it fails)
	if err := history.Record(app.WriteDir, run); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to record history")
	} else {
		a.logger.Debug().Str("dir", app.WriteDir).Str("id", run.ID).Msg("Recorded run")
	}

	if path := ctx.String("metrics-file"); path != "" {
		if err := m.WriteTextfile(path); err != nil {
			a.logger.Warn().Err(err).Str("path", path).Msg("Failed to export metrics")
		}
	}

	printSummary(os.Stdout, run)
	return finalErr
}

// listSelected prints the selected tests without running them.
func (a *App) listSelected(ctx context.Context, app *model.Application, tests []*model.Test) error {
	counter := &action.CountTests{}
	if err := action.NewPipeline(a.logger, nil, action.Composite{counter}).Run(ctx, app, tests); err != nil {
		return err
	}
	for _, t := range tests {
		fmt.Println(t.RelPath())
	}
	fmt.Printf("\n%d tests selected for %s\n", counter.Count(), app)
	return nil
}
