package cli

// This file contains signal handling for a running pipeline.

import (
	"context"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

var killSignals = []os.Signal{
	unix.SIGINT,
	unix.SIGTERM,
	unix.SIGUSR1,
	unix.SIGUSR2,
	unix.SIGXCPU,
}

type killAller interface {
	KillAll(sig os.Signal)
}

// handleSignals turns the kill signals into kill requests until the
// returned stop function is called.
func (a *App) handleSignals(k killAller, emergency context.CancelFunc) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, killSignals...)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case sig := <-ch:
				a.dispatchSignal(sig, k, emergency)
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// dispatchSignal handles one signal. With an emergency function, SIGUSR2
// finishes the run early instead of killing each test.
func (a *App) dispatchSignal(sig os.Signal, k killAller, emergency context.CancelFunc) {
	a.logger.Info().Str("signal", sig.String()).Msg("Received signal")
	if sig == unix.SIGUSR2 && emergency != nil {
		a.logger.Warn().Msg("Emergency finish requested, abandoning remaining jobs")
		emergency()
		return
	}
	k.KillAll(sig)
}
