package runner

// This file contains termination of a test's process tree.

import (
	"os"
	"os/exec"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

type testProcess struct {
	cmd    *exec.Cmd
	files  []*os.File
	exited chan struct{}
}

func (p *testProcess) hasExited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// terminate sends SIGTERM to the test's process group and to every
// descendant that left it, then SIGKILL after the grace period if the test
// process is still around.
func (r *Runner) terminate(p *testProcess) {
	if p.hasExited() {
		return
	}
	pid := p.cmd.Process.Pid

	// Collect descendants first: once the test process dies they are
	// re-parented and can no longer be found from it.
	descendants := findDescendants(int32(pid))

	if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
		r.logger.Debug().Err(err).Int("pgid", pid).Msg("Failed to signal process group")
		_ = p.cmd.Process.Signal(unix.SIGTERM)
	}
	for _, d := range descendants {
		if err := d.SendSignal(unix.SIGTERM); err != nil {
			r.logger.Debug().Err(err).Int32("pid", d.Pid).Msg("Failed to signal descendant process")
		}
	}

	timer := r.clock.NewTimer(r.killGrace)
	go func() {
		defer timer.Stop()
		select {
		case <-p.exited:
			return
		case <-timer.C():
		}
		r.logger.Warn().Int("pid", pid).Msg("Test process ignored SIGTERM, sending SIGKILL")
		_ = unix.Kill(-pid, unix.SIGKILL)
		for _, d := range descendants {
			_ = d.Kill()
		}
	}()
}

func findDescendants(pid int32) []*process.Process {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil
	}
	var out []*process.Process
	var walk func(p *process.Process)
	walk = func(p *process.Process) {
		children, err := p.Children()
		if err != nil {
			return
		}
		for _, c := range children {
			out = append(out, c)
			walk(c)
		}
	}
	walk(proc)
	return out
}
