//go:build !windows

package python

import (
	"os/exec"
	"syscall"
)

// configureProcess starts the interpreter in its own process group and kills
// the whole group on cancellation, including any workers it spawned.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
