//go:build unix

package executor

import (
	"os/exec"
	"syscall"
)

// setProcessGroup starts the shell in its own process group and kills the
// whole group on cancellation.
func setProcessGroup(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		if c.Process == nil {
			return nil
		}
		return syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
	}
}
