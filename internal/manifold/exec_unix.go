//go:build linux || darwin

package manifold

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// prepareProcessGroup puts the subprocess in its own process group so a
// timeout kill can take down everything it forked, not just the shell.
func prepareProcessGroup(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGKILL to the negative PID (the process group)
// so a timed-out subprocess cannot leave orphaned children behind.
func killProcessGroup(c *exec.Cmd) {
	if c.Process == nil {
		return
	}
	pgid, err := unix.Getpgid(c.Process.Pid)
	if err != nil {
		c.Process.Kill()
		return
	}
	unix.Kill(-pgid, unix.SIGKILL)
}
