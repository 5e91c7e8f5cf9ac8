//go:build !linux && !darwin

package manifold

import "os/exec"

func prepareProcessGroup(c *exec.Cmd) {}

func killProcessGroup(c *exec.Cmd) {
	if c.Process != nil {
		c.Process.Kill()
	}
}
