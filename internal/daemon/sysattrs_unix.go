//go:build !windows

package daemon

import (
	"os/exec"
	"syscall"
)

// configureDaemonAttrs starts the daemon in a new session, detached from the
// launcher's terminal and leading its own process group.
func configureDaemonAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}
