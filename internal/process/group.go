package process

import (
	"errors"
	"syscall"
	"time"
)

// DefaultGrace is how long TerminateGroup waits after SIGTERM before escalating.
const DefaultGrace = 2 * time.Second

// TerminateGroup stops the process group led by pid: SIGTERM first, then
// SIGKILL to the whole group once the leader is gone or grace has elapsed,
// so children that ignored the first signal do not outlive the leader.
func TerminateGroup(pid int, grace time.Duration) error {
	if pid <= 0 {
		return syscall.ESRCH
	}
	if err := signalGroup(pid, syscall.SIGTERM); err != nil {
		return err
	}
	deadline := time.Now().Add(grace)
	for Exists(pid) && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if err := signalGroup(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}
