//go:build windows

package process

import (
	"errors"
	"syscall"
)

// ErrUnsupported is returned for process-group operations, which only exist on POSIX systems.
var ErrUnsupported = errors.New("process groups are not supported on windows")

// Exists always reports false on windows; detached jobs are a POSIX feature.
func Exists(pid int) bool { return false }

func signalGroup(pid int, sig syscall.Signal) error { return ErrUnsupported }
