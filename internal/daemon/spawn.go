package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// Command is the hidden subcommand the launcher re-executes itself with.
const Command = "daemon"

// Job names what a daemon should share.
type Job struct {
	ResourcePath string // absolute
	Port         int
}

// Spawner starts a detached daemon for job and returns its pid.
type Spawner interface {
	Spawn(job Job) (int, error)
}

// SpawnFunc adapts a function to Spawner.
type SpawnFunc func(job Job) (int, error)

func (f SpawnFunc) Spawn(job Job) (int, error) { return f(job) }

// Exec spawns the daemon by re-executing a binary, by default the running
// one, as "<exe> daemon --path <p> --port <n> [ExtraArgs...]". The child
// gets a new session and the null device for all standard streams.
type Exec struct {
	Executable string
	ExtraArgs  []string
	Env        []string // nil inherits the launcher's environment
}

// Args returns the argument vector passed to the daemon.
func (e Exec) Args(job Job) []string {
	args := []string{Command, "--path", job.ResourcePath, "--port", strconv.Itoa(job.Port)}
	return append(args, e.ExtraArgs...)
}

func (e Exec) Spawn(job Job) (int, error) {
	exe := e.Executable
	if exe == "" {
		var err error
		exe, err = os.Executable()
		if err != nil {
			return 0, fmt.Errorf("failed to get executable path: %w", err)
		}
	}
	// #nosec G204
	cmd := exec.Command(exe, e.Args(job)...)
	configureDaemonAttrs(cmd)
	cmd.Env = e.Env
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start daemon process: %w", err)
	}
	pid := cmd.Process.Pid
	// reap the child if it dies while the launcher is still around
	go func() { _ = cmd.Wait() }()
	return pid, nil
}
