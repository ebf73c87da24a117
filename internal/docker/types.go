package docker

import (
	"errors"
	"fmt"
)

// Container is the handle taggers and smoke units probe. It is owned by
// whoever started it; probes only read through it.
type Container struct {
	ID     string            `json:"Id"`
	Name   string            `json:"Name"`
	Image  string            `json:"Image"`
	Labels map[string]string `json:"Labels"`
}

// ExecResult is the captured outcome of one exec inside a container.
// Output interleaves stdout and stderr in the order they were received.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Output   string
}

// ErrCommandFailed is matched by every CommandError.
var ErrCommandFailed = errors.New("command failed")

// CommandError reports a probe command that exited non-zero.
type CommandError struct {
	Cmd      string
	ExitCode int
	Output   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command `%s` failed with exit code %d: %s", e.Cmd, e.ExitCode, e.Output)
}

func (e *CommandError) Unwrap() error { return ErrCommandFailed }
