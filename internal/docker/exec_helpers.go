package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/stacktag/stacktag/internal/logging"
	"github.com/stacktag/stacktag/internal/metrics"
)

// Exec runs argv in the container without a tty, demultiplexes the attached
// stream and waits for the exit code. The whole call is bounded by the
// client's exec timeout.
func (s *sdkClient) Exec(ctx context.Context, containerID string, argv []string) (ExecResult, error) {
	start := time.Now()
	res, err := s.exec(ctx, containerID, argv)
	metrics.ObserveProbeDuration(time.Since(start).Seconds())
	if err != nil || res.ExitCode != 0 {
		metrics.IncProbeCommandFailure()
	} else {
		metrics.IncProbeCommandSuccess()
	}
	return res, err
}

func (s *sdkClient) exec(ctx context.Context, containerID string, argv []string) (ExecResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.execTimeout)
	defer cancel()

	created, err := s.cli.ContainerExecCreate(ctx, containerID, containertypes.ExecOptions{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec create in %s: %w", containerID, err)
	}
	attached, err := s.cli.ContainerExecAttach(ctx, created.ID, containertypes.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec attach in %s: %w", containerID, err)
	}
	defer attached.Close()

	var stdout, stderr, combined bytes.Buffer
	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(io.MultiWriter(&stdout, &combined), io.MultiWriter(&stderr, &combined), attached.Reader)
		copied <- err
	}()
	select {
	case err := <-copied:
		if err != nil {
			return ExecResult{}, fmt.Errorf("read exec output from %s: %w", containerID, err)
		}
	case <-ctx.Done():
		return ExecResult{}, fmt.Errorf("exec %q in %s canceled: %w", argv, containerID, ctx.Err())
	}

	code, err := s.waitForExecExit(ctx, created.ID, containerID)
	if err != nil {
		return ExecResult{}, err
	}
	return ExecResult{
		ExitCode: code,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Output:   combined.String(),
	}, nil
}

// waitForExecExit polls the exec until the daemon reports it finished. The
// output stream can close slightly before the exit code is recorded.
func (s *sdkClient) waitForExecExit(ctx context.Context, execID, containerID string) (int, error) {
	for {
		insp, err := s.cli.ContainerExecInspect(ctx, execID)
		if err != nil {
			return 0, fmt.Errorf("exec inspect in %s: %w", containerID, err)
		}
		if !insp.Running {
			if insp.ExitCode != 0 {
				logging.Get().Debug().Str("container", containerID).Int("exit_code", insp.ExitCode).Msg("exec finished with non-zero exit")
			}
			return insp.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("exec in %s did not finish: %w", containerID, ctx.Err())
		case <-time.After(execPollInterval):
		}
	}
}
