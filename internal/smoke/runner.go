package smoke

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/stacktag/stacktag/internal/docker"
	"github.com/stacktag/stacktag/internal/logging"
	"github.com/stacktag/stacktag/internal/metrics"
)

const gpuEnvVar = "NVIDIA_VISIBLE_DEVICES"

const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// ErrUnitFailed is matched by every failed unit error.
var ErrUnitFailed = errors.New("smoke unit failed")

// Executor is the part of docker.Client the runner needs.
type Executor interface {
	Exec(ctx context.Context, containerID string, argv []string) (docker.ExecResult, error)
	ContainerEnv(ctx context.Context, containerID string) ([]string, error)
}

// Result is the outcome of one unit.
type Result struct {
	Unit     string
	Status   string
	ExitCode int
	Output   string
	Duration time.Duration
}

// Runner executes units in a running container.
type Runner struct {
	Exec Executor
}

// Run executes units in order. Every unit runs even when an earlier one
// fails; the returned error joins all failures.
func (r Runner) Run(ctx context.Context, c docker.Container, units []Unit) ([]Result, error) {
	env, err := r.Exec.ContainerEnv(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	gpu := lo.ContainsBy(env, func(kv string) bool { return strings.HasPrefix(kv, gpuEnvVar+"=") })

	log := logging.Get()
	results := make([]Result, 0, len(units))
	var errs []error
	for _, u := range units {
		if u.SkipOnGPU && gpu {
			log.Info().Str("unit", u.Name).Str("container", c.Name).Msg("skipping unit in GPU container")
			metrics.IncSmokeUnit(StatusSkipped)
			results = append(results, Result{Unit: u.Name, Status: StatusSkipped})
			continue
		}
		start := time.Now()
		res, err := r.Exec.Exec(ctx, c.ID, []string{"python", "-c", u.Script})
		if err != nil {
			return results, fmt.Errorf("run unit %s: %w", u.Name, err)
		}
		out := Result{Unit: u.Name, ExitCode: res.ExitCode, Output: res.Output, Duration: time.Since(start)}
		if res.ExitCode != 0 {
			out.Status = StatusFailed
			errs = append(errs, fmt.Errorf("%w: %s exited %d: %s", ErrUnitFailed, u.Name, res.ExitCode, strings.TrimSpace(res.Output)))
			log.Error().Str("unit", u.Name).Int("exit_code", res.ExitCode).Str("output", res.Output).Msg("unit failed")
		} else {
			out.Status = StatusPassed
			log.Info().Str("unit", u.Name).Dur("duration", out.Duration).Msg("unit passed")
		}
		metrics.IncSmokeUnit(out.Status)
		results = append(results, out)
	}
	return results, errors.Join(errs...)
}
