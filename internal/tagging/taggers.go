package tagging

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stacktag/stacktag/internal/docker"
	"github.com/stacktag/stacktag/internal/logging"
	"github.com/stacktag/stacktag/internal/metrics"
)

const (
	osReleaseCmd = "cat /etc/os-release"
	// sparkVersionLinePrefix is the start of the banner line that carries the
	// version in `spark-submit --version` output.
	sparkVersionLinePrefix = `   /___/ .__/\_,_/_/ /_/\_\   version`
)

func shaTag(ctx context.Context, env Env, _ docker.Container) (string, error) {
	if env.Commit == nil {
		return "", ErrNoCommitSource
	}
	return env.Commit.CommitHashTag(ctx)
}

func dateTag(_ context.Context, env Env, _ docker.Container) (string, error) {
	return env.now().UTC().Format("2006-01-02"), nil
}

func ubuntuVersionTag(ctx context.Context, env Env, c docker.Container) (string, error) {
	out, err := env.Runner.RunSimpleCommand(ctx, c, osReleaseCmd)
	if err != nil {
		return "", err
	}
	lines := strings.Split(out, "\n")
	for _, line := range lines {
		if !strings.HasPrefix(line, "VERSION_ID") {
			continue
		}
		if _, value, ok := strings.Cut(line, "="); ok {
			return "ubuntu-" + strings.Trim(value, `"`), nil
		}
	}
	return "", &ParseError{Cmd: osReleaseCmd, Want: "ubuntu version (VERSION_ID)", Scanned: fmt.Sprintf("%q", lines)}
}

func pythonVersionTag(ctx context.Context, env Env, c docker.Container) (string, error) {
	v, err := programVersionToken(ctx, env, c, "python", 1)
	if err != nil {
		return "", err
	}
	return "python-" + v, nil
}

// pythonMajorMinorVersionTag cuts the full python tag at its last dot:
// "python-3.11.4" becomes "python-3.11".
func pythonMajorMinorVersionTag(ctx context.Context, env Env, c docker.Container) (string, error) {
	full, err := pythonVersionTag(ctx, env, c)
	if err != nil {
		return "", err
	}
	i := strings.LastIndex(full, ".")
	if i < 0 {
		return "", &ParseError{Cmd: "python --version", Want: "a dotted version", Scanned: full}
	}
	return full[:i], nil
}

// prefixedProgramVersion tags with the whole `--version` output.
func prefixedProgramVersion(prefix, program string) valueFunc {
	return func(ctx context.Context, env Env, c docker.Container) (string, error) {
		v, err := programVersion(ctx, env, c, program)
		if err != nil {
			return "", err
		}
		return prefix + v, nil
	}
}

// prefixedVersionToken tags with one token of the `--version` output.
func prefixedVersionToken(prefix, program string, index int) valueFunc {
	return func(ctx context.Context, env Env, c docker.Container) (string, error) {
		v, err := programVersionToken(ctx, env, c, program, index)
		if err != nil {
			return "", err
		}
		return prefix + v, nil
	}
}

// tensorflowVersionTag queries the tensorflow package and, when that query
// fails or is malformed, retries once with tensorflow-cpu.
func tensorflowVersionTag(ctx context.Context, env Env, c docker.Container) (string, error) {
	v, err := pipPackageVersion(ctx, env, c, "tensorflow")
	if err != nil {
		if !errors.Is(err, ErrUnexpectedOutput) && !errors.Is(err, docker.ErrCommandFailed) {
			return "", err
		}
		logging.Get().Info().Err(err).Str("container", c.Name).Msg("tensorflow not found, trying tensorflow-cpu")
		metrics.IncTaggerFallback()
		v, err = pipPackageVersion(ctx, env, c, "tensorflow-cpu")
		if err != nil {
			return "", err
		}
	}
	return "tensorflow-" + v, nil
}

// pytorchVersionTag drops the local build label: "2.1.0+cpu" becomes "2.1.0".
func pytorchVersionTag(ctx context.Context, env Env, c docker.Container) (string, error) {
	v, err := pipPackageVersion(ctx, env, c, "torch")
	if err != nil {
		return "", err
	}
	v, _, _ = strings.Cut(v, "+")
	return "pytorch-" + v, nil
}

func sparkVersionTag(ctx context.Context, env Env, c docker.Container) (string, error) {
	out, err := programVersion(ctx, env, c, "spark-submit")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, sparkVersionLinePrefix) {
			parts := strings.Split(line, " ")
			return "spark-" + parts[len(parts)-1], nil
		}
	}
	return "", &ParseError{Cmd: "spark-submit --version", Want: "spark version banner line", Scanned: out}
}
