package tagging

import (
	"context"
	"fmt"
	"strings"

	"github.com/stacktag/stacktag/internal/docker"
)

const pipVersionPrefix = "Version: "

func programVersion(ctx context.Context, env Env, c docker.Container, program string) (string, error) {
	return env.Runner.RunSimpleCommand(ctx, c, program+" --version")
}

// programVersionToken runs `<program> --version` and returns the whitespace
// delimited token at index. The index is specific to each program's banner.
func programVersionToken(ctx context.Context, env Env, c docker.Container, program string, index int) (string, error) {
	out, err := programVersion(ctx, env, c, program)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(out)
	if index >= len(fields) {
		return "", &ParseError{Cmd: program + " --version", Want: fmt.Sprintf("version token %d", index), Scanned: out}
	}
	return fields[index], nil
}

// pipPackageVersion reads the version of an installed pip package. `pip show`
// prints "Name: ..." first and "Version: ..." on the second line.
func pipPackageVersion(ctx context.Context, env Env, c docker.Container, pkg string) (string, error) {
	cmd := "pip show " + pkg
	info, err := env.Runner.RunQuietCommand(ctx, c, cmd)
	if err != nil {
		return "", err
	}
	lines := strings.Split(info, "\n")
	if len(lines) < 2 || !strings.HasPrefix(lines[1], pipVersionPrefix) {
		return "", &ParseError{Cmd: cmd, Want: fmt.Sprintf("%q on line 2", pipVersionPrefix), Scanned: info}
	}
	return strings.TrimPrefix(lines[1], pipVersionPrefix), nil
}
