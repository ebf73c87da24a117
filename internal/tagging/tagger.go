package tagging

import (
	"context"
	"time"

	"github.com/stacktag/stacktag/internal/docker"
)

// CommandRunner executes a shell command inside a container and returns its
// trimmed output. A non-zero exit is an error matching docker.ErrCommandFailed.
type CommandRunner interface {
	RunSimpleCommand(ctx context.Context, c docker.Container, cmd string) (string, error)
	// RunQuietCommand behaves like RunSimpleCommand but does not log the result.
	RunQuietCommand(ctx context.Context, c docker.Container, cmd string) (string, error)
}

// CommitSource supplies the commit-hash tag of the repository being built.
type CommitSource interface {
	CommitHashTag(ctx context.Context) (string, error)
}

// Env carries the collaborators a tagger may consult.
type Env struct {
	Runner CommandRunner
	Commit CommitSource
	// Now defaults to time.Now.
	Now func() time.Time
}

func (e Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Tagger maps a running container to one tag.
type Tagger interface {
	Name() string
	TagValue(ctx context.Context, env Env, c docker.Container) (string, error)
}

type valueFunc func(ctx context.Context, env Env, c docker.Container) (string, error)

type strategy struct {
	name  string
	value valueFunc
}

func (s strategy) Name() string { return s.name }

func (s strategy) TagValue(ctx context.Context, env Env, c docker.Container) (string, error) {
	return s.value(ctx, env, c)
}
