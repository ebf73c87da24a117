// Package git reads commit metadata of the repository the images are built from.
package git

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommitTagLen is the number of hash characters used in commit tags.
const CommitTagLen = 12

// ErrBadHash is returned when git reports something that is not a commit hash.
var ErrBadHash = errors.New("unexpected commit hash")

// Helper runs git against the repository at Dir (empty means the working
// directory).
type Helper struct {
	Dir string
	// run is swapped in tests
	run func(ctx context.Context, dir string, args ...string) (string, error)
}

// NewHelper returns a Helper for the repository at dir.
func NewHelper(dir string) *Helper {
	return &Helper{Dir: dir, run: runGit}
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// CommitHash returns the full hash of HEAD.
func (h *Helper) CommitHash(ctx context.Context) (string, error) {
	run := h.run
	if run == nil {
		run = runGit
	}
	hash, err := run(ctx, h.Dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	if len(hash) < CommitTagLen || strings.Trim(hash, "0123456789abcdef") != "" {
		return "", fmt.Errorf("%w: %q", ErrBadHash, hash)
	}
	return hash, nil
}

// CommitHashTag returns the first CommitTagLen characters of HEAD's hash.
func (h *Helper) CommitHashTag(ctx context.Context) (string, error) {
	hash, err := h.CommitHash(ctx)
	if err != nil {
		return "", err
	}
	return hash[:CommitTagLen], nil
}
