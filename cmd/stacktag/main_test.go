package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stacktag/stacktag/internal/config"
	"github.com/stacktag/stacktag/internal/docker"
	"github.com/stacktag/stacktag/internal/registry"
	"github.com/stacktag/stacktag/internal/tagging"
)

type fakeDocker struct {
	outputs map[string]string
	tagged  []string
	removed int
}

func (f *fakeDocker) StartProbe(_ context.Context, image string) (docker.Container, error) {
	return docker.Container{ID: "cid", Name: "probe", Image: image}, nil
}
func (f *fakeDocker) RemoveContainer(context.Context, string) error { f.removed++; return nil }
func (f *fakeDocker) Exec(context.Context, string, []string) (docker.ExecResult, error) {
	return docker.ExecResult{}, nil
}
func (f *fakeDocker) RunSimpleCommand(_ context.Context, _ docker.Container, cmd string) (string, error) {
	if out, ok := f.outputs[cmd]; ok {
		return out, nil
	}
	return "", &docker.CommandError{Cmd: cmd, ExitCode: 1}
}
func (f *fakeDocker) RunQuietCommand(ctx context.Context, c docker.Container, cmd string) (string, error) {
	return f.RunSimpleCommand(ctx, c, cmd)
}
func (f *fakeDocker) ContainerEnv(context.Context, string) ([]string, error) { return nil, nil }
func (f *fakeDocker) TagImage(_ context.Context, _, target string) error {
	f.tagged = append(f.tagged, target)
	return nil
}
func (f *fakeDocker) PullImage(context.Context, string) (string, string, error) { return "", "", nil }

type fakeResolver struct{ got registry.Query }

func (r *fakeResolver) Latest(_ context.Context, image string, q registry.Query) (string, error) {
	r.got = q
	return image + ":" + q.Prefix + "3.11.6", nil
}

type fixedCommit string

func (c fixedCommit) CommitHashTag(context.Context) (string, error) { return string(c), nil }

func testDeps(fd *fakeDocker, res *fakeResolver) (*deps, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return &deps{
		out:         out,
		newDocker:   func(*config.Config) (docker.Client, error) { return fd, nil },
		newResolver: func() latestResolver { return res },
		newCommit:   func(*config.Config) tagging.CommitSource { return fixedCommit("abcdefabcdef") },
	}, out
}

func run(t *testing.T, d *deps, args ...string) error {
	t.Helper()
	return newApp(d).RunContext(context.Background(), append([]string{"stacktag"}, args...))
}

func TestMatrixCommand(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"b.dockerfile", "a.dockerfile"} {
		if err := os.WriteFile(filepath.Join(dir, n), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	outFile := filepath.Join(t.TempDir(), "gh_output")
	t.Setenv("REPOSITORY_OWNER", "jupyter")
	t.Setenv("GITHUB_OUTPUT", outFile)
	d, out := testDeps(&fakeDocker{}, nil)
	if err := run(t, d, "matrix", "--dir", dir, "--github-output"); err != nil {
		t.Fatalf("matrix: %v", err)
	}
	if !strings.HasPrefix(out.String(), `matrix={"dockerfile":["a.dockerfile","b.dockerfile"],"runs-on":`) {
		t.Fatalf("unexpected output %q", out.String())
	}
	written, err := os.ReadFile(outFile)
	if err != nil || string(written) != out.String() {
		t.Fatalf("GITHUB_OUTPUT mismatch: %q, %v", written, err)
	}
}

func TestMatrixCommandRequiresOwner(t *testing.T) {
	t.Setenv("REPOSITORY_OWNER", "")
	d, _ := testDeps(&fakeDocker{}, nil)
	if err := run(t, d, "matrix", "--dir", t.TempDir()); err == nil {
		t.Fatal("expected error without REPOSITORY_OWNER")
	}
}

func TestTagCommandDryRun(t *testing.T) {
	t.Setenv("STACKTAG_TAGS_DIR", t.TempDir())
	fd := &fakeDocker{outputs: map[string]string{
		"cat /etc/os-release": "VERSION_ID=\"24.04\"",
		"python --version":    "Python 3.12.4",
	}}
	d, out := testDeps(fd, nil)
	err := run(t, d, "--dry-run", "tag", "--image", "docker-stacks-foundation", "--registry", "ghcr.io", "--owner", "acme", "--platform", "x86_64")
	if err != nil {
		t.Fatalf("tag: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected 5 references, got %q", lines)
	}
	if lines[0] != "ghcr.io/acme/docker-stacks-foundation:x86_64-abcdefabcdef" {
		t.Fatalf("unexpected first reference %q", lines[0])
	}
	if lines[4] != "ghcr.io/acme/docker-stacks-foundation:x86_64-python-3.12.4" {
		t.Fatalf("unexpected last reference %q", lines[4])
	}
	if len(fd.tagged) != 0 || fd.removed != 1 {
		t.Fatalf("dry run tagged %v, removed %d", fd.tagged, fd.removed)
	}
}

func TestTagCommandAppendAndMetricsFile(t *testing.T) {
	tagsDir := t.TempDir()
	t.Setenv("STACKTAG_TAGS_DIR", tagsDir)
	metricsPath := filepath.Join(t.TempDir(), "stacktag.json")
	fd := &fakeDocker{outputs: map[string]string{
		"cat /etc/os-release": "VERSION_ID=\"24.04\"",
		"python --version":    "Python 3.12.4",
	}}
	for _, platform := range []string{"x86_64", "aarch64"} {
		d, _ := testDeps(fd, nil)
		err := run(t, d, "--dry-run", "--metrics-file", metricsPath, "tag", "--image", "docker-stacks-foundation", "--platform", platform, "--append")
		if err != nil {
			t.Fatalf("tag %s: %v", platform, err)
		}
	}
	b, err := os.ReadFile(filepath.Join(tagsDir, "default-docker-stacks-foundation.txt"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 10 || !strings.Contains(lines[0], ":x86_64-") || !strings.Contains(lines[9], ":aarch64-") {
		t.Fatalf("expected both platforms appended, got %q", lines)
	}
	snap, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("metrics file not written: %v", err)
	}
	if !strings.Contains(string(snap), `"taggers_succeeded"`) {
		t.Fatalf("unexpected metrics file %s", snap)
	}
}

func TestTagCommandPropagatesTaggerError(t *testing.T) {
	t.Setenv("STACKTAG_TAGS_DIR", t.TempDir())
	d, _ := testDeps(&fakeDocker{}, nil)
	err := run(t, d, "tag", "--image", "base-notebook")
	if !errors.Is(err, docker.ErrCommandFailed) {
		t.Fatalf("expected command failure, got %v", err)
	}
}

func TestLatestCommand(t *testing.T) {
	res := &fakeResolver{}
	d, out := testDeps(&fakeDocker{}, res)
	if err := run(t, d, "latest", "--image", "quay.io/jupyter/scipy-notebook", "--prefix", "python-"); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != "quay.io/jupyter/scipy-notebook:python-3.11.6" || res.got.Prefix != "python-" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestTaggersCommand(t *testing.T) {
	d, out := testDeps(&fakeDocker{}, nil)
	if err := run(t, d, "taggers"); err != nil {
		t.Fatal(err)
	}
	if got := strings.Split(strings.TrimSpace(out.String()), "\n"); len(got) != len(tagging.Names()) {
		t.Fatalf("expected every tagger listed, got %v", got)
	}

	out.Reset()
	if err := run(t, d, "taggers", "--image", "pyspark-notebook"); err != nil {
		t.Fatal(err)
	}
	got := strings.Split(strings.TrimSpace(out.String()), "\n")
	if got[0] != "sha" || got[len(got)-1] != "java-version" {
		t.Fatalf("unexpected resolved taggers %v", got)
	}
}

func TestBadConfigFile(t *testing.T) {
	d, _ := testDeps(&fakeDocker{}, nil)
	if err := run(t, d, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "taggers"); err == nil {
		t.Fatal("expected config load error")
	}
}
