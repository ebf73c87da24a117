package pipeline

import (
	"context"
	"errors"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stacktag/stacktag/internal/config"
	"github.com/stacktag/stacktag/internal/docker"
	"github.com/stacktag/stacktag/internal/hierarchy"
	"github.com/stacktag/stacktag/internal/metrics"
	"github.com/stacktag/stacktag/internal/notify"
)

// fakeDocker answers probe commands from a table and records side effects
type fakeDocker struct {
	mu       sync.Mutex
	outputs  map[string]string
	env      []string
	exec     map[string]docker.ExecResult
	startErr error
	pullErr  error
	pulled   []string
	started  []string
	removed  []string
	tagged   []string
}

func (f *fakeDocker) StartProbe(_ context.Context, image string) (docker.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return docker.Container{}, f.startErr
	}
	f.started = append(f.started, image)
	return docker.Container{ID: "cid", Name: "stacktag-probe", Image: image}, nil
}

func (f *fakeDocker) RemoveContainer(ctx context.Context, id string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeDocker) Exec(_ context.Context, _ string, argv []string) (docker.ExecResult, error) {
	return f.exec[argv[len(argv)-1]], nil
}

func (f *fakeDocker) RunSimpleCommand(_ context.Context, _ docker.Container, cmd string) (string, error) {
	if out, ok := f.outputs[cmd]; ok {
		return out, nil
	}
	return "", &docker.CommandError{Cmd: cmd, ExitCode: 127, Output: "not found"}
}

func (f *fakeDocker) RunQuietCommand(ctx context.Context, c docker.Container, cmd string) (string, error) {
	return f.RunSimpleCommand(ctx, c, cmd)
}

func (f *fakeDocker) ContainerEnv(context.Context, string) ([]string, error) { return f.env, nil }

func (f *fakeDocker) TagImage(_ context.Context, _, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tagged = append(f.tagged, target)
	return nil
}

func (f *fakeDocker) PullImage(_ context.Context, image string) (string, string, error) {
	f.pulled = append(f.pulled, image)
	if f.pullErr != nil {
		return "", "", f.pullErr
	}
	return "sha256:abc", image + "@sha256:def", nil
}

type fixedCommit string

func (c fixedCommit) CommitHashTag(context.Context) (string, error) { return string(c), nil }

type recorder struct {
	mu     sync.Mutex
	titles []string
}

func (r *recorder) Name() string { return "recorder" }
func (r *recorder) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return nil
}

const testHierarchy = `
root: {taggers: [sha, date, python-version]}
leaf: {parent: root, taggers: [julia-version]}
`

func newTestPipeline(t *testing.T, fd *fakeDocker) (*Pipeline, *config.Config, *recorder) {
	t.Helper()
	h, err := hierarchy.Parse([]byte(testHierarchy))
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	cfg.TagsDir = t.TempDir()
	cfg.NotificationLevel = notify.LevelAll
	p := New(cfg, fd, fixedCommit("0123456789ab"), h)
	p.Now = func() time.Time { return time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC) }
	rec := &recorder{}
	p.notifier = notify.NewMultiNotifier()
	p.notifier.Add(rec)
	return p, cfg, rec
}

func happyDocker() *fakeDocker {
	return &fakeDocker{outputs: map[string]string{
		"python --version": "Python 3.11.6",
		"julia --version":  "julia version 1.10.2",
	}}
}

func waitNotify(t *testing.T, p *Pipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.Close(ctx)
}

func TestTagAppliesTagsInHierarchyOrder(t *testing.T) {
	fd := happyDocker()
	p, cfg, rec := newTestPipeline(t, fd)
	res, err := p.Tag(context.Background(), Request{ShortImage: "leaf"})
	if err != nil {
		t.Fatalf("Tag: %v", err)
	}
	wantTags := []string{"0123456789ab", "2024-05-06", "python-3.11.6", "julia-1.10.2"}
	if !reflect.DeepEqual(res.Tags, wantTags) {
		t.Fatalf("tags: got %v want %v", res.Tags, wantTags)
	}
	wantRefs := []string{
		"quay.io/jupyter/leaf:0123456789ab",
		"quay.io/jupyter/leaf:2024-05-06",
		"quay.io/jupyter/leaf:python-3.11.6",
		"quay.io/jupyter/leaf:julia-1.10.2",
	}
	if !reflect.DeepEqual(res.Refs, wantRefs) || !reflect.DeepEqual(fd.tagged, wantRefs) {
		t.Fatalf("refs: got %v tagged %v", res.Refs, fd.tagged)
	}
	if !res.Applied || res.Image != "quay.io/jupyter/leaf:latest" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(fd.started) != 1 || len(fd.removed) != 1 {
		t.Fatalf("probe lifecycle: started %v removed %v", fd.started, fd.removed)
	}
	b, err := os.ReadFile(p.store.Path("leaf"))
	if err != nil {
		t.Fatalf("tags file: %v", err)
	}
	if string(b) != strings.Join(wantRefs, "\n")+"\n" {
		t.Fatalf("unexpected tags file %q", b)
	}
	if !strings.HasSuffix(p.store.Path("leaf"), cfg.Variant+"-leaf.txt") {
		t.Fatalf("unexpected tags file path %s", p.store.Path("leaf"))
	}
	waitNotify(t, p)
	if len(rec.titles) != 1 || rec.titles[0] != "tag leaf succeeded" {
		t.Fatalf("unexpected notifications %v", rec.titles)
	}
}

func TestTagDryRunWithPlatform(t *testing.T) {
	fd := happyDocker()
	p, cfg, _ := newTestPipeline(t, fd)
	cfg.DryRun = true
	cfg.Platform = "aarch64"
	res, err := p.Tag(context.Background(), Request{ShortImage: "root", Image: "local/root:dev"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied || len(fd.tagged) != 0 {
		t.Fatalf("dry run must not tag, tagged %v", fd.tagged)
	}
	if res.Tags[2] != "aarch64-python-3.11.6" || res.Refs[0] != "quay.io/jupyter/root:aarch64-0123456789ab" {
		t.Fatalf("platform prefix missing: %v", res.Refs)
	}
	if fd.started[0] != "local/root:dev" {
		t.Fatalf("explicit image should be probed, got %v", fd.started)
	}
	if _, err := os.Stat(p.store.Path("root")); err != nil {
		t.Fatalf("tags file should be written in dry run: %v", err)
	}
}

func TestTagAppendMergesPlatforms(t *testing.T) {
	fd := happyDocker()
	p, cfg, _ := newTestPipeline(t, fd)
	cfg.Platform = "x86_64"
	if _, err := p.Tag(context.Background(), Request{ShortImage: "root"}); err != nil {
		t.Fatal(err)
	}
	cfg.Platform = "aarch64"
	if _, err := p.Tag(context.Background(), Request{ShortImage: "root", Append: true}); err != nil {
		t.Fatal(err)
	}
	refs, err := p.store.Read("root")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 6 || refs[0] != "quay.io/jupyter/root:x86_64-0123456789ab" || refs[3] != "quay.io/jupyter/root:aarch64-0123456789ab" {
		t.Fatalf("expected both platforms in tags file, got %v", refs)
	}

	if _, err := p.Tag(context.Background(), Request{ShortImage: "root"}); err != nil {
		t.Fatal(err)
	}
	if refs, _ = p.store.Read("root"); len(refs) != 3 {
		t.Fatalf("a run without append should replace the file, got %v", refs)
	}
}

func TestTagCountsOneImage(t *testing.T) {
	fd := happyDocker()
	p, _, _ := newTestPipeline(t, fd)
	before := metrics.GetSnapshot().ImagesTagged
	res, err := p.Tag(context.Background(), Request{ShortImage: "leaf"})
	if err != nil {
		t.Fatal(err)
	}
	if got := metrics.GetSnapshot().ImagesTagged - before; got != 1 || len(res.Refs) != 4 {
		t.Fatalf("expected one image counted for %d refs, got %d", len(res.Refs), got)
	}
}

func TestTagFailureAbortsAndCleansUp(t *testing.T) {
	fd := &fakeDocker{outputs: map[string]string{"python --version": "Python 3.11.6"}}
	p, _, rec := newTestPipeline(t, fd)
	p.cfg.NotificationLevel = notify.LevelFailure
	_, err := p.Tag(context.Background(), Request{ShortImage: "leaf"})
	if !errors.Is(err, docker.ErrCommandFailed) || !strings.Contains(err.Error(), "julia-version") {
		t.Fatalf("expected julia tagger failure, got %v", err)
	}
	if len(fd.tagged) != 0 {
		t.Fatalf("nothing may be applied on failure, tagged %v", fd.tagged)
	}
	if len(fd.removed) != 1 {
		t.Fatal("probe container must be removed on failure")
	}
	if _, statErr := os.Stat(p.store.Path("leaf")); !os.IsNotExist(statErr) {
		t.Fatal("tags file must not be written on failure")
	}
	waitNotify(t, p)
	if len(rec.titles) != 1 || rec.titles[0] != "tag leaf failed" {
		t.Fatalf("expected failure notification, got %v", rec.titles)
	}
}

func TestTagRemovesProbeAfterCancel(t *testing.T) {
	fd := happyDocker()
	p, _, _ := newTestPipeline(t, fd)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _ = p.Tag(ctx, Request{ShortImage: "root"})
	if len(fd.removed) != 1 {
		t.Fatalf("probe must be removed with a detached context, removed %v", fd.removed)
	}
}

func TestTagUnknownImage(t *testing.T) {
	fd := happyDocker()
	p, _, _ := newTestPipeline(t, fd)
	if _, err := p.Tag(context.Background(), Request{ShortImage: "ghost"}); !errors.Is(err, hierarchy.ErrUnknownImage) {
		t.Fatalf("expected ErrUnknownImage, got %v", err)
	}
	if len(fd.started) != 0 {
		t.Fatal("no probe should start for an unknown image")
	}
}

func TestTagRejectsInvalidReference(t *testing.T) {
	fd := happyDocker()
	p, cfg, _ := newTestPipeline(t, fd)
	cfg.Owner = "Not Valid"
	if _, err := p.Tag(context.Background(), Request{ShortImage: "root"}); err == nil || !strings.Contains(err.Error(), "invalid image reference") {
		t.Fatalf("expected reference validation error, got %v", err)
	}
	if len(fd.tagged) != 0 {
		t.Fatal("invalid references must not be applied")
	}
}

func TestSmoke(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(dir+"/unit_extra.py", []byte("print('extra')"), 0o644); err != nil {
		t.Fatal(err)
	}
	fd := &fakeDocker{
		env:  []string{"NVIDIA_VISIBLE_DEVICES=all"},
		exec: map[string]docker.ExecResult{"print('extra')": {ExitCode: 0, Output: "extra\n"}},
	}
	p, _, rec := newTestPipeline(t, fd)
	results, err := p.Smoke(context.Background(), SmokeRequest{ShortImage: "tensorflow-notebook", UnitsDir: dir})
	if err != nil {
		t.Fatalf("Smoke: %v", err)
	}
	if len(results) != 2 || results[0].Status != "skipped" || results[1].Status != "passed" {
		t.Fatalf("unexpected results %+v", results)
	}
	if len(fd.removed) != 1 {
		t.Fatal("probe container must be removed")
	}
	waitNotify(t, p)
	if len(rec.titles) != 1 || rec.titles[0] != "smoke tensorflow-notebook succeeded" {
		t.Fatalf("unexpected notifications %v", rec.titles)
	}
}

func TestSmokeWithoutUnits(t *testing.T) {
	fd := happyDocker()
	p, _, _ := newTestPipeline(t, fd)
	results, err := p.Smoke(context.Background(), SmokeRequest{ShortImage: "minimal-notebook"})
	if err != nil || results != nil {
		t.Fatalf("expected nothing to run, got %v, %v", results, err)
	}
	if len(fd.started) != 0 {
		t.Fatal("no probe should start without units")
	}
}

func TestTagPullsWhenAsked(t *testing.T) {
	fd := happyDocker()
	p, _, _ := newTestPipeline(t, fd)
	if _, err := p.Tag(context.Background(), Request{ShortImage: "root"}); err != nil {
		t.Fatal(err)
	}
	if len(fd.pulled) != 0 {
		t.Fatalf("no pull expected by default, got %v", fd.pulled)
	}
	if _, err := p.Tag(context.Background(), Request{ShortImage: "root", Pull: true}); err != nil {
		t.Fatal(err)
	}
	if len(fd.pulled) != 1 || fd.pulled[0] != "quay.io/jupyter/root:latest" {
		t.Fatalf("unexpected pulls %v", fd.pulled)
	}

	fd.pullErr = errors.New("manifest unknown")
	started := len(fd.started)
	if _, err := p.Tag(context.Background(), Request{ShortImage: "root", Pull: true}); !errors.Is(err, fd.pullErr) {
		t.Fatalf("expected pull error, got %v", err)
	}
	if len(fd.started) != started {
		t.Fatal("no probe may start after a failed pull")
	}
}
