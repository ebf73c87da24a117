// Package pipeline drives a tagging or smoke run for one image: it starts a
// probe container, runs the image's taggers or units in it, applies and
// records the results, and reports the outcome.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	"golang.org/x/sync/errgroup"

	"github.com/stacktag/stacktag/internal/config"
	"github.com/stacktag/stacktag/internal/docker"
	"github.com/stacktag/stacktag/internal/hierarchy"
	"github.com/stacktag/stacktag/internal/logging"
	"github.com/stacktag/stacktag/internal/metrics"
	"github.com/stacktag/stacktag/internal/notify"
	"github.com/stacktag/stacktag/internal/tagfile"
	"github.com/stacktag/stacktag/internal/tagging"
)

// cleanupTimeout bounds probe removal, which runs even after ctx is cancelled.
const cleanupTimeout = 30 * time.Second

// Pipeline tags and smoke-tests images of one family.
type Pipeline struct {
	cfg      *config.Config
	docker   docker.Client
	commit   tagging.CommitSource
	hier     hierarchy.Hierarchy
	store    tagfile.Store
	notifier *notify.MultiNotifier
	Now      func() time.Time // injectable clock for testing
}

// New creates a pipeline. commit may be nil when no image uses the sha tagger.
func New(cfg *config.Config, cli docker.Client, commit tagging.CommitSource, h hierarchy.Hierarchy) *Pipeline {
	p := &Pipeline{
		cfg:    cfg,
		docker: cli,
		commit: commit,
		hier:   h,
		store:  tagfile.Store{Dir: cfg.TagsDir, Variant: cfg.Variant},
		notifier: notify.FromEndpoints(notify.Endpoints{
			Slack:   cfg.SlackWebhook,
			Discord: cfg.DiscordWebhook,
			Teams:   cfg.TeamsWebhook,
			Generic: cfg.GenericWebhookURL,
		}),
		Now: time.Now,
	}
	for _, w := range cfg.Validate() {
		logging.Get().Warn().Str("warning", w).Msg("config validation")
	}
	return p
}

// Request names the image to tag.
type Request struct {
	// ShortImage is the family member, e.g. "scipy-notebook".
	ShortImage string
	// Image is the local image to probe and tag. Empty means
	// <registry>/<owner>/<ShortImage>:latest.
	Image string
	// Pull fetches Image before probing it.
	Pull bool
	// Append merges the refs into an existing tags file instead of
	// replacing it, for multi-platform runs sharing one file.
	Append bool
}

// Result lists what a tagging run produced.
type Result struct {
	Image string
	// Tags are the tag values in hierarchy order, platform prefix included.
	Tags []string
	// Refs are the full references <registry>/<owner>/<image>:<tag>.
	Refs    []string
	Applied bool
}

func (p *Pipeline) repository(short string) string {
	repo := short
	if p.cfg.Owner != "" {
		repo = p.cfg.Owner + "/" + repo
	}
	if p.cfg.Registry != "" {
		repo = p.cfg.Registry + "/" + repo
	}
	return repo
}

func (p *Pipeline) sourceImage(req Request) string {
	if req.Image != "" {
		return req.Image
	}
	return p.repository(req.ShortImage) + ":latest"
}

// Tag derives every tag of the image, applies them locally unless running
// dry, and writes the tags file. Any tagger failure aborts the run before
// anything is applied.
func (p *Pipeline) Tag(ctx context.Context, req Request) (res Result, err error) {
	start := p.Now()
	defer func() {
		metrics.SetLastRun(p.Now())
		p.report(ctx, notify.Report{Action: "tag", Image: req.ShortImage, Items: res.Refs, Err: err, Duration: p.Now().Sub(start)})
	}()

	names, err := p.hier.TaggersFor(req.ShortImage)
	if err != nil {
		return Result{}, err
	}
	taggers, err := tagging.LookupAll(names)
	if err != nil {
		return Result{}, err
	}
	source := p.sourceImage(req)
	log := logging.Get().With().Str("image", source).Logger()
	log.Info().Strs("taggers", names).Msg("deriving tags")

	if err := p.pull(ctx, source, req.Pull); err != nil {
		return Result{}, err
	}
	values, err := p.withProbe(ctx, source, func(c docker.Container) ([]string, error) {
		return p.runTaggers(ctx, c, taggers)
	})
	if err != nil {
		return Result{}, err
	}

	res = Result{Image: source, Tags: p.prefixed(values)}
	if res.Refs, err = p.references(req.ShortImage, res.Tags); err != nil {
		return Result{}, err
	}

	if p.cfg.DryRun {
		log.Info().Strs("refs", res.Refs).Msg("dry-run: not applying tags")
	} else {
		for _, ref := range res.Refs {
			if err := p.docker.TagImage(ctx, source, ref); err != nil {
				return res, err
			}
		}
		res.Applied = true
		metrics.AddImagesTagged(1)
	}
	write := p.store.Write
	if req.Append {
		write = p.store.Append
	}
	if err := write(req.ShortImage, res.Refs); err != nil {
		return res, err
	}
	log.Info().Str("file", p.store.Path(req.ShortImage)).Int("count", len(res.Refs)).Msg("tags file written")
	return res, nil
}

// runTaggers evaluates taggers concurrently, bounded by MaxConcurrentProbes.
// Values keep the taggers' order.
func (p *Pipeline) runTaggers(ctx context.Context, c docker.Container, taggers []tagging.Tagger) ([]string, error) {
	env := tagging.Env{Runner: p.docker, Commit: p.commit, Now: p.Now}
	values := make([]string, len(taggers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.cfg.MaxConcurrentProbes, 1))
	for i, t := range taggers {
		g.Go(func() error {
			v, err := t.TagValue(gctx, env, c)
			if err != nil {
				metrics.IncTaggerFailure(t.Name())
				return fmt.Errorf("tagger %s: %w", t.Name(), err)
			}
			metrics.IncTaggerSuccess(t.Name())
			logging.Get().Debug().Str("tagger", t.Name()).Str("value", v).Msg("tag derived")
			values[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return values, nil
}

func (p *Pipeline) prefixed(values []string) []string {
	if p.cfg.Platform == "" {
		return values
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = p.cfg.Platform + "-" + v
	}
	return out
}

// references builds and validates the full image reference for each tag.
func (p *Pipeline) references(short string, tags []string) ([]string, error) {
	repo := p.repository(short)
	refs := make([]string, 0, len(tags))
	for _, t := range tags {
		ref := repo + ":" + t
		if _, err := name.NewTag(ref); err != nil {
			return nil, fmt.Errorf("invalid image reference %q: %w", ref, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (p *Pipeline) pull(ctx context.Context, image string, enabled bool) error {
	if !enabled {
		return nil
	}
	id, digest, err := p.docker.PullImage(ctx, image)
	if err != nil {
		return err
	}
	logging.Get().Debug().Str("image", image).Str("id", id).Str("digest", digest).Msg("source image ready")
	return nil
}

// withProbe runs fn against a fresh probe container of image and removes the
// container afterwards, even when ctx has been cancelled.
func (p *Pipeline) withProbe(ctx context.Context, image string, fn func(docker.Container) ([]string, error)) ([]string, error) {
	c, err := p.docker.StartProbe(ctx, image)
	if err != nil {
		return nil, err
	}
	defer p.removeProbe(ctx, c)
	return fn(c)
}

// report sends a notification if the configured level allows it
func (p *Pipeline) report(ctx context.Context, r notify.Report) {
	if p.notifier == nil || p.notifier.Len() == 0 {
		return
	}
	if !notify.ShouldNotify(p.cfg.NotificationLevel, r.Failed()) {
		return
	}
	p.notifier.Send(context.WithoutCancel(ctx), r.Title(), r.Message())
}

// Close waits for pending notifications, bounded by ctx.
func (p *Pipeline) Close(ctx context.Context) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Wait(ctx); err != nil {
		logging.Get().Warn().Err(err).Msg("timed out waiting for notifiers to finish")
	}
}
