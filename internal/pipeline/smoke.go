package pipeline

import (
	"context"
	"fmt"

	"github.com/stacktag/stacktag/internal/docker"
	"github.com/stacktag/stacktag/internal/logging"
	"github.com/stacktag/stacktag/internal/notify"
	"github.com/stacktag/stacktag/internal/smoke"
)

// SmokeRequest names the image to smoke-test. UnitsDir adds unit_*.py files
// to the image's built-in units.
type SmokeRequest struct {
	ShortImage string
	Image      string
	UnitsDir   string
	Pull       bool
}

// Units returns the built-in units of the image followed by those in UnitsDir.
func (p *Pipeline) Units(req SmokeRequest) ([]smoke.Unit, error) {
	units, err := smoke.BuiltinUnits(req.ShortImage)
	if err != nil {
		return nil, err
	}
	if req.UnitsDir != "" {
		extra, err := smoke.LoadUnits(req.UnitsDir)
		if err != nil {
			return nil, err
		}
		units = append(units, extra...)
	}
	return units, nil
}

// Smoke runs the image's units in a probe container.
func (p *Pipeline) Smoke(ctx context.Context, req SmokeRequest) (results []smoke.Result, err error) {
	start := p.Now()
	defer func() {
		items := make([]string, len(results))
		for i, r := range results {
			items[i] = fmt.Sprintf("%s: %s", r.Unit, r.Status)
		}
		p.report(ctx, notify.Report{Action: "smoke", Image: req.ShortImage, Items: items, Err: err, Duration: p.Now().Sub(start)})
	}()

	units, err := p.Units(req)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		logging.Get().Info().Str("image", req.ShortImage).Msg("no smoke units for image")
		return nil, nil
	}
	image := p.sourceImage(Request{ShortImage: req.ShortImage, Image: req.Image})
	if err := p.pull(ctx, image, req.Pull); err != nil {
		return nil, err
	}
	c, err := p.docker.StartProbe(ctx, image)
	if err != nil {
		return nil, err
	}
	defer p.removeProbe(ctx, c)
	return smoke.Runner{Exec: p.docker}.Run(ctx, c, units)
}

func (p *Pipeline) removeProbe(ctx context.Context, c docker.Container) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := p.docker.RemoveContainer(cctx, c.ID); err != nil {
		logging.Get().Warn().Err(err).Str("container", c.Name).Msg("failed to remove probe container")
	}
}
