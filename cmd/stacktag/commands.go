package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/stacktag/stacktag/internal/logging"
	"github.com/stacktag/stacktag/internal/matrix"
	"github.com/stacktag/stacktag/internal/pipeline"
	"github.com/stacktag/stacktag/internal/registry"
	"github.com/stacktag/stacktag/internal/tagging"
)

func matrixCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:  "matrix",
		Usage: "print the CI build matrix for a directory of *.dockerfile recipes",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dir", Usage: "directory holding the *.dockerfile files"},
			&cli.BoolFlag{Name: "github-output", Usage: "also append the line to $GITHUB_OUTPUT"},
		},
		Action: func(c *cli.Context) error {
			dir := a.cfg.Matrix.Dir
			if c.IsSet("dir") {
				dir = c.String("dir")
			}
			m, err := matrix.Generate(dir, matrix.Options{
				RunsOn:  a.cfg.Matrix.RunsOn,
				Exclude: matrix.ExclusionsFromMaps(a.cfg.Matrix.Exclude),
			})
			if err != nil {
				return err
			}
			line, err := m.Output()
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, line)
			if c.Bool("github-output") {
				return appendGitHubOutput(line)
			}
			return nil
		},
	}
}

// imageFlags are shared by tag and smoke
func imageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "image", Usage: "short image name, e.g. scipy-notebook", Required: true},
		&cli.StringFlag{Name: "source", Usage: "local image to probe (default <registry>/<owner>/<image>:latest)"},
		&cli.StringFlag{Name: "registry", Usage: "registry host of the published references"},
		&cli.StringFlag{Name: "owner", Usage: "registry namespace of the published references"},
		&cli.StringFlag{Name: "variant", Usage: "build variant used in the tags file name"},
		&cli.StringFlag{Name: "platform", Usage: "tag prefix, e.g. x86_64 or aarch64"},
		&cli.BoolFlag{Name: "pull", Usage: "pull the source image before probing it"},
	}
}

func (a *app) applyImageFlags(c *cli.Context) {
	for flag, dst := range map[string]*string{
		"registry": &a.cfg.Registry,
		"owner":    &a.cfg.Owner,
		"variant":  &a.cfg.Variant,
		"platform": &a.cfg.Platform,
	} {
		if c.IsSet(flag) {
			*dst = c.String(flag)
		}
	}
}

func (a *app) newPipeline(c *cli.Context) (*pipeline.Pipeline, error) {
	a.applyImageFlags(c)
	h, err := a.hierarchy()
	if err != nil {
		return nil, err
	}
	dc, err := a.newDocker(a.cfg)
	if err != nil {
		return nil, err
	}
	return pipeline.New(a.cfg, dc, a.newCommit(a.cfg), h), nil
}

func (a *app) finish(ctx context.Context, p *pipeline.Pipeline, image string) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	p.Close(wctx)
	a.exportMetrics(wctx, image)
}

func tagCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:  "tag",
		Usage: "derive the tags of an image, apply them locally and write the tags file",
		Flags: append(imageFlags(), &cli.BoolFlag{Name: "append", Usage: "merge into an existing tags file instead of replacing it"}),
		Action: func(c *cli.Context) error {
			p, err := a.newPipeline(c)
			if err != nil {
				return err
			}
			image := c.String("image")
			defer a.finish(c.Context, p, image)
			res, err := p.Tag(c.Context, pipeline.Request{
				ShortImage: image,
				Image:      c.String("source"),
				Pull:       c.Bool("pull"),
				Append:     c.Bool("append"),
			})
			if err != nil {
				return err
			}
			for _, ref := range res.Refs {
				fmt.Fprintln(a.out, ref)
			}
			return nil
		},
	}
}

func smokeCommand(a *app) *cli.Command {
	flags := append(imageFlags(), &cli.StringFlag{Name: "units-dir", Usage: "directory with extra unit_*.py files"})
	return &cli.Command{
		Name:  "smoke",
		Usage: "run the image's smoke units inside a probe container",
		Flags: flags,
		Action: func(c *cli.Context) error {
			p, err := a.newPipeline(c)
			if err != nil {
				return err
			}
			image := c.String("image")
			defer a.finish(c.Context, p, image)
			unitsDir := a.cfg.UnitsDir
			if c.IsSet("units-dir") {
				unitsDir = c.String("units-dir")
			}
			results, err := p.Smoke(c.Context, pipeline.SmokeRequest{ShortImage: image, Image: c.String("source"), UnitsDir: unitsDir, Pull: c.Bool("pull")})
			for _, r := range results {
				fmt.Fprintf(a.out, "%s\t%s\t%s\n", r.Unit, r.Status, r.Duration)
			}
			return err
		},
	}
}

func latestCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:  "latest",
		Usage: "print the highest published tag of an image with the given prefix",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "image", Usage: "repository, e.g. quay.io/jupyter/scipy-notebook", Required: true},
			&cli.StringFlag{Name: "prefix", Usage: "tag prefix, e.g. python-"},
			&cli.StringFlag{Name: "constraint", Usage: "optional version constraint, e.g. ~3.11"},
		},
		Action: func(c *cli.Context) error {
			ref, err := a.newResolver().Latest(c.Context, c.String("image"), registry.Query{
				Prefix:     c.String("prefix"),
				Constraint: c.String("constraint"),
			})
			if err != nil {
				return err
			}
			logging.Get().Debug().Str("ref", ref).Msg("resolved latest tag")
			fmt.Fprintln(a.out, ref)
			return nil
		},
	}
}

func taggersCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:  "taggers",
		Usage: "list registered taggers, or those applying to --image",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "image", Usage: "short image name to resolve through the hierarchy"},
		},
		Action: func(c *cli.Context) error {
			names := tagging.Names()
			if img := c.String("image"); img != "" {
				h, err := a.hierarchy()
				if err != nil {
					return err
				}
				if names, err = h.TaggersFor(img); err != nil {
					return err
				}
			}
			fmt.Fprintln(a.out, strings.Join(names, "\n"))
			return nil
		},
	}
}
