package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/stacktag/stacktag/internal/config"
	"github.com/stacktag/stacktag/internal/docker"
	"github.com/stacktag/stacktag/internal/git"
	"github.com/stacktag/stacktag/internal/hierarchy"
	"github.com/stacktag/stacktag/internal/logging"
	"github.com/stacktag/stacktag/internal/metrics"
	"github.com/stacktag/stacktag/internal/registry"
	"github.com/stacktag/stacktag/internal/tagging"
)

// notifyTimeout bounds the wait for pending notifications on exit.
const notifyTimeout = 5 * time.Second

type latestResolver interface {
	Latest(ctx context.Context, image string, q registry.Query) (string, error)
}

// deps are the collaborators commands build on. Tests replace them.
type deps struct {
	out         io.Writer
	newDocker   func(cfg *config.Config) (docker.Client, error)
	newResolver func() latestResolver
	newCommit   func(cfg *config.Config) tagging.CommitSource
}

func defaultDeps(out io.Writer) *deps {
	return &deps{
		out:         out,
		newDocker:   createDockerClient,
		newResolver: func() latestResolver { return registry.NewResolver() },
		newCommit:   func(cfg *config.Config) tagging.CommitSource { return git.NewHelper(cfg.RepoDir) },
	}
}

func createDockerClient(cfg *config.Config) (docker.Client, error) {
	cli, err := docker.NewClient(docker.Options{
		Host:         cfg.DockerHost,
		ExecTimeout:  cfg.ExecTimeout,
		ProbeCommand: cfg.ProbeCommand,
		Platform:     cfg.ProbePlatform,
		RegistryUser: cfg.RegistryUser,
		RegistryPass: cfg.RegistryPass,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return cli, nil
}

// app holds the state shared by commands of one invocation
type app struct {
	*deps
	cfg     *config.Config
	cleanup func()
}

func newApp(d *deps) *cli.App {
	a := &app{deps: d}
	return &cli.App{
		Name:   "stacktag",
		Usage:  "derive, apply and record tags for Jupyter Docker stack images",
		Writer: d.out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a YAML config file", EnvVars: []string{"STACKTAG_CONFIG"}},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: "log-file", Usage: "also append JSON logs to this file"},
			&cli.StringFlag{Name: "log-format", Usage: "json or console"},
			&cli.BoolFlag{Name: "dry-run", Usage: "derive tags without applying them"},
			&cli.StringFlag{Name: "metrics-file", Usage: "write metrics here at exit (.prom for text format, JSON otherwise)"},
		},
		Before: a.before,
		After: func(*cli.Context) error {
			if a.cleanup != nil {
				a.cleanup()
			}
			return nil
		},
		Commands: []*cli.Command{
			matrixCommand(a),
			tagCommand(a),
			smokeCommand(a),
			latestCommand(a),
			taggersCommand(a),
		},
	}
}

// before resolves config (defaults < file < env < flags) and starts logging
func (a *app) before(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed loading config: %w", err)
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("log-file") {
		cfg.LogFile = c.String("log-file")
	}
	if c.IsSet("log-format") {
		cfg.LogFormat = c.String("log-format")
	}
	if c.IsSet("metrics-file") {
		cfg.MetricsFile = c.String("metrics-file")
	}
	if c.Bool("dry-run") {
		cfg.DryRun = true
	}
	cleanup, err := logging.Init(cfg.LogFile, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.cfg, a.cleanup = cfg, cleanup
	return nil
}

func (a *app) hierarchy() (hierarchy.Hierarchy, error) {
	h, err := hierarchy.Load(a.cfg.HierarchyFile)
	if err != nil {
		return nil, err
	}
	if err := h.Validate(tagging.Has); err != nil {
		return nil, err
	}
	return h, nil
}

// exportMetrics pushes the run's metrics to the configured sinks. Failures
// are logged, never fatal.
func (a *app) exportMetrics(ctx context.Context, image string) {
	log := logging.Get()
	if a.cfg.PushgatewayURL != "" {
		if err := metrics.PushGateway(ctx, a.cfg.PushgatewayURL, "stacktag", image); err != nil {
			log.Warn().Err(err).Msg("pushgateway export failed")
		}
	}
	if a.cfg.InfluxURL != "" {
		t := metrics.InfluxTarget{URL: a.cfg.InfluxURL, Token: a.cfg.InfluxToken, Org: a.cfg.InfluxOrg, Bucket: a.cfg.InfluxBucket}
		if err := metrics.PushInflux(ctx, t, time.Now()); err != nil {
			log.Warn().Err(err).Msg("influx export failed")
		}
	}
	if a.cfg.MetricsFile != "" {
		if err := metrics.WriteFile(a.cfg.MetricsFile); err != nil {
			log.Warn().Err(err).Str("file", a.cfg.MetricsFile).Msg("metrics file export failed")
		}
	}
}

func appendGitHubOutput(line string) error {
	path := os.Getenv("GITHUB_OUTPUT")
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, werr := fmt.Fprintln(f, line)
	return errors.Join(werr, f.Close())
}
