package docker

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/docker/docker/api/types"
	containertypes "github.com/docker/docker/api/types/container"
	imageapi "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/stacktag/stacktag/internal/logging"
)

const (
	maxNameLen          = 64
	execPollInterval    = 100 * time.Millisecond
	defaultExecTimeout  = 5 * time.Minute
	ProbeLabel          = "stacktag.probe"
	DefaultProbeCommand = "sleep infinity"
)

var disallowedNameChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// sanitizeName returns a Docker-safe container name: disallowed characters
// removed, lowercased, starting with an alphanumeric character and at most
// maxNameLen long. An empty result falls back to "probe".
func sanitizeName(name string) string {
	clean := disallowedNameChars.ReplaceAllString(strings.ToLower(name), "")
	if clean == "" {
		return "probe"
	}
	if len(clean) > maxNameLen {
		clean = clean[:maxNameLen]
	}
	r := rune(clean[0])
	if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
		clean = "c" + clean
		if len(clean) > maxNameLen {
			clean = clean[:maxNameLen]
		}
	}
	return clean
}

// probeName builds the name of a probe container for image, e.g.
// "stacktag-base-notebook-1a2b3c4d".
func probeName(image string) string {
	base := image
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.Index(base, ":"); i >= 0 {
		base = base[:i]
	}
	suffix := "-" + uuid.NewString()[:8]
	name := sanitizeName("stacktag-" + base)
	if len(name)+len(suffix) > maxNameLen {
		name = name[:maxNameLen-len(suffix)]
	}
	return name + suffix
}

// Client is the interface the taggers, smoke runner and pipeline use for
// Docker operations.
type Client interface {
	// StartProbe creates and starts a long-lived container from image that
	// commands can be executed in. The caller must remove it.
	StartProbe(ctx context.Context, image string) (Container, error)
	RemoveContainer(ctx context.Context, containerID string) error
	// Exec runs argv inside the container and captures its output and exit code.
	Exec(ctx context.Context, containerID string, argv []string) (ExecResult, error)
	// RunSimpleCommand runs cmd through `sh -c`, requires exit code 0 and
	// returns the combined output with trailing whitespace removed.
	RunSimpleCommand(ctx context.Context, c Container, cmd string) (string, error)
	// RunQuietCommand is RunSimpleCommand without logging the result.
	RunQuietCommand(ctx context.Context, c Container, cmd string) (string, error)
	ContainerEnv(ctx context.Context, containerID string) ([]string, error)
	TagImage(ctx context.Context, source, target string) error
	// PullImage pulls the image and returns its ID and first repo digest.
	PullImage(ctx context.Context, image string) (string, string, error)
}

// Options configures the SDK-backed client.
type Options struct {
	// Host overrides DOCKER_HOST; empty means FromEnv.
	Host         string
	ExecTimeout  time.Duration
	ProbeCommand string
	// Platform is an optional "os/arch" used when creating probe containers.
	Platform     string
	RegistryUser string
	RegistryPass string
}

// dockerAPI is the subset of the official SDK client used by sdkClient
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *containertypes.Config, hostConfig *containertypes.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (containertypes.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options containertypes.StartOptions) error
	ContainerRemove(ctx context.Context, containerID string, options containertypes.RemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerExecCreate(ctx context.Context, container string, options containertypes.ExecOptions) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, options containertypes.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (containertypes.ExecInspect, error)
	ImagePull(ctx context.Context, refStr string, options imageapi.PullOptions) (io.ReadCloser, error)
	ImageInspectWithRaw(ctx context.Context, image string) (types.ImageInspect, []byte, error)
	ImageTag(ctx context.Context, source, target string) error
}

// sdkClient is the production implementation using the official Docker SDK
type sdkClient struct {
	cli          dockerAPI
	registryAuth string
	execTimeout  time.Duration
	probeCommand []string
	platform     *ocispec.Platform
}

// NewClient returns an SDK-backed Docker client configured by opts.
func NewClient(opts Options) (Client, error) {
	clientOpts := []client.Opt{client.WithAPIVersionNegotiation()}
	if opts.Host != "" {
		clientOpts = append(clientOpts, client.WithHost(opts.Host))
	} else {
		clientOpts = append(clientOpts, client.FromEnv)
	}
	c, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, err
	}
	return newSDKClient(c, opts)
}

func newSDKClient(api dockerAPI, opts Options) (*sdkClient, error) {
	s := &sdkClient{cli: api, execTimeout: opts.ExecTimeout}
	if s.execTimeout <= 0 {
		s.execTimeout = defaultExecTimeout
	}
	probeCmd := opts.ProbeCommand
	if probeCmd == "" {
		probeCmd = DefaultProbeCommand
	}
	s.probeCommand = strings.Fields(probeCmd)
	if opts.Platform != "" {
		p, err := parsePlatform(opts.Platform)
		if err != nil {
			return nil, err
		}
		s.platform = p
	}
	if opts.RegistryUser != "" || opts.RegistryPass != "" {
		auth, err := registry.EncodeAuthConfig(registry.AuthConfig{Username: opts.RegistryUser, Password: opts.RegistryPass})
		if err != nil {
			return nil, fmt.Errorf("encode registry auth: %w", err)
		}
		s.registryAuth = auth
	}
	return s, nil
}

// parsePlatform accepts "os/arch" or "os/arch/variant".
func parsePlatform(s string) (*ocispec.Platform, error) {
	parts := strings.Split(s, "/")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid platform %q (expected os/arch[/variant])", s)
	}
	p := &ocispec.Platform{OS: parts[0], Architecture: parts[1]}
	if len(parts) == 3 {
		p.Variant = parts[2]
	}
	return p, nil
}

func (s *sdkClient) StartProbe(ctx context.Context, image string) (Container, error) {
	name := probeName(image)
	labels := map[string]string{ProbeLabel: "true"}
	cfg := &containertypes.Config{Image: image, Cmd: s.probeCommand, Tty: true, Labels: labels}
	resp, err := s.cli.ContainerCreate(ctx, cfg, &containertypes.HostConfig{}, nil, s.platform, name)
	if err != nil {
		return Container{}, fmt.Errorf("create probe container for %s: %w", image, err)
	}
	if err := s.cli.ContainerStart(ctx, resp.ID, containertypes.StartOptions{}); err != nil {
		_ = s.RemoveContainer(ctx, resp.ID)
		return Container{}, fmt.Errorf("start probe container for %s: %w", image, err)
	}
	logging.Get().Info().Str("image", image).Str("container", name).Msg("probe container started")
	return Container{ID: resp.ID, Name: name, Image: image, Labels: labels}, nil
}

func (s *sdkClient) RemoveContainer(ctx context.Context, containerID string) error {
	if err := s.cli.ContainerRemove(ctx, containerID, containertypes.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("remove container %s: %w", containerID, err)
	}
	logging.Get().Debug().Str("container", containerID).Msg("container removed")
	return nil
}

func (s *sdkClient) RunSimpleCommand(ctx context.Context, c Container, cmd string) (string, error) {
	return s.runCommand(ctx, c, cmd, true)
}

func (s *sdkClient) RunQuietCommand(ctx context.Context, c Container, cmd string) (string, error) {
	return s.runCommand(ctx, c, cmd, false)
}

func (s *sdkClient) runCommand(ctx context.Context, c Container, cmd string, printResult bool) (string, error) {
	logging.Get().Info().Str("cmd", cmd).Str("container", c.Name).Msg("running command")
	res, err := s.Exec(ctx, c.ID, []string{"sh", "-c", cmd})
	if err != nil {
		return "", err
	}
	out := strings.TrimRightFunc(res.Output, unicode.IsSpace)
	if res.ExitCode != 0 {
		return "", &CommandError{Cmd: cmd, ExitCode: res.ExitCode, Output: out}
	}
	if printResult {
		logging.Get().Debug().Str("cmd", cmd).Str("result", out).Msg("command result")
	}
	return out, nil
}

func (s *sdkClient) ContainerEnv(ctx context.Context, containerID string) ([]string, error) {
	insp, err := s.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("inspect container %s: %w", containerID, err)
	}
	if insp.Config == nil {
		return nil, nil
	}
	return insp.Config.Env, nil
}

func (s *sdkClient) TagImage(ctx context.Context, source, target string) error {
	if err := s.cli.ImageTag(ctx, source, target); err != nil {
		return fmt.Errorf("tag %s as %s: %w", source, target, err)
	}
	logging.Get().Info().Str("image", source).Str("tag", target).Msg("applied tag")
	return nil
}

func (s *sdkClient) PullImage(ctx context.Context, img string) (string, string, error) {
	logging.Get().Info().Str("image", img).Msg("pulling image")
	opts := imageapi.PullOptions{}
	if s.registryAuth != "" {
		opts.RegistryAuth = s.registryAuth
	}
	rc, err := s.cli.ImagePull(ctx, img, opts)
	if err != nil {
		return "", "", fmt.Errorf("image pull %s: %w", img, err)
	}
	defer rc.Close()
	// the pull only completes once the progress stream is drained
	_, _ = io.Copy(io.Discard, rc)
	inspected, _, err := s.cli.ImageInspectWithRaw(ctx, img)
	if err != nil {
		return "", "", fmt.Errorf("inspect image %s: %w", img, err)
	}
	repoDigest := ""
	if len(inspected.RepoDigests) > 0 {
		repoDigest = inspected.RepoDigests[0]
	}
	logging.Get().Info().Str("image", img).Str("id", inspected.ID).Str("digest", repoDigest).Msg("pulled image")
	return inspected.ID, repoDigest, nil
}
