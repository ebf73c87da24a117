package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MatrixConfig controls the generated CI build matrix.
type MatrixConfig struct {
	// Dir holds the *.dockerfile recipes
	Dir     string              `json:"dir" yaml:"dir"`
	RunsOn  []string            `json:"runs_on" yaml:"runs_on"`
	Exclude []map[string]string `json:"exclude" yaml:"exclude"`
}

// Config holds runtime configuration for stacktag
type Config struct {
	// Image naming: <registry>/<owner>/<image>:<tag>
	Registry string `json:"registry" yaml:"registry"`
	Owner    string `json:"owner" yaml:"owner"`
	// Variant names the build flavour (e.g. "default", "cuda") in tags file names
	Variant string `json:"variant" yaml:"variant"`
	// Platform prefixes every tag (e.g. "x86_64" gives "x86_64-python-3.11")
	Platform string `json:"platform" yaml:"platform"`
	// ProbePlatform is the "os/arch" probe containers are created with
	ProbePlatform string `json:"probe_platform" yaml:"probe_platform"`

	TagsDir       string `json:"tags_dir" yaml:"tags_dir"`
	HierarchyFile string `json:"hierarchy_file" yaml:"hierarchy_file"`
	UnitsDir      string `json:"units_dir" yaml:"units_dir"`
	RepoDir       string `json:"repo_dir" yaml:"repo_dir"`

	// Probe execution
	DockerHost          string        `json:"docker_host" yaml:"docker_host"`
	ExecTimeout         time.Duration `json:"exec_timeout" yaml:"exec_timeout"`
	ProbeCommand        string        `json:"probe_command" yaml:"probe_command"`
	MaxConcurrentProbes int           `json:"max_concurrent_probes" yaml:"max_concurrent_probes"`

	// Dry-run: derive tags but do not apply them to the image
	DryRun bool `json:"dry_run" yaml:"dry_run"`

	RegistryUser string `json:"registry_user" yaml:"registry_user"`
	RegistryPass string `json:"registry_pass" yaml:"registry_pass"`

	Matrix MatrixConfig `json:"matrix" yaml:"matrix"`

	// Metrics export at the end of a run
	PushgatewayURL string `json:"pushgateway_url" yaml:"pushgateway_url"`
	InfluxURL      string `json:"influx_url" yaml:"influx_url"`
	InfluxToken    string `json:"influx_token" yaml:"influx_token"`
	InfluxOrg      string `json:"influx_org" yaml:"influx_org"`
	InfluxBucket   string `json:"influx_bucket" yaml:"influx_bucket"`
	// MetricsFile receives a metrics dump at exit: Prometheus text format
	// for a .prom suffix, JSON otherwise.
	MetricsFile string `json:"metrics_file" yaml:"metrics_file"`

	// Notifications
	NotificationLevel string `json:"notification_level" yaml:"notification_level"` // "all", "failure", "none"
	SlackWebhook      string `json:"slack_webhook" yaml:"slack_webhook"`
	DiscordWebhook    string `json:"discord_webhook" yaml:"discord_webhook"`
	TeamsWebhook      string `json:"teams_webhook" yaml:"teams_webhook"`
	GenericWebhookURL string `json:"generic_webhook_url" yaml:"generic_webhook_url"`

	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFile   string `json:"log_file" yaml:"log_file"`
	LogFormat string `json:"log_format" yaml:"log_format"`
}

// DefaultConfig returns a sane default configuration
func DefaultConfig() *Config {
	return &Config{
		Registry:            "quay.io",
		Owner:               "jupyter",
		Variant:             "default",
		TagsDir:             "/tmp/jupyter/tags",
		ExecTimeout:         5 * time.Minute,
		ProbeCommand:        "sleep infinity",
		MaxConcurrentProbes: 4,
		Matrix: MatrixConfig{
			Dir:    ".",
			RunsOn: []string{"ubuntu-24.04", "ubuntu-22.04-arm"},
			Exclude: []map[string]string{
				{"dockerfile": "oracledb.dockerfile", "runs-on": "ubuntu-22.04-arm"},
			},
		},
		NotificationLevel: "failure",
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// Validate returns a list of non-fatal configuration warnings.
func (c *Config) Validate() []string {
	var warnings []string
	checks := []struct {
		cond bool
		msg  string
	}{
		{c.Registry == "", "registry is empty; tags will use the Docker Hub default"},
		{c.Owner == "", "owner is empty; image references will have no namespace"},
		{c.MaxConcurrentProbes < 1, "max_concurrent_probes below 1; taggers will run sequentially"},
		{c.ExecTimeout <= 0, "exec_timeout not positive; the client default applies"},
		{c.InfluxURL != "" && c.InfluxBucket == "", "influx URL provided but bucket is missing"},
		{c.InfluxBucket != "" && c.InfluxURL == "", "influx bucket provided but URL is missing"},
		{len(c.Matrix.RunsOn) == 0, "matrix runs_on is empty"},
	}
	for _, ch := range checks {
		if ch.cond {
			warnings = append(warnings, ch.msg)
		}
	}
	switch c.NotificationLevel {
	case "all", "failure", "none":
	default:
		warnings = append(warnings, fmt.Sprintf("invalid notification_level %q (expected all, failure or none)", c.NotificationLevel))
	}
	return warnings
}

// LoadConfigFromFile loads config from a YAML/JSON file over the defaults
func LoadConfigFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files (default ".env") into
// the process environment. Missing files are ignored and existing variables
// are never overwritten.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load resolves the configuration from defaults, an optional file and the
// environment, in increasing precedence.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if path != "" {
		c, err := LoadConfigFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = c
	}
	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
