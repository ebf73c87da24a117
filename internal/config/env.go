package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides reads configuration values from environment variables and
// overrides fields in the provided Config. Returns an error if parsing fails.
//
// Environment variables supported:
// - STACKTAG_REGISTRY, STACKTAG_OWNER, STACKTAG_VARIANT, STACKTAG_PLATFORM
// - STACKTAG_TAGS_DIR, STACKTAG_HIERARCHY_FILE, STACKTAG_UNITS_DIR, STACKTAG_REPO_DIR
// - STACKTAG_EXEC_TIMEOUT (duration, e.g. "2m")
// - STACKTAG_MAX_CONCURRENT_PROBES (int)
// - STACKTAG_DRY_RUN (bool)
// - STACKTAG_MATRIX_RUNS_ON (comma separated runner labels)
// - STACKTAG_PUSHGATEWAY_URL, STACKTAG_INFLUX_URL, STACKTAG_INFLUX_TOKEN, ...
// - REPOSITORY_OWNER (CI fallback for STACKTAG_OWNER)
func ApplyEnvOverrides(cfg *Config) error {
	if err := applyBasicEnv(cfg); err != nil {
		return err
	}

	// Probe execution
	if err := applyProbeEnv(cfg); err != nil {
		return err
	}

	// Notifications
	applyNotificationEnv(cfg)

	// Metrics export
	applyMetricsEnv(cfg)

	applyLoggingEnv(cfg)
	return nil
}

// applyBasicEnv handles image naming, paths and the dry-run toggle
func applyBasicEnv(cfg *Config) error {
	if v := os.Getenv("REPOSITORY_OWNER"); v != "" {
		cfg.Owner = v
	}
	setStringEnv("STACKTAG_OWNER", &cfg.Owner)
	setStringEnv("STACKTAG_REGISTRY", &cfg.Registry)
	setStringEnv("STACKTAG_VARIANT", &cfg.Variant)
	setStringEnv("STACKTAG_PLATFORM", &cfg.Platform)
	setStringEnv("STACKTAG_PROBE_PLATFORM", &cfg.ProbePlatform)
	setStringEnv("STACKTAG_TAGS_DIR", &cfg.TagsDir)
	setStringEnv("STACKTAG_HIERARCHY_FILE", &cfg.HierarchyFile)
	setStringEnv("STACKTAG_UNITS_DIR", &cfg.UnitsDir)
	setStringEnv("STACKTAG_REPO_DIR", &cfg.RepoDir)
	setStringEnv("STACKTAG_MATRIX_DIR", &cfg.Matrix.Dir)
	if v := os.Getenv("STACKTAG_MATRIX_RUNS_ON"); v != "" {
		cfg.Matrix.RunsOn = splitList(v)
	}
	return setBoolEnv("STACKTAG_DRY_RUN", func(b bool) { cfg.DryRun = b })
}

func applyProbeEnv(cfg *Config) error {
	setStringEnv("STACKTAG_DOCKER_HOST", &cfg.DockerHost)
	setStringEnv("STACKTAG_PROBE_COMMAND", &cfg.ProbeCommand)
	setStringEnv("STACKTAG_REGISTRY_USER", &cfg.RegistryUser)
	setStringEnv("STACKTAG_REGISTRY_PASS", &cfg.RegistryPass)
	if v := os.Getenv("STACKTAG_EXEC_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid STACKTAG_EXEC_TIMEOUT: %w", err)
		}
		cfg.ExecTimeout = d
	}
	if v := os.Getenv("STACKTAG_MAX_CONCURRENT_PROBES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid STACKTAG_MAX_CONCURRENT_PROBES: %w", err)
		}
		cfg.MaxConcurrentProbes = n
	}
	return nil
}

func applyNotificationEnv(cfg *Config) {
	setStringEnv("STACKTAG_NOTIFICATION_LEVEL", &cfg.NotificationLevel)
	setStringEnv("STACKTAG_SLACK_WEBHOOK", &cfg.SlackWebhook)
	setStringEnv("STACKTAG_DISCORD_WEBHOOK", &cfg.DiscordWebhook)
	setStringEnv("STACKTAG_TEAMS_WEBHOOK", &cfg.TeamsWebhook)
	setStringEnv("STACKTAG_GENERIC_WEBHOOK_URL", &cfg.GenericWebhookURL)
}

func applyMetricsEnv(cfg *Config) {
	setStringEnv("STACKTAG_PUSHGATEWAY_URL", &cfg.PushgatewayURL)
	setStringEnv("STACKTAG_INFLUX_URL", &cfg.InfluxURL)
	setStringEnv("STACKTAG_INFLUX_TOKEN", &cfg.InfluxToken)
	setStringEnv("STACKTAG_INFLUX_ORG", &cfg.InfluxOrg)
	setStringEnv("STACKTAG_INFLUX_BUCKET", &cfg.InfluxBucket)
	setStringEnv("STACKTAG_METRICS_FILE", &cfg.MetricsFile)
}

func applyLoggingEnv(cfg *Config) {
	setStringEnv("STACKTAG_LOG_LEVEL", &cfg.LogLevel)
	setStringEnv("STACKTAG_LOG_FILE", &cfg.LogFile)
	setStringEnv("STACKTAG_LOG_FORMAT", &cfg.LogFormat)
}

func setStringEnv(env string, dst *string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// setBoolEnv is a small helper to parse boolean environment variables
func setBoolEnv(env string, setter func(bool)) error {
	if v := os.Getenv(env); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", env, err)
		}
		setter(b)
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
