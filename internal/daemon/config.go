// Package daemon manages the Sentinel daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration.
type Config struct {
	Project   ProjectConfig   `toml:"project"`
	API       APIConfig       `toml:"api"`
	Observer  ObserverConfig  `toml:"observer"`
	Drift     DriftConfig     `toml:"drift"`
	Breaker   BreakerConfig   `toml:"breaker"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// ProjectConfig identifies the observed project and its deploy context.
// Enabled is the engine kill switch: when false every emit call is a no-op.
type ProjectConfig struct {
	ID          string `toml:"id"`
	Enabled     bool   `toml:"enabled"`
	Framework   string `toml:"framework"`
	AppVersion  string `toml:"app_version"`
	ProductName string `toml:"product_name"`
	Environment string `toml:"environment"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// ObserverConfig controls the event queue and worker.
type ObserverConfig struct {
	QueueCapacity int    `toml:"queue_capacity"`
	PollInterval  string `toml:"poll_interval"`
	FlushTimeout  string `toml:"flush_timeout"`
	SweepInterval string `toml:"sweep_interval"`
}

// DriftConfig exposes the detection thresholds.
type DriftConfig struct {
	DurationDelta   float64 `toml:"duration_delta"`
	OscillationRate float64 `toml:"oscillation_rate"`
	WindowSize      int     `toml:"window_size"`
	RemovedAfter    string  `toml:"removed_after"`
}

// BreakerConfig controls the store circuit breaker.
type BreakerConfig struct {
	FailureThreshold int    `toml:"failure_threshold"`
	RecoveryTimeout  string `toml:"recovery_timeout"`
}

// TelemetryConfig controls the metrics endpoint.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Project: ProjectConfig{
			ID:        "default",
			Enabled:   true,
			Framework: "playwright",
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 7466,
		},
		Observer: ObserverConfig{
			QueueCapacity: 1000,
			PollInterval:  "250ms",
			FlushTimeout:  "5s",
			SweepInterval: "1h",
		},
		Drift: DriftConfig{
			DurationDelta:   0.5,
			OscillationRate: 0.3,
			WindowSize:      10,
			RemovedAfter:    "168h",
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  "30s",
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
	}
}

// LoadConfig reads config from $SENTINEL_HOME/config.toml, falling back to
// defaults, then applies SENTINEL_* environment overrides.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(sentinelHome(), "config.toml")

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// SaveConfig writes the config to $SENTINEL_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(sentinelHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// applyEnvOverrides lets deployment environments tune the daemon without
// touching the config file.
func applyEnvOverrides(cfg *Config) {
	cfg.Project.ID = envStr("SENTINEL_PROJECT_ID", cfg.Project.ID)
	cfg.Project.Enabled = envBool("SENTINEL_ENABLED", cfg.Project.Enabled)
	cfg.Project.Framework = envStr("SENTINEL_FRAMEWORK", cfg.Project.Framework)
	cfg.Project.AppVersion = envStr("SENTINEL_APP_VERSION", cfg.Project.AppVersion)
	cfg.Project.ProductName = envStr("SENTINEL_PRODUCT_NAME", cfg.Project.ProductName)
	cfg.Project.Environment = envStr("SENTINEL_ENVIRONMENT", cfg.Project.Environment)
	cfg.API.Host = envStr("SENTINEL_API_HOST", cfg.API.Host)
	cfg.API.Port = envInt("SENTINEL_API_PORT", cfg.API.Port)
	cfg.Observer.QueueCapacity = envInt("SENTINEL_QUEUE_CAPACITY", cfg.Observer.QueueCapacity)
	cfg.Drift.DurationDelta = envFloat("SENTINEL_DRIFT_DURATION_DELTA", cfg.Drift.DurationDelta)
	cfg.Drift.OscillationRate = envFloat("SENTINEL_DRIFT_OSCILLATION_RATE", cfg.Drift.OscillationRate)
	cfg.Drift.WindowSize = envInt("SENTINEL_DRIFT_WINDOW_SIZE", cfg.Drift.WindowSize)
	cfg.Telemetry.Prometheus = envBool("SENTINEL_PROMETHEUS", cfg.Telemetry.Prometheus)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// sentinelHome returns the Sentinel data directory.
func sentinelHome() string {
	if env := os.Getenv("SENTINEL_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".sentinel")
}

// SentinelHome is exported for use by other packages.
func SentinelHome() string {
	return sentinelHome()
}
