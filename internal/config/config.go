// Package config holds the blaze server configuration, loaded from an
// optional YAML file and then overridden by command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Delay     DelayConfig     `yaml:"delay"`
	Hydration HydrationConfig `yaml:"hydration"`
	Kernel    KernelConfig    `yaml:"kernel"`
	Storage   StorageConfig   `yaml:"storage"`
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Addr      string `yaml:"addr"`       // Listen address (default ":8080")
	LogLevel  string `yaml:"log_level"`  // Log level: debug, info, warn, error
	LogFormat string `yaml:"log_format"` // Log format: text, json, auto
	DBPath    string `yaml:"db_path"`    // SQLite database path (":memory:" for testing)
	TraceFile string `yaml:"trace_file"` // Span output file; empty disables tracing
}

// SchedulerConfig controls admission into the execution queue.
type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Capacity     int           `yaml:"capacity"`
	LobbyRatio   float64       `yaml:"lobby_ratio"`
	MinLobbyWait time.Duration `yaml:"min_lobby_wait"`
	ExecTimeout  time.Duration `yaml:"exec_timeout"`
}

// DelayConfig controls the adaptive estimate correction.
type DelayConfig struct {
	Smoothing     float64       `yaml:"smoothing"`
	MaxCorrection time.Duration `yaml:"max_correction"`
}

// HydrationConfig sizes the hydration worker pool.
type HydrationConfig struct {
	Workers      int           `yaml:"workers"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxBlockSize int64         `yaml:"max_block_size"` // Largest buffer one data message may allocate, in bytes
}

// KernelConfig selects the compute kernel and how its cost is estimated.
type KernelConfig struct {
	Platform       string        `yaml:"platform"`
	Name           string        `yaml:"name"` // echo or sum
	NumInputs      int           `yaml:"num_inputs"`
	BaseEstimate   time.Duration `yaml:"base_estimate"`
	PerMB          time.Duration `yaml:"per_mb"`
	EstimateScript string        `yaml:"estimate_script"`
	ThrottlePerMB  time.Duration `yaml:"throttle_per_mb"`
}

// StorageConfig configures remote storage access. The HDFS namenode
// itself is taken from HDFS_NAMENODE and HDFS_PORT.
type StorageConfig struct {
	HDFSUser string `yaml:"hdfs_user"`
}

// Kernel names.
const (
	KernelEcho = "echo"
	KernelSum  = "sum"
)

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:      ":8080",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// DefaultConfig returns sensible defaults for every section.
func DefaultConfig() Config {
	return Config{
		Server: DefaultServerConfig(),
		Scheduler: SchedulerConfig{
			PollInterval: 100 * time.Millisecond,
			Capacity:     16,
			LobbyRatio:   1.0,
			MinLobbyWait: 50 * time.Millisecond,
		},
		Delay: DelayConfig{
			Smoothing:     0.25,
			MaxCorrection: 10 * time.Second,
		},
		Hydration: HydrationConfig{
			Workers:      4,
			Timeout:      30 * time.Second,
			MaxBlockSize: 1 << 30,
		},
		Kernel: KernelConfig{
			Platform:     "local",
			Name:         KernelEcho,
			NumInputs:    2,
			BaseEstimate: time.Millisecond,
			PerMB:        5 * time.Millisecond,
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Addr != "", "server.addr must be set")
	check(c.Scheduler.PollInterval > 0, "scheduler.poll_interval must be positive, got %s", c.Scheduler.PollInterval)
	check(c.Scheduler.Capacity > 0, "scheduler.capacity must be positive, got %d", c.Scheduler.Capacity)
	check(c.Scheduler.LobbyRatio >= 0, "scheduler.lobby_ratio must not be negative, got %g", c.Scheduler.LobbyRatio)
	check(c.Scheduler.MinLobbyWait >= 0, "scheduler.min_lobby_wait must not be negative")
	check(c.Scheduler.ExecTimeout >= 0, "scheduler.exec_timeout must not be negative")
	check(c.Delay.Smoothing > 0 && c.Delay.Smoothing <= 1, "delay.smoothing must be in (0, 1], got %g", c.Delay.Smoothing)
	check(c.Delay.MaxCorrection >= 0, "delay.max_correction must not be negative")
	check(c.Hydration.Workers > 0, "hydration.workers must be positive, got %d", c.Hydration.Workers)
	check(c.Hydration.Timeout >= 0, "hydration.timeout must not be negative")
	check(c.Hydration.MaxBlockSize > 0, "hydration.max_block_size must be positive, got %d", c.Hydration.MaxBlockSize)
	check(c.Kernel.Platform != "", "kernel.platform must be set")
	check(c.Kernel.Name == KernelEcho || c.Kernel.Name == KernelSum, "kernel.name must be %q or %q, got %q", KernelEcho, KernelSum, c.Kernel.Name)
	check(c.Kernel.NumInputs >= 0, "kernel.num_inputs must not be negative, got %d", c.Kernel.NumInputs)

	return errors.Join(errs...)
}
