package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig_Valid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blaze.yaml")
	yaml := `
server:
  addr: ":9090"
  db_path: /var/lib/blaze/blaze.db
scheduler:
  capacity: 4
  min_lobby_wait: 200ms
delay:
  smoothing: 0.5
kernel:
  name: sum
  estimate_script: "1 + bytes / 1048576"
storage:
  hdfs_user: hadoop
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Server.DBPath != "/var/lib/blaze/blaze.db" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("unset field lost its default: log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Scheduler.Capacity != 4 || cfg.Scheduler.MinLobbyWait != 200*time.Millisecond {
		t.Errorf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Scheduler.PollInterval != 100*time.Millisecond {
		t.Errorf("poll_interval = %s", cfg.Scheduler.PollInterval)
	}
	if cfg.Delay.Smoothing != 0.5 {
		t.Errorf("smoothing = %g", cfg.Delay.Smoothing)
	}
	if cfg.Kernel.Name != KernelSum || cfg.Kernel.EstimateScript == "" {
		t.Errorf("kernel = %+v", cfg.Kernel)
	}
	if cfg.Storage.HDFSUser != "hadoop" {
		t.Errorf("hdfs_user = %q", cfg.Storage.HDFSUser)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("scheduler: [unclosed"), 0o644)
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate_AggregatesErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scheduler.Capacity = 0
	cfg.Delay.Smoothing = 2
	cfg.Hydration.Workers = -1
	cfg.Hydration.MaxBlockSize = 0
	cfg.Kernel.Name = "fft"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"scheduler.capacity", "delay.smoothing", "hydration.workers", "hydration.max_block_size", "kernel.name"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}
