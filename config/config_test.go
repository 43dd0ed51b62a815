package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Addr != "127.0.0.1:9876" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Executor.DefaultTimeout != 30*time.Second {
		t.Errorf("DefaultTimeout = %v", cfg.Executor.DefaultTimeout)
	}
	if cfg.Dispatcher.QueueSize != 64 {
		t.Errorf("QueueSize = %d", cfg.Dispatcher.QueueSize)
	}
	if !cfg.RateLimiter.PerCommand {
		t.Error("rate limiter should be per-command by default")
	}
}

func TestProfiles(t *testing.T) {
	dev := DevelopmentConfig()
	if dev.Telemetry.Environment != "development" {
		t.Errorf("dev environment = %q", dev.Telemetry.Environment)
	}
	if !dev.Audit.IncludeOutput {
		t.Error("development should log output")
	}

	prod := ProductionConfig()
	if prod.Telemetry.Environment != "production" {
		t.Errorf("prod environment = %q", prod.Telemetry.Environment)
	}
	if prod.Executor.MaxSteps == 0 {
		t.Error("production should cap interpreter steps")
	}
	if prod.Audit.IncludeOutput {
		t.Error("production should not log output")
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  addr: "127.0.0.1:7000"
  max_clients: 4
executor:
  default_timeout: 10s
  max_steps: 1000000
dispatcher:
  queue_size: 8
macro_dir: /tmp/macros
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:7000" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.MaxClients != 4 {
		t.Errorf("MaxClients = %d", cfg.Server.MaxClients)
	}
	if cfg.Executor.DefaultTimeout != 10*time.Second {
		t.Errorf("DefaultTimeout = %v", cfg.Executor.DefaultTimeout)
	}
	if cfg.Executor.MaxSteps != 1000000 {
		t.Errorf("MaxSteps = %d", cfg.Executor.MaxSteps)
	}
	if cfg.Dispatcher.QueueSize != 8 {
		t.Errorf("QueueSize = %d", cfg.Dispatcher.QueueSize)
	}
	if cfg.MacroDir != "/tmp/macros" {
		t.Errorf("MacroDir = %q", cfg.MacroDir)
	}

	// Untouched settings keep their defaults.
	if cfg.Server.MaxFrameSize != 4*1024*1024 {
		t.Errorf("MaxFrameSize = %d", cfg.Server.MaxFrameSize)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("loading a missing file should fail")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a mapping"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("invalid YAML should fail")
	}
}

func TestValidate_NormalizesZeroValues(t *testing.T) {
	cfg := Config{}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr == "" || cfg.Server.MaxFrameSize <= 0 || cfg.Server.MaxClients <= 0 {
		t.Errorf("server config not normalized: %+v", cfg.Server)
	}
	if cfg.Executor.DefaultTimeout <= 0 {
		t.Errorf("executor config not normalized: %+v", cfg.Executor)
	}
	if cfg.Dispatcher.QueueSize <= 0 || cfg.Dispatcher.WaitTimeout <= 0 {
		t.Errorf("dispatcher config not normalized: %+v", cfg.Dispatcher)
	}
}
