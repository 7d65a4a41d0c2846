package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"courier/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if want := filepath.Join(tempHome, ".config", "courier", "config.toml"); resolved != want {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, want)
	}
	if want := filepath.Join(tempHome, ".local", "share", "courier"); cfg.Paths.StateDir != want {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, want)
	}
	if cfg.LockPath() != filepath.Join(cfg.Paths.StateDir, "courier.lock") {
		t.Fatalf("unexpected lock path: %q", cfg.LockPath())
	}
	if cfg.TickInterval() != 5*time.Second || cfg.StallThreshold() != 30*time.Second {
		t.Fatalf("unexpected liveness timings: tick=%s threshold=%s", cfg.TickInterval(), cfg.StallThreshold())
	}
	if cfg.Removal.SavedDelay != 5 || cfg.Removal.ExtractedDelay != 5 || cfg.Removal.FailedDelay != 10 || cfg.Removal.CanceledDelay != 5 {
		t.Fatalf("unexpected removal delays: %+v", cfg.Removal)
	}
	if !cfg.Journal.Enabled {
		t.Fatal("expected journal enabled by default")
	}
	if cfg.Logging.Format != "console" || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoadCustomPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.toml")

	payload := map[string]any{
		"paths":    map[string]any{"state_dir": filepath.Join(dir, "state")},
		"backend":  map[string]any{"rpc_url": "http://backend:9000/rpc", "events_url": "wss://backend:9000/events"},
		"liveness": map[string]any{"tick_interval": 2, "stall_threshold": 12},
		"logging":  map[string]any{"format": "JSON", "level": "Debug"},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected custom path to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Backend.RPCURL != "http://backend:9000/rpc" {
		t.Fatalf("unexpected rpc url: %q", cfg.Backend.RPCURL)
	}
	if cfg.StallThreshold() != 12*time.Second || cfg.TickInterval() != 2*time.Second {
		t.Fatalf("unexpected liveness timings: %+v", cfg.Liveness)
	}
	if cfg.Liveness.StallRemovalDelay != 5 {
		t.Fatalf("expected untouched stall removal default, got %d", cfg.Liveness.StallRemovalDelay)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("expected normalized logging, got %+v", cfg.Logging)
	}
}

func TestLoadEnvOverridesBackend(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	t.Setenv("COURIER_RPC_URL", "http://10.0.0.2:6810/rpc")
	t.Setenv("COURIER_EVENTS_URL", "ws://10.0.0.2:6810/events")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Backend.RPCURL != "http://10.0.0.2:6810/rpc" || cfg.Backend.EventsURL != "ws://10.0.0.2:6810/events" {
		t.Fatalf("env overrides not applied: %+v", cfg.Backend)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[liveness]\nstall_treshold = 10\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(path); err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Fatalf("expected parse error for unknown field, got %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"stall below tick", func(c *config.Config) { c.Liveness.StallThreshold = 5 }, "stall_threshold must be greater"},
		{"zero tick", func(c *config.Config) { c.Liveness.TickInterval = 0 }, "liveness.tick_interval must be positive"},
		{"negative failed delay", func(c *config.Config) { c.Removal.FailedDelay = -1 }, "removal.failed_delay must be positive"},
		{"rpc scheme", func(c *config.Config) { c.Backend.RPCURL = "ws://host/rpc" }, "backend.rpc_url"},
		{"events scheme", func(c *config.Config) { c.Backend.EventsURL = "http://host/events" }, "backend.events_url"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"log level", func(c *config.Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"ntfy scheme", func(c *config.Config) { c.Notifications.NtfyTopic = "ntfy.sh/alerts" }, "notifications.ntfy_topic"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config does not load: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}
	if cfg.Paths.APIBind != config.Default().Paths.APIBind {
		t.Fatalf("sample api bind drifted from defaults: %q", cfg.Paths.APIBind)
	}
}
