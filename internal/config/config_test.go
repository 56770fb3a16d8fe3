package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Pool.Strategy != "round_robin" {
		t.Errorf("default strategy = %q, want round_robin", cfg.Pool.Strategy)
	}
	if cfg.Pool.CooldownSeconds != 60 {
		t.Errorf("default cooldown = %d, want 60", cfg.Pool.CooldownSeconds)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
pool:
  strategy: hybrid
  min_health: 50
model_aliases:
  gpt-4o: gemini-3-flash
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("host default not applied, got %q", cfg.Server.Host)
	}
	if cfg.Pool.Strategy != "hybrid" {
		t.Errorf("strategy = %q, want hybrid", cfg.Pool.Strategy)
	}
	if cfg.Pool.MinHealth != 50 {
		t.Errorf("min_health = %v, want 50", cfg.Pool.MinHealth)
	}
	if cfg.ModelAliases["gpt-4o"] != "gemini-3-flash" {
		t.Errorf("model alias not loaded: %v", cfg.ModelAliases)
	}
	// Unset pool fields still get defaults.
	if cfg.Pool.BucketSize != 60 {
		t.Errorf("bucket_size default = %v, want 60", cfg.Pool.BucketSize)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("HOST", "0.0.0.0")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr() != "0.0.0.0:7070" {
		t.Errorf("Addr() = %q, want 0.0.0.0:7070", cfg.Addr())
	}
}
