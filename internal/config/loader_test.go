package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Limits.MaxFixAttempts != 5 || cfg.Limits.WorkerConcurrency != 4 {
		t.Errorf("default limits = %+v", cfg.Limits)
	}
	if len(cfg.Routing["code_generation"]) == 0 {
		t.Error("default routing has no code_generation providers")
	}
	if _, ok := cfg.Providers["claude"]; !ok {
		t.Error("default providers missing claude")
	}
}

func TestLoadMergePrecedence(t *testing.T) {
	dir := t.TempDir()
	global := writeConfig(t, dir, "global.json", `{
		"limits": {"max_fix_attempts": 10, "worker_concurrency": 8},
		"routing": {"planning": ["openai"]}
	}`)
	proj := writeConfig(t, dir, "project.json", `{
		"limits": {"max_fix_attempts": 2},
		"db_path": "maker.db"
	}`)

	cfg, err := Load(global, proj)
	if err != nil {
		t.Fatal(err)
	}

	// Project overrides global, global overrides defaults.
	if cfg.Limits.MaxFixAttempts != 2 {
		t.Errorf("MaxFixAttempts = %d, want 2 from project config", cfg.Limits.MaxFixAttempts)
	}
	if cfg.Limits.WorkerConcurrency != 8 {
		t.Errorf("WorkerConcurrency = %d, want 8 from global config", cfg.Limits.WorkerConcurrency)
	}
	// Unset knobs keep their defaults.
	if cfg.Limits.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want default 3", cfg.Limits.MaxRetries)
	}
	if got := cfg.Routing["planning"]; len(got) != 1 || got[0] != "openai" {
		t.Errorf("planning route = %v, want [openai]", got)
	}
	// Roles the file doesn't mention keep the default table.
	if len(cfg.Routing["debugging"]) == 0 {
		t.Error("debugging route lost during merge")
	}
	if cfg.DBPath != "maker.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
}

func TestLoadMissingFilesAreSkipped(t *testing.T) {
	cfg, err := Load("/nonexistent/global.json", "/nonexistent/project.json")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Limits.MaxFixAttempts != 5 {
		t.Errorf("missing files changed defaults: %+v", cfg.Limits)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	bad := writeConfig(t, dir, "bad.json", `{"limits":`)
	if _, err := Load(bad, ""); err == nil {
		t.Fatal("expected error for malformed config")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Limits.MaxFixAttempts = 7
	if err := Save(cfg, path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Limits.MaxFixAttempts != 7 {
		t.Errorf("MaxFixAttempts = %d, want 7", loaded.Limits.MaxFixAttempts)
	}
}

func TestOrchestratorConfigConversion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits.LeaseSeconds = 90

	oc := cfg.OrchestratorConfig()
	if oc.LeaseDuration != 90*time.Second {
		t.Errorf("LeaseDuration = %v, want 90s", oc.LeaseDuration)
	}
	if oc.WorkerTimeout != 120*time.Second {
		t.Errorf("WorkerTimeout = %v, want the 120s default", oc.WorkerTimeout)
	}
	if oc.MaxRetries != cfg.Limits.MaxRetries || oc.MaxFixAttempts != cfg.Limits.MaxFixAttempts {
		t.Errorf("limits not carried over: %+v", oc)
	}
}

func TestCallTimeout(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.CallTimeout(); got != 0 {
		t.Errorf("CallTimeout with no provider timeouts = %v, want 0", got)
	}

	claude := cfg.Providers["claude"]
	claude.TimeoutSeconds = 60
	cfg.Providers["claude"] = claude
	openai := cfg.Providers["openai"]
	openai.TimeoutSeconds = 180
	cfg.Providers["openai"] = openai

	if got := cfg.CallTimeout(); got != 180*time.Second {
		t.Errorf("CallTimeout = %v, want the largest provider timeout 180s", got)
	}
}

func TestRoutingPolicyIsACopy(t *testing.T) {
	cfg := DefaultConfig()
	policy := cfg.RoutingPolicy()

	cfg.Routing["planning"][0] = "mutated"
	if policy.Routes["planning"][0] == "mutated" {
		t.Error("policy shares backing slices with the config")
	}
}
