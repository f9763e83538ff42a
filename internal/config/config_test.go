package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validTestConfigTOML(dir string) string {
	return `
env = "development"

[server]
proxy_port = 7677
log_level = "info"
data_dir = "` + dir + `"

[identity]
salt_ref = "env:TEST_SALT"
`
}

func TestLoad_DefaultsWithNoFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "nonexistent.toml"))
	if err == nil {
		_ = cfg
	}
}

func TestLoad_WithExplicitFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "test.toml")

	content := `
env = "development"

[server]
proxy_port = 9090
log_level = "debug"
data_dir = "` + dir + `"

[identity]
salt_ref = "env:TEST_SALT"

[instances.example]
host = "https://example.social"
enabled = true
timeout = 20
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.ProxyPort != 9090 {
		t.Errorf("ProxyPort: got %d, want 9090", cfg.Server.ProxyPort)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel: got %q, want %q", cfg.Server.LogLevel, "debug")
	}
	if inst, ok := cfg.Instances["example"]; !ok || inst.Host != "https://example.social" {
		t.Error("expected 'example' instance to be configured")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "test.toml")

	if err := os.WriteFile(configPath, []byte(validTestConfigTOML(dir)), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	t.Setenv("CORGI_SERVER_PROXY_PORT", "8888")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.ProxyPort != 8888 {
		t.Errorf("ProxyPort with env override: got %d, want 8888", cfg.Server.ProxyPort)
	}
}

func TestLoad_ValidationFailure_BadPort(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad.toml")

	content := `
env = "development"

[server]
proxy_port = 0
log_level = "info"
data_dir = "` + dir + `"

[identity]
salt_ref = "env:TEST_SALT"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected validation error for port 0")
	}
}

func TestLoad_ValidationFailure_MissingSalt(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "no-salt.toml")

	content := `
env = "development"

[server]
proxy_port = 7677
log_level = "info"
data_dir = "` + dir + `"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected validation error for missing identity.salt_ref")
	}
}

func TestLoad_ValidationFailure_DevBypassInProduction(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "prod-bypass.toml")

	content := `
env = "production"

[server]
proxy_port = 7677
log_level = "info"
data_dir = "` + dir + `"

[identity]
salt_ref = "env:TEST_SALT"
dev_identity_bypass = true
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected validation error for dev_identity_bypass in production")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.ProxyPort != DefaultProxyPort {
		t.Errorf("ProxyPort: got %d, want %d", cfg.Server.ProxyPort, DefaultProxyPort)
	}
	if cfg.Resilience.RetryMaxAttempts != DefaultRetryMaxAttempts {
		t.Errorf("RetryMaxAttempts: got %d, want %d", cfg.Resilience.RetryMaxAttempts, DefaultRetryMaxAttempts)
	}
	if cfg.Resilience.CBEnabled != true {
		t.Error("CBEnabled: got false, want true")
	}
	if cfg.Server.MaxResponseSize != DefaultMaxResponseSize {
		t.Errorf("MaxResponseSize: got %d, want %d", cfg.Server.MaxResponseSize, DefaultMaxResponseSize)
	}
	if cfg.Ranking.ViewCountsPositive != false {
		t.Error("ViewCountsPositive: want false by default")
	}
	if _, ok := cfg.Ranking.Models[cfg.Ranking.DefaultModel]; !ok {
		t.Error("default ranking model must exist in Models map")
	}
}

func TestInstanceConfig_TimeoutDuration(t *testing.T) {
	tests := []struct {
		timeout int
		wantSec int
	}{
		{0, 30},  // default
		{-1, 30}, // negative defaults
		{60, 60},
		{10, 10},
	}

	for _, tt := range tests {
		inst := InstanceConfig{Timeout: tt.timeout}
		got := inst.TimeoutDuration().Seconds()
		if int(got) != tt.wantSec {
			t.Errorf("TimeoutDuration(%d): got %v, want %ds", tt.timeout, got, tt.wantSec)
		}
	}
}

func TestConfigFilePath_BeforeLoad(t *testing.T) {
	loadedConfigFile.Store("")
	path := ConfigFilePath()
	if path != "" {
		t.Errorf("ConfigFilePath before load: got %q, want empty", path)
	}
}

func TestExportConfig(t *testing.T) {
	dir := t.TempDir()
	exportPath := filepath.Join(dir, "exported.toml")

	cfg := DefaultConfig()
	cfg.Identity.SaltRef = "env:TEST_SALT"
	set(cfg)

	if err := ExportConfig(exportPath); err != nil {
		t.Fatalf("ExportConfig: %v", err)
	}

	data, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Error("exported config is empty")
	}
}

func TestImportConfig(t *testing.T) {
	dir := t.TempDir()
	importPath := filepath.Join(dir, "import.toml")

	content := `
env = "development"

[server]
proxy_port = 9999
log_level = "warn"
data_dir = "` + dir + `"

[identity]
salt_ref = "env:TEST_SALT"
`
	if err := os.WriteFile(importPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := ImportConfig(importPath); err != nil {
		t.Fatalf("ImportConfig: %v", err)
	}

	cfg := Get()
	if cfg.Server.ProxyPort != 9999 {
		t.Errorf("ProxyPort after import: got %d, want 9999", cfg.Server.ProxyPort)
	}

	set(DefaultConfig())
}
