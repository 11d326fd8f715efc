package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeTempConfig writes content to a temp YAML file and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "")
	t.Setenv("DEPTHWATCH_SYMBOLS", "")
	t.Setenv("AWS_REGION", "")
}

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if len(cfg.Symbols) != 2 || cfg.Symbols[0] != "BTCUSDT" || cfg.Symbols[1] != "ETHUSDT" {
		t.Errorf("unexpected symbols: %v", cfg.Symbols)
	}
	if cfg.Binance.DepthLimit != 50 {
		t.Errorf("unexpected depth limit: %d", cfg.Binance.DepthLimit)
	}
	if cfg.Report.Interval != 10*time.Second {
		t.Errorf("unexpected report interval: %v", cfg.Report.Interval)
	}
	if cfg.Binance.RestURL != "https://api.binance.com" || cfg.Binance.WsURL != "wss://stream.binance.com:9443" {
		t.Errorf("unexpected endpoints: %s %s", cfg.Binance.RestURL, cfg.Binance.WsURL)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	clearEnv(t)

	path := writeTempConfig(t, `app:
  name: "TestApp"
  version: "1.0"
symbols: ["solusdt", " BTCUSDT ", "SOLUSDT"]
binance:
  depth_limit: 20
  timeout: 3s
report:
  interval: 2s
status:
  enabled: true
  address: ":9000"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.App.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.App.Name)
	}
	if len(cfg.Symbols) != 2 || cfg.Symbols[0] != "SOLUSDT" || cfg.Symbols[1] != "BTCUSDT" {
		t.Errorf("symbols not normalised: %v", cfg.Symbols)
	}
	if cfg.Binance.DepthLimit != 20 || cfg.Binance.Timeout != 3*time.Second {
		t.Errorf("unexpected binance config: %+v", cfg.Binance)
	}
	if cfg.Binance.RestURL != "https://api.binance.com" {
		t.Errorf("default rest url lost: %s", cfg.Binance.RestURL)
	}
	if cfg.Report.Interval != 2*time.Second {
		t.Errorf("unexpected interval: %v", cfg.Report.Interval)
	}
	if !cfg.Status.Enabled || cfg.Status.Address != ":9000" {
		t.Errorf("unexpected status config: %+v", cfg.Status)
	}
}

func TestLoadConfigSymbolsFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEPTHWATCH_SYMBOLS", "bnbusdt, xrpusdt")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if len(cfg.Symbols) != 2 || cfg.Symbols[0] != "BNBUSDT" || cfg.Symbols[1] != "XRPUSDT" {
		t.Errorf("unexpected symbols: %v", cfg.Symbols)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	clearEnv(t)

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestValidateConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no symbols", func(c *Config) { c.Symbols = nil }},
		{"bad rest scheme", func(c *Config) { c.Binance.RestURL = "ftp://api.binance.com" }},
		{"bad ws scheme", func(c *Config) { c.Binance.WsURL = "https://stream.binance.com" }},
		{"zero limit", func(c *Config) { c.Binance.DepthLimit = 0 }},
		{"zero interval", func(c *Config) { c.Report.Interval = 0 }},
		{"status without address", func(c *Config) { c.Status.Enabled = true; c.Status.Address = "" }},
		{"cloudwatch without namespace", func(c *Config) {
			c.Metrics.CloudWatch.Enabled = true
			c.Metrics.CloudWatch.Namespace = ""
		}},
	}
	for _, c := range cases {
		cfg := Default()
		c.mutate(cfg)
		if err := validateConfig(cfg); err == nil {
			t.Errorf("%s: expected validation error", c.name)
		}
	}

	if err := validateConfig(Default()); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestAppEnvironmentAliases(t *testing.T) {
	t.Setenv("APP_ENV", "PROD")
	if got := AppEnvironment(); got != environmentProduction {
		t.Errorf("AppEnvironment() = %q, want %q", got, environmentProduction)
	}

	t.Setenv("APP_ENV", "")
	if got := AppEnvironment(); got != environmentDevelopment {
		t.Errorf("AppEnvironment() = %q, want %q", got, environmentDevelopment)
	}
}

func TestResolveEnvSpecificPath(t *testing.T) {
	envPaths := map[string]string{environmentProduction: "config/config.production.yml"}

	t.Setenv("APP_ENV", "production")
	if got := resolveEnvSpecificPath("", DefaultConfigPath, envPaths); got != "config/config.production.yml" {
		t.Errorf("unexpected path: %s", got)
	}
	if got := resolveEnvSpecificPath("custom.yml", DefaultConfigPath, envPaths); got != "custom.yml" {
		t.Errorf("explicit path overridden: %s", got)
	}
}
