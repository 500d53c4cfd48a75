package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadArgs(nil)
	if err != nil {
		t.Fatalf("LoadArgs() error = %v", err)
	}
	if got := cfg.BaseURL(); got != "http://0.0.0.0:5000" {
		t.Fatalf("expected default base URL, got %s", got)
	}
	if cfg.RequestTimeout != 60*time.Second {
		t.Fatalf("expected 60s timeout, got %s", cfg.RequestTimeout)
	}
	policy := cfg.RetryPolicy()
	if policy.Total != 10 || policy.Connect != 10 || policy.BackoffFactor != 5*time.Second {
		t.Fatalf("unexpected default policy: %+v", policy)
	}
	if len(policy.StatusForcelist) != 3 {
		t.Fatalf("expected default forcelist, got %v", policy.StatusForcelist)
	}
}

func TestLoadMergesFileEnvAndFlags(t *testing.T) {
	cfgFile := writeConfig(t, `
osirisHost: http://file-osiris
osirisPort: 7000
namespace: file-ns
requestTimeout: 30s
retry:
  total: 3
  backoff: 1s
`)

	t.Setenv("OSIRIS_OBSERVER_CONFIG_FILE", cfgFile)
	t.Setenv("OSIRIS_HOST_PORT", "8000")
	t.Setenv("OC_NAMESPACE", "env-ns")
	t.Setenv("DRY_RUN", "true")

	cfg, err := LoadArgs([]string{"--namespace", "flag-ns", "--retry-connect", "2"})
	if err != nil {
		t.Fatalf("LoadArgs() error = %v", err)
	}

	if cfg.OsirisHost != "http://file-osiris" {
		t.Fatalf("expected file host, got %s", cfg.OsirisHost)
	}
	if cfg.OsirisPort != 8000 {
		t.Fatalf("expected env port 8000, got %d", cfg.OsirisPort)
	}
	if cfg.Namespace != "flag-ns" {
		t.Fatalf("expected flag namespace, got %s", cfg.Namespace)
	}
	if !cfg.DryRun {
		t.Fatalf("expected dry run from env")
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Fatalf("expected file timeout, got %s", cfg.RequestTimeout)
	}
	if cfg.Retry.Total != 3 || cfg.Retry.Connect != 2 || cfg.Retry.Backoff != time.Second {
		t.Fatalf("unexpected retry config: %+v", cfg.Retry)
	}
}

func TestLoadFileCanZeroRetries(t *testing.T) {
	cfgFile := writeConfig(t, "retry:\n  total: 0\n  connect: 0\n")

	cfg, err := LoadArgs([]string{"--config", cfgFile})
	if err != nil {
		t.Fatalf("LoadArgs() error = %v", err)
	}
	if cfg.Retry.Total != 0 || cfg.Retry.Connect != 0 {
		t.Fatalf("expected zero retry budgets, got %+v", cfg.Retry)
	}
}

func TestLoadEmptyListenAddrDisablesServer(t *testing.T) {
	t.Setenv("OSIRIS_OBSERVER_LISTEN_ADDR", "")

	cfg, err := LoadArgs(nil)
	if err != nil {
		t.Fatalf("LoadArgs() error = %v", err)
	}
	if cfg.ListenAddr != "" {
		t.Fatalf("expected empty listen addr, got %q", cfg.ListenAddr)
	}
}

func TestLoadClusterServerEnvPrecedence(t *testing.T) {
	t.Setenv("OC_HOST_NAME", "https://legacy:8443")
	t.Setenv("OSIRIS_CLUSTER_SERVER", "https://api.cluster:6443")

	cfg, err := LoadArgs(nil)
	if err != nil {
		t.Fatalf("LoadArgs() error = %v", err)
	}
	if cfg.ClusterServer != "https://api.cluster:6443" {
		t.Fatalf("expected OSIRIS_CLUSTER_SERVER to win, got %s", cfg.ClusterServer)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("OSIRIS_HOST_PORT", "not-a-port")
	if _, err := LoadArgs(nil); err == nil {
		t.Fatalf("expected error for invalid port")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"host with port":   func(c *Config) { c.OsirisHost = "http://osiris:5000" },
		"relative host":    func(c *Config) { c.OsirisHost = "osiris" },
		"negative retries": func(c *Config) { c.Retry.Total = -1 },
		"zero timeout":     func(c *Config) { c.RequestTimeout = 0 },
		"bad server":       func(c *Config) { c.ClusterServer = "not a url" },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestEffectiveLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "WARN"
	if got := cfg.EffectiveLogLevel(); got != "WARN" {
		t.Fatalf("expected WARN, got %s", got)
	}
	cfg.Debug = true
	if got := cfg.EffectiveLogLevel(); got != "debug" {
		t.Fatalf("expected debug, got %s", got)
	}
}
