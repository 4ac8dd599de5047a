package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != ":8000" {
		t.Errorf("port = %q", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("read timeout = %v", cfg.Server.ReadTimeout)
	}
	if cfg.Database.Type != "boltdb" || cfg.Database.Path != "./data/vigil.db" {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Prometheus.MetricsPath != "/metrics" {
		t.Errorf("metrics path = %q", cfg.Prometheus.MetricsPath)
	}
	if len(cfg.Processing.FreshnessAges) != 4 || cfg.Processing.FreshnessAges[0] != 60 {
		t.Errorf("freshness ages = %v", cfg.Processing.FreshnessAges)
	}
	if cfg.Gateways.PagerDuty.BatchSize != 25 {
		t.Errorf("pagerduty batch size = %d", cfg.Gateways.PagerDuty.BatchSize)
	}
	if cfg.Gateways.Email.Port != 587 {
		t.Errorf("email port = %d", cfg.Gateways.Email.Port)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  port: ":9000"
processing:
  initial_failure_delay: 30
  repeat_failure_delay: 1800
  freshness_ages: [120, 600]
logging:
  level: debug
  format: json
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != ":9000" {
		t.Errorf("port = %q", cfg.Server.Port)
	}
	if cfg.Processing.InitialFailureDelay != 30 || cfg.Processing.RepeatFailureDelay != 1800 {
		t.Errorf("delays = %+v", cfg.Processing)
	}
	if len(cfg.Processing.FreshnessAges) != 2 || cfg.Processing.FreshnessAges[1] != 600 {
		t.Errorf("freshness ages = %v", cfg.Processing.FreshnessAges)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"negative delay", "processing:\n  initial_failure_delay: -1\n"},
		{"negative freshness age", "processing:\n  freshness_ages: [60, -5]\n"},
		{"email without host", "gateways:\n  email:\n    enabled: true\n    from: a@b.c\n"},
		{"unsupported database", "database:\n  type: postgres\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.content)); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestEnabledTransports(t *testing.T) {
	gw := &GatewaysConfig{}
	if got := gw.EnabledTransports(); len(got) != 0 {
		t.Errorf("transports = %v, want none", got)
	}

	gw.PagerDuty.Enabled = true
	gw.Slack.Enabled = true
	got := gw.EnabledTransports()
	if len(got) != 2 || got[0] != "pagerduty" || got[1] != "slack" {
		t.Errorf("transports = %v", got)
	}
}
