// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	Processing ProcessingConfig `yaml:"processing"`
	Gateways   GatewaysConfig   `yaml:"gateways"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

type PrometheusConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MetricsPath string `yaml:"metrics_path"`
}

// ProcessingConfig tunes the event and notification pikelets.
type ProcessingConfig struct {
	InitialFailureDelay int   `yaml:"initial_failure_delay"` // seconds, default for new checks
	RepeatFailureDelay  int   `yaml:"repeat_failure_delay"`  // seconds, default for new checks
	FreshnessAges       []int `yaml:"freshness_ages"`        // seconds, report thresholds
}

type GatewaysConfig struct {
	PagerDuty PagerDutyConfig `yaml:"pagerduty"`
	Email     EmailConfig     `yaml:"email"`
	Slack     SlackConfig     `yaml:"slack"`
}

// PagerDutyConfig drives the outbound paging gateway. Routing keys come
// from each medium's credentials, not from here.
type PagerDutyConfig struct {
	Enabled   bool          `yaml:"enabled"`
	APIURL    string        `yaml:"api_url"`
	Timeout   time.Duration `yaml:"timeout"`
	Template  string        `yaml:"template"`
	BatchSize int           `yaml:"batch_size"`
}

type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type SlackConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	setDefaults(config)

	if err := validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func setDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8000"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}

	// Database defaults
	if cfg.Database.Type == "" {
		cfg.Database.Type = "boltdb"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/vigil.db"
	}

	// Prometheus defaults
	if cfg.Prometheus.MetricsPath == "" {
		cfg.Prometheus.MetricsPath = "/metrics"
	}

	// Processing defaults
	if len(cfg.Processing.FreshnessAges) == 0 {
		cfg.Processing.FreshnessAges = []int{60, 300, 900, 3600}
	}

	// Gateway defaults
	if cfg.Gateways.PagerDuty.APIURL == "" {
		cfg.Gateways.PagerDuty.APIURL = "https://events.pagerduty.com/v2/enqueue"
	}
	if cfg.Gateways.PagerDuty.Timeout == 0 {
		cfg.Gateways.PagerDuty.Timeout = 30 * time.Second
	}
	if cfg.Gateways.PagerDuty.Template == "" {
		cfg.Gateways.PagerDuty.Template = "{{.CheckName}} is {{.Condition}}: {{.Summary}}"
	}
	if cfg.Gateways.PagerDuty.BatchSize == 0 {
		cfg.Gateways.PagerDuty.BatchSize = 25
	}
	if cfg.Gateways.Email.Port == 0 {
		cfg.Gateways.Email.Port = 587
	}
	if cfg.Gateways.Slack.Username == "" {
		cfg.Gateways.Slack.Username = "vigil"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func validate(cfg *Config) error {
	if cfg.Database.Type != "boltdb" {
		return fmt.Errorf("only boltdb is supported currently")
	}

	if cfg.Processing.InitialFailureDelay < 0 {
		return fmt.Errorf("processing.initial_failure_delay must not be negative")
	}
	if cfg.Processing.RepeatFailureDelay < 0 {
		return fmt.Errorf("processing.repeat_failure_delay must not be negative")
	}
	for _, age := range cfg.Processing.FreshnessAges {
		if age < 0 {
			return fmt.Errorf("processing.freshness_ages must not contain negative values")
		}
	}

	if cfg.Gateways.Email.Enabled {
		if cfg.Gateways.Email.Host == "" {
			return fmt.Errorf("gateways.email.host is required when email is enabled")
		}
		if cfg.Gateways.Email.From == "" {
			return fmt.Errorf("gateways.email.from is required when email is enabled")
		}
	}
	if cfg.Gateways.PagerDuty.Enabled && cfg.Gateways.PagerDuty.BatchSize < 1 {
		return fmt.Errorf("gateways.pagerduty.batch_size must be at least 1")
	}

	return nil
}

// EnabledTransports lists the transports with a configured gateway, in
// the order the notifier should consider them.
func (c *GatewaysConfig) EnabledTransports() []string {
	var transports []string
	if c.PagerDuty.Enabled {
		transports = append(transports, "pagerduty")
	}
	if c.Email.Enabled {
		transports = append(transports, "email")
	}
	if c.Slack.Enabled {
		transports = append(transports, "slack")
	}
	return transports
}
