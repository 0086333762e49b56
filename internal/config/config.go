package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	rcron "github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const FileName = "osline.yml"

// Config models osline.yml.
type Config struct {
	Org struct {
		ID string `yaml:"id"`
	} `yaml:"org"`
	Monitor struct {
		Schedule    string  `yaml:"schedule"`
		AtRiskHours float64 `yaml:"at_risk_hours"`
		DedupHours  float64 `yaml:"dedup_hours"`
	} `yaml:"monitor"`
	Notify struct {
		Channel string        `yaml:"channel"`
		Webhook WebhookConfig `yaml:"webhook"`
	} `yaml:"notify"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

type WebhookConfig struct {
	URL            string `yaml:"url"`
	Secret         string `yaml:"secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

const (
	ChannelLog     = "log"
	ChannelWebhook = "webhook"
	ChannelMemory  = "memory"
)

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with osl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Org.ID) == "" {
		return fmt.Errorf("config.org.id is required")
	}
	if c.Monitor.Schedule != "" {
		if _, err := rcron.ParseStandard(c.Monitor.Schedule); err != nil {
			return fmt.Errorf("config.monitor.schedule: %w", err)
		}
	}
	if c.Monitor.AtRiskHours < 0 {
		return fmt.Errorf("config.monitor.at_risk_hours must not be negative")
	}
	if c.Monitor.DedupHours < 0 {
		return fmt.Errorf("config.monitor.dedup_hours must not be negative")
	}
	switch c.Notify.Channel {
	case "", ChannelLog, ChannelMemory:
	case ChannelWebhook:
		if strings.TrimSpace(c.Notify.Webhook.URL) == "" {
			return fmt.Errorf("config.notify.webhook.url is required for channel webhook")
		}
		if c.Notify.Webhook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.notify.webhook.timeout_seconds must not be negative")
		}
	default:
		return fmt.Errorf("config.notify.channel must be one of log, webhook, memory")
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("config.log.format must be json or console")
	}
	return nil
}

// AtRiskWindow returns the configured window, or zero for the default.
func (c *Config) AtRiskWindow() time.Duration {
	return hours(c.Monitor.AtRiskHours)
}

func (c *Config) DedupWindow() time.Duration {
	return hours(c.Monitor.DedupHours)
}

func (w WebhookConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutSeconds) * time.Second
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(orgID string) string {
	return fmt.Sprintf(defaultTemplate, orgID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for an organization.
func Default(orgID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(orgID))).Decode(&cfg)
	cfg.Org.ID = orgID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `org:
  id: %q

monitor:
  schedule: "@every 5m"
  at_risk_hours: 4
  dedup_hours: 4

notify:
  channel: log
  webhook:
    url: ""
    secret: ""
    timeout_seconds: 5

log:
  level: info
  format: json
`
