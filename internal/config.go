package internal

import (
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig represents the main application configuration.
type AppConfig struct {
	// Server holds server-specific configuration.
	Server struct {
		Port           int    `yaml:"port"`
		ReadTimeoutMS  int64  `yaml:"read_timeout_ms"`
		IdleTimeoutMS  int64  `yaml:"idle_timeout_ms"`
		ReadHeaderMS   int64  `yaml:"read_header_timeout_ms"`
		MaxBodyBytes   int64  `yaml:"max_body_bytes"`
		RateLimitRPS   int64  `yaml:"rate_limit_rps"`
		RateLimitBurst int64  `yaml:"rate_limit_burst"`
		MetricsEnabled bool   `yaml:"metrics_enabled"`
		MetricsPath    string `yaml:"metrics_path"`
	} `yaml:"server"`
	// Webhook holds the inbound delivery endpoint configuration.
	Webhook struct {
		Path   string `yaml:"path"`
		Secret string `yaml:"secret"`
	} `yaml:"webhook"`
	// Storage configures the event store.
	Storage struct {
		Driver      string `yaml:"driver"`
		DSN         string `yaml:"dsn"`
		Dialect     string `yaml:"dialect"`
		Table       string `yaml:"table"`
		AutoMigrate bool   `yaml:"auto_migrate"`
	} `yaml:"storage"`
	// Broadcast configures the observer stream.
	Broadcast struct {
		Path          string `yaml:"path"`
		BackfillLimit int    `yaml:"backfill_limit"`
		OutputBuffer  int64  `yaml:"output_buffer"`
	} `yaml:"broadcast"`
	// Watermill holds configuration for the forwarding sinks.
	Watermill WatermillConfig `yaml:"watermill"`
}

// Config represents the application configuration including forwarding rules.
type Config struct {
	AppConfig   `yaml:",inline"`
	Rules       []Rule `yaml:"rules"`
	RulesStrict bool   `yaml:"rules_strict"`
}

// WatermillConfig holds the configuration for the forwarding sink drivers.
type WatermillConfig struct {
	Driver       string             `yaml:"driver"`
	Drivers      []string           `yaml:"drivers"`
	GoChannel    GoChannelConfig    `yaml:"gochannel"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	NATS         NATSConfig         `yaml:"nats"`
	AMQP         AMQPConfig         `yaml:"amqp"`
	SQL          SQLConfig          `yaml:"sql"`
	HTTP         HTTPConfig         `yaml:"http"`
	RiverQueue   RiverQueueConfig   `yaml:"riverqueue"`
	PublishRetry PublishRetryConfig `yaml:"publish_retry"`
}

// GoChannelConfig holds configuration for the GoChannel pub/sub.
type GoChannelConfig struct {
	OutputChannelBuffer            int64 `yaml:"output_buffer"`
	Persistent                     bool  `yaml:"persistent"`
	BlockPublishUntilSubscriberAck bool  `yaml:"block_publish_until_subscriber_ack"`
}

// KafkaConfig holds configuration for the Kafka sink.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
}

// NATSConfig holds configuration for the NATS streaming sink.
type NATSConfig struct {
	ClusterID string `yaml:"cluster_id"`
	ClientID  string `yaml:"client_id"`
	URL       string `yaml:"url"`
}

// AMQPConfig holds configuration for the AMQP sink.
type AMQPConfig struct {
	URL  string `yaml:"url"`
	Mode string `yaml:"mode"`
}

// SQLConfig holds configuration for the SQL sink.
type SQLConfig struct {
	Driver               string `yaml:"driver"`
	DSN                  string `yaml:"dsn"`
	Dialect              string `yaml:"dialect"`
	InitializeSchema     bool   `yaml:"initialize_schema"`
	AutoInitializeSchema bool   `yaml:"auto_initialize_schema"`
}

// HTTPConfig holds configuration for the HTTP sink.
type HTTPConfig struct {
	BaseURL string `yaml:"base_url"`
	Mode    string `yaml:"mode"`
}

// RiverQueueConfig holds configuration for the RiverQueue sink.
type RiverQueueConfig struct {
	DSN         string   `yaml:"dsn"`
	Queue       string   `yaml:"queue"`
	Kind        string   `yaml:"kind"`
	MaxAttempts int      `yaml:"max_attempts"`
	Priority    int      `yaml:"priority"`
	Tags        []string `yaml:"tags"`
}

// PublishRetryConfig controls retries on sink publish failures.
type PublishRetryConfig struct {
	Attempts int `yaml:"attempts"`
	DelayMS  int `yaml:"delay_ms"`
}

// LoadConfig loads the full application configuration, including forwarding
// rules, from a YAML file. It expands environment variables, applies
// defaults, and normalizes rules.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, err
	}

	applyDefaults(&cfg.AppConfig)
	normalized, err := normalizeRules(cfg.Rules)
	if err != nil {
		return cfg, err
	}
	cfg.Rules = normalized

	return cfg, nil
}

// RulesConfig represents the rule-specific parts of the configuration.
type RulesConfig struct {
	Rules  []Rule `yaml:"rules"`
	Strict bool   `yaml:"rules_strict"`
	Logger *log.Logger
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeoutMS == 0 {
		cfg.Server.ReadTimeoutMS = 5000
	}
	if cfg.Server.IdleTimeoutMS == 0 {
		cfg.Server.IdleTimeoutMS = 60000
	}
	if cfg.Server.ReadHeaderMS == 0 {
		cfg.Server.ReadHeaderMS = 5000
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}
	if cfg.Webhook.Path == "" {
		cfg.Webhook.Path = "/webhook"
	}
	if cfg.Storage.Driver == "" && cfg.Storage.Dialect == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "hookpulse.db"
	}
	if cfg.Storage.Table == "" {
		cfg.Storage.Table = "webhook_events"
	}
	if cfg.Broadcast.Path == "" {
		cfg.Broadcast.Path = "/events/stream"
	}
	if cfg.Broadcast.BackfillLimit == 0 {
		cfg.Broadcast.BackfillLimit = 50
	}
	if cfg.Broadcast.OutputBuffer == 0 {
		cfg.Broadcast.OutputBuffer = 64
	}
	if cfg.Watermill.Driver == "" {
		cfg.Watermill.Driver = "gochannel"
	}
	if cfg.Watermill.GoChannel.OutputChannelBuffer == 0 {
		cfg.Watermill.GoChannel.OutputChannelBuffer = 64
	}
	if cfg.Watermill.HTTP.Mode == "" {
		cfg.Watermill.HTTP.Mode = "topic_url"
	}
	if cfg.Watermill.RiverQueue.Queue == "" {
		cfg.Watermill.RiverQueue.Queue = "default"
	}
	if cfg.Watermill.RiverQueue.Kind == "" {
		cfg.Watermill.RiverQueue.Kind = "hookpulse.event"
	}
	if cfg.Watermill.RiverQueue.MaxAttempts == 0 {
		cfg.Watermill.RiverQueue.MaxAttempts = 25
	}
	if cfg.Watermill.PublishRetry.Attempts == 0 {
		cfg.Watermill.PublishRetry.Attempts = 3
	}
	if cfg.Watermill.PublishRetry.DelayMS == 0 {
		cfg.Watermill.PublishRetry.DelayMS = 500
	}
}

func normalizeRules(rules []Rule) ([]Rule, error) {
	out := make([]Rule, 0, len(rules))
	for i := range rules {
		rule := rules[i]
		rule.When = strings.TrimSpace(rule.When)
		rule.Emit = strings.TrimSpace(rule.Emit)
		if rule.When == "" || rule.Emit == "" {
			return nil, fmt.Errorf("rule %d is missing when or emit", i)
		}
		if len(rule.Drivers) > 0 {
			drivers := make([]string, 0, len(rule.Drivers))
			for _, driver := range rule.Drivers {
				trimmed := strings.TrimSpace(driver)
				if trimmed != "" {
					drivers = append(drivers, trimmed)
				}
			}
			rule.Drivers = drivers
		}
		out = append(out, rule)
	}
	return out, nil
}
