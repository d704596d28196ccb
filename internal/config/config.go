// Package config loads the agent's YAML configuration, in the shape of
// the teacher's internal/config: typed sections with sane defaults,
// environment variable overrides for anything secret-shaped (HMAC keys,
// broker credentials), and a Validate method run before cmd/edr-agent
// wires any subsystem up.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete agent configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Audit     AuditConfig     `yaml:"audit"`
	Risk      RiskConfig      `yaml:"risk"`
	Rules     RulesConfig     `yaml:"rules"`
	Status    StatusConfig    `yaml:"status"`
	Exporter  ExporterConfig  `yaml:"exporter"`
	Collector CollectorConfig `yaml:"collector"`
	Actuator  ActuatorConfig  `yaml:"actuator"`
	Logging   LoggingConfig   `yaml:"logging"`
	Validation ValidationConfig `yaml:"validation"`
}

// StoreConfig configures the embedded SQLite persistence layer.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// AuditConfig configures the hash-chained audit logger.
type AuditConfig struct {
	// HMACKeyEnv names the environment variable holding the chain's HMAC
	// key, hex or raw bytes. Never read from the YAML file itself.
	HMACKeyEnv string `yaml:"hmac_key_env"`
	// ImmutableGuardEnabled turns on the optional chattr +a/+i hardening
	// layer over the store file and its WAL/SHM siblings.
	ImmutableGuardEnabled bool `yaml:"immutable_guard_enabled"`
}

// RiskConfig configures the per-process risk scorer's level thresholds.
type RiskConfig struct {
	Low      int `yaml:"low"`
	Medium   int `yaml:"medium"`
	High     int `yaml:"high"`
	Critical int `yaml:"critical"`
}

// RulesConfig configures the rule engine: where declarative rule files
// live, and the optional Redis-backed dedup cache.
type RulesConfig struct {
	Dir              string        `yaml:"dir"`
	DedupEnabled     bool          `yaml:"dedup_enabled"`
	DedupRedisAddr   string        `yaml:"dedup_redis_addr"`
	DedupRedisDB     int           `yaml:"dedup_redis_db"`
	DedupWindow      time.Duration `yaml:"dedup_window"`
}

// StatusConfig configures the mmap-backed shared-status record.
type StatusConfig struct {
	Path            string        `yaml:"path"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	EngineVersion   string        `yaml:"engine_version"`
}

// ExporterConfig configures the telemetry exporter's optional batched
// sinks. The SQLite write-through is always on; ClickHouse and S3 are
// opt-in.
type ExporterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`

	ClickHouse ClickHouseExportConfig `yaml:"clickhouse"`
	S3         S3ExportConfig         `yaml:"s3"`
}

// ClickHouseExportConfig configures the optional analytics warehouse sink.
type ClickHouseExportConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Hosts        []string `yaml:"hosts"`
	Database     string   `yaml:"database"`
	Username     string   `yaml:"username"`
	PasswordEnv  string   `yaml:"password_env"`
	TLSEnabled   bool     `yaml:"tls_enabled"`
}

// S3ExportConfig configures the optional cold-storage archival sink.
type S3ExportConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint"`
	StorageClass    string `yaml:"storage_class"`
	AccessKeyEnv    string `yaml:"access_key_env"`
	SecretKeyEnv    string `yaml:"secret_key_env"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// CollectorConfig configures optional inbound collectors external to
// the host's own in-process sensors.
type CollectorConfig struct {
	KafkaBridge KafkaBridgeConfig `yaml:"kafka_bridge"`
}

// KafkaBridgeConfig configures the reference Kafka-backed collector.
type KafkaBridgeConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	Topic         string   `yaml:"topic"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

// ActuatorConfig configures the containment actuators.
type ActuatorConfig struct {
	FirewallEnabled      bool   `yaml:"firewall_enabled"`
	NftablesPath         string `yaml:"nftables_path"`
	IptablesPath         string `yaml:"iptables_path"`
	ProcessControlEnabled bool  `yaml:"process_control_enabled"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ValidationConfig bounds how old or how far in the future an incoming
// event's timestamp may be, mirroring schema.ValidatorConfig.
type ValidationConfig struct {
	MaxEventAge time.Duration `yaml:"max_event_age"`
	MaxFuture   time.Duration `yaml:"max_future"`
}

// DefaultConfig returns a Config with production-sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path: "/var/lib/edr-agent/agent.db",
		},
		Audit: AuditConfig{
			HMACKeyEnv:            "EDR_AUDIT_HMAC_KEY",
			ImmutableGuardEnabled: false,
		},
		Risk: RiskConfig{
			Low: 30, Medium: 60, High: 80, Critical: 100,
		},
		Rules: RulesConfig{
			Dir:            "/etc/edr-agent/rules",
			DedupEnabled:   false,
			DedupRedisAddr: "localhost:6379",
			DedupWindow:    30 * time.Second,
		},
		Status: StatusConfig{
			Path:            "/var/run/edr-agent/status.bin",
			RefreshInterval: 2 * time.Second,
			EngineVersion:   "1.0.0",
		},
		Exporter: ExporterConfig{
			BatchSize:     1000,
			FlushInterval: 5 * time.Second,
			MaxRetries:    3,
			RetryDelay:    time.Second,
			ClickHouse: ClickHouseExportConfig{
				Enabled:  false,
				Hosts:    []string{"localhost:9000"},
				Database: "edr",
				Username: "default",
			},
			S3: S3ExportConfig{
				Enabled:      false,
				Region:       "us-east-1",
				Bucket:       "edr-agent-archive",
				Prefix:       "events/",
				StorageClass: "INTELLIGENT_TIERING",
			},
		},
		Collector: CollectorConfig{
			KafkaBridge: KafkaBridgeConfig{
				Enabled:       false,
				Brokers:       []string{"localhost:9092"},
				Topic:         "edr-agent-events",
				ConsumerGroup: "edr-agent-bridge",
			},
		},
		Actuator: ActuatorConfig{
			FirewallEnabled:       true,
			NftablesPath:          "/usr/sbin/nft",
			IptablesPath:          "/sbin/iptables",
			ProcessControlEnabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Validation: ValidationConfig{
			MaxEventAge: 7 * 24 * time.Hour,
			MaxFuture:   5 * time.Minute,
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults
// when the file is absent, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = "/etc/edr-agent/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides lets deployment secrets and a handful of
// operational knobs be set outside the YAML file.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("EDR_STORE_PATH"); path != "" {
		c.Store.Path = path
	}
	if level := os.Getenv("EDR_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if hosts := os.Getenv("EDR_CLICKHOUSE_HOSTS"); hosts != "" {
		c.Exporter.ClickHouse.Hosts = splitAndTrim(hosts, ",")
	}
	if bucket := os.Getenv("EDR_S3_BUCKET"); bucket != "" {
		c.Exporter.S3.Bucket = bucket
	}
	if brokers := os.Getenv("EDR_KAFKA_BROKERS"); brokers != "" {
		c.Collector.KafkaBridge.Brokers = splitAndTrim(brokers, ",")
	}
}

// HMACKey resolves the audit chain's HMAC key from the environment
// variable named by Audit.HMACKeyEnv. Returns an error if unset, since
// an audit logger with no key is not a meaningful configuration.
func (c *Config) HMACKey() ([]byte, error) {
	name := c.Audit.HMACKeyEnv
	if name == "" {
		name = "EDR_AUDIT_HMAC_KEY"
	}
	value := os.Getenv(name)
	if value == "" {
		return nil, fmt.Errorf("config: environment variable %s is not set", name)
	}
	return []byte(value), nil
}

// ClickHousePassword resolves the ClickHouse password from the
// environment variable named by Exporter.ClickHouse.PasswordEnv, or ""
// if unset (anonymous/no-auth deployments are common for ClickHouse).
func (c *Config) ClickHousePassword() string {
	if c.Exporter.ClickHouse.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(c.Exporter.ClickHouse.PasswordEnv)
}

// S3Credentials resolves the access/secret key pair from the
// environment variables named by Exporter.S3.AccessKeyEnv/SecretKeyEnv.
// Both return "" when unset, letting the AWS SDK fall back to its
// default credential chain (IAM role, shared config, etc).
func (c *Config) S3Credentials() (accessKey, secretKey string) {
	if c.Exporter.S3.AccessKeyEnv != "" {
		accessKey = os.Getenv(c.Exporter.S3.AccessKeyEnv)
	}
	if c.Exporter.S3.SecretKeyEnv != "" {
		secretKey = os.Getenv(c.Exporter.S3.SecretKeyEnv)
	}
	return accessKey, secretKey
}

// splitAndTrim splits s on sep and trims whitespace from each part,
// dropping empty parts.
func splitAndTrim(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Validate checks the configuration for internally consistent values
// before any subsystem is constructed from it.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("config: store.path is required")
	}

	if c.Risk.Low <= 0 || c.Risk.Medium <= c.Risk.Low || c.Risk.High <= c.Risk.Medium || c.Risk.Critical <= c.Risk.High {
		return fmt.Errorf("config: risk thresholds must be strictly increasing (low < medium < high < critical)")
	}

	if c.Exporter.BatchSize <= 0 {
		return fmt.Errorf("config: exporter.batch_size must be positive")
	}

	if c.Exporter.ClickHouse.Enabled && len(c.Exporter.ClickHouse.Hosts) == 0 {
		return fmt.Errorf("config: exporter.clickhouse.hosts is required when clickhouse is enabled")
	}

	if c.Exporter.S3.Enabled && c.Exporter.S3.Bucket == "" {
		return fmt.Errorf("config: exporter.s3.bucket is required when s3 is enabled")
	}

	if c.Collector.KafkaBridge.Enabled {
		if len(c.Collector.KafkaBridge.Brokers) == 0 {
			return fmt.Errorf("config: collector.kafka_bridge.brokers is required when enabled")
		}
		if c.Collector.KafkaBridge.Topic == "" {
			return fmt.Errorf("config: collector.kafka_bridge.topic is required when enabled")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid logging.level %q", c.Logging.Level)
	}

	return nil
}
