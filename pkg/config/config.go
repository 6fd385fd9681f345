// Package config loads TOML configuration with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/consigfacil/creditengine/pkg/logger"
)

// Config is the full service configuration.
type Config struct {
	ServiceName string        `mapstructure:"service_name"`
	Version     string        `mapstructure:"version"`
	Environment string        `mapstructure:"environment"` // dev, staging, prod
	HTTP        HTTPConfig    `mapstructure:"http"`
	Database    DatabaseConfig `mapstructure:"database"`
	Redis       RedisConfig   `mapstructure:"redis"`
	Kafka       KafkaConfig   `mapstructure:"kafka"`
	Logger      logger.Config `mapstructure:"logger"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
	Engine      EngineConfig  `mapstructure:"engine"`
}

// HTTPConfig configures the gin server.
type HTTPConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // seconds
}

// DatabaseConfig configures the gorm connection pool.
type DatabaseConfig struct {
	Driver             string `mapstructure:"driver"`
	DSN                string `mapstructure:"dsn"`
	MaxOpenConns       int    `mapstructure:"max_open_conns"`
	MaxIdleConns       int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime    int    `mapstructure:"conn_max_lifetime"` // seconds
	LogEnabled         bool   `mapstructure:"log_enabled"`
	SlowQueryThreshold int    `mapstructure:"slow_query_threshold"` // milliseconds
}

// RedisConfig configures the redis client used for proposal locks.
type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	MaxPoolSize  int    `mapstructure:"max_pool_size"`
	ConnTimeout  int    `mapstructure:"conn_timeout"`  // seconds
	ReadTimeout  int    `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // seconds
}

// KafkaConfig configures the outbox relay producer.
type KafkaConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Brokers       []string `mapstructure:"brokers"`
	ProposalTopic string   `mapstructure:"proposal_topic"`
	AuditTopic    string   `mapstructure:"audit_topic"`
	MaxRetries    int      `mapstructure:"max_retries"`
	RetryBackoff  int      `mapstructure:"retry_backoff"` // milliseconds
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// EngineConfig carries decision-engine policy knobs.
type EngineConfig struct {
	// AutoApproveMinOps is the successful-operation floor a client must meet
	// before a low-risk score may auto-approve without human review.
	AutoApproveMinOps int `mapstructure:"auto_approve_min_ops"`
	// VerificationTimeout bounds each external verifier call, in seconds.
	VerificationTimeout int `mapstructure:"verification_timeout"`
	// SensitiveRules lists approval rule types that must pass dual approval.
	SensitiveRules []string `mapstructure:"sensitive_rules"`
	// HighValueThreshold routes disbursements at or above this amount through
	// the high_value_disbursement approval rule. Decimal string, e.g. "5000.00".
	HighValueThreshold string `mapstructure:"high_value_threshold"`

	BureauURL   string `mapstructure:"bureau_url"`
	RegistryURL string `mapstructure:"registry_url"`
	BankURL     string `mapstructure:"bank_url"`
}

// Load reads the config file at path and applies CREDITENGINE_* env overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetEnvPrefix("CREDITENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing file is acceptable: defaults + env carry a dev setup.
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "creditengine")
	v.SetDefault("environment", "dev")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.slow_query_threshold", 1000)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.max_pool_size", 10)
	v.SetDefault("redis.conn_timeout", 5)
	v.SetDefault("redis.read_timeout", 3)
	v.SetDefault("redis.write_timeout", 3)

	v.SetDefault("kafka.proposal_topic", "credit.proposal.events")
	v.SetDefault("kafka.audit_topic", "credit.audit.log")
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff", 100)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/creditengine.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)

	v.SetDefault("engine.auto_approve_min_ops", 3)
	v.SetDefault("engine.verification_timeout", 5)
	v.SetDefault("engine.sensitive_rules", []string{
		"override_decision",
		"bank_account_change",
		"manual_release",
		"high_value_disbursement",
	})
	v.SetDefault("engine.high_value_threshold", "5000.00")
}
