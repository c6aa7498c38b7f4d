package domain

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server"`

	// Tier determines infrastructure defaults
	Tier Tier `yaml:"tier"`

	// Component configurations
	Repository RepositoryConfig `yaml:"repository"`
	Cache      CacheConfig      `yaml:"cache"`
	EventBus   EventBusConfig   `yaml:"eventBus"`
	Estimator  EstimatorConfig  `yaml:"estimator"`

	// Decision policy
	Rules  RuleThresholds `yaml:"rules"`
	Fusion FusionConfig   `yaml:"fusion"`

	// CustomRules are operator-defined CEL rules registered at startup
	// alongside the built-in catalog.
	CustomRules []CustomRuleConfig `yaml:"customRules"`

	// Observability
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// RuleThresholds holds the overridable numeric thresholds of the built-in
// rule catalog. Thresholds are configuration, never hard-coded in rules.
type RuleThresholds struct {
	// CriticalAmount is the upper unverified-KYC tier (default $50k).
	CriticalAmount float64 `yaml:"criticalAmount"`

	// HighRiskAmount is the lower unverified-KYC tier and the new-account
	// amount threshold (default $20k).
	HighRiskAmount float64 `yaml:"highRiskAmount"`

	// LowAmount is the trust-discount ceiling (default $5k).
	LowAmount float64 `yaml:"lowAmount"`

	// NewAccountDays is the new-account age cutoff (default 7).
	NewAccountDays float64 `yaml:"newAccountDays"`

	// EstablishedAgeDays is the established-customer age floor (default 365).
	EstablishedAgeDays float64 `yaml:"establishedAgeDays"`

	// AverageMultiplier triggers the amount-vs-average rule when the amount
	// exceeds this multiple of the customer's legitimate average (default 5).
	AverageMultiplier float64 `yaml:"averageMultiplier"`

	// SuspiciousHourStart/End bound the odd-hour window, inclusive (2..4).
	SuspiciousHourStart int `yaml:"suspiciousHourStart"`
	SuspiciousHourEnd   int `yaml:"suspiciousHourEnd"`

	// CleanHistoryMinTxns is the minimum prior transactions for the clean
	// history discount (default 10).
	CleanHistoryMinTxns int64 `yaml:"cleanHistoryMinTxns"`

	// LookupTimeoutSeconds bounds each customer-history read; on timeout the
	// rule fails closed.
	LookupTimeoutSeconds int `yaml:"lookupTimeoutSeconds"`
}

// FusionConfig holds the decision-fusion numeric policy.
type FusionConfig struct {
	// FraudRuleCutoff: any triggered rule contributing more than this forces
	// a Fraud label (default 0.5).
	FraudRuleCutoff float64 `yaml:"fraudRuleCutoff"`

	// Amount floors: very large transactions never present as zero-risk.
	// Floors raise the score only, never the label.
	CriticalAmountFloor float64 `yaml:"criticalAmountFloor"` // default 0.05 above CriticalAmount
	HighAmountFloor     float64 `yaml:"highAmountFloor"`     // default 0.03 above HighRiskAmount
}

// CustomRuleConfig declares an operator-defined CEL rule. The expression may
// return bool (triggers with the fixed Contribution) or double (the value is
// the contribution).
type CustomRuleConfig struct {
	Name         string  `yaml:"name"`
	Priority     int     `yaml:"priority"`
	Reason       string  `yaml:"reason"`
	Expression   string  `yaml:"expression"`
	Contribution float64 `yaml:"contribution"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`  // seconds
	WriteTimeout int    `yaml:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"serviceName"`
	Endpoint    string `yaml:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity is the single-node tier with SQLite + channels.
	TierCommunity Tier = "community"

	// TierPro uses PostgreSQL + NATS + Redis.
	TierPro Tier = "pro"
)

// DefaultConfig returns the Community tier defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:            "memory",
			LocalMaxSize:    10000,
			LocalTTLSeconds: 300,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Estimator: EstimatorConfig{
			Endpoint:       "http://localhost:9090/predict",
			TimeoutSeconds: 2,
			Threshold:      0.5,
		},
		Rules:  DefaultRuleThresholds(),
		Fusion: DefaultFusionConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns the Pro tier defaults.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:            "redis",
		RedisAddr:       "localhost:6379",
		EnableTwoPhase:  true,
		LocalMaxSize:    1000,
		LocalTTLSeconds: 60,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// DefaultRuleThresholds returns the canonical rule thresholds.
func DefaultRuleThresholds() RuleThresholds {
	return RuleThresholds{
		CriticalAmount:       50000,
		HighRiskAmount:       20000,
		LowAmount:            5000,
		NewAccountDays:       7,
		EstablishedAgeDays:   365,
		AverageMultiplier:    5.0,
		SuspiciousHourStart:  2,
		SuspiciousHourEnd:    4,
		CleanHistoryMinTxns:  10,
		LookupTimeoutSeconds: 2,
	}
}

// DefaultFusionConfig returns the canonical fusion policy.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		FraudRuleCutoff:     0.5,
		CriticalAmountFloor: 0.05,
		HighAmountFloor:     0.03,
	}
}

// LoadConfig reads a YAML config file over the tier defaults. An empty path
// returns DefaultConfig (or ProConfig when KESTREL_TIER=pro).
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = ProConfig()
	}

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}
