package domain

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Risk decision settings
	Risk RiskConfig `json:"risk"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	RefData    RefDataConfig    `json:"refData"`

	// AsyncWorker enables assessment of transactions submitted on the bus.
	AsyncWorker bool `json:"asyncWorker"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// RiskConfig controls how rule and keyword scores become a decision.
type RiskConfig struct {
	RuleWeight    float64 `json:"ruleWeight"`
	KeywordWeight float64 `json:"keywordWeight"`

	// FlagThreshold is the lowest combined score that needs manual review.
	FlagThreshold int `json:"flagThreshold"`
	// BlockThreshold is the lowest combined score that is blocked.
	BlockThreshold int `json:"blockThreshold"`
}

// DefaultRiskConfig returns the standard 60/40 blend with 60/90 thresholds.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		RuleWeight:     0.6,
		KeywordWeight:  0.4,
		FlagThreshold:  60,
		BlockThreshold: 90,
	}
}

// Validate checks that 0 <= FlagThreshold <= BlockThreshold <= 100.
func (r RiskConfig) Validate() error {
	if r.FlagThreshold < 0 || r.BlockThreshold > 100 || r.FlagThreshold > r.BlockThreshold {
		return fmt.Errorf("risk thresholds must satisfy 0 <= flag <= block <= 100, got flag=%d block=%d",
			r.FlagThreshold, r.BlockThreshold)
	}
	return nil
}

// RefDataConfig holds caching settings for reference data.
type RefDataConfig struct {
	KeywordTTL time.Duration `json:"keywordTtl"`
	CountryTTL time.Duration `json:"countryTtl"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Risk: DefaultRiskConfig(),
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		RefData: RefDataConfig{
			KeywordTTL: time.Minute,
			CountryTTL: 10 * time.Minute,
		},
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

// ProConfig returns a configuration for Pro tier.
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
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       30 * time.Second,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.AsyncWorker = true
	cfg.Tracing.Enabled = true
	return cfg
}

// LoadConfigFromEnv picks the tier from KESTREL_TIER and applies KESTREL_*
// overrides on top of it.
func LoadConfigFromEnv() *Config {
	cfg := DefaultConfig()
	if strings.EqualFold(os.Getenv("KESTREL_TIER"), string(TierPro)) {
		cfg = ProConfig()
	}

	setString(&cfg.Server.Host, "KESTREL_HOST")
	setInt(&cfg.Server.Port, "KESTREL_PORT")

	setString(&cfg.Repository.Driver, "KESTREL_DB_DRIVER")
	setString(&cfg.Repository.SQLitePath, "KESTREL_SQLITE_PATH")
	setString(&cfg.Repository.PostgresHost, "KESTREL_PG_HOST")
	setInt(&cfg.Repository.PostgresPort, "KESTREL_PG_PORT")
	setString(&cfg.Repository.PostgresUser, "KESTREL_PG_USER")
	setString(&cfg.Repository.PostgresPassword, "KESTREL_PG_PASSWORD")
	setString(&cfg.Repository.PostgresDB, "KESTREL_PG_DB")
	setString(&cfg.Repository.PostgresSSLMode, "KESTREL_PG_SSLMODE")

	setString(&cfg.Cache.Type, "KESTREL_CACHE")
	setString(&cfg.Cache.RedisAddr, "KESTREL_REDIS_ADDR")
	setString(&cfg.Cache.RedisPassword, "KESTREL_REDIS_PASSWORD")

	setString(&cfg.EventBus.Type, "KESTREL_BUS")
	setString(&cfg.EventBus.NATSUrl, "KESTREL_NATS_URL")
	setString(&cfg.EventBus.NATSToken, "KESTREL_NATS_TOKEN")

	tierRisk := cfg.Risk
	setInt(&cfg.Risk.FlagThreshold, "KESTREL_FLAG_THRESHOLD")
	setInt(&cfg.Risk.BlockThreshold, "KESTREL_BLOCK_THRESHOLD")
	if err := cfg.Risk.Validate(); err != nil {
		slog.Warn("ignoring threshold overrides", "error", err)
		cfg.Risk = tierRisk
	}

	setString(&cfg.Logging.Level, "KESTREL_LOG_LEVEL")
	setString(&cfg.Logging.Format, "KESTREL_LOG_FORMAT")
	if os.Getenv("KESTREL_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
	if v := os.Getenv("KESTREL_ASYNC_WORKER"); v != "" {
		cfg.AsyncWorker = v == "true"
	}

	return cfg
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
