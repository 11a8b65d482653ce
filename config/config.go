package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joripage/dex-matcher/pkg/engine"
	postgres_wrapper "github.com/joripage/dex-matcher/pkg/infra/postgres"
	redis_wrapper "github.com/joripage/dex-matcher/pkg/infra/redis"
	"github.com/joripage/dex-matcher/pkg/ledger"
	"github.com/joripage/dex-matcher/pkg/settlement"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	GroupID     string   `yaml:"group_id"`
	TradesTopic string   `yaml:"trades_topic"`
	DLQTopic    string   `yaml:"dlq_topic"`
	WorkerCount int      `yaml:"worker_count"`
	MaxRetries  int      `yaml:"max_retries"`
}

type LedgerConfig struct {
	Gateway ledger.HTTPConfig `yaml:"gateway"`
	Signer  ledger.HTTPConfig `yaml:"signer"`
}

type AppConfig struct {
	ServiceName  string                           `yaml:"service_name"`
	LogLevel     string                           `yaml:"log_level"`
	StoreBackend string                           `yaml:"store_backend"`
	MatcherDB    *postgres_wrapper.PostgresConfig `yaml:"matcher_db"`
	Redis        *redis_wrapper.RedisConfig       `yaml:"redis"`
	Kafka        KafkaConfig                      `yaml:"kafka"`
	Ledger       LedgerConfig                     `yaml:"ledger"`
	Settlement   settlement.Config                `yaml:"settlement"`
	Lock         engine.LockConfig                `yaml:"lock"`
	MetricsAddr  string                           `yaml:"metrics_addr"`
	// MigrationSource is where cmd/migrate reads the static schema from.
	MigrationSource string `yaml:"migration_source"`
}

// Load load config from file and environment variables.
func Load(filePath string) (*AppConfig, error) {
	if len(filePath) == 0 {
		filePath = os.Getenv("CONFIG_FILE")
	}

	fields := []interface{}{
		"func",
		"config.readFromFile",
		"filePath",
		filePath,
	}

	sugar := zap.S().With(fields...)

	sugar.Debug("Load config...")

	configBytes, err := os.ReadFile(filePath)
	if err != nil {
		sugar.Error("Failed to load config file")
		return nil, err
	}

	cfg, err := Parse(configBytes)
	if err != nil {
		sugar.Error("Failed to parse config file")
		return nil, err
	}

	zap.S().Debugf("config: %+v", cfg)

	return cfg, nil
}

// Parse expands ${ENV} references in raw, decodes it and validates the result.
func Parse(raw []byte) (*AppConfig, error) {
	raw = []byte(os.ExpandEnv(string(raw)))

	cfg := &AppConfig{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fills defaults and rejects configurations the matcher cannot run with.
func (c *AppConfig) Validate() error {
	if c.ServiceName == "" {
		c.ServiceName = "dex-matcher"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.StoreBackend == "" {
		c.StoreBackend = StoreMemory
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9090"
	}
	if c.MigrationSource == "" {
		c.MigrationSource = "file://migration/sql"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = c.ServiceName
	}
	if c.Kafka.TradesTopic == "" {
		c.Kafka.TradesTopic = "trades"
	}
	if c.Settlement.EventsTopic == "" {
		c.Settlement.EventsTopic = "settlements"
	}

	var errs []error
	switch c.StoreBackend {
	case StoreMemory:
	case StorePostgres:
		if c.MatcherDB == nil || c.MatcherDB.DataSource == "" {
			errs = append(errs, errors.New("matcher_db.data_source is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store_backend %q", c.StoreBackend))
	}
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required"))
	}
	if c.Ledger.Gateway.BaseURL == "" {
		errs = append(errs, errors.New("ledger.gateway.base_url is required"))
	}
	if c.Ledger.Signer.BaseURL == "" {
		errs = append(errs, errors.New("ledger.signer.base_url is required"))
	}
	if c.Lock.RedisLease && c.Redis == nil {
		errs = append(errs, errors.New("lock.redis_lease needs a redis section"))
	}
	return errors.Join(errs...)
}
