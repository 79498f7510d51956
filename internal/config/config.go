package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Sync     SyncConfig     `yaml:"sync"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Storage  StorageConfig  `yaml:"storage"`
	Economy  EconomyConfig  `yaml:"economy"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	KeyPrefix    string        `yaml:"key_prefix"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	GroupID      string        `yaml:"group_id"`
	Enabled      bool          `yaml:"enabled"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

// SyncConfig holds the balance mirror worker configuration
type SyncConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
	Enabled   bool          `yaml:"enabled"`
}

// AnalysisConfig holds the scheduled weekly analysis configuration
type AnalysisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// StorageConfig holds file persistence configuration
type StorageConfig struct {
	DataDir                 string `yaml:"data_dir"`
	MaxBackups              int    `yaml:"max_backups"`
	JournalFlushSize        int    `yaml:"journal_flush_size"`
	JournalSegmentThreshold int    `yaml:"journal_segment_threshold"`
	JournalMaxSegments      int    `yaml:"journal_max_segments"`
	StoreReports            bool   `yaml:"store_reports"`
}

// JournalDir returns the directory holding journal segments
func (c *StorageConfig) JournalDir() string {
	return filepath.Join(c.DataDir, "journal")
}

// EconomyConfig holds wallet defaults and monitoring thresholds
type EconomyConfig struct {
	InitialSoft              int64   `yaml:"initial_soft"`
	InitialPremium           int64   `yaml:"initial_premium"`
	InitialCoachingCredit    int64   `yaml:"initial_coaching_credit"`
	CoachingCreditCap        int64   `yaml:"coaching_credit_cap"`
	InflationThreshold       float64 `yaml:"inflation_threshold"`
	InflationCritical        float64 `yaml:"inflation_critical"`
	LookbackWeeks            int     `yaml:"lookback_weeks"`
	ScarcityThreshold        float64 `yaml:"scarcity_threshold"`
	ScarcityAlertPercentage  float64 `yaml:"scarcity_alert_percentage"`
	ScarcityWarnPercentage   float64 `yaml:"scarcity_warn_percentage"`
	ScarcityCritPercentage   float64 `yaml:"scarcity_critical_percentage"`
	BonusInflationThreshold  float64 `yaml:"bonus_inflation_threshold"`
	BonusCapWarning          float64 `yaml:"bonus_cap_warning"`
	BankruptcyPlayerCritical int     `yaml:"bankruptcy_player_critical"`
	TopPerformers            int     `yaml:"top_performers"`
}

// MetricsConfig holds Prometheus exposition configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 20
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 2
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "economy"
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 20
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 2
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "economy-transactions"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "economy-consumer"
	}
	if c.Kafka.BatchSize == 0 {
		c.Kafka.BatchSize = 100
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = 1 * time.Second
	}

	// Sync defaults
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 5 * time.Minute
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 500
	}

	// Analysis defaults
	if c.Analysis.Schedule == "" {
		c.Analysis.Schedule = "@weekly"
	}

	// Storage defaults
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "economy_data"
	}
	if c.Storage.MaxBackups == 0 {
		c.Storage.MaxBackups = 10
	}
	if c.Storage.JournalFlushSize == 0 {
		c.Storage.JournalFlushSize = 10
	}
	if c.Storage.JournalSegmentThreshold == 0 {
		c.Storage.JournalSegmentThreshold = 1000
	}
	if c.Storage.JournalMaxSegments == 0 {
		c.Storage.JournalMaxSegments = 100
	}

	c.Economy.applyDefaults()

	// Metrics defaults
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

func (e *EconomyConfig) applyDefaults() {
	if e.InitialSoft == 0 {
		e.InitialSoft = 1000
	}
	if e.InitialPremium == 0 {
		e.InitialPremium = 50
	}
	if e.InitialCoachingCredit == 0 {
		e.InitialCoachingCredit = 20
	}
	if e.CoachingCreditCap == 0 {
		e.CoachingCreditCap = 100
	}
	if e.InflationThreshold == 0 {
		e.InflationThreshold = 0.15
	}
	if e.InflationCritical == 0 {
		e.InflationCritical = 0.3
	}
	if e.LookbackWeeks == 0 {
		e.LookbackWeeks = 4
	}
	if e.ScarcityThreshold == 0 {
		e.ScarcityThreshold = 0.3
	}
	if e.ScarcityAlertPercentage == 0 {
		e.ScarcityAlertPercentage = 50
	}
	if e.ScarcityWarnPercentage == 0 {
		e.ScarcityWarnPercentage = 40
	}
	if e.ScarcityCritPercentage == 0 {
		e.ScarcityCritPercentage = 60
	}
	if e.BonusInflationThreshold == 0 {
		e.BonusInflationThreshold = 0.3
	}
	if e.BonusCapWarning == 0 {
		e.BonusCapWarning = 0.5
	}
	if e.BankruptcyPlayerCritical == 0 {
		e.BankruptcyPlayerCritical = 5
	}
	if e.TopPerformers == 0 {
		e.TopPerformers = 10
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Storage.StoreReports = true
	cfg.Metrics.Enabled = true
	return cfg
}

// DefaultEconomyConfig returns the economy thresholds with defaults applied
func DefaultEconomyConfig() EconomyConfig {
	var e EconomyConfig
	e.applyDefaults()
	return e
}
