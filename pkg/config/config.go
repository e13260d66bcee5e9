// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Storage, Indexer, Search, Redis, Kafka, Postgres, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage engine names accepted by StorageConfig.Engine.
const (
	EngineLog    = "log"
	EngineSQLite = "sqlite"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Indexer  IndexerConfig  `yaml:"indexer"`
	Search   SearchConfig   `yaml:"search"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Postgres PostgresConfig `yaml:"postgres"`
	Watcher  WatcherConfig  `yaml:"watcher"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// RateLimit is the number of API requests each client IP may make per
	// minute. Zero disables limiting.
	RateLimit int `yaml:"rateLimit"`
}

// StorageConfig selects the storage backend and where its files live.
type StorageConfig struct {
	DataDir    string `yaml:"dataDir"`
	Engine     string `yaml:"engine"`
	SyncWrites bool   `yaml:"syncWrites"`
}

// IndexerConfig controls tokenization, ranking constants and how often the
// inverted index is checkpointed next to the store.
type IndexerConfig struct {
	Tokenizer          TokenizerConfig `yaml:"tokenizer"`
	Ranking            RankingConfig   `yaml:"ranking"`
	Excerpt            ExcerptConfig   `yaml:"excerpt"`
	CheckpointEvery    int             `yaml:"checkpointEvery"`
	CheckpointInterval time.Duration   `yaml:"checkpointInterval"`
}

// TokenizerConfig selects the tokenizer strategy.
type TokenizerConfig struct {
	MinLength int  `yaml:"minLength"`
	Stem      bool `yaml:"stem"`
}

// RankingConfig holds the BM25 constants.
type RankingConfig struct {
	K1 float64 `yaml:"k1"`
	B  float64 `yaml:"b"`
}

// ExcerptConfig controls search-result snippets.
type ExcerptConfig struct {
	Window   int    `yaml:"window"`
	StartTag string `yaml:"startTag"`
	EndTag   string `yaml:"endTag"`
	Ellipsis string `yaml:"ellipsis"`
}

// SearchConfig controls query and listing limits.
type SearchConfig struct {
	DefaultLimit int `yaml:"defaultLimit"`
	MaxResults   int `yaml:"maxResults"`
	LatestLimit  int `yaml:"latestLimit"`
	LatestMonths int `yaml:"latestMonths"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	EntryUpsert   string `yaml:"entryUpsert"`
	IndexComplete string `yaml:"indexComplete"`
}

// PostgresConfig holds PostgreSQL connection parameters for bulk imports.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	Table           string        `yaml:"table"`
	BatchSize       int           `yaml:"batchSize"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// WatcherConfig controls which files the directory watcher indexes. Prefix
// is prepended to every page ID; the watcher owns the stored entries under
// it and removes those whose page is gone.
type WatcherConfig struct {
	Root       string        `yaml:"root"`
	Prefix     string        `yaml:"prefix"`
	Extensions []string      `yaml:"extensions"`
	Debounce   time.Duration `yaml:"debounce"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with defaults suitable for local use.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			DataDir:    "data",
			Engine:     EngineLog,
			SyncWrites: true,
		},
		Indexer: IndexerConfig{
			Tokenizer: TokenizerConfig{MinLength: 1},
			Ranking:   RankingConfig{K1: 1.2, B: 0.75},
			Excerpt: ExcerptConfig{
				Window:   15,
				StartTag: "<b>",
				EndTag:   "</b>",
				Ellipsis: "...",
			},
			CheckpointEvery:    500,
			CheckpointInterval: 5 * time.Minute,
		},
		Search: SearchConfig{
			DefaultLimit: 50,
			MaxResults:   500,
			LatestLimit:  20,
			LatestMonths: 3,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "wikindex",
			Topics: KafkaTopics{
				EntryUpsert:   "entry-upsert",
				IndexComplete: "index-complete",
			},
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "wiki",
			User:            "wiki",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
			Table:           "documents",
			BatchSize:       500,
		},
		Watcher: WatcherConfig{
			Root:       "space",
			Extensions: []string{".md", ".txt", ".textile", ".rst"},
			Debounce:   250 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case EngineLog, EngineSQLite:
	default:
		return fmt.Errorf("invalid storage engine %q (want %q or %q)", c.Storage.Engine, EngineLog, EngineSQLite)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.dataDir is required")
	}
	if c.Indexer.Tokenizer.MinLength < 1 {
		return fmt.Errorf("indexer.tokenizer.minLength must be at least 1, got %d", c.Indexer.Tokenizer.MinLength)
	}
	if c.Indexer.Ranking.K1 < 0 || c.Indexer.Ranking.B < 0 || c.Indexer.Ranking.B > 1 {
		return fmt.Errorf("invalid ranking constants k1=%v b=%v", c.Indexer.Ranking.K1, c.Indexer.Ranking.B)
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxResults <= 0 || c.Search.LatestLimit <= 0 || c.Search.LatestMonths <= 0 {
		return fmt.Errorf("search limits must be positive")
	}
	return nil
}

// applyEnvOverrides reads WIKINDEX_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WIKINDEX_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("WIKINDEX_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("WIKINDEX_STORAGE_ENGINE"); v != "" {
		cfg.Storage.Engine = v
	}
	if v := os.Getenv("WIKINDEX_SYNC_WRITES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Storage.SyncWrites = b
		}
	}
	if v := os.Getenv("WIKINDEX_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("WIKINDEX_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("WIKINDEX_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
		cfg.Kafka.Enabled = true
	}
	if v := os.Getenv("WIKINDEX_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("WIKINDEX_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("WIKINDEX_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("WIKINDEX_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("WIKINDEX_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("WIKINDEX_WATCH_ROOT"); v != "" {
		cfg.Watcher.Root = v
	}
	if v := os.Getenv("WIKINDEX_WATCH_PREFIX"); v != "" {
		cfg.Watcher.Prefix = v
	}
	if v := os.Getenv("WIKINDEX_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("WIKINDEX_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
