package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"bhoomi/internal/apperr"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalid         = errors.New("invalid configuration")
)

type Config struct {
	// Providers
	GeminiAPIKey    string        `envconfig:"GEMINI_API_KEY"`
	EmbedModel      string        `envconfig:"EMBED_MODEL" default:"text-embedding-004"`
	EmbedDimension  int           `envconfig:"EMBED_DIMENSION" default:"768"`
	ChatModel       string        `envconfig:"CHAT_MODEL" default:"gemini-1.5-flash"`
	Temperature     float32       `envconfig:"TEMPERATURE" default:"0"`
	ProviderTimeout time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"60s"`

	// Ingestion
	DataRoot               string        `envconfig:"DATA_ROOT" default:"data"`
	IndexDir               string        `envconfig:"INDEX_DIR"`
	DocumentExtensions     []string      `envconfig:"DOCUMENT_EXTENSIONS" default:".pdf,.txt,.md"`
	ChunkSize              int           `envconfig:"CHUNK_SIZE" default:"1000"`
	ChunkOverlap           int           `envconfig:"CHUNK_OVERLAP" default:"200"`
	BatchSize              int           `envconfig:"BATCH_SIZE" default:"10"`
	BatchInterval          time.Duration `envconfig:"BATCH_INTERVAL" default:"1500ms"`
	MaxConsecutiveFailures int           `envconfig:"MAX_CONSECUTIVE_FAILURES" default:"3"`
	RebuildIndex           bool          `envconfig:"REBUILD_INDEX" default:"false"`
	DistanceMetric         string        `envconfig:"DISTANCE_METRIC" default:"cosine"`

	// Answering
	TopK          int    `envconfig:"TOP_K" default:"4"`
	HistoryWindow int    `envconfig:"HISTORY_WINDOW" default:"6"`
	PromptPath    string `envconfig:"PROMPT_PATH"`

	// Server
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	DevMode      bool   `envconfig:"DEV_MODE" default:"false"`

	// Postgres (exchange log). Empty DB_HOST disables it.
	DBHost        string `envconfig:"DB_HOST"`
	DBPort        int    `envconfig:"DB_PORT" default:"5432"`
	DBUser        string `envconfig:"DB_USER" default:"bhoomi"`
	DBPass        string `envconfig:"DB_PASS" default:"password"`
	DBName        string `envconfig:"DB_NAME" default:"bhoomi"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Weaviate mirror. Empty WEAVIATE_HOST disables it.
	WeaviateHost   string `envconfig:"WEAVIATE_HOST"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	// NSQ rebuild requests. Empty NSQD_HOST disables it.
	NSQDHost   string `envconfig:"NSQD_HOST"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`

	// Redis answer cache. Empty REDIS_ADDR disables it.
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"1h"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Ignore errors, env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, apperr.Configuration("config.Load", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, apperr.Configuration("config.Load", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY", ErrMissingRequired)
	}
	if c.DataRoot == "" {
		return fmt.Errorf("%w: DATA_ROOT", ErrMissingRequired)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: CHUNK_SIZE must be positive", ErrInvalid)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: CHUNK_OVERLAP must be in [0, CHUNK_SIZE)", ErrInvalid)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: BATCH_SIZE must be positive", ErrInvalid)
	}
	if c.BatchInterval < 0 {
		return fmt.Errorf("%w: BATCH_INTERVAL must not be negative", ErrInvalid)
	}
	if c.EmbedDimension < 0 {
		return fmt.Errorf("%w: EMBED_DIMENSION must not be negative", ErrInvalid)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("%w: TOP_K must be positive", ErrInvalid)
	}
	if c.HistoryWindow < 0 {
		return fmt.Errorf("%w: HISTORY_WINDOW must not be negative", ErrInvalid)
	}
	switch strings.ToLower(c.DistanceMetric) {
	case "cosine", "l2":
	default:
		return fmt.Errorf("%w: DISTANCE_METRIC %q", ErrInvalid, c.DistanceMetric)
	}
	return nil
}

// IndexLocation is where the vector index is persisted: INDEX_DIR when set,
// otherwise <DATA_ROOT>/vector_db.
func (c *Config) IndexLocation() string {
	if c.IndexDir != "" {
		return c.IndexDir
	}
	return filepath.Join(c.DataRoot, "vector_db")
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}
