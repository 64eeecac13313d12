// Package config loads the groundwork service configuration from YAML
// with GROUNDWORK_* environment overrides. All knobs carry defaults so
// the binary runs with no config file at all.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the groundwork service.
type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	VectorDB   VectorDBConfig   `mapstructure:"vectordb"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Index      IndexConfig      `mapstructure:"index"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServiceConfig contains the HTTP service settings.
type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

// LLMConfig points at the OpenAI-compatible generation backend.
type LLMConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

// EmbeddingsConfig points at the embeddings backend and tunes its cache.
type EmbeddingsConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	Timeout   time.Duration `mapstructure:"timeout"`
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// VectorDBConfig points at the Qdrant instance holding the document index.
type VectorDBConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Collection     string        `mapstructure:"collection"`
	Timeout        time.Duration `mapstructure:"timeout"`
	TopK           int           `mapstructure:"top_k"`
	ScoreThreshold float64       `mapstructure:"score_threshold"`
}

// PipelineConfig tunes the orchestration loop.
type PipelineConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	RetrievalK int           `mapstructure:"retrieval_k"`
	RunTimeout time.Duration `mapstructure:"run_timeout"`
}

// IndexConfig tunes document ingestion.
type IndexConfig struct {
	SourceDir     string        `mapstructure:"source_dir"`
	ChunkSize     int           `mapstructure:"chunk_size"`
	ChunkOverlap  int           `mapstructure:"chunk_overlap"`
	EmbedBatch    int           `mapstructure:"embed_batch"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// RedisConfig enables the shared embedding cache tier when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DatabaseConfig enables the run archive when DSN is set. Driver is
// "postgres" or "sqlite3".
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// TracingConfig controls OTLP trace export.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads the configuration file (GROUNDWORK_CONFIG, then
// ./config/groundwork.yaml, then /etc/groundwork/groundwork.yaml) and
// applies GROUNDWORK_* environment overrides. A missing file is not an
// error; defaults apply.
func Load() (*Config, error) {
	cfg, _, err := load()
	return cfg, err
}

func load() (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GROUNDWORK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := configPath(); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return &cfg, v, nil
}

func configPath() string {
	if p := os.Getenv("GROUNDWORK_CONFIG"); p != "" {
		return p
	}
	for _, p := range []string{"./config/groundwork.yaml", "/etc/groundwork/groundwork.yaml"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.port", 8080)
	v.SetDefault("service.graceful_timeout", 15*time.Second)
	v.SetDefault("service.read_timeout", 30*time.Second)
	v.SetDefault("service.write_timeout", 10*time.Minute)

	v.SetDefault("llm.base_url", "http://localhost:8000/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", 120*time.Second)
	v.SetDefault("llm.requests_per_minute", 0)

	v.SetDefault("embeddings.base_url", "http://localhost:8000/v1")
	v.SetDefault("embeddings.model", "text-embedding-3-small")
	v.SetDefault("embeddings.timeout", 30*time.Second)
	v.SetDefault("embeddings.cache_size", 1000)
	v.SetDefault("embeddings.cache_ttl", time.Hour)

	v.SetDefault("vectordb.host", "localhost")
	v.SetDefault("vectordb.port", 6333)
	v.SetDefault("vectordb.collection", "groundwork")
	v.SetDefault("vectordb.timeout", 10*time.Second)
	v.SetDefault("vectordb.top_k", 7)
	v.SetDefault("vectordb.score_threshold", 0.0)

	v.SetDefault("pipeline.max_retries", 2)
	v.SetDefault("pipeline.retrieval_k", 7)
	v.SetDefault("pipeline.run_timeout", 10*time.Minute)

	v.SetDefault("index.source_dir", "./docs")
	v.SetDefault("index.chunk_size", 700)
	v.SetDefault("index.chunk_overlap", 120)
	v.SetDefault("index.embed_batch", 64)
	v.SetDefault("index.sweep_interval", time.Minute)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "groundwork")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Service.Port <= 0 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid service port %d", c.Service.Port)
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm base_url must be set")
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("pipeline max_retries must be >= 0, got %d", c.Pipeline.MaxRetries)
	}
	if c.Pipeline.RetrievalK <= 0 {
		return fmt.Errorf("pipeline retrieval_k must be > 0, got %d", c.Pipeline.RetrievalK)
	}
	if c.Index.ChunkSize <= 0 {
		return fmt.Errorf("index chunk_size must be > 0, got %d", c.Index.ChunkSize)
	}
	if c.Index.ChunkOverlap < 0 || c.Index.ChunkOverlap >= c.Index.ChunkSize {
		return fmt.Errorf("index chunk_overlap must be in [0, chunk_size), got %d", c.Index.ChunkOverlap)
	}
	if c.VectorDB.TopK <= 0 {
		return fmt.Errorf("vectordb top_k must be > 0, got %d", c.VectorDB.TopK)
	}
	switch c.Database.Driver {
	case "", "postgres", "sqlite3":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	return nil
}

// QdrantURL returns the base URL of the vector store.
func (c *VectorDBConfig) QdrantURL() string {
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}
