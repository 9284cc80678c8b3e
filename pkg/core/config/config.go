// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/leseb/docqa/pkg/observability/logging"
)

// Config represents the main configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   logging.Config  `yaml:"logging"`
	Data      DataConfig      `yaml:"data"`
	Sources   SourcesConfig   `yaml:"sources"`
	History   HistoryConfig   `yaml:"history"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Answer    AnswerConfig    `yaml:"answer"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host    string        `yaml:"host"`
	Port    int           `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"`

	// MaxUploadBytes caps a single document upload.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

// DataConfig locates the on-disk tree (sources, vectorstores, logos).
type DataConfig struct {
	Root string `yaml:"root"`
}

// SourcesConfig selects where uploaded PDFs live.
type SourcesConfig struct {
	Backend string   `yaml:"backend"` // "filesystem" (default) or "s3"
	S3      S3Config `yaml:"s3"`
}

// S3Config contains S3/MinIO settings for the s3 sources backend.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Prefix   string `yaml:"prefix"`
	Endpoint string `yaml:"endpoint"` // custom endpoint for MinIO
}

// HistoryConfig selects the ingestion history backend.
type HistoryConfig struct {
	Backend string `yaml:"backend"` // "sqlite" (default), "postgres" or "memory"
	Path    string `yaml:"path"`    // sqlite file, default <data.root>/history.db
	DSN     string `yaml:"dsn"`     // postgres connection string
}

// EmbeddingConfig contains embedding provider configuration
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider"` // "hashing" (default, lexical only), "openai" or "ollama"
	Endpoint          string  `yaml:"endpoint"` // e.g. "https://api.openai.com/v1"
	APIKey            string  `yaml:"api_key"`
	Model             string  `yaml:"model"`
	Dimensions        int     `yaml:"dimensions"`
	MaxRetries        int     `yaml:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BatchSize         int     `yaml:"batch_size"`

	// Serialize wraps a provider that is not safe for concurrent use.
	Serialize bool `yaml:"serialize"`
}

// ChunkingConfig selects the splitter.
type ChunkingConfig struct {
	Profile  string `yaml:"profile"`  // "default" (1000/200) or "compact" (800/100)
	Strategy string `yaml:"strategy"` // "fixed" (default) or "recursive"
}

// IngestConfig tunes relearn.
type IngestConfig struct {
	Policy        string        `yaml:"policy"` // "wait" (default) or "reject"
	MaxChunks     int           `yaml:"max_chunks"`
	BuildAttempts int           `yaml:"build_attempts"`
	BuildDelay    time.Duration `yaml:"build_delay"`
	Workers       int           `yaml:"workers"`
}

// RetrievalConfig tunes queries.
type RetrievalConfig struct {
	DefaultK int           `yaml:"default_k"`
	MaxK     int           `yaml:"max_k"`
	BusyWait time.Duration `yaml:"busy_wait"`
}

// LifecycleConfig tunes store opening and recovery.
type LifecycleConfig struct {
	RecoverDelay time.Duration `yaml:"recover_delay"`
	OpenAttempts int           `yaml:"open_attempts"`
	OpenDelay    time.Duration `yaml:"open_delay"`
}

// AnswerConfig contains completion backend configuration. An empty Backend
// disables answering.
type AnswerConfig struct {
	Backend         string        `yaml:"backend"` // "openai", "gemini" or ""
	Endpoint        string        `yaml:"endpoint"`
	APIKey          string        `yaml:"api_key"`
	Models          []string      `yaml:"models"`
	MaxContextChars int           `yaml:"max_context_chars"`
	K               int           `yaml:"k"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Environment variables override file config
	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns default configuration
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			Timeout: 60 * time.Second,
		},
		Logging: logging.Config{Level: "info", Format: "text"},
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	envString("DOCQA_DATA_DIR", &cfg.Data.Root)
	envString("LOG_LEVEL", &cfg.Logging.Level)
	envString("LOG_FORMAT", &cfg.Logging.Format)

	envString("SOURCES_BACKEND", &cfg.Sources.Backend)
	if v := os.Getenv("SOURCES_S3_BUCKET"); v != "" {
		cfg.Sources.S3.Bucket = v
		cfg.Sources.Backend = "s3"
	}
	envString("SOURCES_S3_ENDPOINT", &cfg.Sources.S3.Endpoint)
	envString("AWS_REGION", &cfg.Sources.S3.Region)

	if v := os.Getenv("HISTORY_POSTGRES_DSN"); v != "" {
		cfg.History.DSN = v
		cfg.History.Backend = "postgres"
	}

	envString("EMBEDDING_PROVIDER", &cfg.Embedding.Provider)
	envString("EMBEDDING_ENDPOINT", &cfg.Embedding.Endpoint)
	envString("EMBEDDING_API_KEY", &cfg.Embedding.APIKey)
	envString("EMBEDDING_MODEL", &cfg.Embedding.Model)

	envString("ANSWER_BACKEND", &cfg.Answer.Backend)
	envString("ANSWER_ENDPOINT", &cfg.Answer.Endpoint)
	if v := os.Getenv("ANSWER_MODELS"); v != "" {
		cfg.Answer.Models = splitList(v)
	}
	// Provider keys fill in whatever was not set explicitly.
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if cfg.Embedding.Provider == "openai" && cfg.Embedding.APIKey == "" {
			cfg.Embedding.APIKey = v
		}
		if cfg.Answer.Backend == "openai" && cfg.Answer.APIKey == "" {
			cfg.Answer.APIKey = v
		}
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && cfg.Answer.Backend == "gemini" && cfg.Answer.APIKey == "" {
		cfg.Answer.APIKey = v
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	if cfg.Data.Root == "" {
		cfg.Data.Root = "data"
	}
	if cfg.Sources.Backend == "" {
		cfg.Sources.Backend = "filesystem"
	}
	applyHistoryDefaults(&cfg.History, cfg.Data.Root)
	applyEmbeddingDefaults(&cfg.Embedding)
	if cfg.Chunking.Profile == "" {
		cfg.Chunking.Profile = "default"
	}
	if cfg.Chunking.Strategy == "" {
		cfg.Chunking.Strategy = "fixed"
	}
	applyIngestDefaults(&cfg.Ingest)
	applyRetrievalDefaults(&cfg.Retrieval)
	applyLifecycleDefaults(&cfg.Lifecycle)
	applyAnswerDefaults(&cfg.Answer)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 64 << 20
	}
}

func applyHistoryDefaults(cfg *HistoryConfig, root string) {
	if cfg.Backend == "" {
		cfg.Backend = "sqlite"
	}
	if cfg.Backend == "sqlite" && cfg.Path == "" {
		cfg.Path = filepath.Join(root, "history.db")
	}
}

func applyEmbeddingDefaults(cfg *EmbeddingConfig) {
	if cfg.Provider == "" {
		cfg.Provider = "hashing"
	}
	switch cfg.Provider {
	case "hashing":
		if cfg.Dimensions == 0 {
			cfg.Dimensions = 384
		}
	case "openai":
		if cfg.Model == "" {
			cfg.Model = "text-embedding-3-small"
		}
		if cfg.Dimensions == 0 {
			cfg.Dimensions = 1536
		}
	case "ollama":
		if cfg.Model == "" {
			cfg.Model = "nomic-embed-text"
		}
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 64
	}
}

func applyIngestDefaults(cfg *IngestConfig) {
	if cfg.Policy == "" {
		cfg.Policy = "wait"
	}
	if cfg.MaxChunks == 0 {
		cfg.MaxChunks = 5000
	}
	if cfg.BuildAttempts == 0 {
		cfg.BuildAttempts = 3
	}
	if cfg.BuildDelay == 0 {
		cfg.BuildDelay = 200 * time.Millisecond
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
}

func applyRetrievalDefaults(cfg *RetrievalConfig) {
	if cfg.DefaultK == 0 {
		cfg.DefaultK = 4
	}
	if cfg.MaxK == 0 {
		cfg.MaxK = 50
	}
	if cfg.BusyWait == 0 {
		cfg.BusyWait = 2 * time.Second
	}
}

func applyLifecycleDefaults(cfg *LifecycleConfig) {
	if cfg.RecoverDelay == 0 {
		cfg.RecoverDelay = 500 * time.Millisecond
	}
	if cfg.OpenAttempts == 0 {
		cfg.OpenAttempts = 2
	}
	if cfg.OpenDelay == 0 {
		cfg.OpenDelay = 100 * time.Millisecond
	}
}

func applyAnswerDefaults(cfg *AnswerConfig) {
	if len(cfg.Models) == 0 {
		switch cfg.Backend {
		case "openai":
			cfg.Models = []string{"gpt-4o-mini"}
		case "gemini":
			cfg.Models = []string{"gemini-2.0-flash", "gemini-2.0-flash-lite"}
		}
	}
	if cfg.MaxContextChars == 0 {
		cfg.MaxContextChars = 6000
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout == 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	if c.Ingest.Policy != "wait" && c.Ingest.Policy != "reject" {
		return fmt.Errorf("ingest.policy must be \"wait\" or \"reject\", got %q", c.Ingest.Policy)
	}
	if c.Retrieval.DefaultK > c.Retrieval.MaxK {
		return fmt.Errorf("retrieval.default_k (%d) exceeds retrieval.max_k (%d)", c.Retrieval.DefaultK, c.Retrieval.MaxK)
	}
	if c.Ingest.MaxChunks < 0 || c.Ingest.BuildAttempts < 0 {
		return fmt.Errorf("ingest limits must not be negative")
	}
	if c.Sources.Backend == "s3" && c.Sources.S3.Bucket == "" {
		return fmt.Errorf("sources.s3.bucket is required for the s3 backend")
	}
	if c.History.Backend == "postgres" && c.History.DSN == "" {
		return fmt.Errorf("history.dsn is required for the postgres backend")
	}
	return nil
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// Params renders the embedding section as provider factory parameters.
func (e EmbeddingConfig) Params() map[string]string {
	p := map[string]string{}
	set := func(k, v string) {
		if v != "" {
			p[k] = v
		}
	}
	set("base_url", e.Endpoint)
	set("api_key", e.APIKey)
	set("model", e.Model)
	if e.Dimensions > 0 {
		p["dimensions"] = strconv.Itoa(e.Dimensions)
	}
	if e.MaxRetries > 0 {
		p["max_retries"] = strconv.Itoa(e.MaxRetries)
	}
	if e.RequestsPerSecond > 0 {
		p["requests_per_second"] = strconv.FormatFloat(e.RequestsPerSecond, 'f', -1, 64)
	}
	return p
}

// SourcesParams renders the sources section as backend factory parameters.
func (c *Config) SourcesParams() map[string]string {
	if c.Sources.Backend == "s3" {
		return map[string]string{
			"bucket":   c.Sources.S3.Bucket,
			"region":   c.Sources.S3.Region,
			"prefix":   c.Sources.S3.Prefix,
			"endpoint": c.Sources.S3.Endpoint,
		}
	}
	return map[string]string{"base_dir": filepath.Join(c.Data.Root, "sources")}
}

// Params renders the history section as backend factory parameters.
func (h HistoryConfig) Params() map[string]string {
	return map[string]string{"path": h.Path, "dsn": h.DSN}
}

// Params renders the answer section as completer factory parameters.
func (a AnswerConfig) Params() map[string]string {
	p := map[string]string{}
	if a.Endpoint != "" {
		p["base_url"] = a.Endpoint
	}
	if a.APIKey != "" {
		p["api_key"] = a.APIKey
	}
	return p
}
