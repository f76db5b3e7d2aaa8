package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/kailas-cloud/ragchat/internal/db"
)

// Config holds the ragchat service configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Completion CompletionConfig `yaml:"completion"`
	RAG        RAGConfig        `yaml:"rag"`
	Chat       ChatConfig       `yaml:"chat"`
	Storage    StorageConfig    `yaml:"storage"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// TracingConfig holds OpenTelemetry export settings.
type TracingConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint"` // empty disables export
	SampleRate   float64 `yaml:"sample_rate"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port             int `yaml:"port"`
	ReadTimeoutSec   int `yaml:"read_timeout_sec"`
	WriteTimeoutSec  int `yaml:"write_timeout_sec"`
	ShutdownSec      int `yaml:"shutdown_timeout_sec"`
	StreamTimeoutSec int `yaml:"stream_timeout_sec"` // write deadline for /chat streams
}

// Driver names accepted in database.driver.
const (
	DriverValkey = "valkey"
	DriverRedis  = "redis"
	DriverQdrant = "qdrant"
)

// DatabaseConfig holds vector store connection settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // valkey, redis, qdrant (default: valkey)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// EmbeddingConfig holds the embedding model settings.
type EmbeddingConfig struct {
	BaseURL             string `yaml:"base_url"`
	APIKey              string `yaml:"api_key"`
	Model               string `yaml:"model"`
	Dimensions          int    `yaml:"dimensions"`
	QueryInstruction    string `yaml:"query_instruction"`
	DocumentInstruction string `yaml:"document_instruction"`
	TimeoutSec          int    `yaml:"timeout_sec"`
	Retries             *int   `yaml:"retries"` // nil means 1
	Cache               bool   `yaml:"cache"`
	CacheTTLSec         int    `yaml:"cache_ttl_sec"` // 0 keeps entries forever
	MaxBatch            int    `yaml:"max_batch"`     // texts per request, 0 means 256
}

// CompletionConfig holds the chat model settings.
type CompletionConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	TimeoutSec  int     `yaml:"timeout_sec"`
}

// RAGConfig holds chunking and retrieval knobs.
type RAGConfig struct {
	ChunkSize          int      `yaml:"chunk_size"`
	ChunkOverlap       *int     `yaml:"chunk_overlap"` // nil means 200; 0 disables overlap
	PreRankN           int      `yaml:"pre_rank_n"`
	TopN               int      `yaml:"top_n"`
	DistanceThreshold  *float64 `yaml:"distance_threshold"` // nil means 0.95; 0 keeps exact matches only
	RetrievalTimeoutMS int      `yaml:"retrieval_timeout_ms"`
	IndexAlgorithm     string   `yaml:"index_algorithm"`
	HNSWM              int      `yaml:"hnsw_m"`
	HNSWEFConstruct    int      `yaml:"hnsw_ef_construction"`
}

// ChatConfig holds conversation settings.
type ChatConfig struct {
	MaxHistory        int    `yaml:"max_history"`
	MaxRecentMessages int    `yaml:"max_recent_messages"`
	SystemPrompt      string `yaml:"system_prompt"`
}

// StorageConfig holds key and filesystem layout.
type StorageConfig struct {
	KeyPrefix   string `yaml:"key_prefix"`
	Collection  string `yaml:"collection"`
	InboxDir    string `yaml:"inbox_dir"`
	DoneDir     string `yaml:"done_dir"`
	WatchInbox  bool   `yaml:"watch_inbox"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	c.applyHTTPDefaults()
	c.applyProviderDefaults()
	c.applyRAGDefaults()

	if c.Database.Driver == "" {
		c.Database.Driver = DriverValkey
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Chat.MaxHistory <= 0 {
		c.Chat.MaxHistory = 20
	}
	if c.Chat.MaxRecentMessages <= 0 {
		c.Chat.MaxRecentMessages = min(10, c.Chat.MaxHistory)
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "ragchat:"
	}
	if c.Storage.Collection == "" {
		c.Storage.Collection = "breezeai_knowledge"
	}
	if c.Storage.InboxDir == "" {
		c.Storage.InboxDir = "data/documents"
	}
	if c.Storage.DoneDir == "" {
		c.Storage.DoneDir = "data/done_documents"
	}
	if c.Storage.MaxUploadMB <= 0 {
		c.Storage.MaxUploadMB = 50
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = 1
	}
	// An unset ${VAR:-} entry leaves an empty key that must not authenticate.
	c.Auth.APIKeys = slices.DeleteFunc(c.Auth.APIKeys, func(k string) bool { return k == "" })
}

func (c *Config) applyHTTPDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.StreamTimeoutSec <= 0 {
		c.HTTP.StreamTimeoutSec = 300
	}
}

func (c *Config) applyProviderDefaults() {
	if c.Embedding.BaseURL == "" {
		c.Embedding.BaseURL = "http://localhost:11434/v1"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "nomic-embed-text"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 768
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 30
	}
	if c.Embedding.Retries == nil {
		one := 1
		c.Embedding.Retries = &one
	}
	if c.Completion.BaseURL == "" {
		c.Completion.BaseURL = c.Embedding.BaseURL
	}
	if c.Completion.Model == "" {
		c.Completion.Model = "qwen3:8b"
	}
	if c.Completion.TimeoutSec <= 0 {
		c.Completion.TimeoutSec = 300
	}
}

func (c *Config) applyRAGDefaults() {
	if c.RAG.ChunkSize <= 0 {
		c.RAG.ChunkSize = 1000
	}
	if c.RAG.ChunkOverlap == nil {
		overlap := 200
		c.RAG.ChunkOverlap = &overlap
	}
	if c.RAG.PreRankN <= 0 {
		c.RAG.PreRankN = 50
	}
	if c.RAG.TopN <= 0 {
		c.RAG.TopN = 24
	}
	if c.RAG.DistanceThreshold == nil {
		threshold := 0.95
		c.RAG.DistanceThreshold = &threshold
	}
	if c.RAG.RetrievalTimeoutMS <= 0 {
		c.RAG.RetrievalTimeoutMS = 10000
	}
	if c.RAG.HNSWM <= 0 {
		c.RAG.HNSWM = 16
	}
	if c.RAG.HNSWEFConstruct <= 0 {
		c.RAG.HNSWEFConstruct = 200
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Database.Driver {
	case DriverValkey, DriverRedis, DriverQdrant:
	default:
		return fmt.Errorf("database.driver must be valkey, redis or qdrant, got %q", c.Database.Driver)
	}
	if len(c.Database.Addrs) == 0 {
		return errors.New("database.addrs is required")
	}
	if *c.Embedding.Retries < 0 {
		return fmt.Errorf("embedding.retries must be >= 0, got %d", *c.Embedding.Retries)
	}
	if overlap := *c.RAG.ChunkOverlap; overlap < 0 || overlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap (%d) must be in [0, rag.chunk_size (%d))",
			overlap, c.RAG.ChunkSize)
	}
	if c.RAG.TopN > c.RAG.PreRankN {
		return fmt.Errorf("rag.top_n (%d) must not exceed rag.pre_rank_n (%d)", c.RAG.TopN, c.RAG.PreRankN)
	}
	if _, err := db.ParseVectorAlgorithm(c.RAG.IndexAlgorithm); err != nil {
		return fmt.Errorf("rag.index_algorithm: %w", err)
	}
	if threshold := *c.RAG.DistanceThreshold; threshold < 0 || threshold > 2 {
		return fmt.Errorf("rag.distance_threshold must be within [0, 2], got %v", threshold)
	}
	if c.Chat.MaxRecentMessages > c.Chat.MaxHistory {
		return fmt.Errorf("chat.max_recent_messages (%d) must not exceed chat.max_history (%d)",
			c.Chat.MaxRecentMessages, c.Chat.MaxHistory)
	}
	if c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be within (0, 1], got %v", c.Tracing.SampleRate)
	}
	return nil
}

// StreamTimeout returns the chat stream write deadline.
func (c HTTPConfig) StreamTimeout() time.Duration {
	return time.Duration(c.StreamTimeoutSec) * time.Second
}

// Timeout returns the per-attempt embedding timeout.
func (c EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// Timeout returns the completion deadline.
func (c CompletionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// RetrievalTimeout returns the retrieval deadline.
func (c RAGConfig) RetrievalTimeout() time.Duration {
	return time.Duration(c.RetrievalTimeoutMS) * time.Millisecond
}
