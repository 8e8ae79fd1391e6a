// Package config provides configuration loading for shelfd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Store backend identifiers.
const (
	StoreBackendEmbeddedDB = "embedded_db"
	StoreBackendFilesystem = "filesystem"
)

// Vector backend identifiers.
const (
	VectorBackendChromem = "chromem"
	VectorBackendQdrant  = "qdrant"
)

// Chunking strategies.
const (
	StrategyBaseline            = "baseline"
	StrategyMarkdownIntelligent = "markdown_intelligent"
	StrategyAuto                = "auto"
)

// Config is the root configuration tree.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Store     StoreConfig     `koanf:"store"`
	Vector    VectorConfig    `koanf:"vector"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	LLM       LLMConfig       `koanf:"llm"`
	Query     QueryConfig     `koanf:"query"`
	Sync      SyncConfig      `koanf:"sync"`
	Chunking  ChunkingConfig  `koanf:"chunking"`
	Crawl     CrawlConfig     `koanf:"crawl"`
}

// ServerConfig holds HTTP adapter settings.
type ServerConfig struct {
	Host          string   `koanf:"host"`
	Port          int      `koanf:"port"`
	SearchTimeout Duration `koanf:"search_timeout"`
	RAGTimeout    Duration `koanf:"rag_timeout"`
}

// StoreConfig selects and configures the collection store backend.
type StoreConfig struct {
	// Backend is embedded_db, filesystem, or an absolute path
	// (shorthand for filesystem rooted at that path).
	Backend string `koanf:"backend"`

	// DatabasePath is the sqlite file for embedded_db mode.
	DatabasePath string `koanf:"database_path"`

	// FilesystemRoot is the collections directory for filesystem mode.
	FilesystemRoot string `koanf:"filesystem_root"`

	// ReconcileInterval is the polling cadence for the filesystem
	// reconciler. Zero disables polling (on-demand only).
	ReconcileInterval Duration `koanf:"reconcile_interval"`
}

// VectorConfig configures the vector store backend.
type VectorConfig struct {
	Backend string `koanf:"backend"`

	// Path is the chromem persistence directory.
	Path string `koanf:"path"`

	// Qdrant connection settings (qdrant backend only).
	QdrantHost   string `koanf:"qdrant_host"`
	QdrantPort   int    `koanf:"qdrant_port"`
	QdrantAPIKey Secret `koanf:"qdrant_api_key"`
	QdrantUseTLS bool   `koanf:"qdrant_use_tls"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is openai, ollama, or mock.
	Provider  string `koanf:"provider"`
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	APIKey    Secret `koanf:"api_key"`
	BatchSize int    `koanf:"batch_size"`

	// Dimension overrides model-derived dimensionality when non-zero.
	Dimension int `koanf:"dimension"`
}

// LLMConfig configures the optional LLM provider.
type LLMConfig struct {
	Enabled bool `koanf:"enabled"`

	// Kind is hosted or local.
	Kind        string  `koanf:"kind"`
	Endpoint    string  `koanf:"endpoint"`
	Model       string  `koanf:"model"`
	APIKey      Secret  `koanf:"api_key"`
	Temperature float64 `koanf:"temperature"`
	MaxTokens   int     `koanf:"max_tokens"`

	// MaxConcurrent bounds in-flight LLM calls.
	MaxConcurrent int `koanf:"max_concurrent"`

	// RequestsPerSecond caps the call rate (0 = unlimited).
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// QueryConfig holds query pipeline feature flags and thresholds.
type QueryConfig struct {
	QueryExpansionEnabled   bool     `koanf:"query_expansion_enabled"`
	MaxQueryVariants        int      `koanf:"max_query_variants"`
	AutoRerankingEnabled    bool     `koanf:"auto_reranking_enabled"`
	RerankingThreshold      int      `koanf:"reranking_threshold"`
	SimilarityThreshold     float64  `koanf:"similarity_threshold"`
	ContextExpansionEnabled bool     `koanf:"context_expansion_enabled"`
	ExpansionCacheTTL       Duration `koanf:"expansion_cache_ttl"`
	ExpansionCacheSize      int      `koanf:"expansion_cache_size"`
	RAGTokenBudget          int      `koanf:"rag_token_budget"`
}

// SyncConfig holds sync coordinator tuning.
type SyncConfig struct {
	MaxFileConcurrency int      `koanf:"max_file_concurrency"`
	RetryAttempts      int      `koanf:"retry_attempts"`
	RetryBackoffBase   Duration `koanf:"retry_backoff_base"`
}

// ChunkingConfig holds chunking engine settings.
type ChunkingConfig struct {
	Strategy          string  `koanf:"strategy"`
	ChunkSize         int     `koanf:"chunk_size"`
	ChunkOverlapRatio float64 `koanf:"chunk_overlap_ratio"`
	PreserveCodeBlock bool    `koanf:"preserve_code_blocks"`
	MaxHeaderDepth    int     `koanf:"max_header_depth"`
}

// CrawlConfig bounds the web-crawl adapter.
type CrawlConfig struct {
	UserAgent    string   `koanf:"user_agent"`
	FetchTimeout Duration `koanf:"fetch_timeout"`
	MaxDepth     int      `koanf:"max_depth"`
	MaxPages     int      `koanf:"max_pages"`
}

// New returns a Config populated with defaults.
func New() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields with defaults.
func (c *Config) ApplyDefaults() {
	dataDir := defaultDataDir()

	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8765
	}
	if c.Server.SearchTimeout == 0 {
		c.Server.SearchTimeout = Duration(5 * time.Second)
	}
	if c.Server.RAGTimeout == 0 {
		c.Server.RAGTimeout = Duration(30 * time.Second)
	}

	if c.Store.Backend == "" {
		c.Store.Backend = StoreBackendEmbeddedDB
	}
	if c.Store.DatabasePath == "" {
		c.Store.DatabasePath = filepath.Join(dataDir, "collections.db")
	}
	if c.Store.FilesystemRoot == "" {
		c.Store.FilesystemRoot = filepath.Join(dataDir, "collections")
	}

	if c.Vector.Backend == "" {
		c.Vector.Backend = VectorBackendChromem
	}
	if c.Vector.Path == "" {
		c.Vector.Path = filepath.Join(dataDir, "vectorstore")
	}
	if c.Vector.QdrantHost == "" {
		c.Vector.QdrantHost = "localhost"
	}
	if c.Vector.QdrantPort == 0 {
		c.Vector.QdrantPort = 6334
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "ollama"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "nomic-embed-text"
	}
	if c.Embedding.BatchSize == 0 {
		c.Embedding.BatchSize = 32
	}

	if c.LLM.Kind == "" {
		c.LLM.Kind = "local"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "llama3.1"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.1
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 2000
	}
	if c.LLM.MaxConcurrent == 0 {
		c.LLM.MaxConcurrent = 4
	}

	if c.Query.MaxQueryVariants == 0 {
		c.Query.MaxQueryVariants = 3
	}
	if c.Query.RerankingThreshold == 0 {
		c.Query.RerankingThreshold = 8
	}
	if c.Query.SimilarityThreshold == 0 {
		c.Query.SimilarityThreshold = 0.3
	}
	if c.Query.ExpansionCacheTTL == 0 {
		c.Query.ExpansionCacheTTL = Duration(10 * time.Minute)
	}
	if c.Query.ExpansionCacheSize == 0 {
		c.Query.ExpansionCacheSize = 256
	}
	if c.Query.RAGTokenBudget == 0 {
		c.Query.RAGTokenBudget = 4000
	}

	if c.Sync.MaxFileConcurrency == 0 {
		c.Sync.MaxFileConcurrency = 4
	}
	if c.Sync.RetryAttempts == 0 {
		c.Sync.RetryAttempts = 3
	}
	if c.Sync.RetryBackoffBase == 0 {
		c.Sync.RetryBackoffBase = Duration(500 * time.Millisecond)
	}

	if c.Chunking.Strategy == "" {
		c.Chunking.Strategy = StrategyMarkdownIntelligent
		c.Chunking.PreserveCodeBlock = true
	}
	if c.Chunking.ChunkSize == 0 {
		c.Chunking.ChunkSize = 1000
	}
	if c.Chunking.ChunkOverlapRatio == 0 {
		c.Chunking.ChunkOverlapRatio = 0.2
	}
	if c.Chunking.MaxHeaderDepth == 0 {
		c.Chunking.MaxHeaderDepth = 4
	}

	if c.Crawl.UserAgent == "" {
		c.Crawl.UserAgent = "shelfd/1.0 (+https://github.com/fyrsmithlabs/shelfd)"
	}
	if c.Crawl.FetchTimeout == 0 {
		c.Crawl.FetchTimeout = Duration(15 * time.Second)
	}
	if c.Crawl.MaxDepth == 0 {
		c.Crawl.MaxDepth = 2
	}
	if c.Crawl.MaxPages == 0 {
		c.Crawl.MaxPages = 25
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreBackendEmbeddedDB, StoreBackendFilesystem:
	default:
		if !filepath.IsAbs(c.Store.Backend) {
			return fmt.Errorf("store.backend must be %s, %s, or an absolute path, got %q",
				StoreBackendEmbeddedDB, StoreBackendFilesystem, c.Store.Backend)
		}
	}

	switch c.Vector.Backend {
	case VectorBackendChromem, VectorBackendQdrant:
	default:
		return fmt.Errorf("vector.backend must be %s or %s, got %q",
			VectorBackendChromem, VectorBackendQdrant, c.Vector.Backend)
	}

	switch c.Chunking.Strategy {
	case StrategyBaseline, StrategyMarkdownIntelligent, StrategyAuto:
	default:
		return fmt.Errorf("chunking.strategy must be one of %s, %s, %s",
			StrategyBaseline, StrategyMarkdownIntelligent, StrategyAuto)
	}

	if c.Chunking.ChunkOverlapRatio < 0 || c.Chunking.ChunkOverlapRatio > 0.3 {
		return fmt.Errorf("chunking.chunk_overlap_ratio must be in [0, 0.3], got %v",
			c.Chunking.ChunkOverlapRatio)
	}
	if c.Chunking.ChunkSize < 100 {
		return fmt.Errorf("chunking.chunk_size must be >= 100, got %d", c.Chunking.ChunkSize)
	}

	if c.Query.SimilarityThreshold < 0 || c.Query.SimilarityThreshold > 1 {
		return fmt.Errorf("query.similarity_threshold must be in [0, 1], got %v",
			c.Query.SimilarityThreshold)
	}
	if c.Query.MaxQueryVariants < 1 {
		return fmt.Errorf("query.max_query_variants must be >= 1")
	}

	if c.Sync.MaxFileConcurrency < 1 {
		return fmt.Errorf("sync.max_file_concurrency must be >= 1")
	}

	switch c.LLM.Kind {
	case "hosted", "local":
	default:
		return fmt.Errorf("llm.kind must be hosted or local, got %q", c.LLM.Kind)
	}

	return nil
}

// FilesystemMode reports whether the store backend is filesystem based,
// resolving the absolute-path shorthand.
func (c *Config) FilesystemMode() (root string, ok bool) {
	switch {
	case c.Store.Backend == StoreBackendFilesystem:
		return c.Store.FilesystemRoot, true
	case filepath.IsAbs(c.Store.Backend):
		return c.Store.Backend, true
	default:
		return "", false
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shelfd"
	}
	return filepath.Join(home, ".local", "share", "shelfd")
}
