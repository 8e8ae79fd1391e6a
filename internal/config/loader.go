package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// envAliases maps the documented flat environment names onto config keys.
// Everything else follows the SECTION_FIELD_NAME convention.
var envAliases = map[string]string{
	"COLLECTION_STORAGE_TYPE":   "store.backend",
	"COLLECTION_STORAGE_DB":     "store.database_path",
	"COLLECTION_STORAGE_ROOT":   "store.filesystem_root",
	"QUERY_EXPANSION_ENABLED":   "query.query_expansion_enabled",
	"AUTO_RERANKING_ENABLED":    "query.auto_reranking_enabled",
	"MAX_QUERY_VARIANTS":        "query.max_query_variants",
	"RERANKING_THRESHOLD":       "query.reranking_threshold",
	"SIMILARITY_THRESHOLD":      "query.similarity_threshold",
	"CONTEXT_EXPANSION_ENABLED": "query.context_expansion_enabled",
	"MAX_FILE_CONCURRENCY":      "sync.max_file_concurrency",
	"RETRY_ATTEMPTS":            "sync.retry_attempts",
	"RETRY_BACKOFF_BASE":        "sync.retry_backoff_base",
	"CHUNK_SIZE":                "chunking.chunk_size",
	"CHUNK_OVERLAP_RATIO":       "chunking.chunk_overlap_ratio",
	"CHUNKING_STRATEGY":         "chunking.strategy",
}

// Load loads configuration from the YAML file (if present), then overrides
// with environment variables, then applies defaults and validates.
//
// Precedence (highest to lowest):
//  1. Environment variables (STORE_BACKEND, SERVER_PORT, documented aliases)
//  2. YAML config file (~/.config/shelfd/config.yaml by default)
//  3. Defaults
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "shelfd", "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("opening config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file %s exceeds %d bytes", configPath, maxConfigFileSize)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
		}
	}

	// Environment overrides: SECTION_FIELD_NAME -> section.field_name,
	// with documented flat aliases resolved first.
	if err := k.Load(env.Provider("", ".", transformEnvKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// transformEnvKey maps an environment variable name to a config key.
// Unknown sections return "" so unrelated environment noise is ignored.
func transformEnvKey(name string) string {
	if key, ok := envAliases[name]; ok {
		return key
	}

	lower := strings.ToLower(name)
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) != 2 {
		return ""
	}

	switch parts[0] {
	case "server", "store", "vector", "embedding", "llm", "query", "sync", "chunking", "crawl":
		return parts[0] + "." + parts[1]
	default:
		return ""
	}
}
