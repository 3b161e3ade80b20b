// Package config provides configuration loading for hermesindex.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix namespaces every environment-variable override
	// (HERMESINDEX_POSTGRES_DSN -> postgres.dsn).
	EnvPrefix = "HERMESINDEX_"
)

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (HERMESINDEX_POSTGRES_DSN, HERMESINDEX_SEARCH_TOPK, ...)
//  2. YAML config file (~/.config/hermesindex/config.yaml)
//  3. Hardcoded defaults
//
// The configPath parameter specifies the YAML file to load. If empty, uses
// the default path.
//
// # Security Considerations
//
// File Permissions: Configuration file MUST have 0600 or 0400 permissions
// (owner read[/write] only); a 0644 world-readable file is rejected, since
// the file routinely holds postgres.dsn and API keys.
//
// Path Validation: Only configuration files in allowed directories can be
// loaded: ~/.config/hermesindex/ or /etc/hermesindex/. Absolute paths
// outside these directories are rejected to prevent path traversal.
//
// File Size Limit: files larger than 1MB are rejected.
//
// # Environment Variable Mapping
//
// HERMESINDEX_<SECTION>_<FIELD> maps to <section>.<field> in the YAML tree,
// e.g. HERMESINDEX_POSTGRES_DSN -> postgres.dsn,
// HERMESINDEX_SEARCH_FETCH_K -> search.fetch_k. sources[] is file-only: it
// has no stable env-var mapping and must be set in the YAML file.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "hermesindex", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformer), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// envTransformer maps HERMESINDEX_SECTION_FIELD_NAME -> section.field_name,
// splitting on the first underscore only so multi-word field names survive.
func envTransformer(s string) string {
	trimmed := strings.TrimPrefix(s, EnvPrefix)
	lower := strings.ToLower(trimmed)
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// EnsureConfigDir creates the hermesindex config directory if it doesn't
// exist, with 0700 permissions (owner read/write/execute only).
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	configDir := filepath.Join(home, ".config", "hermesindex")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}
	return nil
}

// validateConfigPath checks if path is in allowed directories. This
// validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "hermesindex"),
		"/etc/hermesindex",
	}

	allowed := false
	for _, dir := range allowedDirs {
		if resolvedPath == dir || strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("config file must be in ~/.config/hermesindex/ or /etc/hermesindex/")
	}
	return nil
}

// validateConfigFileProperties checks file permissions and size from an
// already-opened file descriptor, avoiding a TOCTOU race between stat and
// open.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults fills in defaults for fields the file/env didn't set.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10_000_000_000) // 10s
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "hermesindex"
	}

	if cfg.Bitmagnet.Schema == "" {
		cfg.Bitmagnet.Schema = "hermes"
	}

	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "hnsw"
	}
	if cfg.VectorStore.EfSearch == 0 {
		cfg.VectorStore.EfSearch = 64
	}

	if cfg.Embedding.MaxBatch == 0 {
		cfg.Embedding.MaxBatch = 32
	}
	if cfg.Embedding.MaxInFlight == 0 {
		cfg.Embedding.MaxInFlight = 4
	}
	if cfg.Embedding.QueryPrefix == "" {
		cfg.Embedding.QueryPrefix = "query: "
	}
	if cfg.Embedding.DocumentPrefix == "" {
		cfg.Embedding.DocumentPrefix = "passage: "
	}

	for i := range cfg.Sources {
		if cfg.Sources[i].BatchSize == 0 {
			cfg.Sources[i].BatchSize = 200
		}
		if cfg.Sources[i].CompositeIDJoin == "" {
			cfg.Sources[i].CompositeIDJoin = ":"
		}
	}

	if cfg.TMDB.QueryExpandTimeoutMs == 0 {
		cfg.TMDB.QueryExpandTimeoutMs = 1500
	}
	if cfg.TMDB.Limit == 0 {
		cfg.TMDB.Limit = 50
	}
	if cfg.TMDB.SleepSeconds == 0 {
		cfg.TMDB.SleepSeconds = 30
	}
	if cfg.TMDB.RequestsPerSecond == 0 {
		cfg.TMDB.RequestsPerSecond = 4
	}

	if cfg.Search.TopK == 0 {
		cfg.Search.TopK = 20
	}
	if cfg.Search.FetchK == 0 {
		cfg.Search.FetchK = 100
	}
	if cfg.Search.NSFWThreshold == 0 {
		cfg.Search.NSFWThreshold = 0.7
	}
}
