// Package config provides configuration loading for hermesindex.
//
// Configuration is loaded from a YAML file with environment variable
// overrides, following the precedence and security rules documented on
// LoadWithFile.
package config

import (
	"fmt"
	"strings"

	"github.com/hermesindex/hermesindex/internal/herrors"
)

// Config holds the complete hermesindex configuration (§6 of the spec).
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	Postgres      PostgresConfig      `koanf:"postgres"`
	Bitmagnet     BitmagnetConfig     `koanf:"bitmagnet"`
	VectorStore   VectorStoreConfig   `koanf:"vector_store"`
	Embedding     EmbeddingConfig     `koanf:"embedding"`
	Sources       []SourceConfig      `koanf:"sources"`
	TMDB          TMDBConfig          `koanf:"tmdb"`
	Search        SearchConfig        `koanf:"search"`
	Auth          AuthConfig          `koanf:"auth"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry   bool   `koanf:"enable_telemetry"`
	ServiceName       string `koanf:"service_name"`
	OTLPEndpoint      string `koanf:"otlp_endpoint"`
	OTLPProtocol      string `koanf:"otlp_protocol"`
	OTLPInsecure      bool   `koanf:"otlp_insecure"`
	OTLPTLSSkipVerify bool   `koanf:"otlp_tls_skip_verify"`
}

// PostgresConfig holds the upstream bitmagnet/torrent-metadata connection.
type PostgresConfig struct {
	DSN Secret `koanf:"dsn"`
}

// BitmagnetConfig names the schema the upstream tables/views live under.
type BitmagnetConfig struct {
	Schema string `koanf:"schema"`
}

// VectorStoreConfig selects and configures the vector store backend (§4.3).
type VectorStoreConfig struct {
	Type               string   `koanf:"type"` // "hnsw" | "remote"
	Path               string   `koanf:"path"`
	URL                string   `koanf:"url"`
	Collection         string   `koanf:"collection"`
	Dim                int      `koanf:"dim"`
	TimeoutSeconds     Duration `koanf:"timeout_seconds"`
	HTTPTimeoutSeconds Duration `koanf:"http_timeout_seconds"`
	EfSearch           int      `koanf:"ef_search"`
	CompactionSchedule string   `koanf:"compaction_schedule"`
}

// EmbeddingConfig configures the embedding client (§4.2).
type EmbeddingConfig struct {
	URL            string   `koanf:"url"`
	APIKey         Secret   `koanf:"api_key"`
	Model          string   `koanf:"model"`
	Dim            int      `koanf:"dim"`
	TimeoutSeconds Duration `koanf:"timeout_seconds"`
	QueryPrefix    string   `koanf:"query_prefix"`
	DocumentPrefix string   `koanf:"document_prefix"`
	MaxBatch       int      `koanf:"max_batch"`
	MaxInFlight    int      `koanf:"max_in_flight"`
}

// SourceConfig is one source descriptor (§3, §4.1).
type SourceConfig struct {
	Name            string   `koanf:"name"`
	TableOrView     string   `koanf:"table_or_view"`
	IDField         string   `koanf:"id_field"`
	TextField       string   `koanf:"text_field"`
	UpdatedAtField  string   `koanf:"updated_at_field"`
	ExtraFields     []string `koanf:"extra_fields"`
	TMDBEnrich      bool     `koanf:"tmdb_enrich"`
	KeywordSearch   bool     `koanf:"keyword_search"`
	BatchSize       int      `koanf:"batch_size"`
	ContentType     string   `koanf:"content_type"`
	CompositeIDJoin string   `koanf:"composite_id_join"` // separator for composite pg_id, default ":"
}

// TMDBConfig configures the enrichment worker and query expander.
type TMDBConfig struct {
	AutoEnrich           bool     `koanf:"auto_enrich"`
	QueryExpand          bool     `koanf:"query_expand"`
	QueryExpandTimeoutMs int      `koanf:"query_expand_timeout_ms"`
	Limit                int      `koanf:"limit"`
	SleepSeconds         int      `koanf:"sleep_seconds"`
	APIKey               Secret   `koanf:"api_key"`
	BaseURL              string   `koanf:"base_url"`
	RequestsPerSecond    float64  `koanf:"requests_per_second"`
	TimeoutSeconds       Duration `koanf:"timeout_seconds"`
}

// SearchConfig holds search tunables (§4.9).
type SearchConfig struct {
	TopK               int      `koanf:"topk"`
	FetchK             int      `koanf:"fetch_k"`
	GPUTimeoutSeconds  Duration `koanf:"gpu_timeout_seconds"`
	ExcludeNSFWDefault bool     `koanf:"exclude_nsfw_default"`
	NSFWThreshold      float32  `koanf:"nsfw_threshold"`
}

// AuthConfig is passed through to the (out-of-scope) auth collaborator.
type AuthConfig struct {
	Enabled         bool   `koanf:"enabled"`
	AdminUser       string `koanf:"admin_user"`
	AdminPassword   Secret `koanf:"admin_password"`
	UserStorePath   string `koanf:"user_store_path"`
	TokenTTLSeconds int    `koanf:"token_ttl_seconds"`
}

// SourceNames returns the configured source names in declaration order.
func (c *Config) SourceNames() []string {
	names := make([]string, len(c.Sources))
	for i, s := range c.Sources {
		names[i] = s.Name
	}
	return names
}

// Validate validates the configuration, rejecting sources that are missing
// mandatory fields (§4.1) and any network-facing field that fails path/URL
// validation. Startup errors carry herrors.KindConfigInvalid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return invalid(fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port))
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return invalid(fmt.Errorf("service name required when telemetry is enabled"))
	}

	if !c.Postgres.DSN.IsSet() {
		return invalid(fmt.Errorf("postgres.dsn is required"))
	}

	switch c.VectorStore.Type {
	case "hnsw":
		if err := validatePath(c.VectorStore.Path); err != nil {
			return invalid(fmt.Errorf("invalid vector_store.path: %w", err))
		}
	case "remote":
		if err := validateURL(c.VectorStore.URL); err != nil {
			return invalid(fmt.Errorf("invalid vector_store.url: %w", err))
		}
		if c.VectorStore.Collection == "" {
			return invalid(fmt.Errorf("vector_store.collection is required for remote stores"))
		}
	default:
		return invalid(fmt.Errorf("unsupported vector_store.type: %q (must be hnsw or remote)", c.VectorStore.Type))
	}
	if c.VectorStore.Dim <= 0 {
		return invalid(fmt.Errorf("vector_store.dim must be positive"))
	}

	if c.Embedding.URL != "" {
		if err := validateURL(c.Embedding.URL); err != nil {
			return invalid(fmt.Errorf("invalid embedding.url: %w", err))
		}
	}
	if c.Embedding.Dim <= 0 {
		return invalid(fmt.Errorf("embedding.dim must be positive"))
	}

	if len(c.Sources) == 0 {
		return invalid(fmt.Errorf("at least one source must be configured"))
	}
	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.Name == "" {
			return invalid(fmt.Errorf("sources[%d].name is required", i))
		}
		if seen[s.Name] {
			return invalid(fmt.Errorf("duplicate source name %q", s.Name))
		}
		seen[s.Name] = true
		if s.TableOrView == "" {
			return invalid(fmt.Errorf("source %q missing table_or_view", s.Name))
		}
		if s.IDField == "" {
			return invalid(fmt.Errorf("source %q missing id_field", s.Name))
		}
		if s.TextField == "" {
			return invalid(fmt.Errorf("source %q missing text_field", s.Name))
		}
	}

	if c.TMDB.BaseURL != "" {
		if err := validateURL(c.TMDB.BaseURL); err != nil {
			return invalid(fmt.Errorf("invalid tmdb.base_url: %w", err))
		}
	}

	return nil
}

func invalid(err error) error {
	return herrors.New("config.Validate", herrors.KindConfigInvalid, err)
}

// validatePath checks that a path has no traversal sequences.
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path is required")
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("path contains traversal sequence: %s", path)
	}
	return nil
}

// validateURL checks that a URL uses an allowed scheme.
func validateURL(urlStr string) error {
	if !strings.HasPrefix(urlStr, "http://") && !strings.HasPrefix(urlStr, "https://") {
		return fmt.Errorf("URL must use http:// or https:// scheme, got: %s", urlStr)
	}
	return nil
}
