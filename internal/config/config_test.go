package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server:      ServerConfig{Port: 9090, ShutdownTimeout: Duration(1_000_000_000)},
		Postgres:    PostgresConfig{DSN: Secret("postgres://u:p@localhost:5432/bitmagnet")},
		Bitmagnet:   BitmagnetConfig{Schema: "hermes"},
		VectorStore: VectorStoreConfig{Type: "hnsw", Path: "/data/hnsw", Dim: 768},
		Embedding:   EmbeddingConfig{URL: "http://localhost:8081", Dim: 768},
		Sources: []SourceConfig{
			{Name: "bitmagnet_torrents", TableOrView: "torrents", IDField: "info_hash", TextField: "name"},
		},
	}
}

func TestValidate_AcceptsValidConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsMissingDSN(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.DSN = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres.dsn")
}

func TestValidate_RejectsMissingSourceFields(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*SourceConfig)
		want string
	}{
		{"table_or_view", func(s *SourceConfig) { s.TableOrView = "" }, "table_or_view"},
		{"id_field", func(s *SourceConfig) { s.IDField = "" }, "id_field"},
		{"text_field", func(s *SourceConfig) { s.TextField = "" }, "text_field"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mut(&cfg.Sources[0])
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_RejectsDuplicateSourceNames(t *testing.T) {
	cfg := validConfig()
	cfg.Sources = append(cfg.Sources, cfg.Sources[0])
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate source name")
}

func TestValidate_RejectsUnknownVectorStoreType(t *testing.T) {
	cfg := validConfig()
	cfg.VectorStore.Type = "memcached"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector_store.type")
}

func TestValidate_RemoteStoreRequiresURLAndCollection(t *testing.T) {
	cfg := validConfig()
	cfg.VectorStore.Type = "remote"
	cfg.VectorStore.URL = ""
	err := cfg.Validate()
	require.Error(t, err)

	cfg.VectorStore.URL = "http://qdrant:6333"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collection")

	cfg.VectorStore.Collection = "hermes"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsInvalidEmbeddingURLScheme(t *testing.T) {
	cfg := validConfig()
	cfg.Embedding.URL = "file:///etc/passwd"
	err := cfg.Validate()
	require.Error(t, err)
}

func TestSourceNames_PreservesOrder(t *testing.T) {
	cfg := validConfig()
	cfg.Sources = append(cfg.Sources, SourceConfig{Name: "bitmagnet_content", TableOrView: "content", IDField: "id", TextField: "title"})
	assert.Equal(t, []string{"bitmagnet_torrents", "bitmagnet_content"}, cfg.SourceNames())
}
