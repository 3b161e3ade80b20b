package vectorstore

import (
	"fmt"

	"github.com/hermesindex/hermesindex/internal/logging"
)

// BackendType selects which Store implementation New builds.
type BackendType string

const (
	// BackendLocal matches the config value vector_store.type: hnsw (§6).
	BackendLocal  BackendType = "hnsw"
	BackendRemote BackendType = "remote"
)

// Config selects and configures a Store backend. Exactly one of Local/Remote
// is consulted, based on Type.
type Config struct {
	Type   BackendType
	Local  LocalHNSWConfig
	Remote RemoteConfig
}

// New constructs the configured Store backend.
func New(cfg Config, logger *logging.Logger) (Store, error) {
	switch cfg.Type {
	case BackendLocal, "":
		return NewLocalHNSW(cfg.Local)
	case BackendRemote:
		return NewRemoteCollection(cfg.Remote, logger)
	default:
		return nil, fmt.Errorf("%w: unknown vector store backend %q", ErrInvalidConfig, cfg.Type)
	}
}
