package embedding

import (
	"context"
	"errors"
)

// Role selects the prefix applied to text before embedding. Retrieval-tuned models
// embed queries and documents differently; the role tells the backend which
// prefix to apply.
type Role string

const (
	RoleQuery    Role = "query"
	RoleDocument Role = "document"
)

// Sentinel errors. ErrUnavailable and ErrBusy map directly onto the EMBED_UNAVAILABLE
// and EMBED_BUSY error kinds.
var (
	ErrUnavailable   = errors.New("embedding backend unavailable")
	ErrBusy          = errors.New("embedding backend busy")
	ErrEmptyInput    = errors.New("embedding input is empty")
	ErrInvalidConfig = errors.New("invalid embedding client configuration")
)

// Client is the embedding client abstraction (§4.2). Embed batches up to a
// configured size, applies role-based prefixing, and retries transient failures
// with bounded backoff. Classify scores texts for NSFW content in [0,1].
type Client interface {
	Embed(ctx context.Context, texts []string, role Role) ([][]float32, error)
	Classify(ctx context.Context, texts []string) ([]float32, error)

	// Dimension returns the vector dimensionality this client produces.
	Dimension() int

	// Version is the embedding_version string: model identity + normalization
	// contract. A distinct Client implementation (e.g. the local fallback) MUST
	// report a distinct version so the state store never treats its vectors as
	// interchangeable with the remote backend's.
	Version() string

	Close() error
}
