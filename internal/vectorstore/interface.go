// Package vectorstore defines the polymorphic vector store abstraction: a single
// capability set implemented by a local HNSW graph and by a remote collection-based
// backend.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyBatch indicates an upsert or delete call with no items.
	ErrEmptyBatch = errors.New("empty batch")

	// ErrConnectionFailed indicates the backend could not be reached.
	ErrConnectionFailed = errors.New("failed to connect to vector store backend")

	// ErrDimMismatch indicates ensure() was called against an existing store with a
	// different dimensionality.
	ErrDimMismatch = errors.New("dimension mismatch")

	// ErrNotFound is returned when an id is not present in the store.
	ErrNotFound = errors.New("id not found")
)

// Metric selects the similarity function a store is configured with.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricEuclidean Metric = "euclidean"
)

// Point is a single vector plus its filterable payload, as submitted to Upsert.
// ID is optional; when zero the store allocates one and returns it.
type Point struct {
	ID      uint64
	Vector  []float32
	Payload VectorPayload
}

// ScoredPoint is a single query hit.
type ScoredPoint struct {
	ID      uint64
	Score   float32
	Payload VectorPayload
}

// Filter narrows a query to points whose payload matches. Nil/zero fields are
// unconstrained. Fields map directly onto §3's VectorPayload filterable keys.
type Filter struct {
	ExcludeNSFW  bool
	NSFWMax      float32
	TMDBOnly     bool
	SizeMinBytes int64
	Genres       []string
}

// IsZero reports whether the filter constrains nothing.
func (f Filter) IsZero() bool {
	return !f.ExcludeNSFW && !f.TMDBOnly && f.SizeMinBytes == 0 && len(f.Genres) == 0
}

// Health summarizes the operational status of a store.
type Health struct {
	Healthy bool
	Count   int64
	Detail  string
}

// Store is the capability set every vector store backend implements. No shared
// base state: a LocalHNSW store and a RemoteCollection store are independent
// implementations of this interface, selected at startup by internal/config.
type Store interface {
	// Ensure idempotently prepares the store for vectors of the given dimension and
	// metric. It fails with ErrDimMismatch if an existing store disagrees.
	Ensure(ctx context.Context, dim int, metric Metric) error

	// Upsert writes a batch atomically. Points without an ID are assigned one by the
	// store; the returned slice gives the final id for every input point, in order.
	Upsert(ctx context.Context, points []Point) ([]uint64, error)

	// Delete removes points by id. Deleting an absent id is not an error.
	Delete(ctx context.Context, ids []uint64) error

	// Query returns up to k nearest neighbors of vector, filtered by filter (nil or
	// zero-value for no filter), ordered by descending score with ties broken by id
	// ascending.
	Query(ctx context.Context, vector []float32, k int, filter *Filter) ([]ScoredPoint, error)

	// Count returns the number of live points in the store.
	Count(ctx context.Context) (int64, error)

	// HealthCheck reports whether the store is reachable and usable.
	HealthCheck(ctx context.Context) (Health, error)

	// Close releases any held resources (file handles, connections).
	Close() error
}
