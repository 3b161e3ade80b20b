// Package qdrant provides a thin, retrying gRPC client over Qdrant's official
// Go SDK, scoped to the single points collection the search index lives in.
package qdrant

import (
	"context"
)

// Client is the low-level operations the vector store's RemoteCollection
// backend needs against a single Qdrant collection.
type Client interface {
	EnsureCollection(ctx context.Context, name string, dim uint64, distance Distance) error
	Upsert(ctx context.Context, collection string, points []*Point) error
	Query(ctx context.Context, collection string, vector []float32, limit uint64, filter *Filter) ([]*ScoredPoint, error)
	Delete(ctx context.Context, collection string, ids []uint64) error
	Count(ctx context.Context, collection string) (int64, error)
	Health(ctx context.Context) error
	Close() error
}

// Distance selects the similarity metric a collection is created with.
type Distance int

const (
	DistanceCosine Distance = iota
	DistanceEuclidean
)

// Point is a vector plus its payload, addressed by a numeric ID.
type Point struct {
	ID      uint64
	Vector  []float32
	Payload map[string]interface{}
}

// ScoredPoint is a Point annotated with a query similarity score.
type ScoredPoint struct {
	Point
	Score float32
}

// Filter is a conjunction of field conditions evaluated server-side.
type Filter struct {
	Must []Condition
}

// Condition matches a single payload field, either by exact value or by range.
type Condition struct {
	Field string
	Match interface{}
	Range *RangeCondition
}

// RangeCondition bounds a numeric field.
type RangeCondition struct {
	Gte *float64
	Lte *float64
	Gt  *float64
	Lt  *float64
}
