package vectorstore

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/hermesindex/hermesindex/internal/logging"
	"github.com/hermesindex/hermesindex/internal/qdrant"
)

// collectionName is fixed: one logical index, one remote collection.
const collectionName = "hermesindex"

// RemoteConfig configures the RemoteCollection backend.
type RemoteConfig struct {
	Host           string
	Port           int
	UseTLS         bool
	APIKey         string
	MaxMessageSize int
	RequestTimeout int // seconds; 0 uses qdrant.ClientConfig defaults
	RetryAttempts  int
}

// RemoteCollection is the Store backend talking to a remote Qdrant collection
// over gRPC, grounded on internal/qdrant's retrying client.
type RemoteCollection struct {
	client qdrant.Client
}

// NewRemoteCollection dials the configured Qdrant instance.
func NewRemoteCollection(cfg RemoteConfig, logger *logging.Logger) (*RemoteCollection, error) {
	clientCfg := &qdrant.ClientConfig{
		Host:           cfg.Host,
		Port:           cfg.Port,
		UseTLS:         cfg.UseTLS,
		APIKey:         cfg.APIKey,
		MaxMessageSize: cfg.MaxMessageSize,
		RetryAttempts:  cfg.RetryAttempts,
	}
	if cfg.RequestTimeout > 0 {
		clientCfg.RequestTimeout = time.Duration(cfg.RequestTimeout) * time.Second
	}
	client, err := qdrant.NewGRPCClient(clientCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return &RemoteCollection{client: client}, nil
}

// NewRemoteCollectionWithClient wires in a pre-built client; used by tests with
// a fake implementation of qdrant.Client.
func NewRemoteCollectionWithClient(client qdrant.Client) *RemoteCollection {
	return &RemoteCollection{client: client}
}

// Ensure creates the collection when it is absent. An existing collection is
// accepted as is: its dimension is not compared with dim, so this backend
// never returns ErrDimMismatch.
func (r *RemoteCollection) Ensure(ctx context.Context, dim int, metric Metric) error {
	if dim <= 0 {
		return fmt.Errorf("%w: dim must be positive", ErrInvalidConfig)
	}
	distance := qdrant.DistanceCosine
	if metric == MetricEuclidean {
		distance = qdrant.DistanceEuclidean
	}
	return r.client.EnsureCollection(ctx, collectionName, uint64(dim), distance)
}

func (r *RemoteCollection) Upsert(ctx context.Context, points []Point) ([]uint64, error) {
	if len(points) == 0 {
		return nil, ErrEmptyBatch
	}
	qPoints := make([]*qdrant.Point, len(points))
	ids := make([]uint64, len(points))
	for i, p := range points {
		id := p.ID
		if id == 0 {
			id = randomPointID()
		}
		qPoints[i] = &qdrant.Point{
			ID:      id,
			Vector:  p.Vector,
			Payload: payloadToMap(p.Payload),
		}
		ids[i] = id
	}
	if err := r.client.Upsert(ctx, collectionName, qPoints); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *RemoteCollection) Delete(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return ErrEmptyBatch
	}
	return r.client.Delete(ctx, collectionName, ids)
}

func (r *RemoteCollection) Query(ctx context.Context, vector []float32, k int, filter *Filter) ([]ScoredPoint, error) {
	qFilter := filterToQdrant(filter)
	results, err := r.client.Query(ctx, collectionName, vector, uint64(k), qFilter)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredPoint, len(results))
	for i, res := range results {
		out[i] = ScoredPoint{
			ID:      res.ID,
			Score:   res.Score,
			Payload: payloadFromMap(res.Payload),
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *RemoteCollection) Count(ctx context.Context) (int64, error) {
	return r.client.Count(ctx, collectionName)
}

func (r *RemoteCollection) HealthCheck(ctx context.Context) (Health, error) {
	if err := r.client.Health(ctx); err != nil {
		return Health{Healthy: false, Detail: err.Error()}, nil
	}
	count, err := r.client.Count(ctx, collectionName)
	if err != nil {
		return Health{Healthy: true, Detail: "collection count unavailable: " + err.Error()}, nil
	}
	return Health{Healthy: true, Count: count}, nil
}

func (r *RemoteCollection) Close() error {
	return r.client.Close()
}

// randomPointID allocates a fresh point id for an omitted Point.ID (§4.3
// "when id omitted, the store allocates"). Qdrant keeps no server-side
// counter to draw from, so ids are drawn from a 64-bit random space, same as
// the id-on-write fallback elsewhere in this lineage.
func randomPointID() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	id := binary.BigEndian.Uint64(b[:])
	if id == 0 {
		id = 1
	}
	return id
}

func payloadToMap(p VectorPayload) map[string]interface{} {
	m := map[string]interface{}{
		"source":            p.Source,
		"pg_id":             p.PgID,
		"text_hash":         p.TextHash,
		"embedding_version": p.EmbeddingVersion,
		"nsfw_score":        p.NSFWScore,
	}
	if p.ContentType != "" {
		m["content_type"] = p.ContentType
	}
	if p.HasTMDB {
		m["has_tmdb"] = p.HasTMDB
	}
	if p.TMDBID != 0 {
		m["tmdb_id"] = p.TMDBID
	}
	if p.SizeBytes != 0 {
		m["size"] = p.SizeBytes
	}
	if len(p.Languages) > 0 {
		m["languages"] = p.Languages
	}
	if len(p.Subtitles) > 0 {
		m["subtitles"] = p.Subtitles
	}
	if len(p.Genres) > 0 {
		m["genres"] = p.Genres
	}
	return m
}

func payloadFromMap(m map[string]interface{}) VectorPayload {
	var p VectorPayload
	if v, ok := m["source"].(string); ok {
		p.Source = v
	}
	if v, ok := m["pg_id"].(string); ok {
		p.PgID = v
	}
	if v, ok := m["text_hash"].(string); ok {
		p.TextHash = v
	}
	if v, ok := m["embedding_version"].(string); ok {
		p.EmbeddingVersion = v
	}
	switch v := m["nsfw_score"].(type) {
	case float64:
		p.NSFWScore = float32(v)
	case float32:
		p.NSFWScore = v
	}
	if v, ok := m["content_type"].(string); ok {
		p.ContentType = v
	}
	if v, ok := m["has_tmdb"].(bool); ok {
		p.HasTMDB = v
	}
	switch v := m["tmdb_id"].(type) {
	case int64:
		p.TMDBID = v
	case float64:
		p.TMDBID = int64(v)
	}
	switch v := m["size"].(type) {
	case int64:
		p.SizeBytes = v
	case float64:
		p.SizeBytes = int64(v)
	}
	if v, ok := m["languages"].([]string); ok {
		p.Languages = v
	}
	if v, ok := m["subtitles"].([]string); ok {
		p.Subtitles = v
	}
	if v, ok := m["genres"].([]string); ok {
		p.Genres = v
	}
	return p
}

func filterToQdrant(f *Filter) *qdrant.Filter {
	if f == nil || f.IsZero() {
		return nil
	}
	var must []qdrant.Condition
	if f.ExcludeNSFW {
		max := float64(f.NSFWMax)
		must = append(must, qdrant.Condition{Field: "nsfw_score", Range: &qdrant.RangeCondition{Lt: &max}})
	}
	if f.TMDBOnly {
		must = append(must, qdrant.Condition{Field: "has_tmdb", Match: true})
	}
	if f.SizeMinBytes > 0 {
		min := float64(f.SizeMinBytes)
		must = append(must, qdrant.Condition{Field: "size", Range: &qdrant.RangeCondition{Gte: &min}})
	}
	if len(f.Genres) > 0 {
		must = append(must, qdrant.Condition{Field: "genres", Match: f.Genres})
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

var _ Store = (*RemoteCollection)(nil)
