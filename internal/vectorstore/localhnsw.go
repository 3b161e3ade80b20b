package vectorstore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// LocalHNSWConfig configures the embedded HNSW-backed store.
type LocalHNSWConfig struct {
	// DataDir holds the graph snapshot, payload snapshot, and sidecar log.
	// Created if it does not exist.
	DataDir string

	// M and EfSearch tune the HNSW graph; both default to coder/hnsw's recommendations.
	M        int
	EfSearch int
}

func (c *LocalHNSWConfig) applyDefaults() {
	if c.M == 0 {
		c.M = 16
	}
	if c.EfSearch == 0 {
		c.EfSearch = 20
	}
}

// localEntry is one line of the append-only sidecar log, sufficient on its own
// to rebuild the store from scratch between snapshots.
type localEntry struct {
	Op      string        `json:"op"` // "upsert" or "delete"
	ID      uint64        `json:"id"`
	Vector  []float32     `json:"vector,omitempty"`
	Payload VectorPayload `json:"payload,omitempty"`
}

// localSnapshot is the gob-encoded metadata saved alongside the exported graph.
type localSnapshot struct {
	Dim      int
	Metric   Metric
	Payloads map[uint64]VectorPayload
	Vectors  map[uint64][]float32
	Live     map[uint64]bool
}

// LocalHNSW is the Store backend for single-node deployments: a pure-Go HNSW
// graph plus a payload index, persisted to disk with an append-only sidecar
// log for crash recovery between snapshots. Lazily deletes rather than
// removing nodes from the graph, since coder/hnsw's own deletion path corrupts
// the graph when the last node is removed.
type LocalHNSW struct {
	mu     sync.RWMutex
	cfg    LocalHNSWConfig
	graph  *hnsw.Graph[uint64]
	dim    int
	metric Metric

	payloads map[uint64]VectorPayload
	vectors  map[uint64][]float32
	live     map[uint64]bool

	// nextID is the next id Upsert allocates for a point with ID == 0 (§4.3
	// "when id omitted, the store allocates"). Seeded from the highest id
	// found on load so restarts never reissue an id already in use.
	nextID uint64

	logFile *os.File
	closed  bool
}

// NewLocalHNSW opens (or creates) a local store rooted at cfg.DataDir, replaying
// any snapshot and sidecar log found there.
func NewLocalHNSW(cfg LocalHNSWConfig) (*LocalHNSW, error) {
	cfg.applyDefaults()
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("%w: data dir required", ErrInvalidConfig)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	s := &LocalHNSW{
		cfg:      cfg,
		payloads: make(map[uint64]VectorPayload),
		vectors:  make(map[uint64][]float32),
		live:     make(map[uint64]bool),
	}

	if err := s.load(); err != nil {
		return nil, fmt.Errorf("loading local store: %w", err)
	}
	if s.graph == nil {
		s.graph = newGraph(cfg, MetricCosine)
	}
	s.seedNextID()

	logFile, err := os.OpenFile(s.logPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening sidecar log: %w", err)
	}
	s.logFile = logFile

	return s, nil
}

func newGraph(cfg LocalHNSWConfig, metric Metric) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	if metric == MetricEuclidean {
		g.Distance = hnsw.EuclideanDistance
	} else {
		g.Distance = hnsw.CosineDistance
	}
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return g
}

// seedNextID scans the ids recovered from the snapshot/sidecar so the
// allocator never reissues one already present in the store.
func (s *LocalHNSW) seedNextID() {
	var max uint64
	for id := range s.live {
		if id > max {
			max = id
		}
	}
	for id := range s.vectors {
		if id > max {
			max = id
		}
	}
	s.nextID = max + 1
}

func (s *LocalHNSW) indexPath() string    { return filepath.Join(s.cfg.DataDir, "graph.bin") }
func (s *LocalHNSW) snapshotPath() string { return filepath.Join(s.cfg.DataDir, "snapshot.gob") }
func (s *LocalHNSW) logPath() string      { return filepath.Join(s.cfg.DataDir, "payloads.jsonl") }

func (s *LocalHNSW) Ensure(ctx context.Context, dim int, metric Metric) error {
	if dim <= 0 {
		return fmt.Errorf("%w: dim must be positive", ErrInvalidConfig)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dim == 0 {
		s.dim = dim
		s.metric = metric
		s.graph = newGraph(s.cfg, metric)
		return nil
	}
	if s.dim != dim {
		return ErrDimMismatch
	}
	return nil
}

func (s *LocalHNSW) Upsert(ctx context.Context, points []Point) ([]uint64, error) {
	if len(points) == 0 {
		return nil, ErrEmptyBatch
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	for _, p := range points {
		if s.dim != 0 && len(p.Vector) != s.dim {
			return nil, ErrDimMismatch
		}
	}

	ids := make([]uint64, len(points))
	for i, p := range points {
		id := p.ID
		if id == 0 {
			id = s.nextID
			s.nextID++
		} else if id >= s.nextID {
			s.nextID = id + 1
		}
		vec := normalizedCopy(p.Vector, s.metric)
		node := hnsw.MakeNode(id, vec)
		s.graph.Add(node)
		s.payloads[id] = p.Payload
		s.vectors[id] = vec
		s.live[id] = true
		ids[i] = id

		if err := s.appendLog(localEntry{Op: "upsert", ID: id, Vector: vec, Payload: p.Payload}); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (s *LocalHNSW) Delete(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return ErrEmptyBatch
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	for _, id := range ids {
		delete(s.payloads, id)
		delete(s.vectors, id)
		delete(s.live, id)
		if err := s.appendLog(localEntry{Op: "delete", ID: id}); err != nil {
			return err
		}
	}
	return nil
}

func (s *LocalHNSW) Query(ctx context.Context, vector []float32, k int, filter *Filter) ([]ScoredPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if s.dim != 0 && len(vector) != s.dim {
		return nil, ErrDimMismatch
	}
	if k <= 0 {
		return nil, nil
	}
	if s.graph == nil || s.graph.Len() == 0 {
		return nil, nil
	}

	query := normalizedCopy(vector, s.metric)

	// Filtering happens after the graph search, so overfetch to compensate for
	// candidates that get excluded or are orphaned by lazy deletion.
	fetch := k * 8
	if fetch < 64 {
		fetch = 64
	}
	if fetch > s.graph.Len() {
		fetch = s.graph.Len()
	}

	candidates := s.graph.Search(query, fetch)
	out := make([]ScoredPoint, 0, k)
	for _, node := range candidates {
		if !s.live[node.Key] {
			continue
		}
		payload, ok := s.payloads[node.Key]
		if !ok {
			continue
		}
		if filter != nil && !payload.Matches(filter) {
			continue
		}
		distance := s.graph.Distance(query, node.Value)
		out = append(out, ScoredPoint{
			ID:      node.Key,
			Score:   distanceToScore(distance, s.metric),
			Payload: payload,
		})
		if len(out) == k {
			break
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

func (s *LocalHNSW) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.live)), nil
}

func (s *LocalHNSW) HealthCheck(ctx context.Context) (Health, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Health{Healthy: false, Detail: "store is closed"}, nil
	}
	return Health{Healthy: true, Count: int64(len(s.live))}, nil
}

// Stats reports live vs. total graph node counts, used to decide when
// compaction is worthwhile.
type Stats struct {
	Live    int
	Nodes   int
	Orphans int
}

func (s *LocalHNSW) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nodes := 0
	if s.graph != nil {
		nodes = s.graph.Len()
	}
	return Stats{Live: len(s.live), Nodes: nodes, Orphans: nodes - len(s.live)}
}

// Compact rebuilds the graph from only its live entries, dropping lazily
// deleted nodes, then snapshots to disk. This is the only way to reclaim
// space from deletions, since coder/hnsw has no in-place node removal that
// survives deleting the graph's last node.
//
// TODO: compaction walks every live point to rebuild the graph, which is
// O(n log n) and blocks Query/Upsert for its duration; fine at today's
// expected corpus size but worth revisiting if the index grows to reindex
// in the background against a shadow graph instead.
func (s *LocalHNSW) Compact(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	if s.graph == nil {
		return nil
	}

	fresh := newGraph(s.cfg, s.metric)
	for id := range s.live {
		vec, ok := s.vectors[id]
		if !ok {
			continue
		}
		fresh.Add(hnsw.MakeNode(id, vec))
	}
	s.graph = fresh
	return s.save()
}

func (s *LocalHNSW) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if err := s.save(); err != nil {
		return err
	}
	if s.logFile != nil {
		if err := s.logFile.Close(); err != nil {
			return err
		}
	}
	s.closed = true
	return nil
}

// appendLog writes one JSON line to the sidecar log. Caller holds s.mu.
func (s *LocalHNSW) appendLog(e localEntry) error {
	if s.logFile == nil {
		return nil
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(e); err != nil {
		return fmt.Errorf("encoding sidecar entry: %w", err)
	}
	if _, err := s.logFile.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing sidecar entry: %w", err)
	}
	return nil
}

// save writes a full snapshot (graph export + gob metadata) and truncates the
// sidecar log, since everything in it is now captured by the snapshot.
func (s *LocalHNSW) save() error {
	tmpIndex := s.indexPath() + ".tmp"
	f, err := os.Create(tmpIndex)
	if err != nil {
		return fmt.Errorf("creating index file: %w", err)
	}
	if err := s.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmpIndex)
		return fmt.Errorf("exporting graph: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpIndex)
		return err
	}
	if err := os.Rename(tmpIndex, s.indexPath()); err != nil {
		return fmt.Errorf("renaming index file: %w", err)
	}

	tmpSnap := s.snapshotPath() + ".tmp"
	snapFile, err := os.Create(tmpSnap)
	if err != nil {
		return fmt.Errorf("creating snapshot file: %w", err)
	}
	snap := localSnapshot{Dim: s.dim, Metric: s.metric, Payloads: s.payloads, Vectors: s.vectors, Live: s.live}
	if err := gob.NewEncoder(snapFile).Encode(snap); err != nil {
		snapFile.Close()
		os.Remove(tmpSnap)
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := snapFile.Close(); err != nil {
		os.Remove(tmpSnap)
		return err
	}
	if err := os.Rename(tmpSnap, s.snapshotPath()); err != nil {
		return fmt.Errorf("renaming snapshot file: %w", err)
	}

	if s.logFile != nil {
		if err := s.logFile.Truncate(0); err != nil {
			return fmt.Errorf("truncating sidecar log: %w", err)
		}
		if _, err := s.logFile.Seek(0, 0); err != nil {
			return fmt.Errorf("seeking sidecar log: %w", err)
		}
	}
	return nil
}

// load rebuilds state from the last snapshot, then replays the sidecar log on
// top of it for entries written since that snapshot.
func (s *LocalHNSW) load() error {
	if _, err := os.Stat(s.snapshotPath()); err == nil {
		if err := s.loadSnapshot(); err != nil {
			return err
		}
	}
	if _, err := os.Stat(s.logPath()); err == nil {
		if err := s.replayLog(); err != nil {
			return err
		}
	}
	return nil
}

func (s *LocalHNSW) loadSnapshot() error {
	snapFile, err := os.Open(s.snapshotPath())
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer snapFile.Close()

	var snap localSnapshot
	if err := gob.NewDecoder(snapFile).Decode(&snap); err != nil {
		return fmt.Errorf("decoding snapshot: %w", err)
	}
	s.dim = snap.Dim
	s.metric = snap.Metric
	s.payloads = snap.Payloads
	s.vectors = snap.Vectors
	s.live = snap.Live
	if s.payloads == nil {
		s.payloads = make(map[uint64]VectorPayload)
	}
	if s.vectors == nil {
		s.vectors = make(map[uint64][]float32)
	}
	if s.live == nil {
		s.live = make(map[uint64]bool)
	}

	indexFile, err := os.Open(s.indexPath())
	if err != nil {
		return fmt.Errorf("opening index file: %w", err)
	}
	defer indexFile.Close()

	s.graph = newGraph(s.cfg, s.metric)
	if err := s.graph.Import(bufio.NewReader(indexFile)); err != nil {
		return fmt.Errorf("importing graph: %w", err)
	}
	return nil
}

func (s *LocalHNSW) replayLog() error {
	f, err := os.Open(s.logPath())
	if err != nil {
		return fmt.Errorf("opening sidecar log: %w", err)
	}
	defer f.Close()

	if s.graph == nil {
		s.graph = newGraph(s.cfg, s.metric)
	}

	dec := json.NewDecoder(f)
	for dec.More() {
		var e localEntry
		if err := dec.Decode(&e); err != nil {
			// A truncated final line means the process crashed mid-write; stop
			// replaying rather than fail the whole load.
			break
		}
		switch e.Op {
		case "upsert":
			if s.dim == 0 {
				s.dim = len(e.Vector)
			}
			node := hnsw.MakeNode(e.ID, e.Vector)
			s.graph.Add(node)
			s.payloads[e.ID] = e.Payload
			s.vectors[e.ID] = e.Vector
			s.live[e.ID] = true
		case "delete":
			delete(s.payloads, e.ID)
			delete(s.vectors, e.ID)
			delete(s.live, e.ID)
		}
	}
	return nil
}

func normalizedCopy(v []float32, metric Metric) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	if metric == MetricEuclidean {
		return out
	}
	var sumSquares float64
	for _, val := range out {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return out
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range out {
		out[i] *= invMagnitude
	}
	return out
}

// distanceToScore converts an HNSW distance into a [0,1]-ish similarity score.
func distanceToScore(distance float32, metric Metric) float32 {
	if metric == MetricEuclidean {
		return 1.0 / (1.0 + distance)
	}
	return 1.0 - distance/2.0
}

var _ Store = (*LocalHNSW)(nil)
