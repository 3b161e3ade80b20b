package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hermesindex/hermesindex/internal/embedding"
	"github.com/hermesindex/hermesindex/internal/enrichment"
	"github.com/hermesindex/hermesindex/internal/expand"
	"github.com/hermesindex/hermesindex/internal/source"
	"github.com/hermesindex/hermesindex/internal/vectorstore"
)

// stubEmbedder returns the fixed vector registered for a given input text,
// so tests can control exactly which vector store hits rank highest.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string, _ embedding.Role) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := s.vectors[t]
		if !ok {
			v = []float32{0, 0, 1}
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) Classify(context.Context, []string) ([]float32, error) { return nil, nil }
func (s *stubEmbedder) Dimension() int                                       { return 3 }
func (s *stubEmbedder) Version() string                                      { return "v1" }
func (s *stubEmbedder) Close() error                                         { return nil }

var _ embedding.Client = (*stubEmbedder)(nil)

func newTestStore(t *testing.T) vectorstore.Store {
	t.Helper()
	store, err := vectorstore.NewLocalHNSW(vectorstore.LocalHNSWConfig{DataDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, store.Ensure(context.Background(), 3, vectorstore.MetricCosine))
	return store
}

func TestSearch_ReturnsEmptyQueryError(t *testing.T) {
	o := New(&stubEmbedder{}, newTestStore(t), nil, nil, "query: ")
	_, err := o.Search(context.Background(), Request{Query: "   "})
	require.Error(t, err)
}

func TestSearch_RanksByScoreAndHydrates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.Upsert(ctx, []vectorstore.Point{
		{ID: 1, Vector: []float32{1, 0, 0}, Payload: vectorstore.VectorPayload{Source: "bitmagnet_torrents", PgID: "a"}},
		{ID: 2, Vector: []float32{0, 1, 0}, Payload: vectorstore.VectorPayload{Source: "bitmagnet_torrents", PgID: "b"}},
	})
	require.NoError(t, err)

	embedder := &stubEmbedder{vectors: map[string][]float32{"query: matrix": {1, 0, 0}}}
	reader := source.NewFakeReader(
		source.Row{Source: "bitmagnet_torrents", PgID: "a", Text: "The Matrix"},
		source.Row{Source: "bitmagnet_torrents", PgID: "b", Text: "Inception"},
	)

	o := New(embedder, store, nil, map[string]source.Reader{"bitmagnet_torrents": reader}, "query: ")
	resp, err := o.Search(ctx, Request{Query: "matrix", TopK: 10, FetchK: 10})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "a", resp.Results[0].PgID)
	assert.Equal(t, "The Matrix", resp.Results[0].Title)
}

func TestSearch_SkipsUnregisteredSourceWithWarning(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.Upsert(ctx, []vectorstore.Point{
		{ID: 1, Vector: []float32{1, 0, 0}, Payload: vectorstore.VectorPayload{Source: "unknown_source", PgID: "x"}},
	})
	require.NoError(t, err)

	embedder := &stubEmbedder{vectors: map[string][]float32{"query: q": {1, 0, 0}}}
	o := New(embedder, store, nil, map[string]source.Reader{}, "query: ")

	resp, err := o.Search(ctx, Request{Query: "q", TopK: 10, FetchK: 10})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.NotEmpty(t, resp.Warnings)
}

func TestSearch_PaginatesWithCursor(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	points := []vectorstore.Point{
		{ID: 1, Vector: []float32{1, 0, 0}, Payload: vectorstore.VectorPayload{Source: "s", PgID: "a"}},
		{ID: 2, Vector: []float32{0.9, 0.1, 0}, Payload: vectorstore.VectorPayload{Source: "s", PgID: "b"}},
		{ID: 3, Vector: []float32{0.8, 0.2, 0}, Payload: vectorstore.VectorPayload{Source: "s", PgID: "c"}},
	}
	_, err := store.Upsert(ctx, points)
	require.NoError(t, err)

	embedder := &stubEmbedder{vectors: map[string][]float32{"query: q": {1, 0, 0}}}
	reader := source.NewFakeReader(
		source.Row{Source: "s", PgID: "a", Text: "A"},
		source.Row{Source: "s", PgID: "b", Text: "B"},
		source.Row{Source: "s", PgID: "c", Text: "C"},
	)
	o := New(embedder, store, nil, map[string]source.Reader{"s": reader}, "query: ")

	page1, err := o.Search(ctx, Request{Query: "q", TopK: 2, FetchK: 10})
	require.NoError(t, err)
	require.Len(t, page1.Results, 2)
	require.NotNil(t, page1.NextCursor)

	page2, err := o.Search(ctx, Request{Query: "q", TopK: 2, FetchK: 10, Cursor: *page1.NextCursor})
	require.NoError(t, err)
	require.Len(t, page2.Results, 1)
	assert.Nil(t, page2.NextCursor)
}

func TestSearch_CrossLanguageHopReturnsHitsForNonASCIIQuery(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.Upsert(ctx, []vectorstore.Point{
		{ID: 1, Vector: []float32{0, 0, 1}, Payload: vectorstore.VectorPayload{Source: "s", PgID: "raw"}},
	})
	require.NoError(t, err)

	stubStore := &fakeEnrichmentStore{rows: []enrichment.Row{{AKA: []string{"matrix"}}}}
	expander := expand.New(stubStore, time.Second)

	embedder := &stubEmbedder{vectors: map[string][]float32{
		"query: マトリックス matrix": {1, 0, 0},
		"query: matrix":          {0, 0, 1},
	}}
	reader := source.NewFakeReader(source.Row{Source: "s", PgID: "raw", Text: "raw torrent"})
	o := New(embedder, store, expander, map[string]source.Reader{"s": reader}, "query: ")

	resp, err := o.Search(ctx, Request{Query: "マトリックス", TopK: 10, FetchK: 10, TMDBExpand: true})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
}

type fakeEnrichmentStore struct {
	rows []enrichment.Row
}

func (f *fakeEnrichmentStore) SelectCandidates(context.Context, enrichment.CandidateSource, int) ([]enrichment.Candidate, error) {
	return nil, nil
}
func (f *fakeEnrichmentStore) Upsert(context.Context, enrichment.Row) error { return nil }
func (f *fakeEnrichmentStore) Lookup(context.Context, string, string, string) (enrichment.Row, bool, error) {
	return enrichment.Row{}, false, nil
}
func (f *fakeEnrichmentStore) SearchTitles(context.Context, string, time.Duration, int) ([]enrichment.Row, error) {
	return f.rows, nil
}
func (f *fakeEnrichmentStore) Close() {}

var _ enrichment.Store = (*fakeEnrichmentStore)(nil)
