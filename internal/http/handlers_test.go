package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hermesindex/hermesindex/internal/embedding"
	"github.com/hermesindex/hermesindex/internal/logging"
	"github.com/hermesindex/hermesindex/internal/search"
	"github.com/hermesindex/hermesindex/internal/source"
	"github.com/hermesindex/hermesindex/internal/statestore"
	"github.com/hermesindex/hermesindex/internal/vectorstore"
)

// stubEmbedder returns a fixed vector for every input so handler tests don't
// depend on a real embedding backend.
type stubEmbedder struct {
	vector []float32
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string, _ embedding.Role) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vector
	}
	return out, nil
}

func (s *stubEmbedder) Classify(context.Context, []string) ([]float32, error) { return nil, nil }
func (s *stubEmbedder) Dimension() int                                       { return 3 }
func (s *stubEmbedder) Version() string                                      { return "v1" }
func (s *stubEmbedder) Close() error                                         { return nil }

var _ embedding.Client = (*stubEmbedder)(nil)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()

	store, err := vectorstore.NewLocalHNSW(vectorstore.LocalHNSWConfig{DataDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, store.Ensure(ctx, 3, vectorstore.MetricCosine))
	_, err = store.Upsert(ctx, []vectorstore.Point{
		{ID: 1, Vector: []float32{1, 0, 0}, Payload: vectorstore.VectorPayload{Source: "bitmagnet_torrents", PgID: "a"}},
	})
	require.NoError(t, err)

	reader := source.NewFakeReader(source.Row{Source: "bitmagnet_torrents", PgID: "a", Text: "The Matrix"})
	readers := map[string]source.Reader{"bitmagnet_torrents": reader}

	orch := search.New(&stubEmbedder{vector: []float32{1, 0, 0}}, store, nil, readers, "query: ")

	state := statestore.NewMemStore(nil)

	tl := logging.NewTestLogger()
	srv, err := NewServer(Deps{
		Orchestrator: orch,
		Readers:      readers,
		State:        state,
		Vectors:      store,
		SourceNames:  []string{"bitmagnet_torrents"},
	}, tl.Logger, nil)
	require.NoError(t, err)
	return srv
}

func TestHandleSearch_ReturnsHydratedResults(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest("GET", "/search?q=matrix&topk=10", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var body SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, "The Matrix", body.Results[0].Title)
}

func TestHandleSearch_EmptyQueryReturns400(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest("GET", "/search?q=", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, 400, rec.Code)
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "EMPTY_QUERY", body.Error.Kind)
}

func TestHandleSearchKeyword_MatchesSubstring(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest("GET", "/search_keyword?q=matrix", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var body SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, "bitmagnet_torrents", body.Results[0].Source)
}

func TestHandleHydrate_ReturnsRow(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest("GET", "/hydrate?source=bitmagnet_torrents&id=a", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var body HydrateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "The Matrix", body.Title)
}

func TestHandleHydrate_UnknownSourceReturns404(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest("GET", "/hydrate?source=nope&id=a", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, 404, rec.Code)
}

func TestHandleStatus_ReportsVectorStoreHealth(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var body StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.VectorStoreOK)
	assert.Equal(t, int64(1), body.VectorStoreCount)
	require.Len(t, body.Sources, 1)
	assert.Equal(t, "bitmagnet_torrents", body.Sources[0].Name)
}
