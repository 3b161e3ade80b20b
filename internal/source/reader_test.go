package source

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchText_JoinsTextAndExtras(t *testing.T) {
	got := SearchText("The Matrix", []string{"year", "genre"}, map[string]any{"year": 1999, "genre": "scifi"})
	assert.Equal(t, "The Matrix 1999 scifi", got)
}

func TestSearchText_SkipsMissingExtras(t *testing.T) {
	got := SearchText("The Matrix", []string{"year"}, map[string]any{})
	assert.Equal(t, "The Matrix", got)
}

func TestFakeReader_NextRespectsWatermarkAndBatchSize(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewFakeReader(
		Row{Source: "s", PgID: "1", Text: "a", UpdatedAt: t0},
		Row{Source: "s", PgID: "2", Text: "b", UpdatedAt: t0.Add(time.Minute)},
		Row{Source: "s", PgID: "3", Text: "c", UpdatedAt: t0.Add(2 * time.Minute)},
	)

	batch, err := r.Next(ctx, t0, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "2", batch[0].PgID)
	assert.Equal(t, "3", batch[1].PgID)

	rest, err := r.Next(ctx, batch[len(batch)-1].UpdatedAt, 10)
	require.NoError(t, err)
	assert.Len(t, rest, 0, "short/empty batch signals end of source for this cycle")
}

func TestFakeReader_FetchByIDsPreservesRequestedOrder(t *testing.T) {
	ctx := context.Background()
	r := NewFakeReader(
		Row{Source: "s", PgID: "a", Text: "alpha"},
		Row{Source: "s", PgID: "b", Text: "beta"},
		Row{Source: "s", PgID: "c", Text: "gamma"},
	)

	got, err := r.FetchByIDs(ctx, []string{"c", "a", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].PgID)
	assert.Equal(t, "a", got[1].PgID)
}

func TestFakeReader_SearchKeywordIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	r := NewFakeReader(
		Row{Source: "s", PgID: "1", Text: "The Matrix Reloaded"},
		Row{Source: "s", PgID: "2", Text: "Inception"},
	)

	got, err := r.SearchKeyword(ctx, "matrix", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].PgID)
}
