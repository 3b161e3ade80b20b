package enrichment

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMetadataClient struct {
	fail map[string]bool
}

func (f *fakeMetadataClient) Lookup(_ context.Context, title string) (*MetadataResult, error) {
	if f.fail[title] {
		return nil, fmt.Errorf("no match")
	}
	return &MetadataResult{Title: title, AKA: []string{title + " aka"}, ReleaseYear: 1999}, nil
}

var _ MetadataClient = (*fakeMetadataClient)(nil)

func TestWorker_RunOnce_WritesOKAndErrorRows(t *testing.T) {
	ctx := context.Background()
	store := NewFakeStore()
	src := CandidateSource{ContentType: "movie", ContentSource: "bitmagnet_torrents", TableOrView: "torrents", IDField: "info_hash", TitleField: "name"}
	store.SeedCandidates(src, []Candidate{
		{ContentType: "movie", ContentSource: "bitmagnet_torrents", ContentID: "1", Title: "The Matrix"},
		{ContentType: "movie", ContentSource: "bitmagnet_torrents", ContentID: "2", Title: "Unknown Title"},
	})
	client := &fakeMetadataClient{fail: map[string]bool{"Unknown Title": true}}

	w := NewWorker(store, client, []CandidateSource{src}, 50)
	stats, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Candidates)
	assert.Equal(t, 1, stats.OK)
	assert.Equal(t, 1, stats.Failed)

	ok, found, err := store.Lookup(ctx, "movie", "bitmagnet_torrents", "1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "ok", ok.Status)
	assert.Equal(t, []string{"The Matrix aka"}, ok.AKA)

	bad, found, err := store.Lookup(ctx, "movie", "bitmagnet_torrents", "2")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "error", bad.Status)
	assert.NotEmpty(t, bad.Error)
}

func TestWorker_RunOnce_RespectsLimit(t *testing.T) {
	ctx := context.Background()
	store := NewFakeStore()
	src := CandidateSource{ContentType: "movie", ContentSource: "s", TableOrView: "t", IDField: "id", TitleField: "title"}
	store.SeedCandidates(src, []Candidate{
		{ContentType: "movie", ContentSource: "s", ContentID: "1", Title: "A"},
		{ContentType: "movie", ContentSource: "s", ContentID: "2", Title: "B"},
		{ContentType: "movie", ContentSource: "s", ContentID: "3", Title: "C"},
	})
	w := NewWorker(store, &fakeMetadataClient{}, []CandidateSource{src}, 2)

	stats, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Candidates)
}
