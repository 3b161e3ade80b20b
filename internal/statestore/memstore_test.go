package statestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore_UpsertAndGet(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemStore(func() time.Time { return now })

	err := s.UpsertMany(ctx, []Entry{
		{Source: "bitmagnet_torrents", PgID: "abc", TextHash: "h1", EmbeddingVersion: "v1", VectorID: 1, HasVectorID: true},
	})
	require.NoError(t, err)

	got, err := s.GetMany(ctx, "bitmagnet_torrents", []string{"abc", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got["abc"].UpToDate("h1", "v1"))
	assert.False(t, got["abc"].UpToDate("h2", "v1"))
	assert.Equal(t, now, got["abc"].UpdatedAt)
}

func TestMemStore_MarkErrorDoesNotClearHash(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore(nil)

	require.NoError(t, s.UpsertMany(ctx, []Entry{
		{Source: "s", PgID: "1", TextHash: "h", EmbeddingVersion: "v"},
	}))
	require.NoError(t, s.MarkError(ctx, "s", "1", errors.New("boom")))

	e, ok := s.Snapshot("s", "1")
	require.True(t, ok)
	assert.Equal(t, "h", e.TextHash, "MarkError must not clobber an existing hash (ROW_FAILED retries on next cycle)")
	require.NotNil(t, e.LastError)
	assert.Equal(t, "boom", *e.LastError)
}

func TestMemStore_MaxUpdatedAtIsMonotonic(t *testing.T) {
	ctx := context.Background()
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	cur := t1
	s := NewMemStore(func() time.Time { return cur })

	require.NoError(t, s.UpsertMany(ctx, []Entry{{Source: "s", PgID: "1", TextHash: "h"}}))
	max1, err := s.MaxUpdatedAt(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, t1, max1)

	cur = t2
	require.NoError(t, s.UpsertMany(ctx, []Entry{{Source: "s", PgID: "2", TextHash: "h2"}}))
	max2, err := s.MaxUpdatedAt(ctx, "s")
	require.NoError(t, err)
	assert.True(t, !max2.Before(max1), "watermark must be non-decreasing")
}

func TestMemStore_MissingSinceReturnsOnlyErrored(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore(nil)
	require.NoError(t, s.UpsertMany(ctx, []Entry{{Source: "s", PgID: "ok", TextHash: "h"}}))
	require.NoError(t, s.MarkError(ctx, "s", "bad", errors.New("x")))

	ids, err := s.MissingSince(ctx, "s", time.Time{}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"bad"}, ids)
}
