package source

import (
	"context"
	"sort"
	"strings"
	"time"
)

// FakeReader is an in-memory Reader used by syncpipeline and search tests in
// place of a live Postgres connection.
type FakeReader struct {
	rows []Row
}

// NewFakeReader builds a FakeReader seeded with rows, sorted by
// (updated_at, pg_id) ascending to match PostgresReader's ordering guarantee.
func NewFakeReader(rows ...Row) *FakeReader {
	sorted := append([]Row(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].UpdatedAt.Equal(sorted[j].UpdatedAt) {
			return sorted[i].UpdatedAt.Before(sorted[j].UpdatedAt)
		}
		return sorted[i].PgID < sorted[j].PgID
	})
	return &FakeReader{rows: sorted}
}

func (f *FakeReader) Next(_ context.Context, watermark time.Time, batchSize int) ([]Row, error) {
	var out []Row
	for _, r := range f.rows {
		if r.UpdatedAt.After(watermark) {
			out = append(out, r)
			if len(out) >= batchSize {
				break
			}
		}
	}
	return out, nil
}

func (f *FakeReader) FetchByIDs(_ context.Context, ids []string) ([]Row, error) {
	byID := make(map[string]Row, len(f.rows))
	for _, r := range f.rows {
		byID[r.PgID] = r
	}
	out := make([]Row, 0, len(ids))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *FakeReader) SearchKeyword(_ context.Context, query string, limit int) ([]Row, error) {
	q := strings.ToLower(query)
	var out []Row
	for _, r := range f.rows {
		if strings.Contains(strings.ToLower(r.Text), q) {
			out = append(out, r)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

var _ Reader = (*FakeReader)(nil)
