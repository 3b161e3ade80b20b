package enrichment

import (
	"context"
	"strings"
	"time"
)

// FakeStore is an in-memory Store used by worker tests. Its SearchTitles
// matches on title only.
type FakeStore struct {
	rows       map[string]Row // key: content_type|content_source|content_id
	candidates map[string][]Candidate
}

func NewFakeStore() *FakeStore {
	return &FakeStore{rows: make(map[string]Row), candidates: make(map[string][]Candidate)}
}

func key(contentType, contentSource, contentID string) string {
	return contentType + "|" + contentSource + "|" + contentID
}

// SeedCandidates registers the candidates SelectCandidates returns for src.
func (f *FakeStore) SeedCandidates(src CandidateSource, candidates []Candidate) {
	f.candidates[src.ContentType+"|"+src.ContentSource] = candidates
}

func (f *FakeStore) SelectCandidates(_ context.Context, src CandidateSource, limit int) ([]Candidate, error) {
	all := f.candidates[src.ContentType+"|"+src.ContentSource]
	if len(all) > limit {
		return all[:limit], nil
	}
	return all, nil
}

func (f *FakeStore) Upsert(_ context.Context, row Row) error {
	row.UpdatedAt = time.Time{}
	f.rows[key(row.ContentType, row.ContentSource, row.ContentID)] = row
	return nil
}

func (f *FakeStore) Lookup(_ context.Context, contentType, contentSource, contentID string) (Row, bool, error) {
	r, ok := f.rows[key(contentType, contentSource, contentID)]
	return r, ok, nil
}

func (f *FakeStore) SearchTitles(_ context.Context, query string, _ time.Duration, limit int) ([]Row, error) {
	q := strings.ToLower(query)
	var out []Row
	for _, r := range f.rows {
		if strings.Contains(strings.ToLower(r.Title), q) {
			out = append(out, r)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *FakeStore) Close() {}

var _ Store = (*FakeStore)(nil)
