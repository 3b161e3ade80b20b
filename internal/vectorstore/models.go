package vectorstore

// VectorPayload is attached to every vector in the store. Source and PgID identify
// the originating row; TextHash and EmbeddingVersion let the state store and the
// vector store agree on freshness without a round trip. The remaining fields are
// filterable per §3 and are populated best-effort by the sync pipeline from the
// source row's extras.
type VectorPayload struct {
	Source           string   `json:"source"`
	PgID             string   `json:"pg_id"`
	TextHash         string   `json:"text_hash"`
	EmbeddingVersion string   `json:"embedding_version"`
	NSFWScore        float32  `json:"nsfw_score"`
	ContentType      string   `json:"content_type,omitempty"`
	HasTMDB          bool     `json:"has_tmdb,omitempty"`
	TMDBID           int64    `json:"tmdb_id,omitempty"`
	SizeBytes        int64    `json:"size,omitempty"`
	Languages        []string `json:"languages,omitempty"`
	Subtitles        []string `json:"subtitles,omitempty"`
	Genres           []string `json:"genres,omitempty"`
}

// Matches reports whether the payload satisfies filter. Used directly by LocalHNSW
// (post-filtering a candidate set) and mirrored by RemoteCollection's translated
// backend filter.
func (p VectorPayload) Matches(f *Filter) bool {
	if f == nil {
		return true
	}
	if f.ExcludeNSFW && p.NSFWScore >= f.NSFWMax {
		return false
	}
	if f.TMDBOnly && !p.HasTMDB {
		return false
	}
	if f.SizeMinBytes > 0 && p.SizeBytes < f.SizeMinBytes {
		return false
	}
	if len(f.Genres) > 0 {
		if !containsAnyGenre(p.Genres, f.Genres) {
			return false
		}
	}
	return true
}

func containsAnyGenre(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}
