// Package http provides the HTTP surface for hermesindex (§4.10): search,
// keyword fallback, hydration, and status endpoints.
package http

// SearchResultDTO is one entry in GET /search's results array.
type SearchResultDTO struct {
	Source   string         `json:"source"`
	PgID     string         `json:"pg_id"`
	Title    string         `json:"title"`
	Score    float32        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SearchResponse is the response body for GET /search and GET /search_keyword.
type SearchResponse struct {
	Results    []SearchResultDTO `json:"results"`
	NextCursor *int              `json:"next_cursor,omitempty"`
	Debug      *DebugTiming      `json:"_debug,omitempty"`
}

// DebugTiming is the debug timing object (§4.10), included only when the
// request sets debug=true.
type DebugTiming struct {
	TMDBExpandMs    int64            `json:"tmdb_expand"`
	EmbedMs         int64            `json:"embed"`
	QdrantMs        int64            `json:"qdrant"`
	EnglishSearchMs int64            `json:"english_search"`
	PgLoopMs        int64            `json:"pg_loop"`
	TotalMs         int64            `json:"total"`
	PgSources       []PgSourceTiming `json:"pg_sources,omitempty"`
	Warnings        []string         `json:"warnings,omitempty"`
}

// PgSourceTiming names a source that hydration read from. Per-source fetch
// time is not measured: PgFetchMs is always 0.
type PgSourceTiming struct {
	Source    string `json:"source"`
	PgFetchMs int64  `json:"pg_fetch_ms"`
}

// HydrateResponse is the response body for GET /hydrate.
type HydrateResponse struct {
	Source   string         `json:"source"`
	PgID     string         `json:"pg_id"`
	Title    string         `json:"title"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SourceStatus is one source's entry in GET /status's sources array.
// handleStatus does not count rows, so Total and Synced are always 0.
type SourceStatus struct {
	Name         string `json:"name"`
	Total        int64  `json:"total"`
	Synced       int64  `json:"synced"`
	MaxUpdatedAt string `json:"max_updated_at,omitempty"`
	LastSyncAt   string `json:"last_sync_at,omitempty"`
	Errors       int64  `json:"errors"`
}

// StatusResponse is the response body for GET /status.
type StatusResponse struct {
	Status           string         `json:"status"`
	Sources          []SourceStatus `json:"sources"`
	VectorStoreCount int64          `json:"vector_store_count"`
	VectorStoreOK    bool           `json:"vector_store_healthy"`
}

// ErrorBody is the uniform error envelope (§4.10, §7).
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error kind and a human-readable message.
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
