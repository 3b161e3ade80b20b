// Package search implements the search orchestrator (§4.9): the full
// query-to-results pipeline from a raw user query to hydrated, score-ordered
// hits, including the optional TMDB-backed expansion and cross-language hop.
package search

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/hermesindex/hermesindex/internal/embedding"
	"github.com/hermesindex/hermesindex/internal/expand"
	"github.com/hermesindex/hermesindex/internal/herrors"
	"github.com/hermesindex/hermesindex/internal/source"
	"github.com/hermesindex/hermesindex/internal/vectorstore"
)

// Request carries the orchestrator's inputs (§4.9).
type Request struct {
	Query        string
	TopK         int
	FetchK       int
	Cursor       int
	ExcludeNSFW  bool
	NSFWMax      float32
	TMDBOnly     bool
	SizeMinBytes int64
	Genres       []string
	TMDBExpand   bool
	Debug        bool
}

// Hit is one hydrated result.
type Hit struct {
	Source   string
	PgID     string
	Title    string
	Score    float32
	Metadata map[string]any
}

// Timing is the debug timing object (§4.10), populated only when
// Request.Debug is set.
type Timing struct {
	TMDBExpand    time.Duration
	Embed         time.Duration
	Qdrant        time.Duration
	EnglishSearch time.Duration
	PgLoop        time.Duration
	Total         time.Duration
	PgSources     []string
}

// Response is the orchestrator's output.
type Response struct {
	Results    []Hit
	NextCursor *int
	Debug      *Timing
	Warnings   []string
}

// Orchestrator wires the embedding client, vector store, query expander, and
// per-source readers into the §4.9 pipeline.
type Orchestrator struct {
	embedder    embedding.Client
	vectors     vectorstore.Store
	expander    *expand.Expander
	readers     map[string]source.Reader
	queryPrefix string
}

// New builds an Orchestrator. readers must be keyed by source name; sources
// absent from this map are skipped during hydration (§4.9 step 9) with a
// warning, not an error.
func New(embedder embedding.Client, vectors vectorstore.Store, expander *expand.Expander, readers map[string]source.Reader, queryPrefix string) *Orchestrator {
	return &Orchestrator{embedder: embedder, vectors: vectors, expander: expander, readers: readers, queryPrefix: queryPrefix}
}

// Search runs the full pipeline for one request.
func (o *Orchestrator) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	var timing Timing
	var warnings []string

	cleaned := strings.TrimSpace(req.Query)
	if cleaned == "" {
		return nil, herrors.New("search.Search", herrors.KindEmptyQuery, nil)
	}

	topK := req.TopK
	if topK <= 0 {
		topK = 20
	}
	fetchK := req.FetchK
	if fetchK <= 0 {
		fetchK = 100
	}

	expandedQuery := cleaned
	englishExpansion := ""
	if req.TMDBExpand && o.expander != nil {
		t0 := time.Now()
		result := o.expander.Expand(ctx, cleaned)
		timing.TMDBExpand = time.Since(t0)
		expandedQuery = result.ExpandedQuery
		englishExpansion = result.EnglishExpansion
	}

	primaryText := o.queryPrefix + expandedQuery
	t0 := time.Now()
	primaryVecs, err := o.embedder.Embed(ctx, []string{primaryText}, embedding.RoleQuery)
	timing.Embed = time.Since(t0)
	if err != nil {
		return nil, herrors.New("search.Search", herrors.KindEmbedUnavailable, err)
	}

	filter := &vectorstore.Filter{
		ExcludeNSFW:  req.ExcludeNSFW,
		NSFWMax:      req.NSFWMax,
		TMDBOnly:     req.TMDBOnly,
		SizeMinBytes: req.SizeMinBytes,
		Genres:       req.Genres,
	}

	t0 = time.Now()
	primaryHits, err := o.vectors.Query(ctx, primaryVecs[0], fetchK, filter)
	timing.Qdrant = time.Since(t0)
	if err != nil {
		return nil, herrors.New("search.Search", herrors.KindVectorUnavailable, err)
	}

	merged := toMergeable(primaryHits)

	if !isASCII(cleaned) && englishExpansion != "" {
		t0 = time.Now()
		englishVecs, embedErr := o.embedder.Embed(ctx, []string{o.queryPrefix + englishExpansion}, embedding.RoleQuery)
		if embedErr == nil {
			minimalFilter := &vectorstore.Filter{SizeMinBytes: req.SizeMinBytes}
			englishHits, queryErr := o.vectors.Query(ctx, englishVecs[0], fetchK, minimalFilter)
			if queryErr == nil {
				merged = mergeScored(merged, toMergeable(englishHits))
			}
		}
		timing.EnglishSearch = time.Since(t0)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].score != merged[j].score {
			return merged[i].score > merged[j].score
		}
		return merged[i].id < merged[j].id
	})
	if len(merged) > fetchK {
		merged = merged[:fetchK]
	}

	window := paginate(merged, req.Cursor, topK)
	var nextCursor *int
	if req.Cursor+len(window) < len(merged) {
		next := req.Cursor + len(window)
		nextCursor = &next
	}

	t0 = time.Now()
	hits, hydrationWarnings := o.hydrate(ctx, window, &timing.PgSources)
	timing.PgLoop = time.Since(t0)
	warnings = append(warnings, hydrationWarnings...)

	timing.Total = time.Since(start)

	resp := &Response{Results: hits, NextCursor: nextCursor, Warnings: warnings}
	if req.Debug {
		resp.Debug = &timing
	}
	return resp, nil
}

// mergeable is one merge-phase candidate before hydration.
type mergeable struct {
	source string
	pgID   string
	id     uint64
	score  float32
}

func toMergeable(points []vectorstore.ScoredPoint) []mergeable {
	out := make([]mergeable, 0, len(points))
	for _, p := range points {
		out = append(out, mergeable{source: p.Payload.Source, pgID: p.Payload.PgID, id: p.ID, score: p.Score})
	}
	return out
}

// mergeScored concatenates a and b, deduping by (source, pg_id) and keeping
// the max score for duplicates (§4.9 step 7).
func mergeScored(a, b []mergeable) []mergeable {
	combined := make([]mergeable, 0, len(a)+len(b))
	combined = append(combined, a...)
	combined = append(combined, b...)

	byKey := make(map[string]mergeable, len(combined))
	order := make([]string, 0, len(combined))
	for _, m := range combined {
		key := m.source + "\x00" + m.pgID
		if existing, ok := byKey[key]; !ok {
			byKey[key] = m
			order = append(order, key)
		} else if m.score > existing.score {
			byKey[key] = m
		}
	}
	out := make([]mergeable, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return out
}

func paginate(merged []mergeable, cursor, topK int) []mergeable {
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= len(merged) {
		return nil
	}
	end := cursor + topK
	if end > len(merged) {
		end = len(merged)
	}
	return merged[cursor:end]
}

// hydrate implements §4.9 step 9: group by source, fetch via each source's
// Reader, preserving the merged list's score order across sources.
func (o *Orchestrator) hydrate(ctx context.Context, window []mergeable, pgSources *[]string) ([]Hit, []string) {
	bySource := make(map[string][]string)
	var sourceOrder []string
	for _, m := range window {
		if _, ok := bySource[m.source]; !ok {
			sourceOrder = append(sourceOrder, m.source)
		}
		bySource[m.source] = append(bySource[m.source], m.pgID)
	}

	rowsBySourceAndID := make(map[string]map[string]source.Row)
	var warnings []string

	for _, src := range sourceOrder {
		reader, ok := o.readers[src]
		if !ok {
			warnings = append(warnings, "unregistered source skipped: "+src)
			continue
		}
		rows, err := reader.FetchByIDs(ctx, bySource[src])
		if err != nil {
			warnings = append(warnings, "hydration failed for source "+src+": "+err.Error())
			continue
		}
		*pgSources = append(*pgSources, src)

		byID := make(map[string]source.Row, len(rows))
		for _, r := range rows {
			byID[r.PgID] = r
		}
		rowsBySourceAndID[src] = byID
	}

	hits := make([]Hit, 0, len(window))
	for _, m := range window {
		byID, ok := rowsBySourceAndID[m.source]
		if !ok {
			continue
		}
		row, ok := byID[m.pgID]
		if !ok {
			continue
		}
		hits = append(hits, Hit{
			Source:   m.source,
			PgID:     m.pgID,
			Title:    row.Text,
			Score:    m.score,
			Metadata: row.Extras,
		})
	}
	return hits, warnings
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > 127 {
			return false
		}
	}
	return true
}
