package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/hermesindex/hermesindex/internal/herrors"
	"github.com/hermesindex/hermesindex/internal/search"
)

// handleSearch implements GET /search (§4.9, §4.10).
func (s *Server) handleSearch(c echo.Context) error {
	excludeNSFWDefault := false
	nsfwMax := float32(0.7)
	if s.config != nil {
		excludeNSFWDefault = s.config.ExcludeNSFWDefault
		if s.config.NSFWThreshold != 0 {
			nsfwMax = s.config.NSFWThreshold
		}
	}

	req := search.Request{
		Query:        c.QueryParam("q"),
		TopK:         queryInt(c, "page_size", queryInt(c, "topk", 20)),
		FetchK:       queryInt(c, "fetch_k", 100),
		Cursor:       queryInt(c, "cursor", 0),
		ExcludeNSFW:  queryBool(c, "exclude_nsfw", excludeNSFWDefault),
		NSFWMax:      nsfwMax,
		TMDBOnly:     queryBool(c, "tmdb_only", false),
		SizeMinBytes: queryInt64(c, "size_min_bytes", 0),
		TMDBExpand:   queryBool(c, "tmdb_expand", false),
		Debug:        queryBool(c, "debug", false),
	}

	resp, err := s.orchestrator.Search(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, toSearchResponse(resp))
}

// handleSearchKeyword implements GET /search_keyword: a per-source ILIKE
// fallback (§4.8/§4.10) that bypasses the embedding/vector pipeline entirely.
func (s *Server) handleSearchKeyword(c echo.Context) error {
	q := c.QueryParam("q")
	if q == "" {
		return writeError(c, herrors.New("http.handleSearchKeyword", herrors.KindEmptyQuery, nil))
	}
	limit := queryInt(c, "page_size", 20)

	var results []SearchResultDTO
	for _, name := range s.sourceNames {
		reader, ok := s.readers[name]
		if !ok {
			continue
		}
		rows, err := reader.SearchKeyword(c.Request().Context(), q, limit)
		if err != nil {
			s.logger.Warn(c.Request().Context(), "keyword search failed", zap.Error(err), zap.String("source", name))
			continue
		}
		for _, row := range rows {
			results = append(results, SearchResultDTO{Source: name, PgID: row.PgID, Title: row.Text, Metadata: row.Extras})
			if len(results) >= limit {
				break
			}
		}
	}

	return c.JSON(http.StatusOK, SearchResponse{Results: results})
}

// handleHydrate implements GET /hydrate?source&id: a single-record lookup.
func (s *Server) handleHydrate(c echo.Context) error {
	sourceName := c.QueryParam("source")
	id := c.QueryParam("id")
	if sourceName == "" || id == "" {
		return writeError(c, herrors.New("http.handleHydrate", herrors.KindNotFound, nil))
	}

	reader, ok := s.readers[sourceName]
	if !ok {
		return writeError(c, herrors.New("http.handleHydrate", herrors.KindNotFound, nil))
	}

	rows, err := reader.FetchByIDs(c.Request().Context(), []string{id})
	if err != nil {
		return writeError(c, err)
	}
	if len(rows) == 0 {
		return writeError(c, herrors.New("http.handleHydrate", herrors.KindNotFound, nil))
	}

	row := rows[0]
	return c.JSON(http.StatusOK, HydrateResponse{Source: row.Source, PgID: row.PgID, Title: row.Text, Metadata: row.Extras})
}

// handleStatus implements GET /status: per-source sync stats plus vector
// store health (§4.10).
func (s *Server) handleStatus(c echo.Context) error {
	ctx := c.Request().Context()
	resp := StatusResponse{Status: "ok"}

	for _, name := range s.sourceNames {
		entry := SourceStatus{Name: name}
		if s.state != nil {
			if max, err := s.state.MaxUpdatedAt(ctx, name); err == nil && !max.IsZero() {
				entry.MaxUpdatedAt = max.Format(time.RFC3339)
				entry.LastSyncAt = entry.MaxUpdatedAt
			}
			if errored, err := s.state.MissingSince(ctx, name, time.Time{}, 1_000_000); err == nil {
				entry.Errors = int64(len(errored))
			}
		}
		resp.Sources = append(resp.Sources, entry)
	}

	if s.vectors != nil {
		if count, err := s.vectors.Count(ctx); err == nil {
			resp.VectorStoreCount = count
		}
		if health, err := s.vectors.HealthCheck(ctx); err == nil {
			resp.VectorStoreOK = health.Healthy
		}
	}
	if !resp.VectorStoreOK {
		resp.Status = "degraded"
	}

	return c.JSON(http.StatusOK, resp)
}

func toSearchResponse(r *search.Response) SearchResponse {
	out := SearchResponse{NextCursor: r.NextCursor}
	for _, hit := range r.Results {
		out.Results = append(out.Results, SearchResultDTO{
			Source:   hit.Source,
			PgID:     hit.PgID,
			Title:    hit.Title,
			Score:    hit.Score,
			Metadata: hit.Metadata,
		})
	}
	if r.Debug != nil {
		out.Debug = &DebugTiming{
			TMDBExpandMs:    r.Debug.TMDBExpand.Milliseconds(),
			EmbedMs:         r.Debug.Embed.Milliseconds(),
			QdrantMs:        r.Debug.Qdrant.Milliseconds(),
			EnglishSearchMs: r.Debug.EnglishSearch.Milliseconds(),
			PgLoopMs:        r.Debug.PgLoop.Milliseconds(),
			TotalMs:         r.Debug.Total.Milliseconds(),
			Warnings:        r.Warnings,
		}
		for _, src := range r.Debug.PgSources {
			out.Debug.PgSources = append(out.Debug.PgSources, PgSourceTiming{Source: src})
		}
	}
	return out
}
