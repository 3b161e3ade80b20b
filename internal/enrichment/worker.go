package enrichment

import (
	"context"
	"time"
)

// RunStats summarizes one enrichment pass.
type RunStats struct {
	Candidates int
	OK         int
	Failed     int
}

// Worker drives the enrichment loop (§4.7): select candidates lacking
// enrichment, look each up against the external metadata API, write the
// result (or the failure) back to the store.
type Worker struct {
	store   Store
	client  MetadataClient
	sources []CandidateSource
	limit   int
}

// NewWorker builds a Worker over one or more candidate sources (one per
// tmdb_enrich-flagged source in the registry).
func NewWorker(store Store, client MetadataClient, sources []CandidateSource, limit int) *Worker {
	if limit <= 0 {
		limit = 50
	}
	return &Worker{store: store, client: client, sources: sources, limit: limit}
}

// RunOnce performs a single enrichment pass across all configured sources.
func (w *Worker) RunOnce(ctx context.Context) (RunStats, error) {
	var stats RunStats

	for _, src := range w.sources {
		candidates, err := w.store.SelectCandidates(ctx, src, w.limit)
		if err != nil {
			return stats, err
		}
		stats.Candidates += len(candidates)

		for _, c := range candidates {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			default:
			}

			row := Row{
				ContentType:   c.ContentType,
				ContentSource: c.ContentSource,
				ContentID:     c.ContentID,
				Title:         c.Title,
			}

			result, lookupErr := w.client.Lookup(ctx, c.Title)
			if lookupErr != nil {
				row.Status = "error"
				row.Error = lookupErr.Error()
				if err := w.store.Upsert(ctx, row); err != nil {
					return stats, err
				}
				stats.Failed++
				continue
			}

			row.AKA = result.AKA
			row.Keywords = result.Keywords
			row.Plot = result.Plot
			row.Genre = result.Genre
			row.Directors = result.Directors
			row.Actors = result.Actors
			row.ReleaseYear = result.ReleaseYear
			row.PosterPath = result.PosterPath
			row.Status = "ok"

			if err := w.store.Upsert(ctx, row); err != nil {
				return stats, err
			}
			stats.OK++
		}
	}

	return stats, nil
}

// Loop runs RunOnce repeatedly, sleeping sleepSeconds between passes, until
// ctx is cancelled.
func (w *Worker) Loop(ctx context.Context, sleepSeconds int) error {
	if sleepSeconds <= 0 {
		sleepSeconds = 30
	}
	interval := time.Duration(sleepSeconds) * time.Second

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
