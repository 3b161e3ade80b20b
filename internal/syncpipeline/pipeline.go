// Package syncpipeline implements the per-source sync cycle (§4.6): pull
// rows since the last watermark, diff against the state store, embed what
// changed, and commit to both the vector store and the state store in
// non-decreasing updated_at order.
package syncpipeline

import (
	"context"

	"github.com/hermesindex/hermesindex/internal/config"
	"github.com/hermesindex/hermesindex/internal/embedding"
	"github.com/hermesindex/hermesindex/internal/herrors"
	"github.com/hermesindex/hermesindex/internal/source"
	"github.com/hermesindex/hermesindex/internal/statestore"
	"github.com/hermesindex/hermesindex/internal/texthash"
	"github.com/hermesindex/hermesindex/internal/vectorstore"
)

// Stats summarizes one cycle's outcome, returned for logging/metrics.
type Stats struct {
	Source    string
	Pulled    int
	Unchanged int
	Embedded  int
	Failed    int
}

// Pipeline drives one source's sync cycle.
type Pipeline struct {
	src       config.SourceConfig
	reader    source.Reader
	state     statestore.Store
	embedder  embedding.Client
	vectors   vectorstore.Store
	batchSize int
}

// New builds a Pipeline for one source. The batch size is src.BatchSize,
// or 200 when that is not positive.
func New(src config.SourceConfig, reader source.Reader, state statestore.Store, embedder embedding.Client, vectors vectorstore.Store) *Pipeline {
	batchSize := src.BatchSize
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Pipeline{src: src, reader: reader, state: state, embedder: embedder, vectors: vectors, batchSize: batchSize}
}

// RunCycle runs one full cycle for the source: repeated batch pulls until a
// short batch signals the end, per §4.6 step 8. It returns aggregate stats;
// per-row failures do not abort the cycle.
func (p *Pipeline) RunCycle(ctx context.Context) (Stats, error) {
	var total Stats
	total.Source = p.src.Name

	watermark, err := p.state.MaxUpdatedAt(ctx, p.src.Name)
	if err != nil {
		return total, herrors.New("syncpipeline.RunCycle", herrors.KindDBUnavailable, err)
	}

	for {
		select {
		case <-ctx.Done():
			return total, herrors.New("syncpipeline.RunCycle", herrors.KindCancelled, ctx.Err())
		default:
		}

		rows, err := p.reader.Next(ctx, watermark, p.batchSize)
		if err != nil {
			return total, err
		}
		if len(rows) == 0 {
			return total, nil
		}
		total.Pulled += len(rows)

		batch, err := p.runBatch(ctx, rows)
		if err != nil {
			return total, err
		}
		total.Unchanged += batch.Unchanged
		total.Embedded += batch.Embedded
		total.Failed += batch.Failed

		watermark = rows[len(rows)-1].UpdatedAt

		if len(rows) < p.batchSize {
			return total, nil
		}
	}
}

// runBatch implements §4.6 steps 3-7 for one pulled batch.
func (p *Pipeline) runBatch(ctx context.Context, rows []source.Row) (Stats, error) {
	var stats Stats

	type hashed struct {
		row  source.Row
		hash string
	}
	var toEmbed []hashed

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.PgID
	}
	existing, err := p.state.GetMany(ctx, p.src.Name, ids)
	if err != nil {
		return stats, err
	}

	for _, row := range rows {
		hash, err := texthash.Hash(row.Text)
		if err != nil {
			_ = p.state.MarkError(ctx, p.src.Name, row.PgID, err)
			stats.Failed++
			continue
		}

		if entry, ok := existing[row.PgID]; ok && entry.UpToDate(hash, p.embedder.Version()) {
			stats.Unchanged++
			continue
		}

		toEmbed = append(toEmbed, hashed{row: row, hash: hash})
	}

	if len(toEmbed) == 0 {
		return stats, nil
	}

	texts := make([]string, len(toEmbed))
	for i, h := range toEmbed {
		texts[i] = texthash.Normalize(h.row.Text)
	}

	vectors, embedErr := p.embedder.Embed(ctx, texts, embedding.RoleDocument)
	if embedErr != nil {
		for _, h := range toEmbed {
			_ = p.state.MarkError(ctx, p.src.Name, h.row.PgID, embedErr)
			stats.Failed++
		}
		return stats, nil
	}

	var nsfwScores []float32
	if nsfw, err := p.embedder.Classify(ctx, texts); err == nil {
		nsfwScores = nsfw
	}

	points := make([]vectorstore.Point, 0, len(toEmbed))
	for i, h := range toEmbed {
		entry, hadEntry := existing[h.row.PgID]
		var id uint64
		if hadEntry && entry.HasVectorID {
			id = entry.VectorID
		}

		var nsfw float32
		if i < len(nsfwScores) {
			nsfw = nsfwScores[i]
		}

		points = append(points, vectorstore.Point{
			ID:     id,
			Vector: vectors[i],
			Payload: vectorstore.VectorPayload{
				Source:           p.src.Name,
				PgID:             h.row.PgID,
				TextHash:         h.hash,
				EmbeddingVersion: p.embedder.Version(),
				NSFWScore:        nsfw,
				ContentType:      p.src.ContentType,
				SizeBytes:        extraInt64(h.row.Extras, "size_bytes"),
				HasTMDB:          extraBool(h.row.Extras, "has_tmdb"),
				Genres:           extraStrings(h.row.Extras, "genres"),
			},
		})
	}

	assignedIDs, err := p.vectors.Upsert(ctx, points)
	if err != nil {
		return stats, herrors.New("syncpipeline.runBatch", herrors.KindVectorUnavailable, err)
	}

	entries := make([]statestore.Entry, 0, len(toEmbed))
	for i, h := range toEmbed {
		var nsfw *float32
		if i < len(nsfwScores) {
			v := nsfwScores[i]
			nsfw = &v
		}
		entries = append(entries, statestore.Entry{
			Source:           p.src.Name,
			PgID:             h.row.PgID,
			TextHash:         h.hash,
			EmbeddingVersion: p.embedder.Version(),
			VectorID:         assignedIDs[i],
			HasVectorID:      true,
			NSFWScore:        nsfw,
			UpdatedAt:        h.row.UpdatedAt,
		})
	}
	if err := p.state.UpsertMany(ctx, entries); err != nil {
		return stats, err
	}
	stats.Embedded += len(entries)

	return stats, nil
}

func extraInt64(extras map[string]any, key string) int64 {
	switch v := extras[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

func extraBool(extras map[string]any, key string) bool {
	v, _ := extras[key].(bool)
	return v
}

func extraStrings(extras map[string]any, key string) []string {
	if v, ok := extras[key].([]string); ok {
		return v
	}
	return nil
}
