// Package source implements the per-source row reader (§4.5): a
// watermark-paginated cursor over a source's table_or_view that composes
// the text the rest of the pipeline embeds and hashes.
package source

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hermesindex/hermesindex/internal/config"
	"github.com/hermesindex/hermesindex/internal/herrors"
)

// Row is one upstream record (§3). PgID is already the final, stable
// identifier: composite-keyed sources are backed by upstream views that
// perform the "type:source:id" concatenation themselves, so the reader and
// the hydration path always see the identical string for a given record
// (see DESIGN.md's resolution of the composite-pg_id open question).
type Row struct {
	Source    string
	PgID      string
	Text      string
	Extras    map[string]any
	UpdatedAt time.Time
}

// Reader pulls row batches from one source, ordered by (updated_at, pg_id)
// ascending, starting after watermark.
type Reader interface {
	// Next returns up to batchSize rows with updated_at > watermark (or, for
	// sources without UpdatedAtField, a full scan). A short batch (len <
	// batchSize) signals the caller has reached the end of the source for
	// this cycle (§4.6 step 8).
	Next(ctx context.Context, watermark time.Time, batchSize int) ([]Row, error)

	// FetchByIDs re-reads full rows for hydration (§4.9 step 9), preserving
	// the same search_text composition rule used at sync time.
	FetchByIDs(ctx context.Context, ids []string) ([]Row, error)

	// SearchKeyword performs the §4.8/§6 ILIKE fallback search directly
	// against this source's text field, for GET /search_keyword.
	SearchKeyword(ctx context.Context, query string, limit int) ([]Row, error)
}

// PostgresReader reads from a bitmagnet-schema table or view via pgx.
type PostgresReader struct {
	pool   *pgxpool.Pool
	schema string
	src    config.SourceConfig
}

// New builds a PostgresReader for one configured source.
func New(pool *pgxpool.Pool, schema string, src config.SourceConfig) *PostgresReader {
	return &PostgresReader{pool: pool, schema: schema, src: src}
}

func (r *PostgresReader) qualifiedTable() string {
	return pgx.Identifier{r.schema, r.src.TableOrView}.Sanitize()
}

// selectList builds the column list: id, text, optional updated_at, extras.
func (r *PostgresReader) selectList() []string {
	cols := []string{pgx.Identifier{r.src.IDField}.Sanitize(), pgx.Identifier{r.src.TextField}.Sanitize()}
	if r.src.UpdatedAtField != "" {
		cols = append(cols, pgx.Identifier{r.src.UpdatedAtField}.Sanitize())
	}
	for _, f := range r.src.ExtraFields {
		cols = append(cols, pgx.Identifier{f}.Sanitize())
	}
	return cols
}

func (r *PostgresReader) Next(ctx context.Context, watermark time.Time, batchSize int) ([]Row, error) {
	cols := r.selectList()
	var query string
	var args []any

	if r.src.UpdatedAtField != "" {
		updCol := pgx.Identifier{r.src.UpdatedAtField}.Sanitize()
		idCol := pgx.Identifier{r.src.IDField}.Sanitize()
		query = fmt.Sprintf(`SELECT %s FROM %s WHERE %s > $1 ORDER BY %s ASC, %s ASC LIMIT $2`,
			strings.Join(cols, ", "), r.qualifiedTable(), updCol, updCol, idCol)
		args = []any{watermark, batchSize}
	} else {
		// §4.6 tie-break: sources without updated_at_field fall back to a full
		// scan ordered by id, relying on hash-based change detection alone.
		idCol := pgx.Identifier{r.src.IDField}.Sanitize()
		query = fmt.Sprintf(`SELECT %s FROM %s ORDER BY %s ASC LIMIT $1`,
			strings.Join(cols, ", "), r.qualifiedTable(), idCol)
		args = []any{batchSize}
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, herrors.New("source.Next", herrors.KindDBUnavailable, err)
	}
	defer rows.Close()

	return r.scanRows(rows)
}

func (r *PostgresReader) FetchByIDs(ctx context.Context, ids []string) ([]Row, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cols := r.selectList()
	idCol := pgx.Identifier{r.src.IDField}.Sanitize()
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ANY($1)`, strings.Join(cols, ", "), r.qualifiedTable(), idCol)

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, herrors.New("source.FetchByIDs", herrors.KindDBUnavailable, err)
	}
	defer rows.Close()

	out, err := r.scanRows(rows)
	if err != nil {
		return nil, err
	}
	// Preserve caller's requested order for hydration's score-order guarantee.
	byID := make(map[string]Row, len(out))
	for _, row := range out {
		byID[row.PgID] = row
	}
	ordered := make([]Row, 0, len(ids))
	for _, id := range ids {
		if row, ok := byID[id]; ok {
			ordered = append(ordered, row)
		}
	}
	return ordered, nil
}

func (r *PostgresReader) SearchKeyword(ctx context.Context, query string, limit int) ([]Row, error) {
	cols := r.selectList()
	textCol := pgx.Identifier{r.src.TextField}.Sanitize()
	sqlQuery := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ILIKE $1 LIMIT $2`,
		strings.Join(cols, ", "), r.qualifiedTable(), textCol)

	rows, err := r.pool.Query(ctx, sqlQuery, "%"+query+"%", limit)
	if err != nil {
		return nil, herrors.New("source.SearchKeyword", herrors.KindDBUnavailable, err)
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// scanRows reads the column list produced by selectList into Rows, composing
// Text from text_field plus extras per the source's search_text rule.
func (r *PostgresReader) scanRows(rows pgx.Rows) ([]Row, error) {
	var out []Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, herrors.New("source.scanRows", herrors.KindDBUnavailable, err)
		}

		idx := 0
		pgID := fmt.Sprint(vals[idx])
		idx++
		text, _ := vals[idx].(string)
		idx++

		var updatedAt time.Time
		if r.src.UpdatedAtField != "" {
			if t, ok := vals[idx].(time.Time); ok {
				updatedAt = t
			}
			idx++
		}

		extras := make(map[string]any, len(r.src.ExtraFields))
		for _, f := range r.src.ExtraFields {
			if idx < len(vals) {
				extras[f] = vals[idx]
				idx++
			}
		}

		out = append(out, Row{
			Source:    r.src.Name,
			PgID:      pgID,
			Text:      SearchText(text, r.src.ExtraFields, extras),
			Extras:    extras,
			UpdatedAt: updatedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, herrors.New("source.scanRows", herrors.KindDBUnavailable, err)
	}
	// Defensive re-sort: callers depend on (updated_at, pg_id) ascending even
	// when the query itself already orders this way.
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].PgID < out[j].PgID
	})
	return out, nil
}

// SearchText composes the text embedded and hashed for a row: the text field
// followed by any configured extra fields, space-joined. Normalization (noise
// token stripping) happens downstream in internal/texthash, not here — this
// is the raw search_text the spec's §4.5 rule describes.
func SearchText(text string, extraFields []string, extras map[string]any) string {
	parts := []string{text}
	for _, f := range extraFields {
		if v, ok := extras[f]; ok && v != nil {
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return strings.Join(parts, " ")
}

var _ Reader = (*PostgresReader)(nil)
