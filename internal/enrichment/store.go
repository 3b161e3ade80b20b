// Package enrichment implements the enrichment worker (§4.7): it fills an
// enrichment table (aka, keywords, plot, genre, cast) for content rows that
// lack it, via a rate-limited external metadata API, and backs the query
// expander's aka/keywords lookups (§4.8).
package enrichment

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hermesindex/hermesindex/internal/herrors"
)

// Row is an EnrichmentRow (§3), keyed by (content_type, content_source, content_id).
type Row struct {
	ContentType   string
	ContentSource string
	ContentID     string
	Title         string
	AKA           []string
	Keywords      []string
	Plot          string
	Genre         []string
	Directors     []string
	Actors        []string
	ReleaseYear   int
	PosterPath    string
	UpdatedAt     time.Time
	Status        string // "ok" | "error"
	Error         string
}

// Candidate is a content row awaiting enrichment.
type Candidate struct {
	ContentType   string
	ContentSource string
	ContentID     string
	Title         string
}

// Store is the enrichment table's capability set.
type Store interface {
	// SelectCandidates returns up to limit rows from tableOrView (qualified by
	// contentType/contentSource) missing an enrichment row, or with one whose
	// aka and keywords are both null (§4.7).
	SelectCandidates(ctx context.Context, src CandidateSource, limit int) ([]Candidate, error)

	// Upsert writes one enrichment result transactionally.
	Upsert(ctx context.Context, row Row) error

	// Lookup reads the current enrichment row for (content_type, content_source,
	// content_id), used by the query expander and hydration path. ok is false
	// if no row exists.
	Lookup(ctx context.Context, contentType, contentSource, contentID string) (Row, bool, error)

	// SearchTitles implements §4.8 step 1: an ILIKE match against title/aka/
	// keywords, bounded by a statement timeout. Returns (nil, nil) on timeout.
	SearchTitles(ctx context.Context, query string, timeout time.Duration, limit int) ([]Row, error)

	Close()
}

// CandidateSource names the upstream table/view and columns a candidate
// selection query reads from.
type CandidateSource struct {
	ContentType   string
	ContentSource string
	TableOrView   string
	IDField       string
	TitleField    string
}

// PostgresStore is the pgx-backed enrichment Store.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// New wraps an existing pool. The caller owns the pool's lifecycle.
func New(pool *pgxpool.Pool, schema string) *PostgresStore {
	if schema == "" {
		schema = "hermes"
	}
	return &PostgresStore{pool: pool, schema: schema}
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "enrichment"}.Sanitize()
}

func (s *PostgresStore) SelectCandidates(ctx context.Context, src CandidateSource, limit int) ([]Candidate, error) {
	sourceTable := pgx.Identifier{s.schema, src.TableOrView}.Sanitize()
	idCol := pgx.Identifier{src.IDField}.Sanitize()
	titleCol := pgx.Identifier{src.TitleField}.Sanitize()

	query := fmt.Sprintf(`
		SELECT s.%s, s.%s
		FROM %s s
		LEFT JOIN %s e
			ON e.content_type = $1 AND e.content_source = $2 AND e.content_id = s.%s::text
		WHERE e.content_id IS NULL OR (e.aka IS NULL AND e.keywords IS NULL)
		LIMIT $3`, idCol, titleCol, sourceTable, s.table(), idCol)

	rows, err := s.pool.Query(ctx, query, src.ContentType, src.ContentSource, limit)
	if err != nil {
		return nil, herrors.New("enrichment.SelectCandidates", herrors.KindDBUnavailable, err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var id, title string
		if err := rows.Scan(&id, &title); err != nil {
			return nil, herrors.New("enrichment.SelectCandidates", herrors.KindDBUnavailable, err)
		}
		out = append(out, Candidate{
			ContentType:   src.ContentType,
			ContentSource: src.ContentSource,
			ContentID:     id,
			Title:         title,
		})
	}
	return out, rows.Err()
}

func (s *PostgresStore) Upsert(ctx context.Context, row Row) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return herrors.New("enrichment.Upsert", herrors.KindDBUnavailable, err)
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(`
		INSERT INTO %s (
			content_type, content_source, content_id, title, aka, keywords, plot, genre,
			directors, actors, release_year, poster_path, updated_at, status, error
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now(),$13,$14)
		ON CONFLICT (content_type, content_source, content_id) DO UPDATE SET
			title = EXCLUDED.title,
			aka = EXCLUDED.aka,
			keywords = EXCLUDED.keywords,
			plot = EXCLUDED.plot,
			genre = EXCLUDED.genre,
			directors = EXCLUDED.directors,
			actors = EXCLUDED.actors,
			release_year = EXCLUDED.release_year,
			poster_path = EXCLUDED.poster_path,
			updated_at = now(),
			status = EXCLUDED.status,
			error = EXCLUDED.error`, s.table())

	_, err = tx.Exec(ctx, query,
		row.ContentType, row.ContentSource, row.ContentID, row.Title, row.AKA, row.Keywords,
		row.Plot, row.Genre, row.Directors, row.Actors, row.ReleaseYear, row.PosterPath,
		row.Status, row.Error)
	if err != nil {
		return herrors.New("enrichment.Upsert", herrors.KindDBUnavailable, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return herrors.New("enrichment.Upsert", herrors.KindDBUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Lookup(ctx context.Context, contentType, contentSource, contentID string) (Row, bool, error) {
	query := fmt.Sprintf(`
		SELECT content_type, content_source, content_id, title, aka, keywords, plot, genre,
			directors, actors, release_year, poster_path, updated_at, status, error
		FROM %s WHERE content_type = $1 AND content_source = $2 AND content_id = $3`, s.table())

	var r Row
	err := s.pool.QueryRow(ctx, query, contentType, contentSource, contentID).Scan(
		&r.ContentType, &r.ContentSource, &r.ContentID, &r.Title, &r.AKA, &r.Keywords,
		&r.Plot, &r.Genre, &r.Directors, &r.Actors, &r.ReleaseYear, &r.PosterPath,
		&r.UpdatedAt, &r.Status, &r.Error)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Row{}, false, nil
		}
		return Row{}, false, herrors.New("enrichment.Lookup", herrors.KindDBUnavailable, err)
	}
	return r, true, nil
}

func (s *PostgresStore) SearchTitles(ctx context.Context, query string, timeout time.Duration, limit int) ([]Row, error) {
	qCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sqlQuery := fmt.Sprintf(`
		SELECT content_type, content_source, content_id, title, aka, keywords, plot, genre,
			directors, actors, release_year, poster_path, updated_at, status, error
		FROM %s
		WHERE title ILIKE $1 OR aka::text ILIKE $1 OR keywords::text ILIKE $1
		LIMIT $2`, s.table())

	rows, err := s.pool.Query(qCtx, sqlQuery, "%"+query+"%", limit)
	if err != nil {
		// §4.8 step 1: timeout or error silently skips expansion.
		return nil, nil
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(
			&r.ContentType, &r.ContentSource, &r.ContentID, &r.Title, &r.AKA, &r.Keywords,
			&r.Plot, &r.Genre, &r.Directors, &r.Actors, &r.ReleaseYear, &r.PosterPath,
			&r.UpdatedAt, &r.Status, &r.Error,
		); err != nil {
			return nil, nil
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, nil
	}
	return out, nil
}

func (s *PostgresStore) Close() {}

var _ Store = (*PostgresStore)(nil)
