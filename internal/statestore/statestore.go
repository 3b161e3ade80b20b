// Package statestore implements the per-source sync_state table (§3, §4.4):
// the sole persistent record of which rows have been embedded, which vector
// id they landed on, and which failed.
package statestore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hermesindex/hermesindex/internal/herrors"
)

// Entry is a SyncEntry (§3): the state store's view of one row.
type Entry struct {
	Source           string
	PgID             string
	TextHash         string
	EmbeddingVersion string
	VectorID         uint64
	HasVectorID      bool
	NSFWScore        *float32
	UpdatedAt        time.Time
	LastError        *string
}

// UpToDate reports whether entry matches the given hash and embedding
// version, per the §3 "up to date" invariant.
func (e Entry) UpToDate(hash, version string) bool {
	return e.TextHash == hash && e.EmbeddingVersion == version
}

// Store is the state-store capability set (§4.4). All writes upsert on the
// composite key (source, pg_id); updated_at is set server-side.
type Store interface {
	// GetMany returns the existing entries for the given ids, keyed by pg_id.
	// Ids absent from the table are simply absent from the result.
	GetMany(ctx context.Context, source string, ids []string) (map[string]Entry, error)

	// UpsertMany writes entries transactionally, one transaction per batch.
	UpsertMany(ctx context.Context, entries []Entry) error

	// MarkError records a per-row failure without touching hash/vector_id, so
	// the row is retried on the next cycle if its hash still differs (§4.6
	// step 7, §7 ROW_FAILED).
	MarkError(ctx context.Context, source, pgID string, cause error) error

	// MaxUpdatedAt returns the current watermark for source (§4.6 step 1). It
	// returns the zero time if the source has no committed rows yet.
	MaxUpdatedAt(ctx context.Context, source string) (time.Time, error)

	// MissingSince returns up to limit pg_ids of source whose last_error is
	// non-null and whose updated_at is after since. Ids that have no
	// sync_state row are not returned. GET /status counts its result as the
	// source's errors.
	MissingSince(ctx context.Context, source string, since time.Time, limit int) ([]string, error)

	Close()
}

// PostgresStore is the pgx-backed implementation. Schema is the bitmagnet
// schema the sync_state table lives under (config's bitmagnet.schema).
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// New wraps an existing pool. The caller owns the pool's lifecycle unless
// Close is called, which also closes the pool.
func New(pool *pgxpool.Pool, schema string) *PostgresStore {
	if schema == "" {
		schema = "hermes"
	}
	return &PostgresStore{pool: pool, schema: schema}
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "sync_state"}.Sanitize()
}

func (s *PostgresStore) GetMany(ctx context.Context, source string, ids []string) (map[string]Entry, error) {
	if len(ids) == 0 {
		return map[string]Entry{}, nil
	}
	query := fmt.Sprintf(`
		SELECT pg_id, text_hash, embedding_version, vector_id, nsfw_score, updated_at, last_error
		FROM %s WHERE source = $1 AND pg_id = ANY($2)`, s.table())

	rows, err := s.pool.Query(ctx, query, source, ids)
	if err != nil {
		return nil, herrors.New("statestore.GetMany", herrors.KindDBUnavailable, err)
	}
	defer rows.Close()

	out := make(map[string]Entry, len(ids))
	for rows.Next() {
		var e Entry
		var vectorID *int64
		e.Source = source
		if err := rows.Scan(&e.PgID, &e.TextHash, &e.EmbeddingVersion, &vectorID, &e.NSFWScore, &e.UpdatedAt, &e.LastError); err != nil {
			return nil, herrors.New("statestore.GetMany", herrors.KindDBUnavailable, err)
		}
		if vectorID != nil {
			e.VectorID = uint64(*vectorID)
			e.HasVectorID = true
		}
		out[e.PgID] = e
	}
	if err := rows.Err(); err != nil {
		return nil, herrors.New("statestore.GetMany", herrors.KindDBUnavailable, err)
	}
	return out, nil
}

func (s *PostgresStore) UpsertMany(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return herrors.New("statestore.UpsertMany", herrors.KindDBUnavailable, err)
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(`
		INSERT INTO %s (source, pg_id, text_hash, embedding_version, vector_id, nsfw_score, updated_at, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, now(), NULL)
		ON CONFLICT (source, pg_id) DO UPDATE SET
			text_hash = EXCLUDED.text_hash,
			embedding_version = EXCLUDED.embedding_version,
			vector_id = EXCLUDED.vector_id,
			nsfw_score = EXCLUDED.nsfw_score,
			updated_at = now(),
			last_error = NULL`, s.table())

	for _, e := range entries {
		var vectorID *int64
		if e.HasVectorID {
			v := int64(e.VectorID)
			vectorID = &v
		}
		if _, err := tx.Exec(ctx, query, e.Source, e.PgID, e.TextHash, e.EmbeddingVersion, vectorID, e.NSFWScore); err != nil {
			return herrors.New("statestore.UpsertMany", herrors.KindDBUnavailable, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return herrors.New("statestore.UpsertMany", herrors.KindDBUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) MarkError(ctx context.Context, source, pgID string, cause error) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (source, pg_id, text_hash, embedding_version, vector_id, updated_at, last_error)
		VALUES ($1, $2, '', '', NULL, now(), $3)
		ON CONFLICT (source, pg_id) DO UPDATE SET
			last_error = EXCLUDED.last_error,
			updated_at = now()`, s.table())

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if _, err := s.pool.Exec(ctx, query, source, pgID, msg); err != nil {
		return herrors.New("statestore.MarkError", herrors.KindDBUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) MaxUpdatedAt(ctx context.Context, source string) (time.Time, error) {
	query := fmt.Sprintf(`SELECT max(updated_at) FROM %s WHERE source = $1`, s.table())
	var max *time.Time
	if err := s.pool.QueryRow(ctx, query, source).Scan(&max); err != nil {
		return time.Time{}, herrors.New("statestore.MaxUpdatedAt", herrors.KindDBUnavailable, err)
	}
	if max == nil {
		return time.Time{}, nil
	}
	return *max, nil
}

func (s *PostgresStore) MissingSince(ctx context.Context, source string, since time.Time, limit int) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT pg_id FROM %s
		WHERE source = $1 AND (last_error IS NOT NULL) AND updated_at > $2
		ORDER BY updated_at ASC, pg_id ASC
		LIMIT $3`, s.table())

	rows, err := s.pool.Query(ctx, query, source, since, limit)
	if err != nil {
		return nil, herrors.New("statestore.MissingSince", herrors.KindDBUnavailable, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, herrors.New("statestore.MissingSince", herrors.KindDBUnavailable, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

var _ Store = (*PostgresStore)(nil)
