// Package postgres provides the Postgres-backed local mirror.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oeistools/oeissync/internal/oeis"
)

// StoreConfig controls the Postgres connection pool.
type StoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store implements the local mirror on Postgres. Record and attachment
// writes for one id share a transaction, and the checkpoint monotonicity
// guard lives in the UPDATE predicate so it holds across processes.
type Store struct {
	pool dbPool
}

// NewStore connects a pool and returns a Store.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a Store from an existing pool (primarily for
// testing).
func NewStoreWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema applies the mirror schema idempotently.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// UpsertRecord writes the record row and, when att is non-nil, replaces the
// attachment row in the same transaction. first_fetched survives updates.
func (s *Store) UpsertRecord(ctx context.Context, rec oeis.SequenceRecord, att *oeis.Attachment) error {
	if att != nil {
		if err := att.Validate(); err != nil {
			return err
		}
		if att.ID != rec.ID {
			return fmt.Errorf("attachment id %s does not match record %s", att.ID, rec.ID)
		}
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
INSERT INTO records (id, name, keywords, revision, doc, first_fetched, last_fetched)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	keywords = EXCLUDED.keywords,
	revision = EXCLUDED.revision,
	doc = EXCLUDED.doc,
	last_fetched = EXCLUDED.last_fetched`,
		int64(rec.ID), rec.Name, rec.Keywords, rec.Revision, doc, rec.FirstFetched, rec.LastFetched)
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", rec.ID, err)
	}

	if att != nil {
		rows, err := json.Marshal(att.Rows)
		if err != nil {
			return fmt.Errorf("marshal attachment %s: %w", att.ID, err)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO attachments (id, lo, hi, rows)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
	lo = EXCLUDED.lo,
	hi = EXCLUDED.hi,
	rows = EXCLUDED.rows`,
			int64(att.ID), att.Lo, att.Hi, rows)
		if err != nil {
			return fmt.Errorf("upsert attachment %s: %w", att.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert %s: %w", rec.ID, err)
	}
	return nil
}

// GetRevision returns the stored revision marker for id.
func (s *Store) GetRevision(ctx context.Context, id oeis.RecordID) (string, bool, error) {
	var revision string
	err := s.pool.QueryRow(ctx,
		`SELECT revision FROM records WHERE id = $1`, int64(id)).Scan(&revision)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get revision %s: %w", id, err)
	}
	return revision, true, nil
}

// GetRecord returns the stored record for id. The doc column is
// authoritative for structured fields; revision and fetch times come from
// their own columns since updates touch those without rewriting the doc's
// first_fetched.
func (s *Store) GetRecord(ctx context.Context, id oeis.RecordID) (oeis.SequenceRecord, bool, error) {
	var (
		doc          []byte
		revision     string
		firstFetched time.Time
		lastFetched  time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT doc, revision, first_fetched, last_fetched FROM records WHERE id = $1`,
		int64(id)).Scan(&doc, &revision, &firstFetched, &lastFetched)
	if errors.Is(err, pgx.ErrNoRows) {
		return oeis.SequenceRecord{}, false, nil
	}
	if err != nil {
		return oeis.SequenceRecord{}, false, fmt.Errorf("get record %s: %w", id, err)
	}
	var rec oeis.SequenceRecord
	if err := json.Unmarshal(doc, &rec); err != nil {
		return oeis.SequenceRecord{}, false, fmt.Errorf("decode record %s: %w", id, err)
	}
	rec.Revision = revision
	rec.FirstFetched = firstFetched
	rec.LastFetched = lastFetched
	return rec, true, nil
}

// GetAttachment returns the stored attachment for id.
func (s *Store) GetAttachment(ctx context.Context, id oeis.RecordID) (oeis.Attachment, bool, error) {
	var (
		lo, hi int64
		rows   []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT lo, hi, rows FROM attachments WHERE id = $1`, int64(id)).Scan(&lo, &hi, &rows)
	if errors.Is(err, pgx.ErrNoRows) {
		return oeis.Attachment{}, false, nil
	}
	if err != nil {
		return oeis.Attachment{}, false, fmt.Errorf("get attachment %s: %w", id, err)
	}
	att := oeis.Attachment{ID: id, Lo: lo, Hi: hi}
	if err := json.Unmarshal(rows, &att.Rows); err != nil {
		return oeis.Attachment{}, false, fmt.Errorf("decode attachment %s: %w", id, err)
	}
	return att, true, nil
}

// BeginPass persists a fresh pass state.
func (s *Store) BeginPass(ctx context.Context, state oeis.CrawlState) error {
	var cutoff *time.Time
	if !state.StaleCutoff.IsZero() {
		cutoff = &state.StaleCutoff
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO crawl_state (pass_id, range_start, range_end, last_completed, pass_start, status, stale_cutoff)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		state.PassID, int64(state.RangeStart), int64(state.RangeEnd),
		int64(state.LastCompleted), state.PassStart, string(state.Status), cutoff)
	if err != nil {
		return fmt.Errorf("begin pass %s: %w", state.PassID, err)
	}
	return nil
}

// LoadOpenPass returns the most recent resumable pass.
func (s *Store) LoadOpenPass(ctx context.Context) (oeis.CrawlState, bool, error) {
	var (
		state  oeis.CrawlState
		status string
		cutoff *time.Time
	)
	err := s.pool.QueryRow(ctx, `
SELECT pass_id, range_start, range_end, last_completed, pass_start, status, stale_cutoff
FROM crawl_state
WHERE status IN ('running', 'interrupted')
ORDER BY pass_start DESC
LIMIT 1`).Scan(&state.PassID, &state.RangeStart, &state.RangeEnd,
		&state.LastCompleted, &state.PassStart, &status, &cutoff)
	if errors.Is(err, pgx.ErrNoRows) {
		return oeis.CrawlState{}, false, nil
	}
	if err != nil {
		return oeis.CrawlState{}, false, fmt.Errorf("load open pass: %w", err)
	}
	state.Status = oeis.PassStatus(status)
	if cutoff != nil {
		state.StaleCutoff = *cutoff
	}
	return state, true, nil
}

// AdvanceCheckpoint moves last_completed to id. The predicate enforces
// strict growth, so a lost race or replayed commit surfaces as
// ErrCheckpointRegression instead of silently rewinding progress.
func (s *Store) AdvanceCheckpoint(ctx context.Context, passID uuid.UUID, id oeis.RecordID) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE crawl_state SET last_completed = $2
WHERE pass_id = $1 AND last_completed < $2`,
		passID, int64(id))
	if err != nil {
		return fmt.Errorf("advance checkpoint %s to %s: %w", passID, id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM crawl_state WHERE pass_id = $1)`, passID).Scan(&exists); err != nil {
			return fmt.Errorf("advance checkpoint %s: %w", passID, err)
		}
		if !exists {
			return fmt.Errorf("advance checkpoint %s: %w", passID, oeis.ErrPassNotFound)
		}
		return fmt.Errorf("advance checkpoint %s to %s: %w", passID, id, oeis.ErrCheckpointRegression)
	}
	return nil
}

// CompletePass records the terminal status of a pass.
func (s *Store) CompletePass(ctx context.Context, passID uuid.UUID, status oeis.PassStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crawl_state SET status = $2 WHERE pass_id = $1`, passID, string(status))
	if err != nil {
		return fmt.Errorf("complete pass %s: %w", passID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete pass %s: %w", passID, oeis.ErrPassNotFound)
	}
	return nil
}

// MarkFailed records or refreshes the failure row for id.
func (s *Store) MarkFailed(ctx context.Context, id oeis.RecordID, attempts int, cause string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO failures (id, attempts, last_error, failed_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (id) DO UPDATE SET
	attempts = EXCLUDED.attempts,
	last_error = EXCLUDED.last_error,
	failed_at = EXCLUDED.failed_at`,
		int64(id), attempts, cause)
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", id, err)
	}
	return nil
}

// ClearFailure removes the failure row for id, if any.
func (s *Store) ClearFailure(ctx context.Context, id oeis.RecordID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM failures WHERE id = $1`, int64(id)); err != nil {
		return fmt.Errorf("clear failure %s: %w", id, err)
	}
	return nil
}

// ListFailures returns all failure rows in id order.
func (s *Store) ListFailures(ctx context.Context) ([]oeis.Failure, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, attempts, last_error, failed_at FROM failures ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	defer rows.Close()

	var out []oeis.Failure
	for rows.Next() {
		var f oeis.Failure
		if err := rows.Scan(&f.ID, &f.Attempts, &f.LastError, &f.FailedAt); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	return out, nil
}

// ListStaleRecords returns ids last fetched before cutoff, ascending.
func (s *Store) ListStaleRecords(ctx context.Context, cutoff time.Time, limit int) ([]oeis.RecordID, error) {
	query := `SELECT id FROM records WHERE last_fetched < $1 ORDER BY id`
	args := []any{cutoff}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stale records: %w", err)
	}
	defer rows.Close()

	var out []oeis.RecordID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale id: %w", err)
		}
		out = append(out, oeis.RecordID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stale records: %w", err)
	}
	return out, nil
}

// IterateRecords streams all records in id order, joining attachments so the
// export path makes a single round trip per batch of rows.
func (s *Store) IterateRecords(ctx context.Context, fn func(oeis.SequenceRecord, *oeis.Attachment) error) error {
	rows, err := s.pool.Query(ctx, `
SELECT r.id, r.doc, r.revision, r.first_fetched, r.last_fetched, a.lo, a.hi, a.rows
FROM records r
LEFT JOIN attachments a ON a.id = r.id
ORDER BY r.id`)
	if err != nil {
		return fmt.Errorf("iterate records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id           int64
			doc          []byte
			revision     string
			firstFetched time.Time
			lastFetched  time.Time
			lo, hi       *int64
			attRows      []byte
		)
		if err := rows.Scan(&id, &doc, &revision, &firstFetched, &lastFetched, &lo, &hi, &attRows); err != nil {
			return fmt.Errorf("scan record: %w", err)
		}
		var rec oeis.SequenceRecord
		if err := json.Unmarshal(doc, &rec); err != nil {
			return fmt.Errorf("decode record A%06d: %w", id, err)
		}
		rec.Revision = revision
		rec.FirstFetched = firstFetched
		rec.LastFetched = lastFetched

		var att *oeis.Attachment
		if lo != nil && hi != nil && attRows != nil {
			att = &oeis.Attachment{ID: oeis.RecordID(id), Lo: *lo, Hi: *hi}
			if err := json.Unmarshal(attRows, &att.Rows); err != nil {
				return fmt.Errorf("decode attachment A%06d: %w", id, err)
			}
		}
		if err := fn(rec, att); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate records: %w", err)
	}
	return nil
}
