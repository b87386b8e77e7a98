// Package postgres implements the progress repository on Postgres.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docpress/docpress/internal/docpress"
	"github.com/docpress/docpress/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS frontier_entries (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	priority INT NOT NULL DEFAULT 0,
	attempts INT NOT NULL DEFAULT 0,
	block_reason TEXT NOT NULL DEFAULT '',
	added_at TIMESTAMPTZ NOT NULL,
	saved_at TIMESTAMPTZ NOT NULL
);`

type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Store persists frontier snapshots in a single table, replaced
// wholesale on each save so the table always holds exactly the latest
// snapshot.
type Store struct {
	pool pgxPool
}

// New connects a pool from the DSN.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for
// testing).
func NewWithPool(pool pgxPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// EnsureSchema creates the snapshot table if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure frontier schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Save replaces the persisted snapshot inside one transaction.
func (s *Store) Save(ctx context.Context, snap store.Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM frontier_entries`); err != nil {
		return fmt.Errorf("clear previous snapshot: %w", err)
	}

	takenAt := snap.TakenAt
	if takenAt.IsZero() {
		takenAt = time.Now().UTC()
	}
	const insert = `
		INSERT INTO frontier_entries
			(id, url, category, status, priority, attempts, block_reason, added_at, saved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`
	for _, rec := range snap.Entries {
		if _, err := tx.Exec(ctx, insert,
			rec.ID,
			rec.URL,
			rec.Category,
			string(rec.Status),
			rec.Priority,
			rec.Attempts,
			rec.BlockReason,
			rec.AddedAt,
			takenAt,
		); err != nil {
			return fmt.Errorf("insert snapshot entry %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot tx: %w", err)
	}
	return nil
}

// Load reads the latest snapshot or store.ErrNotFound when empty.
func (s *Store) Load(ctx context.Context) (store.Snapshot, error) {
	const query = `
		SELECT id, url, category, status, priority, attempts, block_reason, added_at, saved_at
		FROM frontier_entries
		ORDER BY added_at ASC;`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	defer rows.Close()

	var snap store.Snapshot
	for rows.Next() {
		var rec store.Record
		var status string
		var savedAt time.Time
		if err := rows.Scan(
			&rec.ID,
			&rec.URL,
			&rec.Category,
			&status,
			&rec.Priority,
			&rec.Attempts,
			&rec.BlockReason,
			&rec.AddedAt,
			&savedAt,
		); err != nil {
			return store.Snapshot{}, fmt.Errorf("scan snapshot entry: %w", err)
		}
		rec.Status = docpress.EntryStatus(status)
		if savedAt.After(snap.TakenAt) {
			snap.TakenAt = savedAt
		}
		snap.Entries = append(snap.Entries, rec)
	}
	if err := rows.Err(); err != nil {
		return store.Snapshot{}, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	if len(snap.Entries) == 0 {
		return store.Snapshot{}, store.ErrNotFound
	}
	return snap, nil
}
