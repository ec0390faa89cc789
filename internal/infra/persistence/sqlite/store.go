// Package sqlite stores snapshot records in a SQLite table using the pure Go driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"wardtrace/internal/infra/persistence"
)

const defaultPath = "wardtrace.db"

// Store persists snapshot records to a single `snapshots` table.
// created_at is kept as unix nanoseconds so ordering is exact.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the database at path.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// single writer; avoids SQLITE_BUSY between the worker and HTTP readers
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create snapshots table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Insert writes rec, replacing a row with the same id.
func (s *Store) Insert(ctx context.Context, rec persistence.Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots(id,created_at,payload) VALUES(?,?,?) ON CONFLICT(id) DO UPDATE SET created_at=excluded.created_at, payload=excluded.payload`,
		rec.ID, rec.CreatedAt.UnixNano(), rec.Payload)
	if err != nil {
		return fmt.Errorf("insert snapshot %s: %w", rec.ID, err)
	}
	return nil
}

// Get loads one record.
func (s *Store) Get(ctx context.Context, id string) (persistence.Record, error) {
	var (
		rec   persistence.Record
		nanos int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, created_at, payload FROM snapshots WHERE id = ?`, id).
		Scan(&rec.ID, &nanos, &rec.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.Record{}, persistence.ErrNotFound
	}
	if err != nil {
		return persistence.Record{}, fmt.Errorf("select snapshot %s: %w", id, err)
	}
	rec.CreatedAt = time.Unix(0, nanos).UTC()
	return rec, nil
}

// List returns record metadata oldest first.
func (s *Store) List(ctx context.Context) ([]persistence.Meta, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, created_at, length(payload) FROM snapshots ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("select snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []persistence.Meta
	for rows.Next() {
		var (
			m     persistence.Meta
			nanos int64
		)
		if err := rows.Scan(&m.ID, &nanos, &m.Size); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		m.CreatedAt = time.Unix(0, nanos).UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

// Delete removes id and reports whether it existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for tests.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
