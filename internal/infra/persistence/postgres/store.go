// Package postgres stores snapshot records in Postgres through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"wardtrace/internal/infra/persistence"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/wardtrace?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists snapshot records to the `snapshots` table.
type Store struct {
	db *sql.DB
}

// NewStore opens a Postgres-backed store using dsn (falls back to defaultDSN)
// and ensures the snapshots table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	ddl := `CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL,
		payload JSONB NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure snapshots table: %w", err)
	}
	return &Store{db: db}, nil
}

// Insert writes rec inside a transaction, replacing a row with the same id.
func (s *Store) Insert(ctx context.Context, rec persistence.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots(id,created_at,payload) VALUES($1,$2,$3) ON CONFLICT(id) DO UPDATE SET created_at=EXCLUDED.created_at, payload=EXCLUDED.payload`,
		rec.ID, rec.CreatedAt.UTC(), rec.Payload); err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", rec.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Get loads one record.
func (s *Store) Get(ctx context.Context, id string) (persistence.Record, error) {
	recs, err := s.query(ctx, `SELECT id, created_at, payload FROM snapshots WHERE id = $1`, id)
	if err != nil {
		return persistence.Record{}, err
	}
	for _, rec := range recs {
		if rec.ID == id {
			return rec, nil
		}
	}
	return persistence.Record{}, persistence.ErrNotFound
}

// List returns record metadata oldest first.
func (s *Store) List(ctx context.Context) ([]persistence.Meta, error) {
	recs, err := s.query(ctx, `SELECT id, created_at, payload FROM snapshots ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	out := make([]persistence.Meta, 0, len(recs))
	for _, rec := range recs {
		out = append(out, persistence.Meta{ID: rec.ID, CreatedAt: rec.CreatedAt, Size: len(rec.Payload)})
	}
	sort.SliceStable(out, func(i, j int) bool { return persistence.Less(out[i], out[j]) })
	return out, nil
}

// Delete removes id and reports whether it existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = $1`, id)
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

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) query(ctx context.Context, q string, args ...any) ([]persistence.Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []persistence.Record
	for rows.Next() {
		var (
			rec     persistence.Record
			created time.Time
		)
		if err := rows.Scan(&rec.ID, &created, &rec.Payload); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		rec.CreatedAt = created.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
