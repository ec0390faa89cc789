package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"wardtrace/internal/infra/persistence"
	"wardtrace/internal/infra/persistence/postgres/testutil"
)

func openStub(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	store, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, conn
}

func TestNewStoreEnsuresTable(t *testing.T) {
	_, conn := openStub(t)
	if len(conn.Execs) == 0 || !strings.Contains(conn.Execs[0], "CREATE TABLE IF NOT EXISTS snapshots") {
		t.Fatalf("expected snapshots DDL, got %v", conn.Execs)
	}
}

func TestInsertGetListDelete(t *testing.T) {
	store, _ := openStub(t)
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := store.Insert(ctx, persistence.Record{ID: "late", CreatedAt: t0.Add(time.Minute), Payload: []byte(`{"n":2}`)}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Insert(ctx, persistence.Record{ID: "early", CreatedAt: t0, Payload: []byte(`{"n":1}`)}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// upsert replaces rather than duplicating
	if err := store.Insert(ctx, persistence.Record{ID: "early", CreatedAt: t0, Payload: []byte(`{"n":10}`)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	metas, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(metas) != 2 || metas[0].ID != "early" || metas[1].ID != "late" {
		t.Fatalf("unexpected list %+v", metas)
	}
	rec, err := store.Get(ctx, "early")
	if err != nil || string(rec.Payload) != `{"n":10}` {
		t.Fatalf("get: %+v %v", rec, err)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if existed, err := store.Delete(ctx, "late"); err != nil || !existed {
		t.Fatalf("delete: %v %v", existed, err)
	}
	if existed, err := store.Delete(ctx, "late"); err != nil || existed {
		t.Fatalf("second delete: %v %v", existed, err)
	}
}

func TestNewStoreClosesHandleOnSetupFailure(t *testing.T) {
	for name, fail := range map[string]func(*testutil.StubConn){
		"ping": func(c *testutil.StubConn) { c.FailPing = true },
		"ddl":  func(c *testutil.StubConn) { c.FailExec = true },
	} {
		t.Run(name, func(t *testing.T) {
			db, conn := testutil.NewStubDB()
			fail(conn)
			restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
			defer restore()
			if _, err := NewStore(context.Background(), "postgres://x"); err == nil {
				t.Fatalf("expected %s failure", name)
			}
			if err := db.Ping(); err == nil || !strings.Contains(err.Error(), "closed") {
				t.Fatalf("expected handle to be closed, ping returned %v", err)
			}
		})
	}
}

func TestFailures(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore(context.Background(), "postgres://x"); err == nil {
		t.Fatalf("expected ping failure")
	}

	store, conn := openStub(t)
	conn.FailCommit = true
	if err := store.Insert(context.Background(), persistence.Record{ID: "x", CreatedAt: time.Now(), Payload: []byte("{}")}); err == nil {
		t.Fatalf("expected commit failure")
	}
	conn.FailCommit = false
	conn.FailBegin = true
	if err := store.Insert(context.Background(), persistence.Record{ID: "x", CreatedAt: time.Now(), Payload: []byte("{}")}); err == nil {
		t.Fatalf("expected begin failure")
	}
}
