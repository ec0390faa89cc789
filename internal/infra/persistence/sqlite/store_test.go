package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"wardtrace/internal/infra/persistence"
)

func TestStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "wardtrace.db")
	store, err := NewStore(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	created := time.Date(2024, 3, 1, 9, 30, 0, 123, time.UTC)
	if err := store.Insert(ctx, persistence.Record{ID: "r1", CreatedAt: created, Payload: []byte(`{"clusters":{}}`)}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })
	rec, err := reopened.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !rec.CreatedAt.Equal(created) || string(rec.Payload) != `{"clusters":{}}` {
		t.Fatalf("unexpected record %+v", rec)
	}
	metas, err := reopened.List(ctx)
	if err != nil || len(metas) != 1 || metas[0].Size != len(rec.Payload) {
		t.Fatalf("list: %+v %v", metas, err)
	}
	if _, err := reopened.Get(ctx, "nope"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	existed, err := reopened.Delete(ctx, "r1")
	if err != nil || !existed {
		t.Fatalf("delete: %v %v", existed, err)
	}
	existed, err = reopened.Delete(ctx, "r1")
	if err != nil || existed {
		t.Fatalf("second delete: %v %v", existed, err)
	}
}

func TestListOrdersByCreatedAtThenID(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx, filepath.Join(t.TempDir(), "w.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, rec := range []persistence.Record{
		{ID: "b", CreatedAt: t0, Payload: []byte("{}")},
		{ID: "c", CreatedAt: t0.Add(-time.Hour), Payload: []byte("{}")},
		{ID: "a", CreatedAt: t0, Payload: []byte("{}")},
	} {
		if err := store.Insert(ctx, rec); err != nil {
			t.Fatalf("insert %s: %v", rec.ID, err)
		}
	}
	metas, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var ids []string
	for _, m := range metas {
		ids = append(ids, m.ID)
	}
	if len(ids) != 3 || ids[0] != "c" || ids[1] != "a" || ids[2] != "b" {
		t.Fatalf("unexpected order %v", ids)
	}
}
