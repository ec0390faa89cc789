package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"wardtrace/internal/infra/persistence"
)

func TestStoreCopiesPayloads(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	payload := []byte(`{"a":1}`)
	if err := s.Insert(ctx, persistence.Record{ID: "x", CreatedAt: time.Now(), Payload: payload}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	payload[0] = 'X'
	rec, err := s.Get(ctx, "x")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(rec.Payload) != `{"a":1}` {
		t.Fatalf("payload aliased caller buffer: %s", rec.Payload)
	}
	rec.Payload[0] = 'Y'
	again, _ := s.Get(ctx, "x")
	if string(again.Payload) != `{"a":1}` {
		t.Fatalf("payload aliased stored buffer: %s", again.Payload)
	}
	if _, err := s.Get(ctx, "y"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
