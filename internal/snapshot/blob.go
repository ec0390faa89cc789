package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"wardtrace/internal/blob"
	"wardtrace/internal/infra/persistence"
)

const (
	resultsPrefix = "results/"
	keyTimeLayout = "20060102T150405.000000000Z"
)

// BlobBackend stores each snapshot as results/<timestamp>-<id>.json. The
// fixed-width UTC timestamp makes key order creation order, so the newest
// snapshot is the last key.
type BlobBackend struct {
	store blob.Store
}

// NewBlobBackend wraps a blob store.
func NewBlobBackend(store blob.Store) *BlobBackend {
	return &BlobBackend{store: store}
}

func blobKey(rec persistence.Record) string {
	return resultsPrefix + rec.CreatedAt.UTC().Format(keyTimeLayout) + "-" + rec.ID + ".json"
}

func parseBlobKey(key string) (persistence.Meta, bool) {
	name := strings.TrimSuffix(strings.TrimPrefix(key, resultsPrefix), ".json")
	if len(name) <= len(keyTimeLayout)+1 || name[len(keyTimeLayout)] != '-' {
		return persistence.Meta{}, false
	}
	ts, err := time.Parse(keyTimeLayout, name[:len(keyTimeLayout)])
	if err != nil {
		return persistence.Meta{}, false
	}
	return persistence.Meta{ID: name[len(keyTimeLayout)+1:], CreatedAt: ts}, true
}

// Insert writes a new snapshot object.
func (b *BlobBackend) Insert(ctx context.Context, rec persistence.Record) error {
	_, err := b.store.Put(ctx, blobKey(rec), bytes.NewReader(rec.Payload), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"snapshot-id": rec.ID},
	})
	return err
}

// Get reads the snapshot with id.
func (b *BlobBackend) Get(ctx context.Context, id string) (persistence.Record, error) {
	key, meta, err := b.find(ctx, id)
	if err != nil {
		return persistence.Record{}, err
	}
	_, rc, err := b.store.Get(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return persistence.Record{}, persistence.ErrNotFound
	}
	if err != nil {
		return persistence.Record{}, err
	}
	defer func() { _ = rc.Close() }()
	payload, err := io.ReadAll(rc)
	if err != nil {
		return persistence.Record{}, fmt.Errorf("read %s: %w", key, err)
	}
	return persistence.Record{ID: meta.ID, CreatedAt: meta.CreatedAt, Payload: payload}, nil
}

// List returns snapshots in key order. Objects under results/ that do not
// follow the key scheme are ignored.
func (b *BlobBackend) List(ctx context.Context) ([]persistence.Meta, error) {
	infos, err := b.store.List(ctx, resultsPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]persistence.Meta, 0, len(infos))
	for _, info := range infos {
		meta, ok := parseBlobKey(info.Key)
		if !ok {
			continue
		}
		meta.Size = int(info.Size)
		out = append(out, meta)
	}
	return out, nil
}

// Delete removes the snapshot with id.
func (b *BlobBackend) Delete(ctx context.Context, id string) (bool, error) {
	key, _, err := b.find(ctx, id)
	if errors.Is(err, persistence.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return b.store.Delete(ctx, key)
}

// URL implements Linker with a presigned GET link to the snapshot object.
// The key is rebuilt from meta, so no listing is needed.
func (b *BlobBackend) URL(ctx context.Context, meta persistence.Meta) (string, error) {
	key := blobKey(persistence.Record{ID: meta.ID, CreatedAt: meta.CreatedAt})
	return b.store.PresignURL(ctx, key, blob.SignedURLOptions{Method: "GET"})
}

// Close is a no-op; the blob store is owned by the caller.
func (b *BlobBackend) Close() error { return nil }

func (b *BlobBackend) find(ctx context.Context, id string) (string, persistence.Meta, error) {
	infos, err := b.store.List(ctx, resultsPrefix)
	if err != nil {
		return "", persistence.Meta{}, err
	}
	for _, info := range infos {
		if meta, ok := parseBlobKey(info.Key); ok && meta.ID == id {
			return info.Key, meta, nil
		}
	}
	return "", persistence.Meta{}, persistence.ErrNotFound
}
