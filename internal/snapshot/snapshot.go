// Package snapshot persists detection results so the latest run survives a
// restart. Each Save writes a new snapshot; Load returns the newest one.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"wardtrace/internal/blob"
	"wardtrace/internal/infra/persistence"
	"wardtrace/pkg/domain"
)

// ErrNotFound is returned by Get for an unknown snapshot id.
var ErrNotFound = errors.New("snapshot not found")

// Handle identifies a stored snapshot.
type Handle struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Driver    string    `json:"driver"`
	Size      int       `json:"size_bytes"`
	// URL is a time-limited download link, set when the backend can sign one.
	URL string `json:"url,omitempty"`
}

// Entry is a snapshot with its decoded result.
type Entry struct {
	Handle Handle
	Result domain.Result
}

// Backend is the row store under a Store. The sqlite, postgres and memory
// persistence drivers satisfy it, as does the blob adapter in this package.
type Backend interface {
	Insert(ctx context.Context, rec persistence.Record) error
	Get(ctx context.Context, id string) (persistence.Record, error)
	List(ctx context.Context) ([]persistence.Meta, error)
	Delete(ctx context.Context, id string) (bool, error)
	Close() error
}

// Linker is implemented by backends that can hand out download links for
// stored snapshots.
type Linker interface {
	URL(ctx context.Context, meta persistence.Meta) (string, error)
}

// Option configures a Store.
type Option func(*Store)

// WithRetention keeps at most n snapshots; n <= 0 keeps everything.
func WithRetention(n int) Option {
	return func(s *Store) { s.retain = n }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides snapshot id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// Store saves and loads results over a Backend.
type Store struct {
	backend Backend
	driver  string
	retain  int
	now     func() time.Time
	newID   func() string
}

// New wraps backend. driver names the backend in handles.
func New(backend Backend, driver string, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		driver:  driver,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Driver names the configured backend.
func (s *Store) Driver() string { return s.driver }

// Save writes result as a new snapshot and applies retention.
func (s *Store) Save(ctx context.Context, result domain.Result) (Handle, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return Handle{}, fmt.Errorf("encode snapshot: %w", err)
	}
	rec := persistence.Record{ID: s.newID(), CreatedAt: s.now(), Payload: payload}
	if err := s.backend.Insert(ctx, rec); err != nil {
		return Handle{}, fmt.Errorf("save snapshot: %w", err)
	}
	if err := s.prune(ctx); err != nil {
		return Handle{}, err
	}
	return Handle{ID: rec.ID, CreatedAt: rec.CreatedAt, Driver: s.driver, Size: len(payload)}, nil
}

// Load returns the newest result. A store with no snapshots yields
// (Result{}, false, nil).
func (s *Store) Load(ctx context.Context) (domain.Result, bool, error) {
	entry, ok, err := s.Latest(ctx)
	if err != nil || !ok {
		return domain.Result{}, false, err
	}
	return entry.Result, true, nil
}

// Latest returns the newest snapshot with its handle.
func (s *Store) Latest(ctx context.Context) (Entry, bool, error) {
	metas, err := s.backend.List(ctx)
	if err != nil {
		return Entry{}, false, fmt.Errorf("list snapshots: %w", err)
	}
	if len(metas) == 0 {
		return Entry{}, false, nil
	}
	entry, err := s.Get(ctx, metas[len(metas)-1].ID)
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

// Get loads a specific snapshot.
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	rec, err := s.backend.Get(ctx, id)
	if errors.Is(err, persistence.ErrNotFound) {
		return Entry{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("load snapshot %s: %w", id, err)
	}
	var result domain.Result
	if err := json.Unmarshal(rec.Payload, &result); err != nil {
		return Entry{}, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	if result.Clusters == nil {
		result.Clusters = domain.ClusterCollection{}
	}
	return Entry{
		Handle: Handle{ID: rec.ID, CreatedAt: rec.CreatedAt, Driver: s.driver, Size: len(rec.Payload)},
		Result: result,
	}, nil
}

// History lists snapshot handles newest first.
func (s *Store) History(ctx context.Context) ([]Handle, error) {
	metas, err := s.backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	out := make([]Handle, 0, len(metas))
	for i := len(metas) - 1; i >= 0; i-- {
		m := metas[i]
		link, err := s.link(ctx, m)
		if err != nil {
			return nil, err
		}
		out = append(out, Handle{ID: m.ID, CreatedAt: m.CreatedAt, Driver: s.driver, Size: m.Size, URL: link})
	}
	return out, nil
}

// link returns the backend's download link for m, or "" when the backend
// cannot sign links.
func (s *Store) link(ctx context.Context, m persistence.Meta) (string, error) {
	linker, ok := s.backend.(Linker)
	if !ok {
		return "", nil
	}
	link, err := linker.URL(ctx, m)
	if errors.Is(err, blob.ErrUnsupported) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("link snapshot %s: %w", m.ID, err)
	}
	return link, nil
}

// Close releases the backend.
func (s *Store) Close() error { return s.backend.Close() }

func (s *Store) prune(ctx context.Context) error {
	if s.retain <= 0 {
		return nil
	}
	metas, err := s.backend.List(ctx)
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}
	for i := 0; i < len(metas)-s.retain; i++ {
		if _, err := s.backend.Delete(ctx, metas[i].ID); err != nil {
			return fmt.Errorf("prune snapshot %s: %w", metas[i].ID, err)
		}
	}
	return nil
}
