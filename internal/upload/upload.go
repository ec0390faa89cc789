// Package upload stores the uploaded transfer and microbiology tables at
// fixed blob keys and resolves where a detection run reads its input from.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"wardtrace/internal/blob"
)

// Fixed blob keys; a new upload replaces the previous pair.
const (
	TransfersKey    = "uploads/transfers.csv"
	MicrobiologyKey = "uploads/microbiology.csv"
)

// Source says how Locations are resolved.
type Source string

const (
	// SourceUpload reads blob keys from the upload store.
	SourceUpload Source = "upload"
	// SourceSamples reads local sample files.
	SourceSamples Source = "samples"
)

// ErrNoUpload is returned when no tables have been uploaded yet.
var ErrNoUpload = errors.New("no uploaded tables")

// Locations points at one pair of input tables.
type Locations struct {
	Source       Source `json:"source"`
	Transfers    string `json:"transfers"`
	Microbiology string `json:"microbiology"`
}

// SampleConfig names the pre-provisioned sample files.
type SampleConfig struct {
	Transfers    string `yaml:"transfers"`
	Microbiology string `yaml:"microbiology"`
}

// Samples resolves the sample files, failing if either is missing.
func Samples(cfg SampleConfig) (Locations, error) {
	if cfg.Transfers == "" || cfg.Microbiology == "" {
		return Locations{}, fmt.Errorf("sample files not configured")
	}
	for _, path := range []string{cfg.Transfers, cfg.Microbiology} {
		if _, err := os.Stat(path); err != nil {
			return Locations{}, fmt.Errorf("sample file: %w", err)
		}
	}
	return Locations{Source: SourceSamples, Transfers: cfg.Transfers, Microbiology: cfg.Microbiology}, nil
}

// Store writes uploads through a blob store.
type Store struct {
	blobs   blob.Store
	samples SampleConfig
}

// NewStore returns an upload store over blobs.
func NewStore(blobs blob.Store, samples SampleConfig) *Store {
	return &Store{blobs: blobs, samples: samples}
}

// Samples resolves the configured sample files.
func (s *Store) Samples() (Locations, error) { return Samples(s.samples) }

// Save stores both tables, replacing any earlier upload.
func (s *Store) Save(ctx context.Context, transfers, microbiology io.Reader) (Locations, error) {
	if err := s.replace(ctx, TransfersKey, transfers); err != nil {
		return Locations{}, err
	}
	if err := s.replace(ctx, MicrobiologyKey, microbiology); err != nil {
		return Locations{}, err
	}
	return Locations{Source: SourceUpload, Transfers: TransfersKey, Microbiology: MicrobiologyKey}, nil
}

func (s *Store) replace(ctx context.Context, key string, r io.Reader) error {
	if r == nil {
		return fmt.Errorf("store %s: missing file", key)
	}
	if _, err := s.blobs.Delete(ctx, key); err != nil {
		return fmt.Errorf("replace %s: %w", key, err)
	}
	if _, err := s.blobs.Put(ctx, key, r, blob.PutOptions{ContentType: "text/csv"}); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// Current returns the locations of the stored upload, or ErrNoUpload.
func (s *Store) Current(ctx context.Context) (Locations, error) {
	for _, key := range []string{TransfersKey, MicrobiologyKey} {
		if _, err := s.blobs.Head(ctx, key); err != nil {
			if errors.Is(err, blob.ErrNotFound) {
				return Locations{}, ErrNoUpload
			}
			return Locations{}, err
		}
	}
	return Locations{Source: SourceUpload, Transfers: TransfersKey, Microbiology: MicrobiologyKey}, nil
}

// Open reads one stored upload by blob key.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	_, rc, err := s.blobs.Get(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", key, ErrNoUpload)
	}
	if err != nil {
		return nil, err
	}
	return rc, nil
}

// OpenTables opens both tables named by loc. The caller closes both readers.
func (s *Store) OpenTables(ctx context.Context, loc Locations) (transfers, microbiology io.ReadCloser, err error) {
	open := func(name string) (io.ReadCloser, error) {
		switch loc.Source {
		case SourceUpload, "":
			return s.Open(ctx, name)
		case SourceSamples:
			return os.Open(name)
		default:
			return nil, fmt.Errorf("unknown source %q", loc.Source)
		}
	}
	if transfers, err = open(loc.Transfers); err != nil {
		return nil, nil, err
	}
	if microbiology, err = open(loc.Microbiology); err != nil {
		_ = transfers.Close()
		return nil, nil, err
	}
	return transfers, microbiology, nil
}
