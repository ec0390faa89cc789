package snapshot

import (
	"context"
	"fmt"

	"wardtrace/internal/blob"
	"wardtrace/internal/infra/persistence/memory"
	"wardtrace/internal/infra/persistence/postgres"
	"wardtrace/internal/infra/persistence/sqlite"
)

// Snapshot driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBlob     = "blob"
	DriverMemory   = "memory"
)

// Config selects the snapshot backend.
type Config struct {
	Driver      string `yaml:"driver"` // sqlite|postgres|blob|memory, default sqlite
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	Retain      int    `yaml:"retain"`
}

// KnownDriver reports whether name is a supported driver ("" means default).
func KnownDriver(name string) bool {
	switch name {
	case "", DriverSQLite, DriverPostgres, DriverBlob, DriverMemory:
		return true
	}
	return false
}

// Open builds a Store for cfg. The blob driver writes through blobs, which
// must be non-nil for that driver.
func Open(ctx context.Context, cfg Config, blobs blob.Store, opts ...Option) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	opts = append([]Option{WithRetention(cfg.Retain)}, opts...)
	var backend Backend
	switch driver {
	case DriverSQLite:
		db, err := sqlite.NewStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		backend = db
	case DriverPostgres:
		db, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		backend = db
	case DriverBlob:
		if blobs == nil {
			return nil, fmt.Errorf("blob snapshot driver requires a blob store")
		}
		backend = NewBlobBackend(blobs)
	case DriverMemory:
		backend = memory.NewStore()
	default:
		return nil, fmt.Errorf("unknown snapshot driver %q", driver)
	}
	return New(backend, driver, opts...), nil
}
