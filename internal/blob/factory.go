package blob

import (
	"context"
	"fmt"

	"wardtrace/internal/infra/blob/fs"
	"wardtrace/internal/infra/blob/memory"
	"wardtrace/internal/infra/blob/s3"
)

// S3Config configures the s3 driver.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// Config selects and configures a blob driver.
type Config struct {
	Driver Driver   `yaml:"driver"` // fs|s3|memory, default fs
	FSRoot string   `yaml:"fs_root"`
	S3     S3Config `yaml:"s3"`
}

// Open builds the Store described by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", driver)
	}
}

// NewFilesystem returns a filesystem store rooted at root.
func NewFilesystem(root string) (Store, error) {
	return fs.New(root)
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return memory.New()
}

// NewS3 connects to an S3-compatible bucket using the default credential chain.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return s3.New(ctx, s3.Config{
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		Endpoint:  cfg.Endpoint,
		PathStyle: cfg.PathStyle,
	})
}

// NewS3MockForTests returns an S3 store over a fake in-process transport.
func NewS3MockForTests() Store {
	return s3.NewMockForTests()
}
