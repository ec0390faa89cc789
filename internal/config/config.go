// Package config loads wardtrace settings from an optional YAML file and
// WARDTRACE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"wardtrace/internal/blob"
	"wardtrace/internal/engine"
	"wardtrace/internal/logging"
	"wardtrace/internal/snapshot"
	"wardtrace/internal/upload"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WARDTRACE_"

// KafkaConfig enables run notifications when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// DetectionConfig tunes the detector.
type DetectionConfig struct {
	MaxPresenceRows int `yaml:"max_presence_rows"`
	Parallelism     int `yaml:"parallelism"`
}

// ObservabilityConfig enables the optional observability sinks. TracePath
// receives one JSON line per service operation; Expvar publishes operation
// metrics under /debug/vars; Audit logs every audit entry.
type ObservabilityConfig struct {
	TracePath string `yaml:"trace_path"`
	Expvar    bool   `yaml:"expvar"`
	Audit     bool   `yaml:"audit"`
}

// Config is the full service configuration.
type Config struct {
	Addr      string              `yaml:"addr"`
	Log       logging.Config      `yaml:"log"`
	Blob      blob.Config         `yaml:"blob"`
	Snapshot  snapshot.Config     `yaml:"snapshot"`
	Samples   upload.SampleConfig `yaml:"samples"`
	Kafka     KafkaConfig         `yaml:"kafka"`
	Detection DetectionConfig     `yaml:"detection"`

	Observability ObservabilityConfig `yaml:"observability"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Addr:     ":8080",
		Log:      logging.Config{Level: "info"},
		Blob:     blob.Config{Driver: blob.DriverFilesystem, FSRoot: "./data"},
		Snapshot: snapshot.Config{Driver: snapshot.DriverSQLite, SQLitePath: "wardtrace.db"},
		Kafka:    KafkaConfig{Topic: "wardtrace.clusters"},
		Detection: DetectionConfig{
			MaxPresenceRows: engine.DefaultMaxPresenceRows,
			Parallelism:     4,
		},
	}
}

// Load reads path (skipped when empty) over the defaults, then applies
// environment overrides from getenv (os.Getenv when nil) and validates.
func Load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(EnvPrefix + name)); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v := strings.TrimSpace(getenv(EnvPrefix + name))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}

	flag := func(name string, dst *bool) error {
		v := strings.TrimSpace(getenv(EnvPrefix + name))
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
		return nil
	}

	str("ADDR", &c.Addr)
	str("LOG_LEVEL", &c.Log.Level)
	var driver string
	str("BLOB_DRIVER", &driver)
	if driver != "" {
		c.Blob.Driver = blob.Driver(driver)
	}
	str("BLOB_FS_ROOT", &c.Blob.FSRoot)
	str("BLOB_S3_BUCKET", &c.Blob.S3.Bucket)
	str("BLOB_S3_REGION", &c.Blob.S3.Region)
	str("BLOB_S3_ENDPOINT", &c.Blob.S3.Endpoint)
	if err := flag("BLOB_S3_PATH_STYLE", &c.Blob.S3.PathStyle); err != nil {
		return err
	}
	str("SNAPSHOT_DRIVER", &c.Snapshot.Driver)
	str("SQLITE_PATH", &c.Snapshot.SQLitePath)
	str("POSTGRES_DSN", &c.Snapshot.PostgresDSN)
	if err := num("SNAPSHOT_RETAIN", &c.Snapshot.Retain); err != nil {
		return err
	}
	if v := strings.TrimSpace(getenv(EnvPrefix + "KAFKA_BROKERS")); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	str("KAFKA_TOPIC", &c.Kafka.Topic)
	if err := num("MAX_PRESENCE_ROWS", &c.Detection.MaxPresenceRows); err != nil {
		return err
	}
	if err := num("PARALLELISM", &c.Detection.Parallelism); err != nil {
		return err
	}
	str("SAMPLE_TRANSFERS", &c.Samples.Transfers)
	str("SAMPLE_MICROBIOLOGY", &c.Samples.Microbiology)
	str("TRACE_PATH", &c.Observability.TracePath)
	if err := flag("EXPVAR", &c.Observability.Expvar); err != nil {
		return err
	}
	return flag("AUDIT", &c.Observability.Audit)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate rejects unknown drivers, missing driver settings and
// non-positive limits. All problems are reported together.
func (c Config) Validate() error {
	var errs []error
	switch c.Blob.Driver {
	case "", blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("blob: s3 driver requires a bucket"))
		}
	default:
		errs = append(errs, fmt.Errorf("blob: unknown driver %q", c.Blob.Driver))
	}
	if !snapshot.KnownDriver(c.Snapshot.Driver) {
		errs = append(errs, fmt.Errorf("snapshot: unknown driver %q", c.Snapshot.Driver))
	}
	if c.Snapshot.Driver == snapshot.DriverPostgres && c.Snapshot.PostgresDSN == "" {
		errs = append(errs, errors.New("snapshot: postgres driver requires a dsn"))
	}
	if c.Snapshot.Retain < 0 {
		errs = append(errs, errors.New("snapshot: retain must not be negative"))
	}
	if c.Detection.MaxPresenceRows <= 0 {
		errs = append(errs, errors.New("detection: max_presence_rows must be positive"))
	}
	if c.Detection.Parallelism <= 0 {
		errs = append(errs, errors.New("detection: parallelism must be positive"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka: topic required when brokers are set"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if (c.Samples.Transfers == "") != (c.Samples.Microbiology == "") {
		errs = append(errs, errors.New("samples: transfers and microbiology must be set together"))
	}
	return errors.Join(errs...)
}
