package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"wardtrace/internal/blob"
	"wardtrace/internal/snapshot"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", envMap(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("defaults (-want +got):\n%s", diff)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wardtrace.yaml")
	body := `addr: ":9090"
blob:
  driver: s3
  s3:
    bucket: from-file
    region: eu-west-1
snapshot:
  driver: blob
  retain: 5
kafka:
  brokers: [k1:9092]
detection:
  parallelism: 2
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path, envMap(map[string]string{
		"WARDTRACE_BLOB_S3_BUCKET":     "from-env",
		"WARDTRACE_BLOB_S3_PATH_STYLE": "true",
		"WARDTRACE_KAFKA_BROKERS":      "a:9092, b:9092,",
		"WARDTRACE_MAX_PRESENCE_ROWS":  "1000",
		"WARDTRACE_LOG_LEVEL":          "debug",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.Blob.Driver != blob.DriverS3 || cfg.Blob.S3.Region != "eu-west-1" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Blob.S3.Bucket != "from-env" || !cfg.Blob.S3.PathStyle {
		t.Fatalf("env overrides not applied: %+v", cfg.Blob)
	}
	if diff := cmp.Diff([]string{"a:9092", "b:9092"}, cfg.Kafka.Brokers); diff != "" {
		t.Fatalf("brokers (-want +got):\n%s", diff)
	}
	if cfg.Snapshot.Driver != snapshot.DriverBlob || cfg.Snapshot.Retain != 5 {
		t.Fatalf("snapshot config %+v", cfg.Snapshot)
	}
	if cfg.Detection.MaxPresenceRows != 1000 || cfg.Detection.Parallelism != 2 || cfg.Log.Level != "debug" {
		t.Fatalf("detection/log config %+v %+v", cfg.Detection, cfg.Log)
	}
}

func TestLoadObservability(t *testing.T) {
	cfg, err := Load("", envMap(map[string]string{
		"WARDTRACE_TRACE_PATH": "/var/log/wardtrace/trace.jsonl",
		"WARDTRACE_EXPVAR":     "true",
		"WARDTRACE_AUDIT":      "1",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := ObservabilityConfig{TracePath: "/var/log/wardtrace/trace.jsonl", Expvar: true, Audit: true}
	if diff := cmp.Diff(want, cfg.Observability); diff != "" {
		t.Fatalf("observability (-want +got):\n%s", diff)
	}
	if _, err := Load("", envMap(map[string]string{"WARDTRACE_AUDIT": "sometimes"})); err == nil {
		t.Fatalf("expected bool parse error")
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), envMap(nil)); err == nil {
		t.Fatalf("expected missing file error")
	}
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("addr: [unterminated"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(bad, envMap(nil)); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := Load("", envMap(map[string]string{"WARDTRACE_PARALLELISM": "many"})); err == nil {
		t.Fatalf("expected integer parse error")
	}
	if _, err := Load("", envMap(map[string]string{"WARDTRACE_BLOB_S3_PATH_STYLE": "maybe"})); err == nil {
		t.Fatalf("expected bool parse error")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]struct {
		mutate func(*Config)
		want   string
	}{
		"unknown blob driver":  {func(c *Config) { c.Blob.Driver = "ftp" }, `unknown driver "ftp"`},
		"s3 without bucket":    {func(c *Config) { c.Blob.Driver = blob.DriverS3 }, "requires a bucket"},
		"unknown snapshot":     {func(c *Config) { c.Snapshot.Driver = "redis" }, `unknown driver "redis"`},
		"postgres without dsn": {func(c *Config) { c.Snapshot.Driver = snapshot.DriverPostgres }, "requires a dsn"},
		"zero presence rows":   {func(c *Config) { c.Detection.MaxPresenceRows = 0 }, "max_presence_rows"},
		"negative parallelism": {func(c *Config) { c.Detection.Parallelism = -1 }, "parallelism"},
		"negative retain":      {func(c *Config) { c.Snapshot.Retain = -1 }, "retain"},
		"kafka without topic":  {func(c *Config) { c.Kafka.Brokers = []string{"k"}; c.Kafka.Topic = "" }, "topic required"},
		"bad log level":        {func(c *Config) { c.Log.Level = "loud" }, "log level"},
		"half samples":         {func(c *Config) { c.Samples.Transfers = "t.csv" }, "samples"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
