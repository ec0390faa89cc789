package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"wardtrace/pkg/domain"
)

type captureAuditRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.mu.Lock()
	c.entries = append(c.entries, entry)
	c.mu.Unlock()
}

func (c *captureAuditRecorder) has(op string, status AuditStatus) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status {
			return true
		}
	}
	return false
}

type metricsCall struct {
	op       string
	success  bool
	duration time.Duration
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, duration time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success, duration: duration})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type spanRecord struct {
	op  string
	err error
}

type captureTracer struct {
	started []string
	ended   []spanRecord
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	c.started = append(c.started, op)
	return ctx, &captureSpan{tracer: c, op: op}
}

func (c *captureTracer) has(op string, success bool) bool {
	for _, record := range c.ended {
		if record.op == op && (record.err == nil) == success {
			return true
		}
	}
	return false
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

type captureLogger struct{ calls []string }

func (c *captureLogger) Debug(msg string, _ ...any) { c.calls = append(c.calls, "d:"+msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.calls = append(c.calls, "i:"+msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.calls = append(c.calls, "w:"+msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.calls = append(c.calls, "e:"+msg) }

func (c *captureLogger) saw(call string) bool {
	for _, got := range c.calls {
		if got == call {
			return true
		}
	}
	return false
}

func TestNoopImplementations(_ *testing.T) {
	logger := noopLogger{}
	logger.Debug("debug", "k", "v")
	logger.Info("info", "k", "v")
	logger.Warn("warn", "k", "v")
	logger.Error("error", "k", "v")
	noopMetricsRecorder{}.Observe(context.Background(), "op", true, time.Second)
	_, span := noopTracer{}.Start(context.Background(), "op")
	span.End(nil)
	noopAuditRecorder{}.Record(context.Background(), AuditEntry{})
	_ = noopPublisher{}.Publish(context.Background(), Published{})
}

func TestServiceOptionsOverrideClockAndLogger(t *testing.T) {
	fixed := time.Date(2024, 10, 1, 8, 30, 0, 0, time.UTC)
	log := &captureLogger{}
	audit := &captureAuditRecorder{}
	svc := NewService(nil, nil,
		WithClock(ClockFunc(func() time.Time { return fixed })),
		WithLogger(log),
		WithAuditRecorder(audit),
		WithRunIDGenerator(func() string { return "fixed-run" }),
		// nil values keep the defaults
		WithLogger(nil), WithClock(nil), WithTracer(nil), WithMetricsRecorder(nil), WithPublisher(nil),
	)
	published, err := svc.Detect(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if !published.PublishedAt.Equal(fixed) || published.RunID != "fixed-run" {
		t.Fatalf("options not applied: %+v", published)
	}
	if !log.saw("i:run published") || !log.saw("d:operation completed") {
		t.Fatalf("expected logs, got %v", log.calls)
	}
	if len(audit.entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(audit.entries))
	}
	entry := audit.entries[0]
	if entry.RunID != "fixed-run" || entry.Duration != 0 || !entry.Timestamp.Equal(fixed) || entry.Status != AuditStatusSuccess {
		t.Fatalf("unexpected audit entry %+v", entry)
	}
}

func samplePublished() Published {
	return Published{
		RunID:       "r1",
		PublishedAt: time.Unix(1_700_000_000, 0).UTC(),
		Result: domain.Result{
			Clusters: domain.ClusterCollection{
				"MRSA": {{ClusterID: 1}, {ClusterID: 2}},
				"VRE":  {{ClusterID: 3}},
			},
			Stats: domain.Stats{Infections: []string{"MRSA", "VRE"}, TotalClusters: 3, PatientsPositive: 9},
		},
	}
}

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	if expvar.Get(rec.Name()) == nil {
		t.Fatalf("expected expvar %s to be published", rec.Name())
	}
	rec.Observe(context.Background(), "detect", true, 1500*time.Microsecond)
	rec.Observe(context.Background(), "detect", false, time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Second)
	rec.ObserveRun(samplePublished())

	snap := rec.Snapshot()
	if snap.DurationsMS["detect"] != 2.5 {
		t.Fatalf("unexpected duration total %v", snap.DurationsMS)
	}
	if snap.Results["detect"]["success"] != 1 || snap.Results["detect"]["error"] != 1 {
		t.Fatalf("unexpected results %v", snap.Results)
	}
	if snap.LastRun == nil || snap.LastRun.ClustersBy["MRSA"] != 2 || snap.LastRun.TotalClusters != 3 {
		t.Fatalf("unexpected last run %+v", snap.LastRun)
	}
	var decoded ExpvarMetricsSnapshot
	if err := json.Unmarshal([]byte(expvar.Get(rec.Name()).String()), &decoded); err != nil {
		t.Fatalf("decode expvar: %v", err)
	}
	if decoded.LastRun == nil || decoded.LastRun.RunID != "r1" {
		t.Fatalf("expvar output missing last run: %+v", decoded)
	}
}

func TestMultiMetricsRecorderFansOut(t *testing.T) {
	capture := &captureMetricsRecorder{}
	exp := NewExpvarMetricsRecorder("")
	var traces bytes.Buffer
	svc := newTestService(t, nil,
		WithMetricsRecorder(MultiMetricsRecorder{capture, exp}),
		WithTracer(NewJSONTracer(&traces)),
	)
	if _, err := svc.DetectFromReaders(context.Background(), strings.NewReader(transfersCSV), strings.NewReader(microCSV)); err != nil {
		t.Fatalf("detect: %v", err)
	}
	if !capture.has("detect", true) {
		t.Fatalf("capture recorder missed detect: %+v", capture.calls)
	}
	snap := exp.Snapshot()
	if snap.Results["detect"]["success"] != 1 || snap.LastRun == nil || snap.LastRun.RunID != "run-1" {
		t.Fatalf("expvar recorder missed the run: %+v", snap)
	}
	var span JSONTraceEntry
	if err := json.Unmarshal(traces.Bytes(), &span); err != nil {
		t.Fatalf("decode trace line: %v\n%s", err, traces.String())
	}
	if span.Operation != "detect" || span.Status != "success" {
		t.Fatalf("unexpected span %+v", span)
	}
}

func TestJSONTracerWritesAndRetains(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	tracer.limit = 2
	for i, err := range []error{nil, errors.New("boom"), nil} {
		_, span := tracer.Start(context.Background(), []string{"a", "b", "c"}[i])
		span.End(err)
		span.End(err) // second End is ignored
	}
	entries := tracer.Entries()
	if len(entries) != 2 || entries[0].Operation != "b" || entries[0].Status != "error" || entries[0].Error != "boom" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 3 {
		t.Fatalf("expected 3 JSON lines, got %d: %s", lines, buf.String())
	}
}

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	rec.Observe(context.Background(), "detect", true, 20*time.Millisecond)
	rec.Observe(context.Background(), "detect", false, time.Millisecond)
	if got := promtest.ToFloat64(rec.operations.WithLabelValues("detect", "success")); got != 1 {
		t.Fatalf("success counter = %v", got)
	}
	rec.ObserveRun(samplePublished())
	if got := promtest.ToFloat64(rec.clusters.WithLabelValues("MRSA")); got != 2 {
		t.Fatalf("MRSA gauge = %v", got)
	}
	next := samplePublished()
	delete(next.Result.Clusters, "VRE")
	rec.ObserveRun(next)
	if got := promtest.ToFloat64(rec.clusters.WithLabelValues("VRE")); got != 0 {
		t.Fatalf("VRE gauge should reset, got %v", got)
	}
	if got := promtest.ToFloat64(rec.positives); got != 9 {
		t.Fatalf("positives gauge = %v", got)
	}
	if _, err := NewPrometheusRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}
