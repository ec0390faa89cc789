package logging

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"wardtrace/internal/core"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{" WARN ", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}
	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: got %v, %v", tc.in, got, err)
		}
	}
}

func TestLoggerForwardsKeyValues(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	log := Wrap(zap.New(obs)).Named("svc")
	log.Debug("d", "k", 1)
	log.Info("run published", "run_id", "r1", "clusters", 2)
	log.Warn("w")
	log.Error("e", "error", "boom")

	if logs.Len() != 4 {
		t.Fatalf("expected 4 entries, got %d", logs.Len())
	}
	entry := logs.FilterMessage("run published").All()[0]
	fields := entry.ContextMap()
	if fields["run_id"] != "r1" || fields["clusters"] != int64(2) {
		t.Fatalf("unexpected fields %v", fields)
	}
	if entry.LoggerName != "svc" {
		t.Fatalf("unexpected logger name %q", entry.LoggerName)
	}
	if logs.FilterLevelExact(zapcore.ErrorLevel).Len() != 1 {
		t.Fatalf("expected one error entry")
	}
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	if _, err := NewLogger(Config{Level: "chatty"}); err == nil {
		t.Fatalf("expected error")
	}
	log, err := NewLogger(Config{Level: "debug", Development: true})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if !log.Zap().Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("debug level not enabled")
	}
	_ = log.Sync()
}

func TestWrapNilIsNoop(_ *testing.T) {
	Wrap(nil).Info("ignored", "k", "v")
}

func TestAuditRecorderLogsEntries(t *testing.T) {
	obs, logs := observer.New(zapcore.InfoLevel)
	rec := NewAuditRecorder(Wrap(zap.New(obs)))
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec.Record(context.Background(), core.AuditEntry{Operation: "detect", RunID: "r1", Status: core.AuditStatusSuccess, Duration: time.Second, Timestamp: at})
	rec.Record(context.Background(), core.AuditEntry{Operation: "detect", Status: core.AuditStatusError, Error: "boom", Timestamp: at})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit lines, got %d", len(entries))
	}
	ok := entries[0]
	if ok.LoggerName != "audit" || ok.Level != zapcore.InfoLevel {
		t.Fatalf("unexpected entry %+v", ok.Entry)
	}
	fields := ok.ContextMap()
	if fields["operation"] != "detect" || fields["run_id"] != "r1" || fields["status"] != "success" {
		t.Fatalf("unexpected fields %v", fields)
	}
	failed := entries[1]
	if failed.Level != zapcore.WarnLevel || failed.ContextMap()["error"] != "boom" {
		t.Fatalf("unexpected failure entry %+v %v", failed.Entry, failed.ContextMap())
	}
	if _, has := failed.ContextMap()["run_id"]; has {
		t.Fatalf("empty run id should be omitted")
	}
}
