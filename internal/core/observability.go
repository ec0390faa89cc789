package core

import (
	"context"
	"time"
)

// Logger is the structured logging surface the service writes to. Arguments
// are alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock. A nil ClockFunc reports time.Now in UTC.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f()
}

// MetricsRecorder observes the outcome and latency of service operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

// MultiMetricsRecorder fans observations out to several recorders. Run
// summaries reach every member that implements RunObserver.
type MultiMetricsRecorder []MetricsRecorder

// Observe implements MetricsRecorder.
func (m MultiMetricsRecorder) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	for _, r := range m {
		r.Observe(ctx, operation, success, duration)
	}
}

// ObserveRun implements RunObserver.
func (m MultiMetricsRecorder) ObserveRun(p Published) {
	for _, r := range m {
		if obs, ok := r.(RunObserver); ok {
			obs.ObserveRun(p)
		}
	}
}

// Tracer starts a span per service operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended once with the operation's error (nil on success).
type TraceSpan interface {
	End(err error)
}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// AuditStatus is the outcome recorded in an AuditEntry.
type AuditStatus string

const (
	// AuditStatusSuccess marks a completed operation.
	AuditStatusSuccess AuditStatus = "success"
	// AuditStatusError marks a failed operation.
	AuditStatusError AuditStatus = "error"
)

// AuditEntry describes one detection-affecting operation.
type AuditEntry struct {
	Operation string
	RunID     string
	Status    AuditStatus
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

// Publisher is notified after a run is published.
type Publisher interface {
	Publish(ctx context.Context, published Published) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Published) error { return nil }
