package logging

import (
	"context"

	"go.uber.org/zap"

	"wardtrace/internal/core"
)

// AuditRecorder writes core audit entries as structured log lines.
type AuditRecorder struct {
	z *zap.Logger
}

var _ core.AuditRecorder = (*AuditRecorder)(nil)

// NewAuditRecorder logs entries through l under the "audit" name.
func NewAuditRecorder(l *Logger) *AuditRecorder {
	if l == nil {
		l = Wrap(nil)
	}
	return &AuditRecorder{z: l.Zap().Named("audit")}
}

// Record implements core.AuditRecorder. Failed operations log at warn.
func (a *AuditRecorder) Record(_ context.Context, entry core.AuditEntry) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", string(entry.Status)),
		zap.Duration("duration", entry.Duration),
		zap.Time("at", entry.Timestamp),
	}
	if entry.RunID != "" {
		fields = append(fields, zap.String("run_id", entry.RunID))
	}
	if entry.Status == core.AuditStatusError {
		a.z.Warn("audit", append(fields, zap.String("error", entry.Error))...)
		return
	}
	a.z.Info("audit", fields...)
}
