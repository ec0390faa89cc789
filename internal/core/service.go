package core

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"wardtrace/internal/engine"
	"wardtrace/internal/ingest"
	"wardtrace/internal/snapshot"
	"wardtrace/internal/upload"
	"wardtrace/pkg/domain"
)

// ErrNoData is returned by display operations before any run is published.
var ErrNoData = errors.New("no cluster data available")

// ErrNotFound is returned when a cluster lookup misses.
type ErrNotFound struct {
	Infection string
	Index     int
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("cluster %s/%d not found", e.Infection, e.Index)
}

// SnapshotStore persists published results.
type SnapshotStore interface {
	Save(ctx context.Context, result domain.Result) (snapshot.Handle, error)
	Latest(ctx context.Context) (snapshot.Entry, bool, error)
	History(ctx context.Context) ([]snapshot.Handle, error)
}

// RunObserver is implemented by metrics recorders that also track the
// contents of each published run.
type RunObserver interface {
	ObserveRun(published Published)
}

// TableSource opens the input tables a run reads.
type TableSource interface {
	OpenTables(ctx context.Context, loc upload.Locations) (transfers, microbiology io.ReadCloser, err error)
}

// Service runs detections and serves the latest result. Runs may be invoked
// concurrently; each completed run replaces the published result as a whole.
type Service struct {
	detector  *engine.Detector
	results   *ResultStore
	snapshots SnapshotStore
	tables    TableSource

	logger    Logger
	metrics   MetricsRecorder
	tracer    Tracer
	clock     Clock
	audit     AuditRecorder
	publisher Publisher
	newRunID  func() string
}

// NewService wires a service. snapshots and tables may be nil: without
// snapshots results live only in memory, without tables only in-memory and
// reader inputs are accepted.
func NewService(snapshots SnapshotStore, tables TableSource, opts ...Option) *Service {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.newRunID == nil {
		o.newRunID = uuid.NewString
	}
	return &Service{
		detector:  engine.NewDetector(o.engine...),
		results:   NewResultStore(),
		snapshots: snapshots,
		tables:    tables,
		logger:    o.logger,
		metrics:   o.metrics,
		tracer:    o.tracer,
		clock:     o.clock,
		audit:     o.audit,
		publisher: o.publisher,
		newRunID:  o.newRunID,
	}
}

// Results exposes the published-result slot.
func (s *Service) Results() *ResultStore { return s.results }

// Detect runs the pipeline over in-memory tables, persists the result and
// publishes it. A failed run leaves the published result untouched.
func (s *Service) Detect(ctx context.Context, transfers []domain.TransferRecord, micro []domain.MicrobiologyRecord) (Published, error) {
	var published Published
	err := s.run(ctx, "detect", func(ctx context.Context) (string, error) {
		run, err := s.detector.Run(ctx, transfers, micro)
		if err != nil {
			return "", err
		}
		published = Published{
			RunID:       s.newRunID(),
			PublishedAt: s.clock.Now(),
			Result:      run.Result,
			WardSummary: run.WardSummary,
			Report:      run.Report,
		}
		if s.snapshots != nil {
			handle, err := s.snapshots.Save(ctx, run.Result)
			if err != nil {
				return "", err
			}
			published.RunID = handle.ID
			published.PublishedAt = handle.CreatedAt
		}
		s.results.Publish(published)
		s.logger.Info("run published",
			"run_id", published.RunID,
			"infections", len(run.Result.Stats.Infections),
			"clusters", run.Result.Stats.TotalClusters,
			"patients_positive", run.Result.Stats.PatientsPositive,
			"presence_rows", run.Report.PresenceRows,
		)
		if obs, ok := s.metrics.(RunObserver); ok {
			obs.ObserveRun(published)
		}
		// notification failures do not fail the run
		if err := s.publisher.Publish(ctx, published); err != nil {
			s.logger.Warn("publish notification failed", "run_id", published.RunID, "error", err)
		}
		return published.RunID, nil
	})
	if err != nil {
		return Published{}, err
	}
	return published, nil
}

// DetectFromReaders parses both CSV tables and runs Detect.
func (s *Service) DetectFromReaders(ctx context.Context, transfers, microbiology io.Reader) (Published, error) {
	tr, trStats, err := ingest.ReadTransfers(transfers)
	if err != nil {
		return Published{}, fmt.Errorf("read transfers: %w", err)
	}
	mi, miStats, err := ingest.ReadMicrobiology(microbiology)
	if err != nil {
		return Published{}, fmt.Errorf("read microbiology: %w", err)
	}
	if trStats.Dropped > 0 || miStats.Dropped > 0 {
		s.logger.Warn("dropped incomplete rows",
			"transfers_dropped", trStats.Dropped,
			"microbiology_dropped", miStats.Dropped,
		)
	}
	return s.Detect(ctx, tr, mi)
}

// DetectFromLocations opens the tables at loc and runs a detection.
func (s *Service) DetectFromLocations(ctx context.Context, loc upload.Locations) (Published, error) {
	if s.tables == nil {
		return Published{}, fmt.Errorf("no table source configured")
	}
	tr, mi, err := s.tables.OpenTables(ctx, loc)
	if err != nil {
		return Published{}, fmt.Errorf("open tables: %w", err)
	}
	defer func() {
		_ = tr.Close()
		_ = mi.Close()
	}()
	return s.DetectFromReaders(ctx, tr, mi)
}

// Restore publishes the newest snapshot, if any. It reports whether a
// snapshot was found.
func (s *Service) Restore(ctx context.Context) (bool, error) {
	if s.snapshots == nil {
		return false, nil
	}
	var found bool
	err := s.run(ctx, "restore", func(ctx context.Context) (string, error) {
		entry, ok, err := s.snapshots.Latest(ctx)
		if err != nil || !ok {
			return "", err
		}
		found = true
		published := Published{
			RunID:       entry.Handle.ID,
			PublishedAt: entry.Handle.CreatedAt,
			Result:      entry.Result,
			WardSummary: engine.BuildWardSummary(entry.Result.Clusters),
		}
		s.results.Publish(published)
		if obs, ok := s.metrics.(RunObserver); ok {
			obs.ObserveRun(published)
		}
		s.logger.Info("restored snapshot", "run_id", published.RunID, "clusters", published.Result.Stats.TotalClusters)
		return entry.Handle.ID, nil
	})
	return found, err
}

// ListClusters returns the latest published run. The value is shared and
// must be treated as read-only.
func (s *Service) ListClusters() (Published, error) {
	p, ok := s.results.Latest()
	if !ok {
		return Published{}, ErrNoData
	}
	return *p, nil
}

// ClusterDetail returns the idx-th (zero-based) cluster of infection.
func (s *Service) ClusterDetail(infection string, idx int) (domain.Cluster, error) {
	p, ok := s.results.Latest()
	if !ok {
		return domain.Cluster{}, ErrNoData
	}
	list, ok := p.Result.Clusters[infection]
	if !ok || idx < 0 || idx >= len(list) {
		return domain.Cluster{}, ErrNotFound{Infection: infection, Index: idx}
	}
	return list[idx].Clone(), nil
}

// SnapshotHistory lists stored snapshots newest first.
func (s *Service) SnapshotHistory(ctx context.Context) ([]snapshot.Handle, error) {
	if s.snapshots == nil {
		return []snapshot.Handle{}, nil
	}
	return s.snapshots.History(ctx)
}

func (s *Service) run(ctx context.Context, op string, fn func(context.Context) (string, error)) error {
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, op)
	runID, err := fn(ctx)
	duration := s.clock.Now().Sub(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)

	entry := AuditEntry{
		Operation: op,
		RunID:     runID,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
		s.logger.Error("operation failed", "operation", op, "duration", duration, "error", err)
	} else {
		s.logger.Debug("operation completed", "operation", op, "run_id", runID, "duration", duration)
	}
	s.audit.Record(ctx, entry)
	return err
}
