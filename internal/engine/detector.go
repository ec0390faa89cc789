package engine

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"wardtrace/pkg/domain"
)

// Report carries the intermediate sizes of one run, for logs and metrics.
type Report struct {
	Transfers         int              `json:"transfers"`
	MicrobiologyRows  int              `json:"microbiology_rows"`
	PositiveEntries   int              `json:"positive_entries"`
	Horizon           domain.DateRange `json:"horizon"`
	PresenceRows      int              `json:"presence_rows"`
	ContactEvents     int              `json:"contact_events"`
	InfectionsScanned int              `json:"infections_scanned"`
}

// Run is the full output of a detection: the durable result plus
// transient data derived from it.
type Run struct {
	Result      domain.Result
	WardSummary domain.WardSummary
	Report      Report
}

// Option configures a Detector.
type Option func(*Detector)

// WithParallelism bounds how many infections are processed concurrently.
func WithParallelism(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.parallelism = n
		}
	}
}

// WithMaxPresenceRows overrides DefaultMaxPresenceRows.
func WithMaxPresenceRows(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.maxPresenceRows = n
		}
	}
}

// Detector runs the detection pipeline. The zero value is not usable; use
// NewDetector.
type Detector struct {
	parallelism     int
	maxPresenceRows int
}

// NewDetector constructs a detector with the supplied options.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		parallelism:     runtime.GOMAXPROCS(0),
		maxPresenceRows: DefaultMaxPresenceRows,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect returns the clusters and stats for the supplied tables.
func (d *Detector) Detect(ctx context.Context, transfers []domain.TransferRecord, micro []domain.MicrobiologyRecord) (domain.Result, error) {
	run, err := d.Run(ctx, transfers, micro)
	if err != nil {
		return domain.Result{}, err
	}
	return run.Result, nil
}

// Run executes the pipeline and also returns the ward summary and report.
func (d *Detector) Run(ctx context.Context, transfers []domain.TransferRecord, micro []domain.MicrobiologyRecord) (Run, error) {
	report := Report{Transfers: len(transfers), MicrobiologyRows: len(micro)}

	index := BuildPositiveIndex(micro)
	report.PositiveEntries = len(index)
	horizon, ok := HorizonOf(index)
	if !ok {
		return Run{Result: domain.EmptyResult(), WardSummary: domain.WardSummary{}, Report: report}, nil
	}
	report.Horizon = horizon

	presence, err := ExpandPresence(transfers, horizon, d.maxPresenceRows)
	if err != nil {
		return Run{}, err
	}
	report.PresenceRows = len(presence)

	infections := PositiveInfections(index)
	report.InfectionsScanned = len(infections)
	perInfection := make([][]domain.Cluster, len(infections))
	events := make([]int, len(infections))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.parallelism)
	for i, infection := range infections {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			graph := BuildContactGraph(infection, index, presence)
			perInfection[i] = ExtractClusters(graph, index)
			events[i] = len(graph.Events)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Run{}, fmt.Errorf("build contact graphs: %w", err)
	}

	// ids depend on the sorted infection order fixed above, never on
	// goroutine completion order
	AssignClusterIDs(perInfection)
	var all []domain.Cluster
	for i, list := range perInfection {
		all = append(all, list...)
		report.ContactEvents += events[i]
	}
	result := Aggregate(all, index)
	return Run{Result: result, WardSummary: BuildWardSummary(result.Clusters), Report: report}, nil
}
