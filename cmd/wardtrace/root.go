package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"wardtrace/internal/blob"
	"wardtrace/internal/config"
	"wardtrace/internal/core"
	"wardtrace/internal/engine"
	"wardtrace/internal/logging"
	"wardtrace/internal/notify"
	"wardtrace/internal/snapshot"
	"wardtrace/internal/upload"
)

type globals struct {
	configPath string
	verbose    bool

	cfg    config.Config
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "wardtrace",
		Short: "Infection cluster detection over ward transfers",
		Long: "wardtrace links patients who tested positive for the same infection\n" +
			"and shared a ward on the same day near their positive results.",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(g.configPath, nil)
			if err != nil {
				return err
			}
			if g.verbose {
				cfg.Log.Level = "debug"
			}
			logger, err := logging.NewLogger(cfg.Log)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			g.cfg = cfg
			g.logger = logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if g.logger != nil {
				_ = g.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "enable debug logging")
	root.AddCommand(newServeCmd(g), newDetectCmd(g), newShowCmd(g))
	root.Version = version
	return root
}

// expvar names are process-wide, so every invocation shares one recorder.
var expvarRecorder = sync.OnceValue(func() *core.ExpvarMetricsRecorder {
	return core.NewExpvarMetricsRecorder("wardtrace")
})

// app holds the wired collaborators of one command invocation.
type app struct {
	blobs     blob.Store
	snapshots *snapshot.Store
	uploads   *upload.Store
	registry  *prometheus.Registry
	publisher *notify.KafkaPublisher
	service   *core.Service

	expvar    *core.ExpvarMetricsRecorder // nil unless observability.expvar
	traceFile *os.File
}

func (g *globals) open(ctx context.Context) (*app, error) {
	cfg := g.cfg
	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	snaps, err := snapshot.Open(ctx, cfg.Snapshot, blobs)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := core.NewPrometheusRecorder(reg)
	if err != nil {
		_ = snaps.Close()
		return nil, err
	}

	a := &app{
		blobs:     blobs,
		snapshots: snaps,
		uploads:   upload.NewStore(blobs, cfg.Samples),
		registry:  reg,
	}
	metrics := core.MultiMetricsRecorder{recorder}
	if cfg.Observability.Expvar {
		a.expvar = expvarRecorder()
		metrics = append(metrics, a.expvar)
	}
	opts := []core.Option{
		core.WithLogger(g.logger.Named("core")),
		core.WithMetricsRecorder(metrics),
		core.WithEngineOptions(
			engine.WithMaxPresenceRows(cfg.Detection.MaxPresenceRows),
			engine.WithParallelism(cfg.Detection.Parallelism),
		),
	}
	if path := cfg.Observability.TracePath; path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			_ = snaps.Close()
			return nil, fmt.Errorf("open trace file: %w", err)
		}
		a.traceFile = f
		opts = append(opts, core.WithTracer(core.NewJSONTracer(f)))
	}
	if cfg.Observability.Audit {
		opts = append(opts, core.WithAuditRecorder(logging.NewAuditRecorder(g.logger)))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		a.publisher = notify.NewKafkaPublisher(notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		opts = append(opts, core.WithPublisher(a.publisher))
	}
	a.service = core.NewService(snaps, a.uploads, opts...)
	g.logger.Debug("collaborators ready",
		"blob_driver", blobs.Driver(),
		"snapshot_driver", snaps.Driver(),
		"kafka", a.publisher != nil,
		"expvar", a.expvar != nil,
		"trace_path", cfg.Observability.TracePath,
		"audit", cfg.Observability.Audit,
	)
	return a, nil
}

func (a *app) Close() error {
	if a.publisher != nil {
		_ = a.publisher.Close()
	}
	if a.traceFile != nil {
		_ = a.traceFile.Close()
	}
	return a.snapshots.Close()
}
