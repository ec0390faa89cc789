package main

import (
	"context"
	"errors"
	"expvar"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"wardtrace/internal/adapters/detections"
	"wardtrace/internal/adapters/httpapi"
)

func newServeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Starts the HTTP API. The newest stored snapshot is published before the
listener opens, so results survive restarts. Detection jobs submitted over
HTTP run one at a time on a background worker.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return g.serve(ctx)
		},
	}
}

func (g *globals) serve(ctx context.Context) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	found, err := a.service.Restore(ctx)
	if err != nil {
		return err
	}
	if !found {
		g.logger.Info("no snapshot to restore")
	}

	worker := detections.NewWorker(a.service, a.uploads, detections.WithLogger(g.logger.Named("detections")))
	worker.Start()

	h := httpapi.NewHandler(a.service)
	h.Uploads = a.uploads
	h.Detections = worker
	h.Metrics = promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
	if a.expvar != nil {
		h.Debug = expvar.Handler()
	}
	srv := &http.Server{
		Addr:              g.cfg.Addr,
		Handler:           httpapi.WithAccessLog(os.Stdout, h.Router()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("listening", "addr", g.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		_ = worker.Stop(context.Background())
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	g.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		g.logger.Warn("http shutdown", "error", err)
	}
	return worker.Stop(shutdownCtx)
}
