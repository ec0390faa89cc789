package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"wardtrace/internal/core"
)

func newShowCmd(g *globals) *cobra.Command {
	var history bool
	cmd := &cobra.Command{
		Use:   "show [infection index]",
		Short: "Print the latest stored result or one cluster",
		Long: `Prints the clusters of the newest snapshot with stats and ward summary.
With an infection and zero-based index it prints that cluster only. --history
lists stored snapshots newest first.`,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("expected no arguments or <infection> <index>")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if history {
				handles, err := a.service.SnapshotHistory(ctx)
				if err != nil {
					return err
				}
				return enc.Encode(map[string]any{"snapshots": handles})
			}
			if _, err := a.service.Restore(ctx); err != nil {
				return err
			}
			if len(args) == 2 {
				idx, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("index %q: %w", args[1], err)
				}
				cluster, err := a.service.ClusterDetail(args[0], idx)
				if err != nil {
					return err
				}
				return enc.Encode(cluster)
			}
			published, err := a.service.ListClusters()
			if errors.Is(err, core.ErrNoData) {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "No cluster data available.")
				return err
			}
			if err != nil {
				return err
			}
			return enc.Encode(map[string]any{
				"run_id":       published.RunID,
				"clusters":     published.Result.Clusters,
				"stats":        published.Result.Stats,
				"ward_summary": published.WardSummary,
			})
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "list stored snapshots")
	return cmd
}
