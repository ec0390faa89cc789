package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"wardtrace/internal/core"
	"wardtrace/internal/upload"
)

type detectOptions struct {
	transfers    string
	microbiology string
	source       string
}

func newDetectCmd(g *globals) *cobra.Command {
	opts := &detectOptions{}
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run one detection and store its snapshot",
		Long: `Runs the detection pipeline once and saves the result as a snapshot.
Tables come from --transfers/--microbiology when given, otherwise from the
configured sample files (--source=samples) or the last upload (--source=upload).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.detect(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.transfers, "transfers", "", "transfers CSV file")
	cmd.Flags().StringVar(&opts.microbiology, "microbiology", "", "microbiology CSV file")
	cmd.Flags().StringVar(&opts.source, "source", string(upload.SourceSamples), "table source when no files are given: samples|upload")
	return cmd
}

func (g *globals) detect(cmd *cobra.Command, opts *detectOptions) error {
	ctx := cmd.Context()
	if (opts.transfers == "") != (opts.microbiology == "") {
		return fmt.Errorf("--transfers and --microbiology must be given together")
	}
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	var published core.Published
	if opts.transfers != "" {
		published, err = detectFiles(cmd, a.service, opts.transfers, opts.microbiology)
	} else {
		var loc upload.Locations
		switch upload.Source(opts.source) {
		case upload.SourceSamples:
			loc, err = a.uploads.Samples()
		case upload.SourceUpload:
			loc, err = a.uploads.Current(ctx)
		default:
			err = fmt.Errorf("unknown source %q", opts.source)
		}
		if err == nil {
			published, err = a.service.DetectFromLocations(ctx, loc)
		}
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"run_id": published.RunID,
		"stats":  published.Result.Stats,
		"report": published.Report,
	})
}

func detectFiles(cmd *cobra.Command, svc *core.Service, transfersPath, microPath string) (core.Published, error) {
	transfers, err := os.Open(transfersPath)
	if err != nil {
		return core.Published{}, err
	}
	defer transfers.Close()
	micro, err := os.Open(microPath)
	if err != nil {
		return core.Published{}, err
	}
	defer micro.Close()
	return svc.DetectFromReaders(cmd.Context(), transfers, micro)
}
