// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lectern-dev/lectern/internal/ingest"
	lecterr "github.com/lectern-dev/lectern/pkg/errors"
)

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [dir | file...]",
		Short: "Ingest documents into the vector index",
		Long:  "Chunk, embed, and index documents. Pass a directory to ingest its contents, one or more files for incremental ingestion, or nothing to use the configured corpus directory.",
		RunE:  runIngest,
	}

	cmd.Flags().StringP("library", "l", "", "library name to tag ingested passages with")

	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	library, _ := cmd.Flags().GetString("library")

	logger := newLogger()
	ctx := cmd.Context()

	c, err := buildCorpus(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = c.index.Close() }()

	report, err := ingestArgs(ctx, c, cfg.Ingest.Dir, library, args)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	return printReport(out, report)
}

// ingestArgs dispatches to directory or incremental file ingestion based
// on what the caller passed.
func ingestArgs(ctx context.Context, c *corpus, defaultDir, library string, args []string) (*ingest.Report, error) {
	if len(args) == 0 {
		return c.pipeline.IngestDirectory(ctx, defaultDir, library)
	}

	if len(args) == 1 {
		info, err := os.Stat(args[0])
		if err != nil {
			return nil, lecterr.Wrap(err, lecterr.CodeIngestFileReadFailure, "stat", lecterr.FieldFile(args[0]))
		}
		if info.IsDir() {
			return c.pipeline.IngestDirectory(ctx, args[0], library)
		}
	}

	return c.pipeline.IngestFiles(ctx, args, library)
}

func printReport(out io.Writer, report *ingest.Report) error {
	fmt.Fprintf(out, "Ingested %d file(s), skipped %d, wrote %d chunk(s).\n",
		report.FilesProcessed, report.FilesSkipped, report.ChunksWritten)
	for _, f := range report.Failures {
		fmt.Fprintf(out, "  failed: %s (%s)\n", f.Path, f.Error)
	}

	return nil
}
