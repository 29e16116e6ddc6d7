// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	lecterr "github.com/lectern-dev/lectern/pkg/errors"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Inspect and manage the vector index",
	}

	cmd.AddCommand(
		newIndexStatsCmd(),
		newIndexClearCmd(),
	)

	return cmd
}

func newIndexStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		RunE:  runIndexStats,
	}
}

func newIndexClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all indexed passages",
		RunE:  runIndexClear,
	}

	cmd.Flags().Bool("yes", false, "skip the confirmation prompt")

	return cmd
}

func runIndexStats(cmd *cobra.Command, _ []string) error {
	ctx, cancelTimeout := context.WithTimeout(cmd.Context(), shortTimeout)
	defer cancelTimeout()

	var stats struct {
		Passages int `json:"passages"`
	}
	if err := newServerClient().getJSON(ctx, "/api/v1/index/stats", &stats); err != nil {
		return err
	}

	_, err := fmt.Fprintf(cmd.OutOrStdout(), "Indexed passages: %d\n", stats.Passages)
	return err
}

func runIndexClear(cmd *cobra.Command, _ []string) error {
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		return lecterr.New(lecterr.CodeCLIInputInvalid, "clearing deletes every indexed passage; re-run with --yes to confirm")
	}

	ctx, cancelTimeout := context.WithTimeout(cmd.Context(), shortTimeout)
	defer cancelTimeout()

	var out struct {
		Cleared bool `json:"cleared"`
	}
	if err := newServerClient().deleteJSON(ctx, "/api/v1/index", &out); err != nil {
		return err
	}

	_, err := fmt.Fprintln(cmd.OutOrStdout(), "Index cleared.")
	return err
}
