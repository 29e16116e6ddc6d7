// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/lectern-dev/lectern/internal/server"
	"github.com/lectern-dev/lectern/internal/stream"
	"github.com/lectern-dev/lectern/internal/tui"
)

func newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question over the ingested corpus",
		Long:  "Send a question to a running lectern server and stream back the grounded answer, showing the model's reasoning while it is in progress.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}

	cmd.Flags().StringP("library", "l", "", "restrict retrieval to one library")
	cmd.Flags().StringP("model", "m", "", "override the configured generation model")
	cmd.Flags().Bool("plain", false, "print the final answer without the interactive view")

	return cmd
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.TrimSpace(strings.Join(args, " "))
	library, _ := cmd.Flags().GetString("library")
	model, _ := cmd.Flags().GetString("model")
	plain, _ := cmd.Flags().GetBool("plain")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	body, err := newServerClient().openStream(ctx, server.AskRequest{
		Question: question,
		Library:  library,
		Model:    model,
	})
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	if plain {
		return askPlain(cmd, body)
	}
	return askInteractive(question, body, cancel)
}

// askPlain consumes the whole stream and prints sources and answer once
// it finishes.
func askPlain(cmd *cobra.Command, body io.Reader) error {
	sc := stream.NewScanner(nil, newLogger())

	buf := make([]byte, 4096)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if err := sc.Feed(buf[:n]); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}
	if err := sc.Finish(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, src := range sc.Sources() {
		fmt.Fprintf(out, "[%s:%d] %.3f %s\n", src.FileName, src.ChunkIndex, src.Distance, src.Preview)
	}
	if len(sc.Sources()) > 0 {
		fmt.Fprintln(out)
	}
	fmt.Fprintln(out, strings.TrimSpace(sc.Answer()))
	return nil
}

// askInteractive renders the stream live, pumping scanner snapshots into
// the Bubble Tea model.
func askInteractive(question string, body io.Reader, cancel func()) error {
	updates := make(chan stream.Update, 64)
	sc := stream.NewScanner(func(u stream.Update) { updates <- u }, newLogger())

	// User abort: mark the answer as truncated before releasing the
	// request, so the reader goroutine can't race a clean Finish in
	// between. Cancel emits the final snapshot the view renders.
	abort := func() {
		sc.Cancel()
		cancel()
	}

	go func() {
		defer close(updates)
		buf := make([]byte, 4096)
		for {
			n, readErr := body.Read(buf)
			if n > 0 {
				if sc.Feed(buf[:n]) != nil {
					return
				}
			}
			if readErr != nil {
				_ = sc.Finish()
				return
			}
		}
	}()

	final, err := tea.NewProgram(tui.New(question, updates, abort)).Run()
	if err != nil {
		return err
	}
	if m, ok := final.(tui.Model); ok {
		return m.Err()
	}
	return nil
}
