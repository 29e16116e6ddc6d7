// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lectern-dev/lectern/internal/secrets"
)

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage provider API keys in the OS keyring",
		Long:  "Store and delete provider API keys. Keys are read from the OS keyring at runtime; a matching environment variable (e.g. OPENAI_API_KEY) takes precedence.",
	}

	cmd.AddCommand(
		newSecretSetCmd(),
		newSecretDeleteCmd(),
	)

	return cmd
}

func newSecretSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <provider> <key>",
		Short: "Store an API key for a provider",
		Args:  cobra.ExactArgs(2),
		RunE:  runSecretSet,
	}
}

func newSecretDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <provider>",
		Short: "Delete a stored API key",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretDelete,
	}
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	if err := secrets.Set(args[0], args[1]); err != nil {
		return err
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "Stored API key for %s.\n", args[0])
	return err
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	if err := secrets.Delete(args[0]); err != nil {
		return err
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "Deleted API key for %s.\n", args[0])
	return err
}
