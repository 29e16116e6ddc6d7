// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

package config

import (
	"log/slog"
	"os"
	"path/filepath"

	lecterr "github.com/lectern-dev/lectern/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath returns ~/.config/lectern/lectern.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", lecterr.Wrapf(err, lecterr.CodeConfigLoadReadFailure, "resolving home directory")
	}
	return filepath.Join(home, ".config", "lectern", "lectern.yaml"), nil
}

// defaultYAML renders the default configuration as YAML. Generated from the
// same defaults SetDefaults applies, so the bootstrapped file and the
// in-memory defaults cannot drift apart.
func defaultYAML() ([]byte, error) {
	doc := map[string]any{
		"server": map[string]any{
			"listen": "127.0.0.1:8642",
		},
		"embedding": map[string]any{
			"backend":    "ollama",
			"endpoint":   "http://localhost:11434",
			"model":      "mxbai-embed-large",
			"dimensions": 1024,
		},
		"generation": map[string]any{
			"backend":     "ollama",
			"endpoint":    "http://localhost:11434",
			"model":       "deepseek-r1:8b",
			"temperature": 0.3,
		},
		"index": map[string]any{
			"backend":    "chroma",
			"url":        "http://localhost:8000",
			"collection": "documents",
		},
		"chunking": map[string]any{
			"chunk_size": 500,
			"overlap":    50,
		},
		"ingest": map[string]any{
			"dir":     "documents",
			"workers": 4,
		},
		"retrieval": map[string]any{
			"top_k": 4,
		},
	}
	return yaml.Marshal(doc)
}

// Bootstrap writes the default config to path if it does not already exist.
// Returns the path written, or empty string if the file already existed or
// an error occurred (non-fatal — logged and skipped).
func Bootstrap() string {
	cfgPath, err := DefaultConfigPath()
	if err != nil {
		slog.Debug("skipping config bootstrap", "error", err)
		return ""
	}

	if _, err := os.Stat(cfgPath); err == nil {
		return "" // already exists
	}

	data, err := defaultYAML()
	if err != nil {
		slog.Debug("skipping config bootstrap: cannot render defaults", "error", err)
		return ""
	}

	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		slog.Debug("skipping config bootstrap: cannot create directory", "path", dir, "error", err)
		return ""
	}

	if err := os.WriteFile(cfgPath, data, 0o600); err != nil {
		slog.Debug("skipping config bootstrap: cannot write config", "path", cfgPath, "error", err)
		return ""
	}

	slog.Info("created default config", "path", cfgPath)
	return cfgPath
}
