// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

// Package embed converts text into fixed-length vectors via an external
// embedding model.
package embed

import (
	"context"

	"github.com/lectern-dev/lectern/internal/config"
	lecterr "github.com/lectern-dev/lectern/pkg/errors"
)

// Embedder converts free text into a numeric vector representation.
type Embedder interface {
	Name() string
	// Embed returns the embedding vector for text. It fails with an
	// embed.request.upstream_failure error on network failure or a
	// non-success response.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimensions returns the vector length produced by the model, or 0
	// if no call has established it yet.
	Dimensions() int
}

// Factory creates an Embedder from configuration.
type Factory func(cfg config.EmbeddingConfig) (Embedder, error)

var factories = map[string]Factory{}

// Register registers a backend factory under name. Backend packages call
// this from init().
func Register(name string, f Factory) {
	factories[name] = f
}

// New creates the configured embedding backend.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	f, ok := factories[cfg.Backend]
	if !ok {
		return nil, lecterr.Errorf(lecterr.CodeEmbedBackendUnsupported,
			"unsupported embedding backend: %q", cfg.Backend)
	}
	return f(cfg)
}
