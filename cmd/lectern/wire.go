// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"github.com/lectern-dev/lectern/internal/chunker"
	"github.com/lectern-dev/lectern/internal/config"
	"github.com/lectern-dev/lectern/internal/embed"
	"github.com/lectern-dev/lectern/internal/index"
	"github.com/lectern-dev/lectern/internal/ingest"
	"github.com/lectern-dev/lectern/internal/provider"
	"github.com/lectern-dev/lectern/internal/retrieval"
	"github.com/lectern-dev/lectern/internal/server"

	// Backend registrations.
	_ "github.com/lectern-dev/lectern/internal/embed/ollama"
	_ "github.com/lectern-dev/lectern/internal/embed/openai"
	_ "github.com/lectern-dev/lectern/internal/index/chroma"
	_ "github.com/lectern-dev/lectern/internal/index/sqlitevec"
	_ "github.com/lectern-dev/lectern/internal/provider/anthropic"
	_ "github.com/lectern-dev/lectern/internal/provider/ollama"
	_ "github.com/lectern-dev/lectern/internal/provider/openai"
)

// newLogger builds the process logger. Verbose enables debug level.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// corpus bundles the ingestion-side dependencies shared by the serve
// and ingest commands.
type corpus struct {
	embedder embed.Embedder
	index    index.Index
	pipeline *ingest.Pipeline
}

// buildCorpus constructs the embedder, index, and ingestion pipeline
// and initializes the index collection. The caller owns idx.Close().
func buildCorpus(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*corpus, error) {
	embedder, err := embed.New(cfg.Embedding)
	if err != nil {
		return nil, err
	}

	idx, err := index.New(cfg.Index)
	if err != nil {
		return nil, err
	}
	if err := idx.Init(ctx); err != nil {
		_ = idx.Close()
		return nil, err
	}

	ck := chunker.New(cfg.Chunking.ChunkSize, cfg.Chunking.Overlap)
	pipeline := ingest.New(ck, embedder, idx, cfg.Ingest.Workers, logger)

	return &corpus{embedder: embedder, index: idx, pipeline: pipeline}, nil
}

// buildServices constructs the full service set for the HTTP server.
func buildServices(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*server.Services, func(), error) {
	c, err := buildCorpus(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	prov, err := provider.New(cfg.Generation)
	if err != nil {
		_ = c.index.Close()
		return nil, nil, err
	}

	cleanup := func() {
		_ = prov.Close()
		_ = c.index.Close()
	}

	return &server.Services{
		Retriever:  retrieval.New(c.embedder, c.index, cfg.Retrieval.TopK),
		Provider:   prov,
		Pipeline:   c.pipeline,
		Index:      c.index,
		Generation: cfg.Generation,
		IngestDir:  cfg.Ingest.Dir,
	}, cleanup, nil
}
