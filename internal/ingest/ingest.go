// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

// Package ingest reads documents, chunks them, embeds each chunk, and
// writes the result to the vector index. Ingestion is best-effort: a
// failing file is recorded and skipped, never aborting the batch.
package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lectern-dev/lectern/internal/chunker"
	"github.com/lectern-dev/lectern/internal/embed"
	"github.com/lectern-dev/lectern/internal/index"
	lecterr "github.com/lectern-dev/lectern/pkg/errors"
)

// supportedExtensions maps accepted file extensions to the file_type
// metadata value recorded on each chunk.
var supportedExtensions = map[string]string{
	".txt":      "text",
	".text":     "text",
	".md":       "markdown",
	".markdown": "markdown",
}

// FileFailure records one file that could not be ingested.
type FileFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Report is the aggregate outcome of an ingestion run.
type Report struct {
	FilesProcessed int           `json:"files_processed"`
	FilesSkipped   int           `json:"files_skipped"`
	ChunksWritten  int           `json:"chunks_written"`
	Failures       []FileFailure `json:"failures,omitempty"`
}

// Pipeline wires the chunker, embedder, and index together. Construct it
// with explicit dependencies; it holds no global state.
type Pipeline struct {
	chunker  *chunker.Chunker
	embedder embed.Embedder
	index    index.Index
	workers  int
	logger   *slog.Logger
}

// New creates a Pipeline. workers bounds concurrent embedding calls per
// file; values below 1 are treated as 1. A nil logger falls back to
// slog.Default().
func New(c *chunker.Chunker, e embed.Embedder, idx index.Index, workers int, logger *slog.Logger) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{chunker: c, embedder: e, index: idx, workers: workers, logger: logger}
}

// IngestDirectory ingests every supported regular file directly under
// dir, tagging all chunks with the given library scope (empty for none).
func (p *Pipeline) IngestDirectory(ctx context.Context, dir, library string) (*Report, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, lecterr.Wrapf(err, lecterr.CodeIngestDirReadFailure, "reading corpus directory %s", dir)
	}

	var paths []string
	for _, de := range dirEntries {
		if !de.Type().IsRegular() {
			continue
		}
		paths = append(paths, filepath.Join(dir, de.Name()))
	}

	return p.IngestFiles(ctx, paths, library)
}

// IngestFiles ingests an explicit list of file paths (incremental
// ingestion, used right after an upload). The same best-effort policy
// applies: a failing file is reported and skipped.
func (p *Pipeline) IngestFiles(ctx context.Context, paths []string, library string) (*Report, error) {
	report := &Report{}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		written, err := p.ingestFile(ctx, path, library)
		if err != nil {
			if lecterr.IsUnsupported(err) {
				p.logger.Warn("skipping unsupported file", "path", path)
				report.FilesSkipped++
				continue
			}
			p.logger.Error("skipping failed file", "path", path, "error", err)
			report.FilesSkipped++
			report.Failures = append(report.Failures, FileFailure{Path: path, Error: err.Error()})
			continue
		}

		report.FilesProcessed++
		report.ChunksWritten += written
	}

	p.logger.Info("ingestion finished",
		"processed", report.FilesProcessed,
		"skipped", report.FilesSkipped,
		"chunks", report.ChunksWritten,
	)
	return report, nil
}

// ingestFile processes one file and returns the number of chunks written.
func (p *Pipeline) ingestFile(ctx context.Context, path, library string) (int, error) {
	ext := strings.ToLower(filepath.Ext(path))
	fileType, ok := supportedExtensions[ext]
	if !ok {
		return 0, lecterr.Errorf(lecterr.CodeIngestFileUnsupported, "unsupported file type %q", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, lecterr.Wrap(err, lecterr.CodeIngestFileReadFailure, "reading file", lecterr.FieldFile(path))
	}

	chunks := p.chunker.ChunkFile(path, filepath.Base(path), fileType, string(data))
	if len(chunks) == 0 {
		return 0, nil
	}
	if library != "" {
		for i := range chunks {
			chunks[i].Metadata["library"] = library
		}
	}

	entries, err := p.embedChunks(ctx, chunks)
	if err != nil {
		return 0, err
	}

	// One index write per file keeps the file's batch atomic.
	if err := p.index.Add(ctx, entries); err != nil {
		return 0, err
	}

	return len(entries), nil
}

// embedChunks embeds all chunks of one file on a bounded worker pool and
// joins the results in chunk order. The first embedding error cancels
// the remaining work and fails the whole file.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []chunker.Chunk) ([]index.Entry, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type job struct {
		pos   int
		chunk chunker.Chunk
	}

	jobs := make(chan job)
	entries := make([]index.Entry, len(chunks))

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	workers := min(p.workers, len(chunks))
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				vec, err := p.embedder.Embed(ctx, j.chunk.Text)
				if err != nil {
					errOnce.Do(func() {
						firstErr = err
						cancel()
					})
					return
				}
				entries[j.pos] = index.Entry{
					ID:       j.chunk.ID,
					Vector:   vec,
					Document: j.chunk.Text,
					Metadata: j.chunk.Metadata,
				}
			}
		}()
	}

	for i, c := range chunks {
		select {
		case jobs <- job{pos: i, chunk: c}:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, lecterr.Wrapf(err, lecterr.CodeEmbedUpstreamFailure, "embedding cancelled")
	}
	return entries, nil
}
