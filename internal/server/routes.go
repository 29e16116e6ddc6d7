// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/lectern-dev/lectern/internal/ingest"
	lecterr "github.com/lectern-dev/lectern/pkg/errors"
)

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "ingest",
		Method:      http.MethodPost,
		Path:        "/api/v1/ingest",
		Summary:     "Ingest documents into the index",
		Tags:        []string{"ingest"},
	}, s.handleIngest)

	huma.Register(s.api, huma.Operation{
		OperationID: "index-stats",
		Method:      http.MethodGet,
		Path:        "/api/v1/index/stats",
		Summary:     "Index statistics",
		Tags:        []string{"index"},
	}, s.handleIndexStats)

	huma.Register(s.api, huma.Operation{
		OperationID: "index-clear",
		Method:      http.MethodDelete,
		Path:        "/api/v1/index",
		Summary:     "Delete all indexed passages",
		Tags:        []string{"index"},
	}, s.handleIndexClear)
}

type ingestInput struct {
	Body struct {
		Path    string   `json:"path,omitempty" doc:"Directory to ingest; defaults to the configured corpus directory"`
		Files   []string `json:"files,omitempty" doc:"Explicit file paths for incremental ingestion; overrides path"`
		Library string   `json:"library,omitempty" doc:"Library name to tag ingested passages with"`
	}
}

type ingestOutput struct {
	Body ingest.Report
}

func (s *Server) handleIngest(ctx context.Context, in *ingestInput) (*ingestOutput, error) {
	var (
		report *ingest.Report
		err    error
	)
	if len(in.Body.Files) > 0 {
		report, err = s.services.Pipeline.IngestFiles(ctx, in.Body.Files, in.Body.Library)
	} else {
		dir := in.Body.Path
		if dir == "" {
			dir = s.services.IngestDir
		}
		report, err = s.services.Pipeline.IngestDirectory(ctx, dir, in.Body.Library)
	}
	if err != nil {
		s.logger.Error("ingestion failed", "error", err)
		return nil, huma.NewError(lecterr.HTTPStatus(err), "ingestion failed", err)
	}

	s.logger.Info("ingestion complete",
		"processed", report.FilesProcessed,
		"skipped", report.FilesSkipped,
		"chunks", report.ChunksWritten)
	return &ingestOutput{Body: *report}, nil
}

type indexStatsOutput struct {
	Body struct {
		Passages int `json:"passages" doc:"Number of indexed passages"`
	}
}

func (s *Server) handleIndexStats(ctx context.Context, _ *struct{}) (*indexStatsOutput, error) {
	count, err := s.services.Index.Count(ctx)
	if err != nil {
		return nil, huma.NewError(lecterr.HTTPStatus(err), "counting passages", err)
	}

	out := &indexStatsOutput{}
	out.Body.Passages = count
	return out, nil
}

type indexClearOutput struct {
	Body struct {
		Cleared bool `json:"cleared"`
	}
}

func (s *Server) handleIndexClear(ctx context.Context, _ *struct{}) (*indexClearOutput, error) {
	if err := s.services.Index.Clear(ctx); err != nil {
		return nil, huma.NewError(lecterr.HTTPStatus(err), "clearing index", err)
	}

	s.logger.Info("index cleared")
	out := &indexClearOutput{}
	out.Body.Cleared = true
	return out, nil
}
