// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/lectern-dev/lectern/internal/index"
	"github.com/lectern-dev/lectern/internal/provider"
	"github.com/lectern-dev/lectern/internal/retrieval"
	"github.com/lectern-dev/lectern/internal/stream"
	lecterr "github.com/lectern-dev/lectern/pkg/errors"
)

// AskRequest is the request body for the streaming answer endpoint.
type AskRequest struct {
	Question string `json:"question"`
	Library  string `json:"library,omitempty"`
	Model    string `json:"model,omitempty"`
}

func (s *Server) registerStreamRoute() {
	s.router.Post("/api/v1/chat/stream", s.handleChatStream)

	// Register the operation in the OpenAPI spec manually. The streaming
	// handler needs raw http.ResponseWriter access to flush the sources
	// frame ahead of the token stream, so it cannot use huma's standard
	// handler signature. The chi route above does the actual work; this
	// entry documents it.
	minQuestionLen := 1
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "chat-stream",
		Method:      http.MethodPost,
		Path:        "/api/v1/chat/stream",
		Summary:     "Stream a grounded answer",
		Description: "Ask a question over the ingested corpus. The response is a line-oriented JSON stream: one sources record, then incremental generation records, then a terminal record.",
		Tags:        []string{"chat"},
		RequestBody: &huma.RequestBody{
			Required: true,
			Content: map[string]*huma.MediaType{
				"application/json": {
					Schema: &huma.Schema{
						Type:     "object",
						Required: []string{"question"},
						Properties: map[string]*huma.Schema{
							"question": {
								Type:        "string",
								MinLength:   &minQuestionLen,
								Description: "Question to answer from the corpus",
							},
							"library": {
								Type:        "string",
								Description: "Restrict retrieval to one library",
							},
							"model": {
								Type:        "string",
								Description: "Override the configured generation model",
							},
						},
					},
				},
			},
		},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Line-oriented JSON answer stream",
				Content: map[string]*huma.MediaType{
					"application/x-ndjson": {
						Schema: &huma.Schema{
							Type:        "string",
							Description: "Newline-delimited JSON records",
						},
					},
				},
			},
			"422": {Description: "Validation error (missing question)"},
			"503": {Description: "Services not configured"},
		},
	})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Question == "" {
		http.Error(w, `{"error":"question is required"}`, http.StatusUnprocessableEntity)
		return
	}
	if s.services == nil {
		http.Error(w, `{"error":"services not configured"}`, http.StatusServiceUnavailable)
		return
	}

	ctx := r.Context()
	answerID := uuid.NewString()
	logger := s.logger.With("answer_id", answerID)

	passages, err := s.services.Retriever.Retrieve(ctx, req.Question, index.LibraryFilter(req.Library))
	if err != nil {
		logger.Error("retrieval failed", "error", err)
		writeJSONError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")

	sw := stream.NewWriter(w)

	if len(passages) == 0 {
		logger.Info("no passages retrieved", "library", req.Library)
		s.writeEmptyAnswer(sw, logger)
		return
	}

	model := req.Model
	if model == "" {
		model = s.services.Generation.Model
	}

	events, err := s.services.Provider.Stream(ctx, provider.Request{
		Model:       model,
		Prompt:      retrieval.BuildPrompt(req.Question, passages),
		Temperature: s.services.Generation.Temperature,
	})
	if err != nil {
		// Nothing has been written yet, so a plain HTTP error is still
		// possible here.
		logger.Error("opening generation stream failed", "error", err)
		writeJSONError(w, err)
		return
	}

	if err := sw.WriteSources(retrieval.Summaries(passages)); err != nil {
		logger.Error("writing sources frame failed", "error", err)
		return
	}

	for ev := range events {
		if ev.Err != nil {
			logger.Error("generation stream failed", "error", ev.Err)
			_ = sw.WriteError(ev.Err.Error())
			break
		}
		if err := sw.Forward(ev.Raw); err != nil {
			// Caller went away; cancelling the request context releases
			// the upstream connection and drains the channel.
			logger.Info("caller disconnected mid-stream")
			break
		}
		if ev.Done {
			break
		}
	}

	_ = sw.Close()
	logger.Info("answer stream finished", "passages", len(passages))
}

// writeEmptyAnswer emits a well-formed stream carrying the canned
// no-context answer, so the caller's scanner never needs a special case.
func (s *Server) writeEmptyAnswer(sw *stream.Writer, logger *slog.Logger) {
	if err := sw.WriteSources(nil); err != nil {
		logger.Error("writing sources frame failed", "error", err)
		return
	}
	if err := sw.Forward(provider.MarshalDelta(retrieval.NoContextAnswer)); err != nil {
		logger.Error("writing empty answer failed", "error", err)
		return
	}
	_ = sw.Forward(provider.MarshalDone())
	_ = sw.Close()
}

func writeJSONError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(lecterr.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: err.Error()})
}
