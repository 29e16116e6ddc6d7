// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lectern-dev/lectern/internal/config"
	"github.com/lectern-dev/lectern/internal/embed"
	lecterr "github.com/lectern-dev/lectern/pkg/errors"
)

func init() {
	embed.Register("ollama", func(cfg config.EmbeddingConfig) (embed.Embedder, error) {
		return New(cfg.Endpoint, cfg.Model, cfg.Dimensions), nil
	})
}

// Compile-time interface check.
var _ embed.Embedder = (*Client)(nil)

// Client calls an Ollama-compatible embeddings endpoint.
type Client struct {
	endpoint   string
	model      string
	dimensions int
	http       *http.Client
}

// New creates an embeddings client for the given endpoint and model.
// dimensions may be 0; it is then recorded from the first response.
func New(endpoint, model string, dimensions int) *Client {
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		model:      model,
		dimensions: dimensions,
		http:       &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) Name() string { return "ollama" }

func (c *Client) Dimensions() int { return c.dimensions }

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed requests an embedding for text with a single synchronous call.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, lecterr.New(lecterr.CodeEmbedRequestInvalid, "embedding input must not be empty")
	}

	payload, err := json.Marshal(embedRequest{Model: c.model, Prompt: text})
	if err != nil {
		return nil, lecterr.Wrapf(err, lecterr.CodeEmbedRequestInvalid, "encoding embedding request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, lecterr.Wrapf(err, lecterr.CodeEmbedRequestInvalid, "building embedding request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, lecterr.Wrapf(err, lecterr.CodeEmbedUpstreamFailure, "calling embedding endpoint")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, lecterr.Errorf(lecterr.CodeEmbedUpstreamFailure,
			"embedding endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, lecterr.Wrapf(err, lecterr.CodeEmbedResponseInvalid, "decoding embedding response")
	}
	if len(out.Embedding) == 0 {
		return nil, lecterr.New(lecterr.CodeEmbedResponseInvalid, "embedding response carried no vector")
	}

	if c.dimensions == 0 {
		c.dimensions = len(out.Embedding)
	}

	return out.Embedding, nil
}
