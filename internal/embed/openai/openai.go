// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

package openai

import (
	"context"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lectern-dev/lectern/internal/config"
	"github.com/lectern-dev/lectern/internal/embed"
	"github.com/lectern-dev/lectern/internal/secrets"
	lecterr "github.com/lectern-dev/lectern/pkg/errors"
)

func init() {
	embed.Register("openai", func(cfg config.EmbeddingConfig) (embed.Embedder, error) {
		key, err := secrets.Resolve("openai")
		if err != nil {
			return nil, err
		}
		return New(key, cfg.Endpoint, cfg.Model, cfg.Dimensions), nil
	})
}

// Compile-time interface check.
var _ embed.Embedder = (*Client)(nil)

// Client produces embeddings through the OpenAI embeddings API.
type Client struct {
	client     openaisdk.Client
	model      string
	dimensions int
}

// New creates an OpenAI embeddings client. baseURL is optional and mainly
// useful for pointing at a mock server in tests.
func New(apiKey, baseURL, model string, dimensions int) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{
		client:     openaisdk.NewClient(opts...),
		model:      model,
		dimensions: dimensions,
	}
}

func (c *Client) Name() string { return "openai" }

func (c *Client) Dimensions() int { return c.dimensions }

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, lecterr.New(lecterr.CodeEmbedRequestInvalid, "embedding input must not be empty")
	}

	resp, err := c.client.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Model: openaisdk.EmbeddingModel(c.model),
		Input: openaisdk.EmbeddingNewParamsInputUnion{
			OfString: openaisdk.String(text),
		},
	})
	if err != nil {
		return nil, lecterr.Wrapf(err, lecterr.CodeEmbedUpstreamFailure, "calling openai embeddings")
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, lecterr.New(lecterr.CodeEmbedResponseInvalid, "openai embeddings response carried no vector")
	}

	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}

	if c.dimensions == 0 {
		c.dimensions = len(vec)
	}

	return vec, nil
}
