// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

package openai

import (
	"context"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lectern-dev/lectern/internal/config"
	"github.com/lectern-dev/lectern/internal/provider"
	"github.com/lectern-dev/lectern/internal/secrets"
	lecterr "github.com/lectern-dev/lectern/pkg/errors"
)

func init() {
	provider.Register("openai", func(cfg config.GenerationConfig) (provider.Provider, error) {
		key, err := secrets.Resolve("openai")
		if err != nil {
			return nil, err
		}
		return New(key, cfg.Endpoint), nil
	})
}

// Compile-time interface check.
var _ provider.Provider = (*Provider)(nil)

// Provider streams from the OpenAI Chat Completions API, re-encoding SDK
// deltas into the shared line-oriented record shape.
type Provider struct {
	client openaisdk.Client
}

// New creates an OpenAI provider. baseURL is optional and mainly useful
// for pointing at a mock server in tests.
func New(apiKey, baseURL string) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Provider{client: openaisdk.NewClient(opts...)}
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) Stream(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
	if req.Model == "" {
		return nil, lecterr.New(lecterr.CodeGenerateRequestInvalid, "model must not be empty")
	}

	params := openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(req.Model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.UserMessage(req.Prompt),
		},
		Temperature: openaisdk.Float(req.Temperature),
	}

	events := make(chan provider.Event, 16)
	go func() {
		defer close(events)

		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if !provider.Emit(ctx, events, provider.Event{Raw: provider.MarshalDelta(choice.Delta.Content)}) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			provider.Emit(ctx, events, provider.Event{Err: lecterr.Wrapf(err, lecterr.CodeGenerateUpstreamFailure, "openai stream")})
			return
		}

		provider.Emit(ctx, events, provider.Event{Raw: provider.MarshalDone(), Done: true})
	}()

	return events, nil
}

func (p *Provider) Close() error { return nil }
