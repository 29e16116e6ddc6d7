// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

package anthropic

import (
	"context"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lectern-dev/lectern/internal/config"
	"github.com/lectern-dev/lectern/internal/provider"
	"github.com/lectern-dev/lectern/internal/secrets"
	lecterr "github.com/lectern-dev/lectern/pkg/errors"
)

func init() {
	provider.Register("anthropic", func(cfg config.GenerationConfig) (provider.Provider, error) {
		key, err := secrets.Resolve("anthropic")
		if err != nil {
			return nil, err
		}
		return New(key, cfg.Endpoint), nil
	})
}

// Compile-time interface check.
var _ provider.Provider = (*Provider)(nil)

// maxOutputTokens bounds a single answer; generous enough for long
// grounded answers plus the reasoning block.
const maxOutputTokens = 4096

// Provider streams from the Anthropic Messages API. Native thinking
// deltas are re-encoded inside <think> tags so the outbound record
// stream looks the same regardless of backend.
type Provider struct {
	client anthropicsdk.Client
}

// New creates an Anthropic provider. baseURL is optional and mainly
// useful for pointing at a mock server in tests.
func New(apiKey, baseURL string) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Provider{client: anthropicsdk.NewClient(opts...)}
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) Stream(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
	if req.Model == "" {
		return nil, lecterr.New(lecterr.CodeGenerateRequestInvalid, "model must not be empty")
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(req.Model),
		MaxTokens: maxOutputTokens,
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(req.Prompt)),
		},
		Temperature: anthropicsdk.Float(req.Temperature),
	}

	events := make(chan provider.Event, 16)
	go p.stream(ctx, params, events)
	return events, nil
}

func (p *Provider) stream(ctx context.Context, params anthropicsdk.MessageNewParams, events chan<- provider.Event) {
	defer close(events)

	stream := p.client.Messages.NewStreaming(ctx, params)

	thinkingOpen := false
	for stream.Next() {
		event := stream.Current()
		if event.Type != "content_block_delta" {
			continue
		}

		switch event.Delta.Type {
		case "thinking_delta":
			if !thinkingOpen {
				if !provider.Emit(ctx, events, provider.Event{Raw: provider.MarshalDelta("<think>")}) {
					return
				}
				thinkingOpen = true
			}
			if !provider.Emit(ctx, events, provider.Event{Raw: provider.MarshalDelta(event.Delta.Thinking)}) {
				return
			}

		case "text_delta":
			if thinkingOpen {
				if !provider.Emit(ctx, events, provider.Event{Raw: provider.MarshalDelta("</think>")}) {
					return
				}
				thinkingOpen = false
			}
			if !provider.Emit(ctx, events, provider.Event{Raw: provider.MarshalDelta(event.Delta.Text)}) {
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		provider.Emit(ctx, events, provider.Event{Err: lecterr.Wrapf(err, lecterr.CodeGenerateUpstreamFailure, "anthropic stream")})
		return
	}

	if thinkingOpen && !provider.Emit(ctx, events, provider.Event{Raw: provider.MarshalDelta("</think>")}) {
		return
	}
	provider.Emit(ctx, events, provider.Event{Raw: provider.MarshalDone(), Done: true})
}

func (p *Provider) Close() error { return nil }
