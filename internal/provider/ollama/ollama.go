// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/lectern-dev/lectern/internal/config"
	"github.com/lectern-dev/lectern/internal/provider"
	lecterr "github.com/lectern-dev/lectern/pkg/errors"
)

func init() {
	provider.Register("ollama", func(cfg config.GenerationConfig) (provider.Provider, error) {
		return New(cfg.Endpoint), nil
	})
}

// Compile-time interface check.
var _ provider.Provider = (*Provider)(nil)

// Provider streams from an Ollama chat endpoint. Upstream records are
// already line-oriented JSON, so they are forwarded byte-for-byte.
type Provider struct {
	endpoint string
	http     *http.Client
}

// New creates a provider for the given endpoint. No timeout is set on
// the client: generation streams are long-lived and bounded by ctx.
func New(endpoint string) *Provider {
	return &Provider{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{},
	}
}

func (p *Provider) Name() string { return "ollama" }

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
}

// Stream opens the generation stream and forwards each upstream line as
// an Event. The channel closes after the terminal record, an error, or
// ctx cancellation.
func (p *Provider) Stream(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
	payload, err := json.Marshal(chatRequest{
		Model:    req.Model,
		Messages: []chatMessage{{Role: "user", Content: req.Prompt}},
		Stream:   true,
		Options:  chatOptions{Temperature: req.Temperature},
	})
	if err != nil {
		return nil, lecterr.Wrapf(err, lecterr.CodeGenerateRequestInvalid, "encoding chat request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, lecterr.Wrapf(err, lecterr.CodeGenerateRequestInvalid, "building chat request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return nil, lecterr.Wrapf(err, lecterr.CodeGenerateUpstreamFailure, "calling generation endpoint")
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, lecterr.Errorf(lecterr.CodeGenerateUpstreamFailure,
			"generation endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	events := make(chan provider.Event, 16)
	go p.forward(ctx, resp.Body, events)
	return events, nil
}

// forward copies upstream lines into events, watching for the terminal
// record. The response body is closed when the stream ends, fails, or
// the request context is cancelled; cancellation also unblocks any
// pending channel send, so an abandoned consumer never strands this
// goroutine.
func (p *Provider) forward(ctx context.Context, body io.ReadCloser, events chan<- provider.Event) {
	defer close(events)
	defer func() { _ = body.Close() }()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		raw := make([]byte, len(line))
		copy(raw, line)

		var rec struct {
			Done bool `json:"done"`
		}
		done := json.Unmarshal(raw, &rec) == nil && rec.Done

		if !provider.Emit(ctx, events, provider.Event{Raw: raw, Done: done}) || done {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		provider.Emit(ctx, events, provider.Event{Err: lecterr.Wrapf(err, lecterr.CodeGenerateUpstreamFailure, "reading generation stream")})
		return
	}

	// Upstream closed without a terminal record; synthesize one so the
	// consumer never hangs waiting for done.
	provider.Emit(ctx, events, provider.Event{Raw: provider.MarshalDone(), Done: true})
}

func (p *Provider) Close() error {
	p.http.CloseIdleConnections()
	return nil
}
