// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

// Package provider streams answers from a text-generation backend as
// line-oriented records ready to forward to the caller verbatim.
package provider

import (
	"context"
	"encoding/json"

	"github.com/lectern-dev/lectern/internal/config"
	lecterr "github.com/lectern-dev/lectern/pkg/errors"
)

// Request is a single generation request.
type Request struct {
	Model       string
	Prompt      string
	Temperature float64
}

// Event is one unit of a generation stream. Raw holds a complete
// line-oriented record to forward to the caller; Done marks the terminal
// record; Err reports an upstream failure, after which no further events
// arrive.
type Event struct {
	Raw  []byte
	Done bool
	Err  error
}

// Provider streams generation output. The returned channel is closed
// after the terminal or error event; cancelling ctx releases the
// upstream connection.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (<-chan Event, error)
	Close() error
}

// Record is the line-oriented record shape shared by all backends: the
// native Ollama chat-stream shape, which SDK-backed providers re-encode
// into.
type Record struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// MarshalDelta encodes an incremental content delta as a Record line.
func MarshalDelta(content string) []byte {
	var rec Record
	rec.Message.Role = "assistant"
	rec.Message.Content = content
	data, _ := json.Marshal(rec)
	return data
}

// MarshalDone encodes the terminal record line.
func MarshalDone() []byte {
	return []byte(`{"done":true}`)
}

// Emit sends ev on events unless ctx is cancelled first. It returns
// false when the consumer is gone; the producer must stop emitting and
// release its upstream resources. Backends use this for every send so
// an abandoned channel can never park the producer goroutine.
func Emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Factory creates a Provider from configuration.
type Factory func(cfg config.GenerationConfig) (Provider, error)

var factories = map[string]Factory{}

// Register registers a backend factory under name. Backend packages call
// this from init().
func Register(name string, f Factory) {
	factories[name] = f
}

// New creates the configured generation backend.
func New(cfg config.GenerationConfig) (Provider, error) {
	f, ok := factories[cfg.Backend]
	if !ok {
		return nil, lecterr.Errorf(lecterr.CodeProviderBackendUnsupported,
			"unsupported generation backend: %q", cfg.Backend)
	}
	return f(cfg)
}
