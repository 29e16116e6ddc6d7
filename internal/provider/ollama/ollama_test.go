// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

package ollama_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/lectern-dev/lectern/internal/provider"
	"github.com/lectern-dev/lectern/internal/provider/ollama"
	lecterr "github.com/lectern-dev/lectern/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, events <-chan provider.Event) (lines []string, done bool, err error) {
	t.Helper()
	for ev := range events {
		if ev.Err != nil {
			return lines, done, ev.Err
		}
		lines = append(lines, string(ev.Raw))
		if ev.Done {
			done = true
		}
	}
	return lines, done, nil
}

func TestStreamForwardsLinesVerbatim(t *testing.T) {
	upstream := []string{
		`{"message":{"role":"assistant","content":"<think>hm"},"done":false}`,
		`{"message":{"role":"assistant","content":"</think>hello"},"done":false}`,
		`{"done":true,"total_duration":12345}`,
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var req struct {
			Model    string `json:"model"`
			Stream   bool   `json:"stream"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			Options struct {
				Temperature float64 `json:"temperature"`
			} `json:"options"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "deepseek-r1:8b", req.Model)
		assert.True(t, req.Stream)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.InDelta(t, 0.3, req.Options.Temperature, 1e-9)

		for _, line := range upstream {
			fmt.Fprintln(w, line)
		}
	}))
	defer srv.Close()

	p := ollama.New(srv.URL)
	events, err := p.Stream(context.Background(), provider.Request{
		Model:       "deepseek-r1:8b",
		Prompt:      "question",
		Temperature: 0.3,
	})
	require.NoError(t, err)

	lines, done, err := collect(t, events)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, upstream, lines, "records must pass through byte-for-byte")
}

func TestStreamHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := ollama.New(srv.URL)
	_, err := p.Stream(context.Background(), provider.Request{Model: "m", Prompt: "q"})
	require.Error(t, err)
	assert.Equal(t, lecterr.CodeGenerateUpstreamFailure, lecterr.CodeOf(err))
}

func TestStreamSynthesizesTerminalRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// upstream ends without a done record
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"partial"},"done":false}`)
	}))
	defer srv.Close()

	p := ollama.New(srv.URL)
	events, err := p.Stream(context.Background(), provider.Request{Model: "m", Prompt: "q"})
	require.NoError(t, err)

	lines, done, err := collect(t, events)
	require.NoError(t, err)
	assert.True(t, done, "consumer must always observe a terminal record")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"done":true}`, lines[1])
}

func TestStreamSkipsBlankLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"a"},"done":false}`)
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, `{"done":true}`)
	}))
	defer srv.Close()

	p := ollama.New(srv.URL)
	events, err := p.Stream(context.Background(), provider.Request{Model: "m", Prompt: "q"})
	require.NoError(t, err)

	lines, done, err := collect(t, events)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Len(t, lines, 2)
}

func TestStreamCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"a"},"done":false}`)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	p := ollama.New(srv.URL)
	events, err := p.Stream(ctx, provider.Request{Model: "m", Prompt: "q"})
	require.NoError(t, err)

	// first event arrives, then we abort mid-stream
	first := <-events
	require.NoError(t, first.Err)
	cancel()

	// the channel must terminate rather than hang
	for range events {
	}
}

func TestStreamAbandonedConsumerReleasesGoroutine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// far more records than the event buffer holds, so the
		// forwarding goroutine ends up blocked on a channel send
		for i := 0; i < 500; i++ {
			fmt.Fprintln(w, `{"message":{"role":"assistant","content":"token"},"done":false}`)
		}
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}))
	defer srv.Close()

	before := runtime.NumGoroutine()

	ctx, cancel := context.WithCancel(context.Background())
	p := ollama.New(srv.URL)
	events, err := p.Stream(ctx, provider.Request{Model: "m", Prompt: "q"})
	require.NoError(t, err)

	// read one event, then walk away without draining the channel
	first := <-events
	require.NoError(t, first.Err)
	cancel()

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, 2*time.Second, 10*time.Millisecond,
		"forwarding goroutine must exit when the consumer stops reading")
}
