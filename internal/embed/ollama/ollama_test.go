// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lectern-dev/lectern/internal/embed/ollama"
	lecterr "github.com/lectern-dev/lectern/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/embeddings", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mxbai-embed-large", req["model"])
		assert.Equal(t, "hello world", req["prompt"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"embedding": []float32{0.1, 0.2, 0.3},
		})
	}))
	defer srv.Close()

	c := ollama.New(srv.URL, "mxbai-embed-large", 0)
	vec, err := c.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, 3, c.Dimensions())
}

func TestEmbedUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := ollama.New(srv.URL, "missing-model", 0)
	_, err := c.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, lecterr.CodeEmbedUpstreamFailure, lecterr.CodeOf(err))
	assert.True(t, lecterr.IsUpstreamFailure(err))
}

func TestEmbedConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // immediately closed: dial fails

	c := ollama.New(srv.URL, "m", 0)
	_, err := c.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, lecterr.CodeEmbedUpstreamFailure, lecterr.CodeOf(err))
}

func TestEmbedMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"embedding": []}`))
	}))
	defer srv.Close()

	c := ollama.New(srv.URL, "m", 0)
	_, err := c.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, lecterr.CodeEmbedResponseInvalid, lecterr.CodeOf(err))
}

func TestEmbedEmptyInput(t *testing.T) {
	c := ollama.New("http://localhost:0", "m", 0)
	_, err := c.Embed(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, lecterr.CodeEmbedRequestInvalid, lecterr.CodeOf(err))
}
