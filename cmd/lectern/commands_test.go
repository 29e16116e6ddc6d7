// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

// execute runs the root command with a fresh global viper and an
// isolated HOME so config bootstrapping never touches the real one.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	viper.Reset()
	t.Cleanup(viper.Reset)

	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)

	err := root.Execute()
	return buf.String(), err
}

func TestRootCommand_AllSubcommands(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)

	for _, sub := range []string{"serve", "ingest", "ask", "index", "secret", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "lectern")
	assert.Contains(t, out, "dev")
}

func TestAskCommand_Help(t *testing.T) {
	out, err := execute(t, "ask", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "library")
	assert.Contains(t, out, "model")
	assert.Contains(t, out, "plain")
}

func TestSecretSetAndDelete(t *testing.T) {
	keyring.MockInit()

	out, err := execute(t, "secret", "set", "openai", "sk-test")
	require.NoError(t, err)
	assert.Contains(t, out, "Stored API key for openai")

	out, err = execute(t, "secret", "delete", "openai")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted API key for openai")
}

func TestIndexClearRequiresConfirmation(t *testing.T) {
	_, err := execute(t, "index", "clear")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
}

func TestIndexStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/index/stats", r.URL.Path)
		_, _ = w.Write([]byte(`{"passages":42}`))
	}))
	defer srv.Close()

	t.Setenv("LECTERN_SERVER_LISTEN", strings.TrimPrefix(srv.URL, "http://"))

	out, err := execute(t, "index", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Indexed passages: 42")
}

func TestIndexStatsServerNotRunning(t *testing.T) {
	// a port nothing listens on
	t.Setenv("LECTERN_SERVER_LISTEN", "127.0.0.1:1")

	_, err := execute(t, "index", "stats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}

func TestAskPlain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/chat/stream", r.URL.Path)
		_, _ = w.Write([]byte(
			`{"sources":[{"file_name":"doc.md","chunk_index":0,"distance":0.1,"preview":"p"}]}` + "\n" +
				`{"message":{"role":"assistant","content":"<think>hm</think>"},"done":false}` + "\n" +
				`{"message":{"role":"assistant","content":"The answer."},"done":false}` + "\n" +
				`{"done":true}` + "\n"))
	}))
	defer srv.Close()

	t.Setenv("LECTERN_SERVER_LISTEN", strings.TrimPrefix(srv.URL, "http://"))

	out, err := execute(t, "ask", "--plain", "what is it?")
	require.NoError(t, err)
	assert.Contains(t, out, "doc.md")
	assert.Contains(t, out, "The answer.")
	assert.NotContains(t, out, "hm", "reasoning must not leak into plain output")
}

func TestAskMissingQuestion(t *testing.T) {
	_, err := execute(t, "ask")
	require.Error(t, err)
}
