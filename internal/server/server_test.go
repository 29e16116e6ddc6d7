// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectern-dev/lectern/internal/chunker"
	"github.com/lectern-dev/lectern/internal/config"
	"github.com/lectern-dev/lectern/internal/index"
	"github.com/lectern-dev/lectern/internal/ingest"
	"github.com/lectern-dev/lectern/internal/provider"
	"github.com/lectern-dev/lectern/internal/retrieval"
	"github.com/lectern-dev/lectern/internal/server"
	"github.com/lectern-dev/lectern/internal/stream"
	lecterr "github.com/lectern-dev/lectern/pkg/errors"
)

type stubEmbedder struct {
	err error
}

func (e *stubEmbedder) Name() string { return "stub" }

func (e *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text)), 1, 0}, nil
}

func (e *stubEmbedder) Dimensions() int { return 3 }

type memIndex struct {
	entries map[string]index.Entry
}

func newMemIndex() *memIndex { return &memIndex{entries: map[string]index.Entry{}} }

func (m *memIndex) Init(context.Context) error { return nil }

func (m *memIndex) Add(_ context.Context, entries []index.Entry) error {
	for _, e := range entries {
		m.entries[e.ID] = e
	}
	return nil
}

func (m *memIndex) Query(_ context.Context, _ []float32, topK int, scope *index.Filter) ([]index.Passage, error) {
	var out []index.Passage
	for _, e := range m.entries {
		if !scope.Matches(e.Metadata) {
			continue
		}
		out = append(out, index.Passage{ID: e.ID, Content: e.Document, Metadata: e.Metadata, Distance: 0.1})
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

func (m *memIndex) Count(context.Context) (int, error) { return len(m.entries), nil }

func (m *memIndex) Clear(context.Context) error {
	m.entries = map[string]index.Entry{}
	return nil
}

func (m *memIndex) Close() error { return nil }

type stubProvider struct {
	records [][]byte
	err     error
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Stream(context.Context, provider.Request) (<-chan provider.Event, error) {
	events := make(chan provider.Event, len(p.records)+1)
	for _, rec := range p.records {
		events <- provider.Event{Raw: rec, Done: bytes.Contains(rec, []byte(`"done":true`))}
	}
	if p.err != nil {
		events <- provider.Event{Err: p.err}
	}
	close(events)
	return events, nil
}

func (p *stubProvider) Close() error { return nil }

func newTestServer(t *testing.T, emb *stubEmbedder, idx index.Index, prov provider.Provider) *server.Server {
	t.Helper()

	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"}, nil)
	require.NoError(t, err)

	ck := chunker.New(200, 20)
	srv.RegisterServices(&server.Services{
		Retriever:  retrieval.New(emb, idx, 4),
		Provider:   prov,
		Pipeline:   ingest.New(ck, emb, idx, 2, nil),
		Index:      idx,
		Generation: config.GenerationConfig{Model: "test-model", Temperature: 0.3},
		IngestDir:  t.TempDir(),
	})
	return srv
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &stubEmbedder{}, newMemIndex(), &stubProvider{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func askBody(t *testing.T, question, library string) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(server.AskRequest{Question: question, Library: library})
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func TestChatStreamHappyPath(t *testing.T) {
	idx := newMemIndex()
	require.NoError(t, idx.Add(context.Background(), []index.Entry{{
		ID:       "doc.md:0",
		Vector:   []float32{1, 0, 0},
		Document: "The library opens at 8am.",
		Metadata: map[string]any{"file_name": "doc.md", "chunk_index": 0},
	}}))

	prov := &stubProvider{records: [][]byte{
		provider.MarshalDelta("<think>checking</think>"),
		provider.MarshalDelta("Opens at 8am."),
		provider.MarshalDone(),
	}}
	srv := newTestServer(t, &stubEmbedder{}, idx, prov)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", askBody(t, "When does it open?", "")))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	sc := stream.NewScanner(nil, nil)
	require.NoError(t, sc.Feed(rec.Body.Bytes()))
	require.NoError(t, sc.Finish())

	require.Len(t, sc.Sources(), 1)
	assert.Equal(t, "doc.md", sc.Sources()[0].FileName)
	assert.Equal(t, "checking", sc.Thinking())
	assert.Equal(t, "Opens at 8am.", sc.Answer())
	assert.True(t, sc.Done())

	// the sources frame is the first line on the wire
	firstLine, _, _ := strings.Cut(rec.Body.String(), "\n")
	assert.Contains(t, firstLine, `"sources"`)
}

func TestChatStreamEmptyRetrieval(t *testing.T) {
	srv := newTestServer(t, &stubEmbedder{}, newMemIndex(), &stubProvider{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", askBody(t, "anything", "")))

	require.Equal(t, http.StatusOK, rec.Code)

	sc := stream.NewScanner(nil, nil)
	require.NoError(t, sc.Feed(rec.Body.Bytes()))
	require.NoError(t, sc.Finish())

	assert.Empty(t, sc.Sources())
	assert.Equal(t, retrieval.NoContextAnswer, sc.Answer())
	assert.True(t, sc.Done())
}

func TestChatStreamMissingQuestion(t *testing.T) {
	srv := newTestServer(t, &stubEmbedder{}, newMemIndex(), &stubProvider{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", askBody(t, "", "")))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestChatStreamRetrievalFailure(t *testing.T) {
	emb := &stubEmbedder{err: lecterr.New(lecterr.CodeEmbedUpstreamFailure, "embedding service down")}
	srv := newTestServer(t, emb, newMemIndex(), &stubProvider{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", askBody(t, "q", "")))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "embedding service down")
}

func TestChatStreamUpstreamErrorMidStream(t *testing.T) {
	idx := newMemIndex()
	require.NoError(t, idx.Add(context.Background(), []index.Entry{{
		ID: "a:0", Vector: []float32{1, 0, 0}, Document: "text",
		Metadata: map[string]any{"file_name": "a", "chunk_index": 0},
	}}))

	prov := &stubProvider{
		records: [][]byte{provider.MarshalDelta("part")},
		err:     lecterr.New(lecterr.CodeGenerateUpstreamFailure, "model crashed"),
	}
	srv := newTestServer(t, &stubEmbedder{}, idx, prov)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", askBody(t, "q", "")))

	require.Equal(t, http.StatusOK, rec.Code)

	sc := stream.NewScanner(nil, nil)
	err := sc.Feed(rec.Body.Bytes())
	require.Error(t, err)
	assert.Equal(t, lecterr.CodeGenerateUpstreamFailure, lecterr.CodeOf(err))
	assert.True(t, sc.Done())
}

func TestChatStreamLibraryScope(t *testing.T) {
	idx := newMemIndex()
	require.NoError(t, idx.Add(context.Background(), []index.Entry{
		{ID: "a:0", Vector: []float32{1, 0, 0}, Document: "in scope",
			Metadata: map[string]any{"file_name": "a", "chunk_index": 0, "library": "manuals"}},
		{ID: "b:0", Vector: []float32{1, 0, 0}, Document: "out of scope",
			Metadata: map[string]any{"file_name": "b", "chunk_index": 0, "library": "blog"}},
	}))

	prov := &stubProvider{records: [][]byte{provider.MarshalDelta("ok"), provider.MarshalDone()}}
	srv := newTestServer(t, &stubEmbedder{}, idx, prov)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", askBody(t, "q", "manuals")))

	require.Equal(t, http.StatusOK, rec.Code)

	sc := stream.NewScanner(nil, nil)
	require.NoError(t, sc.Feed(rec.Body.Bytes()))
	require.Len(t, sc.Sources(), 1)
	assert.Equal(t, "a", sc.Sources()[0].FileName)
}

func TestIngestEndpoint(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("One sentence here. Another one follows."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.pdf"), []byte("binary"), 0o644))

	idx := newMemIndex()
	srv := newTestServer(t, &stubEmbedder{}, idx, &stubProvider{})

	body, err := json.Marshal(map[string]string{"path": dir})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report ingest.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.FilesProcessed)
	assert.Equal(t, 1, report.FilesSkipped)
	assert.Positive(t, report.ChunksWritten)
}

func TestIngestEndpointFileList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.md")
	require.NoError(t, os.WriteFile(path, []byte("A fresh upload. It has two sentences."), 0o644))

	idx := newMemIndex()
	srv := newTestServer(t, &stubEmbedder{}, idx, &stubProvider{})

	body, err := json.Marshal(map[string]any{"files": []string{path}})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report ingest.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.FilesProcessed)
	assert.NotEmpty(t, idx.entries)
}

func TestIndexStatsAndClear(t *testing.T) {
	idx := newMemIndex()
	require.NoError(t, idx.Add(context.Background(), []index.Entry{
		{ID: "a:0", Vector: []float32{1, 0, 0}, Document: "d", Metadata: map[string]any{}},
	}))
	srv := newTestServer(t, &stubEmbedder{}, idx, &stubProvider{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/index/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"passages":1`)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/index", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/index/stats", nil))
	assert.Contains(t, rec.Body.String(), `"passages":0`)
}

func TestNewRequiresListenAddr(t *testing.T) {
	_, err := server.New(server.Config{}, nil)
	require.Error(t, err)
}
