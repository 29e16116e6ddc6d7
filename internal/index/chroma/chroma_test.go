// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

package chroma_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/lectern-dev/lectern/internal/index"
	"github.com/lectern-dev/lectern/internal/index/chroma"
	lecterr "github.com/lectern-dev/lectern/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChroma is an in-memory stand-in for the Chroma REST API, close
// enough for client behavior tests: get_or_create collections, upsert,
// query with parallel-array responses, count, delete.
type fakeChroma struct {
	mu      sync.Mutex
	creates int
	entries map[string]storedEntry
	// canned query response, returned verbatim
	queryResp map[string]any
	lastWhere map[string]any
}

type storedEntry struct {
	document string
	metadata map[string]any
}

func newFakeChroma() *fakeChroma {
	return &fakeChroma{entries: map[string]storedEntry{}}
}

func (f *fakeChroma) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/collections", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.creates++
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "col-1"})
	})

	mux.HandleFunc("POST /api/v1/collections/col-1/upsert", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			IDs       []string         `json:"ids"`
			Documents []string         `json:"documents"`
			Metadatas []map[string]any `json:"metadatas"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		f.mu.Lock()
		for i, id := range req.IDs {
			f.entries[id] = storedEntry{document: req.Documents[i], metadata: req.Metadatas[i]}
		}
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /api/v1/collections/col-1/query", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Where map[string]any `json:"where"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.lastWhere = req.Where
		resp := f.queryResp
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("GET /api/v1/collections/col-1/count", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		n := len(f.entries)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(n)
	})

	mux.HandleFunc("DELETE /api/v1/collections/documents", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.entries = map[string]storedEntry{}
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

func newTestIndex(t *testing.T, fake *fakeChroma) *chroma.Index {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	idx := chroma.New(srv.URL, "documents")
	require.NoError(t, idx.Init(context.Background()))
	return idx
}

func TestInitIsIdempotent(t *testing.T) {
	fake := newFakeChroma()
	idx := newTestIndex(t, fake)

	require.NoError(t, idx.Init(context.Background()))
	require.NoError(t, idx.Init(context.Background()))

	// only the first Init hits the service
	assert.Equal(t, 1, fake.creates)
}

func TestAddUpsertsByID(t *testing.T) {
	fake := newFakeChroma()
	idx := newTestIndex(t, fake)
	ctx := context.Background()

	entries := []index.Entry{
		{ID: "a.txt:0", Vector: []float32{1, 0}, Document: "first passage text", Metadata: map[string]any{"library": "notes"}},
		{ID: "a.txt:1", Vector: []float32{0, 1}, Document: "second passage text", Metadata: map[string]any{"library": "notes"}},
	}
	require.NoError(t, idx.Add(ctx, entries))
	require.NoError(t, idx.Add(ctx, entries)) // same IDs again

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "re-adding identical IDs must not duplicate")
}

func TestQueryNormalizesParallelArrays(t *testing.T) {
	fake := newFakeChroma()
	fake.queryResp = map[string]any{
		"ids":       [][]string{{"a.txt:0", "b.txt:2"}},
		"documents": [][]string{{"alpha passage", "beta passage"}},
		"metadatas": [][]map[string]any{{
			{"file_name": "a.txt", "chunk_index": float64(0)},
			{"file_name": "b.txt", "chunk_index": float64(2)},
		}},
		"distances": [][]float64{{0.12, 0.48}},
	}
	idx := newTestIndex(t, fake)

	passages, err := idx.Query(context.Background(), []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, passages, 2)

	assert.Equal(t, "a.txt:0", passages[0].ID)
	assert.Equal(t, "alpha passage", passages[0].Content)
	assert.Equal(t, "a.txt", passages[0].Metadata["file_name"])
	assert.InDelta(t, 0.12, passages[0].Distance, 1e-9)
	assert.LessOrEqual(t, passages[0].Distance, passages[1].Distance)
}

func TestQueryPassesScopeFilter(t *testing.T) {
	fake := newFakeChroma()
	fake.queryResp = map[string]any{"ids": [][]string{{}}}
	idx := newTestIndex(t, fake)

	_, err := idx.Query(context.Background(), []float32{1}, 4, index.LibraryFilter("contracts"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"library": "contracts"}, fake.lastWhere)

	_, err = idx.Query(context.Background(), []float32{1}, 4, nil)
	require.NoError(t, err)
	assert.Nil(t, fake.lastWhere)
}

func TestQueryEmptyIndex(t *testing.T) {
	fake := newFakeChroma()
	fake.queryResp = map[string]any{
		"ids":       [][]string{{}},
		"documents": [][]string{{}},
		"metadatas": [][]map[string]any{{}},
		"distances": [][]float64{{}},
	}
	idx := newTestIndex(t, fake)

	passages, err := idx.Query(context.Background(), []float32{1, 0}, 4, nil)
	require.NoError(t, err)
	assert.Empty(t, passages)
}

func TestClearDeletesAndRecreates(t *testing.T) {
	fake := newFakeChroma()
	idx := newTestIndex(t, fake)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, []index.Entry{
		{ID: "x:0", Vector: []float32{1}, Document: "some passage text"},
	}))

	require.NoError(t, idx.Clear(ctx))

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	// Clear re-initializes the collection
	assert.Equal(t, 2, fake.creates)
}

func TestAddErrorNamesFailedIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/collections" {
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "col-1"})
			return
		}
		http.Error(w, "quota exceeded", http.StatusInsufficientStorage)
	}))
	defer srv.Close()

	idx := chroma.New(srv.URL, "documents")
	ctx := context.Background()
	require.NoError(t, idx.Init(ctx))

	err := idx.Add(ctx, []index.Entry{{ID: "a:0", Vector: []float32{1}}})
	require.Error(t, err)
	assert.Equal(t, lecterr.CodeIndexAddFailure, lecterr.CodeOf(err))
	assert.Equal(t, []string{"a:0"}, lecterr.FieldsOf(err)["failed_ids"])
}

func TestOperationsBeforeInit(t *testing.T) {
	idx := chroma.New("http://localhost:0", "documents")

	_, err := idx.Query(context.Background(), []float32{1}, 4, nil)
	require.Error(t, err)
	assert.Equal(t, lecterr.CodeIndexUnavailable, lecterr.CodeOf(err))
}

func TestInitUnreachableService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	idx := chroma.New(srv.URL, "documents")
	err := idx.Init(context.Background())
	require.Error(t, err)
	assert.Equal(t, lecterr.CodeIndexUnavailable, lecterr.CodeOf(err))
}
