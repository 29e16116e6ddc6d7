// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

// Package chroma is a minimal REST client to a Chroma vector index
// service. The service stores (vector, document, metadata) triples and
// answers nearest-neighbor queries as parallel arrays, which this client
// normalizes into index.Passage values.
package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lectern-dev/lectern/internal/config"
	"github.com/lectern-dev/lectern/internal/index"
	lecterr "github.com/lectern-dev/lectern/pkg/errors"
)

func init() {
	index.Register("chroma", func(cfg config.IndexConfig) (index.Index, error) {
		return New(cfg.URL, cfg.Collection), nil
	})
}

// Compile-time interface check.
var _ index.Index = (*Index)(nil)

// Index is a collection-scoped Chroma client.
type Index struct {
	url        string
	collection string
	http       *http.Client

	mu           sync.Mutex
	collectionID string
}

// New creates a client for the named collection at url. Call Init before
// any other operation.
func New(url, collection string) *Index {
	return &Index{
		url:        strings.TrimRight(url, "/"),
		collection: collection,
		http:       &http.Client{Timeout: 30 * time.Second},
	}
}

// Init connects to the collection, creating it if absent. get_or_create
// resolves the create race on the server, so concurrent Init calls settle
// on one logical collection.
func (x *Index) Init(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.collectionID != "" {
		return nil
	}

	var resp struct {
		ID string `json:"id"`
	}
	body := map[string]any{
		"name":          x.collection,
		"get_or_create": true,
	}
	if err := x.postJSON(ctx, "/api/v1/collections", body, &resp); err != nil {
		return lecterr.Wrap(err, lecterr.CodeIndexUnavailable, "initializing collection",
			lecterr.FieldCollection(x.collection))
	}
	if resp.ID == "" {
		return lecterr.New(lecterr.CodeIndexResponseInvalid, "collection response carried no id",
			lecterr.FieldCollection(x.collection))
	}

	x.collectionID = resp.ID
	return nil
}

func (x *Index) collectionPath(op string) (string, error) {
	x.mu.Lock()
	id := x.collectionID
	x.mu.Unlock()
	if id == "" {
		return "", lecterr.New(lecterr.CodeIndexUnavailable, "collection not initialized",
			lecterr.FieldCollection(x.collection))
	}
	return fmt.Sprintf("/api/v1/collections/%s/%s", id, op), nil
}

// Add upserts entries by ID in a single call. On rejection the error
// names the batch's IDs so the caller can retry just that subset.
func (x *Index) Add(ctx context.Context, entries []index.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	path, err := x.collectionPath("upsert")
	if err != nil {
		return err
	}

	ids := make([]string, len(entries))
	embeddings := make([][]float32, len(entries))
	documents := make([]string, len(entries))
	metadatas := make([]map[string]any, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
		embeddings[i] = e.Vector
		documents[i] = e.Document
		metadatas[i] = e.Metadata
	}

	body := map[string]any{
		"ids":        ids,
		"embeddings": embeddings,
		"documents":  documents,
		"metadatas":  metadatas,
	}
	if err := x.postJSON(ctx, path, body, nil); err != nil {
		return lecterr.Wrap(err, lecterr.CodeIndexAddFailure, "upserting entries",
			lecterr.FieldCollection(x.collection),
			lecterr.Field("failed_ids", ids))
	}
	return nil
}

// Query returns up to topK passages ordered by ascending distance,
// optionally restricted by a metadata equality filter.
func (x *Index) Query(ctx context.Context, vector []float32, topK int, filter *index.Filter) ([]index.Passage, error) {
	path, err := x.collectionPath("query")
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"query_embeddings": [][]float32{vector},
		"n_results":        topK,
		"include":          []string{"documents", "metadatas", "distances"},
	}
	if filter != nil {
		body["where"] = map[string]any{filter.Key: filter.Value}
	}

	var resp struct {
		IDs       [][]string         `json:"ids"`
		Documents [][]string         `json:"documents"`
		Metadatas [][]map[string]any `json:"metadatas"`
		Distances [][]float64        `json:"distances"`
	}
	if err := x.postJSON(ctx, path, body, &resp); err != nil {
		return nil, lecterr.Wrap(err, lecterr.CodeIndexQueryFailure, "querying collection",
			lecterr.FieldCollection(x.collection))
	}

	if len(resp.IDs) == 0 {
		return nil, nil
	}

	ids := resp.IDs[0]
	passages := make([]index.Passage, 0, len(ids))
	for i, id := range ids {
		p := index.Passage{ID: id}
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) {
			p.Content = resp.Documents[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			p.Metadata = resp.Metadatas[0][i]
		}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			p.Distance = resp.Distances[0][i]
		}
		passages = append(passages, p)
	}
	return passages, nil
}

// Count returns the number of entries in the collection.
func (x *Index) Count(ctx context.Context) (int, error) {
	path, err := x.collectionPath("count")
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, x.url+path, nil)
	if err != nil {
		return 0, lecterr.Wrapf(err, lecterr.CodeIndexQueryFailure, "building count request")
	}

	resp, err := x.http.Do(req)
	if err != nil {
		return 0, lecterr.Wrapf(err, lecterr.CodeIndexUnavailable, "counting collection entries")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, x.statusError(resp)
	}

	var count int
	if err := json.NewDecoder(resp.Body).Decode(&count); err != nil {
		return 0, lecterr.Wrapf(err, lecterr.CodeIndexResponseInvalid, "decoding count response")
	}
	return count, nil
}

// Clear deletes the collection and recreates it empty.
func (x *Index) Clear(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		x.url+"/api/v1/collections/"+x.collection, nil)
	if err != nil {
		return lecterr.Wrapf(err, lecterr.CodeIndexClearFailure, "building delete request")
	}

	resp, err := x.http.Do(req)
	if err != nil {
		return lecterr.Wrapf(err, lecterr.CodeIndexClearFailure, "deleting collection")
	}
	_ = resp.Body.Close()

	// 404 means the collection was already gone; recreate regardless.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return lecterr.Errorf(lecterr.CodeIndexClearFailure,
			"deleting collection %s: status %d", x.collection, resp.StatusCode)
	}

	x.mu.Lock()
	x.collectionID = ""
	x.mu.Unlock()

	return x.Init(ctx)
}

func (x *Index) Close() error {
	x.http.CloseIdleConnections()
	return nil
}

func (x *Index) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.url+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := x.http.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return x.statusError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func (x *Index) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("chroma returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
