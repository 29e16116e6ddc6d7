// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

// Package index defines the vector index the retrieval core reads and the
// ingestion pipeline writes, plus the backend registry.
package index

import (
	"context"

	"github.com/lectern-dev/lectern/internal/config"
	lecterr "github.com/lectern-dev/lectern/pkg/errors"
)

// Entry is the persisted form of an embedded passage.
type Entry struct {
	ID       string
	Vector   []float32
	Document string
	Metadata map[string]any
}

// Passage is a query result. Distance is the backend's raw distance
// (lower = more similar); it is never normalized into a similarity
// probability.
type Passage struct {
	ID       string
	Content  string
	Metadata map[string]any
	Distance float64
}

// Filter restricts the candidate set by metadata equality before ranking.
// A nil *Filter means "search the entire index".
type Filter struct {
	Key   string
	Value any
}

// LibraryFilter scopes retrieval to a logical collection.
func LibraryFilter(libraryID string) *Filter {
	if libraryID == "" {
		return nil
	}
	return &Filter{Key: "library", Value: libraryID}
}

// Index is a thin client over a similarity-search backend.
type Index interface {
	// Init connects to the named collection, creating it if absent.
	// It is idempotent and safe to call repeatedly.
	Init(ctx context.Context) error
	// Add upserts entries by ID. A partial failure names the entries
	// that failed; callers may retry the failed subset.
	Add(ctx context.Context, entries []Entry) error
	// Query returns up to topK passages ordered by ascending distance.
	Query(ctx context.Context, vector []float32, topK int, filter *Filter) ([]Passage, error)
	// Count returns the number of entries currently indexed.
	Count(ctx context.Context) (int, error)
	// Clear deletes the entire collection and reinitializes it empty.
	// Destructive and irreversible.
	Clear(ctx context.Context) error
	Close() error
}

// Factory creates an Index from configuration.
type Factory func(cfg config.IndexConfig) (Index, error)

var factories = map[string]Factory{}

// Register registers a backend factory under name. Backend packages call
// this from init().
func Register(name string, f Factory) {
	factories[name] = f
}

// New creates the configured index backend.
func New(cfg config.IndexConfig) (Index, error) {
	f, ok := factories[cfg.Backend]
	if !ok {
		return nil, lecterr.Errorf(lecterr.CodeIndexBackendUnsupported,
			"unsupported index backend: %q", cfg.Backend)
	}
	return f(cfg)
}

// Matches reports whether metadata satisfies the filter. A nil filter
// matches everything.
func (f *Filter) Matches(metadata map[string]any) bool {
	if f == nil {
		return true
	}
	return metadata[f.Key] == f.Value
}
