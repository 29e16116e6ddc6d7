// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

// Package sqlitevec is a local vector index backend on SQLite with the
// sqlite-vec extension. It serves single-node deployments that don't run
// a separate index service.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lectern-dev/lectern/internal/config"
	"github.com/lectern-dev/lectern/internal/index"
	lecterr "github.com/lectern-dev/lectern/pkg/errors"
)

func init() {
	sqlite_vec.Auto()

	index.Register("sqlite", func(cfg config.IndexConfig) (index.Index, error) {
		return New(cfg.Path, cfg.Dimensions), nil
	})
}

// Compile-time interface check.
var _ index.Index = (*Index)(nil)

// candidateFactor controls KNN over-fetch when a metadata filter is
// applied: vec0 ranks before the filter runs, so the candidate set must
// be wider than topK to keep enough matching rows.
const candidateFactor = 8

// Index implements index.Index backed by a vec0 virtual table plus a
// companion table holding documents and metadata.
type Index struct {
	path       string
	dimensions int

	mu sync.Mutex
	db *sql.DB
}

// New creates a local index at the given database path. Call Init before
// any other operation.
func New(path string, dimensions int) *Index {
	return &Index{path: path, dimensions: dimensions}
}

// Init opens the database and creates the tables if absent. Idempotent.
func (x *Index) Init(_ context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite3", x.path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return lecterr.Wrapf(err, lecterr.CodeIndexUnavailable, "opening sqlite db %s", x.path)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return lecterr.Wrapf(err, lecterr.CodeIndexUnavailable, "pinging sqlite db %s", x.path)
	}

	if err := migrate(db, x.dimensions); err != nil {
		_ = db.Close()
		return lecterr.Wrapf(err, lecterr.CodeIndexUnavailable, "migrating index tables")
	}

	x.db = db
	return nil
}

func migrate(db *sql.DB, dimensions int) error {
	vecDDL := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS passages_vec USING vec0(id TEXT PRIMARY KEY, embedding float[%d])`,
		dimensions,
	)
	if _, err := db.Exec(vecDDL); err != nil {
		return fmt.Errorf("creating passages_vec virtual table: %w", err)
	}

	const docDDL = `
CREATE TABLE IF NOT EXISTS passages (
	id       TEXT PRIMARY KEY,
	document TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}'
)`
	if _, err := db.Exec(docDDL); err != nil {
		return fmt.Errorf("creating passages table: %w", err)
	}

	return nil
}

func (x *Index) conn() (*sql.DB, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.db == nil {
		return nil, lecterr.New(lecterr.CodeIndexUnavailable, "index not initialized")
	}
	return x.db, nil
}

// Add upserts entries by ID in one transaction, so a file's batch lands
// atomically. On failure the error names the batch's IDs.
func (x *Index) Add(ctx context.Context, entries []index.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	db, err := x.conn()
	if err != nil {
		return err
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}

	fail := func(err error, msg string) error {
		return lecterr.Wrap(err, lecterr.CodeIndexAddFailure, msg,
			lecterr.Field("failed_ids", ids))
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fail(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range entries {
		blob, err := sqlite_vec.SerializeFloat32(e.Vector)
		if err != nil {
			return fail(err, "serializing embedding "+e.ID)
		}

		metaJSON := []byte("{}")
		if len(e.Metadata) > 0 {
			metaJSON, err = json.Marshal(e.Metadata)
			if err != nil {
				return fail(err, "marshalling metadata "+e.ID)
			}
		}

		// vec0 does not support ON CONFLICT; delete first for upsert.
		if _, err := tx.ExecContext(ctx, `DELETE FROM passages_vec WHERE id = ?`, e.ID); err != nil {
			return fail(err, "deleting existing vector "+e.ID)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO passages_vec(id, embedding) VALUES (?, ?)`, e.ID, blob); err != nil {
			return fail(err, "inserting vector "+e.ID)
		}

		const docQ = `INSERT INTO passages(id, document, metadata) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET document = excluded.document, metadata = excluded.metadata`
		if _, err := tx.ExecContext(ctx, docQ, e.ID, e.Document, string(metaJSON)); err != nil {
			return fail(err, "upserting passage "+e.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return fail(err, "committing batch")
	}
	return nil
}

// Query performs a k-nearest-neighbor search, optionally restricted by a
// metadata equality filter, ordered by ascending distance.
func (x *Index) Query(ctx context.Context, vector []float32, topK int, filter *index.Filter) ([]index.Passage, error) {
	db, err := x.conn()
	if err != nil {
		return nil, err
	}

	blob, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return nil, lecterr.Wrapf(err, lecterr.CodeIndexQueryFailure, "serializing query vector")
	}

	q := `SELECT v.id, v.distance, p.document, COALESCE(p.metadata, '{}')
FROM passages_vec v
JOIN passages p ON p.id = v.id
WHERE v.embedding MATCH ? AND k = ?`
	args := []any{blob, topK}

	if filter != nil {
		// vec0 ranks before the filter applies; widen the candidate set.
		args[1] = topK * candidateFactor
		q += ` AND json_extract(p.metadata, '$.' || ?) = ?`
		args = append(args, filter.Key, filter.Value)
	}
	q += ` ORDER BY v.distance LIMIT ?`
	args = append(args, topK)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, lecterr.Wrapf(err, lecterr.CodeIndexQueryFailure, "searching passages")
	}
	defer func() { _ = rows.Close() }()

	var passages []index.Passage
	for rows.Next() {
		var p index.Passage
		var metaStr string
		if err := rows.Scan(&p.ID, &p.Distance, &p.Content, &metaStr); err != nil {
			return nil, lecterr.Wrapf(err, lecterr.CodeIndexQueryFailure, "scanning result row")
		}
		if metaStr != "" && metaStr != "{}" {
			if err := json.Unmarshal([]byte(metaStr), &p.Metadata); err != nil {
				return nil, lecterr.Wrapf(err, lecterr.CodeIndexResponseInvalid, "unmarshalling metadata for %s", p.ID)
			}
		}
		passages = append(passages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, lecterr.Wrapf(err, lecterr.CodeIndexQueryFailure, "iterating results")
	}

	return passages, nil
}

// Count returns the number of indexed passages.
func (x *Index) Count(ctx context.Context) (int, error) {
	db, err := x.conn()
	if err != nil {
		return 0, err
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages`).Scan(&count); err != nil {
		return 0, lecterr.Wrapf(err, lecterr.CodeIndexQueryFailure, "counting passages")
	}
	return count, nil
}

// Clear drops all entries and recreates the tables empty.
func (x *Index) Clear(ctx context.Context) error {
	db, err := x.conn()
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS passages_vec`); err != nil {
		return lecterr.Wrapf(err, lecterr.CodeIndexClearFailure, "dropping vector table")
	}
	if _, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS passages`); err != nil {
		return lecterr.Wrapf(err, lecterr.CodeIndexClearFailure, "dropping passages table")
	}
	if err := migrate(db, x.dimensions); err != nil {
		return lecterr.Wrapf(err, lecterr.CodeIndexClearFailure, "recreating index tables")
	}
	return nil
}

// Close closes the underlying database connection.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.db == nil {
		return nil
	}
	err := x.db.Close()
	x.db = nil
	return err
}
