// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

// Package stream implements both ends of the line-oriented answer
// protocol: the server-side writer that prepends a sources frame to a
// generation stream, and the client-side scanner that splits the stream
// back into sources, thinking, and answer content.
package stream

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/lectern-dev/lectern/internal/retrieval"
	lecterr "github.com/lectern-dev/lectern/pkg/errors"
)

type writerState int

const (
	stateEmitSources writerState = iota
	stateForwardTokens
	stateClosed
)

// Writer emits the outbound answer stream. The protocol is strict:
// exactly one sources frame first, then zero or more forwarded
// generation records, then close. Calls out of order fail rather than
// corrupt the stream.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
	state   writerState
}

// NewWriter wraps w. If w also implements http.Flusher, every frame is
// flushed as it is written so the caller sees tokens as they arrive.
func NewWriter(w io.Writer) *Writer {
	sw := &Writer{w: w}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

type sourcesFrame struct {
	Sources []retrieval.SourceSummary `json:"sources"`
}

// WriteSources emits the one-time sources frame and flushes it before
// any token can follow. Must be the first write on the stream.
func (sw *Writer) WriteSources(sources []retrieval.SourceSummary) error {
	if sw.state != stateEmitSources {
		return lecterr.New(lecterr.CodeStreamStateInvalid, "sources frame already emitted")
	}

	if sources == nil {
		sources = []retrieval.SourceSummary{}
	}
	data, err := json.Marshal(sourcesFrame{Sources: sources})
	if err != nil {
		return lecterr.Wrapf(err, lecterr.CodeStreamFrameInvalid, "encoding sources frame")
	}

	if err := sw.writeLine(data); err != nil {
		return err
	}
	sw.state = stateForwardTokens
	return nil
}

// Forward writes one generation record verbatim. raw must be a single
// complete record without a trailing newline.
func (sw *Writer) Forward(raw []byte) error {
	if sw.state != stateForwardTokens {
		return lecterr.New(lecterr.CodeStreamStateInvalid, "forwarding before sources frame or after close")
	}
	return sw.writeLine(raw)
}

// WriteError emits a terminal error record so the caller's scanner can
// surface the failure instead of hanging. Valid only after the sources
// frame.
func (sw *Writer) WriteError(msg string) error {
	if sw.state != stateForwardTokens {
		return lecterr.New(lecterr.CodeStreamStateInvalid, "error frame before sources frame or after close")
	}
	data, err := json.Marshal(struct {
		Error string `json:"error"`
		Done  bool   `json:"done"`
	}{Error: msg, Done: true})
	if err != nil {
		return lecterr.Wrapf(err, lecterr.CodeStreamFrameInvalid, "encoding error frame")
	}
	return sw.writeLine(data)
}

// Close marks the stream finished. Safe to call more than once.
func (sw *Writer) Close() error {
	sw.state = stateClosed
	return nil
}

func (sw *Writer) writeLine(data []byte) error {
	if _, err := sw.w.Write(append(data, '\n')); err != nil {
		return lecterr.Wrapf(err, lecterr.CodeStreamWriteFailure, "writing stream frame")
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}
