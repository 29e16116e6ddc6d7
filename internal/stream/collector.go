// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

package stream

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"

	lecterr "github.com/lectern-dev/lectern/pkg/errors"
)

// Collector is the non-interactive counterpart to Scanner, for callers
// that prompt the model for a single JSON document rather than prose:
// scripts and services driving the chat stream endpoint for structured
// extraction, where rendering deltas has no value. Parsing is deferred
// until the stream ends because a partial JSON prefix cannot be
// validated incrementally.
type Collector struct {
	rawTail []byte
	buf     strings.Builder
	done    bool
	err     error
	logger  *slog.Logger
}

// NewCollector creates a collector. A nil logger falls back to
// slog.Default().
func NewCollector(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{logger: logger}
}

// Feed consumes one transport chunk, carrying incomplete lines over to
// the next call the same way Scanner does.
func (c *Collector) Feed(chunk []byte) error {
	if c.done {
		return c.err
	}

	data := append(c.rawTail, chunk...)
	for !c.done {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		c.processLine(data[:idx])
		data = data[idx+1:]
	}
	c.rawTail = append([]byte(nil), data...)
	return c.err
}

func (c *Collector) processLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		c.logger.Warn("skipping malformed stream record", "error", err)
		return
	}

	if rec.Sources != nil {
		return
	}
	if rec.Error != "" {
		c.err = lecterr.Errorf(lecterr.CodeGenerateUpstreamFailure, "generation failed: %s", rec.Error)
		c.done = true
		return
	}

	c.buf.WriteString(rec.Message.Content)
	if rec.Done {
		c.done = true
	}
}

// Finish marks the stream ended, processing any final unterminated
// line. Idempotent.
func (c *Collector) Finish() error {
	if c.done {
		return c.err
	}
	if len(bytes.TrimSpace(c.rawTail)) > 0 {
		c.processLine(c.rawTail)
	}
	c.rawTail = nil
	c.done = true
	return c.err
}

// Result parses the accumulated output, after stripping any thinking
// block, into v. Only valid once the stream has ended.
func (c *Collector) Result(v any) error {
	if !c.done {
		return lecterr.New(lecterr.CodeStreamStateInvalid, "result requested before end of stream")
	}
	if c.err != nil {
		return c.err
	}

	text := strings.TrimSpace(StripThinking(c.buf.String()))
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return lecterr.Wrapf(err, lecterr.CodeStreamPayloadInvalid, "generation output is not valid JSON")
	}
	return nil
}

// StripThinking removes delimited thinking blocks from text. An opening
// tag with no matching close swallows the rest of the text, matching
// how the scanner classifies an unterminated block.
func StripThinking(text string) string {
	var out strings.Builder
	for {
		start := strings.Index(text, openTag)
		if start < 0 {
			out.WriteString(text)
			return out.String()
		}
		out.WriteString(text[:start])
		rest := text[start+len(openTag):]
		end := strings.Index(rest, closeTag)
		if end < 0 {
			return out.String()
		}
		text = rest[end+len(closeTag):]
	}
}
