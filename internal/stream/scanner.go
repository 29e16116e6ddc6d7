// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

package stream

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/lectern-dev/lectern/internal/retrieval"
	lecterr "github.com/lectern-dev/lectern/pkg/errors"
)

const (
	openTag  = "<think>"
	closeTag = "</think>"
)

// cancelledMarker is appended to the answer when the caller aborts the
// stream, so a partial answer is never mistaken for a complete one.
const cancelledMarker = "\n[cancelled]"

// TagScanner splits a stream of text deltas into thinking and answer
// content. Deltas may split the delimiter tags at any byte boundary; a
// suffix that could still become a tag is held back until the next
// delta disambiguates it.
type TagScanner struct {
	inside   bool
	complete bool
	pending  string
	think    strings.Builder
	answer   strings.Builder
}

// Feed consumes one delta. A single delta may close one thinking block
// and open another, so consumption loops until nothing is left.
func (ts *TagScanner) Feed(delta string) {
	s := ts.pending + delta
	ts.pending = ""

	for s != "" {
		if ts.inside {
			if idx := strings.Index(s, closeTag); idx >= 0 {
				ts.think.WriteString(s[:idx])
				ts.inside = false
				ts.complete = true
				s = s[idx+len(closeTag):]
				continue
			}
			held := tagPrefixSuffix(s, closeTag)
			ts.think.WriteString(s[:len(s)-len(held)])
			ts.pending = held
			return
		}

		if idx := strings.Index(s, openTag); idx >= 0 {
			ts.answer.WriteString(s[:idx])
			ts.inside = true
			s = s[idx+len(openTag):]
			continue
		}
		held := tagPrefixSuffix(s, openTag)
		ts.answer.WriteString(s[:len(s)-len(held)])
		ts.pending = held
		return
	}
}

// Flush releases any held-back tag fragment into the current buffer and
// marks thinking complete. Called at end of stream: a fragment that
// never completed into a tag was ordinary text all along.
func (ts *TagScanner) Flush() {
	if ts.pending != "" {
		if ts.inside {
			ts.think.WriteString(ts.pending)
		} else {
			ts.answer.WriteString(ts.pending)
		}
		ts.pending = ""
	}
	ts.complete = true
}

func (ts *TagScanner) Thinking() string { return ts.think.String() }

func (ts *TagScanner) Answer() string { return ts.answer.String() }

// ThinkingComplete reports whether a closing tag has been observed or
// the stream has ended.
func (ts *TagScanner) ThinkingComplete() bool { return ts.complete }

func (ts *TagScanner) appendAnswer(text string) {
	ts.answer.WriteString(text)
}

// tagPrefixSuffix returns the longest suffix of s that is a proper
// prefix of tag, or "" if there is none.
func tagPrefixSuffix(s, tag string) string {
	longest := len(tag) - 1
	if len(s) < longest {
		longest = len(s)
	}
	for k := longest; k > 0; k-- {
		if strings.HasSuffix(s, tag[:k]) {
			return tag[:k]
		}
	}
	return ""
}

// Update is a snapshot of the scanner state emitted after every
// consumed record. Thinking and Answer are cumulative, not deltas.
type Update struct {
	Sources          []retrieval.SourceSummary
	Thinking         string
	Answer           string
	ThinkingComplete bool
	Done             bool
	Err              error
}

// Scanner reassembles the line-oriented answer stream from arbitrarily
// split chunks and demultiplexes it into sources, thinking, and answer
// content. One Scanner serves exactly one in-flight answer. Cancel may
// be called from a different goroutine than the one feeding chunks.
type Scanner struct {
	mu       sync.Mutex
	tags     TagScanner
	rawTail  []byte
	sources  []retrieval.SourceSummary
	done     bool
	err      error
	onUpdate func(Update)
	logger   *slog.Logger
}

// NewScanner creates a scanner. onUpdate, if non-nil, is invoked with a
// state snapshot after every record. A nil logger falls back to
// slog.Default().
func NewScanner(onUpdate func(Update), logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{onUpdate: onUpdate, logger: logger}
}

type record struct {
	Sources *[]retrieval.SourceSummary `json:"sources"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Error string `json:"error"`
	Done  bool   `json:"done"`
}

// Feed consumes one transport chunk. Chunks may split lines, tags, and
// multi-byte sequences at any byte; complete lines are processed and
// the trailing fragment is carried over to the next call. Returns the
// terminal error once an error record has been consumed.
func (s *Scanner) Feed(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return s.err
	}

	data := append(s.rawTail, chunk...)
	for !s.done {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		s.processLine(data[:idx])
		data = data[idx+1:]
	}
	s.rawTail = append([]byte(nil), data...)
	return s.err
}

func (s *Scanner) processLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		// A single garbled line is noise, not a reason to abort a
		// long-running generation.
		s.logger.Warn("skipping malformed stream record", "error", err)
		return
	}

	if rec.Sources != nil {
		s.sources = *rec.Sources
		s.emit()
		return
	}

	if rec.Error != "" {
		s.err = lecterr.Errorf(lecterr.CodeGenerateUpstreamFailure, "generation failed: %s", rec.Error)
		s.finish()
		return
	}

	if rec.Message.Content != "" {
		s.tags.Feed(rec.Message.Content)
		s.emit()
	}
	if rec.Done {
		s.finish()
	}
}

// Finish marks the stream ended. Called when the transport closes,
// whether or not a terminal record was seen; a final unterminated line
// is still processed. Idempotent.
func (s *Scanner) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return s.err
	}
	if len(bytes.TrimSpace(s.rawTail)) > 0 {
		s.processLine(s.rawTail)
	}
	s.rawTail = nil
	if !s.done {
		s.finish()
	}
	return s.err
}

// Cancel aborts the stream on behalf of the caller, appending a
// cancellation marker to the answer so the truncation is visible. Safe
// to call while another goroutine is feeding; no-op once the stream has
// already ended.
func (s *Scanner) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return
	}
	s.tags.Flush()
	s.tags.appendAnswer(cancelledMarker)
	s.done = true
	s.emit()
}

func (s *Scanner) finish() {
	s.done = true
	s.tags.Flush()
	s.emit()
}

func (s *Scanner) emit() {
	if s.onUpdate == nil {
		return
	}
	s.onUpdate(Update{
		Sources:          s.sources,
		Thinking:         s.tags.Thinking(),
		Answer:           s.tags.Answer(),
		ThinkingComplete: s.tags.ThinkingComplete(),
		Done:             s.done,
		Err:              s.err,
	})
}

func (s *Scanner) Sources() []retrieval.SourceSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sources
}

func (s *Scanner) Thinking() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tags.Thinking()
}

func (s *Scanner) Answer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tags.Answer()
}

func (s *Scanner) ThinkingComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tags.ThinkingComplete()
}

func (s *Scanner) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Scanner) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
