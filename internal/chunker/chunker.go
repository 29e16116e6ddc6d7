// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// DefaultChunkSize is the character budget per chunk.
	DefaultChunkSize = 500
	// DefaultOverlap is the character budget the word-based overlap
	// approximates (Overlap/10 words are carried into the next chunk).
	DefaultOverlap = 50

	// minChunkLen filters fragments that survive splitting but carry no
	// retrievable content (stray whitespace, lone punctuation).
	minChunkLen = 10
)

var sentenceRe = regexp.MustCompile(`(?mU)[^.!?]+[.!?]`)

// Chunk is a bounded-size passage of source text with positional metadata.
type Chunk struct {
	ID       string
	Text     string
	Metadata map[string]any
}

// Chunker splits raw document text into overlapping, bounded-size passages.
// It holds no mutable state; splitting the same input twice yields
// identical output.
type Chunker struct {
	ChunkSize int
	Overlap   int
}

// New creates a Chunker, applying defaults for non-positive parameters.
func New(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	return &Chunker{ChunkSize: chunkSize, Overlap: overlap}
}

// Split splits text into chunks of at most ChunkSize characters (plus
// overlap carry-over), accumulating whole sentences greedily. The next
// chunk is seeded with the last Overlap/10 words of the previous one, an
// approximation of the overlap budget in characters. Chunks shorter than
// 10 trimmed characters are dropped.
func (c *Chunker) Split(text string) []string {
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		trimmed := strings.TrimSpace(text)
		if len(trimmed) < minChunkLen {
			return nil
		}
		sentences = []string{trimmed}
	}

	var chunks []string
	var buf string

	emit := func() {
		trimmed := strings.TrimSpace(buf)
		if len(trimmed) >= minChunkLen {
			chunks = append(chunks, trimmed)
		}
	}

	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}

		if buf == "" {
			buf = sentence
			continue
		}

		if len(buf)+1+len(sentence) > c.ChunkSize {
			emit()
			buf = seedOverlap(buf, c.Overlap/10)
			if buf == "" {
				buf = sentence
			} else {
				buf += " " + sentence
			}
			continue
		}

		buf += " " + sentence
	}

	if buf != "" {
		emit()
	}

	return chunks
}

// seedOverlap returns the last n words of text, or empty when n <= 0.
func seedOverlap(text string, n int) string {
	if n <= 0 {
		return ""
	}
	words := strings.Fields(text)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[len(words)-n:], " ")
}

// ChunkFile splits a document into Chunks carrying positional metadata.
// IDs are derived from the file name and chunk index, so re-chunking the
// same file with the same parameters produces the same IDs (idempotent
// upsert downstream).
func (c *Chunker) ChunkFile(path, fileName, fileType, text string) []Chunk {
	parts := c.Split(text)
	if len(parts) == 0 {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	chunks := make([]Chunk, 0, len(parts))
	for i, part := range parts {
		chunks = append(chunks, Chunk{
			ID:   fmt.Sprintf("%s:%d", fileName, i),
			Text: part,
			Metadata: map[string]any{
				"source":      path,
				"file_name":   fileName,
				"chunk_index": i,
				"file_type":   fileType,
				"ingested_at": now,
			},
		})
	}
	return chunks
}
