// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

// Package retrieval embeds a user question, fetches the nearest passages
// from the vector index, and assembles the grounding prompt.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/lectern-dev/lectern/internal/embed"
	"github.com/lectern-dev/lectern/internal/index"
	lecterr "github.com/lectern-dev/lectern/pkg/errors"
)

// NoContextAnswer is returned to the caller when retrieval finds nothing.
// The generation model is never invoked with an empty context.
const NoContextAnswer = "I could not find any relevant information in the ingested documents for this question."

// previewLen bounds the content preview carried in a source summary so
// the sources frame stays small.
const previewLen = 160

// SourceSummary is the reduced form of a retrieved passage sent to the
// client ahead of the answer stream.
type SourceSummary struct {
	FileName   string  `json:"file_name"`
	ChunkIndex int     `json:"chunk_index"`
	Distance   float64 `json:"distance"`
	Preview    string  `json:"preview"`
}

// Retriever performs retrieval queries against a shared embedder and
// index. It is safe for concurrent use; per-query state stays on the
// stack.
type Retriever struct {
	embedder embed.Embedder
	index    index.Index
	topK     int
}

// New creates a Retriever returning up to topK passages per query.
func New(e embed.Embedder, idx index.Index, topK int) *Retriever {
	if topK <= 0 {
		topK = 4
	}
	return &Retriever{embedder: e, index: idx, topK: topK}
}

// Retrieve embeds the question and returns the nearest passages, ordered
// by ascending distance, optionally scoped to a library. An empty result
// is not an error; callers short-circuit with NoContextAnswer.
func (r *Retriever) Retrieve(ctx context.Context, question string, scope *index.Filter) ([]index.Passage, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, lecterr.New(lecterr.CodeRetrievalFailure, "question must not be empty")
	}

	vector, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}

	passages, err := r.index.Query(ctx, vector, r.topK, scope)
	if err != nil {
		return nil, err
	}
	return passages, nil
}

// BuildPrompt concatenates passages in ranked order, each labeled with a
// 1-based position, followed by the question and an instruction to answer
// only from the supplied material.
func BuildPrompt(question string, passages []index.Passage) string {
	var b strings.Builder

	b.WriteString("Use the following context passages to answer the question.\n\n")
	for i, p := range passages {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, strings.TrimSpace(p.Content))
	}
	fmt.Fprintf(&b, "Question: %s\n\n", question)
	b.WriteString("Answer using only the context above. " +
		"If the context does not contain enough information, say so explicitly.")

	return b.String()
}

// Summaries reduces passages to the compact form carried in the sources
// frame: never the full passage, only a bounded preview.
func Summaries(passages []index.Passage) []SourceSummary {
	summaries := make([]SourceSummary, 0, len(passages))
	for _, p := range passages {
		s := SourceSummary{Distance: p.Distance, Preview: preview(p.Content)}
		if v, ok := p.Metadata["file_name"].(string); ok {
			s.FileName = v
		}
		switch v := p.Metadata["chunk_index"].(type) {
		case int:
			s.ChunkIndex = v
		case float64:
			s.ChunkIndex = int(v)
		}
		summaries = append(summaries, s)
	}
	return summaries
}

func preview(content string) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= previewLen {
		return content
	}
	return string(runes[:previewLen]) + "…"
}
