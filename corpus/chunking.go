package corpus

import (
	"context"
	"strings"

	"github.com/sweetpotato0/adaptiverag/tokenizer"
)

// Chunker splits documents into chunks that can be embedded and indexed.
type Chunker interface {
	Chunk(ctx context.Context, doc Document) ([]Chunk, error)
}

// TokenChunker windows a document by token count so chunk sizes line up with
// model context budgets. Ordinals are assigned in document order, which the
// index relies on for neighbor expansion.
type TokenChunker struct {
	tok     tokenizer.Tokenizer
	size    int
	overlap int
}

// TokenChunkerOption customises the token chunker.
type TokenChunkerOption func(*TokenChunker)

// WithChunkTokens sets the token window per chunk (default 250).
func WithChunkTokens(tokens int) TokenChunkerOption {
	return func(c *TokenChunker) {
		if tokens > 0 {
			c.size = tokens
		}
	}
}

// WithOverlapTokens sets how many tokens consecutive chunks share (default 0).
func WithOverlapTokens(tokens int) TokenChunkerOption {
	return func(c *TokenChunker) {
		if tokens >= 0 {
			c.overlap = tokens
		}
	}
}

// NewTokenChunker creates a chunker over the given tokenizer.
func NewTokenChunker(tok tokenizer.Tokenizer, opts ...TokenChunkerOption) *TokenChunker {
	c := &TokenChunker{
		tok:     tok,
		size:    250,
		overlap: 0,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.size {
		c.overlap = c.size - 1
	}
	return c
}

// Chunk splits the document into token windows.
func (c *TokenChunker) Chunk(ctx context.Context, doc Document) ([]Chunk, error) {
	EnsureDocumentID(&doc)

	ids := c.tok.Encode(doc.Content)
	if len(ids) == 0 {
		return []Chunk{c.newChunk(doc, 0, doc.Content)}, nil
	}

	var chunks []Chunk
	step := c.size - c.overlap
	ordinal := 0
	for start := 0; start < len(ids); start += step {
		end := start + c.size
		if end > len(ids) {
			end = len(ids)
		}
		text := strings.TrimSpace(c.tok.DecodeIds(ids[start:end]))
		if text != "" {
			chunks = append(chunks, c.newChunk(doc, ordinal, text))
			ordinal++
		}
		if end == len(ids) {
			break
		}
	}

	if len(chunks) == 0 {
		chunks = append(chunks, c.newChunk(doc, 0, doc.Content))
	}
	return chunks, nil
}

func (c *TokenChunker) newChunk(doc Document, ordinal int, content string) Chunk {
	chunk := Chunk{
		ID:         NextChunkID(doc.ID),
		DocumentID: doc.ID,
		Content:    content,
		Ordinal:    ordinal,
		Source:     doc.Source,
	}
	if doc.Metadata != nil {
		chunk.Metadata = make(map[string]any, len(doc.Metadata))
		for k, v := range doc.Metadata {
			chunk.Metadata[k] = v
		}
	}
	return chunk
}
