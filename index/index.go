// Package index ties the corpus, embedder and vector store together into a
// searchable document index.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/sweetpotato0/adaptiverag/corpus"
	"github.com/sweetpotato0/adaptiverag/pkg/logging"
	"github.com/sweetpotato0/adaptiverag/vector"
)

// ScoredChunk is a chunk together with its similarity to the query.
type ScoredChunk struct {
	Chunk corpus.Chunk
	Score float32
}

// Index stores chunked documents in a vector store and serves similarity
// queries over them. A chunk registry alongside the store keeps the full
// chunk metadata (ordinal, source document) that the store does not hold.
type Index struct {
	store    vector.VectorStore
	embedder vector.Embedder
	chunker  corpus.Chunker
	logger   *slog.Logger

	mu     sync.RWMutex
	chunks map[string]corpus.Chunk   // chunk ID -> chunk
	byDoc  map[string][]corpus.Chunk // document ID -> chunks, ordinal order
	docs   map[string]corpus.Document
}

// New creates an empty index.
func New(store vector.VectorStore, embedder vector.Embedder, chunker corpus.Chunker) *Index {
	return &Index{
		store:    store,
		embedder: embedder,
		chunker:  chunker,
		logger:   logging.WithComponent("index"),
		chunks:   make(map[string]corpus.Chunk),
		byDoc:    make(map[string][]corpus.Chunk),
		docs:     make(map[string]corpus.Document),
	}
}

// Ingest chunks each document, embeds the chunks and adds them to the store.
// Re-ingesting the same document ID replaces its previous chunks.
func (idx *Index) Ingest(ctx context.Context, docs ...corpus.Document) error {
	for _, doc := range docs {
		corpus.EnsureDocumentID(&doc)

		chunks, err := idx.chunker.Chunk(ctx, doc)
		if err != nil {
			return fmt.Errorf("failed to chunk document %s: %w", doc.ID, err)
		}
		if len(chunks) == 0 {
			idx.logger.Warn("document produced no chunks", "document", doc.ID)
			continue
		}

		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		vectors, err := idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to embed document %s: %w", doc.ID, err)
		}
		if len(vectors) != len(chunks) {
			return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
		}

		if err := idx.removeDocLocked(ctx, doc.ID); err != nil {
			return err
		}

		for i, c := range chunks {
			emb := &vector.Embedding{
				ID:     c.ID,
				Vector: vectors[i],
				Text:   c.Content,
			}
			if err := idx.store.AddEmbedding(ctx, emb); err != nil {
				return fmt.Errorf("failed to store chunk %s: %w", c.ID, err)
			}
		}

		idx.mu.Lock()
		idx.docs[doc.ID] = doc
		idx.byDoc[doc.ID] = chunks
		for _, c := range chunks {
			idx.chunks[c.ID] = c
		}
		idx.mu.Unlock()

		idx.logger.Info("document ingested", "document", doc.ID, "chunks", len(chunks))
	}
	return nil
}

func (idx *Index) removeDocLocked(ctx context.Context, docID string) error {
	idx.mu.Lock()
	old := idx.byDoc[docID]
	for _, c := range old {
		delete(idx.chunks, c.ID)
	}
	delete(idx.byDoc, docID)
	delete(idx.docs, docID)
	idx.mu.Unlock()

	for _, c := range old {
		if err := idx.store.DeleteEmbedding(ctx, c.ID); err != nil {
			return fmt.Errorf("failed to remove stale chunk %s: %w", c.ID, err)
		}
	}
	return nil
}

// Search embeds the query and returns the top-k most similar chunks.
func (idx *Index) Search(ctx context.Context, query string, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	queryVec, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := idx.store.Search(ctx, queryVec, k)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	results := make([]ScoredChunk, 0, len(hits))
	for _, hit := range hits {
		if hit.Embedding == nil {
			continue
		}
		chunk, ok := idx.chunks[hit.Embedding.ID]
		if !ok {
			// Store entry without registry metadata; surface the text anyway.
			chunk = corpus.Chunk{ID: hit.Embedding.ID, Content: hit.Embedding.Text}
		}
		results = append(results, ScoredChunk{Chunk: chunk, Score: hit.Score})
	}
	return results, nil
}

// Neighbors returns up to n chunks on each side of the given chunk within its
// source document, in ordinal order and excluding the chunk itself.
func (idx *Index) Neighbors(chunkID string, n int) []corpus.Chunk {
	if n <= 0 {
		return nil
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	chunk, ok := idx.chunks[chunkID]
	if !ok {
		return nil
	}
	siblings := idx.byDoc[chunk.DocumentID]
	pos := sort.Search(len(siblings), func(i int) bool {
		return siblings[i].Ordinal >= chunk.Ordinal
	})
	if pos >= len(siblings) || siblings[pos].ID != chunkID {
		return nil
	}

	lo := pos - n
	if lo < 0 {
		lo = 0
	}
	hi := pos + n + 1
	if hi > len(siblings) {
		hi = len(siblings)
	}

	neighbors := make([]corpus.Chunk, 0, hi-lo-1)
	for i := lo; i < hi; i++ {
		if i == pos {
			continue
		}
		neighbors = append(neighbors, siblings[i])
	}
	return neighbors
}

// Documents returns the IDs of all ingested documents.
func (idx *Index) Documents() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	ids := make([]string, 0, len(idx.docs))
	for id := range idx.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of chunks in the index.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.chunks)
}
