package index

import (
	"context"
	"strings"
	"testing"

	"github.com/sweetpotato0/adaptiverag/contrib/embedder/hash"
	"github.com/sweetpotato0/adaptiverag/contrib/vector/inmemory"
	"github.com/sweetpotato0/adaptiverag/corpus"
	"github.com/sweetpotato0/adaptiverag/tokenizer"
)

func newTestIndex(chunkTokens int) *Index {
	chunker := corpus.NewTokenChunker(tokenizer.NewSimpleTokenizer(), corpus.WithChunkTokens(chunkTokens))
	return New(inmemory.NewInMemoryVectorStore(), hash.New(128), chunker)
}

func TestIngestAndSearch(t *testing.T) {
	idx := newTestIndex(50)
	ctx := context.Background()

	docs := []corpus.Document{
		{ID: "pricing", Content: "Assessli pricing starts with a free tier and scales with monthly active students."},
		{ID: "grading", Content: "The grading engine evaluates essays using rubric alignment and feedback loops."},
	}
	if err := idx.Ingest(ctx, docs...); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if idx.Count() == 0 {
		t.Fatal("Count() = 0 after ingest")
	}

	results, err := idx.Search(ctx, "how does pricing work for students", 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Search() returned %d results, want 1", len(results))
	}
	if !strings.Contains(results[0].Chunk.Content, "pricing") {
		t.Errorf("top result %q does not mention pricing", results[0].Chunk.Content)
	}
	if results[0].Chunk.DocumentID != "pricing" {
		t.Errorf("top result from document %q, want pricing", results[0].Chunk.DocumentID)
	}
}

func TestSearchZeroK(t *testing.T) {
	idx := newTestIndex(50)
	results, err := idx.Search(context.Background(), "anything", 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if results != nil {
		t.Errorf("Search(k=0) = %v, want nil", results)
	}
}

func TestReingestReplacesDocument(t *testing.T) {
	idx := newTestIndex(50)
	ctx := context.Background()

	if err := idx.Ingest(ctx, corpus.Document{ID: "doc", Content: "old content about elephants"}); err != nil {
		t.Fatalf("first Ingest() error = %v", err)
	}
	before := idx.Count()

	if err := idx.Ingest(ctx, corpus.Document{ID: "doc", Content: "new content about giraffes"}); err != nil {
		t.Fatalf("second Ingest() error = %v", err)
	}
	if got := idx.Count(); got != before {
		t.Errorf("Count() = %d after re-ingest, want %d", got, before)
	}
	if docs := idx.Documents(); len(docs) != 1 || docs[0] != "doc" {
		t.Errorf("Documents() = %v, want [doc]", docs)
	}

	results, err := idx.Search(ctx, "giraffes", 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || !strings.Contains(results[0].Chunk.Content, "giraffes") {
		t.Errorf("Search() after re-ingest = %+v, want the replacement content", results)
	}
}

func TestNeighbors(t *testing.T) {
	idx := newTestIndex(5)
	ctx := context.Background()

	doc := corpus.Document{
		ID:      "long",
		Content: "alpha beta gamma delta epsilon zeta eta theta iota kappa lambda mu nu xi omicron pi rho sigma tau upsilon",
	}
	if err := idx.Ingest(ctx, doc); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if idx.Count() < 3 {
		t.Fatalf("Count() = %d, need at least 3 chunks for a neighbor window", idx.Count())
	}

	results, err := idx.Search(ctx, doc.Content, idx.Count())
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	var middle corpus.Chunk
	for _, r := range results {
		if r.Chunk.Ordinal == 1 {
			middle = r.Chunk
		}
	}
	if middle.ID == "" {
		t.Fatal("no chunk with ordinal 1 found")
	}

	neighbors := idx.Neighbors(middle.ID, 1)
	if len(neighbors) != 2 {
		t.Fatalf("Neighbors() returned %d chunks, want 2", len(neighbors))
	}
	if neighbors[0].Ordinal != 0 || neighbors[1].Ordinal != 2 {
		t.Errorf("Neighbors() ordinals = [%d %d], want [0 2]", neighbors[0].Ordinal, neighbors[1].Ordinal)
	}
	for _, n := range neighbors {
		if n.ID == middle.ID {
			t.Error("Neighbors() included the chunk itself")
		}
	}

	if got := idx.Neighbors("missing", 1); got != nil {
		t.Errorf("Neighbors(missing) = %v, want nil", got)
	}
	if got := idx.Neighbors(middle.ID, 0); got != nil {
		t.Errorf("Neighbors(n=0) = %v, want nil", got)
	}
}
