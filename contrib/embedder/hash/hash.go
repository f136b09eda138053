package hash

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/sweetpotato0/adaptiverag/vector"
)

// Embedder is a deterministic, dependency-free embedder that hashes word and
// bigram features into a fixed-size vector. It is not a semantic model; it
// exists so the service can run end-to-end (and be tested) without an
// embeddings API key.
type Embedder struct {
	dimension int
}

// New creates a hash embedder with the given dimension (default 256).
func New(dimension int) *Embedder {
	if dimension <= 0 {
		dimension = 256
	}
	return &Embedder{dimension: dimension}
}

// Dimension return number of embedding dimensions
func (e *Embedder) Dimension() int {
	return e.dimension
}

// Embed converts text to a vector embedding
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimension)
	words := tokenize(text)
	for i, word := range words {
		vec[bucket(word, e.dimension)] += 1
		if i+1 < len(words) {
			vec[bucket(word+" "+words[i+1], e.dimension)] += 0.5
		}
	}
	return vector.Normalize(vec), nil
}

// EmbedBatch converts multiple texts to embeddings
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func bucket(feature string, dimension int) int {
	h := fnv.New32a()
	h.Write([]byte(feature))
	return int(h.Sum32() % uint32(dimension))
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
