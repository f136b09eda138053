package tokenizer

import (
	"strings"
	"sync"
	"unicode"
)

// Tokenizer converts text to token ids and back. The corpus chunker uses it
// to enforce token-window chunk sizes.
type Tokenizer interface {
	Encode(text string) []int
	CountTokens(text string) int
	// DecodeIds returns the substring that corresponds to a token window.
	DecodeIds(ids []int) string
}

var _ Tokenizer = (*SimpleTokenizer)(nil)

// SimpleTokenizer is a whitespace/punctuation tokenizer with a growing vocab.
// It approximates token counts when no model-specific encoding is available.
type SimpleTokenizer struct {
	mu       sync.Mutex
	vocab    map[string]int // token -> id
	invVocab map[int]string // id -> token
	nextID   int
}

// NewSimpleTokenizer creates new tokenizer with empty vocab.
func NewSimpleTokenizer() *SimpleTokenizer {
	return &SimpleTokenizer{
		vocab:    make(map[string]int),
		invVocab: make(map[int]string),
		nextID:   1, // reserve 0 for padding
	}
}

func (t *SimpleTokenizer) addToken(tok string) int {
	if id, ok := t.vocab[tok]; ok {
		return id
	}
	id := t.nextID
	t.vocab[tok] = id
	t.invVocab[id] = tok
	t.nextID++
	return id
}

// Encode splits text into word, number, and punctuation tokens.
func (t *SimpleTokenizer) Encode(text string) []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ids []int
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			ids = append(ids, t.addToken(current.String()))
			current.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			current.WriteRune(r)
		case unicode.IsSpace(r):
			flush()
		default:
			flush()
			ids = append(ids, t.addToken(string(r)))
		}
	}
	flush()
	return ids
}

// CountTokens returns the number of tokens in text.
func (t *SimpleTokenizer) CountTokens(text string) int {
	return len(t.Encode(text))
}

// DecodeIds reconstructs text from token ids, space-joined.
func (t *SimpleTokenizer) DecodeIds(ids []int) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if tok, ok := t.invVocab[id]; ok {
			parts = append(parts, tok)
		}
	}
	return strings.Join(parts, " ")
}
