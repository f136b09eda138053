package tiktoken

import (
	"github.com/pkoukk/tiktoken-go"

	tok "github.com/sweetpotato0/adaptiverag/tokenizer"
)

var _ tok.Tokenizer = (*Tokenizer)(nil)

// Tokenizer wraps a tiktoken encoding so chunk sizes line up with what the
// generation models actually see.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New resolves an encoding by model name first, then by encoding name
// (e.g. "cl100k_base").
func New(name string) (*Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		enc, err = tiktoken.GetEncoding(name)
		if err != nil {
			return nil, err
		}
	}
	return &Tokenizer{enc: enc}, nil
}

// Encode converts text to token ids.
func (t *Tokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

// CountTokens returns the number of tokens in text.
func (t *Tokenizer) CountTokens(text string) int {
	return len(t.Encode(text))
}

// DecodeIds returns the substring that corresponds to a token window.
func (t *Tokenizer) DecodeIds(ids []int) string {
	return t.enc.Decode(ids)
}
