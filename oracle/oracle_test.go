package oracle

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/sweetpotato0/adaptiverag/errors"
	"github.com/sweetpotato0/adaptiverag/message"
)

type stubClient struct {
	response string
	err      error
	lastText string
}

func (s *stubClient) Generate(_ context.Context, messages []*message.Message) (*message.Message, error) {
	if len(messages) > 0 {
		s.lastText = messages[len(messages)-1].Content
	}
	if s.err != nil {
		return nil, s.err
	}
	return message.NewMessage(message.RoleAssistant, s.response), nil
}

func TestCompletionRendersTemplate(t *testing.T) {
	client := &stubClient{response: "Factual"}
	o := New(client)

	got, err := o.Completion(context.Background(), TmplClassifyQuery, map[string]any{
		"query": "what is the product",
	})
	if err != nil {
		t.Fatalf("Completion error: %v", err)
	}
	if got != "Factual" {
		t.Fatalf("expected trimmed reply, got %q", got)
	}
	if want := "what is the product"; !strings.Contains(client.lastText, want) {
		t.Fatalf("rendered prompt missing query, got %q", client.lastText)
	}
}

func TestCompletionUnknownTemplate(t *testing.T) {
	o := New(&stubClient{response: "x"})
	if _, err := o.Completion(context.Background(), "no_such_template", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestBinaryVerdict(t *testing.T) {
	o := New(&stubClient{response: `{"binary_score": "yes"}`})
	verdict, err := o.BinaryVerdict(context.Background(), TmplGradeRelevance, map[string]any{
		"question": "q", "document": "d",
	})
	if err != nil {
		t.Fatalf("BinaryVerdict error: %v", err)
	}
	if !verdict {
		t.Fatal("expected yes verdict")
	}
}

func TestBinaryVerdictUnparsable(t *testing.T) {
	o := New(&stubClient{response: "the document is about shipping"})
	_, err := o.BinaryVerdict(context.Background(), TmplGradeRelevance, map[string]any{
		"question": "q", "document": "d",
	})
	if !stderrors.Is(err, errors.ErrUnparsable) {
		t.Fatalf("expected ErrUnparsable, got %v", err)
	}
}

func TestScoreAndIndicesAndItems(t *testing.T) {
	o := New(&stubClient{response: `{"score": 7}`})
	score, err := o.Score(context.Background(), TmplRankRelevance, map[string]any{
		"query": "q", "document": "d",
	})
	if err != nil || score != 7 {
		t.Fatalf("Score = (%v, %v), want (7, nil)", score, err)
	}

	o = New(&stubClient{response: "[0, 1]"})
	indices, err := o.Indices(context.Background(), TmplSelectDiverse, map[string]any{
		"query": "q", "documents": "docs", "k": 2,
	})
	if err != nil || len(indices) != 2 {
		t.Fatalf("Indices = (%v, %v), want 2 indices", indices, err)
	}

	o = New(&stubClient{response: "1. first\n2. second"})
	items, err := o.Items(context.Background(), TmplSubQueries, map[string]any{
		"query": "q", "k": 2,
	})
	if err != nil || len(items) != 2 {
		t.Fatalf("Items = (%v, %v), want 2 items", items, err)
	}
}

func TestProviderErrorPropagates(t *testing.T) {
	o := New(&stubClient{err: fmt.Errorf("connection refused")})
	if _, err := o.Completion(context.Background(), TmplClassifyQuery, map[string]any{"query": "q"}); err == nil {
		t.Fatal("expected provider error to propagate")
	}
}
