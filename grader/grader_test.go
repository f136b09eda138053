package grader

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sweetpotato0/adaptiverag/message"
	"github.com/sweetpotato0/adaptiverag/oracle"
)

// scriptedClient replies based on substrings of the rendered prompt.
type scriptedClient struct {
	rules map[string]string
	err   error
}

func (c *scriptedClient) Generate(_ context.Context, messages []*message.Message) (*message.Message, error) {
	if c.err != nil {
		return nil, c.err
	}
	prompt := messages[len(messages)-1].Content
	for marker, reply := range c.rules {
		if strings.Contains(prompt, marker) {
			return message.NewMessage(message.RoleAssistant, reply), nil
		}
	}
	return message.NewMessage(message.RoleAssistant, ""), nil
}

func newGrader(client oracle.Client) *Grader {
	return New(oracle.New(client))
}

func TestClassifyQuery(t *testing.T) {
	tests := []struct {
		reply string
		want  Category
	}{
		{"Factual", CategoryFactual},
		{"Analytical", CategoryAnalytical},
		{"The category is: Opinion", CategoryOpinion},
		{"contextual", CategoryContextual},
	}
	for _, tt := range tests {
		g := newGrader(&scriptedClient{rules: map[string]string{"Classify": tt.reply}})
		if got := g.ClassifyQuery(context.Background(), "what is it?"); got != tt.want {
			t.Fatalf("reply %q classified as %s, want %s", tt.reply, got, tt.want)
		}
	}
}

func TestClassifyQueryKeepsUnknownLabel(t *testing.T) {
	g := newGrader(&scriptedClient{rules: map[string]string{"Classify": "General knowledge"}})
	got := g.ClassifyQuery(context.Background(), "what is it?")
	if got == CategoryFactual {
		t.Fatal("unknown label must not collapse to factual")
	}
	if got != Category("General knowledge") {
		t.Fatalf("unknown label should pass through, got %s", got)
	}
}

func TestClassifyQueryDefaultsOnError(t *testing.T) {
	g := newGrader(&scriptedClient{err: fmt.Errorf("provider down")})
	if got := g.ClassifyQuery(context.Background(), "q"); got != CategoryFactual {
		t.Fatalf("expected factual default on error, got %s", got)
	}
}

func TestRelevantDocumentFailOpen(t *testing.T) {
	g := newGrader(&scriptedClient{err: fmt.Errorf("provider down")})
	if !g.RelevantDocument(context.Background(), "q", "doc") {
		t.Fatal("relevance grading must fail open")
	}

	g = newGrader(&scriptedClient{rules: map[string]string{"grader assessing relevance": "no"}})
	if g.RelevantDocument(context.Background(), "q", "doc") {
		t.Fatal("explicit no must drop the document")
	}
}

func TestGroundedAndAnswersFailOpen(t *testing.T) {
	g := newGrader(&scriptedClient{err: fmt.Errorf("provider down")})
	if !g.Grounded(context.Background(), "docs", "gen") {
		t.Fatal("groundedness grading must pass on error")
	}
	if !g.AnswersQuestion(context.Background(), "q", "gen") {
		t.Fatal("answer grading must pass on error")
	}

	g = newGrader(&scriptedClient{rules: map[string]string{
		"grounded in": `{"binary_score": "no"}`,
	}})
	if g.Grounded(context.Background(), "docs", "gen") {
		t.Fatal("explicit no must fail the groundedness check")
	}
}

func TestRewriteQuery(t *testing.T) {
	g := newGrader(&scriptedClient{rules: map[string]string{
		"re-writer": "What products does the company offer?",
	}})
	got := g.RewriteQuery(context.Background(), "products?")
	if got != "What products does the company offer?" {
		t.Fatalf("unexpected rewrite %q", got)
	}
}

func TestRewriteQueryKeepsOriginalWhenDegenerate(t *testing.T) {
	g := newGrader(&scriptedClient{rules: map[string]string{"re-writer": "ok"}})
	if got := g.RewriteQuery(context.Background(), "original question"); got != "original question" {
		t.Fatalf("short rewrite must keep original, got %q", got)
	}

	g = newGrader(&scriptedClient{err: fmt.Errorf("provider down")})
	if got := g.RewriteQuery(context.Background(), "original question"); got != "original question" {
		t.Fatalf("failed rewrite must keep original, got %q", got)
	}
}

func TestRelevanceScore(t *testing.T) {
	g := newGrader(&scriptedClient{rules: map[string]string{"Relevance score": `{"score": 8}`}})
	if got := g.RelevanceScore(context.Background(), "q", "doc"); got != 8 {
		t.Fatalf("expected score 8, got %v", got)
	}

	g = newGrader(&scriptedClient{err: fmt.Errorf("provider down")})
	if got := g.RelevanceScore(context.Background(), "q", "doc"); got != DefaultRelevanceScore {
		t.Fatalf("expected default score on error, got %v", got)
	}
}
