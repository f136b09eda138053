// Package grader wraps the model in the small judgment calls the workflow
// relies on: query classification, relevance and groundedness checks, and
// query rewriting. Every method degrades to a safe default instead of
// failing, so a flaky model never stalls the pipeline.
package grader

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sweetpotato0/adaptiverag/oracle"
	"github.com/sweetpotato0/adaptiverag/pkg/logging"
)

// Category is the retrieval strategy class assigned to a query.
type Category string

const (
	CategoryFactual    Category = "Factual"
	CategoryAnalytical Category = "Analytical"
	CategoryOpinion    Category = "Opinion"
	CategoryContextual Category = "Contextual"
)

// DefaultRelevanceScore is used when the model cannot produce a numeric score.
const DefaultRelevanceScore = 5.0

// minRewriteLength guards against degenerate rewrites; anything shorter
// falls back to the original question.
const minRewriteLength = 5

// Grader issues yes/no and scoring judgments through the oracle.
type Grader struct {
	oracle *oracle.Oracle
	logger *slog.Logger
}

// New creates a grader over the given oracle.
func New(o *oracle.Oracle) *Grader {
	return &Grader{
		oracle: o,
		logger: logging.WithComponent("grader"),
	}
}

// ClassifyQuery assigns the query one of the four retrieval categories.
// A failed oracle call defaults to Factual; a reply outside the known set
// is returned as-is so the retriever can fall through to plain search.
func (g *Grader) ClassifyQuery(ctx context.Context, query string) Category {
	raw, err := g.oracle.Completion(ctx, oracle.TmplClassifyQuery, map[string]any{
		"query": query,
	})
	if err != nil {
		g.logger.Warn("query classification failed, defaulting to factual", "error", err)
		return CategoryFactual
	}

	answer := strings.ToLower(strings.TrimSpace(raw))
	for _, cat := range []Category{CategoryFactual, CategoryAnalytical, CategoryOpinion, CategoryContextual} {
		if strings.Contains(answer, strings.ToLower(string(cat))) {
			return cat
		}
	}
	g.logger.Warn("query category outside the known set", "raw", raw)
	return Category(strings.TrimSpace(raw))
}

// RelevantDocument reports whether the document bears on the question.
// Grading errors fail open: the document is kept rather than dropped.
func (g *Grader) RelevantDocument(ctx context.Context, question, document string) bool {
	verdict, err := g.oracle.BinaryVerdict(ctx, oracle.TmplGradeRelevance, map[string]any{
		"question": question,
		"document": document,
	})
	if err != nil {
		g.logger.Warn("relevance grading failed, keeping document", "error", err)
		return true
	}
	return verdict
}

// Grounded reports whether the generation is supported by the documents.
// Only an explicit "no" fails the check; grading errors pass so an
// unverifiable grade never stalls the workflow.
func (g *Grader) Grounded(ctx context.Context, documents, generation string) bool {
	verdict, err := g.oracle.BinaryVerdict(ctx, oracle.TmplGradeGrounded, map[string]any{
		"documents":  documents,
		"generation": generation,
	})
	if err != nil {
		g.logger.Warn("groundedness grading failed, passing", "error", err)
		return true
	}
	return verdict
}

// AnswersQuestion reports whether the generation resolves the question.
// Same fail-open policy as Grounded.
func (g *Grader) AnswersQuestion(ctx context.Context, question, generation string) bool {
	verdict, err := g.oracle.BinaryVerdict(ctx, oracle.TmplGradeAnswer, map[string]any{
		"question":   question,
		"generation": generation,
	})
	if err != nil {
		g.logger.Warn("answer grading failed, passing", "error", err)
		return true
	}
	return verdict
}

// RewriteQuery reformulates the question for better retrieval. Rewrites that
// fail or come back shorter than minRewriteLength return the original.
func (g *Grader) RewriteQuery(ctx context.Context, question string) string {
	rewritten, err := g.oracle.Completion(ctx, oracle.TmplRewriteQuestion, map[string]any{
		"question": question,
	})
	if err != nil {
		g.logger.Warn("query rewrite failed, keeping original", "error", err)
		return question
	}
	rewritten = strings.TrimSpace(strings.Trim(strings.TrimSpace(rewritten), `"`))
	if len(rewritten) < minRewriteLength {
		return question
	}
	return rewritten
}

// RelevanceScore rates a document's relevance to the query on a 1-10 scale.
// Failures return DefaultRelevanceScore, a neutral middle value.
func (g *Grader) RelevanceScore(ctx context.Context, query, document string) float64 {
	score, err := g.oracle.Score(ctx, oracle.TmplRankRelevance, map[string]any{
		"query":    query,
		"document": document,
	})
	if err != nil {
		return DefaultRelevanceScore
	}
	if score < 0 {
		return DefaultRelevanceScore
	}
	return score
}
