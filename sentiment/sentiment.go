// Package sentiment classifies user text as positive, negative or neutral
// and tracks a per-session sentiment history so the service can report a
// conversation trend alongside each answer.
package sentiment

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/sweetpotato0/adaptiverag/oracle"
	"github.com/sweetpotato0/adaptiverag/pkg/logging"
	"github.com/sweetpotato0/adaptiverag/state"
)

// Label is a sentiment class.
type Label string

const (
	LabelPositive Label = "positive"
	LabelNegative Label = "negative"
	LabelNeutral  Label = "neutral"
)

const (
	// historyKey is the session-context key holding recent results.
	historyKey = "sentiment_history"
	// historyCap bounds the per-session sentiment history.
	historyCap = 10
	// maxAnalysisChars truncates very long inputs before analysis.
	maxAnalysisChars = 2000
)

// Result is one sentiment analysis outcome.
type Result struct {
	Label      Label     `json:"label"`
	Score      float64   `json:"score"`
	Timestamp  time.Time `json:"timestamp"`
	TextSample string    `json:"text_sample"`
	Model      string    `json:"model"`
}

// Summary aggregates a session's sentiment history.
type Summary struct {
	TotalAnalyses int     `json:"total_analyses"`
	PositiveCount int     `json:"positive_count"`
	NegativeCount int     `json:"negative_count"`
	NeutralCount  int     `json:"neutral_count"`
	AverageScore  float64 `json:"average_score"`
	Dominant      Label   `json:"dominant_sentiment"`
}

// Analyzer classifies text, preferring the oracle and falling back to a
// small lexicon when the oracle is unavailable.
type Analyzer struct {
	oracle *oracle.Oracle
	store  *state.Store
	logger *slog.Logger
}

// NewAnalyzer creates an analyzer. The oracle may be nil, in which case only
// the lexicon is used.
func NewAnalyzer(o *oracle.Oracle, store *state.Store) *Analyzer {
	return &Analyzer{
		oracle: o,
		store:  store,
		logger: logging.WithComponent("sentiment"),
	}
}

// Analyze classifies the text and records the result in the session's
// history. It never fails; an unanalyzable input comes back neutral.
func (a *Analyzer) Analyze(ctx context.Context, text, sessionID string) Result {
	sample := text
	if len(sample) > maxAnalysisChars {
		sample = sample[:maxAnalysisChars]
	}

	result := a.analyzeOracle(ctx, sample)
	if result == nil {
		lex := analyzeLexicon(sample)
		result = &lex
	}
	result.Timestamp = time.Now()
	result.TextSample = truncateSample(sample)

	if a.store != nil && sessionID != "" {
		a.store.AppendContextList(sessionID, historyKey, *result, historyCap)
	}
	return *result
}

func (a *Analyzer) analyzeOracle(ctx context.Context, text string) *Result {
	if a.oracle == nil {
		return nil
	}
	raw, err := a.oracle.Completion(ctx, oracle.TmplGradeSentiment, map[string]any{
		"text": text,
	})
	if err != nil {
		a.logger.Warn("oracle sentiment analysis failed, using lexicon", "error", err)
		return nil
	}

	var parsed struct {
		Label string  `json:"label"`
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		a.logger.Warn("unparsable sentiment response, using lexicon", "raw", raw)
		return nil
	}

	label := Label(strings.ToLower(strings.TrimSpace(parsed.Label)))
	switch label {
	case LabelPositive, LabelNegative, LabelNeutral:
	default:
		return nil
	}
	score := parsed.Score
	if score < 0 || score > 1 {
		score = 0.5
	}
	return &Result{Label: label, Score: score, Model: "oracle"}
}

var (
	positiveWords = map[string]bool{
		"good": true, "great": true, "excellent": true, "happy": true, "positive": true,
	}
	negativeWords = map[string]bool{
		"bad": true, "poor": true, "terrible": true, "unhappy": true,
		"negative": true, "slow": true, "disappoint": true,
	}
)

// analyzeLexicon is the offline fallback: count sentiment-bearing words and
// scale confidence with the count, capped at 0.9.
func analyzeLexicon(text string) Result {
	words := strings.Fields(strings.ToLower(text))
	seen := make(map[string]bool)
	var posCount, negCount int
	for _, w := range words {
		if seen[w] {
			continue
		}
		seen[w] = true
		if positiveWords[w] {
			posCount++
		}
		if negativeWords[w] {
			negCount++
		}
	}

	switch {
	case posCount > negCount:
		return Result{Label: LabelPositive, Score: min(0.9, float64(posCount)*0.3), Model: "lexicon"}
	case negCount > posCount:
		return Result{Label: LabelNegative, Score: min(0.9, float64(negCount)*0.3), Model: "lexicon"}
	default:
		return Result{Label: LabelNeutral, Score: 0.5, Model: "lexicon"}
	}
}

// Trend returns the session's overall sentiment direction: the majority
// label over recent results and their average score.
func (a *Analyzer) Trend(sessionID string) (Label, float64) {
	history := a.history(sessionID)
	if len(history) == 0 {
		return LabelNeutral, 0.5
	}

	var sum float64
	var posCount, negCount int
	for _, r := range history {
		sum += r.Score
		switch r.Label {
		case LabelPositive:
			posCount++
		case LabelNegative:
			negCount++
		}
	}

	label := LabelNeutral
	if posCount > negCount {
		label = LabelPositive
	} else if negCount > posCount {
		label = LabelNegative
	}
	return label, sum / float64(len(history))
}

// SessionSummary aggregates the session's recorded sentiment history.
func (a *Analyzer) SessionSummary(sessionID string) Summary {
	history := a.history(sessionID)
	if len(history) == 0 {
		return Summary{AverageScore: 0.5, Dominant: LabelNeutral}
	}

	s := Summary{TotalAnalyses: len(history)}
	var sum float64
	for _, r := range history {
		sum += r.Score
		switch r.Label {
		case LabelPositive:
			s.PositiveCount++
		case LabelNegative:
			s.NegativeCount++
		default:
			s.NeutralCount++
		}
	}
	s.AverageScore = sum / float64(len(history))

	s.Dominant = LabelNeutral
	if s.PositiveCount >= s.NegativeCount && s.PositiveCount >= s.NeutralCount {
		s.Dominant = LabelPositive
	} else if s.NegativeCount > s.PositiveCount && s.NegativeCount >= s.NeutralCount {
		s.Dominant = LabelNegative
	}
	return s
}

func (a *Analyzer) history(sessionID string) []Result {
	if a.store == nil {
		return nil
	}
	v, ok := a.store.ContextValue(sessionID, historyKey)
	if !ok {
		return nil
	}
	list, _ := v.([]any)
	results := make([]Result, 0, len(list))
	for _, item := range list {
		if r, ok := item.(Result); ok {
			results = append(results, r)
		}
	}
	return results
}

func truncateSample(text string) string {
	if len(text) > 100 {
		return text[:100] + "..."
	}
	return text
}

// extractJSON trims everything outside the first balanced JSON object.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return raw
	}
	return raw[start : end+1]
}
