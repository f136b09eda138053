package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sweetpotato0/adaptiverag/errors"
	"github.com/sweetpotato0/adaptiverag/message"
	"github.com/sweetpotato0/adaptiverag/pkg/logging"
	"github.com/sweetpotato0/adaptiverag/prompt"
)

// Client is the minimal chat-completion contract a provider must satisfy.
type Client interface {
	// Generate produces one assistant reply for the given conversation.
	Generate(ctx context.Context, messages []*message.Message) (*message.Message, error)
}

// Oracle renders named prompt templates and coerces model replies into the
// typed shapes the retrieval and grading layers consume. Every call runs
// under a bounded timeout so a hung provider cannot stall a workflow.
type Oracle struct {
	llm     Client
	prompts *prompt.Manager
	timeout time.Duration
	logger  *slog.Logger
}

// Option customises the oracle.
type Option func(*Oracle)

// WithTimeout bounds each provider call (default 30s).
func WithTimeout(d time.Duration) Option {
	return func(o *Oracle) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithPromptManager replaces the default template set.
func WithPromptManager(m *prompt.Manager) Option {
	return func(o *Oracle) {
		if m != nil {
			o.prompts = m
		}
	}
}

// New creates an oracle over the given provider with the default templates
// registered.
func New(llm Client, opts ...Option) *Oracle {
	o := &Oracle{
		llm:     llm,
		prompts: DefaultPrompts(),
		timeout: 30 * time.Second,
		logger:  logging.WithComponent("oracle"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Prompts exposes the template manager so callers can override templates.
func (o *Oracle) Prompts() *prompt.Manager {
	return o.prompts
}

// Completion renders the named template and returns the trimmed reply text.
func (o *Oracle) Completion(ctx context.Context, tmpl string, vars map[string]any) (string, error) {
	return o.complete(ctx, tmpl, vars)
}

// CompletionText sends a raw prompt without template rendering.
func (o *Oracle) CompletionText(ctx context.Context, text string) (string, error) {
	return o.invoke(ctx, text)
}

// BinaryVerdict asks for a yes/no judgement. The parser accepts either the
// structured form {"binary_score": "yes"} or a bare yes/no token.
func (o *Oracle) BinaryVerdict(ctx context.Context, tmpl string, vars map[string]any) (bool, error) {
	raw, err := o.complete(ctx, tmpl, vars)
	if err != nil {
		return false, err
	}
	verdict, ok := parseBinary(raw)
	if !ok {
		return false, fmt.Errorf("%w: binary verdict from %q", errors.ErrUnparsable, clip(raw, 80))
	}
	return verdict, nil
}

// Score asks for a 1-10 relevance score.
func (o *Oracle) Score(ctx context.Context, tmpl string, vars map[string]any) (float64, error) {
	raw, err := o.complete(ctx, tmpl, vars)
	if err != nil {
		return 0, err
	}
	score, ok := parseScore(raw)
	if !ok {
		return 0, fmt.Errorf("%w: score from %q", errors.ErrUnparsable, clip(raw, 80))
	}
	return score, nil
}

// Indices asks for a list of document indices.
func (o *Oracle) Indices(ctx context.Context, tmpl string, vars map[string]any) ([]int, error) {
	raw, err := o.complete(ctx, tmpl, vars)
	if err != nil {
		return nil, err
	}
	indices, ok := parseIndices(raw)
	if !ok {
		return nil, fmt.Errorf("%w: index list from %q", errors.ErrUnparsable, clip(raw, 80))
	}
	return indices, nil
}

// Items asks for a list of short strings (sub-questions, viewpoints).
func (o *Oracle) Items(ctx context.Context, tmpl string, vars map[string]any) ([]string, error) {
	raw, err := o.complete(ctx, tmpl, vars)
	if err != nil {
		return nil, err
	}
	items := parseItems(raw)
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: item list from %q", errors.ErrUnparsable, clip(raw, 80))
	}
	return items, nil
}

func (o *Oracle) complete(ctx context.Context, tmpl string, vars map[string]any) (string, error) {
	rendered, err := o.prompts.Render(tmpl, vars)
	if err != nil {
		return "", fmt.Errorf("render prompt %s: %w", tmpl, err)
	}
	return o.invoke(ctx, rendered)
}

func (o *Oracle) invoke(ctx context.Context, text string) (string, error) {
	if o.llm == nil {
		return "", fmt.Errorf("oracle client is not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	reply, err := o.llm.Generate(ctx, []*message.Message{
		message.NewMessage(message.RoleUser, text),
	})
	if err != nil {
		return "", fmt.Errorf("oracle generation failed: %w", err)
	}
	out := strings.TrimSpace(reply.Text())
	o.logger.Debug("oracle reply", "prompt_length", len(text), "reply_length", len(out))
	return out, nil
}

func clip(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}
