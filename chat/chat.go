// Package chat is the service facade: it validates the question, gates on
// session health, runs the workflow with a retry budget, and fans out the
// side effects (sentiment, history, webhook, session mirror). Its one
// guarantee is that GenerateResponse always returns a usable string and
// never panics or errors out to the caller.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sweetpotato0/adaptiverag/errors"
	"github.com/sweetpotato0/adaptiverag/history"
	"github.com/sweetpotato0/adaptiverag/notify"
	"github.com/sweetpotato0/adaptiverag/pkg/logging"
	"github.com/sweetpotato0/adaptiverag/sentiment"
	"github.com/sweetpotato0/adaptiverag/state"
	"github.com/sweetpotato0/adaptiverag/workflow"
)

// DefaultSessionID is used when the caller supplies no session.
const DefaultSessionID = "default"

// minQuestionLength is the shortest question worth processing.
const minQuestionLength = 3

// minResponseLength is the shortest response considered complete.
const minResponseLength = 10

// Canned responses. Wording is part of the external contract.
const (
	MsgClarify       = "Please provide a more specific question so I can help you better."
	MsgUnhealthy     = "I'm experiencing some issues. Please try starting a new conversation."
	MsgIncomplete    = "I found some information but couldn't provide a complete answer. Could you please rephrase your question?"
	MsgNoGeneration  = "I'm having trouble processing your question right now. Please try rephrasing it or ask something else."
	MsgMaxRetries    = "I'm having trouble answering your question. Please try asking something else or rephrase your question."
	MsgTechnicalDiff = "I'm experiencing technical difficulties. Please try your question again."
	RetryPrefix      = "Let me try that again... "
)

// Runner runs one question through the workflow. Satisfied by
// *workflow.Engine; narrowed to an interface for the package tests.
type Runner interface {
	Run(ctx context.Context, st workflow.State) (workflow.State, error)
}

// SessionMirror persists session snapshots out-of-process. Optional.
type SessionMirror interface {
	Save(ctx context.Context, snap state.Snapshot) error
}

// Service answers questions.
type Service struct {
	engine   Runner
	sessions *state.Store
	analyzer *sentiment.Analyzer
	history  history.Store
	notifier *notify.Notifier
	mirror   SessionMirror
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithSentiment enables sentiment analysis of incoming questions.
func WithSentiment(a *sentiment.Analyzer) Option {
	return func(s *Service) { s.analyzer = a }
}

// WithHistory records exchanges in the given store.
func WithHistory(h history.Store) Option {
	return func(s *Service) { s.history = h }
}

// WithNotifier sends a webhook notification after each response.
func WithNotifier(n *notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithSessionMirror mirrors session snapshots after each response.
func WithSessionMirror(m SessionMirror) Option {
	return func(s *Service) { s.mirror = m }
}

// New creates the facade.
func New(engine Runner, sessions *state.Store, opts ...Option) *Service {
	s := &Service{
		engine:   engine,
		sessions: sessions,
		logger:   logging.WithComponent("chat"),
		tracer:   otel.Tracer("adaptiverag/chat"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateResponse answers the question for the session. It never returns
// an error and never panics; every failure path degrades to a canned
// message.
func (s *Service) GenerateResponse(ctx context.Context, question, sessionID string) (out string) {
	if sessionID == "" {
		sessionID = DefaultSessionID
	}

	ctx, span := s.tracer.Start(ctx, "chat.generate_response",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("unrecovered failure in response generation",
				"session", sessionID, "panic", rec)
			out = MsgTechnicalDiff
		}
	}()

	s.sessions.Init(sessionID)

	question = strings.TrimSpace(question)
	if len(question) < minQuestionLength {
		return MsgClarify
	}

	health := s.sessions.Health(sessionID)
	if !health.Healthy {
		s.logger.Warn("session unhealthy, refusing request",
			"session", sessionID, "consecutive_failures", health.ConsecutiveFailures)
		return MsgUnhealthy
	}

	response := s.answerWithRetry(ctx, question, sessionID)
	s.afterResponse(ctx, question, response, sessionID)
	return response
}

// answerWithRetry runs the workflow, retrying on catastrophic failure while
// the session's retry budget allows. Each retry prepends a notice so the
// user sees that an earlier attempt failed.
func (s *Service) answerWithRetry(ctx context.Context, question, sessionID string) string {
	var prefix string
	for {
		final, err := s.runWorkflow(ctx, question, sessionID)
		if err == nil {
			return prefix + s.evaluate(final, sessionID)
		}

		s.logger.Error("workflow execution failed", "session", sessionID, "error", err)
		if !s.sessions.MayRetry(sessionID, errors.KindSystem) {
			return prefix + MsgMaxRetries
		}
		s.sessions.RecordRetry(sessionID)
		prefix += RetryPrefix
	}
}

// runWorkflow invokes the engine, converting panics into errors so the
// retry path above can handle them uniformly.
func (s *Service) runWorkflow(ctx context.Context, question, sessionID string) (final workflow.State, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("workflow panicked: %v", rec)
		}
	}()
	return s.engine.Run(ctx, workflow.State{
		Question:    question,
		SessionID:   sessionID,
		UserContext: s.userContext(sessionID),
	})
}

// evaluate inspects the final workflow state and picks the response.
func (s *Service) evaluate(final workflow.State, sessionID string) string {
	generation := strings.TrimSpace(final.Generation)
	if generation == "" {
		return MsgNoGeneration
	}
	if len(generation) < minResponseLength {
		return MsgIncomplete
	}
	s.sessions.SetPhase(sessionID, state.PhaseCompleted, nil)
	return generation
}

// userContext summarizes recent history for contextual retrieval.
func (s *Service) userContext(sessionID string) string {
	if s.history == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	entries, err := s.history.Recent(ctx, sessionID, 3)
	if err != nil || len(entries) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "Q: %s\nA: %s\n", e.Question, e.Response)
	}
	return sb.String()
}

// afterResponse runs the side effects. None of them may disturb the
// response, so each is individually guarded.
func (s *Service) afterResponse(ctx context.Context, question, response, sessionID string) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("post-response side effects failed", "session", sessionID, "panic", rec)
		}
	}()

	result := sentiment.Result{Label: sentiment.LabelNeutral, Score: 0.5}
	if s.analyzer != nil {
		result = s.analyzer.Analyze(ctx, question, sessionID)
	}

	if s.history != nil {
		entry := &history.Entry{
			SessionID: sessionID,
			Question:  question,
			Response:  response,
		}
		if err := s.history.Append(ctx, entry); err != nil {
			s.logger.Warn("failed to record history", "session", sessionID, "error", err)
		}
	}

	if s.mirror != nil {
		if err := s.mirror.Save(ctx, s.sessions.Get(sessionID)); err != nil {
			s.logger.Warn("failed to mirror session", "session", sessionID, "error", err)
		}
	}

	if s.notifier.Enabled() {
		trendLabel, trendScore := sentiment.LabelNeutral, 0.5
		if s.analyzer != nil {
			trendLabel, trendScore = s.analyzer.Trend(sessionID)
		}
		s.notifier.NotifyAsync(notify.Payload{
			Question:     question,
			Response:     response,
			Sentiment:    notify.FromResult(result),
			SessionTrend: notify.Sentiment{Label: string(trendLabel), Score: trendScore},
			Timestamp:    time.Now(),
			SessionID:    sessionID,
		})
	}
}

// SentimentSummary exposes the session's aggregated sentiment history.
func (s *Service) SentimentSummary(sessionID string) sentiment.Summary {
	if s.analyzer == nil {
		return sentiment.Summary{AverageScore: 0.5, Dominant: sentiment.LabelNeutral}
	}
	return s.analyzer.SessionSummary(sessionID)
}

// SessionHealth exposes the session's health snapshot.
func (s *Service) SessionHealth(sessionID string) state.Health {
	return s.sessions.Health(sessionID)
}
