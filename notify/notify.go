// Package notify posts a summary of each completed exchange to an external
// webhook. Delivery is fire-and-forget: failures are logged and swallowed,
// and the caller never waits on it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/sweetpotato0/adaptiverag/pkg/logging"
	"github.com/sweetpotato0/adaptiverag/sentiment"
)

const (
	defaultTimeout = 5 * time.Second
	defaultRetries = 2
)

// Sentiment is the label/score pair carried in the payload.
type Sentiment struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Payload is the webhook body sent after each response.
type Payload struct {
	Question     string    `json:"question"`
	Response     string    `json:"response"`
	Sentiment    Sentiment `json:"sentiment"`
	SessionTrend Sentiment `json:"session_trend"`
	Timestamp    time.Time `json:"timestamp"`
	SessionID    string    `json:"session_id"`
}

// Notifier delivers payloads to a webhook endpoint.
type Notifier struct {
	url     string
	client  *http.Client
	retries int
	logger  *slog.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) { n.client = c }
}

// WithRetries sets the retry count after the first attempt.
func WithRetries(r int) Option {
	return func(n *Notifier) {
		if r >= 0 {
			n.retries = r
		}
	}
}

// New creates a notifier for the given webhook URL. An empty URL disables
// delivery entirely.
func New(url string, opts ...Option) *Notifier {
	n := &Notifier{
		url:     url,
		client:  &http.Client{Timeout: defaultTimeout},
		retries: defaultRetries,
		logger:  logging.WithComponent("notify"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Enabled reports whether a webhook URL is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.url != ""
}

// NotifyAsync delivers the payload on a background goroutine and returns
// immediately. Use Notify when the caller wants to observe the outcome.
func (n *Notifier) NotifyAsync(payload Payload) {
	if !n.Enabled() {
		return
	}
	go func() {
		_ = n.Notify(context.Background(), payload)
	}()
}

// Notify posts the payload, retrying on failure up to the retry budget. It
// returns the last delivery error once the budget is spent.
func (n *Notifier) Notify(ctx context.Context, payload Payload) error {
	if !n.Enabled() {
		return nil
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("failed to marshal webhook payload", "error", err)
		return err
	}

	var last error
	for attempt := 0; attempt <= n.retries; attempt++ {
		if last = n.post(ctx, body); last != nil {
			n.logger.Warn("webhook delivery failed", "attempt", attempt+1, "error", last)
			continue
		}
		n.logger.Debug("webhook delivered", "session", payload.SessionID)
		return nil
	}
	n.logger.Error("webhook delivery abandoned", "session", payload.SessionID, "attempts", n.retries+1)
	return last
}

func (n *Notifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return http.StatusText(e.code)
}

// FromResult converts a sentiment analysis result into the payload form.
func FromResult(r sentiment.Result) Sentiment {
	return Sentiment{Label: string(r.Label), Score: r.Score}
}
