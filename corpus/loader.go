package corpus

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sweetpotato0/adaptiverag/pkg/logging"
)

// FallbackContent is indexed when no configured URL can be loaded, so the
// service always starts with a non-empty corpus.
const FallbackContent = "Assessli is a company that provides assessment solutions. " +
	"For more information, visit their website at assessli.com or contact them through their contact page."

// WebLoader fetches pages over HTTP and converts them to plain-text documents.
type WebLoader struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger
}

// WebLoaderOption customises the loader.
type WebLoaderOption func(*WebLoader)

// WithHTTPClient overrides the HTTP client; mainly useful for tests.
func WithHTTPClient(client *http.Client) WebLoaderOption {
	return func(l *WebLoader) {
		if client != nil {
			l.client = client
		}
	}
}

// NewWebLoader creates a loader with a bounded request timeout.
func NewWebLoader(opts ...WebLoaderOption) *WebLoader {
	l := &WebLoader{
		client:    &http.Client{Timeout: 15 * time.Second},
		userAgent: "adaptiverag/1.0",
		logger:    logging.WithComponent("corpus_loader"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load fetches every URL, skipping the ones that fail. When nothing loads it
// returns the canned fallback document rather than an empty corpus.
func (l *WebLoader) Load(ctx context.Context, urls []string) []Document {
	var docs []Document
	for _, url := range urls {
		doc, err := l.loadOne(ctx, url)
		if err != nil {
			l.logger.Warn("failed to load url", "url", url, "error", err)
			continue
		}
		l.logger.Info("loaded url", "url", url, "content_length", len(doc.Content))
		docs = append(docs, doc)
	}

	if len(docs) == 0 {
		l.logger.Warn("no documents could be loaded, using fallback document")
		docs = append(docs, Document{
			Content: FallbackContent,
			Source:  "fallback",
		})
	}
	return docs
}

func (l *WebLoader) loadOne(ctx context.Context, url string) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Document{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", l.userAgent)

	resp, err := l.client.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Document{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Document{}, fmt.Errorf("read body: %w", err)
	}

	text, err := HTMLToText(string(body))
	if err != nil {
		return Document{}, fmt.Errorf("extract text: %w", err)
	}
	if text == "" {
		return Document{}, fmt.Errorf("page produced no text")
	}

	return Document{
		Content: text,
		Source:  url,
	}, nil
}
