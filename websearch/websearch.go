// Package websearch provides a lightweight web search client used as a
// fallback source when the local corpus has nothing relevant.
package websearch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/sweetpotato0/adaptiverag/pkg/logging"
)

const (
	endpoint   = "https://html.duckduckgo.com/html/"
	maxResults = 3
	userAgent  = "Mozilla/5.0 (compatible; adaptiverag/1.0)"
)

// Result is a single search hit.
type Result struct {
	Title   string
	Snippet string
	URL     string
}

// Text renders the result as a context passage for generation.
func (r Result) Text() string {
	if r.Title == "" {
		return r.Snippet
	}
	return r.Title + ": " + r.Snippet
}

// Searcher retrieves web results for a query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// Client scrapes the DuckDuckGo HTML endpoint. It needs no API key, which
// keeps the fallback usable in every deployment.
type Client struct {
	httpClient *http.Client
	maxResults int
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(w *Client) { w.httpClient = c }
}

// WithMaxResults caps the number of returned results.
func WithMaxResults(n int) Option {
	return func(w *Client) {
		if n > 0 {
			w.maxResults = n
		}
	}
}

// NewClient creates a search client with a 10s request timeout.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxResults: maxResults,
		logger:     logging.WithComponent("websearch"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search returns up to maxResults hits for the query.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty search query")
	}

	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}

	results := c.parseResults(doc)
	c.logger.Debug("web search completed", "query", query, "results", len(results))
	return results, nil
}

func (c *Client) parseResults(doc *goquery.Document) []Result {
	var results []Result
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		link := s.Find(".result__a").First()
		title := strings.TrimSpace(link.Text())
		snippet := strings.TrimSpace(s.Find(".result__snippet").First().Text())
		if title == "" && snippet == "" {
			return true
		}
		href, _ := link.Attr("href")
		results = append(results, Result{
			Title:   title,
			Snippet: snippet,
			URL:     resolveRedirect(href),
		})
		return len(results) < c.maxResults
	})
	return results
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= redirect links.
func resolveRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}
