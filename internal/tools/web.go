package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/sync/errgroup"

	"github.com/raglet/raglet/internal/security"
)

// WebToolName is the name the web search tool registers under.
const WebToolName = "web_search"

const webDescription = "Search the web via SearXNG and read the top result pages. " +
	"Returns page titles, extracted article text, and source URLs. " +
	"Use this for questions about current events or anything outside the knowledge base."

// Limits for web search behavior.
const (
	// DefaultWebResults is how many search hits are fetched and extracted
	// per question.
	DefaultWebResults = 3
	// webFetchParallelism bounds concurrent page fetches per question.
	webFetchParallelism = 2
	// maxExtractRunes truncates a single page extraction so one long
	// article cannot dominate the synthesis prompt.
	maxExtractRunes = 4000
)

// WebConfig configures the web search tool.
type WebConfig struct {
	// SearchBaseURL is the SearXNG instance URL, e.g. http://searxng:8080.
	SearchBaseURL string
	// FetchTimeout bounds each outbound HTTP request. Zero means 30s.
	FetchTimeout time.Duration
	// MaxBodyBytes caps the bytes read from a fetched page. Zero means 2MB.
	MaxBodyBytes int64
	// MaxResults is how many search hits to read. Zero means DefaultWebResults.
	MaxResults int
}

// Web answers questions by searching a SearXNG instance and extracting
// readable text from the result pages. All outbound requests go through
// an SSRF-validating transport.
type Web struct {
	searchBaseURL string
	client        *http.Client
	validator     *security.URL
	maxResults    int
	maxBodyBytes  int64
	skipURLCheck  bool
	logger        *slog.Logger
}

// NewWeb creates the web search tool.
func NewWeb(cfg WebConfig, logger *slog.Logger) (*Web, error) {
	if cfg.SearchBaseURL == "" {
		return nil, fmt.Errorf("search base URL is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 2 << 20
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultWebResults
	}

	validator := security.NewURL()
	client := &http.Client{
		Transport:     validator.SafeTransport(),
		CheckRedirect: validator.ValidateRedirect,
		Timeout:       cfg.FetchTimeout,
	}

	return &Web{
		searchBaseURL: strings.TrimRight(cfg.SearchBaseURL, "/"),
		client:        client,
		validator:     validator,
		maxResults:    cfg.MaxResults,
		maxBodyBytes:  cfg.MaxBodyBytes,
		logger:        logger,
	}, nil
}

func (w *Web) Name() string        { return WebToolName }
func (w *Web) Description() string { return webDescription }

// searchResult is one hit in a SearXNG JSON response.
type searchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

// Query searches SearXNG and reads the top hits. Pages that fail to fetch
// fall back to the search engine's own snippet, so a flaky site degrades
// the answer instead of failing the branch.
func (w *Web) Query(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("question is required")
	}

	hits, err := w.search(ctx, question)
	if err != nil {
		return "", fmt.Errorf("web search: %w", err)
	}
	if len(hits) == 0 {
		return "", fmt.Errorf("no search results for %q", question)
	}
	if len(hits) > w.maxResults {
		hits = hits[:w.maxResults]
	}

	// Extract result pages concurrently, result order preserved by slot.
	extracts := make([]string, len(hits))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(webFetchParallelism)
	for i, hit := range hits {
		g.Go(func() error {
			text, err := w.extract(gctx, hit.URL)
			if err != nil {
				w.logger.Warn("page extraction failed, using snippet",
					"url", hit.URL, "error", err)
				text = hit.Content
			}
			extracts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("fetching pages: %w", err)
	}

	var b strings.Builder
	for i, hit := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n%s\n(Source: %s)", hit.Title, extracts[i], hit.URL)
	}

	w.logger.Debug("web search answered", "question", question, "result_count", len(hits))
	return b.String(), nil
}

// search queries the SearXNG JSON API.
func (w *Web) search(ctx context.Context, query string) ([]searchResult, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	searchURL := w.searchBaseURL + "/search?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("searxng returned status %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, w.maxBodyBytes)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return parsed.Results, nil
}

// extract fetches a page and pulls out the readable article text.
func (w *Web) extract(ctx context.Context, pageURL string) (string, error) {
	if !w.skipURLCheck {
		if err := w.validator.Validate(pageURL); err != nil {
			return "", fmt.Errorf("url blocked: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, w.maxBodyBytes)

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/html") {
		// JSON and plain text pass through unparsed.
		raw, err := io.ReadAll(body)
		if err != nil {
			return "", fmt.Errorf("reading body: %w", err)
		}
		return truncateRunes(strings.TrimSpace(string(raw)), maxExtractRunes), nil
	}

	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}
	article, err := readability.FromReader(body, parsedURL)
	if err != nil {
		return "", fmt.Errorf("extracting article: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return "", fmt.Errorf("no readable content")
	}
	return truncateRunes(text, maxExtractRunes), nil
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
