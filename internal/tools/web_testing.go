package tools

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// newWebForTesting builds a Web tool that talks to loopback addresses, for
// tests running against httptest servers. The SSRF transport would reject
// 127.0.0.1, so tests get a plain client and skip the static URL check.
//
// SECURITY WARNING: this bypasses SSRF protection and must only be used in
// tests. Production code always goes through NewWeb.
func newWebForTesting(cfg WebConfig, logger *slog.Logger) *Web {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 2 << 20
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultWebResults
	}

	return &Web{
		searchBaseURL: strings.TrimRight(cfg.SearchBaseURL, "/"),
		client:        &http.Client{Timeout: cfg.FetchTimeout},
		maxResults:    cfg.MaxResults,
		maxBodyBytes:  cfg.MaxBodyBytes,
		skipURLCheck:  true,
		logger:        logger,
	}
}
