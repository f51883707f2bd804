package config

// SearXNGConfig holds SearXNG service configuration for web search.
type SearXNGConfig struct {
	// BaseURL is the SearXNG instance URL (e.g., http://searxng:8080)
	BaseURL string `mapstructure:"base_url" json:"base_url"`
}

// WebFetcherConfig holds page-fetch configuration for the web tool.
type WebFetcherConfig struct {
	// TimeoutMs is the per-page request timeout in milliseconds (default: 30000)
	TimeoutMs int `mapstructure:"timeout_ms" json:"timeout_ms"`
	// MaxBodyBytes caps the downloaded page size (default: 2 MiB)
	MaxBodyBytes int64 `mapstructure:"max_body_bytes" json:"max_body_bytes"`
}
