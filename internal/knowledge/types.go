// Package knowledge stores and retrieves documents with vector similarity
// search, backed by PostgreSQL + pgvector.
//
// Documents are embedded on write using the configured embedder; Search
// embeds the query and ranks by cosine similarity. The knowledge tool in
// internal/tools exposes this store to the query engine.
package knowledge

import (
	"time"

	"github.com/google/uuid"
)

// VectorDimension is the embedding dimensionality used by the documents
// table (vector(768)). gemini-embedding-001 supports truncation to 768
// via OutputDimensionality.
const VectorDimension int32 = 768

const (
	// EmbedTimeout bounds embedding calls so a slow provider cannot
	// hold a DB connection or request open indefinitely.
	EmbedTimeout = 15 * time.Second

	// SearchTimeout bounds vector search queries.
	SearchTimeout = 10 * time.Second
)

const (
	// DefaultTopK is the default number of search results.
	DefaultTopK = 5

	// MaxTopK caps topK to prevent unbounded result sets.
	MaxTopK = 50
)

// Document is a stored knowledge entry.
type Document struct {
	ID        uuid.UUID
	Content   string
	Metadata  map[string]string
	CreatedAt time.Time
}

// Result pairs a document with its similarity to the search query.
// Similarity is cosine similarity in [0, 1], higher is more similar.
type Result struct {
	Document
	Similarity float64
}

// searchConfig holds resolved search options.
type searchConfig struct {
	topK    int32
	filter  map[string]string
	timeout time.Duration
}

// SearchOption configures Search.
type SearchOption func(*searchConfig)

// WithTopK sets the maximum number of results (clamped to [1, MaxTopK]).
func WithTopK(k int32) SearchOption {
	return func(cfg *searchConfig) {
		cfg.topK = k
	}
}

// WithFilter restricts results to documents whose metadata contains the
// given key/value pair. May be applied multiple times.
func WithFilter(key, value string) SearchOption {
	return func(cfg *searchConfig) {
		if cfg.filter == nil {
			cfg.filter = make(map[string]string)
		}
		cfg.filter[key] = value
	}
}

// WithTimeout overrides the default search timeout.
func WithTimeout(d time.Duration) SearchOption {
	return func(cfg *searchConfig) {
		if d > 0 {
			cfg.timeout = d
		}
	}
}

// buildSearchConfig applies options over defaults and clamps values.
func buildSearchConfig(opts []SearchOption) searchConfig {
	cfg := searchConfig{
		topK:    DefaultTopK,
		timeout: SearchTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.topK <= 0 {
		cfg.topK = DefaultTopK
	}
	if cfg.topK > MaxTopK {
		cfg.topK = MaxTopK
	}
	return cfg
}
