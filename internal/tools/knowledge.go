package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/raglet/raglet/internal/knowledge"
)

// KnowledgeToolName is the name the knowledge search tool registers under.
const KnowledgeToolName = "knowledge_search"

const knowledgeDescription = "Search the indexed knowledge base using semantic similarity. " +
	"Finds stored documents that are conceptually related to the question. " +
	"Use this for questions about previously ingested material."

// searcher is the slice of knowledge.Store the tool depends on.
type searcher interface {
	Search(ctx context.Context, query string, opts ...knowledge.SearchOption) ([]knowledge.Result, error)
}

// Knowledge answers questions from the pgvector document store. It
// implements ScoredTool: the score is the cosine similarity of the best
// matching document.
type Knowledge struct {
	store  searcher
	topK   int32
	logger *slog.Logger
}

// NewKnowledge creates the knowledge search tool. topK <= 0 falls back to
// the store default.
func NewKnowledge(store searcher, topK int32, logger *slog.Logger) (*Knowledge, error) {
	if store == nil {
		return nil, fmt.Errorf("knowledge store is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if topK <= 0 {
		topK = knowledge.DefaultTopK
	}
	return &Knowledge{store: store, topK: topK, logger: logger}, nil
}

func (k *Knowledge) Name() string        { return KnowledgeToolName }
func (k *Knowledge) Description() string { return knowledgeDescription }

// Query answers the question without a score.
func (k *Knowledge) Query(ctx context.Context, question string) (string, error) {
	answer, _, err := k.QueryScored(ctx, question)
	return answer, err
}

// QueryScored searches the store and formats the matches into prose the
// synthesizer can quote. An empty result set is an error so the engine
// records the branch as absent rather than synthesizing from nothing.
func (k *Knowledge) QueryScored(ctx context.Context, question string) (string, float64, error) {
	results, err := k.store.Search(ctx, question, knowledge.WithTopK(k.topK))
	if err != nil {
		return "", 0, fmt.Errorf("knowledge search: %w", err)
	}
	if len(results) == 0 {
		return "", 0, fmt.Errorf("no matching documents for %q", question)
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(r.Content)
	}

	k.logger.Debug("knowledge search answered",
		"question", question,
		"result_count", len(results),
		"top_similarity", results[0].Similarity)

	// Results are ordered by similarity; the first is the best match.
	return b.String(), results[0].Similarity, nil
}
