// Package tools defines the retrieval tool contract and the registry that
// the query engine consults when routing sub-questions.
//
// A tool answers a single natural-language question and returns prose. Tools
// that can attach a relevance score to their answer implement ScoredTool;
// for everything else the engine records a zero score.
package tools

import "context"

// Tool answers a single question. Implementations must be safe for
// concurrent use: the engine fans sub-questions out in parallel.
type Tool interface {
	// Name is the stable identifier the decomposer routes by.
	Name() string
	// Description is advertised to the decomposition model so it can pick
	// the right tool for each sub-question.
	Description() string
	// Query answers the question. A non-nil error marks the branch as
	// failed; the engine absorbs it and continues with the other branches.
	Query(ctx context.Context, question string) (string, error)
}

// ScoredTool is implemented by tools whose backing store produces a
// relevance score alongside the answer, such as vector search.
type ScoredTool interface {
	Tool
	QueryScored(ctx context.Context, question string) (answer string, score float64, err error)
}

// Metadata describes a registered tool for prompt construction.
type Metadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}
