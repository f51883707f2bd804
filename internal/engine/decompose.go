package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// maxDecomposeResponseBytes limits model output size before JSON parsing.
const maxDecomposeResponseBytes = 10 * 1024

// decomposePrompt instructs the model to split the query into
// tool-targeted sub-questions. %d: max sub-questions. %s: tool list,
// then the query.
const decomposePrompt = `You are a query planning system. Break the user's question into focused sub-questions and assign each to the single best tool.

Available tools:
%s

Rules:
- Produce at most %d sub-questions
- Each sub-question must be answerable by exactly one of the tools above
- Use the tool name exactly as listed
- A simple question may produce just one sub-question
- Do NOT answer the question yourself

Output format: JSON array.
Example: [{"subQuestion": "What is connection pooling?", "tool": "knowledge_search"}]

Question: %s

Sub-questions as JSON array:`

// decompose asks the model to plan the turn. Any failure here is fatal:
// there is nothing to execute without sub-questions.
func (e *Engine) decompose(ctx context.Context, query string) ([]SubQuestion, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrDecomposition)
	}

	prompt := fmt.Sprintf(decomposePrompt, e.toolList(), e.maxSubQuestions, query)

	resp, err := e.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecomposition, err)
	}

	text := strings.TrimSpace(resp)
	if text == "" {
		return nil, fmt.Errorf("%w: empty model response", ErrDecomposition)
	}
	if len(text) > maxDecomposeResponseBytes {
		return nil, fmt.Errorf("%w: response too large: %d bytes", ErrDecomposition, len(text))
	}

	text = stripCodeFences(text)

	var subs []SubQuestion
	if err := json.Unmarshal([]byte(text), &subs); err != nil {
		return nil, fmt.Errorf("%w: parsing model response: %v (raw: %q)", ErrDecomposition, err, truncate(text, 200))
	}

	// Drop structurally empty entries; the tool-name match itself is the
	// executor's concern (a bad name becomes an absence, not an error).
	valid := subs[:0]
	for _, s := range subs {
		s.Text = strings.TrimSpace(s.Text)
		s.ToolName = strings.TrimSpace(s.ToolName)
		if s.Text == "" || s.ToolName == "" {
			continue
		}
		valid = append(valid, s)
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("%w: no usable sub-questions in model response", ErrDecomposition)
	}
	if len(valid) > e.maxSubQuestions {
		valid = valid[:e.maxSubQuestions]
	}

	e.logger.Debug("query decomposed", "sub_question_count", len(valid))
	return valid, nil
}

// toolList renders registry metadata for the decomposition prompt, in
// registration order.
func (e *Engine) toolList() string {
	var b strings.Builder
	for _, m := range e.registry.Describe() {
		fmt.Fprintf(&b, "- %s: %s\n", m.Name, m.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

// stripCodeFences removes ```json ... ``` wrapping from model output.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}

// truncate shortens s to at most n bytes for logging.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
