package engine

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"
)

// synthesizePrompt builds the final answer from retrieved fragments.
// %s placeholders: question, then the fragment block.
const synthesizePrompt = `Answer the user's question using the research fragments below. Each fragment pairs a sub-question with the answer a retrieval tool gave for it.

Rules:
- Ground the answer in the fragments; do not invent sources
- Synthesize one coherent answer, do not enumerate the fragments
- If the fragments conflict, say so

Question: %s

Fragments:
%s

Answer:`

// noEvidencePrompt is used when every retrieval branch came back absent.
// The turn still answers, honestly, from no retrieved evidence.
const noEvidencePrompt = `Answer the user's question from general knowledge. No supporting information could be retrieved for this question, so be explicit about uncertainty and do not fabricate sources or citations.

Question: %s

Answer:`

func synthesisPrompt(query string, fragments []*Fragment, weightByScore bool) string {
	if len(fragments) == 0 {
		return fmt.Sprintf(noEvidencePrompt, query)
	}
	ordered := fragments
	if weightByScore {
		// Stable sort so ties (including unscored fragments at zero)
		// keep retrieval order.
		ordered = make([]*Fragment, len(fragments))
		copy(ordered, fragments)
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Score > ordered[j].Score
		})
	}
	texts := make([]string, len(ordered))
	for i, f := range ordered {
		texts[i] = f.Text
	}
	return fmt.Sprintf(synthesizePrompt, query, strings.Join(texts, "\n\n---\n\n"))
}

// synthesize produces the complete answer in one blocking call.
func (e *Engine) synthesize(ctx context.Context, query string, fragments []*Fragment) (string, error) {
	answer, err := e.gen.Generate(ctx, synthesisPrompt(query, fragments, e.weightByScore))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSynthesis, err)
	}
	e.logger.Debug("answer synthesized",
		"fragment_count", len(fragments), "answer_length", len(answer))
	return answer, nil
}

// synthesizeStream produces the answer as a single-pass pull sequence of
// text increments. Breaking out of the range cancels the underlying
// generation; the chunk concatenation equals the synthesize output for a
// deterministic generator.
func (e *Engine) synthesizeStream(ctx context.Context, query string, fragments []*Fragment) iter.Seq2[string, error] {
	prompt := synthesisPrompt(query, fragments, e.weightByScore)

	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		abandoned := false
		_, err := e.gen.GenerateStream(ctx, prompt, func(_ context.Context, chunk string) error {
			if chunk == "" {
				return nil
			}
			if !yield(chunk, nil) {
				abandoned = true
				cancel()
				return context.Canceled
			}
			return nil
		})
		if err != nil && !abandoned {
			yield("", fmt.Errorf("%w: %v", ErrSynthesis, err))
		}
	}
}
