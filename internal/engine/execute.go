package engine

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/raglet/raglet/internal/tools"
)

// fragmentFormat labels each answer with the sub-question that produced
// it so synthesis retains provenance.
const fragmentFormat = "Sub question: %s\n\nResponse: %s"

// execute fans the sub-questions out to their tools. It returns exactly
// one slot per input, in input order; a nil slot marks an absent result
// (tool missing, tool error, empty answer, or timeout). A branch failure
// never aborts the batch: every task settles before execute returns.
func (e *Engine) execute(ctx context.Context, subs []SubQuestion) []*Fragment {
	results := make([]*Fragment, len(subs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i, sub := range subs {
		g.Go(func() error {
			results[i] = e.executeOne(gctx, sub)
			return nil
		})
	}
	// Tasks always return nil; Wait is the fan-in barrier.
	_ = g.Wait()

	return results
}

// executeOne runs a single branch and converts every failure mode into
// an absence (nil).
func (e *Engine) executeOne(ctx context.Context, sub SubQuestion) *Fragment {
	tool, err := e.registry.Lookup(sub.ToolName)
	if err != nil {
		e.logger.Debug("sub-question tool not found",
			"tool", sub.ToolName, "sub_question", sub.Text)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.toolTimeout)
	defer cancel()

	var answer string
	var score float64
	if scored, ok := tool.(tools.ScoredTool); ok {
		answer, score, err = scored.QueryScored(ctx, sub.Text)
	} else {
		answer, err = tool.Query(ctx, sub.Text)
	}
	if err != nil {
		e.logger.Debug("sub-question tool call failed",
			"tool", sub.ToolName, "sub_question", sub.Text, "error", err)
		return nil
	}
	if strings.TrimSpace(answer) == "" {
		e.logger.Debug("sub-question tool returned empty answer",
			"tool", sub.ToolName, "sub_question", sub.Text)
		return nil
	}

	return &Fragment{
		Text:  fmt.Sprintf(fragmentFormat, sub.Text, answer),
		Score: score,
	}
}

// present filters out absent slots, preserving original order.
func present(results []*Fragment) []*Fragment {
	fragments := make([]*Fragment, 0, len(results))
	for _, r := range results {
		if r != nil {
			fragments = append(fragments, r)
		}
	}
	return fragments
}
