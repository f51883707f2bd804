package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raglet/raglet/internal/log"
	"github.com/raglet/raglet/internal/tools"
)

func testLogger() *slog.Logger {
	return log.NewNop()
}

// fakeGenerator scripts generation per prompt. onGenerate serves both
// modes; onStream, when set, overrides the chunking for streaming calls
// (default: the whole response as one chunk).
type fakeGenerator struct {
	mu         sync.Mutex
	onGenerate func(prompt string) (string, error)
	onStream   func(prompt string) []string
	prompts    []string
}

func (f *fakeGenerator) record(prompt string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.record(prompt)
	return f.onGenerate(prompt)
}

func (f *fakeGenerator) GenerateStream(ctx context.Context, prompt string, cb func(ctx context.Context, chunk string) error) (string, error) {
	f.record(prompt)
	full, err := f.onGenerate(prompt)
	if err != nil {
		return "", err
	}
	chunks := []string{full}
	if f.onStream != nil {
		chunks = f.onStream(prompt)
	}
	for _, c := range chunks {
		if err := cb(ctx, c); err != nil {
			return "", err
		}
	}
	return full, nil
}

// stubTool answers with a fixed string after an optional delay.
type stubTool struct {
	name   string
	answer string
	err    error
	delay  time.Duration
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub tool " + s.name }

func (s *stubTool) Query(ctx context.Context, _ string) (string, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.answer, s.err
}

// scoredStub additionally reports a relevance score.
type scoredStub struct {
	stubTool
	score float64
}

func (s *scoredStub) QueryScored(ctx context.Context, question string) (string, float64, error) {
	answer, err := s.Query(ctx, question)
	return answer, s.score, err
}

func newRegistry(t *testing.T, ts ...tools.Tool) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	for _, tool := range ts {
		if err := r.Register(tool); err != nil {
			t.Fatalf("Register(%s) = %v", tool.Name(), err)
		}
	}
	return r
}

func newEngine(t *testing.T, gen Generator, r *tools.Registry, opts ...func(*Config)) *Engine {
	t.Helper()
	cfg := Config{Generator: gen, Registry: r, Logger: testLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	return e
}

// decomposition reply routing "q" to the named tools, one sub-question each.
func decomposeReply(toolNames ...string) string {
	entries := make([]string, len(toolNames))
	for i, name := range toolNames {
		entries[i] = fmt.Sprintf(`{"subQuestion": "sub %d", "tool": %q}`, i, name)
	}
	return "[" + strings.Join(entries, ",") + "]"
}

// routedGenerator answers the decompose prompt with plan and every other
// prompt with answer.
func routedGenerator(plan, answer string) *fakeGenerator {
	return &fakeGenerator{onGenerate: func(prompt string) (string, error) {
		if strings.Contains(prompt, "query planning system") {
			return plan, nil
		}
		return answer, nil
	}}
}

func TestEngineQuery(t *testing.T) {
	t.Parallel()

	gen := routedGenerator(decomposeReply("docs"), "the final answer")
	e := newEngine(t, gen, newRegistry(t, &stubTool{name: "docs", answer: "42"}))

	answer, err := e.Query(context.Background(), "What is X?")
	if err != nil {
		t.Fatalf("Query() = %v, want nil", err)
	}
	if answer != "the final answer" {
		t.Errorf("Query() = %q, want %q", answer, "the final answer")
	}

	// The synthesis prompt carries the provenance-labeled fragment.
	last := gen.prompts[len(gen.prompts)-1]
	if !strings.Contains(last, "Sub question: sub 0\n\nResponse: 42") {
		t.Errorf("synthesis prompt = %q, want the labeled fragment", last)
	}
	if !strings.Contains(last, "What is X?") {
		t.Errorf("synthesis prompt = %q, want the original question", last)
	}
}

func TestEngineQueryDecompositionFatal(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{onGenerate: func(string) (string, error) {
		return "", errors.New("model exploded")
	}}
	e := newEngine(t, gen, newRegistry(t))

	_, err := e.Query(context.Background(), "anything")
	if !errors.Is(err, ErrDecomposition) {
		t.Errorf("Query() error = %v, want ErrDecomposition", err)
	}
}

func TestEngineQuerySynthesisFatal(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{onGenerate: func(prompt string) (string, error) {
		if strings.Contains(prompt, "query planning system") {
			return decomposeReply("docs"), nil
		}
		return "", errors.New("model exploded")
	}}
	e := newEngine(t, gen, newRegistry(t, &stubTool{name: "docs", answer: "42"}))

	_, err := e.Query(context.Background(), "anything")
	if !errors.Is(err, ErrSynthesis) {
		t.Errorf("Query() error = %v, want ErrSynthesis", err)
	}
}

func TestEngineQueryAllToolsFailedStillAnswers(t *testing.T) {
	t.Parallel()

	gen := routedGenerator(decomposeReply("docs", "web"), "honest answer")
	e := newEngine(t, gen, newRegistry(t,
		&stubTool{name: "docs", err: errors.New("down")},
		// "web" routed but never registered.
	))

	answer, err := e.Query(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Query(all branches absent) = %v, want nil", err)
	}
	if answer != "honest answer" {
		t.Errorf("Query() = %q, want %q", answer, "honest answer")
	}

	// Zero fragments switches to the no-evidence prompt.
	last := gen.prompts[len(gen.prompts)-1]
	if !strings.Contains(last, "No supporting information could be retrieved") {
		t.Errorf("synthesis prompt = %q, want the no-evidence wording", last)
	}
}

func TestEngineStreamEqualsBatch(t *testing.T) {
	t.Parallel()

	plan := decomposeReply("docs")
	const full = "one two three four"
	newGen := func() *fakeGenerator {
		g := routedGenerator(plan, full)
		g.onStream = func(prompt string) []string {
			if strings.Contains(prompt, "query planning system") {
				return []string{plan}
			}
			return []string{"one ", "two ", "three ", "four"}
		}
		return g
	}

	registry := func() *tools.Registry {
		return newRegistry(t, &stubTool{name: "docs", answer: "42"})
	}

	batch, err := newEngine(t, newGen(), registry()).Query(context.Background(), "q")
	if err != nil {
		t.Fatalf("Query() = %v", err)
	}

	var streamed strings.Builder
	for chunk, err := range newEngine(t, newGen(), registry()).QueryStream(context.Background(), "q") {
		if err != nil {
			t.Fatalf("QueryStream() yielded error %v", err)
		}
		streamed.WriteString(chunk)
	}

	if streamed.String() != batch {
		t.Errorf("streamed concatenation = %q, batch = %q, want equal", streamed.String(), batch)
	}
}

func TestEngineQueryStreamDecompositionError(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{onGenerate: func(string) (string, error) {
		return "not json at all {", nil
	}}
	e := newEngine(t, gen, newRegistry(t))

	var chunks int
	var gotErr error
	for chunk, err := range e.QueryStream(context.Background(), "q") {
		if err != nil {
			gotErr = err
			continue
		}
		if chunk != "" {
			chunks++
		}
	}
	if !errors.Is(gotErr, ErrDecomposition) {
		t.Errorf("QueryStream() error = %v, want ErrDecomposition", gotErr)
	}
	if chunks != 0 {
		t.Errorf("QueryStream() yielded %d content chunks before fatal error, want 0", chunks)
	}
}

func TestEngineGenerateTitle(t *testing.T) {
	t.Parallel()

	t.Run("trims and returns model output", func(t *testing.T) {
		t.Parallel()
		gen := &fakeGenerator{onGenerate: func(string) (string, error) {
			return "  Postgres Pooling  \n", nil
		}}
		e := newEngine(t, gen, newRegistry(t))
		if got := e.GenerateTitle(context.Background(), "how do pools work?"); got != "Postgres Pooling" {
			t.Errorf("GenerateTitle() = %q, want %q", got, "Postgres Pooling")
		}
	})

	t.Run("empty on failure", func(t *testing.T) {
		t.Parallel()
		gen := &fakeGenerator{onGenerate: func(string) (string, error) {
			return "", errors.New("model down")
		}}
		e := newEngine(t, gen, newRegistry(t))
		if got := e.GenerateTitle(context.Background(), "anything"); got != "" {
			t.Errorf("GenerateTitle(failure) = %q, want empty", got)
		}
	})

	t.Run("truncates long titles to rune limit", func(t *testing.T) {
		t.Parallel()
		gen := &fakeGenerator{onGenerate: func(string) (string, error) {
			return strings.Repeat("標", 400), nil
		}}
		e := newEngine(t, gen, newRegistry(t))
		got := e.GenerateTitle(context.Background(), "anything")
		if n := len([]rune(got)); n != titleMaxRunes {
			t.Errorf("GenerateTitle() rune length = %d, want %d", n, titleMaxRunes)
		}
		if !strings.HasSuffix(got, "...") {
			t.Errorf("GenerateTitle() = %q, want ellipsis suffix", got)
		}
	})
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{onGenerate: func(string) (string, error) { return "", nil }}
	r := tools.NewRegistry()

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "missing generator", cfg: Config{Registry: r, Logger: testLogger()}},
		{name: "missing registry", cfg: Config{Generator: gen, Logger: testLogger()}},
		{name: "missing logger", cfg: Config{Generator: gen, Registry: r}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() = nil, want error")
			}
		})
	}
}
