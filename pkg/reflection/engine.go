package reflection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/thoughtmemory/tms/internal/resilience"
	"github.com/thoughtmemory/tms/pkg/memory"
	"github.com/thoughtmemory/tms/pkg/memory/graph"
	"github.com/thoughtmemory/tms/pkg/provider/embeddings"
	"github.com/thoughtmemory/tms/pkg/provider/llm"
	"github.com/thoughtmemory/tms/pkg/tagparser"
)

// currentSessionAlpha is the semantic/recency blend used for both recall
// calls a reflection cycle issues. Reflection favors near-exact topical
// matches over recency far more than a general-purpose recall does.
const currentSessionAlpha = 0.95

// Engine retrieves memory, synthesizes a reflection, and persists the
// resulting meta-thoughts in one batch, then links them into the graph (when
// one is attached) in separate transactions.
type Engine struct {
	store    memory.ThoughtStore
	graph    *graph.Graph
	embedder embeddings.Provider
	llm      llm.Client
	breaker  *resilience.CircuitBreaker
}

// Option configures an [Engine] at construction time.
type Option func(*Engine)

// WithGraph attaches a thought graph so reflections link back to the
// thoughts that prompted them and gain a temporal edge among themselves.
func WithGraph(g *graph.Graph) Option {
	return func(e *Engine) { e.graph = g }
}

// WithLLM attaches the model callable used to synthesize reflection text. If
// never set, or if the call returns an error (including a circuit breaker
// rejection), [Engine.Reflect] falls back to a deterministic templated synthesis.
func WithLLM(client llm.Client) Option {
	return func(e *Engine) { e.llm = client }
}

// WithCircuitBreaker wraps the LLM call with cb, so a persistently failing
// provider degrades to the fallback synthesizer instead of blocking recall.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(e *Engine) { e.breaker = cb }
}

// NewEngine constructs a reflection [Engine] over store, embedding queries
// and reflection content with embedder.
func NewEngine(store memory.ThoughtStore, embedder embeddings.Provider, opts ...Option) *Engine {
	e := &Engine{store: store, embedder: embedder}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ReflectOptions parameterizes one call to [Engine.Reflect].
type ReflectOptions struct {
	// Query is the text whose recalled context seeds the reflection prompt.
	Query string

	// CurrentSessionID is the session being reflected on; also the default
	// session new reflections are stored under.
	CurrentSessionID string

	// Mode selects the prompt template. Defaults to [ModeReasoning].
	Mode string

	// TopK bounds how many recalled thoughts feed the prompt. Defaults to 8.
	TopK int

	// ReflectionSessionID, if non-empty and different from CurrentSessionID,
	// stores generated reflections under a child session branching from
	// CurrentSessionID instead of appending to it directly.
	ReflectionSessionID string
}

// Reflect runs one reflection cycle: recall current- and prior-session
// context, build a mode-specific prompt, synthesize reflection text (via the
// configured LLM, or a deterministic fallback), parse the structured
// `<thought>` output, embed and persist each fragment, and — when a graph is
// attached — link every stored reflection back to the thought that most
// directly prompted it.
func (e *Engine) Reflect(ctx context.Context, opts ReflectOptions) (memory.ReflectionResult, error) {
	mode := opts.Mode
	if mode == "" {
		mode = ModeReasoning
	}
	if !supportsMode(mode) {
		return memory.ReflectionResult{}, fmt.Errorf("reflection: reflect: %w: %s", memory.ErrUnsupportedMode, mode)
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = 8
	}
	if strings.TrimSpace(opts.CurrentSessionID) == "" {
		return memory.ReflectionResult{}, fmt.Errorf("reflection: reflect: %w: current_session_id must be non-empty", memory.ErrValidation)
	}

	start := time.Now()

	queryVector, err := e.embedder.Embed(ctx, opts.Query)
	if err != nil {
		return memory.ReflectionResult{}, fmt.Errorf("reflection: reflect: embed query: %w", err)
	}

	currentHits, err := e.store.SemanticSearch(ctx, queryVector,
		memory.ThoughtFilters{SessionID: opts.CurrentSessionID}, topK, currentSessionAlpha, 1000)
	if err != nil {
		return memory.ReflectionResult{}, fmt.Errorf("reflection: reflect: semantic search: %w", err)
	}

	var expander memory.GraphExpander
	if e.graph != nil {
		expander = e.graph
	}
	priorHits, err := e.store.RecallFromPriorSessions(ctx, queryVector, opts.CurrentSessionID,
		expander, topK, currentSessionAlpha, 1)
	if err != nil {
		return memory.ReflectionResult{}, fmt.Errorf("reflection: reflect: recall from prior sessions: %w", err)
	}

	recalled := mergeRecalled(currentHits, priorHits, topK)
	recalledContext := formatRecalledContext(recalled)

	prompt, err := buildPrompt(mode, opts.Query, recalledContext)
	if err != nil {
		return memory.ReflectionResult{}, fmt.Errorf("reflection: reflect: %w", err)
	}

	reflectionText, err := e.synthesize(ctx, prompt, mode, opts.Query, recalled)
	if err != nil {
		return memory.ReflectionResult{}, fmt.Errorf("reflection: reflect: synthesize: %w", err)
	}

	parsed := tagparser.ParseStructuredThoughts(reflectionText, defaultCategoryForMode(mode), 0.9)

	sessionID := opts.ReflectionSessionID
	if sessionID == "" {
		sessionID = opts.CurrentSessionID
	}
	if opts.ReflectionSessionID != "" && opts.ReflectionSessionID != opts.CurrentSessionID {
		if err := e.store.CreateSession(ctx, opts.ReflectionSessionID, opts.CurrentSessionID, nil); err != nil {
			return memory.ReflectionResult{}, fmt.Errorf("reflection: reflect: create reflection session: %w", err)
		}
	} else if err := e.store.CreateSession(ctx, opts.CurrentSessionID, "", nil); err != nil {
		return memory.ReflectionResult{}, fmt.Errorf("reflection: reflect: create session: %w", err)
	}

	toStore := make([]memory.Thought, 0, len(parsed))
	for _, item := range parsed {
		vector, err := e.embedder.Embed(ctx, item.Content)
		if err != nil {
			return memory.ReflectionResult{}, fmt.Errorf("reflection: reflect: embed reflection: %w", err)
		}
		toStore = append(toStore, memory.Thought{
			ID:           item.ThoughtID,
			SessionID:    sessionID,
			Category:     item.Category,
			Confidence:   item.Confidence,
			Tags:         []string{"reflection", mode},
			RawText:      item.Content,
			CleanedText:  item.Content,
			Embedding:    vector,
			EmbeddingDim: len(vector),
		})
	}

	var stored []memory.Thought
	if len(toStore) > 0 {
		stored, err = e.store.BatchStore(ctx, toStore)
		if err != nil {
			return memory.ReflectionResult{}, fmt.Errorf("reflection: reflect: batch store: %w", err)
		}
	}

	if e.graph != nil && len(stored) > 0 {
		if err := e.linkReflections(ctx, stored, recalled, mode); err != nil {
			return memory.ReflectionResult{}, fmt.Errorf("reflection: reflect: link reflections: %w", err)
		}
	}

	return memory.ReflectionResult{
		ReflectionText:    reflectionText,
		PromptUsed:        prompt,
		RecalledThoughts:  recalled,
		StoredReflections: stored,
		LatencyMS:         float64(time.Since(start).Microseconds()) / 1000.0,
	}, nil
}

// mergeRecalled deduplicates current- and prior-session hits by thought id
// (current-session hits take precedence on conflict) and truncates to topK.
func mergeRecalled(current, prior []memory.ScoredThought, topK int) []memory.ScoredThought {
	seen := map[string]struct{}{}
	merged := make([]memory.ScoredThought, 0, len(current)+len(prior))
	for _, hit := range append(append([]memory.ScoredThought{}, current...), prior...) {
		if _, ok := seen[hit.Thought.ID]; ok {
			continue
		}
		seen[hit.Thought.ID] = struct{}{}
		merged = append(merged, hit)
	}
	if topK < 1 {
		topK = 1
	}
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged
}

func formatRecalledContext(recalled []memory.ScoredThought) string {
	if len(recalled) == 0 {
		return "- (none)"
	}
	lines := make([]string, 0, len(recalled))
	for _, r := range recalled {
		lines = append(lines, formatRecalledLine(r.Thought))
	}
	return strings.Join(lines, "\n")
}

// synthesize produces reflection text via the configured LLM client, falling
// back to a deterministic template when no client is configured or when the
// call returns an error (including a circuit breaker rejection).
func (e *Engine) synthesize(ctx context.Context, prompt, mode, query string, recalled []memory.ScoredThought) (string, error) {
	if e.llm == nil {
		return defaultReflectionText(mode, query, recalled), nil
	}

	var text string
	call := func() error {
		out, err := e.llm.Complete(ctx, prompt)
		if err != nil {
			return err
		}
		text = out
		return nil
	}

	var err error
	if e.breaker != nil {
		err = e.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return defaultReflectionText(mode, query, recalled), nil
	}
	return text, nil
}

// linkReflections adds each stored reflection to the graph (temporal link
// only — it is already stored) and draws an explicit-reference edge from the
// single most relevant recalled thought to it.
func (e *Engine) linkReflections(ctx context.Context, stored []memory.Thought, recalled []memory.ScoredThought, mode string) error {
	var edges []memory.Edge
	for _, t := range stored {
		if _, err := e.graph.AddThought(ctx, t, graph.AddThoughtOptions{
			StoreIfMissing: false,
			TemporalLink:   true,
		}); err != nil {
			return err
		}
		if len(recalled) > 0 {
			edges = append(edges, memory.Edge{
				SourceID: recalled[0].Thought.ID,
				TargetID: t.ID,
				Relation: memory.RelationExplicitReference,
				Weight:   1.0,
				Metadata: map[string]any{"mode": mode},
			})
		}
	}
	if len(edges) == 0 {
		return nil
	}
	return e.graph.LinkMany(ctx, edges)
}

// defaultReflectionText produces deterministic reflection output when no LLM
// is available, one pair of `<thought>` tags per mode referencing up to the
// first two recalled thoughts (or a no-memory notice when recall is empty).
func defaultReflectionText(mode, query string, recalled []memory.ScoredThought) string {
	var first, second string
	if len(recalled) > 0 {
		first = recalled[0].Thought.CleanedText
		if len(recalled) > 1 {
			second = recalled[1].Thought.CleanedText
		} else {
			second = recalled[0].Thought.CleanedText
		}
	} else {
		first = "No prior memory for query: " + query
		second = "Need additional evidence before confidence increases."
	}

	switch mode {
	case ModeSummarization:
		return tag("summary", 0.93, "Summary memory: "+first) + "\n" +
			tag("summary", 0.88, "Actionable summary: "+second)
	case ModeContradictionDetection:
		return tag("reflection", 0.91, "Potential contradiction check: "+first) + "\n" +
			tag("reflection", 0.86, "Reconciliation candidate: "+second)
	case ModePlanning:
		return tag("plan", 0.92, "Next step: operationalize "+first) + "\n" +
			tag("plan", 0.87, "Validation step: verify against "+second)
	default:
		return tag("reflection", 0.94, "Reasoning check: "+first) + "\n" +
			tag("reflection", 0.89, "Risk note: "+second)
	}
}

func tag(category string, confidence float64, content string) string {
	return fmt.Sprintf(`<thought id="%s" category="%s" confidence="%.2f">%s</thought>`,
		uuid.NewString(), category, confidence, content)
}
