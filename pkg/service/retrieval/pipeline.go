package retrieval

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/kioku/pkg/adapter"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/utils/logging"
)

const (
	topKRetrieve = 8
	topKForce    = 12

	continuityQuery = "recent work summary and session continuity"
	continuityTopK  = 5

	// DefaultRemindCooldown spaces out the pending-task reminder block.
	DefaultRemindCooldown = 10 * time.Minute
)

// TaskLister fetches reconciled pending tasks for the auto-remind block.
// The returned error signals that the fetch itself failed, so the reminder
// cooldown must not be consumed.
type TaskLister interface {
	FindTasks(ctx context.Context, filter *model.TaskFilter) ([]model.TaskView, error)
}

// Pipeline is the smart retrieval read path: pre-retrieval decision, query
// construction, search, optional rerank, sufficiency filter, todo reminder
// and context-block composition.
type Pipeline struct {
	svc        adapter.Service
	classifier Classifier
	reranker   *Reranker
	tasks      TaskLister
	filterOpts FilterOptions

	remindCooldown time.Duration
	now            func() time.Time

	mu         sync.Mutex
	lastRemind time.Time
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithClassifier replaces the default bilingual classifier.
func WithClassifier(c Classifier) PipelineOption {
	return func(p *Pipeline) { p.classifier = c }
}

// WithReranker enables LLM relevance reranking of the free-text channel.
func WithReranker(r *Reranker) PipelineOption {
	return func(p *Pipeline) { p.reranker = r }
}

// WithTaskLister enables the pending-task reminder block.
func WithTaskLister(l TaskLister) PipelineOption {
	return func(p *Pipeline) { p.tasks = l }
}

// WithFilterOptions overrides sufficiency filter tuning.
func WithFilterOptions(opts FilterOptions) PipelineOption {
	return func(p *Pipeline) { p.filterOpts = opts }
}

// WithRemindCooldown overrides the reminder cooldown.
func WithRemindCooldown(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.remindCooldown = d }
}

// WithLastRemind seeds the reminder cooldown from persisted state.
func WithLastRemind(t time.Time) PipelineOption {
	return func(p *Pipeline) { p.lastRemind = t }
}

// WithPipelineClock injects a clock for tests.
func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a retrieval pipeline over the memory service.
func NewPipeline(svc adapter.Service, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		svc:            svc,
		classifier:     NewClassifier(),
		filterOpts:     DefaultFilterOptions(),
		remindCooldown: DefaultRemindCooldown,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// LastRemind returns the reminder cooldown timestamp for persistence.
func (p *Pipeline) LastRemind() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRemind
}

// Retrieve produces the context block to inject for the prompt, or "" when
// nothing is worth injecting. It never fails past this boundary: every error
// is logged and degrades to no injection.
func (p *Pipeline) Retrieve(ctx context.Context, prompt string, postCompaction bool) string {
	logger := logging.From(ctx)

	decision := p.classifier.Classify(prompt)
	if postCompaction {
		// Context was just compacted away; always fetch the richer set.
		decision = DecisionForce
	}
	if decision == DecisionSkip {
		return ""
	}

	if !p.svc.IsHealthy(ctx) {
		logger.Debug("memory service unhealthy, skipping retrieval")
		return ""
	}

	var result model.SearchResult
	if postCompaction {
		result = p.searchPostCompaction(ctx, prompt)
	} else {
		result = p.search(ctx, prompt, decision)
	}

	memories := result.Memories
	if p.reranker != nil {
		memories = p.reranker.Rerank(ctx, prompt, memories)
	}
	memories = Filter(memories, p.filterOpts)

	todoBlock := p.todoRemind(ctx)

	return composeBlocks(
		formatMemories(memories),
		formatSkills(result.Skills),
		formatPreferences(result.Preferences),
		todoBlock,
	)
}

func (p *Pipeline) search(ctx context.Context, prompt string, decision Decision) model.SearchResult {
	topK := topKRetrieve
	if decision == DecisionForce {
		topK = topKForce
	}

	result, err := p.svc.Search(ctx, &adapter.SearchInput{
		Query:              buildQuery(prompt),
		TopK:               topK,
		IncludeSkills:      true,
		IncludePreferences: true,
	})
	if err != nil {
		logging.From(ctx).Warn("memory search failed", "error", err)
		return model.SearchResult{}
	}
	return *result
}

// searchPostCompaction runs two searches concurrently: one structurally
// filtered to compaction summaries with a fixed continuity query, one on the
// enriched prompt. Both must settle before the merge; either may fail alone.
func (p *Pipeline) searchPostCompaction(ctx context.Context, prompt string) model.SearchResult {
	logger := logging.From(ctx)

	var wg sync.WaitGroup
	var continuity, prompted *model.SearchResult

	wg.Add(2)
	go func() {
		defer wg.Done()
		result, err := p.svc.Search(ctx, &adapter.SearchInput{
			Query:  continuityQuery,
			TopK:   continuityTopK,
			Filter: map[string]any{model.InfoKeyType: string(model.MemoryTypeCompaction)},
		})
		if err != nil {
			logger.Warn("continuity search failed", "error", err)
			return
		}
		continuity = result
	}()
	go func() {
		defer wg.Done()
		result, err := p.svc.Search(ctx, &adapter.SearchInput{
			Query:              buildQuery(prompt),
			TopK:               topKForce,
			IncludeSkills:      true,
			IncludePreferences: true,
		})
		if err != nil {
			logger.Warn("post-compaction prompt search failed", "error", err)
			return
		}
		prompted = result
	}()
	wg.Wait()

	merged := model.SearchResult{}
	if continuity != nil {
		merged.Memories = continuity.Memories
	}
	if prompted != nil {
		merged.Memories = mergeByPrefix(merged.Memories, prompted.Memories)
		merged.Skills = prompted.Skills
		merged.Preferences = prompted.Preferences
	}
	return merged
}

// todoRemind fetches pending tasks when the cooldown has elapsed. The
// cooldown is consumed only after a successful fetch, so a failure simply
// retries on the next turn. The elapsed check is redone before committing
// because the fetch suspends between check and set.
func (p *Pipeline) todoRemind(ctx context.Context) string {
	if p.tasks == nil {
		return ""
	}

	now := p.now()
	p.mu.Lock()
	elapsed := now.Sub(p.lastRemind) >= p.remindCooldown
	p.mu.Unlock()
	if !elapsed {
		return ""
	}

	pending, err := p.tasks.FindTasks(ctx, &model.TaskFilter{Status: model.TaskStatusPending})
	if err != nil {
		logging.From(ctx).Debug("pending task fetch failed, reminder deferred", "error", err)
		return ""
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.now().Sub(p.lastRemind) < p.remindCooldown {
		// Another invocation won the race while we were fetching.
		return ""
	}
	p.lastRemind = now

	return formatTasks(pending)
}
