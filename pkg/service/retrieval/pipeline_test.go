package retrieval_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kioku/pkg/adapter"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/service/retrieval"
)

type mockService struct {
	mu       sync.Mutex
	searches []*adapter.SearchInput

	searchFunc func(ctx context.Context, input *adapter.SearchInput) (*model.SearchResult, error)
	chatFunc   func(ctx context.Context, prompt string) (string, error)
	healthy    bool
	added      []*model.Record
}

func (m *mockService) Search(ctx context.Context, input *adapter.SearchInput) (*model.SearchResult, error) {
	m.mu.Lock()
	m.searches = append(m.searches, input)
	m.mu.Unlock()
	if m.searchFunc != nil {
		return m.searchFunc(ctx, input)
	}
	return &model.SearchResult{}, nil
}

func (m *mockService) Add(ctx context.Context, rec *model.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.added = append(m.added, rec)
}

func (m *mockService) AddWait(ctx context.Context, rec *model.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.added = append(m.added, rec)
	return nil
}

func (m *mockService) Chat(ctx context.Context, prompt string) (string, error) {
	if m.chatFunc != nil {
		return m.chatFunc(ctx, prompt)
	}
	return "", errors.New("not implemented")
}

func (m *mockService) IsHealthy(ctx context.Context) bool {
	return m.healthy
}

func (m *mockService) searchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.searches)
}

type mockTaskLister struct {
	findFunc func(ctx context.Context, filter *model.TaskFilter) ([]model.TaskView, error)
	calls    int
}

func (m *mockTaskLister) FindTasks(ctx context.Context, filter *model.TaskFilter) ([]model.TaskView, error) {
	m.calls++
	return m.findFunc(ctx, filter)
}

func memoriesResult(texts ...string) *model.SearchResult {
	return &model.SearchResult{Memories: candidates(texts...)}
}

func TestRetrieveSkipsCasualPrompt(t *testing.T) {
	svc := &mockService{healthy: true}
	pipeline := retrieval.NewPipeline(svc)

	gt.Equal(t, pipeline.Retrieve(context.Background(), "hi", false), "")
	gt.Equal(t, svc.searchCount(), 0)
}

func TestRetrieveHealthGate(t *testing.T) {
	svc := &mockService{healthy: false}
	pipeline := retrieval.NewPipeline(svc)

	out := pipeline.Retrieve(context.Background(), "please refactor the auth module to use sessions", false)
	gt.Equal(t, out, "")
	gt.Equal(t, svc.searchCount(), 0)
}

func TestRetrieveComposesBlocks(t *testing.T) {
	svc := &mockService{
		healthy: true,
		searchFunc: func(ctx context.Context, input *adapter.SearchInput) (*model.SearchResult, error) {
			return &model.SearchResult{
				Memories: candidates("the auth module was migrated to sessions in march"),
				Skills: []model.Candidate{{
					Text: "deploy procedure",
					Info: map[string]any{"name": "deploy", "description": "run make release"},
				}},
				Preferences: candidates("prefers table-driven tests in Go projects"),
			}, nil
		},
	}
	pipeline := retrieval.NewPipeline(svc)

	out := pipeline.Retrieve(context.Background(), "please refactor the auth module to use sessions", false)
	gt.S(t, out).Contains("<kioku-memory>")
	gt.S(t, out).Contains("</kioku-memory>")
	gt.S(t, out).Contains("migrated to sessions")
	gt.S(t, out).Contains("deploy: run make release")
	gt.S(t, out).Contains("table-driven tests")

	gt.Equal(t, svc.searchCount(), 1)
	gt.Equal(t, svc.searches[0].TopK, 8)
}

func TestRetrieveForceUsesLargerBudget(t *testing.T) {
	svc := &mockService{
		healthy: true,
		searchFunc: func(ctx context.Context, input *adapter.SearchInput) (*model.SearchResult, error) {
			return memoriesResult(), nil
		},
	}
	pipeline := retrieval.NewPipeline(svc)

	pipeline.Retrieve(context.Background(), "what did you say about the database last time?", false)
	gt.Equal(t, svc.searches[0].TopK, 12)
}

func TestRetrieveEmptyResultInjectsNothing(t *testing.T) {
	svc := &mockService{
		healthy: true,
		searchFunc: func(ctx context.Context, input *adapter.SearchInput) (*model.SearchResult, error) {
			return &model.SearchResult{}, nil
		},
	}
	pipeline := retrieval.NewPipeline(svc)

	out := pipeline.Retrieve(context.Background(), "please refactor the auth module to use sessions", false)
	gt.Equal(t, out, "")
}

func TestRetrieveSearchFailureDegrades(t *testing.T) {
	svc := &mockService{
		healthy: true,
		searchFunc: func(ctx context.Context, input *adapter.SearchInput) (*model.SearchResult, error) {
			return nil, errors.New("boom")
		},
	}
	pipeline := retrieval.NewPipeline(svc)

	out := pipeline.Retrieve(context.Background(), "please refactor the auth module to use sessions", false)
	gt.Equal(t, out, "")
}

func TestRetrievePostCompaction(t *testing.T) {
	svc := &mockService{healthy: true}
	svc.searchFunc = func(ctx context.Context, input *adapter.SearchInput) (*model.SearchResult, error) {
		if input.Filter != nil {
			gt.Equal[any](t, input.Filter[model.InfoKeyType], string(model.MemoryTypeCompaction))
			return memoriesResult(
				"compaction summary: worked on retry logic for the client",
				"shared memory line that appears in both searches",
			), nil
		}
		return memoriesResult(
			"shared memory line that appears in both searches",
			"fresh memory from the prompt-driven search results",
		), nil
	}
	pipeline := retrieval.NewPipeline(svc)

	// A short casual prompt still forces retrieval right after compaction.
	out := pipeline.Retrieve(context.Background(), "hi", true)
	gt.Equal(t, svc.searchCount(), 2)
	gt.S(t, out).Contains("retry logic")
	gt.S(t, out).Contains("fresh memory")

	// The overlapping line is merged away by its content prefix.
	gt.Equal(t, countOccurrences(out, "shared memory line"), 1)
}

func TestTodoRemindCooldown(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	lister := &mockTaskLister{
		findFunc: func(ctx context.Context, filter *model.TaskFilter) ([]model.TaskView, error) {
			gt.Equal(t, filter.Status, model.TaskStatusPending)
			return []model.TaskView{
				{Task: model.Task{Title: "migrate auth", Priority: model.PriorityP1}},
			}, nil
		},
	}
	svc := &mockService{
		healthy: true,
		searchFunc: func(ctx context.Context, input *adapter.SearchInput) (*model.SearchResult, error) {
			return memoriesResult("an unrelated memory long enough to survive filtering"), nil
		},
	}
	pipeline := retrieval.NewPipeline(svc,
		retrieval.WithTaskLister(lister),
		retrieval.WithPipelineClock(func() time.Time { return now }),
	)

	prompt := "please refactor the auth module to use sessions"

	out := pipeline.Retrieve(context.Background(), prompt, false)
	gt.S(t, out).Contains("[P1] migrate auth")
	gt.Equal(t, lister.calls, 1)

	// Within the cooldown the reminder is suppressed.
	now = now.Add(time.Minute)
	out = pipeline.Retrieve(context.Background(), prompt, false)
	gt.S(t, out).NotContains("migrate auth")

	// After the cooldown it fires again.
	now = now.Add(retrieval.DefaultRemindCooldown)
	out = pipeline.Retrieve(context.Background(), prompt, false)
	gt.S(t, out).Contains("migrate auth")
}

func TestTodoRemindCooldownRestored(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	lister := &mockTaskLister{
		findFunc: func(ctx context.Context, filter *model.TaskFilter) ([]model.TaskView, error) {
			return []model.TaskView{
				{Task: model.Task{Title: "migrate auth", Priority: model.PriorityP1}},
			}, nil
		},
	}
	svc := &mockService{
		healthy: true,
		searchFunc: func(ctx context.Context, input *adapter.SearchInput) (*model.SearchResult, error) {
			return memoriesResult("an unrelated memory long enough to survive filtering"), nil
		},
	}

	// A pipeline seeded from a recent persisted timestamp stays quiet, as a
	// fresh process resuming mid-cooldown must.
	pipeline := retrieval.NewPipeline(svc,
		retrieval.WithTaskLister(lister),
		retrieval.WithLastRemind(now.Add(-time.Minute)),
		retrieval.WithPipelineClock(func() time.Time { return now }),
	)

	out := pipeline.Retrieve(context.Background(), "please refactor the auth module to use sessions", false)
	gt.S(t, out).NotContains("migrate auth")
	gt.Equal(t, lister.calls, 0)
	gt.True(t, pipeline.LastRemind().Equal(now.Add(-time.Minute)))
}

func TestTodoRemindFailureDoesNotConsumeCooldown(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	failures := 0
	lister := &mockTaskLister{
		findFunc: func(ctx context.Context, filter *model.TaskFilter) ([]model.TaskView, error) {
			if failures == 0 {
				failures++
				return nil, errors.New("service hiccup")
			}
			return []model.TaskView{
				{Task: model.Task{Title: "retry me", Priority: model.PriorityP2}},
			}, nil
		},
	}
	svc := &mockService{
		healthy: true,
		searchFunc: func(ctx context.Context, input *adapter.SearchInput) (*model.SearchResult, error) {
			return memoriesResult("an unrelated memory long enough to survive filtering"), nil
		},
	}
	pipeline := retrieval.NewPipeline(svc,
		retrieval.WithTaskLister(lister),
		retrieval.WithPipelineClock(func() time.Time { return now }),
	)

	prompt := "please refactor the auth module to use sessions"

	out := pipeline.Retrieve(context.Background(), prompt, false)
	gt.S(t, out).NotContains("retry me")

	// The failed fetch left the cooldown unconsumed: next turn retries.
	now = now.Add(time.Second)
	out = pipeline.Retrieve(context.Background(), prompt, false)
	gt.S(t, out).Contains("retry me")
}

func countOccurrences(s, sub string) int {
	count := 0
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			count++
		}
	}
	return count
}
