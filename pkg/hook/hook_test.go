package hook_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kioku/pkg/adapter"
	"github.com/m-mizutani/kioku/pkg/hook"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/service/dedup"
	"github.com/m-mizutani/kioku/pkg/service/extract"
	"github.com/m-mizutani/kioku/pkg/service/retrieval"
)

type mockService struct {
	mu       sync.Mutex
	added    []*model.Record
	searches []*adapter.SearchInput
	chats    []string

	healthy    bool
	addErr     error
	addDelay   time.Duration
	searchFunc func(ctx context.Context, input *adapter.SearchInput) (*model.SearchResult, error)
	chatFunc   func(ctx context.Context, prompt string) (string, error)
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
	_ = m.AddWait(ctx, rec)
}

func (m *mockService) AddWait(ctx context.Context, rec *model.Record) error {
	if m.addDelay > 0 {
		time.Sleep(m.addDelay)
	}
	if m.addErr != nil {
		return m.addErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.added = append(m.added, rec)
	return nil
}

func (m *mockService) Chat(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.chats = append(m.chats, prompt)
	m.mu.Unlock()
	if m.chatFunc != nil {
		return m.chatFunc(ctx, prompt)
	}
	return "[]", nil
}

func (m *mockService) IsHealthy(ctx context.Context) bool { return m.healthy }

func (m *mockService) addedRecords() []*model.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.Record(nil), m.added...)
}

func (m *mockService) searchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.searches)
}

func (m *mockService) chatCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chats)
}

func newPlugin(svc *mockService, cache *dedup.Cache, opts ...hook.Option) *hook.Plugin {
	return hook.New(svc, retrieval.NewPipeline(svc), extract.New(svc), cache, opts...)
}

// flush drains the plugin's detached writes so assertions see them all.
func flush(t *testing.T, plugin *hook.Plugin) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	gt.NoError(t, plugin.Flush(ctx))
}

func firstOfType(records []*model.Record, memType model.MemoryType) *model.Record {
	for _, rec := range records {
		if rec.Type() == memType {
			return rec
		}
	}
	return nil
}

// alternating builds a user/assistant conversation of n messages.
func alternating(n int, topic string) []model.Message {
	messages := make([]model.Message, n)
	for i := range messages {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		messages[i] = model.Message{Role: role, Text: topic}
	}
	return messages
}

func TestPreCompactEndToEnd(t *testing.T) {
	firstHalf := alternating(4, "we are deep in the transport retry logic")
	secondHalf := alternating(6, "now switching to the dedup cache sweep")
	messages := append(append([]model.Message{}, firstHalf...), secondHalf...)

	svc := &mockService{
		healthy: true,
		chatFunc: func(ctx context.Context, prompt string) (string, error) {
			if strings.Contains(prompt, "transport retry logic") {
				return `["Worked on the retry logic for the transport client", "Chose exponential backoff with three attempts"]`, nil
			}
			return `["Reworked the dedup cache sweep threshold", "The health probe caches liveness for 45 seconds"]`, nil
		},
	}
	cache := dedup.New()
	// One entry was already persisted earlier in the session.
	cache.MarkAdded("The health probe caches liveness for 45 seconds", model.MemoryTypeCompaction)

	plugin := newPlugin(svc, cache)
	report := plugin.PreCompact(context.Background(), messages)

	gt.NotNil(t, report)
	gt.Equal(t, report.Segments, 2)
	gt.Equal(t, report.Saved, 3)
	gt.Equal(t, report.Skipped, 1)
	gt.Equal(t, report.Failed, 0)

	// Three surviving entries plus exactly one meta-record.
	flush(t, plugin)
	added := svc.addedRecords()
	gt.A(t, added).Length(4)

	metas := 0
	for _, rec := range added {
		if rec.Info["token_estimate"] != nil {
			metas++
			gt.Equal(t, rec.Type(), model.MemoryTypeCompaction)
			gt.S(t, rec.Content).Contains("3 entries saved, 1 skipped, 0 failed")
		}
	}
	gt.Equal(t, metas, 1)
}

func TestPreCompactTooFewMessages(t *testing.T) {
	svc := &mockService{healthy: true}
	plugin := newPlugin(svc, dedup.New())

	report := plugin.PreCompact(context.Background(), alternating(3, "short exchange"))
	gt.V(t, report).Nil()
	gt.A(t, svc.addedRecords()).Length(0)
}

func TestPreCompactUnhealthy(t *testing.T) {
	svc := &mockService{healthy: false}
	plugin := newPlugin(svc, dedup.New())

	report := plugin.PreCompact(context.Background(), alternating(10, "plenty of messages"))
	gt.V(t, report).Nil()
	gt.A(t, svc.addedRecords()).Length(0)
}

func TestPreCompactSegmentFailureIsolated(t *testing.T) {
	firstHalf := alternating(4, "first topic fails to summarize")
	secondHalf := alternating(6, "second topic works fine")
	messages := append(append([]model.Message{}, firstHalf...), secondHalf...)

	svc := &mockService{
		healthy: true,
		chatFunc: func(ctx context.Context, prompt string) (string, error) {
			if strings.Contains(prompt, "first topic") {
				return "", errors.New("timeout")
			}
			return `["The second topic produced one good summary entry"]`, nil
		},
	}
	plugin := newPlugin(svc, dedup.New())

	report := plugin.PreCompact(context.Background(), messages)
	gt.NotNil(t, report)
	gt.Equal(t, report.Segments, 2)
	gt.Equal(t, report.Saved, 1)
	gt.Equal(t, report.Failed, 0)
	flush(t, plugin)
}

func TestTurnEndThrottle(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := &mockService{healthy: true}
	plugin := newPlugin(svc, dedup.New(),
		hook.WithHookClock(func() time.Time { return now }))

	messages := alternating(2, "we deployed v2 today and it went well")

	plugin.TurnEnd(context.Background(), messages)
	first := svc.chatCount()
	gt.Number(t, first).GreaterOrEqual(1)

	// Within the throttle interval nothing runs.
	now = now.Add(time.Minute)
	plugin.TurnEnd(context.Background(), messages)
	gt.Equal(t, svc.chatCount(), first)

	// After the interval it runs again.
	now = now.Add(5 * time.Minute)
	plugin.TurnEnd(context.Background(), messages)
	gt.Number(t, svc.chatCount()).GreaterOrEqual(first + 1)
}

func TestTurnEndSkippedInPostCompactionWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := &mockService{healthy: true}
	plugin := newPlugin(svc, dedup.New(),
		hook.WithHookClock(func() time.Time { return now }))

	plugin.PostCompact(context.Background())
	plugin.TurnEnd(context.Background(), alternating(2, "we deployed v2 today"))
	gt.Equal(t, svc.chatCount(), 0)
}

func TestUserPromptConsumesPostCompactionWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := &mockService{healthy: true}
	plugin := newPlugin(svc, dedup.New(),
		hook.WithHookClock(func() time.Time { return now }))

	plugin.PostCompact(context.Background())

	// A casual prompt still triggers the dual post-compaction search.
	plugin.UserPrompt(context.Background(), "hi")
	gt.Equal(t, svc.searchCount(), 2)

	// The window is consumed: the next casual prompt skips as usual.
	plugin.UserPrompt(context.Background(), "hi")
	gt.Equal(t, svc.searchCount(), 2)
}

func TestUserPromptDisabled(t *testing.T) {
	svc := &mockService{healthy: true}
	plugin := newPlugin(svc, dedup.New(), hook.WithRetrieval(false))

	out := plugin.UserPrompt(context.Background(), "please refactor the auth module to use sessions")
	gt.Equal(t, out, "")
	gt.Equal(t, svc.searchCount(), 0)
}

func TestToolDoneSkipsOwnTools(t *testing.T) {
	svc := &mockService{healthy: true}
	plugin := newPlugin(svc, dedup.New())

	plugin.ToolDone(context.Background(), &hook.ToolTrace{
		Name:     "kioku_task_create",
		Success:  true,
		Duration: time.Second,
	})
	gt.A(t, svc.addedRecords()).Length(0)
}

func TestToolDoneTraceAndDistill(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := &mockService{
		healthy: true,
		chatFunc: func(ctx context.Context, prompt string) (string, error) {
			return `[{"name": "bulk-grep", "description": "search many repos at once", "procedure": "run rg with a glob"}]`, nil
		},
	}
	plugin := newPlugin(svc, dedup.New(),
		hook.WithHookClock(func() time.Time { return now }))

	plugin.ToolDone(context.Background(), &hook.ToolTrace{
		Name:     "grep",
		Input:    "pattern across repos",
		Output:   "42 matches",
		Success:  true,
		Duration: 800 * time.Millisecond,
	})
	flush(t, plugin)

	added := svc.addedRecords()
	gt.A(t, added).Length(2)

	trace := firstOfType(added, model.MemoryTypeToolTrace)
	gt.NotNil(t, trace)
	gt.S(t, trace.Content).Contains("Tool grep succeeded in 800ms")

	skill := firstOfType(added, model.MemoryTypeSkill)
	gt.NotNil(t, skill)
	gt.Equal(t, skill.Info["name"], "bulk-grep")

	// Within the per-tool cooldown only the trace is written.
	now = now.Add(time.Minute)
	plugin.ToolDone(context.Background(), &hook.ToolTrace{
		Name:     "grep",
		Output:   "7 matches this time",
		Success:  true,
		Duration: 900 * time.Millisecond,
	})
	flush(t, plugin)
	gt.A(t, svc.addedRecords()).Length(3)
}

func TestStateSurvivesRestart(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	svcA := &mockService{healthy: true}
	cacheA := dedup.New(dedup.WithClock(clock))
	cacheA.MarkAdded("the deploy pipeline runs on fridays", model.MemoryTypeFact)

	pluginA := newPlugin(svcA, cacheA, hook.WithHookClock(clock))
	pluginA.TurnEnd(context.Background(), alternating(2, "we deployed v2 today and it went well"))
	pluginA.PostCompact(context.Background())
	flush(t, pluginA)

	st := pluginA.ExportState()
	gt.False(t, st.LastExtraction.IsZero())
	gt.False(t, st.LastCompaction.IsZero())
	gt.A(t, st.Dedup).Length(1)

	// A new process: fresh services, state seeded from the snapshot.
	now = now.Add(30 * time.Second)
	svcB := &mockService{healthy: true}
	cacheB := dedup.New(dedup.WithClock(clock), dedup.WithEntries(st.Dedup))
	pluginB := newPlugin(svcB, cacheB,
		hook.WithState(st),
		hook.WithHookClock(clock))

	// The post-compaction window survived: a casual prompt still triggers
	// the dual search.
	pluginB.UserPrompt(context.Background(), "hi")
	gt.Equal(t, svcB.searchCount(), 2)

	// The extraction throttle survived too.
	pluginB.TurnEnd(context.Background(), alternating(2, "we deployed v2 today and it went well"))
	gt.Equal(t, svcB.chatCount(), 0)

	// And the dedup window.
	gt.True(t, cacheB.IsDuplicate("the deploy pipeline runs on fridays", model.MemoryTypeFact))
}

func TestFlushDrainsDetachedWrites(t *testing.T) {
	svc := &mockService{healthy: true, addDelay: 50 * time.Millisecond}
	plugin := newPlugin(svc, dedup.New())

	plugin.ToolDone(context.Background(), &hook.ToolTrace{
		Name:     "ls",
		Output:   "a handful of files listed",
		Success:  true,
		Duration: 50 * time.Millisecond,
	})

	// ToolDone returned before the slow write settled; Flush waits it out.
	flush(t, plugin)
	gt.A(t, svc.addedRecords()).Length(1)
}

func TestTurnEndFailedWriteNotMarked(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := &mockService{
		healthy: true,
		addErr:  errors.New("service rejected the write"),
		chatFunc: func(ctx context.Context, prompt string) (string, error) {
			return `["We deployed v2 to production and it went well"]`, nil
		},
	}
	cache := dedup.New(dedup.WithClock(func() time.Time { return now }))
	plugin := newPlugin(svc, cache, hook.WithHookClock(func() time.Time { return now }))

	messages := alternating(2, "we deployed v2 today and it went well")

	plugin.TurnEnd(context.Background(), messages)
	flush(t, plugin)
	gt.A(t, svc.addedRecords()).Length(0)

	// The failed write never marked the cache, so the next extraction run
	// retries the same content instead of skipping it as a duplicate.
	svc.addErr = nil
	now = now.Add(6 * time.Minute)
	plugin.TurnEnd(context.Background(), messages)
	flush(t, plugin)
	gt.Number(t, len(svc.addedRecords())).GreaterOrEqual(1)
}

func TestToolDoneFastCallNotDistilled(t *testing.T) {
	svc := &mockService{healthy: true}
	plugin := newPlugin(svc, dedup.New())

	plugin.ToolDone(context.Background(), &hook.ToolTrace{
		Name:     "ls",
		Output:   "a handful of files listed",
		Success:  true,
		Duration: 50 * time.Millisecond,
	})
	flush(t, plugin)

	added := svc.addedRecords()
	gt.A(t, added).Length(1)
	gt.Equal(t, added[0].Type(), model.MemoryTypeToolTrace)
	gt.Equal(t, svc.chatCount(), 0)
}
