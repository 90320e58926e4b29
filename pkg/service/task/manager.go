package task

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/adapter"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/service/dedup"
	"github.com/m-mizutani/kioku/pkg/utils/logging"
)

// Manager owns the task write path: creation and completion records plus the
// optional fan-out to an external task list.
type Manager struct {
	svc    adapter.Service
	finder *Finder
	cache  *dedup.Cache
	sync   adapter.TaskSync
	now    func() time.Time

	fanout sync.WaitGroup
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTaskSync attaches an external task-list sink. Sync calls run detached
// and their failures never affect the stored record.
func WithTaskSync(sync adapter.TaskSync) ManagerOption {
	return func(m *Manager) { m.sync = sync }
}

// WithManagerClock injects a clock for tests.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager over the memory service.
func NewManager(svc adapter.Service, cache *dedup.Cache, opts ...ManagerOption) *Manager {
	m := &Manager{
		svc:    svc,
		finder: NewFinder(svc),
		cache:  cache,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FindTasks exposes reconciled task views through the manager.
func (m *Manager) FindTasks(ctx context.Context, filter *model.TaskFilter) ([]model.TaskView, error) {
	return m.finder.FindTasks(ctx, filter)
}

// Create validates the task, writes its creation record and fans it out to
// the external task list. An equivalent record written within the dedup
// window is skipped without error.
func (m *Manager) Create(ctx context.Context, task *model.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	if task.ID == "" {
		task.ID = model.NewTaskID()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = m.now()
	}

	rec := model.EncodeTask(task)
	if m.cache.IsDuplicate(rec.Content, model.MemoryTypeTask) {
		logging.From(ctx).Info("skipping duplicate task creation", "title", task.Title)
		return nil
	}

	if err := m.svc.AddWait(ctx, rec); err != nil {
		return goerr.Wrap(err, "failed to store task record", goerr.V("task_id", task.ID))
	}
	m.cache.MarkAdded(rec.Content, model.MemoryTypeTask)

	if m.sync != nil {
		m.fanout.Add(1)
		go func(ctx context.Context) {
			defer m.fanout.Done()
			m.syncCreate(ctx, task)
		}(context.WithoutCancel(ctx))
	}
	return nil
}

// Complete writes a completion update for the task. The creation record is
// left untouched; reconciliation merges the two.
func (m *Manager) Complete(ctx context.Context, id model.TaskID, outcome string) error {
	if id == "" {
		return goerr.New("task id is required")
	}

	rec := model.EncodeTaskUpdate(id, m.now(), outcome)
	if err := m.svc.AddWait(ctx, rec); err != nil {
		return goerr.Wrap(err, "failed to store task update", goerr.V("task_id", id))
	}
	m.cache.MarkAdded(rec.Content, model.MemoryTypeTaskUpdate)

	if m.sync != nil {
		m.fanout.Add(1)
		go func(ctx context.Context) {
			defer m.fanout.Done()
			m.syncComplete(ctx, id)
		}(context.WithoutCancel(ctx))
	}
	return nil
}

// Flush blocks until the detached sync fan-out has settled or the context
// expires. One-shot processes drain here before exiting.
func (m *Manager) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.fanout.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return goerr.Wrap(ctx.Err(), "task sync fan-out still in flight")
	}
}

func (m *Manager) syncCreate(ctx context.Context, task *model.Task) {
	if err := m.sync.CreateTask(ctx, task); err != nil {
		logging.From(ctx).Warn("task sync create failed", "task_id", task.ID, "error", err)
	}
}

// syncComplete resolves the task title via reconciliation before closing the
// external copy, since the update record carries only the ID.
func (m *Manager) syncComplete(ctx context.Context, id model.TaskID) {
	logger := logging.From(ctx)

	views, err := m.finder.FindTasks(ctx, nil)
	if err != nil {
		logger.Warn("task sync lookup failed", "task_id", id, "error", err)
		return
	}
	for _, view := range views {
		if view.ID != id {
			continue
		}
		if err := m.sync.CompleteTask(ctx, view.Title); err != nil {
			logger.Warn("task sync complete failed", "task_id", id, "error", err)
		}
		return
	}
	logger.Debug("no creation record for completed task, skipping sync", "task_id", id)
}
