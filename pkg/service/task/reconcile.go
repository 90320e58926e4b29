// Package task derives current task state from an append-only log of
// creation and completion records, and owns the task write path.
package task

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/adapter"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/utils/logging"
)

const fetchCap = 30

// Finder reconciles task records into current task views.
type Finder struct {
	svc adapter.Service
}

// NewFinder creates a Finder over the memory service.
func NewFinder(svc adapter.Service) *Finder {
	return &Finder{svc: svc}
}

type updateView struct {
	completedAt string
	outcome     string
	status      model.TaskStatus
}

// FindTasks fetches creation and update records and merges them into
// reconciled views. An update-fetch failure degrades to "no updates seen";
// only a creation-fetch failure is reported, so callers can distinguish
// "no tasks" from "could not look". Updates never materialize tasks: a
// task_id seen only in updates stays invisible.
func (f *Finder) FindTasks(ctx context.Context, filter *model.TaskFilter) ([]model.TaskView, error) {
	creations, err := f.svc.Search(ctx, &adapter.SearchInput{
		Query:  "task",
		TopK:   fetchCap,
		Filter: map[string]any{model.InfoKeyType: string(model.MemoryTypeTask)},
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch task creation records")
	}

	updates := f.fetchUpdates(ctx)

	seen := make(map[model.TaskID]bool)
	var views []model.TaskView

	for i := range creations.Memories {
		task := model.DecodeTask(&creations.Memories[i])
		if task == nil || seen[task.ID] {
			// First occurrence wins; later duplicates are ignored.
			continue
		}
		seen[task.ID] = true

		view := model.TaskView{Task: *task}
		if u, ok := updates[task.ID]; ok {
			view.Status = u.status
			view.CompletedAt = u.completedAt
			view.Outcome = u.outcome
		}

		if matchFilter(&view, filter) {
			views = append(views, view)
		}
	}

	return views, nil
}

// fetchUpdates indexes the latest completion update per task. Latest is
// decided by string comparison of the fixed-width timestamps; an update
// without a timestamp never supersedes one that has it. On equal or missing
// timestamps the first-indexed update wins, deterministic in fetch order.
func (f *Finder) fetchUpdates(ctx context.Context) map[model.TaskID]updateView {
	result, err := f.svc.Search(ctx, &adapter.SearchInput{
		Query:  "task",
		TopK:   fetchCap,
		Filter: map[string]any{model.InfoKeyType: string(model.MemoryTypeTaskUpdate)},
	})
	if err != nil {
		logging.From(ctx).Warn("failed to fetch task updates, treating as none", "error", err)
		return nil
	}

	updates := make(map[model.TaskID]updateView)
	for i := range result.Memories {
		c := &result.Memories[i]
		id := model.TaskID(c.InfoString(model.InfoKeyTaskID))
		if id == "" {
			continue
		}

		incoming := updateView{
			completedAt: c.InfoString(model.InfoKeyTaskCompletedAt),
			outcome:     c.InfoString(model.InfoKeyTaskOutcome),
			status:      model.TaskStatus(c.InfoString(model.InfoKeyTaskStatus)),
		}
		if incoming.status == "" {
			incoming.status = model.TaskStatusDone
		}

		current, exists := updates[id]
		if !exists || incoming.completedAt > current.completedAt {
			updates[id] = incoming
		}
	}
	return updates
}

func matchFilter(view *model.TaskView, filter *model.TaskFilter) bool {
	if filter == nil {
		return true
	}
	if filter.Status != "" && view.Status != filter.Status {
		return false
	}
	if filter.Priority != "" && view.Priority != filter.Priority {
		return false
	}
	if filter.Project != "" && view.Project != filter.Project {
		return false
	}
	return true
}
