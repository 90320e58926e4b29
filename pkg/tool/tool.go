// Package tool exposes the task and memory operations as callable tools,
// both as host-runtime registrations and over MCP.
package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/adapter"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/service/dedup"
	"github.com/m-mizutani/kioku/pkg/service/task"
)

const defaultSearchTopK = 5

// Toolkit bundles the services behind the tool surface.
type Toolkit struct {
	svc   adapter.Service
	tasks *task.Manager
	cache *dedup.Cache
}

// New creates a Toolkit.
func New(svc adapter.Service, tasks *task.Manager, cache *dedup.Cache) *Toolkit {
	return &Toolkit{svc: svc, tasks: tasks, cache: cache}
}

// Flush drains the detached writes behind the tool surface: the task sync
// fan-out and any buffered service writes. One-shot commands call it before
// exiting.
func (t *Toolkit) Flush(ctx context.Context) error {
	if err := t.tasks.Flush(ctx); err != nil {
		return err
	}
	if f, ok := t.svc.(adapter.Flusher); ok {
		return f.Flush(ctx)
	}
	return nil
}

// TaskCreateParams are the arguments of kioku_task_create.
type TaskCreateParams struct {
	Title       string `json:"title" jsonschema:"Short task title"`
	Description string `json:"description,omitempty" jsonschema:"Longer description of the task"`
	Priority    string `json:"priority,omitempty" jsonschema:"Priority level: P0, P1 or P2 (default P2)"`
	DueDate     string `json:"due_date,omitempty" jsonschema:"Due date in ISO 8601"`
	Project     string `json:"project,omitempty" jsonschema:"Project the task belongs to"`
}

// TaskCompleteParams are the arguments of kioku_task_complete.
type TaskCompleteParams struct {
	TaskID  string `json:"task_id" jsonschema:"ID of the task to complete"`
	Outcome string `json:"outcome,omitempty" jsonschema:"What came of the task"`
}

// TaskListParams are the arguments of kioku_task_list.
type TaskListParams struct {
	Status  string `json:"status,omitempty" jsonschema:"Filter by status: pending or done"`
	Project string `json:"project,omitempty" jsonschema:"Filter by project name"`
}

// MemorySaveParams are the arguments of kioku_memory_save.
type MemorySaveParams struct {
	Content string `json:"content" jsonschema:"Text to remember"`
	Type    string `json:"type,omitempty" jsonschema:"Memory type, defaults to fact"`
}

// MemorySearchParams are the arguments of kioku_memory_search.
type MemorySearchParams struct {
	Query string `json:"query" jsonschema:"Free-text search query"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"Maximum number of results"`
}

// CreateTask stores a new task and returns a short confirmation.
func (t *Toolkit) CreateTask(ctx context.Context, params *TaskCreateParams) (string, error) {
	newTask := &model.Task{
		Title:       params.Title,
		Description: params.Description,
		Priority:    model.Priority(params.Priority),
		DueDate:     params.DueDate,
		Project:     params.Project,
	}
	if err := t.tasks.Create(ctx, newTask); err != nil {
		return "", err
	}
	return fmt.Sprintf("Created task %s: %s [%s]", newTask.ID, newTask.Title, newTask.Priority), nil
}

// CompleteTask records a completion update for the task.
func (t *Toolkit) CompleteTask(ctx context.Context, params *TaskCompleteParams) (string, error) {
	if err := t.tasks.Complete(ctx, model.TaskID(params.TaskID), params.Outcome); err != nil {
		return "", err
	}
	return "Completed task " + params.TaskID, nil
}

// ListTasks returns reconciled task views as a readable listing.
func (t *Toolkit) ListTasks(ctx context.Context, params *TaskListParams) (string, error) {
	filter := &model.TaskFilter{
		Status:  model.TaskStatus(params.Status),
		Project: params.Project,
	}
	views, err := t.tasks.FindTasks(ctx, filter)
	if err != nil {
		return "", err
	}
	if len(views) == 0 {
		return "No tasks found", nil
	}

	var sb strings.Builder
	for _, view := range views {
		fmt.Fprintf(&sb, "- [%s] %s (%s, %s)", view.Priority, view.Title, view.Status, view.ID)
		if view.DueDate != "" {
			fmt.Fprintf(&sb, " due %s", view.DueDate)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// SaveMemory persists an explicit memory, passing through the dedup cache.
func (t *Toolkit) SaveMemory(ctx context.Context, params *MemorySaveParams) (string, error) {
	if strings.TrimSpace(params.Content) == "" {
		return "", goerr.New("content is required")
	}

	memType := model.MemoryType(params.Type)
	if memType == "" {
		memType = model.MemoryTypeFact
	}

	if t.cache.IsDuplicate(params.Content, memType) {
		return "Already saved recently, skipped", nil
	}

	rec := model.NewRecord(memType, params.Content, []string{string(memType)},
		map[string]any{model.InfoKeySource: "tool"})
	if err := t.svc.AddWait(ctx, rec); err != nil {
		return "", goerr.Wrap(err, "failed to save memory")
	}
	t.cache.MarkAdded(params.Content, memType)
	return "Saved", nil
}

// SearchMemory queries the memory service and returns matching texts.
func (t *Toolkit) SearchMemory(ctx context.Context, params *MemorySearchParams) (string, error) {
	if strings.TrimSpace(params.Query) == "" {
		return "", goerr.New("query is required")
	}

	topK := params.TopK
	if topK <= 0 {
		topK = defaultSearchTopK
	}

	result, err := t.svc.Search(ctx, &adapter.SearchInput{
		Query: params.Query,
		TopK:  topK,
	})
	if err != nil {
		return "", goerr.Wrap(err, "memory search failed")
	}
	if len(result.Memories) == 0 {
		return "No memories found", nil
	}

	var sb strings.Builder
	for _, c := range result.Memories {
		sb.WriteString("- ")
		sb.WriteString(c.Text)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// Definition describes one tool for host-runtime registration.
type Definition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"input_schema"`
}

// Definitions lists the tool surface with parameter schemas.
func Definitions() []Definition {
	return []Definition{
		{
			Name:        "kioku_task_create",
			Description: "Create a task in long-term memory, optionally synced to the external task list",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"title":       {Type: "string", Description: "Short task title"},
				"description": {Type: "string", Description: "Longer description of the task"},
				"priority":    {Type: "string", Description: "Priority level: P0, P1 or P2 (default P2)"},
				"due_date":    {Type: "string", Description: "Due date in ISO 8601"},
				"project":     {Type: "string", Description: "Project the task belongs to"},
			}, "title"),
		},
		{
			Name:        "kioku_task_complete",
			Description: "Mark a task as done with an optional outcome note",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"task_id": {Type: "string", Description: "ID of the task to complete"},
				"outcome": {Type: "string", Description: "What came of the task"},
			}, "task_id"),
		},
		{
			Name:        "kioku_task_list",
			Description: "List tasks with their current reconciled status",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"status":  {Type: "string", Description: "Filter by status: pending or done"},
				"project": {Type: "string", Description: "Filter by project name"},
			}),
		},
		{
			Name:        "kioku_memory_save",
			Description: "Save an explicit memory for later retrieval",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"content": {Type: "string", Description: "Text to remember"},
				"type":    {Type: "string", Description: "Memory type, defaults to fact"},
			}, "content"),
		},
		{
			Name:        "kioku_memory_search",
			Description: "Search stored memories by free text",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"query": {Type: "string", Description: "Free-text search query"},
				"top_k": {Type: "integer", Description: "Maximum number of results"},
			}, "query"),
		},
	}
}

func objectSchema(props map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}
