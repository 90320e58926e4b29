package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrInvalidPriority = goerr.New("invalid priority")
	ErrEmptyTaskTitle  = goerr.New("task title is empty")
)

// TaskID is an opaque, collision-resistant task identity, immutable for the
// task's lifetime.
type TaskID string

// NewTaskID generates a new TaskID from the current time and a random suffix.
func NewTaskID() TaskID {
	return TaskID(fmt.Sprintf("task-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8]))
}

// Priority is a 3-level task priority.
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2" // default
)

// Validate checks if the priority is one of the known levels.
func (p Priority) Validate() error {
	switch p {
	case PriorityP0, PriorityP1, PriorityP2:
		return nil
	default:
		return goerr.Wrap(ErrInvalidPriority, "unknown level", goerr.V("priority", p))
	}
}

// Todoist maps the priority onto Todoist's numeric scale (4 = most urgent).
func (p Priority) Todoist() int {
	switch p {
	case PriorityP0:
		return 4
	case PriorityP1:
		return 3
	default:
		return 2
	}
}

// TaskStatus is the effective state of a task. Only the pending → done
// transition is modeled; there is no reopen.
type TaskStatus string

const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusDone    TaskStatus = "done"
)

// Task holds the fields of a task creation record.
type Task struct {
	ID          TaskID
	Title       string
	Description string
	Priority    Priority
	DueDate     string
	StartDate   string
	Project     string
	Items       []string
	Context     string
	Status      TaskStatus
	CreatedAt   time.Time
}

// Validate checks required creation fields, defaulting priority and status.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return ErrEmptyTaskTitle
	}
	if t.Priority == "" {
		t.Priority = PriorityP2
	}
	if err := t.Priority.Validate(); err != nil {
		return err
	}
	if t.Status == "" {
		t.Status = TaskStatusPending
	}
	return nil
}

// TaskFilter narrows reconciled task views. Zero-valued fields match
// everything.
type TaskFilter struct {
	Status   TaskStatus
	Priority Priority
	Project  string
}

// TaskView is the reconciled current state of a task: creation fields merged
// with the latest completion update, computed by reconciliation and never
// stored directly.
type TaskView struct {
	Task
	CompletedAt string
	Outcome     string
}

// Info keys specific to task records.
const (
	InfoKeyTaskID          = "task_id"
	InfoKeyTaskTitle       = "title"
	InfoKeyTaskDesc        = "desc"
	InfoKeyTaskPriority    = "priority"
	InfoKeyTaskDueDate     = "due_date"
	InfoKeyTaskStartDate   = "start_date"
	InfoKeyTaskProject     = "project"
	InfoKeyTaskItems       = "items"
	InfoKeyTaskContext     = "context"
	InfoKeyTaskStatus      = "task_status"
	InfoKeyTaskCreatedAt   = "task_created_at"
	InfoKeyTaskCompletedAt = "task_completed_at"
	InfoKeyTaskOutcome     = "outcome"
)

// EncodeTask renders a task creation record. The append-only log of these
// records plus completion updates is the source of truth for task state.
func EncodeTask(t *Task) *Record {
	content := "Task: " + t.Title
	if t.Description != "" {
		content += "\n" + t.Description
	}

	info := map[string]any{
		InfoKeyTaskID:        string(t.ID),
		InfoKeyTaskTitle:     t.Title,
		InfoKeyTaskStatus:    string(t.Status),
		InfoKeyTaskPriority:  string(t.Priority),
		InfoKeyTaskCreatedAt: t.CreatedAt.Format(time.RFC3339),
	}
	if t.Description != "" {
		info[InfoKeyTaskDesc] = t.Description
	}
	if t.DueDate != "" {
		info[InfoKeyTaskDueDate] = t.DueDate
	}
	if t.StartDate != "" {
		info[InfoKeyTaskStartDate] = t.StartDate
	}
	if t.Project != "" {
		info[InfoKeyTaskProject] = t.Project
	}
	if len(t.Items) > 0 {
		info[InfoKeyTaskItems] = t.Items
	}
	if t.Context != "" {
		info[InfoKeyTaskContext] = t.Context
	}

	return NewRecord(MemoryTypeTask, content, []string{"task"}, info)
}

// EncodeTaskUpdate renders a completion update record for the given task.
func EncodeTaskUpdate(id TaskID, completedAt time.Time, outcome string) *Record {
	content := "Task completed: " + string(id)
	if outcome != "" {
		content += "\n" + outcome
	}

	info := map[string]any{
		InfoKeyTaskID:          string(id),
		InfoKeyTaskStatus:      string(TaskStatusDone),
		InfoKeyTaskCompletedAt: completedAt.Format(time.RFC3339),
	}
	if outcome != "" {
		info[InfoKeyTaskOutcome] = outcome
	}

	return NewRecord(MemoryTypeTaskUpdate, content, []string{"task"}, info)
}

// DecodeTask rebuilds a task from the info map of a creation record.
// Returns nil if the candidate carries no task identity.
func DecodeTask(c *Candidate) *Task {
	id := c.InfoString(InfoKeyTaskID)
	if id == "" {
		return nil
	}

	t := &Task{
		ID:          TaskID(id),
		Title:       c.InfoString(InfoKeyTaskTitle),
		Description: c.InfoString(InfoKeyTaskDesc),
		Priority:    Priority(c.InfoString(InfoKeyTaskPriority)),
		DueDate:     c.InfoString(InfoKeyTaskDueDate),
		StartDate:   c.InfoString(InfoKeyTaskStartDate),
		Project:     c.InfoString(InfoKeyTaskProject),
		Items:       c.InfoStrings(InfoKeyTaskItems),
		Context:     c.InfoString(InfoKeyTaskContext),
		Status:      TaskStatus(c.InfoString(InfoKeyTaskStatus)),
	}
	if t.Status == "" {
		t.Status = TaskStatusPending
	}
	if t.Priority == "" {
		t.Priority = PriorityP2
	}
	if ts, err := time.Parse(time.RFC3339, c.InfoString(InfoKeyTaskCreatedAt)); err == nil {
		t.CreatedAt = ts
	}
	return t
}
