package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/tidwall/gjson"
)

// TaskSync fans task lifecycle events out to an external task-list service.
// It is an optional extension: callers invoke it detached and its failures
// never affect the core result.
type TaskSync interface {
	CreateTask(ctx context.Context, task *model.Task) error
	CompleteTask(ctx context.Context, title string) error
}

const todoistBaseURL = "https://api.todoist.com/rest/v2"

// TodoistClient synchronizes tasks with Todoist.
type TodoistClient struct {
	token      string
	baseURL    string
	httpClient *http.Client

	// projects caches the name (normalized) -> ID listing. Sync calls run on
	// detached goroutines, so the lazy fill must be guarded.
	projectsMu sync.Mutex
	projects   map[string]string
}

// TodoistOption configures a TodoistClient.
type TodoistOption func(*TodoistClient)

// WithTodoistBaseURL overrides the API endpoint, mainly for tests.
func WithTodoistBaseURL(url string) TodoistOption {
	return func(c *TodoistClient) { c.baseURL = url }
}

// NewTodoist creates a Todoist client with the given bearer token.
func NewTodoist(token string, opts ...TodoistOption) (*TodoistClient, error) {
	if token == "" {
		return nil, goerr.New("todoist token is required")
	}

	c := &TodoistClient{
		token:   token,
		baseURL: todoistBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateTask creates the task in Todoist, resolving the project by name when
// one is set.
func (c *TodoistClient) CreateTask(ctx context.Context, task *model.Task) error {
	payload := map[string]any{
		"content":  task.Title,
		"priority": task.Priority.Todoist(),
	}
	if task.Description != "" {
		payload["description"] = task.Description
	}
	if task.DueDate != "" {
		payload["due_datetime"] = normalizeTodoistDate(task.DueDate)
	}
	if task.Project != "" {
		projectID, err := c.resolveProject(ctx, task.Project)
		if err != nil {
			return goerr.Wrap(err, "failed to resolve project", goerr.V("project", task.Project))
		}
		if projectID != "" {
			payload["project_id"] = projectID
		}
	}

	if _, err := c.do(ctx, http.MethodPost, "/tasks", payload); err != nil {
		return goerr.Wrap(err, "failed to create todoist task")
	}
	return nil
}

// CompleteTask closes the first open Todoist task whose content matches the
// title. Not finding one is not an error; the task may never have been
// synced.
func (c *TodoistClient) CompleteTask(ctx context.Context, title string) error {
	body, err := c.do(ctx, http.MethodGet, "/tasks", nil)
	if err != nil {
		return goerr.Wrap(err, "failed to list todoist tasks")
	}

	for _, item := range gjson.ParseBytes(body).Array() {
		if item.Get("content").String() != title {
			continue
		}
		id := item.Get("id").String()
		if _, err := c.do(ctx, http.MethodPost, "/tasks/"+id+"/close", nil); err != nil {
			return goerr.Wrap(err, "failed to close todoist task", goerr.V("id", id))
		}
		return nil
	}
	return nil
}

// resolveProject maps a project name to its Todoist ID, caching the listing.
func (c *TodoistClient) resolveProject(ctx context.Context, name string) (string, error) {
	c.projectsMu.Lock()
	defer c.projectsMu.Unlock()

	if c.projects == nil {
		body, err := c.do(ctx, http.MethodGet, "/projects", nil)
		if err != nil {
			return "", err
		}
		c.projects = make(map[string]string)
		for _, item := range gjson.ParseBytes(body).Array() {
			c.projects[normalizeProjectName(item.Get("name").String())] = item.Get("id").String()
		}
	}
	return c.projects[normalizeProjectName(name)], nil
}

func (c *TodoistClient) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to marshal payload")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "request failed", goerr.V("path", path))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, goerr.Wrap(ErrTransport, "todoist API error",
			goerr.V("path", path),
			goerr.V("status", resp.StatusCode),
			goerr.V("body", truncate(string(body), maxErrorBody)))
	}
	return body, nil
}

// normalizeTodoistDate renders the date in the fixed ISO-with-offset format
// Todoist expects. Bare dates become midnight UTC; unparseable input passes
// through untouched.
func normalizeTodoistDate(s string) string {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Format("2006-01-02T15:04:05-07:00")
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.Format("2006-01-02T15:04:05-07:00")
	}
	return s
}

func normalizeProjectName(name string) string {
	return model.NormalizeContent(name)
}
