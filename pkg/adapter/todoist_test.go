package adapter_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kioku/pkg/adapter"
	"github.com/m-mizutani/kioku/pkg/model"
)

func TestTodoistCreateTask(t *testing.T) {
	var created map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/projects":
			w.Write([]byte(`[{"id": "p-123", "name": "Auth Work"}]`))
		case "/tasks":
			gt.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			w.Write([]byte(`{"id": "t-1"}`))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client, err := adapter.NewTodoist("token", adapter.WithTodoistBaseURL(srv.URL))
	gt.NoError(t, err)

	task := &model.Task{
		Title:    "migrate auth",
		Priority: model.PriorityP0,
		Project:  "auth work", // resolved case-insensitively
		DueDate:  "2026-03-05",
	}
	gt.NoError(t, client.CreateTask(context.Background(), task))

	gt.Equal(t, created["content"], "migrate auth")
	gt.Equal[any](t, created["priority"], float64(4))
	gt.Equal(t, created["project_id"], "p-123")
	gt.S(t, created["due_datetime"].(string)).Contains("2026-03-05T00:00:00")
}

func TestTodoistConcurrentCreates(t *testing.T) {
	var projectLists, creates atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/projects":
			projectLists.Add(1)
			w.Write([]byte(`[{"id": "p-123", "name": "Auth Work"}]`))
		case "/tasks":
			creates.Add(1)
			w.Write([]byte(`{"id": "t-1"}`))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client, err := adapter.NewTodoist("token", adapter.WithTodoistBaseURL(srv.URL))
	gt.NoError(t, err)

	// Sync fan-out runs on detached goroutines; the lazy project cache fill
	// must hold up under that.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := client.CreateTask(context.Background(), &model.Task{
				Title:    fmt.Sprintf("task number %d", i),
				Priority: model.PriorityP2,
				Project:  "auth work",
			})
			gt.NoError(t, err)
		}(i)
	}
	wg.Wait()

	gt.Equal(t, creates.Load(), int32(8))
	gt.Equal(t, projectLists.Load(), int32(1)) // listing fetched once, under the lock
}

func TestTodoistCompleteTask(t *testing.T) {
	closed := ""
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/tasks" && r.Method == http.MethodGet:
			w.Write([]byte(`[{"id": "t-9", "content": "migrate auth"}, {"id": "t-10", "content": "other"}]`))
		case r.URL.Path == "/tasks/t-9/close":
			closed = "t-9"
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	client, err := adapter.NewTodoist("token", adapter.WithTodoistBaseURL(srv.URL))
	gt.NoError(t, err)

	gt.NoError(t, client.CompleteTask(context.Background(), "migrate auth"))
	gt.Equal(t, closed, "t-9")

	// No matching task is not an error.
	gt.NoError(t, client.CompleteTask(context.Background(), "never synced"))
}
