package adapter

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/model"
)

// ErrTransport marks a failed outbound call after retries were exhausted.
// Callers match it with errors.Is; status code and a truncated body are
// attached as goerr values for diagnostics.
var ErrTransport = goerr.New("transport failure")

// SearchInput describes one search against the memory service.
type SearchInput struct {
	Query              string
	TopK               int
	Filter             map[string]any // structural filter on record info, e.g. {"_type": "task"}
	IncludeSkills      bool
	IncludePreferences bool
}

// Service is the client-side contract of the external memory service.
// It is the sole gateway for outbound I/O to the service and the LLM
// completion endpoint behind it.
type Service interface {
	// Search queries the service and returns normalized candidates across
	// the three channels.
	Search(ctx context.Context, input *SearchInput) (*model.SearchResult, error)

	// Add persists a record fire-and-forget: the call returns immediately
	// and the write's outcome is only logged.
	Add(ctx context.Context, rec *model.Record)

	// AddWait persists a record and waits for the service to confirm.
	AddWait(ctx context.Context, rec *model.Record) error

	// Chat sends a prompt to the service's completion endpoint with the
	// service's own memory side-effects disabled, returning free-form text.
	Chat(ctx context.Context, prompt string) (string, error)

	// IsHealthy reports cached service liveness. It never returns an error;
	// unreachability maps to false.
	IsHealthy(ctx context.Context) bool
}

// Flusher is implemented by services that buffer detached writes. Short-lived
// processes must drain it before exiting or fire-and-forget writes are lost.
type Flusher interface {
	Flush(ctx context.Context) error
}
