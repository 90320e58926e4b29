package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/utils/jsonx"
	"github.com/m-mizutani/kioku/pkg/utils/logging"
	"github.com/tidwall/gjson"
)

// Completer is the LLM completion dependency of the reranker.
type Completer interface {
	Chat(ctx context.Context, prompt string) (string, error)
}

const (
	rerankMinCandidates = 3
	rerankSnippetLen    = 200
)

// Reranker asks the LLM which candidates are relevant to the query.
// It is strictly additive: any failure falls back to the unfiltered input,
// so reranking can never reduce availability.
type Reranker struct {
	llm Completer
}

// NewReranker creates a reranker over the given completion backend.
func NewReranker(llm Completer) *Reranker {
	return &Reranker{llm: llm}
}

// Rerank returns the subset of candidates the model judged relevant, in the
// model's order. Inputs below the minimum count pass through unchanged. A
// valid empty index array legitimately filters everything; a parse failure
// does not.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []model.Candidate) []model.Candidate {
	if len(candidates) < rerankMinCandidates {
		return candidates
	}

	response, err := r.llm.Chat(ctx, buildRerankPrompt(query, candidates))
	if err != nil {
		logging.From(ctx).Debug("rerank completion failed, keeping all candidates", "error", err)
		return candidates
	}

	indices, ok := jsonx.ExtractArray(response)
	if !ok {
		logging.From(ctx).Debug("rerank response unparseable, keeping all candidates",
			"response", truncateText(response, 120))
		return candidates
	}

	seen := make(map[int]bool)
	selected := make([]model.Candidate, 0, len(indices))
	for _, idx := range indices {
		if idx.Type != gjson.Number {
			continue
		}
		i := int(idx.Int())
		if i < 0 || i >= len(candidates) || seen[i] {
			continue
		}
		seen[i] = true
		selected = append(selected, candidates[i])
	}

	return selected
}

func buildRerankPrompt(query string, candidates []model.Candidate) string {
	var sb strings.Builder
	sb.WriteString("You are filtering retrieved memories for relevance.\n")
	sb.WriteString("Query:\n")
	sb.WriteString(query)
	sb.WriteString("\n\nCandidates:\n")
	for i, c := range candidates {
		fmt.Fprintf(&sb, "[%d] %s\n", i, truncateText(c.Text, rerankSnippetLen))
	}
	sb.WriteString("\nReturn a JSON array of the indices that are relevant to the query, ")
	sb.WriteString("most relevant first. Return [] if none are relevant. No other text.")
	return sb.String()
}

func truncateText(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
