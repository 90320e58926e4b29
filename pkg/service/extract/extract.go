package extract

import (
	"context"
	_ "embed"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/utils/jsonx"
	"github.com/m-mizutani/kioku/pkg/utils/logging"
	"github.com/tidwall/gjson"
)

//go:embed prompt/fact.md
var factPromptRaw string

//go:embed prompt/profile.md
var profilePromptRaw string

//go:embed prompt/behavior.md
var behaviorPromptRaw string

//go:embed prompt/skill.md
var skillPromptRaw string

//go:embed prompt/event.md
var eventPromptRaw string

//go:embed prompt/task.md
var taskPromptRaw string

//go:embed prompt/summarize.md
var summarizePromptRaw string

var categoryPrompts = map[Category]string{
	CategoryFact:     factPromptRaw,
	CategoryProfile:  profilePromptRaw,
	CategoryBehavior: behaviorPromptRaw,
	CategorySkill:    skillPromptRaw,
	CategoryEvent:    eventPromptRaw,
	CategoryTask:     taskPromptRaw,
}

const (
	conversationPlaceholder = "{{CONVERSATION}}"
	maxItemsPerCategory     = 5
	maxConversationLen      = 8000
)

// Completer is the LLM completion dependency.
type Completer interface {
	Chat(ctx context.Context, prompt string) (string, error)
}

// Extractor routes conversation text through type-specific extraction
// prompts and parses the structured results.
type Extractor struct {
	llm Completer
	now func() time.Time
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) ExtractorOption {
	return func(e *Extractor) { e.now = now }
}

// New creates an extractor over the given completion backend.
func New(llm Completer, opts ...ExtractorOption) *Extractor {
	e := &Extractor{llm: llm, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run detects plausible categories in the conversation and extracts records
// for each. Categories run independently: a failure in one is logged and
// never blocks the others.
func (e *Extractor) Run(ctx context.Context, conversation string) []*model.Record {
	logger := logging.From(ctx)

	var records []*model.Record
	for _, cat := range Detect(conversation) {
		extracted, err := e.runCategory(ctx, cat, conversation)
		if err != nil {
			logger.Warn("extraction category failed", "category", cat, "error", err)
			continue
		}
		records = append(records, extracted...)
	}
	return records
}

func (e *Extractor) runCategory(ctx context.Context, cat Category, conversation string) ([]*model.Record, error) {
	template, ok := categoryPrompts[cat]
	if !ok {
		return nil, goerr.New("no prompt template for category", goerr.V("category", cat))
	}

	prompt := strings.ReplaceAll(template, conversationPlaceholder, truncate(conversation, maxConversationLen))
	response, err := e.llm.Chat(ctx, prompt)
	if err != nil {
		return nil, goerr.Wrap(err, "completion failed", goerr.V("category", cat))
	}

	items, ok := jsonx.ExtractArray(response)
	if !ok {
		return nil, goerr.New("unparseable extraction response",
			goerr.V("category", cat), goerr.V("response", truncate(response, 120)))
	}

	var records []*model.Record
	for _, item := range items {
		if len(records) >= maxItemsPerCategory {
			break
		}
		rec := e.parseItem(cat, item)
		if rec != nil {
			records = append(records, rec)
		}
	}
	return records, nil
}

// parseItem converts one extracted element into a record. Malformed elements
// are dropped individually.
func (e *Extractor) parseItem(cat Category, item gjson.Result) *model.Record {
	switch cat {
	case CategorySkill:
		return parseSkill(item)
	case CategoryTask:
		return e.parseTask(item)
	default:
		content := itemContent(item)
		if content == "" {
			return nil
		}
		return model.NewRecord(cat.MemoryType(), content, []string{string(cat)},
			map[string]any{model.InfoKeySource: "extraction"})
	}
}

func parseSkill(item gjson.Result) *model.Record {
	name := item.Get("name").String()
	description := item.Get("description").String()
	procedure := item.Get("procedure").String()
	if name == "" || description == "" {
		return nil
	}

	content := name + ": " + description
	if procedure != "" {
		content += "\n" + procedure
	}
	return model.NewRecord(model.MemoryTypeSkill, content, []string{string(CategorySkill)},
		map[string]any{
			model.InfoKeySource: "extraction",
			"name":              name,
			"description":       description,
		})
}

func (e *Extractor) parseTask(item gjson.Result) *model.Record {
	title := item.Get("title").String()
	if title == "" {
		return nil
	}

	task := &model.Task{
		ID:          model.NewTaskID(),
		Title:       title,
		Description: item.Get("desc").String(),
		Priority:    model.Priority(item.Get("priority").String()),
		DueDate:     item.Get("due_date").String(),
		Project:     item.Get("project").String(),
		CreatedAt:   e.now(),
	}
	if err := task.Validate(); err != nil {
		return nil
	}
	return model.EncodeTask(task)
}

// itemContent accepts either a bare string or an object carrying a content
// field.
func itemContent(item gjson.Result) string {
	if item.Type == gjson.String {
		return strings.TrimSpace(item.String())
	}
	for _, key := range []string{"content", "text", "fact"} {
		if v := item.Get(key); v.Exists() {
			return strings.TrimSpace(v.String())
		}
	}
	return ""
}

// DistillToolSkill runs the skill extraction prompt over a single tool
// execution, turning a notable call into reusable procedure records.
func (e *Extractor) DistillToolSkill(ctx context.Context, tool, input, output string) ([]*model.Record, error) {
	text := "Tool execution:\ntool: " + tool +
		"\ninput: " + truncate(input, 1000) +
		"\noutput: " + truncate(output, 2000)
	return e.runCategory(ctx, CategorySkill, text)
}

// FlushSegment condenses one conversation segment into summary records for
// the compaction flush. A valid empty array means the segment held nothing
// worth keeping.
func (e *Extractor) FlushSegment(ctx context.Context, seg model.Segment) ([]*model.Record, error) {
	var sb strings.Builder
	for _, msg := range seg {
		sb.WriteString(string(msg.Role))
		sb.WriteString(": ")
		sb.WriteString(msg.Text)
		sb.WriteString("\n")
	}

	prompt := strings.ReplaceAll(summarizePromptRaw, conversationPlaceholder,
		truncate(sb.String(), maxConversationLen))

	response, err := e.llm.Chat(ctx, prompt)
	if err != nil {
		return nil, goerr.Wrap(err, "segment summarization failed")
	}

	items, ok := jsonx.ExtractArray(response)
	if !ok {
		return nil, goerr.New("unparseable segment summary",
			goerr.V("response", truncate(response, 120)))
	}

	var records []*model.Record
	for _, item := range items {
		if len(records) >= maxItemsPerCategory {
			break
		}
		content := itemContent(item)
		if content == "" {
			continue
		}
		records = append(records, model.NewRecord(model.MemoryTypeCompaction, content,
			[]string{"compaction"}, map[string]any{model.InfoKeySource: "compaction"}))
	}
	return records, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
