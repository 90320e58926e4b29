package hook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/utils/logging"
)

// slowToolThreshold marks a call as worth distilling into a skill.
const slowToolThreshold = 500 * time.Millisecond

const maxTraceOutput = 300

// ownToolPrefixes names the plugin's own tool surface, skipped to avoid
// logging the memory system into itself.
var ownToolPrefixes = []string{"kioku_", "memory_", "task_"}

// ToolTrace describes one completed tool execution.
type ToolTrace struct {
	Name     string        `json:"name"`
	Input    string        `json:"input"`
	Output   string        `json:"output"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
}

// ToolDone handles a tool-completed event: it persists a short trace record
// fire-and-forget and, for slow successful calls not recently sampled for
// that tool, attempts to distill the call into reusable skill records.
func (p *Plugin) ToolDone(ctx context.Context, trace *ToolTrace) {
	if !p.tracesEnabled || trace.Name == "" {
		return
	}
	for _, prefix := range ownToolPrefixes {
		if strings.HasPrefix(trace.Name, prefix) {
			return
		}
	}
	if !p.svc.IsHealthy(ctx) {
		return
	}

	p.persist(ctx, traceRecord(trace))

	if !trace.Success || trace.Duration < slowToolThreshold {
		return
	}
	if !p.state.trySampleTool(trace.Name, p.now()) {
		return
	}

	logger := logging.From(ctx)
	records, err := p.extractor.DistillToolSkill(ctx, trace.Name, trace.Input, trace.Output)
	if err != nil {
		logger.Warn("skill distillation failed", "tool", trace.Name, "error", err)
		return
	}
	for _, rec := range records {
		p.persist(ctx, rec)
	}
	if len(records) > 0 {
		logger.Info("distilled tool execution into skills",
			"tool", trace.Name, "count", len(records))
	}
}

func traceRecord(trace *ToolTrace) *model.Record {
	outcome := "succeeded"
	if !trace.Success {
		outcome = "failed"
	}
	content := fmt.Sprintf("Tool %s %s in %dms", trace.Name, outcome, trace.Duration.Milliseconds())
	if out := strings.TrimSpace(trace.Output); out != "" {
		if len(out) > maxTraceOutput {
			out = out[:maxTraceOutput] + "..."
		}
		content += "\n" + out
	}

	return model.NewRecord(model.MemoryTypeToolTrace, content, []string{"tool"},
		map[string]any{
			"tool":        trace.Name,
			"success":     trace.Success,
			"duration_ms": trace.Duration.Milliseconds(),
		})
}
