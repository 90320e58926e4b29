package hook

import (
	"context"
	"strings"

	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/utils/logging"
)

// TurnEnd handles the end of an agent turn: it runs typed extraction over the
// turn's messages and persists what came out, fire-and-forget. Runs are
// throttled, and skipped entirely right after a compaction because the same
// content was just flushed.
func (p *Plugin) TurnEnd(ctx context.Context, messages []model.Message) {
	if !p.extractionEnabled || len(messages) == 0 {
		return
	}
	logger := logging.From(ctx)

	now := p.now()
	if p.state.inPostCompactionWindow(now) {
		logger.Debug("skipping extraction inside post-compaction window")
		return
	}
	if !p.svc.IsHealthy(ctx) {
		logger.Debug("memory service unhealthy, skipping extraction")
		return
	}
	if !p.state.tryExtraction(now) {
		return
	}

	records := p.extractor.Run(ctx, renderConversation(messages))

	saved := 0
	for _, rec := range records {
		if p.persist(ctx, rec) {
			saved++
		}
	}
	if len(records) > 0 {
		logger.Info("turn-end extraction finished",
			"extracted", len(records), "saved", saved)
	}
}

// persist writes the record unless an equivalent one went out within the
// dedup window. Returns whether a write was dispatched; the cache is marked
// only after the write succeeds.
func (p *Plugin) persist(ctx context.Context, rec *model.Record) bool {
	if p.cache.IsDuplicate(rec.Content, rec.Type()) {
		return false
	}
	p.persistAsync(ctx, rec)
	return true
}

func renderConversation(messages []model.Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		sb.WriteString(string(msg.Role))
		sb.WriteString(": ")
		sb.WriteString(msg.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}
