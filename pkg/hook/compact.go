package hook

import (
	"context"
	"fmt"
	"sync"

	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/service/segment"
	"github.com/m-mizutani/kioku/pkg/utils/logging"
)

const (
	minCompactionMessages = 4

	segmentMin = 4
	segmentMax = 8
)

// FlushReport tallies one compaction flush.
type FlushReport struct {
	Segments int `json:"segments"`
	Saved    int `json:"saved"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// PreCompact flushes the conversation into memory before the host compacts
// it away. Segments are summarized independently and the surviving entries
// persisted concurrently; one segment's failure never aborts the others.
// Returns nil when the flush was skipped entirely.
func (p *Plugin) PreCompact(ctx context.Context, messages []model.Message) *FlushReport {
	if !p.compactionEnabled {
		return nil
	}
	logger := logging.From(ctx)

	if len(messages) < minCompactionMessages {
		logger.Debug("too few messages for compaction flush", "count", len(messages))
		return nil
	}
	if !p.svc.IsHealthy(ctx) {
		logger.Debug("memory service unhealthy, skipping compaction flush")
		return nil
	}

	segments := segment.Split(messages, segmentMin, segmentMax)
	report := &FlushReport{Segments: len(segments)}

	var entries []*model.Record
	for _, seg := range segments {
		records, err := p.extractor.FlushSegment(ctx, seg)
		if err != nil {
			logger.Warn("segment summarization failed", "error", err)
			continue
		}
		entries = append(entries, records...)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, rec := range entries {
		if p.cache.IsDuplicate(rec.Content, rec.Type()) {
			report.Skipped++
			continue
		}

		wg.Add(1)
		go func(rec *model.Record) {
			defer wg.Done()
			err := p.svc.AddWait(ctx, rec)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warn("failed to persist compaction entry", "error", err)
				report.Failed++
				return
			}
			report.Saved++
			p.cache.MarkAdded(rec.Content, rec.Type())
		}(rec)
	}
	wg.Wait()

	p.persistAsync(ctx, compactionMetaRecord(messages, report))
	logger.Info("compaction flush finished",
		"segments", report.Segments,
		"saved", report.Saved,
		"skipped", report.Skipped,
		"failed", report.Failed)
	return report
}

// PostCompact records the compaction timestamp, opening the post-compaction
// window that the next prompt's retrieval reads.
func (p *Plugin) PostCompact(ctx context.Context) {
	p.state.markCompaction(p.now())
	logging.From(ctx).Debug("entered post-compaction window")
}

// compactionMetaRecord builds the summary meta-record carrying the tally and
// a rough token estimate of what was compacted away.
func compactionMetaRecord(messages []model.Message, report *FlushReport) *model.Record {
	chars := 0
	for _, msg := range messages {
		chars += len(msg.Text)
	}
	tokens := chars / 4

	content := fmt.Sprintf(
		"Compaction flush: %d messages (~%d tokens) across %d segments, %d entries saved, %d skipped, %d failed",
		len(messages), tokens, report.Segments, report.Saved, report.Skipped, report.Failed)

	return model.NewRecord(model.MemoryTypeCompaction, content, []string{"compaction", "meta"},
		map[string]any{
			model.InfoKeySource: "compaction",
			"messages":          len(messages),
			"token_estimate":    tokens,
			"saved":             report.Saved,
			"skipped":           report.Skipped,
			"failed":            report.Failed,
		})
}
