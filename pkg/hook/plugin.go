// Package hook implements the agent lifecycle handlers: prompt-time context
// injection, turn-end extraction, compaction flush and tool trace capture.
// Every handler degrades to a no-op on failure; the conversation is never
// blocked by the memory layer.
package hook

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/adapter"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/service/dedup"
	"github.com/m-mizutani/kioku/pkg/service/extract"
	"github.com/m-mizutani/kioku/pkg/service/retrieval"
	"github.com/m-mizutani/kioku/pkg/utils/logging"
)

// Plugin bundles the services behind the lifecycle handlers. The binary runs
// once per lifecycle event, so the timing state is restored from a persisted
// snapshot at construction and exported again before the process exits.
type Plugin struct {
	svc       adapter.Service
	pipeline  *retrieval.Pipeline
	extractor *extract.Extractor
	cache     *dedup.Cache
	state     *state
	now       func() time.Time

	wg sync.WaitGroup

	retrievalEnabled  bool
	extractionEnabled bool
	compactionEnabled bool
	tracesEnabled     bool
}

// Option configures a Plugin.
type Option func(*Plugin)

// WithRetrieval toggles prompt-time context injection.
func WithRetrieval(enabled bool) Option {
	return func(p *Plugin) { p.retrievalEnabled = enabled }
}

// WithExtraction toggles turn-end extraction.
func WithExtraction(enabled bool) Option {
	return func(p *Plugin) { p.extractionEnabled = enabled }
}

// WithCompactionFlush toggles the pre-compaction flush.
func WithCompactionFlush(enabled bool) Option {
	return func(p *Plugin) { p.compactionEnabled = enabled }
}

// WithToolTraces toggles tool trace capture and skill distillation.
func WithToolTraces(enabled bool) Option {
	return func(p *Plugin) { p.tracesEnabled = enabled }
}

// WithState restores throttles, the post-compaction mark and per-tool
// sampling from a persisted snapshot. The dedup cache and the reminder
// cooldown are seeded where those are constructed.
func WithState(st *model.PluginState) Option {
	return func(p *Plugin) {
		if st != nil {
			p.state.restore(st)
		}
	}
}

// WithHookClock injects a clock for tests.
func WithHookClock(now func() time.Time) Option {
	return func(p *Plugin) { p.now = now }
}

// New creates a Plugin over the given services. All lifecycle features are
// enabled by default.
func New(svc adapter.Service, pipeline *retrieval.Pipeline, extractor *extract.Extractor, cache *dedup.Cache, opts ...Option) *Plugin {
	p := &Plugin{
		svc:               svc,
		pipeline:          pipeline,
		extractor:         extractor,
		cache:             cache,
		state:             newState(),
		now:               time.Now,
		retrievalEnabled:  true,
		extractionEnabled: true,
		compactionEnabled: true,
		tracesEnabled:     true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ExportState snapshots everything that must survive the process: throttle
// timestamps, the post-compaction mark, per-tool sampling, the reminder
// cooldown and the dedup cache.
func (p *Plugin) ExportState() *model.PluginState {
	st := p.state.export()
	st.LastTodoRemind = p.pipeline.LastRemind()
	st.Dedup = p.cache.Export()
	return st
}

// persistAsync writes the record detached from the caller and marks the
// dedup cache only once the write is confirmed. The write still finishes
// before process exit: Flush waits for it.
func (p *Plugin) persistAsync(ctx context.Context, rec *model.Record) {
	logger := logging.From(ctx)
	detached := context.WithoutCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.svc.AddWait(detached, rec); err != nil {
			logger.Warn("detached memory write failed", "error", err)
			return
		}
		p.cache.MarkAdded(rec.Content, rec.Type())
	}()
}

// Flush blocks until every detached write has settled or the context
// expires. One-shot hook processes drain here before exiting.
func (p *Plugin) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return goerr.Wrap(ctx.Err(), "detached writes still in flight")
	}

	if f, ok := p.svc.(adapter.Flusher); ok {
		return f.Flush(ctx)
	}
	return nil
}
