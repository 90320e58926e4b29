package hook

import "context"

// UserPrompt handles the prompt-submit event and returns the context block
// to inject, or "" for nothing. The first prompt after a compaction widens
// retrieval to continuity summaries; the window is consumed here so only one
// prompt gets it.
func (p *Plugin) UserPrompt(ctx context.Context, prompt string) string {
	if !p.retrievalEnabled {
		return ""
	}
	postCompaction := p.state.consumePostCompaction(p.now())
	return p.pipeline.Retrieve(ctx, prompt, postCompaction)
}
