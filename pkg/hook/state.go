package hook

import (
	"sync"
	"time"

	"github.com/m-mizutani/kioku/pkg/model"
)

const (
	// extractionThrottle spaces out turn-end extraction runs.
	extractionThrottle = 5 * time.Minute

	// postCompactionWindow is how long after a compaction the first prompt
	// still counts as post-compaction.
	postCompactionWindow = 2 * time.Minute

	// skillSampleCooldown spaces out skill distillation per tool.
	skillSampleCooldown = 10 * time.Minute

	toolCooldownSweepThreshold = 100
)

// state tracks the plugin's per-process timing decisions. All fields are
// guarded by the mutex; hooks may run concurrently.
type state struct {
	mu             sync.Mutex
	lastExtraction time.Time
	lastCompaction time.Time
	toolSampled    map[string]time.Time
}

func newState() *state {
	return &state{toolSampled: make(map[string]time.Time)}
}

// restore seeds the timing state from a persisted snapshot.
func (s *state) restore(st *model.PluginState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastExtraction = st.LastExtraction
	s.lastCompaction = st.LastCompaction
	for name, at := range st.ToolSampled {
		s.toolSampled[name] = at
	}
}

// export snapshots the timing state for persistence.
func (s *state) export() *model.PluginState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &model.PluginState{
		LastExtraction: s.lastExtraction,
		LastCompaction: s.lastCompaction,
		ToolSampled:    make(map[string]time.Time, len(s.toolSampled)),
	}
	for name, at := range s.toolSampled {
		st.ToolSampled[name] = at
	}
	return st
}

// tryExtraction consumes the extraction throttle if it has elapsed.
func (s *state) tryExtraction(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastExtraction.IsZero() && now.Sub(s.lastExtraction) < extractionThrottle {
		return false
	}
	s.lastExtraction = now
	return true
}

func (s *state) markCompaction(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCompaction = now
}

// consumePostCompaction reports whether the compaction window is open, and
// closes it: only the first prompt after a compaction gets the treatment.
func (s *state) consumePostCompaction(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastCompaction.IsZero() || now.Sub(s.lastCompaction) > postCompactionWindow {
		return false
	}
	s.lastCompaction = time.Time{}
	return true
}

// inPostCompactionWindow reports the window state without consuming it.
func (s *state) inPostCompactionWindow(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.lastCompaction.IsZero() && now.Sub(s.lastCompaction) <= postCompactionWindow
}

// trySampleTool consumes the per-tool skill sampling cooldown.
func (s *state) trySampleTool(tool string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.toolSampled[tool]; ok && now.Sub(last) < skillSampleCooldown {
		return false
	}
	s.toolSampled[tool] = now

	if len(s.toolSampled) > toolCooldownSweepThreshold {
		for name, last := range s.toolSampled {
			if now.Sub(last) >= skillSampleCooldown {
				delete(s.toolSampled, name)
			}
		}
	}
	return true
}
