package model

import "time"

// PluginState is the cross-invocation state of the hook surface. The host
// runs the binary once per lifecycle event, so throttle timestamps, the
// post-compaction mark and the dedup cache must be carried through a store
// between invocations to mean anything.
type PluginState struct {
	LastExtraction time.Time            `json:"last_extraction"`
	LastCompaction time.Time            `json:"last_compaction"`
	LastTodoRemind time.Time            `json:"last_todo_remind"`
	ToolSampled    map[string]time.Time `json:"tool_sampled,omitempty"`
	Dedup          []DedupEntry         `json:"dedup,omitempty"`
}

// DedupEntry is one persisted dedup cache entry.
type DedupEntry struct {
	Hash     string    `json:"hash"`
	Count    int       `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}
