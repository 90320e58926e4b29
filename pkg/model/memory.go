package model

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// MemoryType classifies a persisted record. It is stored under the "_type"
// info key and used as a structural search filter.
type MemoryType string

const (
	MemoryTypeFact       MemoryType = "fact"
	MemoryTypeProfile    MemoryType = "profile"
	MemoryTypeBehavior   MemoryType = "behavior"
	MemoryTypeSkill      MemoryType = "skill"
	MemoryTypeEvent      MemoryType = "event"
	MemoryTypeTask       MemoryType = "task"
	MemoryTypeTaskUpdate MemoryType = "task_update"
	MemoryTypeToolTrace  MemoryType = "tool_trace"
	MemoryTypeCompaction MemoryType = "compaction"
	MemoryTypePreference MemoryType = "preference"
)

// Info keys shared across record producers and consumers.
const (
	InfoKeyType        = "_type"
	InfoKeyContentHash = "content_hash"
	InfoKeySource      = "source"
)

// Record is a unit of knowledge to persist in the memory service.
// Records are append-only: corrections are new records, never edits.
type Record struct {
	Content string
	Tags    []string
	Info    map[string]any
}

// Validate checks that the record carries a searchable payload.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.Content) == "" {
		return goerr.New("record content is empty")
	}
	return nil
}

// Type returns the memory type stored in the info map.
func (r *Record) Type() MemoryType {
	if v, ok := r.Info[InfoKeyType].(string); ok {
		return MemoryType(v)
	}
	return ""
}

// NewRecord builds a record of the given type with the content hash attached.
func NewRecord(memType MemoryType, content string, tags []string, info map[string]any) *Record {
	if info == nil {
		info = map[string]any{}
	}
	info[InfoKeyType] = string(memType)
	info[InfoKeyContentHash] = ContentHash(memType, content)
	return &Record{Content: content, Tags: tags, Info: info}
}

// NormalizeContent lowers case, collapses runs of whitespace and trims the
// ends, so near-identical texts hash identically.
func NormalizeContent(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ContentHash derives the dedup key for a (type, content) pair: FNV-1a over
// the type and the normalized content, rendered as 16 hex characters.
// It is used only for duplicate suppression, never as record identity.
func ContentHash(memType MemoryType, content string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(string(memType)))
	_, _ = h.Write([]byte("\n"))
	_, _ = h.Write([]byte(NormalizeContent(content)))
	return fmt.Sprintf("%016x", h.Sum64())
}

// Candidate is a search result normalized into the canonical internal shape.
// External items expose their text under several legacy field names; the
// adapter converts them once at the ingress boundary.
type Candidate struct {
	Text string
	Tags []string
	Info map[string]any
}

// InfoString returns a string value from the candidate info map, or "".
func (c *Candidate) InfoString(key string) string {
	if c.Info == nil {
		return ""
	}
	switch v := c.Info[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

// InfoStrings returns a string slice value from the candidate info map.
func (c *Candidate) InfoStrings(key string) []string {
	if c.Info == nil {
		return nil
	}
	switch v := c.Info[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// SearchResult groups the three channels the memory service returns together.
type SearchResult struct {
	Memories    []Candidate
	Skills      []Candidate
	Preferences []Candidate
}
