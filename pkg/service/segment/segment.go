// Package segment splits long conversations into topic-coherent chunks
// before summarization.
package segment

import "github.com/m-mizutani/kioku/pkg/model"

const (
	// DefaultMin and DefaultMax bound segment length in turns.
	DefaultMin = 4
	DefaultMax = 12
)

// Split partitions the flattened conversation into segments. The cut
// heuristic is a topic turn: once a segment reaches min length, a boundary
// is placed after an assistant turn that is followed by a user turn.
// Segments reaching max length are cut unconditionally. A trailing segment
// shorter than min is merged into the previous one instead of standing
// alone.
//
// The result always partitions the input exactly: no turn is dropped or
// duplicated and order is preserved.
func Split(messages []model.Message, min, max int) []model.Segment {
	if min <= 0 {
		min = DefaultMin
	}
	if max < min {
		max = DefaultMax
	}
	if len(messages) == 0 {
		return nil
	}
	if len(messages) <= max {
		return []model.Segment{messages}
	}

	var segments []model.Segment
	var current model.Segment

	for i, msg := range messages {
		current = append(current, msg)

		if len(current) >= max {
			segments = append(segments, current)
			current = nil
			continue
		}

		if len(current) >= min &&
			msg.Role == model.RoleAssistant &&
			i+1 < len(messages) &&
			messages[i+1].Role == model.RoleUser {
			segments = append(segments, current)
			current = nil
		}
	}

	if len(current) > 0 {
		if len(current) < min && len(segments) > 0 {
			segments[len(segments)-1] = append(segments[len(segments)-1], current...)
		} else {
			segments = append(segments, current)
		}
	}

	return segments
}
