package retrieval

import (
	"strings"

	"github.com/m-mizutani/kioku/pkg/model"
)

// FilterOptions tunes the sufficiency filter.
type FilterOptions struct {
	MinLength  int     // drop candidates shorter than this
	MaxOverlap float64 // drop candidates overlapping an accepted one beyond this ratio
	PrefixLen  int     // overlap comparison window in characters
}

// DefaultFilterOptions are the production settings.
func DefaultFilterOptions() FilterOptions {
	return FilterOptions{
		MinLength:  20,
		MaxOverlap: 0.65,
		PrefixLen:  240,
	}
}

// Filter drops low-value candidates: too-short texts, serialized internal
// records that leaked into search results, and texts redundant against an
// already accepted candidate (word-set Jaccard overlap). Accepted candidates
// keep their original order.
func Filter(candidates []model.Candidate, opts FilterOptions) []model.Candidate {
	if opts.MinLength <= 0 {
		opts.MinLength = 20
	}
	if opts.MaxOverlap <= 0 {
		opts.MaxOverlap = 0.65
	}
	if opts.PrefixLen <= 0 {
		opts.PrefixLen = 240
	}

	var accepted []model.Candidate
	var acceptedWords []map[string]struct{}

	for _, c := range candidates {
		text := strings.TrimSpace(c.Text)
		if len(text) < opts.MinLength {
			continue
		}
		if isSerializedRecord(text) {
			continue
		}

		words := wordSet(text, opts.PrefixLen)
		redundant := false
		for _, prior := range acceptedWords {
			if jaccard(words, prior) > opts.MaxOverlap {
				redundant = true
				break
			}
		}
		if redundant {
			continue
		}

		accepted = append(accepted, c)
		acceptedWords = append(acceptedWords, words)
	}

	return accepted
}

// isSerializedRecord detects internal meta-records (tool traces, raw task
// records) that must never be shown to the user.
func isSerializedRecord(text string) bool {
	if !strings.HasPrefix(text, "{") {
		return false
	}
	return strings.Contains(text, `"_type"`) || strings.Contains(text, `"type"`)
}

func wordSet(text string, prefixLen int) map[string]struct{} {
	if len(text) > prefixLen {
		text = text[:prefixLen]
	}
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[w] = struct{}{}
	}
	return set
}

// jaccard computes |a ∩ b| / |a ∪ b| over word sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
