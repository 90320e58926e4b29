package retrieval

import (
	"strings"

	"github.com/m-mizutani/kioku/pkg/model"
)

const (
	queryMaxLen    = 200
	mergePrefixLen = 100
)

// buildQuery derives the search query from the prompt: a whitespace
// normalized, truncated prefix plus any identifier-looking tokens that fell
// beyond the truncation point, so code entities late in a long prompt still
// steer the search.
func buildQuery(prompt string) string {
	normalized := strings.Join(strings.Fields(prompt), " ")
	if len(normalized) <= queryMaxLen {
		return normalized
	}

	query := normalized[:queryMaxLen]
	for _, token := range identifierTokens(normalized[queryMaxLen:]) {
		if !strings.Contains(query, token) {
			query += " " + token
		}
	}
	return query
}

// identifierTokens picks out code-entity-looking words: snake_case,
// dotted.paths and CamelCase identifiers.
func identifierTokens(s string) []string {
	var out []string
	for _, w := range strings.Fields(s) {
		w = strings.Trim(w, "\"'`.,:;()[]{}!?")
		if len(w) < 4 || len(w) > 64 {
			continue
		}
		if strings.ContainsAny(w, "_.") || hasInnerUpper(w) {
			out = append(out, w)
			if len(out) >= 5 {
				break
			}
		}
	}
	return out
}

func hasInnerUpper(s string) bool {
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			return true
		}
	}
	return false
}

// mergeByPrefix concatenates candidate lists, deduplicating by a normalized
// content prefix key and preserving first-seen order.
func mergeByPrefix(lists ...[]model.Candidate) []model.Candidate {
	seen := make(map[string]bool)
	var out []model.Candidate

	for _, list := range lists {
		for _, c := range list {
			key := model.NormalizeContent(c.Text)
			if len(key) > mergePrefixLen {
				key = key[:mergePrefixLen]
			}
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, c)
		}
	}
	return out
}
