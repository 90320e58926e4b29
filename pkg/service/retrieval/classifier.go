package retrieval

import (
	"strings"
	"unicode/utf8"
)

// Decision is the pre-retrieval classification of a user prompt.
type Decision int

const (
	// DecisionSkip means the prompt is too casual or short to justify a search.
	DecisionSkip Decision = iota
	// DecisionRetrieve means a normal-budget search is warranted.
	DecisionRetrieve
	// DecisionForce means the prompt explicitly references memory and gets a
	// larger search budget.
	DecisionForce
)

// Classifier decides whether a prompt warrants memory retrieval. The default
// is a fixed English/Japanese pattern set; other locales plug in here.
type Classifier interface {
	Classify(prompt string) Decision
}

const (
	skipMinRunes   = 8
	casualMaxRunes = 15
	casualMaxWords = 3
)

// forcePatterns are explicit references to past conversation; any match
// forces retrieval regardless of prompt length.
var forcePatterns = []string{
	"remember",
	"recall",
	"last time",
	"previously",
	"you said",
	"you mentioned",
	"we discussed",
	"we talked about",
	"earlier you",
	"what did we",
	"覚えて",
	"思い出して",
	"前回",
	"以前",
	"さっき",
	"この前",
	"言ってた",
}

// casualPatterns are greetings and acknowledgements that carry no
// retrievable intent.
var casualPatterns = []string{
	"hi",
	"hello",
	"hey",
	"yo",
	"thanks",
	"thank you",
	"ok",
	"okay",
	"yes",
	"no",
	"sure",
	"cool",
	"nice",
	"great",
	"bye",
	"good morning",
	"good night",
	"こんにちは",
	"こんばんは",
	"おはよう",
	"ありがとう",
	"はい",
	"いいえ",
	"了解",
	"うん",
	"お疲れ",
	"よろしく",
}

type bilingualClassifier struct{}

// NewClassifier returns the default English/Japanese classifier.
func NewClassifier() Classifier {
	return &bilingualClassifier{}
}

func (c *bilingualClassifier) Classify(prompt string) Decision {
	normalized := strings.ToLower(strings.TrimSpace(prompt))

	// Explicit memory references win before any length gating.
	for _, p := range forcePatterns {
		if strings.Contains(normalized, p) {
			return DecisionForce
		}
	}

	runes := utf8.RuneCountInString(normalized)
	if runes < skipMinRunes {
		return DecisionSkip
	}

	words := len(strings.Fields(normalized))
	if runes < casualMaxRunes || words <= casualMaxWords {
		for _, p := range casualPatterns {
			if matchCasual(normalized, p) {
				return DecisionSkip
			}
		}
	}

	return DecisionRetrieve
}

// matchCasual checks a casual pattern against the prompt. ASCII patterns
// match at a word boundary from the start; Japanese patterns, having no word
// separators, match anywhere.
func matchCasual(prompt, pattern string) bool {
	if isASCII(pattern) {
		trimmed := strings.TrimRight(prompt, "!.?,~ ")
		return trimmed == pattern || strings.HasPrefix(trimmed, pattern+" ")
	}
	return strings.Contains(prompt, pattern)
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > 127 {
			return false
		}
	}
	return true
}
