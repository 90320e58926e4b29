// Package jsonx extracts JSON values from LLM output, tolerating markdown
// fences, smart quotes and trailing commas.
package jsonx

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	fenceRe         = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	smartQuotes     = strings.NewReplacer(
		"“", `"`, "”", `"`, // double smart quotes
		"‘", "'", "’", "'", // single smart quotes
	)
)

// Clean normalizes raw LLM output into parseable JSON text: fenced blocks
// are unwrapped, smart quotes straightened and trailing commas removed.
func Clean(raw string) string {
	s := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	s = smartQuotes.Replace(s)
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	return s
}

// ExtractArray finds the first JSON array in the raw text and returns its
// elements. The second return value distinguishes a legitimately empty array
// from unparseable input.
func ExtractArray(raw string) ([]gjson.Result, bool) {
	s := Clean(raw)

	start := strings.Index(s, "[")
	if start < 0 {
		return nil, false
	}
	end := strings.LastIndex(s, "]")
	if end <= start {
		return nil, false
	}

	parsed := gjson.Parse(s[start : end+1])
	if !parsed.IsArray() {
		return nil, false
	}
	return parsed.Array(), true
}

// ExtractObject finds the first JSON object in the raw text.
func ExtractObject(raw string) (gjson.Result, bool) {
	s := Clean(raw)

	start := strings.Index(s, "{")
	if start < 0 {
		return gjson.Result{}, false
	}
	end := strings.LastIndex(s, "}")
	if end <= start {
		return gjson.Result{}, false
	}

	parsed := gjson.Parse(s[start : end+1])
	if !parsed.IsObject() {
		return gjson.Result{}, false
	}
	return parsed, true
}
