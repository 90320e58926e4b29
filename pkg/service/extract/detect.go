package extract

import (
	"strings"

	"github.com/m-mizutani/kioku/pkg/model"
)

// Category is one typed extraction channel. Each category has its own prompt
// template and result parser.
type Category string

const (
	CategoryProfile  Category = "profile"
	CategoryBehavior Category = "behavior"
	CategorySkill    Category = "skill"
	CategoryEvent    Category = "event"
	CategoryTask     Category = "task"
	CategoryFact     Category = "fact" // generic fallback
)

// MemoryType maps the category onto the record type it produces.
func (c Category) MemoryType() model.MemoryType {
	switch c {
	case CategoryProfile:
		return model.MemoryTypeProfile
	case CategoryBehavior:
		return model.MemoryTypeBehavior
	case CategorySkill:
		return model.MemoryTypeSkill
	case CategoryEvent:
		return model.MemoryTypeEvent
	case CategoryTask:
		return model.MemoryTypeTask
	default:
		return model.MemoryTypeFact
	}
}

// categoryMarkers is a lightweight keyword detector (English/Japanese) that
// decides which extraction prompts are worth running against the text.
var categoryMarkers = map[Category][]string{
	CategoryProfile: {
		"my name", "i am ", "i'm ", "call me", "i work", "my email",
		"my role", "私の名前", "と申します", "私は",
	},
	CategoryBehavior: {
		"prefer", "i like", "i hate", "always use", "never use",
		"instead of", "from now on", "好き", "嫌い", "いつも", "使わないで",
	},
	CategorySkill: {
		"how to", "step by step", "procedure", "workflow", "the trick",
		"手順", "やり方", "方法",
	},
	CategoryEvent: {
		"today", "yesterday", "deployed", "released", "fixed", "merged",
		"shipped", "今日", "昨日", "リリース", "デプロイ",
	},
	CategoryTask: {
		"todo", "need to", "have to", "don't forget", "remind me",
		"by friday", "deadline", "やること", "忘れずに", "しなければ", "締め切り",
	},
}

// Detect returns the plausible categories for the text, falling back to the
// generic fact category when nothing matches.
func Detect(text string) []Category {
	lowered := strings.ToLower(text)

	var detected []Category
	for _, cat := range []Category{CategoryProfile, CategoryBehavior, CategorySkill, CategoryEvent, CategoryTask} {
		for _, marker := range categoryMarkers[cat] {
			if strings.Contains(lowered, marker) {
				detected = append(detected, cat)
				break
			}
		}
	}

	if len(detected) == 0 {
		return []Category{CategoryFact}
	}
	return detected
}
