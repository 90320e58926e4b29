package retrieval_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kioku/pkg/service/retrieval"
)

func TestClassify(t *testing.T) {
	classifier := retrieval.NewClassifier()

	testCases := []struct {
		name     string
		prompt   string
		expected retrieval.Decision
	}{
		{"bare greeting", "hi", retrieval.DecisionSkip},
		{"greeting with punctuation", "hello!", retrieval.DecisionSkip},
		{"short ack", "ok thanks", retrieval.DecisionSkip},
		{"japanese greeting", "こんにちは", retrieval.DecisionSkip},
		{"japanese thanks", "ありがとう！", retrieval.DecisionSkip},
		{"too short", "fix it", retrieval.DecisionSkip},

		{"explicit memory reference", "what did you say about the database last time?", retrieval.DecisionForce},
		{"remember keyword", "remember my API key preference", retrieval.DecisionForce},
		{"short but explicit", "前回の続き", retrieval.DecisionForce},
		{"japanese recall", "さっきの話の続きをお願い", retrieval.DecisionForce},

		{"ordinary request", "please refactor the auth module to use sessions", retrieval.DecisionRetrieve},
		{"short but substantive", "add retry to the client", retrieval.DecisionRetrieve},
		{"word containing greeting", "highlight the bug", retrieval.DecisionRetrieve},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gt.Equal(t, classifier.Classify(tc.prompt), tc.expected)
		})
	}
}
