package service

import (
	"context"
	"testing"

	"github.com/benderhq/engine/internal/domain/entity"
	"go.uber.org/zap"
)

type fakeGenerator struct {
	jsonResp map[string]interface{}
	jsonErr  error
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, temperature float64, jsonMode bool, maxTokens int) (entity.LLMResponse, error) {
	return entity.LLMResponse{}, nil
}

func (f *fakeGenerator) GenerateJSON(ctx context.Context, prompt string, temperature float64) (map[string]interface{}, entity.LLMResponse, error) {
	return f.jsonResp, entity.LLMResponse{}, f.jsonErr
}

func TestQuickAssess_KeywordOverridesLength(t *testing.T) {
	if tier := QuickAssess("fix the typo in this very long sentence that otherwise reads as a complex task description here"); tier != entity.TierSimple {
		t.Fatalf("expected a typo mention to force TierSimple regardless of length, got %s", tier)
	}
}

func TestQuickAssess_ComplexKeyword(t *testing.T) {
	if tier := QuickAssess("refactor the auth module"); tier != entity.TierComplex {
		t.Fatalf("expected TierComplex, got %s", tier)
	}
}

func TestQuickAssess_LengthBuckets(t *testing.T) {
	if tier := QuickAssess("short task"); tier != entity.TierSimple {
		t.Fatalf("expected a short task with no keywords to be TierSimple, got %s", tier)
	}
	long := "do something moderately involved that takes a fair bit of explaining but has no trigger words at all in it whatsoever, truly nothing and then keep going with more plain words so that the whole request runs well past two hundred characters in total"
	if tier := QuickAssess(long); tier != entity.TierComplex {
		t.Fatalf("expected a long task with no keywords to be TierComplex, got %s", tier)
	}
}

func TestClarify_NoQuestionsPhraseSkipsLLM(t *testing.T) {
	gen := &fakeGenerator{jsonErr: context.DeadlineExceeded}
	c := NewTaskClarifier(gen, zap.NewNop())

	task := c.Clarify(context.Background(), "just do it, don't ask", nil)
	if task.Complexity != entity.ComplexityComplex {
		t.Fatalf("expected the fast path to mark the task complex, got %s", task.Complexity)
	}
	if !task.NeedsFinalReview {
		t.Fatalf("expected the fast path to require a final review")
	}
}

func TestClarify_LLMErrorFallsBackToMedium(t *testing.T) {
	gen := &fakeGenerator{jsonErr: context.DeadlineExceeded}
	c := NewTaskClarifier(gen, zap.NewNop())

	task := c.Clarify(context.Background(), "add a feature", nil)
	if task.Complexity != entity.ComplexityMedium {
		t.Fatalf("expected fallback to medium complexity, got %s", task.Complexity)
	}
}

func TestClarify_ParsesCriteriaAndComplexity(t *testing.T) {
	gen := &fakeGenerator{jsonResp: map[string]interface{}{
		"complexity":          "complex",
		"needs_final_review":  true,
		"acceptance_criteria": []interface{}{"criterion one", "criterion two"},
	}}
	c := NewTaskClarifier(gen, zap.NewNop())

	asked := false
	askUser := func(criteria []string) string {
		asked = true
		if len(criteria) != 2 {
			t.Fatalf("expected 2 proposed criteria, got %v", criteria)
		}
		return "yes"
	}

	task := c.Clarify(context.Background(), "build the thing", askUser)
	if !asked {
		t.Fatalf("expected askUser to be invoked when criteria are proposed")
	}
	if task.Complexity != entity.ComplexityComplex || !task.NeedsFinalReview {
		t.Fatalf("unexpected task: %+v", task)
	}
	if len(task.Criteria) != 2 {
		t.Fatalf("expected approved criteria to be kept verbatim, got %v", task.Criteria)
	}
}

func TestConfirmCriteria_RejectionEmptiesList(t *testing.T) {
	out := confirmCriteria([]string{"a", "b"}, func(criteria []string) string { return "no" })
	if out != nil {
		t.Fatalf("expected rejection to empty the criteria list, got %v", out)
	}
}

func TestConfirmCriteria_ReplacementUsesOwnLines(t *testing.T) {
	out := confirmCriteria([]string{"a"}, func(criteria []string) string { return "my own criterion\nsecond one" })
	if len(out) != 2 || out[0] != "my own criterion" || out[1] != "second one" {
		t.Fatalf("expected the user's own replacement lines, got %v", out)
	}
}
