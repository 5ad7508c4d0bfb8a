package service

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestQuickCheck_DetectsErrorCompleteAndChangeMarkers(t *testing.T) {
	r := QuickCheck("Traceback (most recent call last): modified file foo.go, done")
	if !r.HasError || !r.SeemsComplete || !r.HasChanges {
		t.Fatalf("expected all three markers detected, got %+v", r)
	}
}

func TestQuickCheck_NoMarkers(t *testing.T) {
	r := QuickCheck("still thinking about the approach")
	if r.HasError || r.SeemsComplete || r.HasChanges {
		t.Fatalf("expected no markers detected, got %+v", r)
	}
}

func TestResponseAnalyzer_Analyze_FallsBackOnProviderError(t *testing.T) {
	gen := &fakeGenerator{jsonErr: context.DeadlineExceeded}
	a := NewResponseAnalyzer(gen, 0, 0, zap.NewNop())

	result := a.Analyze(context.Background(), "some output", "do the thing", "step1", 1, 1, 0, 0, nil)
	if result.Action != ActionAskWorker {
		t.Fatalf("expected ASK_DROID fallback, got %s", result.Action)
	}
}

func TestResponseAnalyzer_Analyze_ParsesValidAction(t *testing.T) {
	gen := &fakeGenerator{jsonResp: map[string]interface{}{
		"action":              "continue",
		"has_changes":         true,
		"changes_substantial": false,
		"reason":              "looks fine",
		"issues":              []interface{}{"minor nit"},
	}}
	a := NewResponseAnalyzer(gen, 0, 0, zap.NewNop())

	result := a.Analyze(context.Background(), "output", "prompt", "step1", 1, 1, 0, 0, nil)
	if result.Action != ActionContinue {
		t.Fatalf("expected CONTINUE, got %s", result.Action)
	}
	if !result.HasChanges || result.Reason != "looks fine" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.Issues) != 1 || result.Issues[0] != "minor nit" {
		t.Fatalf("expected issues carried through, got %v", result.Issues)
	}
}

func TestResponseAnalyzer_Analyze_UnknownActionDefaultsToContinue(t *testing.T) {
	gen := &fakeGenerator{jsonResp: map[string]interface{}{"action": "not_a_real_action"}}
	a := NewResponseAnalyzer(gen, 0, 0, zap.NewNop())

	result := a.Analyze(context.Background(), "output", "prompt", "step1", 1, 1, 0, 0, nil)
	if result.Action != ActionContinue {
		t.Fatalf("expected an unrecognized action to default to CONTINUE, got %s", result.Action)
	}
}

func TestSmartTruncate_KeepsTextUnderLimitVerbatim(t *testing.T) {
	a := NewResponseAnalyzer(&fakeGenerator{}, 100, 0.4, zap.NewNop())
	out := a.smartTruncate("short output")
	if out != "short output" {
		t.Fatalf("expected short text unchanged, got %q", out)
	}
}

func TestSmartTruncate_PreservesJSONFenceWhenItFits(t *testing.T) {
	a := NewResponseAnalyzer(&fakeGenerator{}, 60, 0.4, zap.NewNop())
	text := strings.Repeat("a", 100) + "```json\n{\"ok\":true}\n```" + strings.Repeat("b", 100)
	out := a.smartTruncate(text)
	if !strings.Contains(out, "```json") || !strings.Contains(out, `{"ok":true}`) {
		t.Fatalf("expected the JSON fence to survive truncation, got %q", out)
	}
}

func TestSmartTruncate_PlainTruncationWithoutFence(t *testing.T) {
	a := NewResponseAnalyzer(&fakeGenerator{}, 40, 0.5, zap.NewNop())
	text := strings.Repeat("x", 200)
	out := a.smartTruncate(text)
	if len(out) >= len(text) {
		t.Fatalf("expected truncated output to be shorter than the original")
	}
	if !strings.Contains(out, "truncated") {
		t.Fatalf("expected a truncation marker in the output, got %q", out)
	}
}
