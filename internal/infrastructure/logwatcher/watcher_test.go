package logwatcher

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/benderhq/engine/internal/domain/entity"
	"go.uber.org/zap"
)

type fakeGenerator struct {
	resp map[string]interface{}
	err  error
}

func (f *fakeGenerator) GenerateJSON(ctx context.Context, prompt string, temperature float64) (map[string]interface{}, entity.LLMResponse, error) {
	return f.resp, entity.LLMResponse{}, f.err
}

func TestAnalyze_CompletionMarkerShortCircuits(t *testing.T) {
	w := New(&fakeGenerator{err: context.DeadlineExceeded}, zap.NewNop())
	v := w.Analyze(context.Background(), entity.FilterResult{HasCompletion: true}, "task", time.Second)
	if v.Result != entity.ResultCompleted {
		t.Fatalf("expected ResultCompleted, got %s", v.Result)
	}
}

func TestAnalyze_QuestionMarkerReturnsNeedHuman(t *testing.T) {
	w := New(&fakeGenerator{err: context.DeadlineExceeded}, zap.NewNop())
	v := w.Analyze(context.Background(), entity.FilterResult{HasQuestion: true}, "task", time.Second)
	if v.Result != entity.ResultNeedHuman {
		t.Fatalf("expected ResultNeedHuman, got %s", v.Result)
	}
}

func TestAnalyze_CompletionIgnoredWhenErrorAlsoPresent(t *testing.T) {
	w := New(&fakeGenerator{resp: map[string]interface{}{"status": "error"}}, zap.NewNop())
	fr := entity.FilterResult{HasCompletion: true, HasError: true, FilteredText: strings.Repeat("x", 200), FilteredLength: 200}
	v := w.Analyze(context.Background(), fr, "task", time.Second)
	if v.Result == entity.ResultCompleted {
		t.Fatalf("expected completion marker to be ignored when an error is also present")
	}
}

func TestAnalyze_ShortLogReturnsWorkingWithoutLLMCall(t *testing.T) {
	gen := &fakeGenerator{resp: map[string]interface{}{"status": "completed"}}
	w := New(gen, zap.NewNop())
	fr := entity.FilterResult{FilteredText: "short", FilteredLength: 10}
	v := w.Analyze(context.Background(), fr, "task", time.Second)
	if v.Result != entity.ResultWorking {
		t.Fatalf("expected ResultWorking for a short log, got %s", v.Result)
	}
}

func TestAnalyze_StuckAfterThreeUnchangedHashes(t *testing.T) {
	w := New(&fakeGenerator{resp: map[string]interface{}{"status": "working"}}, zap.NewNop())
	fr := entity.FilterResult{FilteredText: strings.Repeat("same output\n", 20), FilteredLength: 200}

	var last entity.Verdict
	for i := 0; i < 4; i++ {
		last = w.Analyze(context.Background(), fr, "task", time.Second)
	}
	if last.Result != entity.ResultStuck {
		t.Fatalf("expected ResultStuck after repeated unchanged hashes, got %s", last.Result)
	}
	if !last.ShouldRestart {
		t.Fatalf("expected ShouldRestart to be set on a stuck verdict")
	}
}

func TestAnalyze_ChangingLogsNeverGoStuck(t *testing.T) {
	w := New(&fakeGenerator{resp: map[string]interface{}{"status": "working"}}, zap.NewNop())
	for i := 0; i < 5; i++ {
		fr := entity.FilterResult{FilteredText: strings.Repeat("x", 200) + string(rune('a'+i)), FilteredLength: 200}
		v := w.Analyze(context.Background(), fr, "task", time.Second)
		if v.Result == entity.ResultStuck {
			t.Fatalf("did not expect ResultStuck when the log keeps changing (iteration %d)", i)
		}
	}
}

func TestAnalyze_LLMErrorFallsBackToWorking(t *testing.T) {
	w := New(&fakeGenerator{err: context.DeadlineExceeded}, zap.NewNop())
	fr := entity.FilterResult{FilteredText: strings.Repeat("x", 200), FilteredLength: 200}
	v := w.Analyze(context.Background(), fr, "task", time.Second)
	if v.Result != entity.ResultWorking {
		t.Fatalf("expected a provider error to fall back to ResultWorking, got %s", v.Result)
	}
}

func TestAnalyze_LLMStatusMapping(t *testing.T) {
	w := New(&fakeGenerator{resp: map[string]interface{}{"status": "loop", "summary": "repeating itself"}}, zap.NewNop())
	fr := entity.FilterResult{FilteredText: strings.Repeat("x", 200), FilteredLength: 200}
	v := w.Analyze(context.Background(), fr, "task", time.Second)
	if v.Result != entity.ResultLoop {
		t.Fatalf("expected ResultLoop, got %s", v.Result)
	}
	if v.Summary != "repeating itself" {
		t.Fatalf("expected the summary to be carried through, got %q", v.Summary)
	}
}

func TestAnalyze_UnknownStatusDefaultsToWorking(t *testing.T) {
	w := New(&fakeGenerator{resp: map[string]interface{}{"status": "not_a_real_status"}}, zap.NewNop())
	fr := entity.FilterResult{FilteredText: strings.Repeat("x", 200), FilteredLength: 200}
	v := w.Analyze(context.Background(), fr, "task", time.Second)
	if v.Result != entity.ResultWorking {
		t.Fatalf("expected an unrecognized status to default to ResultWorking, got %s", v.Result)
	}
}

func TestExtractContext_NeverSplitsLinesMidway(t *testing.T) {
	log := "line one\nline two\nline three that is quite a bit longer than the others"
	out := extractContext(log, 20)
	for _, line := range strings.Split(out, "\n") {
		if line != "" && !strings.Contains(log, line) {
			t.Fatalf("expected only whole lines from the original log, got fragment %q", line)
		}
	}
}

func TestReset_ClearsStuckDetectorState(t *testing.T) {
	w := New(&fakeGenerator{resp: map[string]interface{}{"status": "working"}}, zap.NewNop())
	fr := entity.FilterResult{FilteredText: strings.Repeat("same\n", 20), FilteredLength: 200}
	w.Analyze(context.Background(), fr, "task", time.Second)
	w.Analyze(context.Background(), fr, "task", time.Second)
	w.Reset()

	v := w.Analyze(context.Background(), fr, "task", time.Second)
	if v.Result == entity.ResultStuck {
		t.Fatalf("expected Reset to clear the no-change counter, got ResultStuck immediately after reset")
	}
}
