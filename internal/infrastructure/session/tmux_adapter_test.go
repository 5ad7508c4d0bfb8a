package session

import (
	"context"
	"strings"
	"testing"

	"github.com/benderhq/engine/internal/domain/entity"
	"github.com/benderhq/engine/internal/infrastructure/outputfilter"
	"go.uber.org/zap"
)

func TestNewSessionName_MatchesNamingConvention(t *testing.T) {
	name := newSessionName("bender", "complex")
	parts := strings.Split(name, "-")
	if len(parts) != 3 {
		t.Fatalf("expected namespace-worker-hex, got %q", name)
	}
	if parts[0] != "bender" || parts[1] != "complex" {
		t.Fatalf("expected bender-complex-<hex>, got %q", name)
	}
	if len(parts[2]) != 8 {
		t.Fatalf("expected 8 hex chars, got %q (%d)", parts[2], len(parts[2]))
	}
}

func TestFlattenNewlines_CollapsesToOneLine(t *testing.T) {
	got := flattenNewlines("fix the bug\nin the\n\nparser please")
	if strings.Contains(got, "\n") {
		t.Fatalf("expected no newlines, got %q", got)
	}
	if got != "fix the bug in the parser please" {
		t.Fatalf("unexpected flatten result: %q", got)
	}
}

func newTestAdapter(markers, progress []string) *TmuxAdapter {
	cfg := TmuxConfig{
		Namespace:         "bender",
		Tier:              entity.TierSimple,
		CompletionMarkers: markers,
		ProgressPatterns:  progress,
	}
	return NewTmuxAdapter(cfg, nil, zap.NewNop())
}

func TestEvaluateTick_CompletionMarkerWins(t *testing.T) {
	a := newTestAdapter([]string{"Task completed"}, nil)
	raw := "working on it\nTask completed\n"
	verdict, done, success := a.evaluateTick(context.Background(), raw, outputfilter.Classify(raw))
	if !done || !success {
		t.Fatalf("expected completion marker to short-circuit as success, got %+v done=%v success=%v", verdict, done, success)
	}
	if verdict.Result != entity.ResultCompleted {
		t.Fatalf("expected completed, got %s", verdict.Result)
	}
}

func TestEvaluateTick_StuckAfterThreeIdenticalTicks(t *testing.T) {
	a := newTestAdapter(nil, nil)
	raw := "same output every time, no progress verbs here at all just waiting quietly"

	for i := 0; i < 2; i++ {
		_, done, _ := a.evaluateTick(context.Background(), raw, outputfilter.Classify(raw))
		if done {
			t.Fatalf("did not expect stuck verdict before 3 repeats (tick %d)", i)
		}
	}
	// third identical tick with session presumed dead (no real tmux session exists)
	verdict, done, success := a.evaluateTick(context.Background(), raw, outputfilter.Classify(raw))
	if !done {
		t.Fatalf("expected a terminal verdict by the third identical tick")
	}
	if verdict.Result != entity.ResultStuck && verdict.Result != entity.ResultError {
		t.Fatalf("expected stuck or error (no tmux session backing this test), got %s, success=%v", verdict.Result, success)
	}
}

func TestHasProgressPattern_DetectsKnownVerbs(t *testing.T) {
	if !hasProgressPattern("Updated: src/main.go", nil) {
		t.Fatalf("expected 'Updated:' to be recognized as progress")
	}
	if hasProgressPattern("nothing happening here", nil) {
		t.Fatalf("expected plain text to not match any progress pattern")
	}
}

func TestTailBytes_TruncatesFromEnd(t *testing.T) {
	s := strings.Repeat("a", 1000) + "END"
	got := tailBytes(s, 10)
	if got != "aaaaaaaEND" {
		t.Fatalf("expected last 10 bytes preserved, got %q", got)
	}
	if tailBytes("short", 10) != "short" {
		t.Fatalf("expected short strings returned unchanged")
	}
}

func TestFnvHash_Deterministic(t *testing.T) {
	if fnvHash("same text") != fnvHash("same text") {
		t.Fatalf("expected identical input to hash identically")
	}
	if fnvHash("same text") == fnvHash("different text") {
		t.Fatalf("expected different input to hash differently")
	}
}
