package session

import (
	"context"
	"strings"
	"testing"

	"github.com/benderhq/engine/internal/domain/entity"
	"go.uber.org/zap"
)

func newTestVisibleAdapter(markers, progress []string) *VisibleAdapter {
	cfg := VisibleConfig{
		Namespace:         "bender",
		Tier:              entity.TierSimple,
		Command:           []string{"worker-cli"},
		CompletionMarkers: markers,
		ProgressPatterns:  progress,
	}
	return NewVisibleAdapter(cfg, nil, zap.NewNop())
}

func TestNewVisibleAdapter_TempFileNamingFollowsSpec(t *testing.T) {
	a := newTestVisibleAdapter(nil, nil)
	if !strings.Contains(a.taskFile, "bender-task-"+a.sessionName) {
		t.Fatalf("expected task file to follow {namespace}-task-{session}.txt, got %q", a.taskFile)
	}
	if !strings.Contains(a.scriptFile, "bender-run-"+a.sessionName) {
		t.Fatalf("expected script file to follow {namespace}-run-{session}.sh, got %q", a.scriptFile)
	}
	if !strings.Contains(a.logFile, "bender-"+a.sessionName+".log") {
		t.Fatalf("expected log file to follow {namespace}-{session}.log, got %q", a.logFile)
	}
}

func TestVisibleAdapter_SendInput_RefusesUnknownWindow(t *testing.T) {
	a := newTestVisibleAdapter(nil, nil)
	if err := a.SendInput(context.Background(), "hello"); err == nil {
		t.Fatalf("expected SendInput to fail without a recorded window id")
	}
}

func TestVisibleAdapter_IsAlive_FalseWithoutWindowID(t *testing.T) {
	a := newTestVisibleAdapter(nil, nil)
	if a.IsAlive(context.Background()) {
		t.Fatalf("expected IsAlive to be false when no window id has been recorded")
	}
}

func TestVisibleAdapter_CaptureOutput_MissingLogFileReturnsEmpty(t *testing.T) {
	a := newTestVisibleAdapter(nil, nil)
	if got := a.CaptureOutput(context.Background()); got != "" {
		t.Fatalf("expected empty string when the log file does not exist, got %q", got)
	}
}

func TestShellQuote_EscapesSingleQuotes(t *testing.T) {
	got := shellQuote("it's a test")
	if !strings.HasPrefix(got, "'") || !strings.HasSuffix(got, "'") {
		t.Fatalf("expected single-quoted output, got %q", got)
	}
	if !strings.Contains(got, `'\''`) {
		t.Fatalf("expected embedded quote to be escaped, got %q", got)
	}
}

func TestAppleScriptQuote_EscapesQuotesAndBackslashes(t *testing.T) {
	got := appleScriptQuote(`say "hi" \ bye`)
	if !strings.HasPrefix(got, `"`) || !strings.HasSuffix(got, `"`) {
		t.Fatalf("expected double-quoted output, got %q", got)
	}
	if strings.Count(got, `\"`) != 2 {
		t.Fatalf("expected both embedded quotes escaped, got %q", got)
	}
	if !strings.Contains(got, `\\`) {
		t.Fatalf("expected backslash escaped, got %q", got)
	}
}

func TestStop_IdempotentWithoutStart(t *testing.T) {
	a := newTestVisibleAdapter(nil, nil)
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("expected Stop on a never-started adapter to succeed, got %v", err)
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("expected second Stop to be a no-op, got %v", err)
	}
}
