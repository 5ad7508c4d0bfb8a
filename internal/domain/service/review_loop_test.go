package service

import (
	"testing"

	"github.com/benderhq/engine/internal/domain/entity"
	"go.uber.org/zap"
)

func TestParseFindings_RegexForm(t *testing.T) {
	out := ParseFindings(`- CRITICAL: SQL injection in query builder. db/query.go:42
- HIGH: missing nil check
- LOW: could use a clearer name
no issues otherwise`)

	if len(out) != 3 {
		t.Fatalf("expected 3 findings, got %d: %+v", len(out), out)
	}
	if out[0].Severity != entity.SeverityCritical || out[0].Location != "db/query.go:42" {
		t.Fatalf("unexpected first finding: %+v", out[0])
	}
	if out[1].Severity != entity.SeverityHigh || out[1].Location != "" {
		t.Fatalf("unexpected second finding: %+v", out[1])
	}
}

func TestParseFindings_FallbackScan(t *testing.T) {
	out := ParseFindings("random output with no leading dash\nCRITICAL: something broke here\nunrelated line")
	if len(out) != 1 {
		t.Fatalf("expected 1 finding from fallback scan, got %d: %+v", len(out), out)
	}
	if out[0].Severity != entity.SeverityCritical {
		t.Fatalf("expected CRITICAL severity, got %s", out[0].Severity)
	}
}

func TestParseFindings_NoIssues(t *testing.T) {
	out := ParseFindings("Everything looks fine, no issues found.")
	if len(out) != 0 {
		t.Fatalf("expected no findings, got %+v", out)
	}
}

func iterWithDescs(n int, descs ...string) entity.LoopIteration {
	var findings []entity.Finding
	for _, d := range descs {
		findings = append(findings, entity.Finding{Severity: entity.SeverityHigh, Description: d})
	}
	return entity.LoopIteration{N: n, Findings: findings}
}

func TestDetectCycle_RequiresThreeIterations(t *testing.T) {
	history := []entity.LoopIteration{
		iterWithDescs(1, "same issue"),
		iterWithDescs(2, "same issue"),
	}
	if detected, _, _ := DetectCycle(history); detected {
		t.Fatalf("expected no cycle with fewer than 3 iterations")
	}
}

func TestDetectCycle_RepeatingIntersection(t *testing.T) {
	history := []entity.LoopIteration{
		iterWithDescs(1, "race condition in worker pool", "unrelated issue A"),
		iterWithDescs(2, "race condition in worker pool", "unrelated issue B"),
		iterWithDescs(3, "race condition in worker pool", "unrelated issue C"),
	}
	detected, reason, repeating := DetectCycle(history)
	if !detected {
		t.Fatalf("expected a cycle to be detected")
	}
	if len(repeating) != 1 || repeating[0] != "race condition in worker pool" {
		t.Fatalf("expected the one common finding, got %v", repeating)
	}
	if reason == "" {
		t.Fatalf("expected a non-empty reason")
	}
}

func TestDetectCycle_IdenticalSetsVerbatim(t *testing.T) {
	history := []entity.LoopIteration{
		iterWithDescs(1, "issue one", "issue two"),
		iterWithDescs(2, "issue one", "issue two"),
		iterWithDescs(3, "issue one", "issue two"),
	}
	detected, reason, repeating := DetectCycle(history)
	if !detected {
		t.Fatalf("expected identical-set cycle to be detected")
	}
	if len(repeating) != 2 {
		t.Fatalf("expected both findings carried forward, got %v", repeating)
	}
	if reason == "" {
		t.Fatalf("expected a non-empty reason")
	}
}

func TestDetectCycle_NoOverlapNoCycle(t *testing.T) {
	history := []entity.LoopIteration{
		iterWithDescs(1, "issue A"),
		iterWithDescs(2, "issue B"),
		iterWithDescs(3, "issue C"),
	}
	if detected, _, _ := DetectCycle(history); detected {
		t.Fatalf("expected no cycle when findings never repeat")
	}
}

func TestDetectCycle_EmptyFindingsNeverCycle(t *testing.T) {
	history := []entity.LoopIteration{
		iterWithDescs(1),
		iterWithDescs(2),
		iterWithDescs(3),
	}
	if detected, _, _ := DetectCycle(history); detected {
		t.Fatalf("expected no cycle when no iteration has any findings")
	}
}

func TestPrepareFixTask_DropsLowSeverity(t *testing.T) {
	findings := []entity.Finding{
		{Severity: entity.SeverityCritical, Description: "crash on nil input"},
		{Severity: entity.SeverityLow, Description: "minor style nit"},
	}
	out := PrepareFixTask("original task", findings, "be careful")
	if !contains(out, "crash on nil input") {
		t.Fatalf("expected critical finding to be carried forward: %s", out)
	}
	if contains(out, "minor style nit") {
		t.Fatalf("expected low-severity finding to be dropped: %s", out)
	}
	if !contains(out, "be careful") {
		t.Fatalf("expected fix instructions to be appended: %s", out)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}

func TestAnalyzeFindings_NoFindingsWithChanges(t *testing.T) {
	decision, _ := AnalyzeFindings(nil, nil, nil, true, 1, 10, true, zap.NewNop())
	if decision != entity.DecisionFix {
		t.Fatalf("expected fix decision to verify unreviewed changes, got %s", decision)
	}
}

func TestAnalyzeFindings_NoFindingsNoChanges(t *testing.T) {
	decision, _ := AnalyzeFindings(nil, nil, nil, false, 1, 10, true, zap.NewNop())
	if decision != entity.DecisionDone {
		t.Fatalf("expected done decision, got %s", decision)
	}
}

func TestAnalyzeFindings_CriticalAlwaysFixes(t *testing.T) {
	findings := []entity.Finding{{Severity: entity.SeverityCritical, Description: "x"}}
	decision, _ := AnalyzeFindings(nil, nil, findings, false, 1, 10, true, zap.NewNop())
	if decision != entity.DecisionFix {
		t.Fatalf("expected fix decision for a critical finding, got %s", decision)
	}
}

func TestAnalyzeFindings_MediumRespectsIterationBudget(t *testing.T) {
	findings := []entity.Finding{{Severity: entity.SeverityMedium, Description: "x"}}
	decision, _ := AnalyzeFindings(nil, nil, findings, false, 9, 10, true, zap.NewNop())
	if decision != entity.DecisionDone {
		t.Fatalf("expected done decision once the iteration budget is nearly exhausted, got %s", decision)
	}
}

func TestAnalyzeSituation_SimpleModeRateLimit(t *testing.T) {
	action := AnalyzeSituation(nil, nil, "error: 429 too many requests", "", true, zap.NewNop())
	if action.Action != "wait" {
		t.Fatalf("expected wait action for a 429, got %s", action.Action)
	}
}

func TestAnalyzeSituation_SimpleModeTimeoutRetries(t *testing.T) {
	action := AnalyzeSituation(nil, nil, "connection timeout talking to worker", "", true, zap.NewNop())
	if action.Action != "retry" {
		t.Fatalf("expected retry action for a timeout, got %s", action.Action)
	}
}

func TestAnalyzeSituation_SimpleModeDefaultContinues(t *testing.T) {
	action := AnalyzeSituation(nil, nil, "worker is still thinking", "", true, zap.NewNop())
	if action.Action != "continue" {
		t.Fatalf("expected continue action by default, got %s", action.Action)
	}
}
