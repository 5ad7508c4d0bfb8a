package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/benderhq/engine/internal/domain/entity"
	"github.com/benderhq/engine/internal/domain/repository"
	"github.com/benderhq/engine/pkg/safego"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const reviewTaskPrompt = `Review the changes made for this task and report any issues as a
severity-tagged list, one per line, in the form:
- CRITICAL: description. file:line
- HIGH: description
- MEDIUM: description
- LOW: description

TASK: %s

PRIOR ITERATION HISTORY:
%s

If there are no issues, say so plainly and do not invent any.`

const analyzeFindingsPrompt = `Given these review findings, decide whether the task needs another
fix pass.

FINDINGS:
%s

Respond with JSON only:
{"decision": "fix|skip|done", "fix_instructions": "what to change", "reason": "why"}`

const situationAnalysisPrompt = `The worker session failed to complete in time. Here is what happened:

%s

OUTPUT:
%s

Decide what to do next. Respond with a JSON object:
{"action": "retry|wait|abort|ask_user|continue", "wait_seconds": 30}`

// findingLinePattern is review_loop.py's _parse_findings regex:
// "- SEVERITY: description. file:line" with the location group
// optional.
var findingLinePattern = regexp.MustCompile(`(?i)^-\s*(CRITICAL|HIGH|MEDIUM|LOW):\s*(.+?)(?:\.\s*(\S+:\d+))?$`)

// ParseFindings extracts severity-tagged findings from reviewer
// output: the fixed regex first, falling back to a substring+split
// scan per line when nothing matches (review_loop.py's
// _parse_findings).
func ParseFindings(reviewerOutput string) []entity.Finding {
	var findings []entity.Finding
	for _, line := range strings.Split(reviewerOutput, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if m := findingLinePattern.FindStringSubmatch(trimmed); m != nil {
			findings = append(findings, entity.Finding{
				Severity:    entity.Severity(strings.ToUpper(m[1])),
				Description: strings.TrimSpace(m[2]),
				Location:    m[3],
			})
		}
	}
	if len(findings) > 0 {
		return findings
	}

	for _, line := range strings.Split(reviewerOutput, "\n") {
		if !strings.Contains(line, ":") {
			continue
		}
		for _, sev := range []entity.Severity{entity.SeverityCritical, entity.SeverityHigh, entity.SeverityMedium, entity.SeverityLow} {
			if strings.Contains(line, string(sev)) {
				parts := strings.SplitN(line, ":", 2)
				if len(parts) != 2 {
					continue
				}
				desc := strings.TrimSpace(parts[1])
				if len(desc) > 200 {
					desc = desc[:200]
				}
				findings = append(findings, entity.Finding{Severity: sev, Description: desc})
				break
			}
		}
	}
	return findings
}

// DetectCycle implements review_loop.py's _detect_cycle exactly: over
// the last 3 iterations, if every iteration has at least one finding
// and the (lowercased, trimmed) description sets share a common
// intersection, that's a repeating-issue cycle; otherwise, if all
// three sets are identical (and non-empty), that's the same issues
// repeated verbatim three times in a row. Fewer than 3 iterations of
// history can never cycle.
func DetectCycle(history []entity.LoopIteration) (detected bool, reason string, repeating []string) {
	if len(history) < 3 {
		return false, "", nil
	}
	last3 := history[len(history)-3:]

	sets := make([]map[string]bool, 3)
	for i, it := range last3 {
		sets[i] = make(map[string]bool, len(it.Findings))
		for _, f := range it.Findings {
			sets[i][strings.ToLower(strings.TrimSpace(f.Description))] = true
		}
	}

	allNonEmpty := true
	for _, s := range sets {
		if len(s) == 0 {
			allNonEmpty = false
			break
		}
	}

	if allNonEmpty {
		common := intersect(sets[0], sets[1], sets[2])
		if len(common) > 0 {
			repeating = sortedKeys(common)
			if len(repeating) > 5 {
				repeating = repeating[:5]
			}
			return true, fmt.Sprintf("%d issues keep repeating", len(common)), repeating
		}
	}

	if setsEqual(sets[0], sets[1]) && setsEqual(sets[1], sets[2]) && len(sets[0]) > 0 {
		descs := make([]string, 0, len(last3[0].Findings))
		for _, f := range last3[0].Findings {
			descs = append(descs, f.Description)
		}
		if len(descs) > 5 {
			descs = descs[:5]
		}
		return true, fmt.Sprintf("Same %d issues repeated 3 times", len(last3[0].Findings)), descs
	}

	return false, "", nil
}

func intersect(sets ...map[string]bool) map[string]bool {
	if len(sets) == 0 {
		return nil
	}
	out := make(map[string]bool)
	for k := range sets[0] {
		out[k] = true
	}
	for _, s := range sets[1:] {
		for k := range out {
			if !s[k] {
				delete(out, k)
			}
		}
	}
	return out
}

func setsEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	// Deterministic order without importing sort for five elements is
	// not worth the micro-optimization; keep it simple and correct.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// PrepareFixTask builds the next iteration's task text, restricting
// findings carried forward to CRITICAL/HIGH/MEDIUM — LOW findings are
// dropped from the fix instruction the way review_loop.py's
// _prepare_fix_task does.
func PrepareFixTask(originalTask string, findings []entity.Finding, fixInstructions string) string {
	var relevant []string
	for _, f := range findings {
		if f.Severity == entity.SeverityCritical || f.Severity == entity.SeverityHigh || f.Severity == entity.SeverityMedium {
			relevant = append(relevant, fmt.Sprintf("- %s: %s", f.Severity, f.Description))
		}
	}
	var sb strings.Builder
	sb.WriteString(originalTask)
	sb.WriteString("\n\nFix these issues from review:\n")
	sb.WriteString(strings.Join(relevant, "\n"))
	if fixInstructions != "" {
		sb.WriteString("\n\n")
		sb.WriteString(fixInstructions)
	}
	return sb.String()
}

// AnalyzeFindings implements review_loop.py's _analyze_findings branch
// table. In simple/skip-LLM mode: no findings plus changes means "fix"
// so the changes can be verified, no findings and no changes means
// done; CRITICAL or HIGH findings always mean fix; MEDIUM findings
// mean fix only while there's iteration budget left (more than 2
// iterations remaining); everything else is done. In LLM mode, the
// Router is asked directly and CRITICAL/HIGH findings are the fallback
// on any failure.
func AnalyzeFindings(ctx context.Context, router generator, findings []entity.Finding, hadChanges bool, iteration, maxIterations int, skipLLM bool, logger *zap.Logger) (entity.LoopDecision, string) {
	if len(findings) == 0 {
		if hadChanges {
			return entity.DecisionFix, "Changes detected, verify they work correctly"
		}
		return entity.DecisionDone, ""
	}

	counts := countBySeverity(findings)
	if skipLLM || router == nil {
		switch {
		case counts[entity.SeverityCritical] > 0:
			return entity.DecisionFix, ""
		case counts[entity.SeverityHigh] > 0:
			return entity.DecisionFix, ""
		case counts[entity.SeverityMedium] > 0 && iteration < maxIterations-2:
			return entity.DecisionFix, ""
		default:
			return entity.DecisionDone, ""
		}
	}

	var sb strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&sb, "- %s: %s\n", f.Severity, f.Description)
	}
	prompt := fmt.Sprintf(analyzeFindingsPrompt, sb.String())
	resp, _, err := router.GenerateJSON(ctx, prompt, 0.3)
	if err != nil {
		logger.Warn("findings analysis failed, falling back to severity heuristic", zap.Error(err))
		if counts[entity.SeverityCritical] > 0 || counts[entity.SeverityHigh] > 0 {
			return entity.DecisionFix, ""
		}
		return entity.DecisionDone, ""
	}

	decision, _ := resp["decision"].(string)
	fixInstructions, _ := resp["fix_instructions"].(string)
	switch strings.ToLower(decision) {
	case "fix":
		return entity.DecisionFix, fixInstructions
	case "skip":
		return entity.DecisionSkip, fixInstructions
	default:
		return entity.DecisionDone, fixInstructions
	}
}

func countBySeverity(findings []entity.Finding) map[entity.Severity]int {
	out := make(map[entity.Severity]int, 4)
	for _, f := range findings {
		out[f.Severity]++
	}
	return out
}

// SituationAction is the recovery action _analyze_situation picks
// when a worker run fails to complete.
type SituationAction struct {
	Action      string
	WaitSeconds time.Duration
}

// AnalyzeSituation implements review_loop.py's _analyze_situation.
// Spec §9 is explicit that this heuristic must not be extended beyond
// what the original checks without accompanying coverage: "error: 403"
// or "error: 429" in the situation text means wait 30s, a timeout or
// connection mention means retry immediately, anything else continues.
func AnalyzeSituation(ctx context.Context, router generator, situation, output string, skipLLM bool, logger *zap.Logger) SituationAction {
	lower := strings.ToLower(situation)
	if skipLLM || router == nil {
		switch {
		case strings.Contains(lower, "error: 403"), strings.Contains(lower, "error: 429"):
			return SituationAction{Action: "wait", WaitSeconds: 30 * time.Second}
		case strings.Contains(lower, "timeout"), strings.Contains(lower, "connection"):
			return SituationAction{Action: "retry"}
		default:
			return SituationAction{Action: "continue"}
		}
	}

	prompt := fmt.Sprintf(situationAnalysisPrompt, situation, truncateForPrompt(output, 1000))
	resp, _, err := router.GenerateJSON(ctx, prompt, 0.1)
	if err != nil {
		logger.Warn("situation analysis failed, continuing", zap.Error(err))
		return SituationAction{Action: "continue"}
	}
	action, _ := resp["action"].(string)
	waitSeconds, _ := resp["wait_seconds"].(float64)
	if action == "" {
		action = "continue"
	}
	return SituationAction{Action: action, WaitSeconds: time.Duration(waitSeconds) * time.Second}
}

func truncateForPrompt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// StatusReportFunc is called roughly every two minutes while a worker
// run is in flight, surfacing progress without waiting for the run to
// finish (review_loop.py's report_status background task).
type StatusReportFunc func(message string)

// ReviewLoopManager runs the executor/reviewer iteration loop that
// drives a Task to completion (spec §4.K). Grounded on
// review_loop.py's ReviewLoop.
type ReviewLoopManager struct {
	workers      *WorkerManager
	vcs          repository.VCS
	router       generator
	clarifier    *TaskClarifier
	states       repository.StateRepository
	audit        repository.AuditStore
	projectDir   string
	maxRetries   int
	runStatus    StatusReportFunc
	logger       *zap.Logger

	stopRequested atomic.Bool
}

func NewReviewLoopManager(workers *WorkerManager, vcs repository.VCS, router generator, clarifier *TaskClarifier, states repository.StateRepository, audit repository.AuditStore, projectDir string, maxRetries int, runStatus StatusReportFunc, logger *zap.Logger) *ReviewLoopManager {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &ReviewLoopManager{
		workers: workers, vcs: vcs, router: router, clarifier: clarifier,
		states: states, audit: audit,
		projectDir: projectDir, maxRetries: maxRetries, runStatus: runStatus, logger: logger,
	}
}

// RequestStop asks RunLoop to return at its next suspension point
// (spec §5's cooperative cancellation).
func (m *ReviewLoopManager) RequestStop() { m.stopRequested.Store(true) }

// RunLoop implements review_loop.py's run_loop: clarify the task, then
// iterate executor -> reviewer -> findings-analysis until the
// findings-analysis says done/skip, a cycle is detected, or
// maxIterations is exhausted. When skipFirstExecution is set, iteration
// 1's executor pass is skipped and the loop goes straight to review
// (spec §4.K step 1, review_loop.py's skip_execution).
func (m *ReviewLoopManager) RunLoop(ctx context.Context, rawTask string, maxIterations int, skipLLMAnalysis, skipFirstExecution bool) (entity.LoopResult, error) {
	task := m.clarifier.Clarify(ctx, rawTask, nil)
	currentTask := task.Clarified

	runID := uuid.NewString()
	state := &entity.EngineState{
		RunID:       runID,
		ProjectPath: m.projectDir,
		StartedAt:   time.Now(),
		Status:      entity.RunStatusRunning,
		CriteriaEcho: task.Criteria,
	}
	m.saveState(state)

	var history []entity.LoopIteration
	result := entity.LoopResult{}

	for iter := 1; iter <= maxIterations; iter++ {
		if m.stopRequested.Load() {
			state.Status = entity.RunStatusFailed
			m.saveState(state)
			return m.finish(result, history, false), entity.ErrStopRequested
		}

		if detected, reason, repeating := DetectCycle(history); detected {
			result.CycleDetected = true
			result.CycleReason = reason
			result.RemainingFindings = describeRepeating(repeating)
			state.Status = entity.RunStatusFailed
			m.saveState(state)
			return m.finish(result, history, false), nil
		}

		taskWithContext := currentTask
		if len(history) > 0 {
			taskWithContext = currentTask + "\n\nPrevious iteration history:\n" + historyContext(history)
		}

		state.CurrentIteration = iter
		state.CurrentStep = "executor"
		m.saveState(state)

		if skipFirstExecution && iter == 1 {
			m.report("Review-first mode: skipping execution, going straight to review")
		} else if err := m.runWorker(ctx, TierComplexForExecution(task), taskWithContext, fmt.Sprintf("exec-%d", iter)); err != nil {
			state.Status = entity.RunStatusFailed
			m.saveState(state)
			return m.finish(result, history, false), err
		}

		hadChanges, err := m.vcs.HasChanges(ctx, m.projectDir)
		if err != nil {
			m.logger.Warn("checking for vcs changes failed", zap.Error(err))
		}
		state.HasUncommittedChanges = hadChanges

		state.CurrentStep = "reviewer"
		m.saveState(state)

		reviewPrompt := fmt.Sprintf(reviewTaskPrompt, currentTask, historyContext(history))
		if err := m.runWorker(ctx, entity.TierComplex, reviewPrompt, fmt.Sprintf("review-%d", iter)); err != nil {
			state.Status = entity.RunStatusFailed
			m.saveState(state)
			return m.finish(result, history, false), err
		}
		reviewerOutput, _ := m.workers.GetOutput(ctx)

		findings := ParseFindings(reviewerOutput)
		decision, fixInstructions := AnalyzeFindings(ctx, m.router, findings, hadChanges, iter, maxIterations, skipLLMAnalysis, m.logger)

		iteration := entity.LoopIteration{
			N: iter, ExecutorName: "executor", ReviewerName: "reviewer",
			Findings: findings, HadVCSChanges: hadChanges, Decision: decision, FixInstructions: fixInstructions,
		}
		history = append(history, iteration)
		result.Iterations = iter
		result.TotalFindings += len(findings)
		result.History = history

		state.Iterations = append(state.Iterations, entity.IterationRecord{
			Step: "review", N: iter, Timestamp: time.Now(),
			Action: string(decision), HadChanges: hadChanges,
		})
		m.recordAudit(runID, iteration)

		switch decision {
		case entity.DecisionDone, entity.DecisionSkip:
			state.Status = entity.RunStatusCompleted
			m.saveState(state)
			return m.finish(result, history, true), nil
		default: // fix
			result.FixedFindings += countCriticalOrHigh(findings)
			currentTask = PrepareFixTask(task.Clarified, findings, fixInstructions)
		}
	}

	state.Status = entity.RunStatusFailed
	m.saveState(state)
	return m.finish(result, history, false), nil
}

// saveState persists state via the injected StateRepository, logging
// (not failing the loop) on error — recovery is best-effort, never a
// reason to abort an in-progress run.
func (m *ReviewLoopManager) saveState(state *entity.EngineState) {
	if m.states == nil {
		return
	}
	if err := m.states.Save(state); err != nil {
		m.logger.Warn("persisting engine state failed", zap.Error(err))
	}
}

// recordAudit appends it to the supplemented SQLite audit log, if one
// is configured. Never the source of truth for recovery.
func (m *ReviewLoopManager) recordAudit(runID string, it entity.LoopIteration) {
	if m.audit == nil {
		return
	}
	if err := m.audit.RecordIteration(runID, it); err != nil {
		m.logger.Warn("recording iteration audit failed", zap.Error(err))
	}
}

func (m *ReviewLoopManager) finish(result entity.LoopResult, history []entity.LoopIteration, success bool) entity.LoopResult {
	result.Success = success
	result.History = history
	if len(history) > 0 {
		result.RemainingFindings = history[len(history)-1].Findings
	}
	return result
}

// runWorker drives one executor or reviewer pass with the
// retry/report-status/situation-analysis bookkeeping from
// review_loop.py's _run_worker.
func (m *ReviewLoopManager) runWorker(ctx context.Context, tier entity.WorkerTier, taskText, sessionSuffix string) error {
	task := entity.NewTask(taskText, tierToComplexity(tier), nil, false)

	for attempt := 0; attempt < m.maxRetries; attempt++ {
		if m.stopRequested.Load() {
			return entity.ErrStopRequested
		}

		if err := m.workers.StartTask(ctx, task, tier, ""); err != nil {
			return err
		}

		stopStatus := make(chan struct{})
		safego.Go(m.logger, "review-loop-status-reporter", func() {
			m.reportStatusLoop(ctx, sessionSuffix, stopStatus)
		})

		success, _, err := m.workers.WaitForCompletion(ctx, 1800*time.Second)
		close(stopStatus)
		_ = m.workers.Stop(ctx)

		if err == nil && success {
			return nil
		}

		if attempt >= m.maxRetries-1 {
			if err != nil {
				return err
			}
			return entity.NewEngineError(entity.KindTaskTimeout, "worker did not complete within retries", nil)
		}

		output, _ := m.workers.GetOutput(ctx)
		situation := AnalyzeSituation(ctx, m.router, "worker failed to complete", output, false, m.logger)
		switch situation.Action {
		case "abort":
			return entity.NewEngineError(entity.KindTaskTimeout, "aborted after worker failure", err)
		case "wait":
			m.sleep(ctx, situation.WaitSeconds)
		case "retry":
			m.sleep(ctx, 5*time.Second)
		case "ask_user":
			m.report("worker needs human input: " + situation.Action)
			return entity.ErrStopRequested
		default:
			m.sleep(ctx, 10*time.Second)
		}
	}
	return entity.NewEngineError(entity.KindTaskTimeout, "exhausted retries", nil)
}

// reportStatusLoop polls every 10s and surfaces a status line roughly
// every two minutes (review_loop.py's report_status).
func (m *ReviewLoopManager) reportStatusLoop(ctx context.Context, label string, stop chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	elapsed := time.Duration(0)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed += 10 * time.Second
			if elapsed%(120*time.Second) != 0 {
				continue
			}
			output, err := m.workers.GetOutput(ctx)
			if err != nil {
				continue
			}
			m.report(fmt.Sprintf("%s: still running after %s", label, elapsed))
			_ = output
		}
	}
}

func (m *ReviewLoopManager) report(message string) {
	m.logger.Info(message)
	if m.runStatus != nil {
		m.runStatus(message)
	}
}

func (m *ReviewLoopManager) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func historyContext(history []entity.LoopIteration) string {
	if len(history) == 0 {
		return "None yet."
	}
	start := 0
	if len(history) > 3 {
		start = len(history) - 3
	}
	var sb strings.Builder
	for _, it := range history[start:] {
		fmt.Fprintf(&sb, "Iteration %d (%s): %d findings, changes=%v\n", it.N, it.Decision, len(it.Findings), it.HadVCSChanges)
	}
	return sb.String()
}

func countCriticalOrHigh(findings []entity.Finding) int {
	n := 0
	for _, f := range findings {
		if f.Severity == entity.SeverityCritical || f.Severity == entity.SeverityHigh {
			n++
		}
	}
	return n
}

func describeRepeating(repeating []string) []entity.Finding {
	out := make([]entity.Finding, 0, len(repeating))
	for _, r := range repeating {
		out = append(out, entity.Finding{Description: r})
	}
	return out
}

// TierComplexForExecution picks the executor's worker tier from the
// clarified task's complexity.
func TierComplexForExecution(task entity.Task) entity.WorkerTier {
	return task.Complexity.Tier()
}

func tierToComplexity(tier entity.WorkerTier) entity.TaskComplexity {
	switch tier {
	case entity.TierSimple:
		return entity.ComplexitySimple
	case entity.TierComplex:
		return entity.ComplexityComplex
	default:
		return entity.ComplexityMedium
	}
}
