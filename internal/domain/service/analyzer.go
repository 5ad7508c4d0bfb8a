package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// AnalysisAction is the Analyzer's closed decision set (spec §4.J),
// grounded on analyzer.py's AnalysisAction enum.
type AnalysisAction string

const (
	ActionContinue    AnalysisAction = "CONTINUE"
	ActionNewChat     AnalysisAction = "NEW_CHAT"
	ActionAskWorker   AnalysisAction = "ASK_DROID"
	ActionEnforceTask AnalysisAction = "ENFORCE_TASK"
	ActionEscalate    AnalysisAction = "ESCALATE"
)

// AnalysisResult is analyzer.py's AnalysisResult dataclass.
type AnalysisResult struct {
	Action             AnalysisAction
	Issues             []string
	MessageToWorker    string
	HasChanges         bool
	ChangesSubstantial bool
	Reason             string
}

const analyzerSystemPrompt = `You are supervising an autonomous coding assistant working through a
multi-step task. Given its latest output and the step/iteration context,
decide what should happen next.

Actions:
- CONTINUE: the assistant is making good progress, let it keep going
- NEW_CHAT: the assistant made substantial changes and a fresh chat
  window would help it re-ground itself
- ASK_DROID: ask the assistant a clarifying question before proceeding
- ENFORCE_TASK: the assistant drifted from or did not finish the task;
  restate what's missing
- ESCALATE: nothing else has worked, a human needs to intervene

Respond with JSON only:
{
    "action": "CONTINUE|NEW_CHAT|ASK_DROID|ENFORCE_TASK|ESCALATE",
    "issues": ["what's missing or wrong, if any"],
    "message_to_droid": "a question to ask, if action is ASK_DROID",
    "has_changes": true,
    "changes_substantial": false,
    "reason": "one sentence justification"
}`

// ResponseAnalyzer wraps a Router call that judges worker output
// against the step's acceptance criteria (spec §4.J). Grounded on
// analyzer.py's ResponseAnalyzer.
type ResponseAnalyzer struct {
	router         generator
	truncateLength int
	startRatio     float64
	logger         *zap.Logger
}

func NewResponseAnalyzer(router generator, truncateLength int, startRatio float64, logger *zap.Logger) *ResponseAnalyzer {
	if truncateLength <= 0 {
		truncateLength = 3000
	}
	if startRatio <= 0 {
		startRatio = 0.4
	}
	return &ResponseAnalyzer{router: router, truncateLength: truncateLength, startRatio: startRatio, logger: logger}
}

// Analyze builds the fixed-schema prompt and asks the Router for a
// decision, falling back to ASK_DROID with a generic clarification
// request on any provider failure (analyzer.py's analyze).
func (a *ResponseAnalyzer) Analyze(ctx context.Context, workerOutput, stepPrompt, stepName string, stepNumber, iteration, confirmations, failedAttempts int, completionCriteria []string) AnalysisResult {
	truncated := a.smartTruncate(workerOutput)
	prompt := fmt.Sprintf(`%s

STEP %d (%s): %s
ITERATION: %d
CONFIRMATIONS SO FAR: %d
FAILED ATTEMPTS: %d
ACCEPTANCE CRITERIA: %s

WORKER OUTPUT:
%s`, analyzerSystemPrompt, stepNumber, stepName, stepPrompt, iteration, confirmations, failedAttempts,
		strings.Join(completionCriteria, "; "), truncated)

	resp, _, err := a.router.GenerateJSON(ctx, prompt, 0.3)
	if err != nil {
		a.logger.Warn("response analysis failed, asking for clarification", zap.Error(err))
		return AnalysisResult{
			Action:          ActionAskWorker,
			MessageToWorker: "I couldn't confirm your last step worked. Can you summarize what you changed and whether it's complete?",
			Reason:          "analyzer unavailable",
		}
	}
	return parseAnalysisResult(resp)
}

func parseAnalysisResult(resp map[string]interface{}) AnalysisResult {
	action := AnalysisAction(toUpper(resp["action"]))
	switch action {
	case ActionContinue, ActionNewChat, ActionAskWorker, ActionEnforceTask, ActionEscalate:
	default:
		action = ActionContinue
	}
	hasChanges, _ := resp["has_changes"].(bool)
	substantial, _ := resp["changes_substantial"].(bool)
	reason, _ := resp["reason"].(string)
	message, _ := resp["message_to_droid"].(string)
	return AnalysisResult{
		Action:             action,
		Issues:             parseStringSlice(resp["issues"]),
		MessageToWorker:    message,
		HasChanges:         hasChanges,
		ChangesSubstantial: substantial,
		Reason:             reason,
	}
}

func toUpper(v interface{}) string {
	s, _ := v.(string)
	return strings.ToUpper(s)
}

// smartTruncate keeps a fenced ```json``` block intact when it fits
// within half the budget, otherwise truncates plainly from both ends
// (analyzer.py's _smart_truncate).
func (a *ResponseAnalyzer) smartTruncate(text string) string {
	if len(text) <= a.truncateLength {
		return text
	}

	if start, end, ok := findJSONFence(text); ok {
		block := text[start:end]
		if len(block) <= a.truncateLength/2 {
			before := text[:start]
			after := text[end:]
			budget := a.truncateLength - len(block)
			beforeBudget := int(float64(budget) * a.startRatio)
			afterBudget := budget - beforeBudget

			keptBefore := tailOf(before, beforeBudget)
			keptAfter := headOf(after, afterBudget)
			return keptBefore + "\n... [truncated] ...\n" + block + "\n... [truncated] ...\n" + keptAfter
		}
	}

	dropped := len(text) - a.truncateLength
	headBudget := int(float64(a.truncateLength) * a.startRatio)
	tailBudget := a.truncateLength - headBudget
	return headOf(text, headBudget) + fmt.Sprintf("\n... [truncated %d chars] ...\n", dropped) + tailOf(text, tailBudget)
}

func findJSONFence(text string) (start, end int, ok bool) {
	const fence = "```json"
	s := strings.Index(text, fence)
	if s < 0 {
		return 0, 0, false
	}
	e := strings.Index(text[s+len(fence):], "```")
	if e < 0 {
		return 0, 0, false
	}
	return s, s + len(fence) + e + 3, true
}

func headOf(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func tailOf(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// QuickCheckResult is analyzer.py's quick_check no-LLM heuristic
// result shape.
type QuickCheckResult struct {
	HasError     bool
	SeemsComplete bool
	HasChanges   bool
}

var (
	quickErrorMarkers    = []string{"error", "traceback", "exception", "failed", "ошибка"}
	quickCompleteMarkers = []string{"done", "completed", "finished", "готово", "завершено"}
	quickChangeMarkers   = []string{"modified", "created", "wrote", "updated", "changed", "изменен"}
)

// QuickCheck is analyzer.py's quick_check: a keyword scan used before
// spending an LLM call, entirely heuristic by design.
func QuickCheck(workerOutput string) QuickCheckResult {
	lower := strings.ToLower(workerOutput)
	return QuickCheckResult{
		HasError:      containsAny(lower, quickErrorMarkers),
		SeemsComplete: containsAny(lower, quickCompleteMarkers),
		HasChanges:    containsAny(lower, quickChangeMarkers),
	}
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
