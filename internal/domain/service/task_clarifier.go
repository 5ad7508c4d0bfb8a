package service

import (
	"context"
	"strings"

	"github.com/benderhq/engine/internal/domain/entity"
	"go.uber.org/zap"
)

const clarifyPrompt = `You are helping clarify a task for an autonomous coding assistant.

TASK: %s

Answer in JSON:
{
    "complexity": "simple|medium|complex",
    "is_clear": true,
    "acceptance_criteria": ["criterion 1", "criterion 2"],
    "questions": ["question, if anything is ambiguous"],
    "needs_final_review": false
}

Respond with JSON only, no commentary.`

// noQuestionsPhrases is task_clarifier.py's fixed skip_questions phrase
// list verbatim, in both languages the original checks.
var noQuestionsPhrases = []string{
	"не спрашивай", "без вопросов", "делай", "просто сделай", "не задавай",
	"don't ask", "just do", "no questions",
}

// AskUserFunc presents proposed acceptance criteria to a human and
// returns their raw reply; task_clarifier.py's on_ask_user callback.
type AskUserFunc func(criteria []string) string

// TaskClarifier turns raw task text into a Task carrying a complexity
// tier and acceptance criteria, without ever rewriting the task text
// itself (spec §4.H). Grounded on task_clarifier.py.
type TaskClarifier struct {
	router generator
	logger *zap.Logger
}

func NewTaskClarifier(router generator, logger *zap.Logger) *TaskClarifier {
	return &TaskClarifier{router: router, logger: logger}
}

// generator is the narrow Router dependency this package needs,
// matching logwatcher.generator's shape so both packages can share a
// single *llm.Router without either importing the infrastructure
// package directly.
type generator interface {
	Generate(ctx context.Context, prompt string, temperature float64, jsonMode bool, maxTokens int) (entity.LLMResponse, error)
	GenerateJSON(ctx context.Context, prompt string, temperature float64) (map[string]interface{}, entity.LLMResponse, error)
}

// Clarify implements spec §4.H: a fixed-phrase fast path that skips
// the LLM entirely, otherwise a single JSON round-trip followed by an
// optional human approval step over the proposed criteria.
func (c *TaskClarifier) Clarify(ctx context.Context, task string, askUser AskUserFunc) entity.Task {
	if containsNoQuestionsPhrase(task) {
		return entity.NewTask(task, entity.ComplexityComplex, nil, true)
	}

	resp, _, err := c.router.GenerateJSON(ctx, sprintfClarify(task), 0.3)
	if err != nil {
		c.logger.Warn("task clarification failed, falling back to medium complexity", zap.Error(err))
		return entity.NewTask(task, entity.ComplexityMedium, nil, false)
	}

	complexity := parseComplexity(resp["complexity"])
	needsFinalReview, _ := resp["needs_final_review"].(bool)
	criteria := parseStringSlice(resp["acceptance_criteria"])

	if len(criteria) > 0 && askUser != nil {
		criteria = confirmCriteria(criteria, askUser)
	}

	return entity.NewTask(task, complexity, criteria, needsFinalReview)
}

// confirmCriteria implements the approve/reject/replace contract from
// spec §4.H: "yes"/"да"/empty approves as-is, a recognized rejection
// token empties the list, anything else is the user's own
// newline-separated replacement list.
func confirmCriteria(proposed []string, askUser AskUserFunc) []string {
	raw := strings.TrimSpace(askUser(proposed))
	reply := strings.ToLower(raw)
	switch reply {
	case "да", "yes", "y", "ок", "ok", "":
		return proposed
	case "нет", "no", "n", "без критериев":
		return nil
	default:
		var own []string
		for _, line := range strings.Split(raw, "\n") {
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				own = append(own, trimmed)
			}
		}
		return own
	}
}

func containsNoQuestionsPhrase(task string) bool {
	lower := strings.ToLower(task)
	for _, phrase := range noQuestionsPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func parseComplexity(v interface{}) entity.TaskComplexity {
	s, _ := v.(string)
	switch strings.ToLower(s) {
	case "simple":
		return entity.ComplexitySimple
	case "complex":
		return entity.ComplexityComplex
	default:
		return entity.ComplexityMedium
	}
}

func parseStringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func sprintfClarify(task string) string {
	return strings.Replace(clarifyPrompt, "%s", task, 1)
}

// simpleKeywords and complexKeywords back QuickAssess's no-LLM
// heuristic, taken from task_clarifier.py's quick_assess in both
// languages.
var simpleKeywords = []string{
	"echo", "ls", "cat", "pwd", "typo", "readme", "comment", "print", "log",
	"опечатк", "коммент", "вывод",
}

var complexKeywords = []string{
	"bug", "leak", "architecture", "refactor", "migration", "planning",
	"design", "implement", "oauth", "auth", "database", "api", "integration",
	"баг", "утечк", "архитектур", "рефактор", "миграц", "дизайн",
}

// QuickAssess classifies a task without an LLM call: keyword lists
// first, then length buckets (task_clarifier.py's quick_assess).
func QuickAssess(task string) entity.WorkerTier {
	lower := strings.ToLower(task)
	for _, kw := range simpleKeywords {
		if strings.Contains(lower, kw) {
			return entity.TierSimple
		}
	}
	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			return entity.TierComplex
		}
	}
	switch {
	case len(task) < 30:
		return entity.TierSimple
	case len(task) > 200:
		return entity.TierComplex
	default:
		return entity.TierMedium
	}
}
