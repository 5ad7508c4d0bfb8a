package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// enforcementTemplates is enforcer.py's ENFORCEMENT_TEMPLATES, an
// escalating ladder of five increasingly terse nudges, reused verbatim.
// The first three interpolate the missing items; the last two are fixed.
var enforcementTemplates = []string{
	"ТЗ требует: %s. Заверши задачу.",
	"Ты не закончил: %s. Доделай и покажи результат.",
	"Задача не выполнена. Осталось: %s. Заверши.",
	"Покажи что именно ты изменил. Если ничего - скажи прямо.",
	"Запусти и покажи что работает. Нужен результат, не обещания.",
}

// EnforcementResult is enforcer.py's EnforcementResult.
type EnforcementResult struct {
	Message        string
	ShouldEscalate bool
	Attempt        int
}

// TaskEnforcer escalates through enforcementTemplates as a worker
// keeps failing to finish a step (spec §4.J), then signals escalation
// once maxAttempts is exhausted. Grounded on enforcer.py's
// TaskEnforcer.
type TaskEnforcer struct {
	router      generator
	maxAttempts int
	logger      *zap.Logger

	currentAttempt int
}

func NewTaskEnforcer(router generator, maxAttempts int, logger *zap.Logger) *TaskEnforcer {
	if maxAttempts <= 0 {
		maxAttempts = len(enforcementTemplates)
	}
	return &TaskEnforcer{router: router, maxAttempts: maxAttempts, logger: logger}
}

// Enforce picks the next rung in the template ladder and interpolates
// the missing items (enforcer.py's enforce).
func (e *TaskEnforcer) Enforce(missingItems []string) EnforcementResult {
	e.currentAttempt++
	if e.currentAttempt >= e.maxAttempts {
		return EnforcementResult{ShouldEscalate: true, Attempt: e.currentAttempt}
	}

	idx := e.currentAttempt - 1
	if idx >= len(enforcementTemplates) {
		idx = len(enforcementTemplates) - 1
	}
	missing := strings.Join(missingItems, ", ")
	if missing == "" {
		missing = "завершить задачу"
	}
	template := enforcementTemplates[idx]
	message := template
	if strings.Contains(template, "%s") {
		message = fmt.Sprintf(template, missing)
	}
	return EnforcementResult{Message: message, Attempt: e.currentAttempt}
}

// EnforceWithLLM asks the Router to phrase a context-rich restatement
// of what's missing, falling back to the fixed template ladder on any
// provider failure (enforcer.py's enforce_with_llm).
func (e *TaskEnforcer) EnforceWithLLM(ctx context.Context, missingItems []string, stepPrompt, workerResponse string) EnforcementResult {
	e.currentAttempt++
	if e.currentAttempt >= e.maxAttempts {
		return EnforcementResult{ShouldEscalate: true, Attempt: e.currentAttempt}
	}

	prompt := fmt.Sprintf(`The worker was asked to do this step:
%s

It responded:
%s

It has not finished these items: %s

Write a short, direct instruction (1-3 sentences) telling it exactly
what to finish. Do not repeat the full step, just what's missing.`,
		stepPrompt, workerResponse, strings.Join(missingItems, ", "))

	resp, _, err := e.router.Generate(ctx, prompt, 0.5, false, 0)
	if err != nil {
		e.logger.Warn("llm enforcement phrasing failed, falling back to template", zap.Error(err))
		e.currentAttempt--
		return e.Enforce(missingItems)
	}

	message := resp.Content
	if len(message) > 300 {
		message = message[:300] + "..."
	}
	return EnforcementResult{Message: message, Attempt: e.currentAttempt}
}

// Reset clears attempt bookkeeping, used whenever the Supervisor opens
// a fresh chat or the step changes (enforcer.py's reset).
func (e *TaskEnforcer) Reset() {
	e.currentAttempt = 0
}

// Attempts reports how many enforcement rounds have fired so far.
func (e *TaskEnforcer) Attempts() int {
	return e.currentAttempt
}
