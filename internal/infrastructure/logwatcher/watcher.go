// Package logwatcher implements the Log Watcher (spec §4.C): an
// LLM-backed verdict engine the Session Adapter consults as step 4 of
// its completion oracle. Grounded on
// _examples/original_source/bender/log_watcher.py, adapted from
// Python's dataclass/async shape into a Go struct with a Router
// dependency injected through the llm.Router's plain-text contract.
package logwatcher

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/benderhq/engine/internal/domain/entity"
	"github.com/benderhq/engine/internal/domain/repository"
	"go.uber.org/zap"
)

const analysisPrompt = `You are analyzing the log of an AI assistant working on a task.
Your job is to determine the current execution status.

TASK: %s

WORK LOG (model messages only, command output stripped):
` + "```" + `
%s
` + "```" + `

Elapsed time: %.0f seconds

Determine the status and answer in JSON:
{
    "status": "working|completed|stuck|loop|need_human|error",
    "summary": "brief description of what's happening (1-2 sentences)",
    "suggestion": "what to do next (null if working)",
    "should_restart": false,
    "context_for_restart": null
}

Statuses:
- working: the model is actively working on the task
- completed: the task finished successfully
- stuck: the model is stuck (no progress for >2 minutes, repeats itself)
- loop: the model is looping (repeats the same action over and over)
- need_human: the model is asking for human input or a human decision
- error: a critical error occurred

If should_restart=true, put what was already done into context_for_restart
so it can be carried into a new session.

Respond with JSON only, no commentary.`

// generator is the subset of llm.Router this package depends on, kept
// narrow so tests can stub it without constructing a real Router.
type generator interface {
	GenerateJSON(ctx context.Context, prompt string, temperature float64) (map[string]interface{}, entity.LLMResponse, error)
}

// Watcher is the concrete repository.LogWatcher.
type Watcher struct {
	router generator
	logger *zap.Logger

	mu            sync.Mutex
	lastHash      uint64
	noChangeCount int
}

func New(router generator, logger *zap.Logger) *Watcher {
	return &Watcher{router: router, logger: logger}
}

var _ repository.LogWatcher = (*Watcher)(nil)

// Analyze runs the fast-path checks from spec §4.C before falling back
// to an LLM call: completion/error/question markers the Output Filter
// already classified never need a model round-trip, and a hash-stable
// log short-circuits to stuck after 3 consecutive unchanged checks.
func (w *Watcher) Analyze(ctx context.Context, filtered entity.FilterResult, task string, elapsed time.Duration) entity.Verdict {
	if filtered.HasCompletion && !filtered.HasError {
		return entity.Verdict{Result: entity.ResultCompleted, Summary: "completion marker detected"}
	}
	if filtered.HasQuestion {
		return entity.Verdict{Result: entity.ResultNeedHuman, Summary: "the model is asking a question"}
	}

	hash := fnvHash(filtered.FilteredText)
	w.mu.Lock()
	unchanged := hash == w.lastHash && hash != 0
	if unchanged {
		w.noChangeCount++
	} else {
		w.noChangeCount = 0
	}
	w.lastHash = hash
	stuckCount := w.noChangeCount
	w.mu.Unlock()

	if stuckCount >= 3 {
		return entity.Verdict{
			Result:         entity.ResultStuck,
			Summary:        "no progress in the logs",
			Suggestion:     "restart with context",
			ShouldRestart:  true,
			RestartContext: extractContext(filtered.FilteredText, 500),
		}
	}

	if filtered.FilteredLength < 100 {
		return entity.Verdict{Result: entity.ResultWorking, Summary: "model just started working"}
	}

	return w.analyzeWithLLM(ctx, filtered.FilteredText, task, elapsed)
}

func (w *Watcher) analyzeWithLLM(ctx context.Context, log, task string, elapsed time.Duration) entity.Verdict {
	if len(log) > 4000 {
		log = log[len(log)-4000:]
	}
	prompt := fmt.Sprintf(analysisPrompt, task, log, elapsed.Seconds())

	resp, _, err := w.router.GenerateJSON(ctx, prompt, 0.1)
	if err != nil {
		w.logger.Warn("log watcher LLM analysis failed", zap.Error(err))
		return entity.Verdict{Result: entity.ResultWorking, Summary: "analysis unavailable (provider error)"}
	}

	status, _ := resp["status"].(string)
	result, ok := statusTable[status]
	if !ok {
		result = entity.ResultWorking
	}
	summary, _ := resp["summary"].(string)
	if summary == "" {
		summary = "no summary provided"
	}
	suggestion, _ := resp["suggestion"].(string)
	shouldRestart, _ := resp["should_restart"].(bool)
	restartContext, _ := resp["context_for_restart"].(string)

	return entity.Verdict{
		Result:         result,
		Summary:        summary,
		Suggestion:     suggestion,
		ShouldRestart:  shouldRestart,
		RestartContext: restartContext,
	}
}

var statusTable = map[string]entity.SessionResult{
	"working":    entity.ResultWorking,
	"completed":  entity.ResultCompleted,
	"stuck":      entity.ResultStuck,
	"loop":       entity.ResultLoop,
	"need_human": entity.ResultNeedHuman,
	"error":      entity.ResultError,
}

// extractContext takes whole lines from the tail of log, up to
// maxLength bytes, never splitting a line mid-way (log_watcher.py's
// _extract_context).
func extractContext(log string, maxLength int) string {
	lines := strings.Split(strings.TrimSpace(log), "\n")
	var kept []string
	total := 0
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		if total+len(line) > maxLength {
			break
		}
		kept = append([]string{line}, kept...)
		total += len(line) + 1
	}
	return strings.Join(kept, "\n")
}

// Reset clears the stuck-detector's hash history, used when a Session
// is restarted and the Log Watcher is reassigned to it.
func (w *Watcher) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastHash = 0
	w.noChangeCount = 0
}

func fnvHash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
