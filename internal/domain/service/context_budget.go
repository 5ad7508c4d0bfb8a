package service

import (
	"fmt"
	"strings"

	"github.com/benderhq/engine/internal/domain/entity"
)

// ContextBudget is a token-accounted sliding summary of Log Watcher
// checkpoints (spec §4.D). It is not synchronized internally: callers
// that share one instance across goroutines (the Log Watcher's poll
// loop is the only writer in this codebase) must serialize access
// themselves, matching how the teacher's ContextGuard assumed a single
// caller per AgentLoop.
type ContextBudget struct {
	MaxTokens  int
	UsedTokens int
	WarnRatio  float64
	History    []entity.Checkpoint

	maxHistory int
}

// NewContextBudget builds a budget with the spec defaults: history
// compresses past 5 entries or once usage crosses 75% of max tokens.
func NewContextBudget(maxTokens int) *ContextBudget {
	return &ContextBudget{
		MaxTokens:  maxTokens,
		WarnRatio:  0.75,
		maxHistory: 5,
	}
}

// EstimateTokens implements spec §4.D's conservative estimate:
// floor(len(text)/3), reused verbatim from the teacher's
// ContextGuard.estimateTokens and context_manager.py's
// ContextBudget.estimate_tokens (both use the same len/3 heuristic for
// mixed Cyrillic/Latin text).
func EstimateTokens(text string) int {
	return len(text) / 3
}

// Add appends a Checkpoint, then compresses if history has grown past
// maxHistory entries or token usage has crossed WarnRatio of MaxTokens
// (spec §4.D).
func (b *ContextBudget) Add(status, summary string, cp entity.Checkpoint) {
	cp.Status = status
	cp.Summary = summary
	b.History = append(b.History, cp)
	b.UsedTokens += EstimateTokens(cp.String())

	if len(b.History) > b.maxHistory {
		b.compress()
	}
	if b.usageRatio() >= b.WarnRatio {
		b.compress()
	}
}

// usageRatio is used_tokens / max_tokens; guarded against a zero
// MaxTokens so a misconfigured budget never divides by zero.
func (b *ContextBudget) usageRatio() float64 {
	if b.MaxTokens <= 0 {
		return 0
	}
	return float64(b.UsedTokens) / float64(b.MaxTokens)
}

// compress keeps the first checkpoint (seed) and the most recent N-1,
// per Testable Property 2 and spec §4.D's compression rule, then
// recomputes UsedTokens from what remains.
func (b *ContextBudget) compress() {
	if len(b.History) <= 2 {
		return
	}

	keepCount := b.maxHistory
	if keepCount < 1 {
		keepCount = 1
	}
	seed := b.History[0]
	var tail []entity.Checkpoint
	if keepCount-1 >= len(b.History) {
		tail = b.History[1:]
	} else {
		tail = b.History[len(b.History)-(keepCount-1):]
	}
	compressed := make([]entity.Checkpoint, 0, len(tail)+1)
	compressed = append(compressed, seed)
	compressed = append(compressed, tail...)
	b.History = compressed

	used := 0
	for _, cp := range b.History {
		used += EstimateTokens(cp.String())
	}
	b.UsedTokens = used
}

// HistoryContext renders the history the way the Log Watcher prompt
// expects: a bullet list, one "[HH:MM:SS] [STATUS] summary" line per
// checkpoint, with an explicit empty-sentinel when there is none.
func (b *ContextBudget) HistoryContext() string {
	if len(b.History) == 0 {
		return "No previous checkpoints."
	}
	var sb strings.Builder
	for _, cp := range b.History {
		sb.WriteString(fmt.Sprintf("- %s\n", cp.String()))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// NeedsCompaction reports whether the next Add is likely to trigger a
// compression pass, useful for callers deciding whether to warn.
func (b *ContextBudget) NeedsCompaction() bool {
	return b.usageRatio() >= b.WarnRatio
}
