package service

import (
	"context"
	"crypto/sha256"
	"regexp"
	"strings"
	"time"

	"github.com/benderhq/engine/internal/domain/repository"
	"go.uber.org/zap"
)

// ConsoleRecoveryConfig is the knob set from console_recovery.py's
// ConsoleRecoveryConfig, defaults unchanged.
type ConsoleRecoveryConfig struct {
	MaxAttempts           int
	CooldownSeconds       time.Duration
	ContinueDelaySeconds  time.Duration
	InitialMessage        string
	ContinueMessage       string
}

// DefaultConsoleRecoveryConfig mirrors the Python defaults exactly,
// including the original's Russian-language nudge text: the worker CLI
// this engine drives is the same model family the original targeted,
// and changing the literal wording risks losing whatever
// tuning made the nudge effective.
func DefaultConsoleRecoveryConfig() ConsoleRecoveryConfig {
	return ConsoleRecoveryConfig{
		MaxAttempts:          2,
		CooldownSeconds:      30 * time.Second,
		ContinueDelaySeconds: 60 * time.Second,
		InitialMessage:       "О боже, ошибка! Пожалуйста, проверь в каком ты состоянии и продолжи работу над задачей.",
		ContinueMessage:      "Продолжай",
	}
}

// defaultErrorPatterns is console_recovery.py's DEFAULT_ERROR_PATTERNS
// verbatim: terminal/console crash signatures, tmux server loss,
// connection failures, broken pipes, segfaults/panics, nonzero exit
// status, rate limiting, and their Russian equivalents.
var defaultErrorPatterns = compilePatterns([]string{
	`(?i)terminal.*(crash|died|closed)`,
	`(?i)console.*(crash|died|closed)`,
	`(?i)tty.*(crash|died|closed)`,
	`(?i)server exited unexpectedly`,
	`(?i)lost server`,
	`(?i)no server running`,
	`(?i)connection (reset|refused|closed|lost|aborted)`,
	`(?i)socket hang up`,
	`(?i)broken pipe`,
	`(?i)unexpected eof`,
	`(?i)(segfault|segmentation fault|panic:)`,
	`(?i)exit(ed)? (with )?(status|code) [1-9]\d*`,
	`(?i)(http )?(403|429)( forbidden| too many requests)?`,
	`(?i)rate.?limit`,
	`(?i)fatal( error)?:`,
	`(?i)internal error`,
	`терминал.*(упал|закрыт)`,
	`консоль.*(упала|закрыта)`,
	`соединение (сброшено|закрыто|потеряно)`,
})

// enterPromptPatterns mirrors console_recovery.py's ENTER_PROMPT_PATTERNS:
// signatures that mean the worker is waiting on a bare Enter keypress
// rather than text input.
var enterPromptPatterns = compilePatterns([]string{
	`(?i)press enter to continue`,
	`(?i)\[y/n\]\s*$`,
	`нажмите enter`,
})

func compilePatterns(raw []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(raw))
	for _, p := range raw {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// StatusFunc reports console-recovery progress to whatever surface the
// caller wires (CLI status line, attach TUI, audit log).
type StatusFunc func(message string)

// ConsoleRecovery watches for a tmux/console-level crash signature in
// a session's output, distinct from Log Watcher's model-behavior
// verdicts (spec §4.G): this handles the multiplexer or the worker
// process itself dying out from under the engine.
type ConsoleRecovery struct {
	cfg    ConsoleRecoveryConfig
	logger *zap.Logger

	attempts   int
	lastAttempt time.Time
}

func NewConsoleRecovery(cfg ConsoleRecoveryConfig, logger *zap.Logger) *ConsoleRecovery {
	return &ConsoleRecovery{cfg: cfg, logger: logger}
}

// DetectIssue scans the last 50 non-empty lines of output in reverse
// (most recent first) for the first matching error pattern, truncated
// to 160 characters, matching console_recovery.py's detect_issue.
func DetectIssue(output string) (reason string, found bool) {
	lines := nonEmptyLines(output)
	if len(lines) > 50 {
		lines = lines[len(lines)-50:]
	}
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		for _, pattern := range defaultErrorPatterns {
			if pattern.MatchString(line) {
				trimmed := strings.TrimSpace(line)
				if len(trimmed) > 160 {
					trimmed = trimmed[:160]
				}
				return trimmed, true
			}
		}
	}
	return "", false
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func needsEnter(output string) bool {
	lines := nonEmptyLines(output)
	if len(lines) == 0 {
		return false
	}
	tail := lines[len(lines)-1]
	for _, pattern := range enterPromptPatterns {
		if pattern.MatchString(tail) {
			return true
		}
	}
	return false
}

// AttemptRecovery tries to nudge a crashed/stuck console back to life:
// gated by max attempts and a cooldown, it checks the session is still
// alive, optionally sends a bare Enter to clear a confirmation prompt,
// then sends the initial nudge followed by two "continue" prods with
// the original's fixed delays, and reports whether the output actually
// changed as a result (console_recovery.py's attempt_recovery).
func (c *ConsoleRecovery) AttemptRecovery(ctx context.Context, session repository.SessionAdapter, onStatus StatusFunc, reason, output string) bool {
	if c.attempts >= c.cfg.MaxAttempts {
		c.report(onStatus, "console recovery attempts exhausted, giving up")
		return false
	}
	if !c.lastAttempt.IsZero() && time.Since(c.lastAttempt) < c.cfg.CooldownSeconds {
		c.report(onStatus, "console recovery still cooling down")
		return false
	}
	c.attempts++
	c.lastAttempt = time.Now()

	if !session.IsAlive(ctx) {
		c.report(onStatus, "session is no longer alive, cannot recover: "+reason)
		return false
	}

	before := hashTail(output, 1000)
	c.report(onStatus, "attempting console recovery: "+reason)

	if needsEnter(output) {
		_ = session.SendInput(ctx, "")
	}

	_ = session.SendInput(ctx, c.cfg.InitialMessage)
	c.sleep(ctx, 2*time.Second)
	_ = session.SendInput(ctx, c.cfg.ContinueMessage)
	c.sleep(ctx, c.cfg.ContinueDelaySeconds)
	_ = session.SendInput(ctx, c.cfg.ContinueMessage)
	c.sleep(ctx, 2*time.Second)

	after := hashTail(session.CaptureOutput(ctx), 1000)
	changed := before != after
	if changed {
		c.report(onStatus, "console recovery succeeded, output changed")
	} else {
		c.report(onStatus, "console recovery sent but output did not change")
	}
	return changed
}

func (c *ConsoleRecovery) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (c *ConsoleRecovery) report(onStatus StatusFunc, message string) {
	c.logger.Info(message)
	if onStatus != nil {
		onStatus(message)
	}
}

// Reset clears attempt bookkeeping, used when a fresh session starts.
func (c *ConsoleRecovery) Reset() {
	c.attempts = 0
	c.lastAttempt = time.Time{}
}

func hashTail(s string, n int) [32]byte {
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return sha256.Sum256([]byte(s))
}
