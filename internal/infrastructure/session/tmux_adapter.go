package session

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/benderhq/engine/internal/domain/entity"
	"github.com/benderhq/engine/internal/domain/repository"
	"github.com/benderhq/engine/internal/infrastructure/outputfilter"
	"go.uber.org/zap"
)

// TmuxConfig is the tier-specific, fixed command line and pattern set
// that the injected worker-tier policy hands to the adapter (spec §3:
// "mapping to adapters is an injected policy, not part of the core").
type TmuxConfig struct {
	Namespace         string
	Tier              entity.WorkerTier
	ProjectDir        string
	Command           []string // argv for the CLI this tier drives
	StartupDelay      time.Duration
	CompletionMarkers []string // tier-specific, e.g. "Total usage est:", "Task completed", "Готово"
	ProgressPatterns  []string // "known progress" regexes, e.g. "Updated:", file-edit verbs
}

// TmuxAdapter drives an interactive CLI inside a detached tmux
// session (spec §4.A's Background mode). Process spawning and
// SysProcAttr{Setpgid: true} isolation are adapted from the teacher's
// ProcessSandbox.Execute
// (internal/infrastructure/sandbox/process_sandbox.go); the
// module-lifecycle bookkeeping (state, graceful-then-forced stop) is
// adapted from the teacher's sideload.Module.Stop
// (internal/infrastructure/sideload/module.go).
type TmuxAdapter struct {
	cfg        TmuxConfig
	logWatcher repository.LogWatcher
	logger     *zap.Logger

	sessionName string
	scrollback  *Scrollback

	mu      sync.Mutex
	started bool
	stopped bool
	oracle  oracleState
}

// NewTmuxAdapter builds an adapter for one Session. logWatcher may be
// nil, in which case step 4 of the completion oracle is skipped and
// control falls through to the periodic-status branch.
func NewTmuxAdapter(cfg TmuxConfig, logWatcher repository.LogWatcher, logger *zap.Logger) *TmuxAdapter {
	return &TmuxAdapter{
		cfg:         cfg,
		logWatcher:  logWatcher,
		logger:      logger,
		sessionName: newSessionName(cfg.Namespace, string(cfg.Tier)),
		scrollback:  NewScrollback(),
	}
}

// newSessionName follows spec §6's multiplexer session naming:
// {namespace}-{worker}-{8-hex}.
func newSessionName(namespace, worker string) string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s-%s-%s", namespace, worker, hex.EncodeToString(buf))
}

// Start spawns the tmux session running cfg.Command in cfg.ProjectDir,
// waits StartupDelay, then injects task as the first input line with
// newlines flattened to spaces.
func (a *TmuxAdapter) Start(ctx context.Context, task, restartContext string) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return entity.NewEngineError(entity.KindSessionSpawnFailed, "session already started", nil)
	}
	a.mu.Unlock()

	args := append([]string{"new-session", "-d", "-s", a.sessionName, "-c", a.cfg.ProjectDir}, a.cfg.Command...)
	cmd := exec.CommandContext(ctx, "tmux", args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return entity.NewEngineError(entity.KindSessionSpawnFailed,
			"tmux new-session failed: "+strings.TrimSpace(stderr.String()), err)
	}

	a.mu.Lock()
	a.started = true
	a.mu.Unlock()

	if a.cfg.StartupDelay > 0 {
		select {
		case <-ctx.Done():
			return entity.NewEngineError(entity.KindSessionSpawnFailed, "context cancelled during startup delay", ctx.Err())
		case <-time.After(a.cfg.StartupDelay):
		}
	}

	firstLine := flattenNewlines(task)
	if restartContext != "" {
		firstLine = flattenNewlines(restartContext) + " " + firstLine
	}
	if err := a.SendInput(ctx, firstLine); err != nil {
		return entity.NewEngineError(entity.KindSessionSpawnFailed, "failed to inject initial task", err)
	}
	return nil
}

func flattenNewlines(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "\n", " ")), " ")
}

// SendInput delivers text + Enter via tmux send-keys, bounded to a few
// seconds so a hung multiplexer never blocks the caller indefinitely.
func (a *TmuxAdapter) SendInput(ctx context.Context, text string) error {
	sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(sendCtx, "tmux", "send-keys", "-t", a.sessionName, text, "Enter")
	if err := cmd.Run(); err != nil {
		a.logger.Warn("send_input failed", zap.String("session", a.sessionName), zap.Error(err))
		return entity.NewEngineError(entity.KindInputFailed, "tmux send-keys failed", err)
	}
	return nil
}

// CaptureOutput runs capture-pane, swallowing errors and falling back
// to the last known scrollback content (spec §4.A: "never truncate
// silently ... return the empty string and log" when nothing has ever
// been captured).
func (a *TmuxAdapter) CaptureOutput(ctx context.Context) string {
	captureCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(captureCtx, "tmux", "capture-pane", "-t", a.sessionName, "-p", "-S", "-2000")
	out, err := cmd.Output()
	if err != nil {
		a.logger.Warn("capture_output failed, returning last known scrollback",
			zap.String("session", a.sessionName), zap.Error(err))
		return a.scrollback.Full()
	}
	a.scrollback.Replace(out)
	return a.scrollback.Full()
}

// IsAlive checks tmux has-session's exit status.
func (a *TmuxAdapter) IsAlive(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return exec.CommandContext(checkCtx, "tmux", "has-session", "-t", a.sessionName).Run() == nil
}

// WaitForCompletion polls at pollInterval (spec default ~30s),
// applying the five-step completion oracle each tick.
func (a *TmuxAdapter) WaitForCompletion(ctx context.Context, timeout, pollInterval time.Duration) (bool, string) {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		raw := a.CaptureOutput(ctx)
		filtered := outputfilter.Classify(raw)

		if verdict, done, success := a.evaluateTick(ctx, raw, filtered); done {
			return success, raw
		} else {
			a.logger.Info("session still running",
				zap.String("session", a.sessionName),
				zap.String("status", string(verdict.Result)),
			)
		}

		if timeout > 0 && time.Now().After(deadline) {
			return false, raw
		}

		select {
		case <-ctx.Done():
			return false, raw
		case <-ticker.C:
		}
	}
}

// evaluateTick runs the completion-oracle precedence order from
// spec §4.A, shared with VisibleAdapter via evaluateCompletion.
func (a *TmuxAdapter) evaluateTick(ctx context.Context, raw string, filtered outputfilter.Result) (entity.Verdict, bool, bool) {
	oracleCfg := OracleConfig{CompletionMarkers: a.cfg.CompletionMarkers, ProgressPatterns: a.cfg.ProgressPatterns}
	return evaluateCompletion(ctx, &a.oracle, oracleCfg, raw, filtered, a.IsAlive, a.logWatcher)
}

// Stop tears the session down idempotently: kill the tmux session,
// nothing else to release in background mode (no window id, no
// per-session temp files).
func (a *TmuxAdapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	a.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(stopCtx, "tmux", "kill-session", "-t", a.sessionName).Run(); err != nil {
		a.logger.Debug("kill-session failed, session likely already gone",
			zap.String("session", a.sessionName), zap.Error(err))
	}
	return nil
}

// SessionName exposes the generated multiplexer session name, used by
// the stale-session sweep (spec §6) to recognize sessions it owns.
func (a *TmuxAdapter) SessionName() string {
	return a.sessionName
}

var _ repository.SessionAdapter = (*TmuxAdapter)(nil)
