package session

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/benderhq/engine/internal/domain/entity"
	"github.com/benderhq/engine/internal/domain/repository"
	"github.com/benderhq/engine/internal/infrastructure/outputfilter"
	"go.uber.org/zap"
)

// VisibleConfig mirrors TmuxConfig for the Visible-mode adapter (spec
// §3: adapter configuration is an injected policy, not part of the
// core, so the two configs are kept as separate plain structs rather
// than forcing a shared base type onto two otherwise-independent
// spawn mechanisms).
type VisibleConfig struct {
	Namespace         string
	Tier              entity.WorkerTier
	ProjectDir        string
	Command           []string
	StartupDelay      time.Duration
	CompletionMarkers []string
	ProgressPatterns  []string
}

// VisibleAdapter drives an interactive CLI inside a newly opened
// native Terminal.app window (spec §4.A's Visible mode): scrollback is
// a typescript log produced by the `script` line-recording helper,
// input is injected via AppleScript/System Events keystrokes aimed at
// the one window id this adapter opened, and liveness is a pgrep
// lookup on the session's unique name rather than a multiplexer query.
// Grounded on original_source/bender/workers/base.py's
// _start_native_terminal/_send_text_to_terminal/_close_native_terminal
// trio, translated into the same Start/SendInput/CaptureOutput/IsAlive/
// WaitForCompletion/Stop shape TmuxAdapter already implements.
type VisibleAdapter struct {
	cfg        VisibleConfig
	logWatcher repository.LogWatcher
	logger     *zap.Logger

	sessionName string
	taskFile    string
	scriptFile  string
	logFile     string
	lastOutput  string // last successful CaptureOutput read, guarded by mu

	mu        sync.Mutex
	started   bool
	stopped   bool
	windowID  string
	oracle    oracleState
}

// NewVisibleAdapter builds a Visible-mode adapter for one Session.
// logWatcher may be nil, exactly as for NewTmuxAdapter.
func NewVisibleAdapter(cfg VisibleConfig, logWatcher repository.LogWatcher, logger *zap.Logger) *VisibleAdapter {
	name := newSessionName(cfg.Namespace, string(cfg.Tier))
	tmp := os.TempDir()
	return &VisibleAdapter{
		cfg:         cfg,
		logWatcher:  logWatcher,
		logger:      logger,
		sessionName: name,
		taskFile:    filepath.Join(tmp, fmt.Sprintf("%s-task-%s.txt", cfg.Namespace, name)),
		scriptFile:  filepath.Join(tmp, fmt.Sprintf("%s-run-%s.sh", cfg.Namespace, name)),
		logFile:     filepath.Join(tmp, fmt.Sprintf("%s-%s.log", cfg.Namespace, name)),
	}
}

// Start opens a native terminal window running cfg.Command with its
// TTY output recorded to a.logFile, waits StartupDelay, then injects
// task (with restartContext prepended, same as TmuxAdapter) as the
// first input line via keystroke injection.
func (a *VisibleAdapter) Start(ctx context.Context, task, restartContext string) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return entity.NewEngineError(entity.KindSessionSpawnFailed, "session already started", nil)
	}
	a.mu.Unlock()

	if runtime.GOOS != "darwin" {
		return entity.NewEngineError(entity.KindSessionSpawnFailed,
			"visible mode requires macOS Terminal.app automation (osascript); use background mode on this platform", nil)
	}

	script := fmt.Sprintf("#!/bin/bash\ncd %s\nscript -q %s %s\n",
		shellQuote(a.cfg.ProjectDir), shellQuote(a.logFile), strings.Join(quoteArgs(a.cfg.Command), " "))
	if err := os.WriteFile(a.scriptFile, []byte(script), 0o755); err != nil {
		return entity.NewEngineError(entity.KindSessionSpawnFailed, "failed to write run script", err)
	}

	applescript := fmt.Sprintf(`tell application "Terminal"
	do script "%s"
	delay 0.3
	set windowId to id of front window
	return windowId
end tell`, a.scriptFile)

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := exec.CommandContext(openCtx, "osascript", "-e", applescript).Output()
	if err != nil {
		return entity.NewEngineError(entity.KindSessionSpawnFailed, "failed to open native terminal window", err)
	}

	a.mu.Lock()
	a.windowID = strings.TrimSpace(string(out))
	a.started = true
	a.mu.Unlock()
	a.logger.Info("native terminal window opened", zap.String("window_id", a.windowID), zap.String("session", a.sessionName))

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

// SendInput delivers text + Enter via System Events keystroke, aimed
// only at a.windowID (spec §9: "never act on 'front window'
// generically"). An unknown window id fails the send rather than
// guessing a target.
func (a *VisibleAdapter) SendInput(ctx context.Context, text string) error {
	a.mu.Lock()
	windowID := a.windowID
	a.mu.Unlock()
	if windowID == "" {
		return entity.NewEngineError(entity.KindInputFailed, "no window id recorded, refusing to target an arbitrary window", nil)
	}

	applescript := fmt.Sprintf(`tell application "Terminal"
	activate
	try
		set front window to (first window whose id is %s)
	end try
end tell
tell application "System Events"
	keystroke %s
	key code 36
end tell`, windowID, appleScriptQuote(text))

	sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(sendCtx, "osascript", "-e", applescript).Run(); err != nil {
		a.logger.Warn("send_input failed", zap.String("session", a.sessionName), zap.Error(err))
		return entity.NewEngineError(entity.KindInputFailed, "native terminal keystroke injection failed", err)
	}
	return nil
}

// CaptureOutput reads the typescript log file, swallowing read errors
// and falling back to the last known scrollback (same contract as
// TmuxAdapter.CaptureOutput).
func (a *VisibleAdapter) CaptureOutput(ctx context.Context) string {
	data, err := os.ReadFile(a.logFile)
	if err != nil {
		a.logger.Warn("capture_output failed, returning last known scrollback",
			zap.String("session", a.sessionName), zap.Error(err))
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.lastOutput
	}
	a.mu.Lock()
	a.lastOutput = string(data)
	a.mu.Unlock()
	return string(data)
}

// IsAlive reports whether the recording `script` process is still
// running, identified by this session's unique name appearing in its
// argv (original_source's is_session_alive pgrep check). An unknown
// window id is always treated as dead (spec §4.A).
func (a *VisibleAdapter) IsAlive(ctx context.Context) bool {
	a.mu.Lock()
	windowID := a.windowID
	a.mu.Unlock()
	if windowID == "" {
		return false
	}
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return exec.CommandContext(checkCtx, "pgrep", "-f", a.sessionName).Run() == nil
}

// WaitForCompletion applies the same five-step completion oracle as
// TmuxAdapter, over the typescript log instead of tmux's capture-pane.
func (a *VisibleAdapter) WaitForCompletion(ctx context.Context, timeout, pollInterval time.Duration) (bool, string) {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		raw := a.CaptureOutput(ctx)
		filtered := outputfilter.Classify(raw)

		oracleCfg := OracleConfig{CompletionMarkers: a.cfg.CompletionMarkers, ProgressPatterns: a.cfg.ProgressPatterns}
		if verdict, done, success := evaluateCompletion(ctx, &a.oracle, oracleCfg, raw, filtered, a.IsAlive, a.logWatcher); done {
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

// Stop tears down idempotently: kills the recording `script` process,
// closes the terminal window by its stored id only, and unlinks every
// temp file this adapter created.
func (a *VisibleAdapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	windowID := a.windowID
	a.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if out, err := exec.CommandContext(stopCtx, "pgrep", "-f", a.sessionName).Output(); err == nil {
		for _, pid := range strings.Fields(string(out)) {
			_ = exec.CommandContext(stopCtx, "kill", "-9", pid).Run()
		}
	}

	if windowID != "" {
		closeScript := fmt.Sprintf(`tell application "Terminal"
	try
		close (first window whose id is %s) saving no
	end try
end tell`, windowID)
		if err := exec.CommandContext(stopCtx, "osascript", "-e", closeScript).Run(); err != nil {
			a.logger.Debug("closing terminal window failed, likely already closed",
				zap.String("session", a.sessionName), zap.Error(err))
		}
	} else {
		a.logger.Warn("no window id recorded, cannot close terminal window safely", zap.String("session", a.sessionName))
	}

	for _, f := range []string{a.taskFile, a.scriptFile, a.logFile} {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			a.logger.Debug("failed to unlink temp file", zap.String("file", f), zap.Error(err))
		}
	}
	return nil
}

// SessionName exposes the generated session name, used by the same
// stale-session bookkeeping tmux sessions use.
func (a *VisibleAdapter) SessionName() string {
	return a.sessionName
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func quoteArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = shellQuote(a)
	}
	return out
}

// appleScriptQuote renders s as a double-quoted AppleScript string
// literal, escaping backslashes and quotes so injected task text can
// never break out of the keystroke command.
func appleScriptQuote(s string) string {
	escaped := strings.ReplaceAll(s, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}

var _ repository.SessionAdapter = (*VisibleAdapter)(nil)
