package session

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Stale-session thresholds from SPEC_FULL.md's supplemented stale
// tmux sweep, taken directly from worker_manager.py's
// cleanup_stale_bender_sessions: a session is stale once it is older
// than maxAge OR has been idle past minIdle, and is never touched
// while a client is attached.
const (
	StaleMaxAge   = 6 * time.Hour
	StaleMinIdle  = 30 * time.Minute
)

// CleanupStale lists every tmux session on the server, kills the ones
// whose name starts with namespace+"-", has no attached client, and
// exceeds either staleness threshold. It is meant to run once per
// process at startup (worker_manager.py gates this with a class-level
// "_cleanup_done" flag; here the caller is responsible for calling it
// at most once).
func CleanupStale(ctx context.Context, namespace string, logger *zap.Logger) {
	listCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(listCtx, "tmux", "list-sessions",
		"-F", "#{session_name}\t#{session_attached}\t#{session_created}\t#{session_activity}").Output()
	if err != nil {
		// No server running is not an error worth logging loudly: there
		// is nothing to clean up.
		return
	}

	now := time.Now()
	prefix := namespace + "-"
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Split(line, "\t")
		if len(fields) != 4 {
			continue
		}
		name, attached, createdRaw, activityRaw := fields[0], fields[1], fields[2], fields[3]
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if attached != "0" {
			continue
		}

		created, err1 := strconv.ParseInt(createdRaw, 10, 64)
		activity, err2 := strconv.ParseInt(activityRaw, 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}

		age := now.Sub(time.Unix(created, 0))
		idle := now.Sub(time.Unix(activity, 0))
		if age < StaleMaxAge && idle < StaleMinIdle {
			continue
		}

		killCtx, killCancel := context.WithTimeout(ctx, 5*time.Second)
		killErr := exec.CommandContext(killCtx, "tmux", "kill-session", "-t", name).Run()
		killCancel()
		if killErr != nil {
			logger.Warn("failed to kill stale session", zap.String("session", name), zap.Error(killErr))
			continue
		}
		logger.Info("killed stale orphan session",
			zap.String("session", name), zap.Duration("age", age), zap.Duration("idle", idle))
	}
}
