// Package vcs implements repository.VCS (spec.md's "Git plumbing...
// modeled as an abstract VCS interface") by shelling out to the git
// binary. Adapted from the teacher's
// internal/infrastructure/sandbox/process_sandbox.go: the
// CommandContext-with-timeout-and-Setpgid execution pattern survives,
// narrowed from a general-purpose allow-listed shell sandbox (ssh,
// docker, python envs, network toggles) down to the one binary this
// engine ever shells out to directly. Stash-conflict handling mirrors
// _examples/original_source/state/recovery.py's _pop_stash.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/benderhq/engine/internal/domain/entity"
	"github.com/benderhq/engine/internal/domain/repository"
	"go.uber.org/zap"
)

// Git is the concrete repository.VCS backed by the system git binary.
type Git struct {
	timeout time.Duration
	logger  *zap.Logger
}

func New(timeout time.Duration, logger *zap.Logger) *Git {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Git{timeout: timeout, logger: logger}
}

var _ repository.VCS = (*Git)(nil)

// run execs git in dir with the process-group isolation the teacher's
// ProcessSandbox.Execute used (Setpgid: true), so a hung git process
// (e.g. waiting on a credential prompt) can be killed as a group
// rather than leaking an orphaned child.
func (g *Git) run(ctx context.Context, dir string, args ...string) (stdout, stderr string, err error) {
	runCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "git", args...)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err = cmd.Run()
	return outBuf.String(), errBuf.String(), err
}

// HasChanges reports whether `git status --porcelain` has any output.
func (g *Git) HasChanges(ctx context.Context, projectDir string) (bool, error) {
	out, stderr, err := g.run(ctx, projectDir, "status", "--porcelain")
	if err != nil {
		return false, entity.NewEngineError(entity.KindVcsOther, "git status failed: "+strings.TrimSpace(stderr), err)
	}
	return strings.TrimSpace(out) != "", nil
}

// Commit stages everything and commits it, returning the new revision's
// short hash. A commit with nothing staged is not an error: git itself
// reports "nothing to commit" and Commit returns the prior HEAD.
func (g *Git) Commit(ctx context.Context, projectDir, message string) (string, error) {
	if _, stderr, err := g.run(ctx, projectDir, "add", "-A"); err != nil {
		return "", entity.NewEngineError(entity.KindVcsOther, "git add failed: "+strings.TrimSpace(stderr), err)
	}
	out, stderr, err := g.run(ctx, projectDir, "commit", "-m", message)
	if err != nil && !strings.Contains(out+stderr, "nothing to commit") {
		return "", entity.NewEngineError(entity.KindVcsOther, "git commit failed: "+strings.TrimSpace(stderr), err)
	}
	rev, revErr, revErrErr := g.run(ctx, projectDir, "rev-parse", "--short", "HEAD")
	if revErrErr != nil {
		return "", entity.NewEngineError(entity.KindVcsOther, "git rev-parse failed: "+strings.TrimSpace(revErr), revErrErr)
	}
	return strings.TrimSpace(rev), nil
}

// Stash shelves uncommitted changes under label (the supervisor's
// namespaced recovery prefix, e.g. "bender_recovery_step_N_iter_M") and
// returns the stash ref it just created (always stash@{0}).
func (g *Git) Stash(ctx context.Context, projectDir, label string) (string, error) {
	_, stderr, err := g.run(ctx, projectDir, "stash", "push", "-u", "-m", label)
	if err != nil {
		return "", entity.NewEngineError(entity.KindVcsOther, "git stash push failed: "+strings.TrimSpace(stderr), err)
	}
	return "stash@{0}", nil
}

// PopStash applies the given stash (by label or ref) and, on success,
// drops it. It never uses `git stash pop`: apply-then-drop lets a
// conflicted apply leave the stash entry intact for the caller to
// retry or discard explicitly (_examples/original_source/state/
// recovery.py's _pop_stash never loses data on conflict).
func (g *Git) PopStash(ctx context.Context, projectDir, stashID string) error {
	ref, err := g.resolveStashRef(ctx, projectDir, stashID)
	if err != nil {
		return err
	}

	stdout, stderr, applyErr := g.run(ctx, projectDir, "stash", "apply", ref)
	if applyErr != nil {
		// git reports merge conflicts on stdout, not stderr.
		combined := strings.ToLower(stdout + stderr)
		if strings.Contains(combined, "conflict") {
			// Abort the partial apply, leave the working tree clean and
			// the stash untouched, per spec §4.L: "abort cleanly on
			// conflict and leave the stash intact with a diagnostic."
			if _, _, resetErr := g.run(ctx, projectDir, "reset", "--merge"); resetErr != nil {
				g.logger.Warn("git reset --merge failed after stash conflict", zap.Error(resetErr))
			}
			return entity.NewEngineError(entity.KindVcsConflict,
				fmt.Sprintf("stash %s conflicts with the working tree; stash preserved", ref), applyErr)
		}
		return entity.NewEngineError(entity.KindVcsOther, "git stash apply failed: "+strings.TrimSpace(stderr), applyErr)
	}

	if _, stderr, err := g.run(ctx, projectDir, "stash", "drop", ref); err != nil {
		g.logger.Warn("stash applied but drop failed, stash remains in the list",
			zap.String("ref", ref), zap.String("stderr", strings.TrimSpace(stderr)), zap.Error(err))
	}
	return nil
}

// resolveStashRef accepts either a literal "stash@{N}" ref or an
// arbitrary label and looks the label up in `git stash list`,
// returning the first matching ref (the original's recovery.py
// matches on label substring, newest entries first).
func (g *Git) resolveStashRef(ctx context.Context, projectDir, stashID string) (string, error) {
	if strings.HasPrefix(stashID, "stash@{") {
		return stashID, nil
	}
	out, stderr, err := g.run(ctx, projectDir, "stash", "list")
	if err != nil {
		return "", entity.NewEngineError(entity.KindVcsOther, "git stash list failed: "+strings.TrimSpace(stderr), err)
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, stashID) {
			idx := strings.Index(line, ":")
			if idx > 0 {
				return line[:idx], nil
			}
		}
	}
	return "", entity.NewEngineError(entity.KindVcsOther, "no stash found matching "+stashID, nil)
}
