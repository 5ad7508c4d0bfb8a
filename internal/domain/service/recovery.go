package service

import (
	"context"
	"fmt"

	"github.com/benderhq/engine/internal/domain/entity"
	"github.com/benderhq/engine/internal/domain/repository"
	"go.uber.org/zap"
)

// recoveryStashPrefix namespaces every stash this engine creates so
// check_recovery_needed-style scans never confuse a supervisor stash
// with one a human made by hand (_examples/original_source/state/
// recovery.py's STASH_PREFIX, renamed to this engine's namespace).
const recoveryStashPrefix = "bender_recovery"

// RecoveryInfo reports whether a prior run left recoverable state
// behind (spec §4.L).
type RecoveryInfo struct {
	CanResume         bool
	State             *entity.EngineState
	HasUncommitted    bool
	HasRecoveryStash  bool
	RecoveryStashID   string
}

// RecoveryManager resolves whether and how to resume a prior run,
// combining the persisted EngineState with the working tree's actual
// git status. Grounded on recovery.py's RecoveryManager.
type RecoveryManager struct {
	states repository.StateRepository
	vcs    repository.VCS
	logger *zap.Logger
}

func NewRecoveryManager(states repository.StateRepository, vcs repository.VCS, logger *zap.Logger) *RecoveryManager {
	return &RecoveryManager{states: states, vcs: vcs, logger: logger}
}

// CheckRecoveryNeeded inspects the persisted state plus the working
// tree (recovery.py's check_recovery_needed): no state, or a completed
// run, means there's nothing to resume.
func (m *RecoveryManager) CheckRecoveryNeeded(ctx context.Context, projectDir string) (RecoveryInfo, error) {
	s, err := m.states.Load()
	if err != nil {
		return RecoveryInfo{}, fmt.Errorf("load state: %w", err)
	}
	if !s.CanResume() {
		return RecoveryInfo{CanResume: false, State: s}, nil
	}

	hasUncommitted, err := m.vcs.HasChanges(ctx, projectDir)
	if err != nil {
		return RecoveryInfo{}, fmt.Errorf("check working tree: %w", err)
	}

	info := RecoveryInfo{
		CanResume:      true,
		State:          s,
		HasUncommitted: hasUncommitted,
	}
	if s.RecoveryStash != "" {
		info.HasRecoveryStash = true
		info.RecoveryStashID = s.RecoveryStash
	}
	return info, nil
}

// PrepareRecovery readies the working tree for a resumed run: any
// uncommitted changes are stashed first (namespaced to this step and
// iteration), then the prior recovery stash, if one exists and
// applyStash is set, is applied. On conflict the stash is left intact
// and the caller gets a diagnostic error rather than a silently
// dropped change (recovery.py's prepare_recovery/_pop_stash).
func (m *RecoveryManager) PrepareRecovery(ctx context.Context, projectDir string, info RecoveryInfo, applyStash bool) error {
	if info.HasUncommitted {
		label := fmt.Sprintf("%s_step_%s_iter_%d", recoveryStashPrefix, info.State.CurrentStep, info.State.CurrentIteration)
		if _, err := m.vcs.Stash(ctx, projectDir, label); err != nil {
			return fmt.Errorf("stash uncommitted changes before recovery: %w", err)
		}
		m.logger.Info("stashed uncommitted changes before recovery", zap.String("label", label))
	}

	if !info.HasRecoveryStash || !applyStash {
		return nil
	}

	if err := m.vcs.PopStash(ctx, projectDir, info.RecoveryStashID); err != nil {
		if entity.IsKind(err, entity.KindVcsConflict) {
			m.logger.Warn("recovery stash conflicts with the working tree, left intact",
				zap.String("stash", info.RecoveryStashID), zap.Error(err))
		}
		return err
	}
	m.logger.Info("applied recovery stash", zap.String("stash", info.RecoveryStashID))
	return nil
}
