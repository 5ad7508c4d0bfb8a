package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/benderhq/engine/internal/domain/entity"
	"go.uber.org/zap"
)

func TestFileRepository_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	repo := NewFileRepository(dir, zap.NewNop())

	s := &entity.EngineState{RunID: "run-1", ProjectPath: "/tmp/proj", Status: entity.RunStatusRunning, CurrentIteration: 2}
	if err := repo.Save(s); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := repo.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.RunID != "run-1" || loaded.CurrentIteration != 2 {
		t.Fatalf("unexpected loaded state: %+v", loaded)
	}
	if loaded.UpdatedAt.IsZero() {
		t.Fatalf("expected UpdatedAt to be set by Save")
	}
}

func TestFileRepository_SaveCreatesBackupOfPriorState(t *testing.T) {
	dir := t.TempDir()
	repo := NewFileRepository(dir, zap.NewNop())

	first := &entity.EngineState{RunID: "run-1", Status: entity.RunStatusRunning}
	if err := repo.Save(first); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	second := &entity.EngineState{RunID: "run-1", Status: entity.RunStatusCompleted}
	if err := repo.Save(second); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, backupDirName))
	if err != nil {
		t.Fatalf("expected a backup dir to exist: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one backup after the second save, got %d", len(entries))
	}
}

func TestFileRepository_LoadFallsBackToBackupWhenPrimaryCorrupt(t *testing.T) {
	dir := t.TempDir()
	repo := NewFileRepository(dir, zap.NewNop())

	good := &entity.EngineState{RunID: "good-run", Status: entity.RunStatusRunning}
	if err := repo.Save(good); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	// Force a second save so the first (good) state is pushed into backups.
	if err := repo.Save(&entity.EngineState{RunID: "second-run", Status: entity.RunStatusRunning}); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	if err := os.WriteFile(repo.statePath(), []byte("{not valid json"), 0o644); err != nil {
		t.Fatalf("corrupting primary state file failed: %v", err)
	}

	loaded, err := repo.Load()
	if err != nil {
		t.Fatalf("expected Load to recover from backup, got error: %v", err)
	}
	if loaded == nil || loaded.RunID != "good-run" {
		t.Fatalf("expected the backed-up good-run state, got %+v", loaded)
	}
}

func TestFileRepository_LoadWithNoStateReturnsNil(t *testing.T) {
	repo := NewFileRepository(t.TempDir(), zap.NewNop())
	s, err := repo.Load()
	if err != nil {
		t.Fatalf("expected no error when no state exists, got %v", err)
	}
	if s != nil {
		t.Fatalf("expected nil state, got %+v", s)
	}
}

func TestFileRepository_HasActiveRun(t *testing.T) {
	repo := NewFileRepository(t.TempDir(), zap.NewNop())
	if repo.HasActiveRun() {
		t.Fatalf("expected no active run before any Save")
	}

	if err := repo.Save(&entity.EngineState{RunID: "r", Status: entity.RunStatusRunning}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !repo.HasActiveRun() {
		t.Fatalf("expected an active run after saving a RUNNING state")
	}

	if err := repo.Save(&entity.EngineState{RunID: "r", Status: entity.RunStatusCompleted}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if repo.HasActiveRun() {
		t.Fatalf("expected no active run once state is COMPLETED")
	}
}

func TestFileRepository_Clear(t *testing.T) {
	repo := NewFileRepository(t.TempDir(), zap.NewNop())
	if err := repo.Save(&entity.EngineState{RunID: "r", Status: entity.RunStatusRunning}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := repo.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if repo.HasActiveRun() {
		t.Fatalf("expected no active run after Clear")
	}
}

func TestFileRepository_PruneBackupsKeepsOnlyMostRecent(t *testing.T) {
	dir := t.TempDir()
	repo := NewFileRepository(dir, zap.NewNop())

	for i := 0; i < maxBackups+5; i++ {
		if err := repo.Save(&entity.EngineState{RunID: "r", CurrentIteration: i}); err != nil {
			t.Fatalf("Save %d failed: %v", i, err)
		}
	}

	entries, err := os.ReadDir(filepath.Join(dir, backupDirName))
	if err != nil {
		t.Fatalf("read backup dir: %v", err)
	}
	if len(entries) > maxBackups {
		t.Fatalf("expected at most %d backups, got %d", maxBackups, len(entries))
	}
}
