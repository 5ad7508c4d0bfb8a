package repository

import "github.com/benderhq/engine/internal/domain/entity"

// StateRepository persists and loads the single EngineState for a run
// (spec §4.L). Implementations must guarantee atomic-write semantics:
// a crash between writing the temp file and renaming it into place
// never corrupts the last successfully persisted state (Testable
// Property 8).
type StateRepository interface {
	Load() (*entity.EngineState, error)
	Save(state *entity.EngineState) error
}

// AuditStore is a supplemented, additive append-only log of
// checkpoints and loop iterations (SPEC_FULL.md domain stack), never
// the source of truth for recovery — StateRepository alone is.
type AuditStore interface {
	RecordCheckpoint(runID string, cp entity.Checkpoint) error
	RecordIteration(runID string, it entity.LoopIteration) error
	Close() error
}
