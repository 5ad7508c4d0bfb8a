package repository

import (
	"context"
	"time"
)

// SessionAdapter drives one interactive CLI program as if a human
// were typing (spec §4.A). Exactly one Session belongs to one
// adapter instance; implementations must enforce that invariant
// themselves, never assume the caller will.
type SessionAdapter interface {
	// Start constructs the tier-specific command line, spawns the
	// session, and injects task as the first input line with
	// newlines flattened to spaces. restartContext, when non-empty,
	// is prepended as additional context (used when the Worker
	// Manager restarts a stuck session). After Start returns, the
	// session is either alive or Start fails with SessionSpawnFailed.
	Start(ctx context.Context, task, restartContext string) error

	// SendInput delivers text + Enter. Must not block more than a
	// few seconds; a failure is reported but never kills the session.
	SendInput(ctx context.Context, text string) error

	// CaptureOutput returns current scrollback. Never truncates
	// silently; returns "" and logs if the backing store is
	// unreadable.
	CaptureOutput(ctx context.Context) string

	// IsAlive reports whether the session process/window is still
	// present. Visible-mode implementations must treat an unknown
	// window id as dead rather than guessing.
	IsAlive(ctx context.Context) bool

	// WaitForCompletion polls at a fixed interval, applying the
	// completion oracle each tick, until it resolves or timeout
	// elapses.
	WaitForCompletion(ctx context.Context, timeout, pollInterval time.Duration) (success bool, scrollback string)

	// Stop tears the session down: cancels any monitor, terminates
	// the process, closes the window by id only (never "front
	// window"), unlinks temp files. Idempotent.
	Stop(ctx context.Context) error
}
