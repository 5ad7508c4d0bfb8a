package repository

import (
	"context"
	"time"

	"github.com/benderhq/engine/internal/domain/entity"
)

// LogWatcher is the Session Adapter's step 4 dependency (spec §4.A):
// injected rather than owned, so the Router and the Log Watcher never
// form an ownership cycle (spec §9's design note) and the adapter can
// be tested with a stub. It takes the full FilterResult, not just the
// filtered text, so its fast path (spec §4.C) can see
// has_completion/has_error/has_question without re-deriving them.
type LogWatcher interface {
	Analyze(ctx context.Context, filtered entity.FilterResult, task string, elapsed time.Duration) entity.Verdict
	Reset()
}
