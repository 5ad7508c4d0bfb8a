package session

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/benderhq/engine/internal/domain/entity"
	"github.com/benderhq/engine/internal/domain/repository"
	"github.com/benderhq/engine/internal/infrastructure/outputfilter"
)

// oracleState is the stuck-hash counter shared by every SessionAdapter
// implementation (background tmux and visible native-terminal alike):
// spec §4.A's completion oracle step 2 depends on it regardless of how
// the adapter captures scrollback.
type oracleState struct {
	mu          sync.Mutex
	lastHash    string
	hashRepeats int
}

// OracleConfig is the tier-specific pattern set the completion oracle
// matches against, shared across adapter implementations.
type OracleConfig struct {
	CompletionMarkers []string
	ProgressPatterns  []string
}

var progressDefaultPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)updated:`),
	regexp.MustCompile(`(?i)wrote \d+ lines`),
	regexp.MustCompile(`(?i)creating `),
	regexp.MustCompile(`(?i)modifying `),
	regexp.MustCompile(`(?i)editing `),
}

// evaluateCompletion runs the five-step completion oracle from spec
// §4.A: static markers -> stuck-hash detector -> liveness -> Log
// Watcher verdict -> still-working. It is adapter-agnostic: callers
// supply their own liveness probe and (optionally) a Log Watcher.
func evaluateCompletion(
	ctx context.Context,
	st *oracleState,
	cfg OracleConfig,
	raw string,
	filtered outputfilter.Result,
	isAlive func(context.Context) bool,
	watcher repository.LogWatcher,
) (entity.Verdict, bool, bool) {
	tail := tailBytes(raw, 500)

	// 1. static completion markers
	for _, marker := range cfg.CompletionMarkers {
		if strings.Contains(tail, marker) {
			return entity.Verdict{Result: entity.ResultCompleted, Summary: "completion marker matched"}, true, true
		}
	}

	// 2. stuck detector: hash stable across 3 ticks, no progress pattern
	hash := fmt.Sprintf("%x", fnvHash(filtered.FilteredText))
	st.mu.Lock()
	if hash == st.lastHash && hash != "" {
		st.hashRepeats++
	} else {
		st.hashRepeats = 0
	}
	st.lastHash = hash
	repeats := st.hashRepeats
	st.mu.Unlock()

	if repeats >= 3 && !hasProgressPattern(tail, cfg.ProgressPatterns) {
		return entity.Verdict{Result: entity.ResultStuck, Summary: "scrollback unchanged for 3 ticks", ShouldRestart: true, RestartContext: tail}, true, false
	}

	// 3. liveness
	if !isAlive(ctx) {
		if strings.Contains(strings.ToLower(tail), "usage") {
			return entity.Verdict{Result: entity.ResultCompleted, Summary: "session exited with usage statistics present"}, true, true
		}
		return entity.Verdict{Result: entity.ResultError, Summary: "session exited without usage statistics"}, true, false
	}

	// 4. Log Watcher verdict
	if watcher != nil {
		verdict := watcher.Analyze(ctx, filtered, "", 0)
		if verdict.Result == entity.ResultCompleted || verdict.Result == entity.ResultError {
			return verdict, true, verdict.Result == entity.ResultCompleted
		}
	}

	// 5. still working
	return entity.Verdict{Result: entity.ResultWorking}, false, false
}

func hasProgressPattern(tail string, extra []string) bool {
	for _, p := range progressDefaultPatterns {
		if p.MatchString(tail) {
			return true
		}
	}
	for _, raw := range extra {
		if re, err := regexp.Compile("(?i)" + raw); err == nil && re.MatchString(tail) {
			return true
		}
	}
	return false
}

func tailBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// fnvHash is a small non-cryptographic hash for the stuck detector;
// collisions only cost a spurious extra poll tick, never correctness.
func fnvHash(s string) uint64 {
	const (
		offset = 14695981039346656037
		prime  = 1099511628211
	)
	h := uint64(offset)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	return h
}
