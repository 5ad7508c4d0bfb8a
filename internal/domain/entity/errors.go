package entity

import (
	"errors"
	"fmt"
)

// EngineErrorKind classifies every error the engine can surface, per the
// taxonomy in spec §7. All engine errors derive from EngineError so
// errors.Is/errors.As work uniformly across the supervision stack.
type EngineErrorKind int

const (
	KindConfigInvalid EngineErrorKind = iota
	KindMissingConfig
	KindSessionSpawnFailed
	KindSessionDied
	KindInputFailed
	KindProviderConnectionFailed
	KindProviderRateLimited
	KindProviderEmpty
	KindAllProvidersUnavailable
	KindJSONParseFailed
	KindTaskTimeout
	KindCycleDetected
	KindEscalationRequired
	KindVcsConflict
	KindVcsAuth
	KindVcsOther
)

func (k EngineErrorKind) String() string {
	switch k {
	case KindConfigInvalid:
		return "config_invalid"
	case KindMissingConfig:
		return "missing_config"
	case KindSessionSpawnFailed:
		return "session_spawn_failed"
	case KindSessionDied:
		return "session_died"
	case KindInputFailed:
		return "input_failed"
	case KindProviderConnectionFailed:
		return "provider_connection_failed"
	case KindProviderRateLimited:
		return "provider_rate_limited"
	case KindProviderEmpty:
		return "provider_empty"
	case KindAllProvidersUnavailable:
		return "all_providers_unavailable"
	case KindJSONParseFailed:
		return "json_parse_failed"
	case KindTaskTimeout:
		return "task_timeout"
	case KindCycleDetected:
		return "cycle_detected"
	case KindEscalationRequired:
		return "escalation_required"
	case KindVcsConflict:
		return "vcs_conflict"
	case KindVcsAuth:
		return "vcs_auth"
	case KindVcsOther:
		return "vcs_other"
	default:
		return "unknown"
	}
}

// EngineError is the single error type every engine component returns.
// Kind drives both retry policy (IsRetryable) and propagation policy
// (spec §7): only a handful of kinds ever leave the component that
// produced them, the rest are recovered locally.
type EngineError struct {
	Kind    EngineErrorKind
	Message string
	// RawText preserves the original payload for JsonParseFailed, so
	// callers can log or re-attempt extraction without re-fetching it.
	RawText string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *EngineError) Unwrap() error { return e.Cause }

// IsRetryable reports whether the Router should retry within the same
// provider rather than fail over or surface the error. Only connection
// failures and rate limits are transient by this taxonomy.
func (e *EngineError) IsRetryable() bool {
	switch e.Kind {
	case KindProviderConnectionFailed, KindProviderRateLimited:
		return true
	default:
		return false
	}
}

func NewEngineError(kind EngineErrorKind, message string, cause error) *EngineError {
	return &EngineError{Kind: kind, Message: message, Cause: cause}
}

func NewJSONParseError(message, rawText string, cause error) *EngineError {
	return &EngineError{Kind: KindJSONParseFailed, Message: message, RawText: rawText, Cause: cause}
}

// IsKind is a convenience errors.As-based check used throughout the
// application layer to branch on error taxonomy.
func IsKind(err error, kind EngineErrorKind) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind == kind
	}
	return false
}

var (
	ErrSessionAlreadyRunning = errors.New("worker manager: a session is already running")
	ErrNoActiveSession       = errors.New("worker manager: no active session")
	ErrStopRequested         = errors.New("operation aborted: stop requested")
)
