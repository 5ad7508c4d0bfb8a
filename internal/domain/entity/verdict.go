package entity

// SessionResult is the Log Watcher's and the completion oracle's
// shared verdict vocabulary (spec §4.A, §4.C).
type SessionResult string

const (
	ResultWorking    SessionResult = "working"
	ResultCompleted  SessionResult = "completed"
	ResultStuck      SessionResult = "stuck"
	ResultLoop       SessionResult = "loop"
	ResultNeedHuman  SessionResult = "need_human"
	ResultError      SessionResult = "error"
)

// Verdict is the Log Watcher's output (spec §4.C):
// {result, summary, suggestion?, should_restart, restart_context?}.
type Verdict struct {
	Result         SessionResult
	Summary        string
	Suggestion     string
	ShouldRestart  bool
	RestartContext string
}
