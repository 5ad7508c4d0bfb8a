package entity

import "time"

// Checkpoint is one verdict from the Log Watcher (spec §3, §4.C).
type Checkpoint struct {
	Timestamp       time.Time
	Status          string
	Summary         string
	Suggestion      string
	RestartContext  string
}

// String renders a Checkpoint the way ContextBudget.history_context
// expects per line: "[HH:MM:SS] [STATUS] summary" (spec §4.D).
func (c Checkpoint) String() string {
	return "[" + c.Timestamp.Format("15:04:05") + "] [" + c.Status + "] " + c.Summary
}
