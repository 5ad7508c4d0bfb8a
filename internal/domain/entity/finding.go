package entity

// Severity is the closed set a Finding carries (spec §3).
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Finding is one severity-tagged issue extracted from reviewer output
// (spec §3, §4.K).
type Finding struct {
	Severity    Severity
	Description string
	Location    string
}

// LoopDecision is the Review-Loop Controller's per-iteration verdict.
type LoopDecision string

const (
	DecisionFix  LoopDecision = "fix"
	DecisionSkip LoopDecision = "skip"
	DecisionDone LoopDecision = "done"
)

// LoopIteration is one executor/reviewer round (spec §3).
type LoopIteration struct {
	N              int
	ExecutorName   string
	ReviewerName   string
	Findings       []Finding
	HadVCSChanges  bool
	Decision       LoopDecision
	FixInstructions string
}

// LoopResult is the terminal outcome of a Review-Loop Controller run
// (spec §3).
type LoopResult struct {
	Success           bool
	Iterations        int
	TotalFindings     int
	FixedFindings     int
	ConfirmedFixed    int // supplemented counter, see SPEC_FULL.md / DESIGN.md open-question note
	RemainingFindings []Finding
	History           []LoopIteration
	CycleDetected     bool
	CycleReason       string
}
