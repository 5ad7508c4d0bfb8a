package entity

// TaskComplexity is the closed-set WorkerTier backing value: simple
// tasks run on the lightest worker, complex ones get a final review
// pass. Mirrors TaskComplexity in task_clarifier.py.
type TaskComplexity string

const (
	ComplexitySimple  TaskComplexity = "simple"
	ComplexityMedium  TaskComplexity = "medium"
	ComplexityComplex TaskComplexity = "complex"
)

// WorkerTier is the closed set a Worker Manager policy maps to a
// Session Adapter configuration (spec §3).
type WorkerTier string

const (
	TierSimple  WorkerTier = "simple"
	TierMedium  WorkerTier = "medium"
	TierComplex WorkerTier = "complex"
)

func (c TaskComplexity) Tier() WorkerTier {
	switch c {
	case ComplexitySimple:
		return TierSimple
	case ComplexityComplex:
		return TierComplex
	default:
		return TierMedium
	}
}

// Task is immutable after clarification: Original and Clarified are
// always byte-equal in this implementation, because the clarifier is
// contractually forbidden from rewriting the task (spec §4.H) — it may
// only attach complexity and acceptance criteria.
type Task struct {
	Original          string
	Clarified         string
	Complexity        TaskComplexity
	Criteria          []string
	NeedsFinalReview  bool
}

// NewTask builds a Task enforcing the Original == Clarified invariant.
func NewTask(original string, complexity TaskComplexity, criteria []string, needsFinalReview bool) Task {
	return Task{
		Original:         original,
		Clarified:        original,
		Complexity:       complexity,
		Criteria:         criteria,
		NeedsFinalReview: needsFinalReview,
	}
}
