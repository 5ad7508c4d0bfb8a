package service

import (
	"context"
)

// SupervisorDecision is supervisor.py's SupervisorDecision: the
// single-shot Supervisor's next action plus enough context to log and
// act on it.
type SupervisorDecision struct {
	Action   AnalysisAction
	Message  string
	Reason   string
	Analysis AnalysisResult
}

// EscalateFunc is called when the Supervisor decides a human needs to
// step in (supervisor.py's on_escalate callback).
type EscalateFunc func(reason string)

// Supervisor wires the Analyzer and Enforcer together into the exact
// decision table from spec §4.J. Grounded on supervisor.py's
// BenderSupervisor.
type Supervisor struct {
	analyzer *ResponseAnalyzer
	enforcer *TaskEnforcer
	onEscalate EscalateFunc

	confirmations  int
	failedAttempts int
}

func NewSupervisor(analyzer *ResponseAnalyzer, enforcer *TaskEnforcer, onEscalate EscalateFunc) *Supervisor {
	return &Supervisor{analyzer: analyzer, enforcer: enforcer, onEscalate: onEscalate}
}

// AnalyzeResponse runs the Analyzer then applies the decision table
// (supervisor.py's analyze_response).
func (s *Supervisor) AnalyzeResponse(ctx context.Context, workerOutput, stepPrompt, stepName string, stepNumber, iteration int, criteria []string) SupervisorDecision {
	analysis := s.analyzer.Analyze(ctx, workerOutput, stepPrompt, stepName, stepNumber, iteration, s.confirmations, s.failedAttempts, criteria)
	return s.makeDecision(ctx, analysis, stepPrompt, workerOutput)
}

// makeDecision is the exact branch table from supervisor.py's
// _make_decision.
func (s *Supervisor) makeDecision(ctx context.Context, analysis AnalysisResult, stepPrompt, workerOutput string) SupervisorDecision {
	switch analysis.Action {
	case ActionEscalate:
		if s.onEscalate != nil {
			s.onEscalate(analysis.Reason)
		}
		return SupervisorDecision{Action: ActionEscalate, Reason: analysis.Reason, Analysis: analysis}

	case ActionEnforceTask:
		s.failedAttempts++
		enforcement := s.enforcer.EnforceWithLLM(ctx, analysis.Issues, stepPrompt, workerOutput)
		if enforcement.ShouldEscalate {
			if s.onEscalate != nil {
				s.onEscalate("enforcement attempts exhausted")
			}
			return SupervisorDecision{Action: ActionEscalate, Reason: "enforcement attempts exhausted", Analysis: analysis}
		}
		return SupervisorDecision{Action: ActionContinue, Message: enforcement.Message, Reason: analysis.Reason, Analysis: analysis}

	case ActionAskWorker:
		message := analysis.MessageToWorker
		if message == "" {
			message = "Can you clarify what you did and whether the step is complete?"
		}
		return SupervisorDecision{Action: ActionContinue, Message: message, Reason: analysis.Reason, Analysis: analysis}

	case ActionNewChat:
		s.confirmations = 0
		s.failedAttempts = 0
		s.enforcer.Reset()
		return SupervisorDecision{Action: ActionNewChat, Reason: analysis.Reason, Analysis: analysis}

	default: // ActionContinue and any unrecognized value
		if !analysis.HasChanges || !analysis.ChangesSubstantial {
			s.confirmations++
		}
		s.failedAttempts = 0
		s.enforcer.Reset()
		return SupervisorDecision{Action: ActionContinue, Reason: analysis.Reason, Analysis: analysis}
	}
}

// Confirmations reports how many non-substantial-change CONTINUE
// rounds have been counted since the last NEW_CHAT or reset; a
// substantial change does not clear it. This is the counter spec
// §4.J's escalation threshold watches.
func (s *Supervisor) Confirmations() int { return s.confirmations }

// ResetConfirmations clears the confirmation counter without touching
// enforcement state.
func (s *Supervisor) ResetConfirmations() { s.confirmations = 0 }

// ResetState clears confirmations, failed attempts, and the enforcer's
// own attempt counter (supervisor.py's reset_state).
func (s *Supervisor) ResetState() {
	s.confirmations = 0
	s.failedAttempts = 0
	s.enforcer.Reset()
}
