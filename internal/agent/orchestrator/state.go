// Package orchestrator implements the plan/execute/confirm/verify/retry/
// summarize state machine that drives autonomous multi-step tool use,
// grounded on agents/orchestrator.py's LangGraph state machine but expressed
// as an explicit Go switch-driven loop rather than a graph library — see
// DESIGN.md for why no LangGraph-equivalent dependency was adopted.
package orchestrator

import (
	"time"

	"github.com/haasonsaas/nexus/internal/agent/confirmation"
	"github.com/haasonsaas/nexus/internal/agent/toolexec"
)

// Status mirrors the original TaskStatus enum.
type Status string

const (
	StatusPlanning             Status = "planning"
	StatusExecuting            Status = "executing"
	StatusVerifying            Status = "verifying"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusRetrying             Status = "retrying"
	StatusComplete             Status = "complete"
	StatusFailed               Status = "failed"
)

// Step is one entry in an execution plan.
type Step struct {
	ID          int
	Tool        string
	Description string
	Arguments   map[string]any
	DependsOn   []int
	Optional    bool
}

// ToolCallRecord records one tool invocation made during execution.
type ToolCallRecord struct {
	StepID     int
	Tool       string
	Arguments  map[string]any
	Result     string
	Error      string
	DurationMs int64
	Timestamp  time.Time
}

// ErrorRecord records one error encountered during execution.
type ErrorRecord struct {
	StepID          int
	ErrorType       string
	Message         string
	RetrySuggestion string
}

// VerificationResult is the parsed outcome of the verify node's LLM call.
type VerificationResult struct {
	Passed  bool
	Message string
	Issues  []string
}

// RetryContext carries error analysis from retry back into planning.
type RetryContext struct {
	RootCause           string
	Suggestions         []string
	AlternativeApproach string
}

// State is the complete state threaded through every node, grounded on
// agents/orchestrator.py's AgentState TypedDict.
type State struct {
	// Input
	Task    string
	Context map[string]any

	// Planning
	Plan        []Step
	CurrentStep int
	PlanHint    *PlanHint

	// ConfirmedStep is the index of the last plan step approved via the
	// confirm node; executeStep skips re-assessing risk for it.
	ConfirmedStep int

	// Execution
	ToolCalls   []ToolCallRecord
	ToolResults []string

	// Error handling
	Errors       []ErrorRecord
	RetryCount   int
	MaxRetries   int
	RetryContext *RetryContext

	// Verification
	VerificationResult *VerificationResult
	VerificationPassed bool

	// Confirmation
	RequiresConfirmation bool
	ConfirmationAction   string
	ConfirmationDetails  map[string]any
	ConfirmationRisk     confirmation.RiskAssessment
	UserApproved         *bool

	// Output
	FinalResult string
	Status      Status

	// Metadata
	StartTime       time.Time
	EndTime         time.Time
	TotalDurationMs float64
}

// NewState builds the initial state for a task, mirroring
// AgentOrchestrator.run's initial_state construction.
func NewState(task string, context map[string]any, maxRetries int) *State {
	if context == nil {
		context = map[string]any{}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &State{
		Task:          task,
		Context:       context,
		MaxRetries:    maxRetries,
		ConfirmedStep: -1,
		Status:        StatusPlanning,
		StartTime:     time.Now(),
	}
}

// toolexecResultText is a small adapter so orchestrator.go can format a
// toolexec.ExecutionResult into the text ToolResults expects.
func toolexecResultText(r *toolexec.ExecutionResult) string {
	if r == nil {
		return ""
	}
	if r.Success {
		return r.Result
	}
	if r.Error != nil {
		return r.Error.Error()
	}
	return ""
}
