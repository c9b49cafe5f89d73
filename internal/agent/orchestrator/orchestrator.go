package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/agent/confirmation"
	"github.com/haasonsaas/nexus/internal/agent/toolexec"
)

// node identifies which state-machine node runs next. Grounded on
// agents/orchestrator.py's StateGraph nodes, expressed here as a plain
// switch-driven loop instead of a graph library dependency.
type node string

const (
	nodePlan      node = "plan"
	nodeExecute   node = "execute"
	nodeConfirm   node = "confirm"
	nodeVerify    node = "verify"
	nodeRetry     node = "retry"
	nodeSummarize node = "summarize"
	nodeDone      node = "done"
)

// Config configures an Orchestrator. The confirmation risk threshold lives
// on the confirmation.Policy passed to the Assessor, not here.
type Config struct {
	Model          string
	MaxRetries     int
	DefaultTimeout time.Duration
	ToolCatalog    []string
}

// DefaultConfig returns sane defaults: 3 retries, 30s per-step timeout.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, DefaultTimeout: 30 * time.Second}
}

// Orchestrator drives the plan -> execute -> (confirm ->) verify -> (retry
// -> plan |) summarize state machine for one task at a time, grounded on
// agents/orchestrator.py's AgentOrchestrator.
type Orchestrator struct {
	LLM        agent.LLMProvider
	Executor   *toolexec.Executor
	Confirm    *confirmation.Manager
	Assessor   *confirmation.Assessor
	Model      string
	MaxRetries int
	Timeout    time.Duration

	// ToolCatalog overrides the default tool-hint list embedded in planning
	// prompts; see workflows.go's PlanHint presets.
	ToolCatalog []string
}

// New builds an Orchestrator. confirm and assessor may be nil, in which
// case no step ever requires confirmation.
func New(llm agent.LLMProvider, executor *toolexec.Executor, confirm *confirmation.Manager, assessor *confirmation.Assessor, cfg Config) *Orchestrator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	return &Orchestrator{
		LLM:         llm,
		Executor:    executor,
		Confirm:     confirm,
		Assessor:    assessor,
		Model:       cfg.Model,
		MaxRetries:  cfg.MaxRetries,
		Timeout:     cfg.DefaultTimeout,
		ToolCatalog: cfg.ToolCatalog,
	}
}

// Run drives a task through the state machine to completion, mirroring
// AgentOrchestrator.run's graph.ainvoke loop as an explicit switch.
func (o *Orchestrator) Run(ctx context.Context, task string, taskContext map[string]any) (*State, error) {
	return o.RunWithHint(ctx, task, taskContext, nil)
}

// RunWithHint runs a task with a PlanHint steering the planning prompt and
// tool catalog, used by the workflow presets in workflows.go.
func (o *Orchestrator) RunWithHint(ctx context.Context, task string, taskContext map[string]any, hint *PlanHint) (*State, error) {
	s := NewState(task, taskContext, o.MaxRetries)
	s.PlanHint = hint
	s.ConfirmedStep = -1

	current := nodePlan
	for current != nodeDone {
		select {
		case <-ctx.Done():
			s.Status = StatusFailed
			s.FinalResult = ctx.Err().Error()
			s.EndTime = time.Now()
			return s, ctx.Err()
		default:
		}

		var err error
		switch current {
		case nodePlan:
			err = o.planTask(ctx, s)
			current = nodeExecute
		case nodeExecute:
			err = o.executeStep(ctx, s)
			if err == nil {
				current = o.routeAfterExecute(s)
			}
		case nodeConfirm:
			err = o.requestConfirmation(ctx, s)
			if err == nil {
				current = o.routeAfterConfirm(s)
			}
		case nodeVerify:
			err = o.verifyResult(ctx, s)
			if err == nil {
				current = o.routeAfterVerify(s)
			}
		case nodeRetry:
			err = o.prepareRetry(ctx, s)
			current = nodePlan
		case nodeSummarize:
			err = o.summarizeResults(ctx, s)
			current = nodeDone
		}

		if err != nil {
			s.Errors = append(s.Errors, ErrorRecord{StepID: s.CurrentStep, ErrorType: "NodeError", Message: err.Error()})
			s.Status = StatusFailed
			s.FinalResult = fmt.Sprintf("execution aborted: %s", err.Error())
			s.EndTime = time.Now()
			return s, nil
		}
	}

	s.TotalDurationMs = float64(s.EndTime.Sub(s.StartTime).Milliseconds())
	return s, nil
}

// planTask generates (or regenerates, on retry) the execution plan,
// mirroring _plan_task.
func (o *Orchestrator) planTask(ctx context.Context, s *State) error {
	var prompt string
	if s.RetryContext != nil {
		prompt = o.buildRetryPlanPrompt(s)
	} else {
		prompt = o.buildInitialPlanPrompt(s)
	}

	response, err := callLLM(ctx, o.LLM, o.Model, planningSystemPrompt, prompt)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}

	s.Plan = parsePlan(response)
	s.CurrentStep = 0
	s.Status = StatusPlanning
	return nil
}

// executeStep runs the current plan step, mirroring _execute_step. Unlike
// the original, risk assessment happens before the call runs: a step whose
// risk requires confirmation is held (without being executed or advancing
// current_step) until confirm approves it, recorded via ConfirmedStep.
func (o *Orchestrator) executeStep(ctx context.Context, s *State) error {
	if s.CurrentStep >= len(s.Plan) {
		return nil
	}
	step := s.Plan[s.CurrentStep]

	if o.Assessor != nil && s.ConfirmedStep != s.CurrentStep {
		assessment := o.Assessor.Assess(step.Tool, step.Arguments)
		if assessment.RequiresConfirmation {
			s.RequiresConfirmation = true
			s.ConfirmationAction = step.Tool
			s.ConfirmationDetails = step.Arguments
			s.ConfirmationRisk = assessment
			s.Status = StatusAwaitingConfirmation
			return nil
		}
	}
	s.RequiresConfirmation = false

	start := time.Now()
	var record ToolCallRecord
	record.StepID = s.CurrentStep
	record.Tool = step.Tool
	record.Arguments = step.Arguments
	record.Timestamp = start

	if o.Executor == nil {
		record.Error = "no tool executor configured"
	} else {
		result := o.Executor.Execute(ctx, step.Tool, step.Arguments, o.Timeout)
		record.DurationMs = result.DurationMs
		if result.Success {
			record.Result = result.Result
		} else {
			record.Error = toolexecResultText(result)
			s.Errors = append(s.Errors, ErrorRecord{
				StepID:    s.CurrentStep,
				ErrorType: "ToolExecutionError",
				Message:   record.Error,
			})
		}
	}

	s.ToolCalls = append(s.ToolCalls, record)
	if record.Error != "" {
		s.ToolResults = append(s.ToolResults, record.Error)
	} else {
		s.ToolResults = append(s.ToolResults, record.Result)
	}

	s.CurrentStep++
	s.Status = StatusExecuting
	return nil
}

// requestConfirmation blocks for a human decision on the pending step,
// mirroring _request_confirmation.
func (o *Orchestrator) requestConfirmation(ctx context.Context, s *State) error {
	if o.Confirm == nil {
		approved := false
		s.UserApproved = &approved
		s.Status = StatusAwaitingConfirmation
		return nil
	}

	id := fmt.Sprintf("step-%d", s.CurrentStep)
	decision := o.Confirm.Request(ctx, id, s.ConfirmationAction, s.ConfirmationDetails, s.ConfirmationRisk, o.Timeout)
	approved := decision.Approved
	s.UserApproved = &approved
	s.Status = StatusAwaitingConfirmation
	return nil
}

// verifyResult asks the LLM to judge whether the task succeeded, mirroring
// _verify_result.
func (o *Orchestrator) verifyResult(ctx context.Context, s *State) error {
	prompt := o.buildVerificationPrompt(s)
	response, err := callLLM(ctx, o.LLM, o.Model, verificationSystemPrompt, prompt)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	verification := parseVerification(response)
	s.VerificationResult = &verification
	s.VerificationPassed = verification.Passed
	s.Status = StatusVerifying
	return nil
}

// prepareRetry analyzes the failure and resets execution state for
// re-planning, mirroring _prepare_retry.
func (o *Orchestrator) prepareRetry(ctx context.Context, s *State) error {
	prompt := o.buildErrorAnalysisPrompt(s)
	response, err := callLLM(ctx, o.LLM, o.Model, retrySystemPrompt, prompt)
	if err != nil {
		return fmt.Errorf("retry analysis: %w", err)
	}

	s.RetryCount++
	s.RetryContext = parseRetryContext(response)
	s.Status = StatusRetrying
	s.Plan = nil
	s.CurrentStep = 0
	s.ConfirmedStep = -1
	s.ToolCalls = nil
	s.ToolResults = nil
	return nil
}

// summarizeResults produces the final human-readable summary and status,
// mirroring _summarize_results.
func (o *Orchestrator) summarizeResults(ctx context.Context, s *State) error {
	prompt := o.buildSummaryPrompt(s)
	summary, err := callLLM(ctx, o.LLM, o.Model, summarySystemPrompt, prompt)
	if err != nil {
		summary = fmt.Sprintf("summary unavailable: %s", err.Error())
	}

	s.FinalResult = summary
	s.EndTime = time.Now()

	switch {
	case s.VerificationPassed:
		s.Status = StatusComplete
	case s.RetryCount >= s.MaxRetries:
		s.Status = StatusFailed
	case s.UserApproved != nil && !*s.UserApproved:
		s.Status = StatusFailed
	default:
		s.Status = StatusComplete
	}
	return nil
}

// routeAfterExecute mirrors _route_after_execute.
func (o *Orchestrator) routeAfterExecute(s *State) node {
	if s.RequiresConfirmation {
		return nodeConfirm
	}
	if s.CurrentStep < len(s.Plan) {
		return nodeExecute
	}
	return nodeVerify
}

// routeAfterConfirm mirrors _route_after_confirm.
func (o *Orchestrator) routeAfterConfirm(s *State) node {
	if s.UserApproved != nil && *s.UserApproved {
		s.ConfirmedStep = s.CurrentStep
		s.RequiresConfirmation = false
		return nodeExecute
	}
	return nodeSummarize
}

// routeAfterVerify mirrors _route_after_verify.
func (o *Orchestrator) routeAfterVerify(s *State) node {
	if s.VerificationPassed {
		return nodeSummarize
	}
	if s.RetryCount >= s.MaxRetries {
		return nodeSummarize
	}
	return nodeRetry
}
