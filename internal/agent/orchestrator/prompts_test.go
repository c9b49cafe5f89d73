package orchestrator

import (
	"strings"
	"testing"
)

func TestToolCatalogDefaultsWhenNothingSet(t *testing.T) {
	o := &Orchestrator{}
	s := NewState("task", nil, 3)

	catalog := o.toolCatalog(s)

	if !strings.Contains(catalog, "filesystem.read_file") {
		t.Errorf("expected built-in default catalog, got %q", catalog)
	}
}

func TestToolCatalogOrchestratorOverrideBeatsDefault(t *testing.T) {
	o := &Orchestrator{ToolCatalog: []string{"custom.tool(arg) - does a thing"}}
	s := NewState("task", nil, 3)

	catalog := o.toolCatalog(s)

	if !strings.Contains(catalog, "custom.tool") {
		t.Errorf("expected orchestrator override catalog, got %q", catalog)
	}
	if strings.Contains(catalog, "filesystem.read_file") {
		t.Errorf("did not expect built-in default alongside an override, got %q", catalog)
	}
}

func TestToolCatalogPlanHintBeatsOrchestratorOverride(t *testing.T) {
	o := &Orchestrator{ToolCatalog: []string{"custom.tool(arg) - does a thing"}}
	s := NewState("task", nil, 3)
	s.PlanHint = ResearchAndImplementHint

	catalog := o.toolCatalog(s)

	if !strings.Contains(catalog, "browser.fetch_documentation") {
		t.Errorf("expected PlanHint catalog to win, got %q", catalog)
	}
	if strings.Contains(catalog, "custom.tool") {
		t.Errorf("did not expect orchestrator override once a PlanHint is set, got %q", catalog)
	}
}

func TestToolCatalogPlanHintWithEmptyListFallsThrough(t *testing.T) {
	o := &Orchestrator{ToolCatalog: []string{"custom.tool(arg) - does a thing"}}
	s := NewState("task", nil, 3)
	s.PlanHint = &PlanHint{Name: "empty"}

	catalog := o.toolCatalog(s)

	if !strings.Contains(catalog, "custom.tool") {
		t.Errorf("expected orchestrator override when PlanHint has no catalog, got %q", catalog)
	}
}

func TestBuildInitialPlanPromptIncludesTaskAndCatalog(t *testing.T) {
	o := &Orchestrator{}
	s := NewState("fix the bug", map[string]any{"branch": "main"}, 3)

	prompt := o.buildInitialPlanPrompt(s)

	if !strings.Contains(prompt, "fix the bug") {
		t.Error("expected task description in prompt")
	}
	if !strings.Contains(prompt, "filesystem.read_file") {
		t.Error("expected tool catalog in prompt")
	}
	if !strings.Contains(prompt, "main") {
		t.Error("expected task context in prompt")
	}
}

func TestBuildRetryPlanPromptIncludesPreviousErrors(t *testing.T) {
	o := &Orchestrator{}
	s := NewState("fix the bug", nil, 3)
	s.RetryContext = &RetryContext{RootCause: "wrong file", Suggestions: []string{"use absolute path"}}
	s.Errors = []ErrorRecord{{StepID: 0, ErrorType: "ToolExecutionError", Message: "no such file"}}

	prompt := o.buildRetryPlanPrompt(s)

	if !strings.Contains(prompt, "wrong file") {
		t.Error("expected retry context root cause in prompt")
	}
	if !strings.Contains(prompt, "no such file") {
		t.Error("expected previous error message in prompt")
	}
}

func TestBuildSummaryPromptReflectsVerificationStatus(t *testing.T) {
	o := &Orchestrator{}

	passed := NewState("task", nil, 3)
	passed.VerificationPassed = true
	if !strings.Contains(o.buildSummaryPrompt(passed), "STATUS: succeeded") {
		t.Error("expected succeeded status in summary prompt")
	}

	failed := NewState("task", nil, 3)
	failed.VerificationPassed = false
	if !strings.Contains(o.buildSummaryPrompt(failed), "STATUS: failed") {
		t.Error("expected failed status in summary prompt")
	}
}

func TestBuildErrorAnalysisPromptIncludesRetryCounters(t *testing.T) {
	o := &Orchestrator{}
	s := NewState("task", nil, 3)
	s.RetryCount = 1

	prompt := o.buildErrorAnalysisPrompt(s)

	if !strings.Contains(prompt, "retry attempt 2 of 3") {
		t.Errorf("expected retry counters in prompt, got %q", prompt)
	}
}

func TestWorkflowHintsHaveMatchingPhasesAndCatalogs(t *testing.T) {
	for _, hint := range []*PlanHint{ResearchAndImplementHint, DebugAndFixHint, TestAndCommitHint} {
		if hint.Name == "" {
			t.Error("expected a non-empty hint name")
		}
		if len(hint.Phases) == 0 {
			t.Errorf("expected %s to name its phases", hint.Name)
		}
		if len(hint.ToolCatalog) == 0 {
			t.Errorf("expected %s to narrow the tool catalog", hint.Name)
		}
	}
}
