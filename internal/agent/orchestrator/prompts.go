package orchestrator

import "fmt"

const planningSystemPrompt = "You are an autonomous AI agent. Create a step-by-step execution plan and respond with JSON only."

const verificationSystemPrompt = "You verify whether a task was completed successfully and respond with JSON only."

const retrySystemPrompt = "You analyze a failed task execution and respond with JSON only."

const summarySystemPrompt = "You summarize autonomous task execution results for a human reader."

func (o *Orchestrator) buildInitialPlanPrompt(s *State) string {
	return fmt.Sprintf(`TASK: %s

CONTEXT:
%s

AVAILABLE TOOLS:
%s

Create a step-by-step plan. Respond with JSON:
{
    "steps": [
        {"id": 1, "tool": "tool_name", "description": "What this step does", "arguments": {"arg": "value"}, "optional": false}
    ],
    "reasoning": "Brief explanation of approach"
}`, s.Task, mustJSON(s.Context), o.toolCatalog(s))
}

func (o *Orchestrator) buildRetryPlanPrompt(s *State) string {
	return fmt.Sprintf(`You are an autonomous AI agent. Your previous attempt failed. Create a new plan.

ORIGINAL TASK: %s

PREVIOUS ATTEMPT:
%s

ERRORS ENCOUNTERED:
%s

Create an improved plan that avoids the previous errors. Respond with JSON:
{
    "steps": [
        {"id": 1, "tool": "tool_name", "description": "What this step does", "arguments": {"arg": "value"}, "optional": false}
    ],
    "reasoning": "How this plan addresses the previous failure"
}`, s.Task, mustJSON(s.RetryContext), mustJSON(s.Errors))
}

func (o *Orchestrator) buildVerificationPrompt(s *State) string {
	return fmt.Sprintf(`Verify if this task was completed successfully.

TASK: %s

EXECUTION RESULTS:
%s

ERRORS (if any):
%s

Respond with JSON:
{
    "passed": true,
    "message": "Explanation of verification result",
    "issues": []
}`, s.Task, mustJSON(s.ToolResults), mustJSON(s.Errors))
}

func (o *Orchestrator) buildErrorAnalysisPrompt(s *State) string {
	return fmt.Sprintf(`Analyze why this task execution failed and suggest improvements.

TASK: %s

PLAN THAT WAS EXECUTED:
%s

TOOL RESULTS:
%s

ERRORS:
%s

This is retry attempt %d of %d.

Respond with JSON:
{
    "root_cause": "Main reason for failure",
    "suggestions": [],
    "alternative_approach": ""
}`, s.Task, mustJSON(s.Plan), mustJSON(s.ToolResults), mustJSON(s.Errors), s.RetryCount+1, s.MaxRetries)
}

func (o *Orchestrator) buildSummaryPrompt(s *State) string {
	status := "failed"
	if s.VerificationPassed {
		status = "succeeded"
	}
	return fmt.Sprintf(`Summarize the results of this task execution.

TASK: %s
STATUS: %s

STEPS EXECUTED:
%s

VERIFICATION:
%s

Provide a concise summary for the user explaining what was done and the outcome.`, s.Task, status, mustJSON(s.ToolCalls), mustJSON(s.VerificationResult))
}

// toolCatalog renders the tool hint list included in planning prompts. A
// PlanHint attached to the state takes precedence over the orchestrator's
// own ToolCatalog override, which in turn takes precedence over the
// built-in default list.
func (o *Orchestrator) toolCatalog(s *State) string {
	catalog := o.ToolCatalog
	if s.PlanHint != nil && len(s.PlanHint.ToolCatalog) > 0 {
		catalog = s.PlanHint.ToolCatalog
	}
	if len(catalog) > 0 {
		out := ""
		for _, t := range catalog {
			out += "- " + t + "\n"
		}
		return out
	}
	return `- filesystem.read_file(path) - Read a file
- filesystem.write_file(path, content) - Write to a file
- filesystem.list_directory(path) - List directory contents
- filesystem.search_files(pattern, content) - Search files by pattern/content
- terminal.execute_command(command) - Execute a shell command
- browser.quick_search(query, source, limit) - Search the web
- browser.fetch_documentation(library) - Fetch library documentation
- browser.lookup_error(message) - Look up an error message online
- coding.apply_patch(path, patch) - Apply a unified diff patch`
}
