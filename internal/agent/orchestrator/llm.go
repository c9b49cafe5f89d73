package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/haasonsaas/nexus/internal/agent"
)

// callLLM sends prompt as a single user message and collects the streamed
// text response, mirroring llmSummaryProvider.Summarize's channel-draining
// shape in internal/agent/runtime.go.
func callLLM(ctx context.Context, provider agent.LLMProvider, model, system, prompt string) (string, error) {
	if provider == nil {
		return "{}", nil
	}

	req := &agent.CompletionRequest{
		Model:     model,
		System:    system,
		Messages:  []agent.CompletionMessage{{Role: "user", Content: prompt}},
		MaxTokens: 2048,
	}

	ch, err := provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for chunk := range ch {
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			return "", chunk.Error
		}
		if chunk.Done {
			break
		}
		if chunk.Text != "" {
			b.WriteString(chunk.Text)
		}
	}
	return strings.TrimSpace(b.String()), nil
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// extractJSON pulls the first top-level-looking JSON object out of an LLM
// response, tolerating surrounding prose or markdown fences.
func extractJSON(response string) string {
	trimmed := strings.TrimSpace(response)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	if m := jsonObjectPattern.FindString(trimmed); m != "" {
		return m
	}
	return strings.TrimSpace(trimmed)
}

type planStepJSON struct {
	ID          int            `json:"id"`
	Tool        string         `json:"tool"`
	Description string         `json:"description"`
	Arguments   map[string]any `json:"arguments"`
	DependsOn   []int          `json:"depends_on"`
	Optional    bool           `json:"optional"`
}

type planResponseJSON struct {
	Steps     []planStepJSON `json:"steps"`
	Reasoning string         `json:"reasoning"`
}

// parsePlan mirrors AgentOrchestrator._parse_plan: parse the steps array,
// falling back to a single unknown-tool step carrying the raw response if
// parsing fails.
func parsePlan(response string) []Step {
	var parsed planResponseJSON
	if err := json.Unmarshal([]byte(extractJSON(response)), &parsed); err != nil || len(parsed.Steps) == 0 {
		return []Step{{ID: 1, Tool: "unknown", Description: response}}
	}
	steps := make([]Step, 0, len(parsed.Steps))
	for _, s := range parsed.Steps {
		steps = append(steps, Step{
			ID:          s.ID,
			Tool:        s.Tool,
			Description: s.Description,
			Arguments:   s.Arguments,
			DependsOn:   s.DependsOn,
			Optional:    s.Optional,
		})
	}
	return steps
}

type verificationResponseJSON struct {
	Passed  bool     `json:"passed"`
	Message string   `json:"message"`
	Issues  []string `json:"issues"`
}

// parseVerification mirrors _verify_result's fallback: if the response
// isn't valid JSON, treat the presence of "success" in the text as a pass.
func parseVerification(response string) VerificationResult {
	var parsed verificationResponseJSON
	if err := json.Unmarshal([]byte(extractJSON(response)), &parsed); err != nil {
		return VerificationResult{
			Passed:  strings.Contains(strings.ToLower(response), "success"),
			Message: response,
		}
	}
	return VerificationResult{Passed: parsed.Passed, Message: parsed.Message, Issues: parsed.Issues}
}

type retryAnalysisJSON struct {
	RootCause          string   `json:"root_cause"`
	Suggestions        []string `json:"suggestions"`
	AlternativeApproach string  `json:"alternative_approach"`
}

func parseRetryContext(response string) *RetryContext {
	var parsed retryAnalysisJSON
	if err := json.Unmarshal([]byte(extractJSON(response)), &parsed); err != nil {
		return &RetryContext{RootCause: response}
	}
	return &RetryContext{
		RootCause:           parsed.RootCause,
		Suggestions:         parsed.Suggestions,
		AlternativeApproach: parsed.AlternativeApproach,
	}
}

func mustJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
