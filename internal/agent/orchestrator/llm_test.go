package orchestrator

import (
	"context"
	"reflect"
	"testing"

	"github.com/haasonsaas/nexus/internal/agent"
)

type fakeLLMProvider struct {
	chunks []*agent.CompletionChunk
}

func (f *fakeLLMProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	ch := make(chan *agent.CompletionChunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (f *fakeLLMProvider) Name() string          { return "fake" }
func (f *fakeLLMProvider) Models() []agent.Model { return nil }
func (f *fakeLLMProvider) SupportsTools() bool   { return false }

func TestCallLLMNilProviderReturnsEmptyObject(t *testing.T) {
	got, err := callLLM(context.Background(), nil, "model", "system", "prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "{}" {
		t.Errorf("expected {} for nil provider, got %q", got)
	}
}

func TestCallLLMCollectsStreamedText(t *testing.T) {
	provider := &fakeLLMProvider{chunks: []*agent.CompletionChunk{
		{Text: "hello "},
		{Text: "world"},
		{Done: true},
	}}

	got, err := callLLM(context.Background(), provider, "model", "system", "prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello world" {
		t.Errorf("expected %q, got %q", "hello world", got)
	}
}

func TestCallLLMStopsAtDone(t *testing.T) {
	provider := &fakeLLMProvider{chunks: []*agent.CompletionChunk{
		{Text: "before"},
		{Done: true},
		{Text: "after, should be ignored"},
	}}

	got, err := callLLM(context.Background(), provider, "model", "system", "prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "before" {
		t.Errorf("expected only text before Done, got %q", got)
	}
}

func TestCallLLMPropagatesChunkError(t *testing.T) {
	boom := &chunkError{}
	provider := &fakeLLMProvider{chunks: []*agent.CompletionChunk{{Error: boom}}}

	_, err := callLLM(context.Background(), provider, "model", "system", "prompt")
	if err != boom {
		t.Errorf("expected chunk error to propagate, got %v", err)
	}
}

type chunkError struct{}

func (e *chunkError) Error() string { return "boom" }

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain object", `{"a": 1}`, `{"a": 1}`},
		{"fenced code block", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"prose around object", `Here is the plan: {"steps": []} Hope that helps!`, `{"steps": []}`},
		{"no object at all", "no json here", "no json here"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractJSON(tc.input); got != tc.expected {
				t.Errorf("extractJSON(%q) = %q, want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestParsePlanValidJSON(t *testing.T) {
	response := `{"steps": [{"id": 1, "tool": "filesystem.read_file", "description": "read it", "arguments": {"path": "a.txt"}, "depends_on": [], "optional": false}], "reasoning": "because"}`

	steps := parsePlan(response)

	if len(steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(steps))
	}
	if steps[0].Tool != "filesystem.read_file" {
		t.Errorf("expected tool filesystem.read_file, got %s", steps[0].Tool)
	}
	if !reflect.DeepEqual(steps[0].Arguments, map[string]any{"path": "a.txt"}) {
		t.Errorf("unexpected arguments: %v", steps[0].Arguments)
	}
}

func TestParsePlanFallsBackOnInvalidJSON(t *testing.T) {
	steps := parsePlan("not valid json at all")

	if len(steps) != 1 {
		t.Fatalf("expected fallback single step, got %d", len(steps))
	}
	if steps[0].Tool != "unknown" {
		t.Errorf("expected fallback tool 'unknown', got %s", steps[0].Tool)
	}
	if steps[0].Description != "not valid json at all" {
		t.Errorf("expected raw response preserved as description, got %q", steps[0].Description)
	}
}

func TestParsePlanFallsBackOnEmptySteps(t *testing.T) {
	steps := parsePlan(`{"steps": [], "reasoning": "nothing to do"}`)
	if len(steps) != 1 || steps[0].Tool != "unknown" {
		t.Errorf("expected fallback step when steps array is empty, got %+v", steps)
	}
}

func TestParseVerificationValidJSON(t *testing.T) {
	result := parseVerification(`{"passed": true, "message": "all good", "issues": []}`)
	if !result.Passed {
		t.Error("expected passed to be true")
	}
	if result.Message != "all good" {
		t.Errorf("expected message 'all good', got %q", result.Message)
	}
}

func TestParseVerificationFallsBackToSuccessKeyword(t *testing.T) {
	passed := parseVerification("The task completed with success.")
	if !passed.Passed {
		t.Error("expected fallback to detect the word 'success'")
	}

	failed := parseVerification("The task did not complete correctly.")
	if failed.Passed {
		t.Error("expected fallback to treat text without 'success' as failed")
	}
}

func TestParseRetryContextValidJSON(t *testing.T) {
	ctx := parseRetryContext(`{"root_cause": "bad path", "suggestions": ["check cwd"], "alternative_approach": "use absolute path"}`)
	if ctx.RootCause != "bad path" {
		t.Errorf("expected root cause 'bad path', got %q", ctx.RootCause)
	}
	if len(ctx.Suggestions) != 1 || ctx.Suggestions[0] != "check cwd" {
		t.Errorf("unexpected suggestions: %v", ctx.Suggestions)
	}
}

func TestParseRetryContextFallsBackToRawResponse(t *testing.T) {
	ctx := parseRetryContext("not json")
	if ctx.RootCause != "not json" {
		t.Errorf("expected raw response as root cause, got %q", ctx.RootCause)
	}
}

func TestMustJSON(t *testing.T) {
	out := mustJSON(map[string]any{"a": 1})
	if out == "" {
		t.Error("expected non-empty JSON output")
	}
}
