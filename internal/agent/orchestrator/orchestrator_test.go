package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/agent/confirmation"
	"github.com/haasonsaas/nexus/internal/agent/toolexec"
)

// scriptedProvider answers with a fixed response per system prompt, letting
// a test drive the plan/execute/verify/retry/summarize loop deterministically.
type scriptedProvider struct {
	responses map[string]string
}

func (p *scriptedProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	ch := make(chan *agent.CompletionChunk, 2)
	ch <- &agent.CompletionChunk{Text: p.responses[req.System]}
	ch <- &agent.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) Name() string          { return "scripted" }
func (p *scriptedProvider) Models() []agent.Model { return nil }
func (p *scriptedProvider) SupportsTools() bool   { return false }

type fakeToolCaller struct {
	handler func(ctx context.Context, name string, args map[string]any) (string, bool, error)
}

func (f *fakeToolCaller) CallTool(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	return f.handler(ctx, name, args)
}

func newTestExecutor(caller toolexec.ToolCaller) *toolexec.Executor {
	return toolexec.NewExecutor(caller, nil, toolexec.Config{MaxRetries: 1, DefaultTimeout: time.Second})
}

func TestRunHappyPathCompletes(t *testing.T) {
	provider := &scriptedProvider{responses: map[string]string{
		planningSystemPrompt:     `{"steps": [{"id": 1, "tool": "filesystem.read_file", "arguments": {"path": "a.txt"}}], "reasoning": "read the file"}`,
		verificationSystemPrompt: `{"passed": true, "message": "done", "issues": []}`,
		summarySystemPrompt:      "Task completed successfully.",
	}}
	caller := &fakeToolCaller{handler: func(ctx context.Context, name string, args map[string]any) (string, bool, error) {
		return "file contents", false, nil
	}}

	o := New(provider, newTestExecutor(caller), nil, nil, DefaultConfig())

	state, err := o.Run(context.Background(), "read a.txt", nil)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Status != StatusComplete {
		t.Errorf("expected complete status, got %s", state.Status)
	}
	if len(state.ToolCalls) != 1 {
		t.Errorf("expected 1 tool call, got %d", len(state.ToolCalls))
	}
	if state.FinalResult != "Task completed successfully." {
		t.Errorf("unexpected final result: %q", state.FinalResult)
	}
}

func TestRunRetriesOnFailedVerificationThenSucceeds(t *testing.T) {
	planCalls := 0
	provider := &scriptedProviderFunc{fn: func(system string) string {
		switch system {
		case planningSystemPrompt:
			planCalls++
			return `{"steps": [{"id": 1, "tool": "filesystem.write_file", "arguments": {"path": "a.txt"}}]}`
		case verificationSystemPrompt:
			if planCalls < 2 {
				return `{"passed": false, "message": "not yet", "issues": ["missing output"]}`
			}
			return `{"passed": true, "message": "done now"}`
		case retrySystemPrompt:
			return `{"root_cause": "wrote wrong file", "suggestions": ["retry with right args"]}`
		case summarySystemPrompt:
			return "Completed after retry."
		}
		return "{}"
	}}
	caller := &fakeToolCaller{handler: func(ctx context.Context, name string, args map[string]any) (string, bool, error) {
		return "ok", false, nil
	}}

	o := New(provider, newTestExecutor(caller), nil, nil, DefaultConfig())
	state, err := o.Run(context.Background(), "write a.txt", nil)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Status != StatusComplete {
		t.Errorf("expected eventual completion, got %s", state.Status)
	}
	if state.RetryCount != 1 {
		t.Errorf("expected 1 retry, got %d", state.RetryCount)
	}
}

func TestRunFailsAfterExhaustingRetries(t *testing.T) {
	provider := &scriptedProviderFunc{fn: func(system string) string {
		switch system {
		case planningSystemPrompt:
			return `{"steps": [{"id": 1, "tool": "filesystem.write_file", "arguments": {}}]}`
		case verificationSystemPrompt:
			return `{"passed": false, "message": "still broken"}`
		case retrySystemPrompt:
			return `{"root_cause": "unknown"}`
		case summarySystemPrompt:
			return "Could not complete the task."
		}
		return "{}"
	}}
	caller := &fakeToolCaller{handler: func(ctx context.Context, name string, args map[string]any) (string, bool, error) {
		return "ok", false, nil
	}}

	cfg := DefaultConfig()
	cfg.MaxRetries = 1
	o := New(provider, newTestExecutor(caller), nil, nil, cfg)
	state, err := o.Run(context.Background(), "do something", nil)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Status != StatusFailed {
		t.Errorf("expected failed status once retries are exhausted, got %s", state.Status)
	}
	if state.RetryCount != cfg.MaxRetries {
		t.Errorf("expected retry count to cap at %d, got %d", cfg.MaxRetries, state.RetryCount)
	}
}

func TestRunPausesForConfirmationThenResumesOnApproval(t *testing.T) {
	provider := &scriptedProvider{responses: map[string]string{
		planningSystemPrompt:     `{"steps": [{"id": 1, "tool": "filesystem.write_file", "arguments": {"path": "a.txt"}}]}`,
		verificationSystemPrompt: `{"passed": true, "message": "done"}`,
		summarySystemPrompt:      "Completed with approval.",
	}}
	caller := &fakeToolCaller{handler: func(ctx context.Context, name string, args map[string]any) (string, bool, error) {
		return "ok", false, nil
	}}
	assessor := confirmation.NewAssessor(confirmation.DefaultPolicy())
	confirmManager := confirmation.NewManager(confirmation.DefaultPolicy(), func(ctx context.Context, req *confirmation.Request, timeout time.Duration) (string, error) {
		return "yes", nil
	})

	o := New(provider, newTestExecutor(caller), confirmManager, assessor, DefaultConfig())
	state, err := o.Run(context.Background(), "write a.txt", nil)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Status != StatusComplete {
		t.Errorf("expected completion after approval, got %s", state.Status)
	}
	if len(state.ToolCalls) != 1 {
		t.Errorf("expected the approved step to have executed, got %d tool calls", len(state.ToolCalls))
	}
}

func TestRunStopsWhenConfirmationDenied(t *testing.T) {
	provider := &scriptedProvider{responses: map[string]string{
		planningSystemPrompt: `{"steps": [{"id": 1, "tool": "filesystem.write_file", "arguments": {"path": "a.txt"}}]}`,
		summarySystemPrompt:  "Aborted: user denied the action.",
	}}
	caller := &fakeToolCaller{handler: func(ctx context.Context, name string, args map[string]any) (string, bool, error) {
		t.Fatal("tool should never execute when confirmation is denied")
		return "", false, nil
	}}
	assessor := confirmation.NewAssessor(confirmation.DefaultPolicy())
	confirmManager := confirmation.NewManager(confirmation.DefaultPolicy(), func(ctx context.Context, req *confirmation.Request, timeout time.Duration) (string, error) {
		return "no", nil
	})

	o := New(provider, newTestExecutor(caller), confirmManager, assessor, DefaultConfig())
	state, err := o.Run(context.Background(), "write a.txt", nil)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Status != StatusFailed {
		t.Errorf("expected failed status when confirmation is denied, got %s", state.Status)
	}
	if len(state.ToolCalls) != 0 {
		t.Errorf("expected no tool calls when confirmation is denied, got %d", len(state.ToolCalls))
	}
}

func TestRunRespectsContextCancellation(t *testing.T) {
	provider := &scriptedProvider{responses: map[string]string{}}
	caller := &fakeToolCaller{handler: func(ctx context.Context, name string, args map[string]any) (string, bool, error) {
		return "", false, nil
	}}
	o := New(provider, newTestExecutor(caller), nil, nil, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state, err := o.Run(ctx, "anything", nil)
	if err == nil {
		t.Fatal("expected context cancellation to be surfaced as an error")
	}
	if state.Status != StatusFailed {
		t.Errorf("expected failed status on cancellation, got %s", state.Status)
	}
}

// scriptedProviderFunc lets a test vary its answer across calls (e.g. the
// verification prompt failing once before passing).
type scriptedProviderFunc struct {
	fn func(system string) string
}

func (p *scriptedProviderFunc) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	ch := make(chan *agent.CompletionChunk, 2)
	ch <- &agent.CompletionChunk{Text: p.fn(req.System)}
	ch <- &agent.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func (p *scriptedProviderFunc) Name() string          { return "scripted-func" }
func (p *scriptedProviderFunc) Models() []agent.Model { return nil }
func (p *scriptedProviderFunc) SupportsTools() bool   { return false }
