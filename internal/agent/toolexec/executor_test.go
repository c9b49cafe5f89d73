package toolexec

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

type fakeCaller struct {
	calls   int32
	handler func(calls int32, name string, args map[string]any) (string, bool, error)
}

func (f *fakeCaller) CallTool(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	n := atomic.AddInt32(&f.calls, 1)
	return f.handler(n, name, args)
}

func TestExecuteSucceedsFirstTry(t *testing.T) {
	caller := &fakeCaller{handler: func(calls int32, name string, args map[string]any) (string, bool, error) {
		return "ok", false, nil
	}}
	exec := NewExecutor(caller, nil, DefaultConfig())

	result := exec.Execute(context.Background(), "filesystem.read_file", map[string]any{"path": "a.txt"}, 0)

	if !result.Success {
		t.Fatalf("expected success, got error %v", result.Error)
	}
	if result.Result != "ok" {
		t.Errorf("expected result %q, got %q", "ok", result.Result)
	}
	if result.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", result.Attempts)
	}
}

func TestExecuteRetriesTransientThenSucceeds(t *testing.T) {
	caller := &fakeCaller{handler: func(calls int32, name string, args map[string]any) (string, bool, error) {
		if calls < 2 {
			return "", true, fmt.Errorf("connection refused")
		}
		return "recovered", false, nil
	}}
	cfg := Config{MaxRetries: 3, DefaultTimeout: time.Second}
	exec := NewExecutor(caller, nil, cfg)

	result := exec.Execute(context.Background(), "browser.scrape_page", map[string]any{"url": "x"}, 0)

	if !result.Success {
		t.Fatalf("expected eventual success, got error %v", result.Error)
	}
	if result.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", result.Attempts)
	}
	if len(result.History) != 1 {
		t.Errorf("expected 1 failed attempt recorded, got %d", len(result.History))
	}
}

func TestExecuteStopsOnFatalError(t *testing.T) {
	caller := &fakeCaller{handler: func(calls int32, name string, args map[string]any) (string, bool, error) {
		return "", true, fmt.Errorf("permission denied")
	}}
	exec := NewExecutor(caller, nil, DefaultConfig())

	result := exec.Execute(context.Background(), "terminal.execute_command", nil, 0)

	if result.Success {
		t.Fatal("expected failure for a fatal error")
	}
	if result.Attempts != 1 {
		t.Errorf("expected to stop after 1 attempt on a fatal error, got %d", result.Attempts)
	}
}

func TestExecuteExhaustsRetryBudget(t *testing.T) {
	caller := &fakeCaller{handler: func(calls int32, name string, args map[string]any) (string, bool, error) {
		return "", true, fmt.Errorf("some unclassified failure")
	}}
	cfg := Config{MaxRetries: 2, DefaultTimeout: time.Second}
	exec := NewExecutor(caller, nil, cfg)

	result := exec.Execute(context.Background(), "tool", nil, 0)

	if result.Success {
		t.Fatal("expected failure once retry budget is exhausted")
	}
	if result.Attempts != cfg.MaxRetries+1 {
		t.Errorf("expected %d attempts, got %d", cfg.MaxRetries+1, result.Attempts)
	}
}

func TestExecuteTimesOut(t *testing.T) {
	caller := &fakeCaller{handler: func(calls int32, name string, args map[string]any) (string, bool, error) {
		time.Sleep(50 * time.Millisecond)
		return "too slow", false, nil
	}}
	exec := NewExecutor(caller, nil, Config{MaxRetries: 0, DefaultTimeout: 5 * time.Millisecond})

	result := exec.Execute(context.Background(), "tool", nil, 0)

	if result.Success {
		t.Fatal("expected timeout to be treated as failure")
	}
}

func TestExecutePanicIsRecovered(t *testing.T) {
	caller := &fakeCaller{handler: func(calls int32, name string, args map[string]any) (string, bool, error) {
		panic("boom")
	}}
	exec := NewExecutor(caller, nil, Config{MaxRetries: 0, DefaultTimeout: time.Second})

	result := exec.Execute(context.Background(), "tool", nil, 0)

	if result.Success {
		t.Fatal("expected a panicking tool call to surface as a failure, not crash the test")
	}
}

type fakeRepairer struct {
	result *RepairResult
	err    error
}

func (f *fakeRepairer) Repair(ctx context.Context, tool string, args map[string]any, errMsg string) (*RepairResult, error) {
	return f.result, f.err
}

func TestExecuteUsesRepairerForUnknownCategory(t *testing.T) {
	caller := &fakeCaller{handler: func(calls int32, name string, args map[string]any) (string, bool, error) {
		if calls == 1 {
			return "", true, fmt.Errorf("totally unclassified weirdness")
		}
		if args["fixed"] == true {
			return "repaired", false, nil
		}
		return "", true, fmt.Errorf("still broken")
	}}
	repairer := &fakeRepairer{result: &RepairResult{CanFix: true, NewArguments: map[string]any{"fixed": true}}}
	exec := NewExecutor(caller, repairer, Config{MaxRetries: 3, DefaultTimeout: time.Second})

	result := exec.Execute(context.Background(), "tool", map[string]any{}, 0)

	if !result.Success {
		t.Fatalf("expected repaired arguments to lead to success, got %v", result.Error)
	}
	if result.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", result.Attempts)
	}
}

func TestExecutePlanStopsOnError(t *testing.T) {
	caller := &fakeCaller{handler: func(calls int32, name string, args map[string]any) (string, bool, error) {
		if name == "second" {
			return "", true, fmt.Errorf("permission denied")
		}
		return "ok", false, nil
	}}
	exec := NewExecutor(caller, nil, DefaultConfig())

	steps := []Step{{Tool: "first"}, {Tool: "second"}, {Tool: "third"}}
	results := exec.ExecutePlan(context.Background(), steps, true)

	if len(results) != 2 {
		t.Fatalf("expected execution to stop after the failing step, got %d results", len(results))
	}
	if results[1].Success {
		t.Error("expected second step to be the failing one")
	}
}

func TestExecutePlanContinuesWithoutStopOnError(t *testing.T) {
	caller := &fakeCaller{handler: func(calls int32, name string, args map[string]any) (string, bool, error) {
		if name == "second" {
			return "", true, fmt.Errorf("permission denied")
		}
		return "ok", false, nil
	}}
	exec := NewExecutor(caller, nil, DefaultConfig())

	steps := []Step{{Tool: "first"}, {Tool: "second"}, {Tool: "third"}}
	results := exec.ExecutePlan(context.Background(), steps, false)

	if len(results) != 3 {
		t.Fatalf("expected all 3 steps to run, got %d", len(results))
	}
}

func TestExecuteParallelPreservesOrder(t *testing.T) {
	caller := &fakeCaller{handler: func(calls int32, name string, args map[string]any) (string, bool, error) {
		return name, false, nil
	}}
	exec := NewExecutor(caller, nil, DefaultConfig())

	steps := []Step{{Tool: "a"}, {Tool: "b"}, {Tool: "c"}}
	results := exec.ExecuteParallel(context.Background(), steps)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, expected := range []string{"a", "b", "c"} {
		if results[i].Result != expected {
			t.Errorf("index %d: expected result %q, got %q", i, expected, results[i].Result)
		}
	}
}
