package confirmation

import (
	"context"
	"testing"
	"time"
)

func TestAssessBaseTableMatchesDomainPrefixedTools(t *testing.T) {
	assessor := NewAssessor(DefaultPolicy())

	cases := []struct {
		tool     string
		expected RiskLevel
	}{
		{"filesystem.read_file", RiskSafe},
		{"filesystem.list_directory", RiskSafe},
		{"filesystem.write_file", RiskMedium},
		{"browser.quick_search", RiskMedium}, // "quick_search" has no verb match, falls to unknown default
		{"terminal.execute_command", RiskMedium},
	}

	for _, tc := range cases {
		got := assessor.Assess(tc.tool, nil)
		if got.Level != tc.expected {
			t.Errorf("Assess(%s) = %s, want %s", tc.tool, got.Level, tc.expected)
		}
	}
}

func TestAssessUnknownToolDefaultsToMedium(t *testing.T) {
	assessor := NewAssessor(DefaultPolicy())
	result := assessor.Assess("nonexistent.tool", nil)
	if result.Level != RiskMedium {
		t.Errorf("expected unknown tool to default to medium, got %s", result.Level)
	}
	if result.Reason == "" {
		t.Error("expected a non-empty reason")
	}
}

func TestAssessTerminalDangerousTokenElevatesToHigh(t *testing.T) {
	assessor := NewAssessor(DefaultPolicy())
	result := assessor.Assess("terminal.execute_command", map[string]any{"command": "sudo rm -rf /tmp/x"})
	if result.Level != RiskHigh {
		t.Errorf("expected dangerous command to elevate to high, got %s", result.Level)
	}
}

func TestAssessSafeTerminalCommandStaysAtBase(t *testing.T) {
	assessor := NewAssessor(DefaultPolicy())
	result := assessor.Assess("terminal.execute_command", map[string]any{"command": "ls -la"})
	if result.Level != RiskMedium {
		t.Errorf("expected safe command to stay at base risk, got %s", result.Level)
	}
}

func TestAssessSudoInAnyArgumentElevatesToHigh(t *testing.T) {
	assessor := NewAssessor(DefaultPolicy())
	result := assessor.Assess("filesystem.read_file", map[string]any{"path": "sudo access needed"})
	if result.Level != RiskHigh {
		t.Errorf("expected sudo-mentioning argument to elevate to high, got %s", result.Level)
	}
}

func TestAssessRequiresConfirmationAboveThreshold(t *testing.T) {
	policy := DefaultPolicy() // threshold RiskMedium
	assessor := NewAssessor(policy)

	safe := assessor.Assess("filesystem.read_file", nil)
	if safe.RequiresConfirmation {
		t.Error("expected a safe-level tool to not require confirmation")
	}

	medium := assessor.Assess("filesystem.write_file", nil)
	if !medium.RequiresConfirmation {
		t.Error("expected a medium-level tool to require confirmation at the default threshold")
	}
}

func TestAssessTrustRuleSuppressesConfirmation(t *testing.T) {
	policy := Policy{
		Threshold:  RiskMedium,
		TrustRules: []TrustRule{{ToolPrefix: "filesystem."}},
	}
	assessor := NewAssessor(policy)

	result := assessor.Assess("filesystem.write_file", nil)
	if result.RequiresConfirmation {
		t.Error("expected trust rule to suppress confirmation despite medium risk")
	}
}

func TestAssessTrustRuleScopedByArguments(t *testing.T) {
	policy := Policy{
		Threshold: RiskMedium,
		TrustRules: []TrustRule{{
			Tool:      "filesystem.write_file",
			Arguments: map[string]string{"path": "scratch.txt"},
		}},
	}
	assessor := NewAssessor(policy)

	trusted := assessor.Assess("filesystem.write_file", map[string]any{"path": "scratch.txt"})
	if trusted.RequiresConfirmation {
		t.Error("expected matching arguments to be trusted")
	}

	untrusted := assessor.Assess("filesystem.write_file", map[string]any{"path": "important.txt"})
	if !untrusted.RequiresConfirmation {
		t.Error("expected non-matching arguments to still require confirmation")
	}
}

func TestAssessAffectedResources(t *testing.T) {
	assessor := NewAssessor(DefaultPolicy())
	result := assessor.Assess("filesystem.read_file", map[string]any{"path": "a.txt", "other": 1})
	if len(result.AffectedResources) != 1 || result.AffectedResources[0] != "a.txt" {
		t.Errorf("expected affected resources [a.txt], got %v", result.AffectedResources)
	}
}

func TestParseResponseVocabulary(t *testing.T) {
	policy := DefaultPolicy()
	cases := []struct {
		raw         string
		approved    bool
		trustFuture bool
	}{
		{"y", true, false},
		{"Yes", true, false},
		{" ok ", true, false},
		{"approve", true, false},
		{"t", true, true},
		{"trust", true, true},
		{"n", false, false},
		{"no", false, false},
		{"deny", false, false},
		{"a", false, false},
		{"abort", false, false},
		{"banana", false, false},
	}

	for _, tc := range cases {
		got := parseResponse(tc.raw, policy)
		if got.Approved != tc.approved || got.TrustFuture != tc.trustFuture {
			t.Errorf("parseResponse(%q) = %+v, want approved=%v trustFuture=%v", tc.raw, got, tc.approved, tc.trustFuture)
		}
	}
}

func TestManagerRequestNoResponderTimesOutAndDenies(t *testing.T) {
	manager := NewManager(DefaultPolicy(), nil)

	decision := manager.Request(context.Background(), "req-1", "filesystem.write_file", nil, RiskAssessment{Level: RiskMedium}, time.Millisecond)

	if decision.Approved {
		t.Error("expected AutoDenyOnTimeout policy with no responder to deny")
	}
	if len(manager.History()) != 1 {
		t.Errorf("expected 1 historical entry, got %d", len(manager.History()))
	}
	if len(manager.Pending()) != 0 {
		t.Errorf("expected request removed from pending after resolution, got %d", len(manager.Pending()))
	}
}

func TestManagerRequestUsesResponder(t *testing.T) {
	responder := func(ctx context.Context, req *Request, timeout time.Duration) (string, error) {
		if req.Tool != "filesystem.write_file" {
			t.Errorf("unexpected tool in request: %s", req.Tool)
		}
		return "yes", nil
	}
	manager := NewManager(DefaultPolicy(), responder)

	decision := manager.Request(context.Background(), "req-2", "filesystem.write_file", nil, RiskAssessment{Level: RiskMedium}, time.Second)

	if !decision.Approved {
		t.Error("expected responder's 'yes' to approve")
	}
}

func TestManagerRequestResponderErrorTimesOut(t *testing.T) {
	responder := func(ctx context.Context, req *Request, timeout time.Duration) (string, error) {
		return "", context.DeadlineExceeded
	}
	manager := NewManager(Policy{Threshold: RiskMedium, AutoDenyOnTimeout: false}, responder)

	decision := manager.Request(context.Background(), "req-3", "tool", nil, RiskAssessment{}, time.Second)

	if !decision.Approved {
		t.Error("expected AutoDenyOnTimeout=false to approve on responder error")
	}
}

func TestManagerPendingWhileRequestInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	responder := func(ctx context.Context, req *Request, timeout time.Duration) (string, error) {
		close(started)
		<-release
		return "yes", nil
	}
	manager := NewManager(DefaultPolicy(), responder)

	done := make(chan Decision, 1)
	go func() {
		done <- manager.Request(context.Background(), "req-4", "tool", nil, RiskAssessment{}, time.Second)
	}()

	<-started
	if len(manager.Pending()) != 1 {
		t.Errorf("expected 1 pending request mid-flight, got %d", len(manager.Pending()))
	}
	close(release)
	<-done
}

func TestRiskLevelString(t *testing.T) {
	cases := map[RiskLevel]string{
		RiskSafe:     "safe",
		RiskLow:      "low",
		RiskMedium:   "medium",
		RiskHigh:     "high",
		RiskCritical: "critical",
	}
	for level, expected := range cases {
		if got := level.String(); got != expected {
			t.Errorf("RiskLevel(%d).String() = %s, want %s", level, got, expected)
		}
	}
}
