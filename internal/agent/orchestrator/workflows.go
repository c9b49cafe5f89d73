package orchestrator

// PlanHint steers a single Run toward one of the fixed task shapes the
// original Python runtime exposed as standalone workflow classes
// (ResearchAndImplementWorkflow, DebugAndFixWorkflow, TestAndCommitWorkflow).
// Rather than three separate orchestrator implementations, a PlanHint
// narrows the tool catalog presented to the planner and names the phases
// expected for that task shape, steering the LLM-driven plan toward the
// same step sequence the originals hard-coded.
type PlanHint struct {
	Name        string
	Phases      []string
	ToolCatalog []string
}

// ResearchAndImplementHint narrows planning toward the six-phase feature
// workflow from research_and_implement.py: parse, research, plan, generate,
// apply, test.
var ResearchAndImplementHint = &PlanHint{
	Name:   "research_and_implement",
	Phases: []string{"research", "plan", "generate", "apply", "test"},
	ToolCatalog: []string{
		"filesystem.search_files(pattern, content) - Search the codebase for similar patterns",
		"filesystem.read_file(path) - Read an existing file before modifying it",
		"filesystem.write_file(path, content) - Create or overwrite a file",
		"browser.quick_search(query, source, limit) - Search the web for implementation approaches",
		"browser.fetch_documentation(library) - Fetch library documentation",
		"terminal.execute_command(command) - Run the test suite to verify the implementation",
	},
}

// DebugAndFixHint narrows planning toward the six-step debug workflow from
// debug_and_fix.py: analyze, search, research, generate, apply, verify,
// commit.
var DebugAndFixHint = &PlanHint{
	Name:   "debug_and_fix",
	Phases: []string{"analyze", "search", "research", "apply", "verify", "commit"},
	ToolCatalog: []string{
		"filesystem.read_file(path) - Read the file named in the error",
		"filesystem.search_files(pattern, content) - Find related code",
		"filesystem.grep(pattern, path) - Search file contents for a pattern",
		"browser.lookup_error(message) - Look up the error message online",
		"browser.quick_search(query, source, limit) - Search for solutions",
		"coding.apply_patch(path, patch) - Apply a fix as a unified diff",
		"filesystem.write_file(path, content) - Write the corrected file",
		"terminal.execute_command(command) - Re-run the failing test or reproduction command",
	},
}

// TestAndCommitHint narrows planning toward the automated test/commit
// workflow from test_and_commit.py: run tests, stage, commit, optionally
// push.
var TestAndCommitHint = &PlanHint{
	Name:   "test_and_commit",
	Phases: []string{"test", "stage", "commit", "push"},
	ToolCatalog: []string{
		"terminal.execute_command(command) - Run the test suite",
		"terminal.execute_command(command) - Stage changes with git add",
		"terminal.execute_command(command) - Create a commit with a descriptive message",
		"terminal.execute_command(command) - Push to the remote, if requested",
	},
}
