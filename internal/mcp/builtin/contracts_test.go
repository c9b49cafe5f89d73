package builtin

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/nexus/internal/mcp"
)

func TestAllToolsHaveUniqueNamesAndValidSchemas(t *testing.T) {
	seen := make(map[string]bool)
	for _, tool := range AllTools() {
		if tool.Name == "" {
			t.Fatalf("tool has empty name: %+v", tool)
		}
		if seen[tool.Name] {
			t.Errorf("duplicate tool name: %s", tool.Name)
		}
		seen[tool.Name] = true

		var schema map[string]any
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			t.Errorf("%s: input schema is not valid JSON: %v", tool.Name, err)
		}
		if schema["type"] != "object" {
			t.Errorf("%s: expected schema type object, got %v", tool.Name, schema["type"])
		}
	}
}

func TestFilesystemAndTerminalToolsUseDomainPrefix(t *testing.T) {
	for _, tool := range FilesystemTools() {
		if len(tool.Name) < len("filesystem.") || tool.Name[:len("filesystem.")] != "filesystem." {
			t.Errorf("filesystem tool %s missing filesystem. prefix", tool.Name)
		}
	}
	for _, tool := range TerminalTools() {
		if len(tool.Name) < len("terminal.") || tool.Name[:len("terminal.")] != "terminal." {
			t.Errorf("terminal tool %s missing terminal. prefix", tool.Name)
		}
	}
	for _, tool := range BrowserTools() {
		if len(tool.Name) < len("browser.") || tool.Name[:len("browser.")] != "browser." {
			t.Errorf("browser tool %s missing browser. prefix", tool.Name)
		}
	}
}

func TestRegisterAllWiresEveryContract(t *testing.T) {
	core := mcp.NewServerCore("test", "0.0.0", nil)
	RegisterAll(core)

	tools := core.Tools()
	if len(tools) != len(AllTools()) {
		t.Fatalf("expected %d registered tools, got %d", len(AllTools()), len(tools))
	}

	for _, tool := range tools {
		schema, ok := core.ToolSchema(tool.Name)
		if !ok {
			t.Errorf("ToolSchema missing entry for %s", tool.Name)
		}
		if len(schema) == 0 {
			t.Errorf("%s: empty schema from ToolSchema", tool.Name)
		}
	}
}
