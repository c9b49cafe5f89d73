// Package builtin specifies the tool contracts for the filesystem, terminal,
// and browser domains without implementing their bodies. Domain-specific
// tool implementations are explicitly out of scope (spec.md's Non-goals);
// this package exists so the registry has something concrete to list and
// the confirmation package's risk assessor has something concrete to
// classify, grounded on original_source/domains/base/{filesystem,terminal,
// browser}/server.py's register_tool calls and ToolDefinition list.
//
// Names follow the filesystem./terminal./browser. prefix convention already
// assumed throughout internal/agent/orchestrator and internal/agent/
// confirmation (the Python originals registered filesystem and terminal
// tools under bare names like read_file and run_command, and only browser's
// were pre-prefixed; Tools here renames run_command to
// terminal.execute_command to match the name already baked into every
// planning prompt and risk-table reference built against this system).
package builtin

import (
	"encoding/json"

	"github.com/haasonsaas/nexus/internal/mcp"
)

func schema(raw string) json.RawMessage {
	return json.RawMessage(raw)
}

// FilesystemTools returns the filesystem domain's tool contracts, grounded
// on domains/base/filesystem/server.py's three register_tool calls.
func FilesystemTools() []mcp.MCPTool {
	return []mcp.MCPTool{
		{
			Name:        "filesystem.read_file",
			Description: "Read contents of a file",
			InputSchema: schema(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "Path to file relative to root"}
				},
				"required": ["path"]
			}`),
		},
		{
			Name:        "filesystem.write_file",
			Description: "Write contents to a file",
			InputSchema: schema(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "File path"},
					"content": {"type": "string", "description": "File content"},
					"mode": {"type": "string", "enum": ["w", "a"], "description": "Write mode (w=overwrite, a=append)"}
				},
				"required": ["path", "content"]
			}`),
		},
		{
			Name:        "filesystem.list_directory",
			Description: "List files in a directory",
			InputSchema: schema(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "Directory path"}
				},
				"required": ["path"]
			}`),
		},
	}
}

// TerminalTools returns the terminal domain's tool contracts, grounded on
// domains/base/terminal/server.py's run_command registration.
func TerminalTools() []mcp.MCPTool {
	return []mcp.MCPTool{
		{
			Name:        "terminal.execute_command",
			Description: "Execute a shell command",
			InputSchema: schema(`{
				"type": "object",
				"properties": {
					"command": {"type": "string", "description": "Command to execute"},
					"cwd": {"type": "string", "description": "Working directory"}
				},
				"required": ["command"]
			}`),
		},
	}
}

// BrowserTools returns the browser domain's tool contracts, grounded on
// domains/base/browser/server.py's BrowserMCPServer.tools property.
func BrowserTools() []mcp.MCPTool {
	return []mcp.MCPTool{
		{
			Name:        "browser.quick_search",
			Description: "Search for programming help on StackOverflow, GitHub, or documentation sites",
			InputSchema: schema(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "description": "Search query"},
					"source": {"type": "string", "enum": ["stackoverflow", "github", "docs", "all"], "description": "Source to search", "default": "all"},
					"limit": {"type": "integer", "description": "Max results to return", "default": 5}
				},
				"required": ["query"]
			}`),
		},
		{
			Name:        "browser.scrape_page",
			Description: "Scrape and extract content from a web page",
			InputSchema: schema(`{
				"type": "object",
				"properties": {
					"url": {"type": "string", "description": "URL to scrape"},
					"extract_code": {"type": "boolean", "description": "Extract code blocks separately", "default": true}
				},
				"required": ["url"]
			}`),
		},
		{
			Name:        "browser.fetch_documentation",
			Description: "Fetch documentation for a library or API",
			InputSchema: schema(`{
				"type": "object",
				"properties": {
					"library": {"type": "string", "description": "Library name (e.g., 'python:asyncio', 'npm:express')"},
					"topic": {"type": "string", "description": "Specific topic or function to look up"}
				},
				"required": ["library"]
			}`),
		},
		{
			Name:        "browser.lookup_error",
			Description: "Look up an error message for solutions",
			InputSchema: schema(`{
				"type": "object",
				"properties": {
					"error": {"type": "string", "description": "Error message to look up"},
					"language": {"type": "string", "description": "Programming language", "default": "python"}
				},
				"required": ["error"]
			}`),
		},
	}
}

// AllTools returns every builtin tool contract across all three domains.
func AllTools() []mcp.MCPTool {
	all := make([]mcp.MCPTool, 0, 8)
	all = append(all, FilesystemTools()...)
	all = append(all, TerminalTools()...)
	all = append(all, BrowserTools()...)
	return all
}

// unimplementedHandler is the ToolHandler every builtin contract is
// registered with: it returns a clear error rather than silently
// succeeding, since these tools have contracts but no bodies.
func unimplementedHandler(name string) mcp.ToolHandler {
	return func(ctx *mcp.CallContext, arguments json.RawMessage) (*mcp.ToolResult, error) {
		return mcp.ErrorResult("tool " + name + " has a registered contract but no implementation in this build"), nil
	}
}

// RegisterAll registers every builtin tool contract onto core with a
// handler that reports the tool as contract-only. Callers that provide a
// real domain implementation should call core.RegisterTool themselves
// instead of (or in addition to, before) calling RegisterAll.
func RegisterAll(core *mcp.ServerCore) {
	for _, tool := range AllTools() {
		core.RegisterTool(tool, unimplementedHandler(tool.Name))
	}
}
