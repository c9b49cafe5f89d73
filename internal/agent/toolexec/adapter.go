package toolexec

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/haasonsaas/nexus/internal/mcp"
)

// ClientCaller adapts an *mcp.Client (a single-server connection) to the
// ToolCaller interface.
type ClientCaller struct {
	Client *mcp.Client
}

// CallTool implements ToolCaller.
func (c ClientCaller) CallTool(ctx context.Context, name string, arguments map[string]any) (string, bool, error) {
	result, err := c.Client.CallTool(ctx, name, arguments)
	if err != nil {
		return "", false, err
	}
	return joinToolCallResultContent(result), result.IsError, nil
}

func joinToolCallResultContent(result *mcp.ToolCallResult) string {
	if result == nil {
		return ""
	}
	parts := make([]string, 0, len(result.Content))
	for _, c := range result.Content {
		if c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// RegistryCaller adapts an *mcp.Registry (a composed multi-server surface)
// to the ToolCaller interface. Registry handlers take a *mcp.CallContext
// rather than a context.Context, so CallContext is fixed at construction
// (typically an unauthenticated local session for in-process orchestration).
type RegistryCaller struct {
	Registry    *mcp.Registry
	CallContext *mcp.CallContext
}

// CallTool implements ToolCaller. ctx is accepted for interface
// conformance but registry handlers are synchronous and do not currently
// accept a context.Context of their own.
func (r RegistryCaller) CallTool(ctx context.Context, name string, arguments map[string]any) (string, bool, error) {
	argsJSON, err := json.Marshal(arguments)
	if err != nil {
		return "", false, err
	}
	callCtx := r.CallContext
	if callCtx == nil {
		callCtx = &mcp.CallContext{}
	}
	result := r.Registry.CallTool(callCtx, name, argsJSON)
	if result == nil {
		return "", true, nil
	}
	return joinToolResultContent(result), result.IsError, nil
}

func joinToolResultContent(result *mcp.ToolResult) string {
	if result == nil {
		return ""
	}
	parts := make([]string, 0, len(result.Content))
	for _, c := range result.Content {
		if c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}
