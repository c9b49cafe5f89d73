package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Registry implements C9: composes N ServerCores behind a single surface,
// routing tools/resources/prompts by prefix. Grounded on spec.md §4.9 and
// §9's two-level routing-table design note (map<server,ServerCore> plus
// map<toolName,serverRef>, O(1) lookup after the prefix split).
type Registry struct {
	mu             sync.RWMutex
	servers        map[string]*ServerCore
	toolRoutes     map[string]string // bare tool name -> server name (last-writer-wins)
	resourceRoutes map[string]string // uri prefix -> server name
	promptRoutes   map[string]string // bare prompt name -> server name

	name, version string
	sessions       sync.Map // clientID -> *Session, scoped to this registry
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		servers:        make(map[string]*ServerCore),
		toolRoutes:     make(map[string]string),
		resourceRoutes: make(map[string]string),
		promptRoutes:   make(map[string]string),
		name:           "mcp-registry",
		version:        "1.0.0",
	}
}

// RegisterServer composes server under prefix. Each tool becomes
// addressable both as "prefix.tool" (always unambiguous) and bare "tool"
// (last-writer-wins across servers, per the Open Question decision in
// DESIGN.md). Resource URIs are added to the route table verbatim for
// longest-prefix matching in ReadResource.
func (r *Registry) RegisterServer(prefix string, server *ServerCore) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.servers[prefix] = server

	for _, tool := range server.Tools() {
		r.toolRoutes[tool.Name] = prefix
	}
	for _, res := range server.Resources() {
		r.resourceRoutes[res.URI] = prefix
	}
	for _, p := range server.Prompts() {
		r.promptRoutes[p.Name] = prefix
	}
}

// UnregisterServer removes a sub-server and every route pointing at it.
func (r *Registry) UnregisterServer(prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.servers, prefix)
	for name, target := range r.toolRoutes {
		if target == prefix {
			delete(r.toolRoutes, name)
		}
	}
	for uri, target := range r.resourceRoutes {
		if target == prefix {
			delete(r.resourceRoutes, uri)
		}
	}
	for name, target := range r.promptRoutes {
		if target == prefix {
			delete(r.promptRoutes, name)
		}
	}
}

// resolveTool splits "server.tool" on the first '.', or falls back to the
// bare-name route table.
func (r *Registry) resolveTool(name string) (server *ServerCore, bareName string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if idx := strings.Index(name, "."); idx >= 0 {
		prefix, bare := name[:idx], name[idx+1:]
		if s, found := r.servers[prefix]; found {
			return s, bare, true
		}
	}

	if prefix, found := r.toolRoutes[name]; found {
		if s, found := r.servers[prefix]; found {
			return s, name, true
		}
	}
	return nil, "", false
}

// CallTool implements §4.9's callTool: split-on-first-dot routing, falling
// back to the bare-name table, else isError=true "Tool not found".
func (r *Registry) CallTool(ctx *CallContext, name string, arguments json.RawMessage) *ToolResult {
	server, bareName, ok := r.resolveTool(name)
	if !ok {
		return ErrorResult("Tool not found")
	}
	entry, found := server.lookupTool(bareName)
	if !found {
		return ErrorResult("Tool not found")
	}
	result, err := entry.Handler(ctx, arguments)
	if err != nil {
		return ErrorResult(err.Error())
	}
	return result
}

// ReadResource implements §4.9's readResource: longest-prefix match against
// resourceRoutes, else resource-not-found.
func (r *Registry) ReadResource(ctx *CallContext, uri string) ([]*ResourceContent, *JSONRPCError) {
	r.mu.RLock()
	var bestPrefix, bestServer string
	bestLen := -1
	for prefix, serverName := range r.resourceRoutes {
		if len(prefix) > bestLen && strings.HasPrefix(uri, prefix) {
			bestPrefix, bestServer, bestLen = prefix, serverName, len(prefix)
		}
	}
	server, found := r.servers[bestServer]
	r.mu.RUnlock()

	if bestLen < 0 || !found {
		return nil, &JSONRPCError{Code: ErrCodeResourceNotFound, Message: fmt.Sprintf("resource not found: %s", uri)}
	}

	entry, ok := server.lookupResource(uri)
	if !ok {
		entry, ok = server.lookupResource(bestPrefix)
		if !ok {
			return nil, &JSONRPCError{Code: ErrCodeResourceNotFound, Message: fmt.Sprintf("resource not found: %s", uri)}
		}
	}
	contents, err := entry.Handler(ctx, uri)
	if err != nil {
		return nil, &JSONRPCError{Code: ErrCodeInternalError, Message: err.Error()}
	}
	return contents, nil
}

// ListTools returns the union of every sub-server's tools, each labeled
// with its unambiguous "prefix.tool" name alongside the bare entry.
func (r *Registry) ListTools() []MCPTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MCPTool, 0)
	for prefix, server := range r.servers {
		for _, t := range server.Tools() {
			qualified := t
			qualified.Name = prefix + "." + t.Name
			out = append(out, qualified)
		}
	}
	return out
}

// ListResources returns the union of every sub-server's resources.
func (r *Registry) ListResources() []MCPResource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MCPResource, 0)
	for _, server := range r.servers {
		out = append(out, server.Resources()...)
	}
	return out
}

// ListPrompts returns the union of every sub-server's prompts.
func (r *Registry) ListPrompts() []MCPPrompt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MCPPrompt, 0)
	for _, server := range r.servers {
		out = append(out, server.Prompts()...)
	}
	return out
}

// Stats exposes counts of composed servers/tools/resources/prompts.
type Stats struct {
	Servers   int `json:"servers"`
	Tools     int `json:"tools"`
	Resources int `json:"resources"`
	Prompts   int `json:"prompts"`
}

// Stats returns the current composition counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := Stats{Servers: len(r.servers)}
	for _, s := range r.servers {
		stats.Tools += len(s.Tools())
		stats.Resources += len(s.Resources())
		stats.Prompts += len(s.Prompts())
	}
	return stats
}

// Initialize builds an aggregated InitializeResult: the union of every
// sub-server's capabilities, and a composite serverInfo.
func (r *Registry) Initialize(name, version string) InitializeResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps := Capabilities{}
	if len(r.toolRoutes) > 0 {
		caps.Tools = &ToolsCapability{ListChanged: true}
	}
	if len(r.resourceRoutes) > 0 {
		caps.Resources = &ResourcesCapability{Subscribe: true, ListChanged: true}
	}
	if len(r.promptRoutes) > 0 {
		caps.Prompts = &PromptsCapability{ListChanged: true}
	}

	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    caps,
		ServerInfo:      ServerInfo{Name: name, Version: version},
	}
}

// SetIdentity overrides the composite serverInfo name/version reported by
// Dispatch's "initialize" handling.
func (r *Registry) SetIdentity(name, version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.name, r.version = name, version
}

func (r *Registry) session(clientID string) *Session {
	if v, ok := r.sessions.Load(clientID); ok {
		return v.(*Session)
	}
	sess := NewSession(clientID)
	actual, _ := r.sessions.LoadOrStore(clientID, sess)
	return actual.(*Session)
}

// Dispatch implements the Dispatcher interface HardenedServer requires,
// letting a HardenedServer sit atop a composed Registry exactly as it
// would atop a single ServerCore. Lifecycle methods and logging/setLevel
// are handled here directly; tools/resources/prompts delegate to the
// routing tables.
func (r *Registry) Dispatch(_ context.Context, clientID string, req *JSONRPCRequest, auth *AuthContext) (json.RawMessage, *JSONRPCError) {
	sess := r.session(clientID)

	if req.Method != "initialize" && req.Method != "shutdown" && !lifecycleMethods[req.Method] {
		status := sess.status()
		if status == SessionUninitialized || status == SessionInitializing {
			return nil, &JSONRPCError{Code: ErrCodeInvalidRequest, Message: "server not initialized"}
		}
		if status == SessionShutdown {
			return nil, &JSONRPCError{Code: ErrCodeInvalidRequest, Message: "server is shut down"}
		}
	}

	callCtx := &CallContext{Session: sess, Auth: auth}

	switch req.Method {
	case "initialize":
		sess.setStatus(SessionInitializing)
		raw, _ := json.Marshal(r.Initialize(r.name, r.version))
		return raw, nil

	case "shutdown":
		sess.setStatus(SessionShutdown)
		return json.RawMessage(`{}`), nil

	case "tools/list":
		raw, _ := json.Marshal(ListToolsResult{Tools: toolPtrs(r.ListTools())})
		return raw, nil

	case "tools/call":
		var p CallToolParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, &JSONRPCError{Code: ErrCodeInvalidParams, Message: "invalid tools/call params"}
		}
		result := r.CallTool(callCtx, p.Name, p.Arguments)
		raw, _ := json.Marshal(toolResultToCallResult(result))
		return raw, nil

	case "resources/list":
		raw, _ := json.Marshal(ListResourcesResult{Resources: resourcePtrs(r.ListResources())})
		return raw, nil

	case "resources/read":
		var p struct {
			URI string `json:"uri"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, &JSONRPCError{Code: ErrCodeInvalidParams, Message: "invalid resources/read params"}
		}
		contents, rpcErr := r.ReadResource(callCtx, p.URI)
		if rpcErr != nil {
			return nil, rpcErr
		}
		raw, _ := json.Marshal(ReadResourceResult{Contents: contents})
		return raw, nil

	case "prompts/list":
		raw, _ := json.Marshal(ListPromptsResult{Prompts: promptPtrs(r.ListPrompts())})
		return raw, nil

	case "prompts/get":
		var p struct {
			Name      string            `json:"name"`
			Arguments map[string]string `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, &JSONRPCError{Code: ErrCodeInvalidParams, Message: "invalid prompts/get params"}
		}
		r.mu.RLock()
		prefix, found := r.promptRoutes[p.Name]
		server := r.servers[prefix]
		r.mu.RUnlock()
		if !found || server == nil {
			return nil, &JSONRPCError{Code: ErrCodePromptNotFound, Message: fmt.Sprintf("prompt not found: %s", p.Name)}
		}
		entry, ok := server.lookupPrompt(p.Name)
		if !ok {
			return nil, &JSONRPCError{Code: ErrCodePromptNotFound, Message: fmt.Sprintf("prompt not found: %s", p.Name)}
		}
		result, err := entry.Handler(callCtx, p.Arguments)
		if err != nil {
			return nil, &JSONRPCError{Code: ErrCodeInternalError, Message: err.Error()}
		}
		raw, _ := json.Marshal(result)
		return raw, nil

	case "logging/setLevel":
		return json.RawMessage(`{}`), nil

	default:
		return nil, &JSONRPCError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}
}

// HandleNotification implements the Dispatcher interface.
func (r *Registry) HandleNotification(clientID string, notif *JSONRPCNotification) {
	sess := r.session(clientID)
	if notif.Method == "notifications/initialized" {
		sess.setStatus(SessionReady)
	}
}

// ToolSchema implements the Dispatcher interface: looks up a (possibly
// prefixed) tool's inputSchema for pre-dispatch validation.
func (r *Registry) ToolSchema(name string) (json.RawMessage, bool) {
	server, bare, ok := r.resolveTool(name)
	if !ok {
		return nil, false
	}
	entry, found := server.lookupTool(bare)
	if !found {
		return nil, false
	}
	return entry.Tool.InputSchema, true
}
