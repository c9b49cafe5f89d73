package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// ServerCore implements C7: tool/resource/prompt registries, per-connection
// lifecycle, method dispatch, and notification emission. It has no
// transport or hardening opinions of its own — HardenedServer wraps it with
// the validate/rate-limit/authorize/timeout/metrics pipeline, and any of
// the C6 transports drive it via Handle.
type ServerCore struct {
	Name    string
	Version string
	logger  *slog.Logger

	mu        sync.RWMutex
	tools     map[string]*ToolEntry
	resources map[string]*ResourceEntry
	prompts   map[string]*PromptEntry

	sessions   sync.Map // clientID -> *Session
	subsByURI  sync.Map // uri -> map[clientID]*Session (subscription fan-out)
	outboundMu sync.Mutex
	outbound   func(clientID string, notif *JSONRPCNotification)
}

// NewServerCore constructs an empty registry for a server identified by
// name/version. SetOutbound must be called before the server can emit
// notifications; Handle works without it (notifications are simply dropped).
func NewServerCore(name, version string, logger *slog.Logger) *ServerCore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ServerCore{
		Name:      name,
		Version:   version,
		logger:    logger.With("mcp_server", name),
		tools:     make(map[string]*ToolEntry),
		resources: make(map[string]*ResourceEntry),
		prompts:   make(map[string]*PromptEntry),
	}
}

// SetOutbound registers the callback used to deliver server-to-client
// notifications for a given connection. Transports call this once per
// accepted peer.
func (s *ServerCore) SetOutbound(fn func(clientID string, notif *JSONRPCNotification)) {
	s.outboundMu.Lock()
	defer s.outboundMu.Unlock()
	s.outbound = fn
}

func (s *ServerCore) notify(clientID, method string, params any) {
	s.outboundMu.Lock()
	fn := s.outbound
	s.outboundMu.Unlock()
	if fn == nil {
		return
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return
	}
	fn(clientID, &JSONRPCNotification{JSONRPC: "2.0", Method: method, Params: raw})
}

// RegisterTool adds a tool to the registry. Per spec.md §3, tools are
// registered only at construction time; runtime mutation after Start is not
// supported here (the registry itself has no notion of "started").
func (s *ServerCore) RegisterTool(tool MCPTool, handler ToolHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[tool.Name] = &ToolEntry{Tool: tool, Handler: handler}
}

// RegisterResource adds a resource to the registry.
func (s *ServerCore) RegisterResource(resource MCPResource, handler ResourceHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[resource.URI] = &ResourceEntry{Resource: resource, Handler: handler}
}

// RegisterPrompt adds a prompt to the registry.
func (s *ServerCore) RegisterPrompt(prompt MCPPrompt, handler PromptHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts[prompt.Name] = &PromptEntry{Prompt: prompt, Handler: handler}
}

// Tools returns a snapshot of registered tool definitions.
func (s *ServerCore) Tools() []MCPTool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MCPTool, 0, len(s.tools))
	for _, e := range s.tools {
		out = append(out, e.Tool)
	}
	return out
}

// Resources returns a snapshot of registered resource definitions.
func (s *ServerCore) Resources() []MCPResource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MCPResource, 0, len(s.resources))
	for _, e := range s.resources {
		out = append(out, e.Resource)
	}
	return out
}

// Prompts returns a snapshot of registered prompt definitions.
func (s *ServerCore) Prompts() []MCPPrompt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MCPPrompt, 0, len(s.prompts))
	for _, e := range s.prompts {
		out = append(out, e.Prompt)
	}
	return out
}

func (s *ServerCore) lookupTool(name string) (*ToolEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tools[name]
	return e, ok
}

// ToolSchema returns a tool's inputSchema for pre-dispatch validation.
// Implements the Dispatcher interface.
func (s *ServerCore) ToolSchema(name string) (json.RawMessage, bool) {
	e, ok := s.lookupTool(name)
	if !ok {
		return nil, false
	}
	return e.Tool.InputSchema, true
}

// lookupResource does longest-prefix matching against registered URIs.
func (s *ServerCore) lookupResource(uri string) (*ResourceEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.resources[uri]; ok {
		return e, true
	}
	var best *ResourceEntry
	bestLen := -1
	for prefix, e := range s.resources {
		if len(prefix) <= bestLen {
			continue
		}
		if len(uri) >= len(prefix) && uri[:len(prefix)] == prefix {
			best = e
			bestLen = len(prefix)
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

func (s *ServerCore) lookupPrompt(name string) (*PromptEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.prompts[name]
	return e, ok
}

// Session returns (creating if necessary) the lifecycle session for a
// connection identified by clientID.
func (s *ServerCore) Session(clientID string) *Session {
	if v, ok := s.sessions.Load(clientID); ok {
		return v.(*Session)
	}
	sess := NewSession(clientID)
	actual, _ := s.sessions.LoadOrStore(clientID, sess)
	return actual.(*Session)
}

// capabilities builds the InitializeResult.Capabilities block: each
// sub-capability is present iff the registry has >=1 entry of that kind.
func (s *ServerCore) capabilities() Capabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	caps := Capabilities{}
	if len(s.tools) > 0 {
		caps.Tools = &ToolsCapability{ListChanged: true}
	}
	if len(s.resources) > 0 {
		caps.Resources = &ResourcesCapability{Subscribe: true, ListChanged: true}
	}
	if len(s.prompts) > 0 {
		caps.Prompts = &PromptsCapability{ListChanged: true}
	}
	return caps
}

// Dispatch routes a single request to its handler, per spec.md §4.7's
// lifecycle state machine and method table. It never panics: handler
// exceptions are recovered and mapped to InternalError. The caller
// (typically HardenedServer) is responsible for everything outside dispatch
// itself — rate limiting, auth, timeouts, metrics.
func (s *ServerCore) Dispatch(ctx context.Context, clientID string, req *JSONRPCRequest, auth *AuthContext) (result json.RawMessage, rpcErr *JSONRPCError) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked", "method", req.Method, "panic", r, "stack", string(debug.Stack()))
			rpcErr = &JSONRPCError{Code: ErrCodeInternalError, Message: fmt.Sprintf("internal error: %v", r)}
			result = nil
		}
	}()

	sess := s.Session(clientID)

	if req.Method != "initialize" && req.Method != "shutdown" && !lifecycleMethods[req.Method] {
		if sess.status() == SessionUninitialized || sess.status() == SessionInitializing {
			return nil, &JSONRPCError{Code: ErrCodeInvalidRequest, Message: "server not initialized"}
		}
		if sess.status() == SessionShutdown {
			return nil, &JSONRPCError{Code: ErrCodeInvalidRequest, Message: "server is shut down"}
		}
	}

	callCtx := &CallContext{Session: sess, Auth: auth}

	switch req.Method {
	case "initialize":
		sess.setStatus(SessionInitializing)
		res := InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities:    s.capabilities(),
			ServerInfo:      ServerInfo{Name: s.Name, Version: s.Version},
		}
		raw, _ := json.Marshal(res)
		return raw, nil

	case "shutdown":
		sess.setStatus(SessionShutdown)
		return json.RawMessage(`{}`), nil

	case "tools/list":
		raw, _ := json.Marshal(ListToolsResult{Tools: toolPtrs(s.Tools())})
		return raw, nil

	case "tools/call":
		return s.dispatchToolCall(callCtx, req.Params)

	case "resources/list":
		raw, _ := json.Marshal(ListResourcesResult{Resources: resourcePtrs(s.Resources())})
		return raw, nil

	case "resources/read":
		return s.dispatchResourceRead(callCtx, req.Params)

	case "resources/subscribe":
		var p struct {
			URI string `json:"uri"`
		}
		_ = json.Unmarshal(req.Params, &p)
		sess.Subscribe(p.URI)
		return json.RawMessage(`{}`), nil

	case "resources/unsubscribe":
		var p struct {
			URI string `json:"uri"`
		}
		_ = json.Unmarshal(req.Params, &p)
		sess.Unsubscribe(p.URI)
		return json.RawMessage(`{}`), nil

	case "prompts/list":
		raw, _ := json.Marshal(ListPromptsResult{Prompts: promptPtrs(s.Prompts())})
		return raw, nil

	case "prompts/get":
		return s.dispatchPromptGet(callCtx, req.Params)

	case "logging/setLevel":
		var p struct {
			Level string `json:"level"`
		}
		_ = json.Unmarshal(req.Params, &p)
		sess.mu.Lock()
		sess.LogLevel = p.Level
		sess.mu.Unlock()
		return json.RawMessage(`{}`), nil

	default:
		return nil, &JSONRPCError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}
}

func (s *ServerCore) dispatchToolCall(callCtx *CallContext, params json.RawMessage) (json.RawMessage, *JSONRPCError) {
	var p CallToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &JSONRPCError{Code: ErrCodeInvalidParams, Message: "invalid tools/call params"}
	}
	entry, ok := s.lookupTool(p.Name)
	if !ok {
		return nil, &JSONRPCError{Code: ErrCodeToolNotFound, Message: fmt.Sprintf("tool not found: %s", p.Name)}
	}

	result, err := entry.Handler(callCtx, p.Arguments)
	if err != nil {
		result = ErrorResult(err.Error())
	}
	if result == nil {
		result = ErrorResult("tool handler returned no result")
	}
	raw, _ := json.Marshal(toolResultToCallResult(result))
	return raw, nil
}

func (s *ServerCore) dispatchResourceRead(callCtx *CallContext, params json.RawMessage) (json.RawMessage, *JSONRPCError) {
	var p struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &JSONRPCError{Code: ErrCodeInvalidParams, Message: "invalid resources/read params"}
	}
	entry, ok := s.lookupResource(p.URI)
	if !ok {
		return nil, &JSONRPCError{Code: ErrCodeResourceNotFound, Message: fmt.Sprintf("resource not found: %s", p.URI)}
	}
	contents, err := entry.Handler(callCtx, p.URI)
	if err != nil {
		return nil, &JSONRPCError{Code: ErrCodeInternalError, Message: err.Error()}
	}
	raw, _ := json.Marshal(ReadResourceResult{Contents: contents})
	return raw, nil
}

func (s *ServerCore) dispatchPromptGet(callCtx *CallContext, params json.RawMessage) (json.RawMessage, *JSONRPCError) {
	var p struct {
		Name      string            `json:"name"`
		Arguments map[string]string `json:"arguments"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &JSONRPCError{Code: ErrCodeInvalidParams, Message: "invalid prompts/get params"}
	}
	entry, ok := s.lookupPrompt(p.Name)
	if !ok {
		return nil, &JSONRPCError{Code: ErrCodePromptNotFound, Message: fmt.Sprintf("prompt not found: %s", p.Name)}
	}
	result, err := entry.Handler(callCtx, p.Arguments)
	if err != nil {
		return nil, &JSONRPCError{Code: ErrCodeInternalError, Message: err.Error()}
	}
	raw, _ := json.Marshal(result)
	return raw, nil
}

// HandleNotification processes an inbound notification. Notifications are
// fire-and-forget: no response is ever produced, matching invariant I2.
func (s *ServerCore) HandleNotification(clientID string, notif *JSONRPCNotification) {
	sess := s.Session(clientID)
	switch notif.Method {
	case "notifications/initialized":
		sess.setStatus(SessionReady)
	case "notifications/cancelled":
		// Best-effort hint; this implementation has no per-request
		// cancellation token to abort, so it is logged and otherwise
		// ignored (the in-flight handler still completes and its
		// response is emitted, which is spec-permitted: "SHOULD abort").
		s.logger.Debug("received cancellation notification", "client_id", clientID)
	}
}

// NotifyResourceUpdated fans out notifications/resources/updated to every
// session subscribed to uri (the Open Question decision recorded in
// DESIGN.md: minimal explicit-call fan-out, no automatic change detection).
func (s *ServerCore) NotifyResourceUpdated(uri string) {
	s.sessions.Range(func(key, value any) bool {
		clientID := key.(string)
		sess := value.(*Session)
		if sess.SubscribedTo(uri) {
			s.notify(clientID, "notifications/resources/updated", ResourceUpdatedParams{URI: uri})
		}
		return true
	})
}

// NotifyToolsListChanged emits notifications/tools/list_changed to every
// connected session.
func (s *ServerCore) NotifyToolsListChanged() {
	s.broadcast("notifications/tools/list_changed", struct{}{})
}

// NotifyProgress emits notifications/progress to a specific client.
func (s *ServerCore) NotifyProgress(clientID, token string, progress float64, message string) {
	s.notify(clientID, "notifications/progress", ProgressNotificationParams{
		ProgressToken: token, Progress: progress, Message: message,
	})
}

// NotifyLogMessage emits notifications/message to a specific client.
func (s *ServerCore) NotifyLogMessage(clientID, level string, data any) {
	s.notify(clientID, "notifications/message", LogMessageParams{Level: level, Data: data})
}

func (s *ServerCore) broadcast(method string, params any) {
	s.sessions.Range(func(key, _ any) bool {
		s.notify(key.(string), method, params)
		return true
	})
}

func toolPtrs(ts []MCPTool) []*MCPTool {
	out := make([]*MCPTool, len(ts))
	for i := range ts {
		out[i] = &ts[i]
	}
	return out
}

func resourcePtrs(rs []MCPResource) []*MCPResource {
	out := make([]*MCPResource, len(rs))
	for i := range rs {
		out[i] = &rs[i]
	}
	return out
}

func promptPtrs(ps []MCPPrompt) []*MCPPrompt {
	out := make([]*MCPPrompt, len(ps))
	for i := range ps {
		out[i] = &ps[i]
	}
	return out
}

func toolResultToCallResult(r *ToolResult) *ToolCallResult {
	content := make([]ToolResultContent, len(r.Content))
	for i, c := range r.Content {
		content[i] = ToolResultContent{Type: c.Type, Text: c.Text, Data: c.Data, MimeType: c.MimeType}
	}
	return &ToolCallResult{Content: content, IsError: r.IsError}
}
