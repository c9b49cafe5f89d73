package mcp

import (
	"encoding/json"
	"sync"
	"time"
)

// ToolContent is the tagged variant returned as part of a ToolResult: a
// text blob, a base64-encoded image, or an embedded resource.
type ToolContent struct {
	Type     string           `json:"type"` // text | image | resource
	Text     string           `json:"text,omitempty"`
	Data     string           `json:"data,omitempty"`
	MimeType string           `json:"mimeType,omitempty"`
	Resource *ResourceContent `json:"resource,omitempty"`
}

// TextContent builds a ToolContent of type "text".
func TextContent(text string) ToolContent {
	return ToolContent{Type: "text", Text: text}
}

// ToolResult is what a tool handler (or a failed dispatch) produces. Per
// invariant I4, transport/dispatch errors never leak as exceptions — they
// are mapped to IsError=true with a Text content carrying the message.
type ToolResult struct {
	CallID  string        `json:"callId,omitempty"`
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError"`
}

// ErrorResult builds an isError=true ToolResult from a plain message.
func ErrorResult(message string) *ToolResult {
	return &ToolResult{Content: []ToolContent{TextContent(message)}, IsError: true}
}

// ToolHandler invokes a tool given its raw (schema-validated) arguments.
// Handlers never panic across the dispatch boundary; the hardened server
// recovers any panic and maps it to an internal error.
type ToolHandler func(ctx *CallContext, arguments json.RawMessage) (*ToolResult, error)

// ResourceHandler produces the contents of a resource given its URI.
type ResourceHandler func(ctx *CallContext, uri string) ([]*ResourceContent, error)

// PromptHandler produces the rendered messages for a prompt given its
// arguments.
type PromptHandler func(ctx *CallContext, arguments map[string]string) (*GetPromptResult, error)

// CallContext is threaded through every handler invocation. It carries the
// per-connection session state and the authenticated identity of the
// caller, without exposing transport internals to handlers.
type CallContext struct {
	Session *Session
	Auth    *AuthContext
}

// ToolEntry pairs a Tool definition with its handler.
type ToolEntry struct {
	Tool    MCPTool
	Handler ToolHandler
}

// ResourceEntry pairs a Resource definition with its handler.
type ResourceEntry struct {
	Resource MCPResource
	Handler  ResourceHandler
}

// PromptEntry pairs a Prompt definition with its handler.
type PromptEntry struct {
	Prompt  MCPPrompt
	Handler PromptHandler
}

// SessionStatus is the per-connection lifecycle state (spec.md §4.7).
type SessionStatus string

const (
	SessionUninitialized SessionStatus = "uninitialized"
	SessionInitializing  SessionStatus = "initializing"
	SessionReady         SessionStatus = "ready"
	SessionShutdown      SessionStatus = "shutdown"
)

// Session holds per-connection state. Initialized flips true only after the
// client's "initialized" notification following a successful initialize
// request (invariant: non-lifecycle methods before that point are
// rejected with InvalidRequest).
type Session struct {
	mu                 sync.RWMutex
	Status             SessionStatus
	ClientInfo         ClientInfo
	ClientCapabilities Capabilities
	LogLevel           string
	ClientID           string
	subscriptions      map[string]bool
}

// NewSession creates a fresh, uninitialized session.
func NewSession(clientID string) *Session {
	return &Session{
		Status:        SessionUninitialized,
		ClientID:      clientID,
		subscriptions: make(map[string]bool),
	}
}

func (s *Session) status() SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status
}

func (s *Session) setStatus(status SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = status
}

// Subscribe registers interest in resource-update notifications for a URI.
func (s *Session) Subscribe(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[uri] = true
}

// Unsubscribe removes interest in a URI.
func (s *Session) Unsubscribe(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, uri)
}

// SubscribedTo reports whether the session is currently subscribed to uri.
func (s *Session) SubscribedTo(uri string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscriptions[uri]
}

// AuthContext is the derived, request-scoped identity of a caller. Never
// persisted.
type AuthContext struct {
	ClientID      string
	Authenticated bool
	Role          *Role
	UserID        string
	Metadata      map[string]string
}

// Permission is a coarse-grained capability a Role may grant.
type Permission string

const (
	PermToolsList       Permission = "TOOLS_LIST"
	PermToolsCall       Permission = "TOOLS_CALL"
	PermResourcesList   Permission = "RESOURCES_LIST"
	PermResourcesRead   Permission = "RESOURCES_READ"
	PermResourcesSub    Permission = "RESOURCES_SUBSCRIBE"
	PermPromptsList     Permission = "PROMPTS_LIST"
	PermPromptsGet      Permission = "PROMPTS_GET"
	PermLoggingSetLevel Permission = "LOGGING_SET_LEVEL"
)

// methodPermissions is the fixed method->permission mapping from spec.md §4.4.
var methodPermissions = map[string]Permission{
	"tools/list":           PermToolsList,
	"tools/call":           PermToolsCall,
	"resources/list":       PermResourcesList,
	"resources/read":       PermResourcesRead,
	"resources/subscribe":  PermResourcesSub,
	"resources/unsubscribe": PermResourcesSub,
	"prompts/list":         PermPromptsList,
	"prompts/get":          PermPromptsGet,
	"logging/setLevel":     PermLoggingSetLevel,
}

// lifecycleMethods skip authorization entirely.
var lifecycleMethods = map[string]bool{
	"initialize":                 true,
	"shutdown":                   true,
	"notifications/initialized":  true,
	"notifications/cancelled":    true,
}

// PermissionFor returns the permission a method requires, and whether the
// method is a lifecycle method exempt from authorization.
func PermissionFor(method string) (perm Permission, lifecycle bool) {
	if lifecycleMethods[method] {
		return "", true
	}
	return methodPermissions[method], false
}

// Role grants a set of permissions and an optional tool allow/deny list.
// If ToolAllowlist is nil, all tools are allowed modulo ToolDenylist.
type Role struct {
	Name          string
	Permissions   map[Permission]bool
	ToolAllowlist map[string]bool
	ToolDenylist  map[string]bool
}

// Has reports whether the role grants a permission.
func (r *Role) Has(p Permission) bool {
	if r == nil {
		return false
	}
	return r.Permissions[p]
}

// AllowsTool reports whether the role's tool allow/deny lists permit a tool.
func (r *Role) AllowsTool(name string) bool {
	if r == nil {
		return false
	}
	if r.ToolDenylist[name] {
		return false
	}
	if r.ToolAllowlist == nil {
		return true
	}
	return r.ToolAllowlist[name]
}

// DefaultRole grants every permission and no tool restrictions; used by the
// None auth provider.
func DefaultRole() *Role {
	return &Role{
		Name: "default",
		Permissions: map[Permission]bool{
			PermToolsList: true, PermToolsCall: true,
			PermResourcesList: true, PermResourcesRead: true, PermResourcesSub: true,
			PermPromptsList: true, PermPromptsGet: true,
			PermLoggingSetLevel: true,
		},
	}
}

// ProgressNotificationParams is the payload of notifications/progress.
type ProgressNotificationParams struct {
	ProgressToken string  `json:"progressToken"`
	Progress      float64 `json:"progress"`
	Message       string  `json:"message,omitempty"`
}

// LogMessageParams is the payload of notifications/message.
type LogMessageParams struct {
	Level  string `json:"level"`
	Logger string `json:"logger,omitempty"`
	Data   any    `json:"data"`
}

// ResourceUpdatedParams is the payload of notifications/resources/updated.
type ResourceUpdatedParams struct {
	URI string `json:"uri"`
}

// CancelledParams is the payload of notifications/cancelled.
type CancelledParams struct {
	RequestID any    `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}

func now() time.Time { return time.Now() }
