package mcp

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the MCP protocol version this runtime speaks.
const ProtocolVersion = "2024-11-05"

// FrameKind classifies a decoded JSON-RPC frame.
type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameRequest
	FrameNotification
	FrameResponse
)

func (k FrameKind) String() string {
	switch k {
	case FrameRequest:
		return "request"
	case FrameNotification:
		return "notification"
	case FrameResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Frame is the decoded, tagged-union form of a single JSON-RPC message.
// Exactly one of Request, Notification, Response is non-nil, matching Kind.
type Frame struct {
	Kind         FrameKind
	Request      *JSONRPCRequest
	Notification *JSONRPCNotification
	Response     *JSONRPCResponse
}

// ProtocolError is a decode/classify-time error with an associated wire
// code. It never crosses the JSON-RPC boundary itself; callers translate it
// into a JSONRPCError response (or drop the connection for parse errors,
// since a malformed frame may not carry a usable id).
type ProtocolError struct {
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("mcp protocol: %s (code %d)", e.Message, e.Code)
}

func newProtocolError(code int, format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// rawFrame is the envelope used to sniff which concrete frame shape a byte
// slice holds before committing to a concrete struct.
type rawFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  json.RawMessage `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// Decode parses a single JSON-RPC 2.0 frame. A batch (top-level JSON array)
// is rejected with InvalidRequest: see DESIGN.md's Open Question decision —
// this runtime deliberately does not support batching.
func Decode(data []byte) (*Frame, *ProtocolError) {
	trimmed := trimLeadingSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return nil, newProtocolError(ErrCodeInvalidRequest, "batch requests are not supported")
	}

	var raw rawFrame
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, newProtocolError(ErrCodeParseError, "invalid JSON: %v", err)
	}

	if raw.JSONRPC != "2.0" {
		return nil, newProtocolError(ErrCodeInvalidRequest, `"jsonrpc" must be exactly "2.0"`)
	}

	if len(raw.Params) > 0 && !isJSONObject(raw.Params) {
		return nil, newProtocolError(ErrCodeInvalidRequest, `"params" must be an object`)
	}

	hasMethod := len(raw.Method) > 0
	hasID := len(raw.ID) > 0 && string(raw.ID) != "null"
	hasResult := len(raw.Result) > 0
	hasError := len(raw.Error) > 0

	switch {
	case hasMethod && hasID:
		var method string
		if err := json.Unmarshal(raw.Method, &method); err != nil {
			return nil, newProtocolError(ErrCodeInvalidRequest, `"method" must be a string`)
		}
		req := &JSONRPCRequest{JSONRPC: raw.JSONRPC, Method: method, Params: raw.Params}
		if err := json.Unmarshal(raw.ID, &req.ID); err != nil {
			return nil, newProtocolError(ErrCodeInvalidRequest, "invalid id")
		}
		return &Frame{Kind: FrameRequest, Request: req}, nil

	case hasMethod && !hasID:
		var method string
		if err := json.Unmarshal(raw.Method, &method); err != nil {
			return nil, newProtocolError(ErrCodeInvalidRequest, `"method" must be a string`)
		}
		return &Frame{Kind: FrameNotification, Notification: &JSONRPCNotification{
			JSONRPC: raw.JSONRPC, Method: method, Params: raw.Params,
		}}, nil

	case hasResult != hasError && !hasMethod:
		resp := &JSONRPCResponse{JSONRPC: raw.JSONRPC, Result: raw.Result}
		if hasID {
			if err := json.Unmarshal(raw.ID, &resp.ID); err != nil {
				return nil, newProtocolError(ErrCodeInvalidRequest, "invalid id")
			}
		}
		if hasError {
			var rpcErr JSONRPCError
			if err := json.Unmarshal(raw.Error, &rpcErr); err != nil {
				return nil, newProtocolError(ErrCodeInvalidRequest, "invalid error object")
			}
			resp.Error = &rpcErr
		}
		return &Frame{Kind: FrameResponse, Response: resp}, nil

	default:
		return nil, newProtocolError(ErrCodeInvalidRequest, "frame is neither request, notification, nor response")
	}
}

// Encode serializes a Frame back to wire bytes. Absent optional fields are
// omitted rather than marshaled as null, relying on each struct's `omitempty`
// tags.
func Encode(f *Frame) ([]byte, error) {
	switch f.Kind {
	case FrameRequest:
		return json.Marshal(f.Request)
	case FrameNotification:
		return json.Marshal(f.Notification)
	case FrameResponse:
		return json.Marshal(f.Response)
	default:
		return nil, fmt.Errorf("encode: unknown frame kind %v", f.Kind)
	}
}

// Classify re-derives the FrameKind of an already-decoded Frame. Exposed
// separately from Decode so callers that build frames programmatically
// (e.g. the hardened server assembling a synthetic error response) can
// classify without going through a JSON round trip.
func Classify(f *Frame) FrameKind {
	switch {
	case f.Request != nil:
		return FrameRequest
	case f.Notification != nil:
		return FrameNotification
	case f.Response != nil:
		return FrameResponse
	default:
		return FrameUnknown
	}
}

// knownMethods is the fixed method name set from spec.md §6.
var knownMethods = map[string]bool{
	"initialize":                             true,
	"shutdown":                               true,
	"tools/list":                             true,
	"tools/call":                             true,
	"resources/list":                         true,
	"resources/read":                         true,
	"resources/subscribe":                    true,
	"resources/unsubscribe":                  true,
	"prompts/list":                           true,
	"prompts/get":                            true,
	"logging/setLevel":                       true,
	"notifications/initialized":              true,
	"notifications/cancelled":                true,
	"notifications/progress":                 true,
	"notifications/resources/updated":        true,
	"notifications/resources/list_changed":   true,
	"notifications/tools/list_changed":       true,
	"notifications/prompts/list_changed":     true,
	"notifications/message":                  true,
}

// ValidateRequest checks a request's method against the known method set.
// In strict mode an unknown method is rejected outright; otherwise it is
// allowed through with a warning, letting callers decide how to log it.
func ValidateRequest(req *JSONRPCRequest, strict bool) (warning string, err *ProtocolError) {
	if req.Method == "" {
		return "", newProtocolError(ErrCodeInvalidRequest, "method is required")
	}
	if !knownMethods[req.Method] {
		if strict {
			return "", newProtocolError(ErrCodeMethodNotFound, "unknown method %q", req.Method)
		}
		return fmt.Sprintf("unknown method %q", req.Method), nil
	}
	return "", nil
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) {
		switch b[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	return b[i:]
}

func isJSONObject(raw json.RawMessage) bool {
	t := trimLeadingSpace(raw)
	return len(t) > 0 && t[0] == '{'
}
