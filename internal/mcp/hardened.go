package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/internal/mcp/schema"
)

// HardenedConfig configures the HardenedServer's request pipeline.
type HardenedConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
	StrictMethods  bool          `yaml:"strict_methods"`
}

// DefaultHardenedConfig returns sane defaults.
func DefaultHardenedConfig() HardenedConfig {
	return HardenedConfig{RequestTimeout: 30 * time.Second}
}

// Dispatcher is the surface HardenedServer drives. Both ServerCore (C7) and
// Registry (C9) implement it, so a hardened pipeline can sit atop either a
// single server or a composed registry without caring which.
type Dispatcher interface {
	Dispatch(ctx context.Context, clientID string, req *JSONRPCRequest, auth *AuthContext) (json.RawMessage, *JSONRPCError)
	HandleNotification(clientID string, notif *JSONRPCNotification)
	ToolSchema(name string) (json.RawMessage, bool)
}

// HardenedServer composes C2-C5 around a Dispatcher (C7 or C9), implementing
// the pipeline from spec.md §4.8:
//
//	parse -> rate-limit(client) -> authenticate -> authorize(method, tool?)
//	  -> consume rate token -> dispatch-with-timeout -> record metrics
type HardenedServer struct {
	Core       Dispatcher
	Limiter    *RateLimiter
	Authorizer *Authorizer
	Metrics    *Metrics
	cfg        HardenedConfig
	logger     *slog.Logger

	// Credentials, when set, lets a transport supply the real credentials
	// bag (bearer token, HMAC signature, ...) for a connection instead of
	// the bare clientId the pipeline falls back to. HTTP transports
	// populate this from the Authorization header; stdio/WebSocket
	// typically leave it nil (trusted local/inbound-only channels).
	Credentials func(clientID string) Credentials
}

// NewHardenedServer wires a ServerCore with the cross-cutting concerns.
func NewHardenedServer(core Dispatcher, limiter *RateLimiter, authz *Authorizer, metrics *Metrics, cfg HardenedConfig, logger *slog.Logger) *HardenedServer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &HardenedServer{
		Core: core, Limiter: limiter, Authorizer: authz, Metrics: metrics,
		cfg: cfg, logger: logger.With("component", "hardened_server"),
	}
}

// HandleFrame drives the full pipeline for one decoded frame, returning the
// bytes to write back (nil for notifications, which never produce a
// response per invariant I2).
func (h *HardenedServer) HandleFrame(ctx context.Context, clientID string, raw []byte) []byte {
	frame, protoErr := Decode(raw)
	if protoErr != nil {
		resp := &JSONRPCResponse{JSONRPC: "2.0", ID: nil, Error: &JSONRPCError{Code: protoErr.Code, Message: protoErr.Message}}
		out, _ := Encode(&Frame{Kind: FrameResponse, Response: resp})
		return out
	}

	switch frame.Kind {
	case FrameNotification:
		h.Core.HandleNotification(clientID, frame.Notification)
		return nil
	case FrameRequest:
		resp := h.handleRequest(ctx, clientID, frame.Request)
		out, _ := Encode(&Frame{Kind: FrameResponse, Response: resp})
		return out
	default:
		resp := &JSONRPCResponse{JSONRPC: "2.0", Error: &JSONRPCError{Code: ErrCodeInvalidRequest, Message: "frame is not a request"}}
		out, _ := Encode(&Frame{Kind: FrameResponse, Response: resp})
		return out
	}
}

func (h *HardenedServer) handleRequest(ctx context.Context, clientID string, req *JSONRPCRequest) *JSONRPCResponse {
	start := time.Now()
	resp := &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID}

	finish := func(errCode int, errMsg string, data any) *JSONRPCResponse {
		if errCode != 0 {
			var raw json.RawMessage
			if data != nil {
				raw, _ = json.Marshal(data)
			}
			resp.Error = &JSONRPCError{Code: errCode, Message: errMsg, Data: raw}
			if h.Metrics != nil {
				h.Metrics.RequestErrors.Inc(req.Method, fmt.Sprint(errCode))
			}
		}
		if h.Metrics != nil {
			h.Metrics.RequestsTotal.Inc(req.Method)
			h.Metrics.RequestDuration.Observe(time.Since(start).Seconds(), req.Method)
		}
		return resp
	}

	if warning, protoErr := ValidateRequest(req, h.cfg.StrictMethods); protoErr != nil {
		return finish(protoErr.Code, protoErr.Message, nil)
	} else if warning != "" {
		h.logger.Warn("request validation warning", "method", req.Method, "warning", warning)
	}

	tool := ""
	if req.Method == "tools/call" {
		var p CallToolParams
		_ = json.Unmarshal(req.Params, &p)
		tool = p.Name
	}

	if h.Limiter != nil {
		allowed, retryAfter := h.Limiter.CheckLimit(clientID, tool)
		if !allowed {
			if h.Metrics != nil {
				h.Metrics.RateLimitRejected.Inc(clientID)
			}
			return finish(ErrCodeRateLimit, "rate limit exceeded", map[string]float64{"retryAfter": retryAfter.Seconds()})
		}
	}

	var authCtx *AuthContext
	if h.Authorizer != nil {
		creds := Credentials{"clientId": clientID}
		if h.Credentials != nil {
			if c := h.Credentials(clientID); c != nil {
				creds = c
				if creds["clientId"] == "" {
					creds["clientId"] = clientID
				}
			}
		}
		var err error
		authCtx, err = h.Authorizer.Authenticate(creds)
		if err != nil {
			return finish(ErrCodePermissionDenied, "authentication failed: "+err.Error(), nil)
		}
		if !h.Authorizer.Authorize(authCtx, req.Method, tool) {
			return finish(ErrCodePermissionDenied, fmt.Sprintf("permission denied for %s", req.Method), nil)
		}
	}

	if h.Limiter != nil {
		h.Limiter.Consume(clientID, tool)
	}

	if req.Method == "tools/call" && tool != "" {
		if inputSchema, ok := h.Core.ToolSchema(tool); ok {
			validation := schema.Validate(inputSchema, extractArguments(req.Params))
			if !validation.Valid {
				result := ErrorResult(strings.Join(validation.Errors, "; "))
				raw, _ := json.Marshal(toolResultToCallResult(result))
				resp.Result = raw
				if h.Metrics != nil {
					h.Metrics.ToolCallErrors.Inc(tool)
					h.Metrics.RequestsTotal.Inc(req.Method)
					h.Metrics.RequestDuration.Observe(time.Since(start).Seconds(), req.Method)
				}
				return resp
			}
		}
	}

	result, rpcErr, timedOut := h.dispatchWithTimeout(ctx, clientID, req, authCtx)
	if timedOut {
		return finish(ErrCodeTimeout, "request timed out", nil)
	}
	if rpcErr != nil {
		return finish(rpcErr.Code, rpcErr.Message, nil)
	}
	resp.Result = result

	if req.Method == "tools/call" && tool != "" && h.Metrics != nil {
		h.Metrics.ToolCallsTotal.Inc(tool)
		h.Metrics.ToolCallDuration.Observe(time.Since(start).Seconds(), tool)
		var cr ToolCallResult
		if json.Unmarshal(result, &cr) == nil && cr.IsError {
			h.Metrics.ToolCallErrors.Inc(tool)
		}
	}

	return finish(0, "", nil)
}

// dispatchWithTimeout runs Core.Dispatch in a goroutine bounded by
// RequestTimeout, grounded on internal/agent/executor.go's
// executeWithTimeout pattern (goroutine + panic recovery + select against
// ctx-done).
func (h *HardenedServer) dispatchWithTimeout(ctx context.Context, clientID string, req *JSONRPCRequest, authCtx *AuthContext) (result json.RawMessage, rpcErr *JSONRPCError, timedOut bool) {
	timeoutCtx, cancel := context.WithTimeout(ctx, h.cfg.RequestTimeout)
	defer cancel()

	type dispatchOutcome struct {
		result json.RawMessage
		err    *JSONRPCError
	}
	done := make(chan dispatchOutcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("dispatch panicked", "method", req.Method, "panic", r, "stack", string(debug.Stack()))
				done <- dispatchOutcome{err: &JSONRPCError{Code: ErrCodeInternalError, Message: fmt.Sprintf("internal error: %v", r)}}
				return
			}
		}()
		res, err := h.Core.Dispatch(timeoutCtx, clientID, req, authCtx)
		done <- dispatchOutcome{result: res, err: err}
	}()

	select {
	case outcome := <-done:
		return outcome.result, outcome.err, false
	case <-timeoutCtx.Done():
		return nil, nil, true
	}
}

func extractArguments(params json.RawMessage) json.RawMessage {
	var p CallToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil
	}
	return p.Arguments
}
