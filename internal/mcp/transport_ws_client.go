package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsClientPongWait     = 45 * time.Second
	wsClientPingInterval = 20 * time.Second
	wsClientWriteWait    = 10 * time.Second
)

// WSTransport implements the MCP WebSocket transport, the client-side
// counterpart to WSServerTransport. Uses gorilla/websocket, the same library
// WSServerTransport already upgrades connections with server-side, so both
// halves of the protocol share one WebSocket dependency.
type WSTransport struct {
	config *ServerConfig
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	send chan []byte

	pending   map[string]chan *JSONRPCResponse
	pendingMu sync.Mutex

	events    chan *JSONRPCNotification
	requests  chan *JSONRPCRequest
	connected atomic.Bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewWSTransport creates a new WebSocket transport.
func NewWSTransport(cfg *ServerConfig) *WSTransport {
	return &WSTransport{
		config:   cfg,
		logger:   slog.Default().With("mcp_server", cfg.ID, "transport", "websocket"),
		send:     make(chan []byte, 64),
		pending:  make(map[string]chan *JSONRPCResponse),
		events:   make(chan *JSONRPCNotification, 100),
		requests: make(chan *JSONRPCRequest, 100),
		stopChan: make(chan struct{}),
	}
}

// Connect dials the WebSocket server and starts the read/write loops.
func (t *WSTransport) Connect(ctx context.Context) error {
	if t.config.URL == "" {
		return fmt.Errorf("URL is required for WebSocket transport")
	}

	header := make(map[string][]string)
	for k, v := range t.config.Headers {
		header[k] = []string{v}
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, t.config.URL, header)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	t.connected.Store(true)
	t.logger.Info("websocket transport connected", "url", t.config.URL)

	t.wg.Add(2)
	go t.readLoop()
	go t.writeLoop()

	return nil
}

// Close closes the WebSocket connection and waits for its loops to exit.
func (t *WSTransport) Close() error {
	if !t.connected.CompareAndSwap(true, false) {
		return nil
	}
	close(t.stopChan)
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	t.wg.Wait()
	return nil
}

// Call sends a request over the socket and waits for its matching response.
func (t *WSTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("not connected")
	}

	id := uuid.New().String()
	req := JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = paramsJSON
	}

	data, err := Encode(&Frame{Kind: FrameRequest, Request: &req})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	wait := make(chan *JSONRPCResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = wait
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	select {
	case t.send <- data:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.stopChan:
		return nil, fmt.Errorf("transport closed")
	}

	select {
	case resp := <-wait:
		if resp.Error != nil {
			return nil, fmt.Errorf("MCP error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.stopChan:
		return nil, fmt.Errorf("transport closed")
	}
}

// Notify sends a notification (no response expected).
func (t *WSTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return fmt.Errorf("not connected")
	}

	notif := JSONRPCNotification{JSONRPC: "2.0", Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		notif.Params = paramsJSON
	}

	data, err := Encode(&Frame{Kind: FrameNotification, Notification: &notif})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	select {
	case t.send <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.stopChan:
		return fmt.Errorf("transport closed")
	}
}

// Events returns the notification channel.
func (t *WSTransport) Events() <-chan *JSONRPCNotification {
	return t.events
}

// Requests returns the request channel.
func (t *WSTransport) Requests() <-chan *JSONRPCRequest {
	return t.requests
}

// Respond sends a response to a server-initiated request.
func (t *WSTransport) Respond(ctx context.Context, id any, result any, rpcErr *JSONRPCError) error {
	if !t.connected.Load() {
		return fmt.Errorf("not connected")
	}

	resp := JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: rpcErr}
	if rpcErr == nil && result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		resp.Result = data
	}

	data, err := Encode(&Frame{Kind: FrameResponse, Response: &resp})
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	select {
	case t.send <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.stopChan:
		return fmt.Errorf("transport closed")
	}
}

// Connected returns whether the transport is connected.
func (t *WSTransport) Connected() bool {
	return t.connected.Load()
}

// readLoop decodes inbound frames and routes them to the pending-call map,
// the requests channel, or the events channel depending on frame kind.
func (t *WSTransport) readLoop() {
	defer t.wg.Done()
	defer t.connected.Store(false)

	conn := t.conn
	conn.SetReadLimit(wsServerMaxPayloadBytes)
	conn.SetReadDeadline(time.Now().Add(wsClientPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsClientPongWait))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !isExpectedCloseErr(err) {
				t.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		frame, protoErr := Decode(data)
		if protoErr != nil {
			t.logger.Warn("discarding malformed frame", "error", protoErr)
			continue
		}

		switch frame.Kind {
		case FrameResponse:
			t.routeResponse(frame.Response)
		case FrameRequest:
			select {
			case t.requests <- frame.Request:
			default:
				t.logger.Warn("request channel full, dropping")
			}
		case FrameNotification:
			select {
			case t.events <- frame.Notification:
			default:
				t.logger.Warn("notification channel full, dropping")
			}
		}
	}
}

func (t *WSTransport) routeResponse(resp *JSONRPCResponse) {
	if resp == nil {
		return
	}
	id, ok := resp.ID.(string)
	if !ok {
		return
	}
	t.pendingMu.Lock()
	wait, ok := t.pending[id]
	t.pendingMu.Unlock()
	if !ok {
		return
	}
	select {
	case wait <- resp:
	default:
	}
}

// writeLoop drains the send channel and keeps the connection alive with
// periodic pings, mirroring WSServerTransport's write loop.
func (t *WSTransport) writeLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(wsClientPingInterval)
	defer ticker.Stop()

	conn := t.conn
	for {
		select {
		case <-t.stopChan:
			return
		case msg, ok := <-t.send:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsClientWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsClientWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func isExpectedCloseErr(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}
