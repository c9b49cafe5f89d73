package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// HTTPServerTransport exposes a HardenedServer over net/http: a JSON-RPC
// POST endpoint, a Server-Sent-Events stream for server-to-client
// notifications, and a REST convenience surface mirroring spec.md §6's
// tools/resources/prompts listing endpoints. Grounded on the gateway's
// startHTTPServer mux-wiring style.
type HTTPServerTransport struct {
	server *HardenedServer
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]chan []byte

	httpServer *http.Server
	listener   net.Listener
}

// NewHTTPServerTransport builds the HTTP transport atop server.
func NewHTTPServerTransport(server *HardenedServer, logger *slog.Logger) *HTTPServerTransport {
	if logger == nil {
		logger = slog.Default()
	}
	t := &HTTPServerTransport{
		server: server,
		logger: logger.With("transport", "http"),
		subs:   make(map[string]chan []byte),
	}
	if core, ok := server.Core.(*ServerCore); ok {
		core.SetOutbound(t.sendTo)
	}
	return t
}

// Mux builds the http.Handler for this transport: JSON-RPC endpoint, SSE
// stream, health/info, and REST convenience routes.
func (t *HTTPServerTransport) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", t.handleHealth)
	mux.HandleFunc("/info", t.handleInfo)
	mux.HandleFunc("/rpc", t.handleRPC)
	mux.HandleFunc("/events", t.handleEvents)
	mux.HandleFunc("/tools", t.handleToolsList)
	mux.HandleFunc("/tools/", t.handleToolCall)
	mux.HandleFunc("/resources", t.handleResourcesList)
	mux.HandleFunc("/resources/", t.handleResourceRead)
	mux.HandleFunc("/prompts", t.handlePromptsList)
	mux.HandleFunc("/prompts/", t.handlePromptGet)
	return mux
}

// ListenAndServe starts serving on addr until ctx is cancelled.
func (t *HTTPServerTransport) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	t.listener = listener
	t.httpServer = &http.Server{Handler: t.Mux(), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- t.httpServer.Serve(listener) }()

	t.logger.Info("http transport listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		t.httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func clientIDFromRequest(r *http.Request) string {
	if id := r.Header.Get("X-MCP-Client-ID"); id != "" {
		return id
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		return "auth:" + auth
	}
	return "anon:" + r.RemoteAddr
}

func (t *HTTPServerTransport) credentialsFromRequest(r *http.Request) Credentials {
	creds := Credentials{"clientId": clientIDFromRequest(r)}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		creds["token"] = strings.TrimSpace(auth[len("Bearer "):])
	}
	return creds
}

func (t *HTTPServerTransport) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (t *HTTPServerTransport) handleInfo(w http.ResponseWriter, r *http.Request) {
	core, ok := t.server.Core.(*ServerCore)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"protocolVersion": ProtocolVersion})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":            core.Name,
		"version":         core.Version,
		"protocolVersion": ProtocolVersion,
	})
}

func (t *HTTPServerTransport) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw, err := readAll(r)
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	oldCreds := t.server.Credentials
	t.server.Credentials = func(clientID string) Credentials { return t.credentialsFromRequest(r) }
	defer func() { t.server.Credentials = oldCreds }()

	out := t.server.HandleFrame(r.Context(), clientIDFromRequest(r), raw)
	w.Header().Set("Content-Type", "application/json")
	if out == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Write(out)
}

func (t *HTTPServerTransport) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	clientID := clientIDFromRequest(r)
	ch := make(chan []byte, 32)
	t.mu.Lock()
	t.subs[clientID] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.subs, clientID)
		t.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-ch:
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		case <-time.After(30 * time.Second):
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func (t *HTTPServerTransport) sendTo(clientID string, notif *JSONRPCNotification) {
	out, err := json.Marshal(notif)
	if err != nil {
		return
	}
	t.mu.Lock()
	ch, ok := t.subs[clientID]
	t.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- out:
	default:
	}
}

// handleToolsList implements GET /tools, a REST convenience mirror of a
// tools/list JSON-RPC call.
func (t *HTTPServerTransport) handleToolsList(w http.ResponseWriter, r *http.Request) {
	t.callViaRPC(w, r, "tools/list", nil)
}

func (t *HTTPServerTransport) handleToolCall(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/tools/")
	if name == "" {
		http.NotFound(w, r)
		return
	}
	var args json.RawMessage
	if r.Method == http.MethodPost {
		raw, err := readAll(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		args = raw
	}
	params, _ := json.Marshal(CallToolParams{Name: name, Arguments: args})
	t.callViaRPC(w, r, "tools/call", params)
}

func (t *HTTPServerTransport) handleResourcesList(w http.ResponseWriter, r *http.Request) {
	t.callViaRPC(w, r, "resources/list", nil)
}

func (t *HTTPServerTransport) handleResourceRead(w http.ResponseWriter, r *http.Request) {
	uri := strings.TrimPrefix(r.URL.Path, "/resources/")
	if uri == "" {
		http.NotFound(w, r)
		return
	}
	params, _ := json.Marshal(map[string]string{"uri": uri})
	t.callViaRPC(w, r, "resources/read", params)
}

func (t *HTTPServerTransport) handlePromptsList(w http.ResponseWriter, r *http.Request) {
	t.callViaRPC(w, r, "prompts/list", nil)
}

func (t *HTTPServerTransport) handlePromptGet(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/prompts/")
	if name == "" {
		http.NotFound(w, r)
		return
	}
	params, _ := json.Marshal(map[string]string{"name": name})
	t.callViaRPC(w, r, "prompts/get", params)
}

// callViaRPC builds a synthetic JSON-RPC request for method/params and
// drives it through the same hardened pipeline the /rpc endpoint uses, so
// REST convenience routes get identical rate-limiting/auth/metrics
// treatment to raw JSON-RPC calls.
func (t *HTTPServerTransport) callViaRPC(w http.ResponseWriter, r *http.Request, method string, params json.RawMessage) {
	req := &JSONRPCRequest{JSONRPC: "2.0", ID: uuid.NewString(), Method: method, Params: params}
	raw, _ := Encode(&Frame{Kind: FrameRequest, Request: req})

	oldCreds := t.server.Credentials
	t.server.Credentials = func(clientID string) Credentials { return t.credentialsFromRequest(r) }
	defer func() { t.server.Credentials = oldCreds }()

	out := t.server.HandleFrame(r.Context(), clientIDFromRequest(r), raw)
	w.Header().Set("Content-Type", "application/json")
	w.Write(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func readAll(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := r.Body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return buf, nil
			}
			return buf, err
		}
	}
}
