package mcp

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsServerMaxPayloadBytes = 1 << 20
	wsServerPongWait        = 45 * time.Second
	wsServerPingInterval    = 20 * time.Second
	wsServerWriteWait       = 10 * time.Second
)

// WSServerTransport upgrades inbound connections to WebSocket and drives a
// HardenedServer over them, one peer per connection, broadcasting server
// notifications to every peer subscribed to them. Grounded on the gateway's
// ws_control_plane.go upgrader/read-loop/write-loop shape.
type WSServerTransport struct {
	server   *HardenedServer
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	peers map[string]*wsServerPeer
}

// NewWSServerTransport builds a WebSocket server transport atop server.
func NewWSServerTransport(server *HardenedServer, logger *slog.Logger) *WSServerTransport {
	if logger == nil {
		logger = slog.Default()
	}
	t := &WSServerTransport{
		server: server,
		logger: logger.With("transport", "websocket"),
		peers:  make(map[string]*wsServerPeer),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	if core, ok := server.Core.(*ServerCore); ok {
		core.SetOutbound(t.sendTo)
	}
	return t
}

type wsServerPeer struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
}

// ServeHTTP implements http.Handler, upgrading the connection and running
// the peer's read/write loops until it disconnects.
func (t *WSServerTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	peer := &wsServerPeer{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, 64),
		ctx:    ctx,
		cancel: cancel,
	}

	t.mu.Lock()
	t.peers[peer.id] = peer
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.peers, peer.id)
		t.mu.Unlock()
		cancel()
		close(peer.send)
		conn.Close()
	}()

	go t.writeLoop(peer)
	t.readLoop(peer)
}

func (t *WSServerTransport) readLoop(peer *wsServerPeer) {
	peer.conn.SetReadLimit(wsServerMaxPayloadBytes)
	peer.conn.SetReadDeadline(time.Now().Add(wsServerPongWait))
	peer.conn.SetPongHandler(func(string) error {
		return peer.conn.SetReadDeadline(time.Now().Add(wsServerPongWait))
	})

	for {
		msgType, data, err := peer.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		out := t.server.HandleFrame(peer.ctx, peer.id, data)
		if out != nil {
			t.enqueue(peer, out)
		}
	}
}

func (t *WSServerTransport) writeLoop(peer *wsServerPeer) {
	ticker := time.NewTicker(wsServerPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-peer.ctx.Done():
			return
		case msg, ok := <-peer.send:
			if !ok {
				return
			}
			peer.conn.SetWriteDeadline(time.Now().Add(wsServerWriteWait))
			if err := peer.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			peer.conn.SetWriteDeadline(time.Now().Add(wsServerWriteWait))
			if err := peer.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (t *WSServerTransport) enqueue(peer *wsServerPeer, data []byte) {
	select {
	case peer.send <- data:
	default:
		t.logger.Warn("peer send buffer full, dropping message", "peer", peer.id)
	}
}

// sendTo is registered as the ServerCore's outbound notification sink,
// routing a server-to-client notification to the matching connected peer.
func (t *WSServerTransport) sendTo(clientID string, notif *JSONRPCNotification) {
	out, err := Encode(&Frame{Kind: FrameNotification, Notification: notif})
	if err != nil {
		return
	}
	t.mu.Lock()
	peer, ok := t.peers[clientID]
	t.mu.Unlock()
	if !ok {
		return
	}
	t.enqueue(peer, out)
}

// PeerCount reports the number of currently connected peers.
func (t *WSServerTransport) PeerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}
