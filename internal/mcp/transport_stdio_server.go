package mcp

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"sync"
)

// StdioServerTransport drives a HardenedServer from newline-delimited JSON
// on r/w, mirroring the reader-goroutine shape of StdioTransport's readLoop
// but in the opposite direction: it reads requests/notifications and writes
// responses. There is exactly one logical client on a stdio connection, so
// clientID is fixed at construction.
type StdioServerTransport struct {
	server   *HardenedServer
	clientID string
	logger   *slog.Logger

	r      io.Reader
	w      io.Writer
	writeMu sync.Mutex
}

// NewStdioServerTransport builds a stdio-side server transport reading from
// r and writing responses to w, with one fixed clientID identifying the
// single peer a stdio connection always has.
func NewStdioServerTransport(server *HardenedServer, clientID string, r io.Reader, w io.Writer, logger *slog.Logger) *StdioServerTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioServerTransport{
		server:   server,
		clientID: clientID,
		logger:   logger.With("transport", "stdio", "client_id", clientID),
		r:        r,
		w:        w,
	}
}

// Serve reads newline-delimited frames from r until EOF, ctx cancellation,
// or a fatal write error, dispatching each through the HardenedServer and
// writing back any response line. It registers itself as the server's
// outbound-notification sink for this client for the duration of the call.
func (t *StdioServerTransport) Serve(ctx context.Context) error {
	if core, ok := t.server.Core.(*ServerCore); ok {
		core.SetOutbound(func(clientID string, notif *JSONRPCNotification) {
			if clientID != t.clientID {
				return
			}
			out, err := Encode(&Frame{Kind: FrameNotification, Notification: notif})
			if err != nil {
				return
			}
			t.writeLine(out)
		})
	}

	scanner := bufio.NewScanner(t.r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
	}()

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		// Copy since scanner reuses its buffer.
		raw := append([]byte(nil), line...)

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		out := t.server.HandleFrame(ctx, t.clientID, raw)
		if out != nil {
			t.writeLine(out)
		}
	}
	return scanner.Err()
}

func (t *StdioServerTransport) writeLine(data []byte) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.w.Write(data)
	t.w.Write([]byte("\n"))
}
