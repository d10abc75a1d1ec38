package protocol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// WSTransport is a websocket connection to the broker bridge.
type WSTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// DialWS connects to the broker bridge endpoint.
func DialWS(ctx context.Context, url string) (*WSTransport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial bridge at %s: %w", url, err)
	}
	conn.SetReadLimit(maxMessageSize)
	return &WSTransport{conn: conn}, nil
}

// Send writes one message frame. Concurrent sends are serialized; gorilla
// connections support one writer at a time.
func (t *WSTransport) Send(ctx context.Context, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Listen reads frames until the connection closes, handing each to the
// handler. It blocks; run it on its own goroutine.
func (t *WSTransport) Listen(handler func([]byte) error) error {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if err := handler(data); err != nil {
			// Malformed frames are dropped, not fatal.
			continue
		}
	}
}

// Close closes the connection after a best-effort close frame.
func (t *WSTransport) Close() error {
	t.writeMu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()
	return t.conn.Close()
}
