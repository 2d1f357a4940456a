package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

// WebSocketTransport adapts a [websocket.Conn] to the [Transport] interface.
// Sends are serialised with a mutex: captions, audio capture, and the driver
// all write concurrently, and the underlying connection permits only one
// writer at a time.
type WebSocketTransport struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

// NewWebSocketTransport wraps an accepted WebSocket connection.
func NewWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	return &WebSocketTransport{conn: conn}
}

// ReadMessage implements [Transport].
func (t *WebSocketTransport) ReadMessage(ctx context.Context) (InboundMessage, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		return InboundMessage{}, fmt.Errorf("bridge: websocket read: %w", err)
	}
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return InboundMessage{}, fmt.Errorf("bridge: decode inbound message: %w", err)
	}
	return msg, nil
}

// Send implements [Sender].
func (t *WebSocketTransport) Send(ctx context.Context, msg OutboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bridge: encode outbound message: %w", err)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("bridge: websocket write: %w", err)
	}
	return nil
}

// Close closes the underlying connection with a normal-closure status.
func (t *WebSocketTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "session ended")
}
