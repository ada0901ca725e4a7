package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// handshakeTimeout bounds the relay dial, the ready wait, and the resume
// manifest wait. Body streaming has no per-chunk timeout.
const handshakeTimeout = 30 * time.Second

// dial connects to the relay. The URL scheme selects plain ws or TLS wss.
func dial(ctx context.Context, server string) (*websocket.Conn, error) {
	d := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := d.DialContext(ctx, server, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", server, err)
	}
	return conn, nil
}

// sendJSON writes v as one compact text frame.
func sendJSON(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

// readFrame reads one whole frame. A zero timeout disables the deadline.
func readFrame(conn *websocket.Conn, timeout time.Duration) (kind int, data []byte, err error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, nil, err
	}
	return conn.ReadMessage()
}
