package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// WebsocketTransport maps frames onto binary websocket messages: the
// websocket layer already provides message boundaries, so no extra length
// prefix is needed. Useful for clients that cannot open a local socket.
type WebsocketTransport struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	closed  atomic.Bool
}

// NewWebsocket wraps an established websocket connection. maxFrameSize <= 0
// uses DefaultMaxFrameSize.
func NewWebsocket(conn *websocket.Conn, maxFrameSize int) *WebsocketTransport {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	conn.SetReadLimit(int64(maxFrameSize))
	return &WebsocketTransport{conn: conn}
}

func (t *WebsocketTransport) Send(frame []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.closed.Load() {
		return ErrClosed
	}
	if err := t.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("transport: websocket write: %w", err)
	}
	return nil
}

func (t *WebsocketTransport) Receive() ([]byte, error) {
	for {
		if t.closed.Load() {
			return nil, ErrClosed
		}
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			if t.closed.Load() {
				return nil, ErrClosed
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			if errors.Is(err, websocket.ErrReadLimit) {
				return nil, ErrFrameTooLarge
			}
			if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("transport: websocket read: %w", err)
		}
		if msgType != websocket.BinaryMessage {
			// Text and control frames are not part of the protocol; skip.
			continue
		}
		return data, nil
	}
}

func (t *WebsocketTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.conn.Close()
}
