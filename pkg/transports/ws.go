package transports

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/interpret/pkg/errorsx"
)

// ErrConnClosed is returned by Send after the connection has terminated.
var ErrConnClosed = errors.New("transports: connection closed")

const (
	defaultHandshakeTimeout = 15 * time.Second
	closeGracePeriod        = 2 * time.Second
)

// WebSocketDialer dials gorilla WebSocket connections.
type WebSocketDialer struct {
	// HandshakeTimeout bounds the dial. Zero means the 15s default.
	HandshakeTimeout time.Duration
}

func (d *WebSocketDialer) Name() string { return "websocket" }

func (d *WebSocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = defaultHandshakeTimeout
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	ws, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, errorsx.Wrap(err, errorsx.ReasonAuthRejected)
		}
		return nil, errorsx.Wrap(err, errorsx.ReasonTransportDial)
	}
	c := &wsConn{
		ws:     ws,
		recvCh: make(chan Message, 256),
	}
	go c.readPump()
	return c, nil
}

type wsConn struct {
	ws      *websocket.Conn
	recvCh  chan Message
	writeMu sync.Mutex

	mu      sync.Mutex
	closed  bool
	termErr error
}

func (c *wsConn) readPump() {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			wasClosed := c.closed
			if !wasClosed && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.termErr = errorsx.Wrap(err, errorsx.ReasonTransportClosed)
			}
			c.closed = true
			c.mu.Unlock()
			close(c.recvCh)
			_ = c.ws.Close()
			return
		}
		switch mt {
		case websocket.TextMessage:
			c.recvCh <- Message{Type: TextMessage, Data: data}
		case websocket.BinaryMessage:
			c.recvCh <- Message{Type: BinaryMessage, Data: data}
		}
	}
}

func (c *wsConn) Recv() <-chan Message { return c.recvCh }

func (c *wsConn) Send(m Message) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	c.mu.Unlock()

	mt := websocket.TextMessage
	if m.Type == BinaryMessage {
		mt = websocket.BinaryMessage
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(mt, m.Data); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	return nil
}

func (c *wsConn) Close(code int, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	deadline := time.Now().Add(closeGracePeriod)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
	c.writeMu.Unlock()

	return c.ws.Close()
}

func (c *wsConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.termErr
}
