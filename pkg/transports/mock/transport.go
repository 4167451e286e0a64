package mock

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/harunnryd/interpret/pkg/transports"
)

// Conn is an in-memory connection for local testing and integration.
// It implements the transports.Conn interface without any network dependency.
type Conn struct {
	recvCh chan transports.Message
	sentCh chan transports.Message
	closed atomic.Bool
	mu     sync.Mutex

	termErr   error
	closeCode int
	closeText string

	// SendErr, when set, is returned by every subsequent Send call.
	SendErr error
}

func NewConn() *Conn {
	return &Conn{
		recvCh: make(chan transports.Message, 256),
		sentCh: make(chan transports.Message, 256),
	}
}

func (c *Conn) Recv() <-chan transports.Message { return c.recvCh }

func (c *Conn) Send(m transports.Message) error {
	c.mu.Lock()
	sendErr := c.SendErr
	c.mu.Unlock()
	if sendErr != nil {
		return sendErr
	}
	if c.closed.Load() {
		return transports.ErrConnClosed
	}
	select {
	case c.sentCh <- m:
	default:
	}
	return nil
}

func (c *Conn) Close(code int, reason string) error {
	if c.closed.CompareAndSwap(false, true) {
		c.mu.Lock()
		c.closeCode = code
		c.closeText = reason
		close(c.recvCh)
		c.mu.Unlock()
	}
	return nil
}

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.termErr
}

// Push injects an inbound message into the connection.
func (c *Conn) Push(m transports.Message) {
	if c.closed.Load() {
		return
	}
	select {
	case c.recvCh <- m:
	default:
	}
}

// PushText injects an inbound text message.
func (c *Conn) PushText(data string) {
	c.Push(transports.Message{Type: transports.TextMessage, Data: []byte(data)})
}

// PushBinary injects an inbound binary message.
func (c *Conn) PushBinary(data []byte) {
	c.Push(transports.Message{Type: transports.BinaryMessage, Data: data})
}

// FailWith terminates the connection with the given error, as if the peer
// dropped it. Recv is closed and Err reports err afterwards.
func (c *Conn) FailWith(err error) {
	if c.closed.CompareAndSwap(false, true) {
		c.mu.Lock()
		c.termErr = err
		close(c.recvCh)
		c.mu.Unlock()
	}
}

// Sent exposes outbound messages for inspection.
func (c *Conn) Sent() <-chan transports.Message { return c.sentCh }

// CloseCode reports the code passed to Close, or zero if never closed.
func (c *Conn) CloseCode() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeText
}

// Dialer hands out scripted connections in order. When the script is
// exhausted it mints fresh empty connections.
type Dialer struct {
	mu      sync.Mutex
	scripts []*Conn
	dialErr error

	DialedURLs    []string
	DialedHeaders []http.Header
}

func NewDialer(conns ...*Conn) *Dialer {
	return &Dialer{scripts: conns}
}

// FailNextDial makes every subsequent Dial return err.
func (d *Dialer) FailNextDial(err error) {
	d.mu.Lock()
	d.dialErr = err
	d.mu.Unlock()
}

func (d *Dialer) Name() string { return "mock" }

func (d *Dialer) Dial(ctx context.Context, url string, header http.Header) (transports.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialedURLs = append(d.DialedURLs, url)
	d.DialedHeaders = append(d.DialedHeaders, header)
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	if len(d.scripts) > 0 {
		c := d.scripts[0]
		d.scripts = d.scripts[1:]
		return c, nil
	}
	return NewConn(), nil
}
