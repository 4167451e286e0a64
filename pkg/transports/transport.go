package transports

import (
	"context"
	"net/http"
)

// MessageType distinguishes text and binary wire frames. Values match the
// RFC 6455 opcode numbering so WebSocket implementations map them directly.
type MessageType int

const (
	TextMessage   MessageType = 1
	BinaryMessage MessageType = 2
)

// Message is one inbound or outbound wire frame.
type Message struct {
	Type MessageType
	Data []byte
}

// Conn is an established message-oriented connection. Implementations are
// responsible for their own network lifecycle: the Recv channel is closed
// when the connection ends, after which Err reports the terminal error
// (nil for a clean local or remote close).
type Conn interface {
	Recv() <-chan Message
	Send(Message) error
	Close(code int, reason string) error
	Err() error
}

// Dialer establishes message connections to a vendor endpoint.
type Dialer interface {
	Name() string
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// CloseCodeBillingPolicy mirrors the WebSocket policy-violation close code
// used for billing-enforced termination.
const CloseCodeBillingPolicy = 1008

// CloseCodeNormal is the standard clean-shutdown close code.
const CloseCodeNormal = 1000
