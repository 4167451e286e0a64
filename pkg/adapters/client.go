// Package adapters defines the uniform client contract every vendor
// adapter satisfies, plus the connection state machine and pre-ready send
// queue they share.
package adapters

import (
	"context"

	"github.com/harunnryd/interpret/pkg/conversation"
	"github.com/harunnryd/interpret/pkg/session"
)

// ResponseConfig customizes a single model response request.
type ResponseConfig struct {
	Instructions string
	Modalities   []string
	// Conversation set to "none" requests an out-of-band response that
	// does not join the default conversation.
	Conversation string
	Metadata     map[string]any
}

// Handlers receives adapter lifecycle and conversation callbacks. All
// callbacks are optional and are invoked from the adapter's event loop, so
// they must not block.
type Handlers struct {
	OnOpen  func()
	OnClose func(err error)
	OnError func(err error)

	OnConversationUpdated     func(update conversation.Update)
	OnConversationInterrupted func()

	// OnRealtimeEvent mirrors every raw wire event, inbound and
	// outbound, for diagnostics.
	OnRealtimeEvent func(source EventSource, eventType string, payload any)
}

// EventSource tags the direction of a mirrored wire event.
type EventSource string

const (
	SourceClient EventSource = "client"
	SourceServer EventSource = "server"
)

// Client is the uniform session surface over all vendor protocols.
type Client interface {
	// Connect establishes the session and blocks until the vendor
	// acknowledges readiness or the attempt fails.
	Connect(ctx context.Context, cfg session.Config) error

	// Disconnect tears the session down gracefully. It is idempotent.
	Disconnect(ctx context.Context) error

	IsConnected() bool

	// UpdateSession applies a partial configuration change. Vendors
	// without a mid-session update frame merge locally and log.
	UpdateSession(ctx context.Context, cfg session.Config) error

	// Reset clears the local transcript without touching the connection.
	Reset()

	// AppendInputAudio streams one PCM16 chunk. Sends before readiness
	// are queued and flushed in order once the session is ready.
	AppendInputAudio(samples []int16) error

	// AppendInputText submits typed text as user input.
	AppendInputText(text string) error

	// CreateResponse asks the vendor to produce a response now.
	CreateResponse(cfg *ResponseConfig) error

	// CancelResponse aborts the in-flight response, if any.
	CancelResponse() error

	Items() []conversation.Item
	SetHandlers(h Handlers)
	Provider() session.Provider
}
