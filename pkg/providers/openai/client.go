// Package openai implements the realtime JSON event protocol over two
// transports: a WebSocket carrying the full event stream, and a WebRTC
// data channel negotiated with an ephemeral token.
package openai

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/interpret/pkg/adapters"
	"github.com/harunnryd/interpret/pkg/audio"
	"github.com/harunnryd/interpret/pkg/billing"
	"github.com/harunnryd/interpret/pkg/conversation"
	"github.com/harunnryd/interpret/pkg/errorsx"
	"github.com/harunnryd/interpret/pkg/session"
	"github.com/harunnryd/interpret/pkg/transports"
)

const disconnectGrace = 2 * time.Second

// Options configures a client independent of any one session.
type Options struct {
	Logger        *slog.Logger
	UsageReporter billing.Reporter
	SubjectID     string
}

type dialFunc func(ctx context.Context, cfg *session.OpenAIConfig) (transports.Conn, error)

// Client is the shared event core. The WS and WebRTC constructors differ
// only in how they dial.
type Client struct {
	transport string
	dial      dialFunc
	log       *slog.Logger
	reporter  billing.Reporter
	subjectID string

	fsm   *adapters.StateMachine
	queue *adapters.PendingQueue

	mu        sync.Mutex
	handlers  adapters.Handlers
	cfg       *session.OpenAIConfig
	conn      transports.Conn
	norm      *conversation.Normalizer
	usage     *billing.Dispatcher
	sessionID string
	loopDone  chan struct{}
}

func newClient(transport string, dial dialFunc, opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		transport: transport,
		dial:      dial,
		log:       log.With(slog.String("component", "openai."+transport)),
		reporter:  opts.UsageReporter,
		subjectID: opts.SubjectID,
		fsm:       adapters.NewStateMachine(),
		queue:     adapters.NewPendingQueue(0),
		norm:      conversation.NewNormalizer("idle"),
	}
}

func (c *Client) Provider() session.Provider { return session.ProviderOpenAI }

func (c *Client) SetHandlers(h adapters.Handlers) {
	c.mu.Lock()
	c.handlers = h
	c.mu.Unlock()
}

func (c *Client) callbacks() adapters.Handlers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers
}

func (c *Client) IsConnected() bool {
	return c.fsm.Is(adapters.StateReady, adapters.StateStreaming)
}

func (c *Client) Items() []conversation.Item {
	c.mu.Lock()
	norm := c.norm
	c.mu.Unlock()
	return norm.Items()
}

func (c *Client) Reset() {
	c.mu.Lock()
	norm := c.norm
	c.mu.Unlock()
	norm.Reset()
}

// Connect dials, waits for the server's session acknowledgment, pushes the
// session configuration and flushes any queued sends.
func (c *Client) Connect(ctx context.Context, cfg session.Config) error {
	oc, ok := session.AsOpenAI(cfg)
	if !ok {
		return errorsx.New(errorsx.ReasonConfigProvider, "openai client got %s config", cfg.Provider())
	}
	if err := oc.Validate(); err != nil {
		return err
	}
	if err := c.fsm.Transition(adapters.StateConnecting); err != nil {
		return err
	}

	sessionID := uuid.NewString()
	ready := make(chan struct{})
	fail := make(chan error, 1)
	loopDone := make(chan struct{})

	c.mu.Lock()
	c.cfg = oc
	c.sessionID = sessionID
	c.norm = conversation.NewNormalizer(sessionID)
	c.queue.Discard()
	if c.reporter != nil {
		c.usage = billing.NewDispatcher(c.reporter, 64, c.onBillingFatal)
	}
	c.loopDone = loopDone
	c.mu.Unlock()

	conn, err := c.dial(ctx, oc)
	if err != nil {
		c.fsm.Force(adapters.StateFailed)
		close(loopDone)
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	_ = c.fsm.Transition(adapters.StateAuthenticating)

	go c.readLoop(conn, ready, fail, loopDone)

	select {
	case <-ready:
	case err := <-fail:
		_ = conn.Close(transports.CloseCodeNormal, "")
		c.fsm.Force(adapters.StateFailed)
		return err
	case <-ctx.Done():
		_ = conn.Close(transports.CloseCodeNormal, "")
		c.fsm.Force(adapters.StateFailed)
		return errorsx.Wrap(ctx.Err(), errorsx.ReasonTransportDial)
	}

	if err := c.writeEvent(conn, evSessionUpdate, sessionUpdatePayload(oc)); err != nil {
		_ = conn.Close(transports.CloseCodeNormal, "")
		c.fsm.Force(adapters.StateFailed)
		return err
	}
	if err := c.fsm.Transition(adapters.StateReady); err != nil {
		return err
	}
	if err := c.queue.Flush(func(p any) error {
		return conn.Send(transports.Message{Type: transports.TextMessage, Data: p.([]byte)})
	}); err != nil {
		c.log.Warn("flushing queued sends failed", slog.String("error", err.Error()))
	}

	c.log.Info("session ready", slog.String("session_id", sessionID), slog.String("model", oc.Model))
	if h := c.callbacks(); h.OnOpen != nil {
		h.OnOpen()
	}
	return nil
}

// Disconnect closes the session gracefully. Safe to call repeatedly.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	loopDone := c.loopDone
	c.mu.Unlock()

	if c.fsm.Live() {
		_ = c.fsm.Transition(adapters.StateClosing)
		if conn != nil {
			_ = conn.Close(transports.CloseCodeNormal, "client disconnect")
			if loopDone != nil {
				// Let the read loop drain buffered events first.
				select {
				case <-loopDone:
				case <-time.After(disconnectGrace):
				case <-ctx.Done():
				}
			}
		}
		c.fsm.Force(adapters.StateClosed)
	}

	c.mu.Lock()
	usage := c.usage
	c.usage = nil
	c.mu.Unlock()
	if usage != nil {
		usage.Close()
	}
	return nil
}

// UpdateSession merges the patch into the active configuration and pushes
// a session.update frame.
func (c *Client) UpdateSession(ctx context.Context, cfg session.Config) error {
	patch, ok := session.AsOpenAI(cfg)
	if !ok {
		return errorsx.New(errorsx.ReasonConfigProvider, "openai client got %s config", cfg.Provider())
	}
	c.mu.Lock()
	if c.cfg == nil {
		c.mu.Unlock()
		return errorsx.New(errorsx.ReasonSessionState, "update before connect")
	}
	merged := c.cfg.Merge(patch)
	c.cfg = merged
	c.mu.Unlock()
	return c.sendEvent(evSessionUpdate, sessionUpdatePayload(merged))
}

// AppendInputAudio streams one PCM16 chunk to the input buffer.
func (c *Client) AppendInputAudio(samples []int16) error {
	err := c.sendEvent(evInputAudioAppend, map[string]any{
		"audio": audio.Base64FromPCM16(samples),
	})
	if err != nil {
		return err
	}
	if c.fsm.Is(adapters.StateReady) {
		_ = c.fsm.Transition(adapters.StateStreaming)
	}
	return nil
}

// AppendInputText submits typed text and asks for a response.
func (c *Client) AppendInputText(text string) error {
	err := c.sendEvent(evConversationCreate, map[string]any{
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []any{
				map[string]any{"type": "input_text", "text": text},
			},
		},
	})
	if err != nil {
		return err
	}
	return c.sendEvent(evResponseCreate, map[string]any{})
}

// CreateResponse requests a model response. When server turn detection is
// off the input buffer is committed first, except for out-of-band
// responses which do not consume it.
func (c *Client) CreateResponse(cfg *adapters.ResponseConfig) error {
	c.mu.Lock()
	active := c.cfg
	c.mu.Unlock()

	outOfBand := cfg != nil && cfg.Conversation == "none"
	turnDetectionOff := active == nil || active.TurnDetection == nil || active.TurnDetection.Type == session.TurnDetectionNone
	if turnDetectionOff && !outOfBand {
		if err := c.sendEvent(evInputAudioCommit, map[string]any{}); err != nil {
			return err
		}
	}

	response := map[string]any{}
	if cfg != nil {
		if cfg.Instructions != "" {
			response["instructions"] = cfg.Instructions
		}
		if len(cfg.Modalities) > 0 {
			response["modalities"] = cfg.Modalities
		}
		if cfg.Conversation != "" {
			response["conversation"] = cfg.Conversation
		}
		if cfg.Metadata != nil {
			response["metadata"] = cfg.Metadata
		}
	}
	return c.sendEvent(evResponseCreate, map[string]any{"response": response})
}

// CancelResponse aborts the in-flight response.
func (c *Client) CancelResponse() error {
	return c.sendEvent(evResponseCancel, map[string]any{})
}

// sendEvent marshals and sends an event, queueing it when the session is
// not ready yet.
func (c *Client) sendEvent(eventType string, payload map[string]any) error {
	body := map[string]any{"type": eventType}
	for k, v := range payload {
		body[k] = v
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonCodecEncode)
	}
	if h := c.callbacks(); h.OnRealtimeEvent != nil {
		h.OnRealtimeEvent(adapters.SourceClient, eventType, body)
	}
	if c.fsm.Is(adapters.StateConnecting, adapters.StateAuthenticating, adapters.StateIdle) {
		if c.queue.Enqueue(raw) {
			return nil
		}
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || !c.fsm.Live() {
		return errorsx.Wrap(transports.ErrConnClosed, errorsx.ReasonTransportClosed)
	}
	return conn.Send(transports.Message{Type: transports.TextMessage, Data: raw})
}

// writeEvent sends directly, bypassing the pre-ready queue. Used for the
// handshake itself.
func (c *Client) writeEvent(conn transports.Conn, eventType string, payload map[string]any) error {
	body := map[string]any{"type": eventType}
	for k, v := range payload {
		body[k] = v
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonCodecEncode)
	}
	if h := c.callbacks(); h.OnRealtimeEvent != nil {
		h.OnRealtimeEvent(adapters.SourceClient, eventType, body)
	}
	return conn.Send(transports.Message{Type: transports.TextMessage, Data: raw})
}

func (c *Client) onBillingFatal(err error) {
	c.mu.Lock()
	norm := c.norm
	conn := c.conn
	c.mu.Unlock()

	c.log.Error("billing terminated session", slog.String("error", err.Error()))
	upd := norm.SystemError(err.Error())
	h := c.callbacks()
	if h.OnConversationUpdated != nil {
		h.OnConversationUpdated(upd)
	}
	if h.OnError != nil {
		h.OnError(err)
	}
	if conn != nil {
		_ = conn.Close(transports.CloseCodeBillingPolicy, "billing policy")
	}
}
