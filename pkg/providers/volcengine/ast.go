package volcengine

import (
	"context"
	"log/slog"
	"net/http"
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
	"github.com/harunnryd/interpret/pkg/wire/astproto"
)

const (
	astEndpoint     = "wss://openspeech.bytedance.com/api/v4/ast/v2/translate"
	astMetaEndpoint = "volc.bigasr.sauc.duration"
	astMode         = "s2s"
)

// ASTOptions configures the binary speech-to-speech adapter.
type ASTOptions struct {
	AppKey     string
	AccessKey  string
	ResourceID string
	UID        string
	Platform   string

	Logger        *slog.Logger
	UsageReporter billing.Reporter
	SubjectID     string

	// Decoder and Sink route synthesized speech to playback. Each finished
	// sentence is decoded as one buffer and written to the sink. Both are
	// optional; without them the audio stays on the conversation items.
	Decoder audio.Decoder
	Sink    audio.OutputSink

	// Dialer is replaceable for tests; nil means the gorilla dialer.
	Dialer transports.Dialer
	// Endpoint overrides the production endpoint, for tests.
	Endpoint string
}

// ASTClient speaks the length-delimited protobuf envelope protocol.
// Readiness requires an explicit SessionStarted envelope after the
// StartSession request.
type ASTClient struct {
	opts   ASTOptions
	log    *slog.Logger
	dialer transports.Dialer

	fsm   *adapters.StateMachine
	queue *adapters.PendingQueue

	mu           sync.Mutex
	handlers     adapters.Handlers
	cfg          *session.VolcengineASTConfig
	conn         transports.Conn
	norm         *conversation.Normalizer
	usage        *billing.Dispatcher
	sessionID    string
	connectionID string
	sequence     int32
	loopDone     chan struct{}

	// Open subtitle segments, one per direction.
	sourceSegID      string
	translationSegID string
}

func NewASTClient(opts ASTOptions) *ASTClient {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &transports.WebSocketDialer{}
	}
	return &ASTClient{
		opts:   opts,
		log:    log.With(slog.String("component", "volcengine.ast")),
		dialer: dialer,
		fsm:    adapters.NewStateMachine(),
		queue:  adapters.NewPendingQueue(0),
		norm:   conversation.NewNormalizer("idle"),
	}
}

func (c *ASTClient) Provider() session.Provider { return session.ProviderVolcengineAST }

func (c *ASTClient) SetHandlers(h adapters.Handlers) {
	c.mu.Lock()
	c.handlers = h
	c.mu.Unlock()
}

func (c *ASTClient) callbacks() adapters.Handlers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers
}

func (c *ASTClient) IsConnected() bool {
	return c.fsm.Is(adapters.StateReady, adapters.StateStreaming)
}

func (c *ASTClient) Items() []conversation.Item {
	c.mu.Lock()
	norm := c.norm
	c.mu.Unlock()
	return norm.Items()
}

func (c *ASTClient) Reset() {
	c.mu.Lock()
	norm := c.norm
	c.mu.Unlock()
	norm.Reset()
}

func (c *ASTClient) nextMeta() *astproto.RequestMeta {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sequence++
	return &astproto.RequestMeta{
		Endpoint:     astMetaEndpoint,
		AppKey:       c.opts.AppKey,
		ResourceID:   c.opts.ResourceID,
		ConnectionID: c.connectionID,
		SessionID:    c.sessionID,
		Sequence:     c.sequence,
	}
}

// Connect dials with the API key headers, starts a session and waits for
// the SessionStarted acknowledgment.
func (c *ASTClient) Connect(ctx context.Context, cfg session.Config) error {
	ac, ok := session.AsVolcengineAST(cfg)
	if !ok {
		return errorsx.New(errorsx.ReasonConfigProvider, "volcengine ast client got %s config", cfg.Provider())
	}
	if err := ac.Validate(); err != nil {
		return err
	}
	if c.opts.AppKey == "" || c.opts.AccessKey == "" {
		return errorsx.New(errorsx.ReasonConfigMissing, "volcengine ast: app key and access key are required")
	}
	if err := c.fsm.Transition(adapters.StateConnecting); err != nil {
		return err
	}

	sessionID := uuid.NewString()
	connectionID := uuid.NewString()
	ready := make(chan struct{})
	fail := make(chan error, 1)
	loopDone := make(chan struct{})

	c.mu.Lock()
	c.cfg = ac
	c.sessionID = sessionID
	c.connectionID = connectionID
	c.sequence = 0
	c.norm = conversation.NewNormalizer(sessionID)
	c.queue.Discard()
	if c.opts.UsageReporter != nil {
		c.usage = billing.NewDispatcher(c.opts.UsageReporter, 64, c.onBillingFatal)
	}
	c.loopDone = loopDone
	c.sourceSegID = ""
	c.translationSegID = ""
	c.mu.Unlock()

	endpoint := c.opts.Endpoint
	if endpoint == "" {
		endpoint = astEndpoint
	}
	header := http.Header{}
	header.Set("X-Api-App-Key", c.opts.AppKey)
	header.Set("X-Api-Access-Key", c.opts.AccessKey)
	header.Set("X-Api-Resource-Id", c.opts.ResourceID)
	header.Set("X-Api-Connect-Id", connectionID)

	conn, err := c.dialer.Dial(ctx, endpoint, header)
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

	start := &astproto.TranslateRequest{
		RequestMeta: c.nextMeta(),
		Event:       astproto.EventStartSession,
		User: &astproto.User{
			UID:      c.opts.UID,
			Platform: c.opts.Platform,
		},
		SourceAudio: &astproto.Audio{
			Format:  "pcm",
			Rate:    16000,
			Bits:    16,
			Channel: 1,
		},
		TargetAudio: &astproto.Audio{
			Format: "ogg_opus",
			Rate:   16000,
		},
		Request: &astproto.ReqParams{
			Mode:           astMode,
			SourceLanguage: ac.SourceLanguage,
			TargetLanguage: ac.TargetLanguage,
			SpeakerID:      ac.SpeakerID,
		},
		Denoise: ac.Denoise,
	}
	if err := conn.Send(transports.Message{Type: transports.BinaryMessage, Data: astproto.MarshalRequest(start)}); err != nil {
		_ = conn.Close(transports.CloseCodeNormal, "")
		c.fsm.Force(adapters.StateFailed)
		return err
	}
	if h := c.callbacks(); h.OnRealtimeEvent != nil {
		h.OnRealtimeEvent(adapters.SourceClient, astproto.EventStartSession.String(), start)
	}

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

	if err := c.fsm.Transition(adapters.StateReady); err != nil {
		return err
	}
	if err := c.queue.Flush(func(p any) error {
		return conn.Send(transports.Message{Type: transports.BinaryMessage, Data: p.([]byte)})
	}); err != nil {
		c.log.Warn("flushing queued sends failed", slog.String("error", err.Error()))
	}

	c.log.Info("session ready",
		slog.String("session_id", sessionID),
		slog.String("source", ac.SourceLanguage),
		slog.String("target", ac.TargetLanguage))
	if h := c.callbacks(); h.OnOpen != nil {
		h.OnOpen()
	}
	return nil
}

// Disconnect sends FinishSession and closes within the grace period.
func (c *ASTClient) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	loopDone := c.loopDone
	c.mu.Unlock()

	if c.fsm.Live() {
		_ = c.fsm.Transition(adapters.StateClosing)
		if conn != nil {
			finish := &astproto.TranslateRequest{
				RequestMeta: c.nextMeta(),
				Event:       astproto.EventFinishSession,
			}
			_ = conn.Send(transports.Message{Type: transports.BinaryMessage, Data: astproto.MarshalRequest(finish)})
			_ = conn.Close(transports.CloseCodeNormal, "client disconnect")
			if loopDone != nil {
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

// UpdateSession merges locally; the task parameters are fixed at
// StartSession and apply on the next connect.
func (c *ASTClient) UpdateSession(ctx context.Context, cfg session.Config) error {
	patch, ok := session.AsVolcengineAST(cfg)
	if !ok {
		return errorsx.New(errorsx.ReasonConfigProvider, "volcengine ast client got %s config", cfg.Provider())
	}
	c.mu.Lock()
	if c.cfg != nil {
		merged := *c.cfg
		if patch.SourceLanguage != "" {
			merged.SourceLanguage = patch.SourceLanguage
		}
		if patch.TargetLanguage != "" {
			merged.TargetLanguage = patch.TargetLanguage
		}
		if patch.SpeakerID != "" {
			merged.SpeakerID = patch.SpeakerID
		}
		c.cfg = &merged
	} else {
		c.cfg = patch
	}
	c.mu.Unlock()
	c.log.Warn("session update applies on next connect; protocol has no update frame")
	return nil
}

// AppendInputAudio sends one PCM16 chunk as a TaskRequest envelope.
func (c *ASTClient) AppendInputAudio(samples []int16) error {
	req := &astproto.TranslateRequest{
		RequestMeta: c.nextMeta(),
		Event:       astproto.EventTaskRequest,
		SourceAudio: &astproto.Audio{
			BinaryData: audio.BytesFromPCM16(samples),
		},
	}
	raw := astproto.MarshalRequest(req)
	if c.fsm.Is(adapters.StateIdle, adapters.StateConnecting, adapters.StateAuthenticating) {
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
	if err := conn.Send(transports.Message{Type: transports.BinaryMessage, Data: raw}); err != nil {
		return err
	}
	if c.fsm.Is(adapters.StateReady) {
		_ = c.fsm.Transition(adapters.StateStreaming)
	}
	return nil
}

// AppendInputText is unsupported: the service only accepts audio.
func (c *ASTClient) AppendInputText(text string) error {
	c.log.Warn("text input unsupported, ignoring")
	return nil
}

// CreateResponse is unsupported: translation is driven by audio alone.
func (c *ASTClient) CreateResponse(cfg *adapters.ResponseConfig) error {
	c.log.Warn("explicit response creation unsupported, ignoring")
	return nil
}

// CancelResponse is unsupported.
func (c *ASTClient) CancelResponse() error {
	c.log.Warn("response cancellation unsupported, ignoring")
	return nil
}

func (c *ASTClient) onBillingFatal(err error) {
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
