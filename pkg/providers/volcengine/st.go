// Package volcengine implements the two Volcengine realtime translation
// protocols: the signed raw-WebSocket speech translation service and the
// binary protobuf speech-to-speech service.
package volcengine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/interpret/pkg/adapters"
	"github.com/harunnryd/interpret/pkg/audio"
	"github.com/harunnryd/interpret/pkg/billing"
	"github.com/harunnryd/interpret/pkg/conversation"
	"github.com/harunnryd/interpret/pkg/errorsx"
	"github.com/harunnryd/interpret/pkg/session"
	"github.com/harunnryd/interpret/pkg/signing"
	"github.com/harunnryd/interpret/pkg/transports"
)

const (
	stHost    = "translate.volces.com"
	stPath    = "/api/translate/speech/v1/"
	stAction  = "SpeechTranslate"
	stVersion = "2020-06-01"
	stRegion  = "cn-north-1"
	stService = "translate"

	disconnectGrace = 2 * time.Second
)

// STOptions configures the speech translation adapter.
type STOptions struct {
	AccessKeyID     string
	SecretAccessKey string
	Logger          *slog.Logger
	UsageReporter   billing.Reporter
	SubjectID       string

	// Dialer is replaceable for tests; nil means the gorilla dialer.
	Dialer transports.Dialer
	// Host overrides the production endpoint, for tests.
	Host string
}

// STClient speaks the signed raw-WebSocket protocol. Authentication rides
// entirely in the signed URL; the socket upgrade succeeding is the
// vendor's acceptance of the session.
type STClient struct {
	opts   STOptions
	log    *slog.Logger
	signer *signing.Signer
	dialer transports.Dialer

	fsm   *adapters.StateMachine
	queue *adapters.PendingQueue

	mu        sync.Mutex
	handlers  adapters.Handlers
	cfg       *session.VolcengineSTConfig
	conn      transports.Conn
	norm      *conversation.Normalizer
	usage     *billing.Dispatcher
	sessionID string
	loopDone  chan struct{}
}

func NewSTClient(opts STOptions) *STClient {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &transports.WebSocketDialer{}
	}
	return &STClient{
		opts: opts,
		log:  log.With(slog.String("component", "volcengine.st")),
		signer: signing.NewSigner(signing.Credentials{
			AccessKeyID:     opts.AccessKeyID,
			SecretAccessKey: opts.SecretAccessKey,
			Region:          stRegion,
			Service:         stService,
		}),
		dialer: dialer,
		fsm:    adapters.NewStateMachine(),
		queue:  adapters.NewPendingQueue(0),
		norm:   conversation.NewNormalizer("idle"),
	}
}

func (c *STClient) Provider() session.Provider { return session.ProviderVolcengineST }

func (c *STClient) SetHandlers(h adapters.Handlers) {
	c.mu.Lock()
	c.handlers = h
	c.mu.Unlock()
}

func (c *STClient) callbacks() adapters.Handlers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers
}

func (c *STClient) IsConnected() bool {
	return c.fsm.Is(adapters.StateReady, adapters.StateStreaming)
}

func (c *STClient) Items() []conversation.Item {
	c.mu.Lock()
	norm := c.norm
	c.mu.Unlock()
	return norm.Items()
}

func (c *STClient) Reset() {
	c.mu.Lock()
	norm := c.norm
	c.mu.Unlock()
	norm.Reset()
}

// Connect signs the endpoint URL, dials, and sends the one-shot
// configuration frame. The protocol has no separate readiness ack: a
// rejected signature fails the upgrade itself.
func (c *STClient) Connect(ctx context.Context, cfg session.Config) error {
	sc, ok := session.AsVolcengineST(cfg)
	if !ok {
		return errorsx.New(errorsx.ReasonConfigProvider, "volcengine st client got %s config", cfg.Provider())
	}
	if err := sc.Validate(); err != nil {
		return err
	}
	if c.opts.AccessKeyID == "" || c.opts.SecretAccessKey == "" {
		return errorsx.New(errorsx.ReasonConfigMissing, "volcengine st: access key pair is required")
	}
	if err := c.fsm.Transition(adapters.StateConnecting); err != nil {
		return err
	}

	sessionID := uuid.NewString()
	loopDone := make(chan struct{})

	c.mu.Lock()
	c.cfg = sc
	c.sessionID = sessionID
	c.norm = conversation.NewNormalizer(sessionID)
	c.queue.Discard()
	if c.opts.UsageReporter != nil {
		c.usage = billing.NewDispatcher(c.opts.UsageReporter, 64, c.onBillingFatal)
	}
	c.loopDone = loopDone
	c.mu.Unlock()

	host := c.opts.Host
	if host == "" {
		host = stHost
	}
	endpoint := c.signer.SignedQueryURL("wss", signing.Request{
		Method: "GET",
		Host:   host,
		Path:   stPath,
		Query:  url.Values{},
	}, stAction, stVersion)

	conn, err := c.dialer.Dial(ctx, endpoint, nil)
	if err != nil {
		c.fsm.Force(adapters.StateFailed)
		close(loopDone)
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	_ = c.fsm.Transition(adapters.StateAuthenticating)

	if err := c.sendJSON(conn, configurationFrame(sc)); err != nil {
		_ = conn.Close(transports.CloseCodeNormal, "")
		c.fsm.Force(adapters.StateFailed)
		close(loopDone)
		return err
	}

	_ = c.fsm.Transition(adapters.StateReady)
	go c.readLoop(conn, loopDone)

	if err := c.queue.Flush(func(p any) error {
		return conn.Send(transports.Message{Type: transports.TextMessage, Data: p.([]byte)})
	}); err != nil {
		c.log.Warn("flushing queued sends failed", slog.String("error", err.Error()))
	}

	c.log.Info("session ready",
		slog.String("session_id", sessionID),
		slog.String("source", sc.SourceLanguage),
		slog.Any("targets", sc.TargetLanguages))
	if h := c.callbacks(); h.OnOpen != nil {
		h.OnOpen()
	}
	return nil
}

func configurationFrame(cfg *session.VolcengineSTConfig) map[string]any {
	conf := map[string]any{
		"SourceLanguage":  cfg.SourceLanguage,
		"TargetLanguages": cfg.TargetLanguages,
	}
	if len(cfg.HotWords) > 0 {
		words := make([]map[string]any, 0, len(cfg.HotWords))
		for _, hw := range cfg.HotWords {
			entry := map[string]any{"Word": hw.Word}
			if hw.Scale != 0 {
				entry["Scale"] = hw.Scale
			}
			words = append(words, entry)
		}
		conf["HotWordList"] = words
	}
	return map[string]any{"Configuration": conf}
}

// Disconnect sends the end frame and closes within the grace period.
func (c *STClient) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	loopDone := c.loopDone
	c.mu.Unlock()

	if c.fsm.Live() {
		_ = c.fsm.Transition(adapters.StateClosing)
		if conn != nil {
			_ = c.sendJSON(conn, map[string]any{"End": true})
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

// UpdateSession merges locally. The protocol sends its configuration once
// on open and has no update frame, so changes apply to the next connect.
func (c *STClient) UpdateSession(ctx context.Context, cfg session.Config) error {
	patch, ok := session.AsVolcengineST(cfg)
	if !ok {
		return errorsx.New(errorsx.ReasonConfigProvider, "volcengine st client got %s config", cfg.Provider())
	}
	c.mu.Lock()
	if c.cfg != nil {
		merged := *c.cfg
		if patch.SourceLanguage != "" {
			merged.SourceLanguage = patch.SourceLanguage
		}
		if len(patch.TargetLanguages) > 0 {
			merged.TargetLanguages = patch.TargetLanguages
		}
		if len(patch.HotWords) > 0 {
			merged.HotWords = patch.HotWords
		}
		c.cfg = &merged
	} else {
		c.cfg = patch
	}
	c.mu.Unlock()
	c.log.Warn("session update applies on next connect; protocol has no update frame")
	return nil
}

// AppendInputAudio sends one PCM16 chunk as a base64 AudioData frame.
func (c *STClient) AppendInputAudio(samples []int16) error {
	err := c.sendOrQueue(map[string]any{
		"AudioData": base64.StdEncoding.EncodeToString(audio.BytesFromPCM16(samples)),
	})
	if err != nil {
		return err
	}
	if c.fsm.Is(adapters.StateReady) {
		_ = c.fsm.Transition(adapters.StateStreaming)
	}
	return nil
}

// AppendInputText is unsupported: the service only accepts audio.
func (c *STClient) AppendInputText(text string) error {
	c.log.Warn("text input unsupported, ignoring")
	return nil
}

// CreateResponse is unsupported: responses are driven by audio alone.
func (c *STClient) CreateResponse(cfg *adapters.ResponseConfig) error {
	c.log.Warn("explicit response creation unsupported, ignoring")
	return nil
}

// CancelResponse is unsupported.
func (c *STClient) CancelResponse() error {
	c.log.Warn("response cancellation unsupported, ignoring")
	return nil
}

func (c *STClient) sendOrQueue(frame map[string]any) error {
	raw, err := json.Marshal(frame)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonCodecEncode)
	}
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
	return conn.Send(transports.Message{Type: transports.TextMessage, Data: raw})
}

func (c *STClient) sendJSON(conn transports.Conn, frame map[string]any) error {
	raw, err := json.Marshal(frame)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonCodecEncode)
	}
	return conn.Send(transports.Message{Type: transports.TextMessage, Data: raw})
}

type stFrame struct {
	Code    int    `json:"Code"`
	Message string `json:"Message"`

	Subtitle *struct {
		Text      string `json:"Text"`
		BeginTime int    `json:"BeginTime"`
		EndTime   int    `json:"EndTime"`
		Definite  bool   `json:"Definite"`
		Language  string `json:"Language"`
		Sequence  int    `json:"Sequence"`
	} `json:"Subtitle"`
}

func (c *STClient) readLoop(conn transports.Conn, done chan struct{}) {
	defer close(done)
	for msg := range conn.Recv() {
		var frame stFrame
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			c.log.Warn("undecodable frame", slog.String("error", err.Error()))
			continue
		}
		if h := c.callbacks(); h.OnRealtimeEvent != nil {
			var raw map[string]any
			_ = json.Unmarshal(msg.Data, &raw)
			h.OnRealtimeEvent(adapters.SourceServer, stFrameType(&frame), raw)
		}
		c.handleFrame(&frame)
	}

	err := conn.Err()
	switch c.fsm.State() {
	case adapters.StateClosing, adapters.StateClosed, adapters.StateFailed:
	default:
		c.fsm.Force(adapters.StateClosed)
		if h := c.callbacks(); h.OnClose != nil {
			h.OnClose(err)
		}
	}
}

func stFrameType(frame *stFrame) string {
	switch {
	case frame.Subtitle != nil:
		return "subtitle"
	case frame.Code != 0:
		return "error"
	default:
		return "unknown"
	}
}

func (c *STClient) handleFrame(frame *stFrame) {
	c.mu.Lock()
	norm := c.norm
	usage := c.usage
	cfg := c.cfg
	sessionID := c.sessionID
	c.mu.Unlock()
	h := c.callbacks()

	if frame.Code != 0 {
		err := errorsx.New(errorsx.ReasonUpstreamStatus, "code %d: %s", frame.Code, frame.Message)
		upd := norm.SystemError(err.Error())
		if h.OnConversationUpdated != nil {
			h.OnConversationUpdated(upd)
		}
		if h.OnError != nil {
			h.OnError(err)
		}
		return
	}
	if frame.Subtitle == nil {
		return
	}

	sub := frame.Subtitle
	role := conversation.RoleAssistant
	stage := conversation.StageTranslation
	if cfg != nil && sub.Language == cfg.SourceLanguage {
		role = conversation.RoleUser
		stage = conversation.StageTranscription
	}
	upd, ok := norm.UpsertSegment(conversation.Segment{
		ID:          stSegmentID(sub.Sequence, sub.Language),
		Role:        role,
		Stage:       stage,
		Text:        sub.Text,
		Definite:    sub.Definite,
		Language:    sub.Language,
		BeginTimeMs: sub.BeginTime,
		EndTimeMs:   sub.EndTime,
	})
	if ok && h.OnConversationUpdated != nil {
		h.OnConversationUpdated(upd)
	}

	// Definite source subtitles carry the billable utterance span.
	if sub.Definite && role == conversation.RoleUser && usage != nil {
		usage.Submit(billing.UsageEvent{
			SubjectID:       c.opts.SubjectID,
			Provider:        string(c.Provider()),
			DurationSeconds: float64(sub.EndTime-sub.BeginTime) / 1000,
			Modality:        "audio",
			SessionID:       sessionID,
			EventType:       "subtitle.definite",
		})
	}
}

func stSegmentID(sequence int, language string) string {
	return language + "_" + strconv.Itoa(sequence)
}

func (c *STClient) onBillingFatal(err error) {
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
