package palabra

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/harunnryd/interpret/pkg/adapters"
	"github.com/harunnryd/interpret/pkg/audio"
	"github.com/harunnryd/interpret/pkg/billing"
	"github.com/harunnryd/interpret/pkg/conversation"
	"github.com/harunnryd/interpret/pkg/errorsx"
	"github.com/harunnryd/interpret/pkg/resilience"
	"github.com/harunnryd/interpret/pkg/session"
)

const disconnectGrace = 2 * time.Second

// Options configures the media-room adapter.
type Options struct {
	ClientID     string
	ClientSecret string
	// APIHost overrides the production REST endpoint, for tests.
	APIHost string

	HTTPClient *http.Client
	// Rooms is replaceable for tests; nil means the LiveKit room.
	Rooms RoomFactory
	// Encoder compresses outbound PCM16 into track frames. Without one
	// the adapter drops input audio with a warning.
	Encoder audio.Encoder

	Logger        *slog.Logger
	UsageReporter billing.Reporter
	SubjectID     string
}

// Client drives one translation session through the REST handshake and a
// media room. Task control and transcription events are reliable data
// messages inside the room.
type Client struct {
	opts  Options
	log   *slog.Logger
	rest  *restClient
	rooms RoomFactory

	fsm   *adapters.StateMachine
	queue *adapters.PendingQueue

	mu        sync.Mutex
	handlers  adapters.Handlers
	cfg       *session.PalabraConfig
	room      RoomSession
	norm      *conversation.Normalizer
	usage     *billing.Dispatcher
	sessionID string
}

func NewClient(opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	host := opts.APIHost
	if host == "" {
		host = defaultAPIHost
	}
	rooms := opts.Rooms
	if rooms == nil {
		rooms = NewLiveKitRoom
	}
	return &Client{
		opts: opts,
		log:  log.With(slog.String("component", "palabra")),
		rest: &restClient{
			host:         host,
			clientID:     opts.ClientID,
			clientSecret: opts.ClientSecret,
			http:         opts.HTTPClient,
			retry:        resilience.NewRetryPolicy(2, 300*time.Millisecond),
		},
		rooms: rooms,
		fsm:   adapters.NewStateMachine(),
		queue: adapters.NewPendingQueue(0),
		norm:  conversation.NewNormalizer("idle"),
	}
}

func (c *Client) Provider() session.Provider { return session.ProviderPalabra }

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

// Connect provisions a streaming session over REST, joins the room as the
// publisher, and starts the translation task. Readiness is the accepted
// set_task publish: the room has no separate task ack.
func (c *Client) Connect(ctx context.Context, cfg session.Config) error {
	sc, ok := session.AsPalabra(cfg)
	if !ok {
		return errorsx.New(errorsx.ReasonConfigProvider, "palabra client got %s config", cfg.Provider())
	}
	if err := sc.Validate(); err != nil {
		return err
	}
	if c.opts.ClientID == "" || c.opts.ClientSecret == "" {
		return errorsx.New(errorsx.ReasonConfigMissing, "palabra: client credential pair is required")
	}
	if err := c.fsm.Transition(adapters.StateConnecting); err != nil {
		return err
	}

	// The account tier caps live sessions; leftovers from crashed runs
	// would block this connect.
	c.rest.cleanupStaleSessions(ctx)

	info, err := c.rest.createSession(ctx)
	if err != nil {
		c.fsm.Force(adapters.StateFailed)
		return err
	}

	room := c.rooms()
	room.SetDataHandler(c.onRoomData)
	room.SetDisconnectHandler(c.onRoomLost)

	c.mu.Lock()
	c.cfg = sc
	c.sessionID = info.ID
	c.norm = conversation.NewNormalizer(info.ID)
	c.queue.Discard()
	c.room = room
	if c.opts.UsageReporter != nil {
		c.usage = billing.NewDispatcher(c.opts.UsageReporter, 64, c.onBillingFatal)
	}
	c.mu.Unlock()

	if err := room.Connect(ctx, info.WebRTCURL, info.Publisher); err != nil {
		c.fsm.Force(adapters.StateFailed)
		_ = c.rest.deleteSession(ctx, info.ID)
		return err
	}
	_ = c.fsm.Transition(adapters.StateAuthenticating)

	if err := c.publishJSON(room, setTaskMessage(sc)); err != nil {
		_ = room.Close()
		_ = c.rest.deleteSession(ctx, info.ID)
		c.fsm.Force(adapters.StateFailed)
		return err
	}

	_ = c.fsm.Transition(adapters.StateReady)
	if err := c.queue.Flush(func(p any) error {
		return room.PublishData(p.([]byte))
	}); err != nil {
		c.log.Warn("flushing queued sends failed", slog.String("error", err.Error()))
	}

	c.log.Info("session ready",
		slog.String("session_id", info.ID),
		slog.String("source", sc.SourceLanguage),
		slog.String("target", sc.TargetLanguage))
	if h := c.callbacks(); h.OnOpen != nil {
		h.OnOpen()
	}
	return nil
}

// setTaskMessage builds the pipeline start command.
func setTaskMessage(cfg *session.PalabraConfig) map[string]any {
	return map[string]any{
		"message_type": "set_task",
		"data": map[string]any{
			"input_stream": map[string]any{
				"content_type": "audio",
				"source":       map[string]any{"type": "webrtc"},
			},
			"pipeline": map[string]any{
				"transcription": map[string]any{
					"source_language":                        cfg.SourceLanguage,
					"detectable_languages":                   []string{},
					"segment_confirmation_silence_threshold": cfg.SegmentConfirmationSilenceThreshold,
					"sentence_splitter": map[string]any{
						"enabled": cfg.SentenceSplitterEnabled,
					},
					"verification": map[string]any{
						"auto_transcription_correction":  false,
						"transcription_correction_style": nil,
					},
				},
				"translations": []map[string]any{
					{
						"target_language":                  cfg.TargetLanguage,
						"translate_partial_transcriptions": cfg.TranslatePartialTranscriptions,
						"speech_generation": map[string]any{
							"voice_cloning": false,
							"voice_id":      cfg.VoiceID,
							"voice_timbre_detection": map[string]any{
								"enabled":            true,
								"high_timbre_voices": []string{"default_high"},
								"low_timbre_voices":  []string{"default_low"},
							},
						},
					},
				},
				"translation_queue_configs": map[string]any{
					"global": map[string]any{
						"desired_queue_level_ms": cfg.DesiredQueueLevelMs,
						"max_queue_level_ms":     cfg.MaxQueueLevelMs,
						"auto_tempo":             cfg.AutoTempo,
					},
				},
				"allowed_message_types": []string{
					"translated_transcription",
					"partial_transcription",
					"partial_translated_transcription",
					"validated_transcription",
				},
			},
		},
	}
}

// Disconnect ends the task, leaves the room, and deletes the session.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	room := c.room
	sessionID := c.sessionID
	c.mu.Unlock()

	if c.fsm.Live() {
		_ = c.fsm.Transition(adapters.StateClosing)
		if room != nil {
			_ = c.publishJSON(room, map[string]any{
				"message_type": "end_task",
				"data":         map[string]any{"force": true},
			})
			_ = room.Close()
		}
		if sessionID != "" {
			delCtx, cancel := context.WithTimeout(context.Background(), disconnectGrace)
			_ = c.rest.deleteSession(delCtx, sessionID)
			cancel()
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

// UpdateSession restarts the pipeline task with the merged configuration.
func (c *Client) UpdateSession(ctx context.Context, cfg session.Config) error {
	patch, ok := session.AsPalabra(cfg)
	if !ok {
		return errorsx.New(errorsx.ReasonConfigProvider, "palabra client got %s config", cfg.Provider())
	}
	c.mu.Lock()
	if c.cfg != nil {
		c.cfg = c.cfg.Merge(patch)
	} else {
		c.cfg = patch
	}
	merged := c.cfg
	room := c.room
	c.mu.Unlock()

	if room == nil || !c.IsConnected() {
		return nil
	}
	return c.publishJSON(room, setTaskMessage(merged))
}

// AppendInputAudio encodes one PCM16 chunk and writes it to the published
// track. The room carries real media, not raw sample buffers.
func (c *Client) AppendInputAudio(samples []int16) error {
	enc := c.opts.Encoder
	if enc == nil {
		c.log.Warn("no audio encoder configured, dropping input audio")
		return nil
	}
	frame, err := enc.Encode(samples)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonCodecEncode)
	}
	c.mu.Lock()
	room := c.room
	c.mu.Unlock()
	if room == nil || !c.fsm.Live() {
		return errorsx.New(errorsx.ReasonTransportClosed, "room not connected")
	}
	duration := time.Duration(len(samples)) * time.Second / time.Duration(enc.SampleRate())
	if err := room.PublishAudioSample(frame, duration); err != nil {
		return err
	}
	if c.fsm.Is(adapters.StateReady) {
		_ = c.fsm.Transition(adapters.StateStreaming)
	}
	return nil
}

// AppendInputText is unsupported: the pipeline only consumes room audio.
func (c *Client) AppendInputText(text string) error {
	c.log.Warn("text input unsupported, ignoring")
	return nil
}

// CreateResponse is unsupported: translation is driven by audio alone.
func (c *Client) CreateResponse(cfg *adapters.ResponseConfig) error {
	c.log.Warn("explicit response creation unsupported, ignoring")
	return nil
}

// CancelResponse is unsupported.
func (c *Client) CancelResponse() error {
	c.log.Warn("response cancellation unsupported, ignoring")
	return nil
}

func (c *Client) publishJSON(room RoomSession, msg map[string]any) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonCodecEncode)
	}
	return room.PublishData(raw)
}

// roomMessage is the inbound data-message envelope.
type roomMessage struct {
	MessageType string `json:"message_type"`
	Data        struct {
		Transcription struct {
			Text            string `json:"text"`
			TranscriptionID string `json:"transcription_id"`
			Language        string `json:"language"`
		} `json:"transcription"`
	} `json:"data"`
}

func (c *Client) onRoomData(payload []byte) {
	var msg roomMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.log.Warn("undecodable room message", slog.String("error", err.Error()))
		return
	}
	if h := c.callbacks(); h.OnRealtimeEvent != nil {
		var raw map[string]any
		_ = json.Unmarshal(payload, &raw)
		h.OnRealtimeEvent(adapters.SourceServer, msg.MessageType, raw)
	}
	c.handleMessage(&msg)
}

func (c *Client) handleMessage(msg *roomMessage) {
	var (
		role     conversation.Role
		stage    conversation.Stage
		definite bool
	)
	switch msg.MessageType {
	case "partial_transcription":
		role, stage = conversation.RoleUser, conversation.StageTranscription
	case "validated_transcription":
		role, stage, definite = conversation.RoleUser, conversation.StageTranscription, true
	case "partial_translated_transcription":
		role, stage = conversation.RoleAssistant, conversation.StageTranslation
	case "translated_transcription":
		role, stage, definite = conversation.RoleAssistant, conversation.StageTranslation, true
	case "current_queue_level_ms", "queue_status":
		// Playback pacing telemetry, per target language. Not conversation.
		return
	default:
		return
	}

	c.mu.Lock()
	norm := c.norm
	usage := c.usage
	sessionID := c.sessionID
	c.mu.Unlock()
	h := c.callbacks()

	t := msg.Data.Transcription
	upd, ok := norm.UpsertSegment(conversation.Segment{
		ID:       t.TranscriptionID,
		Role:     role,
		Stage:    stage,
		Text:     t.Text,
		Definite: definite,
		Language: t.Language,
	})
	if ok && h.OnConversationUpdated != nil {
		h.OnConversationUpdated(upd)
	}

	// Final translations mark the completed billable unit.
	if definite && stage == conversation.StageTranslation && usage != nil {
		usage.Submit(billing.UsageEvent{
			SubjectID: c.opts.SubjectID,
			Provider:  string(c.Provider()),
			Modality:  "audio",
			SessionID: sessionID,
			EventType: msg.MessageType,
		})
	}
}

func (c *Client) onRoomLost(err error) {
	switch c.fsm.State() {
	case adapters.StateClosing, adapters.StateClosed, adapters.StateFailed:
		return
	}
	c.fsm.Force(adapters.StateClosed)
	if h := c.callbacks(); h.OnClose != nil {
		h.OnClose(err)
	}
}

func (c *Client) onBillingFatal(err error) {
	c.mu.Lock()
	norm := c.norm
	room := c.room
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
	if room != nil {
		_ = room.Close()
	}
}
