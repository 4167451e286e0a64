package palabra

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/interpret/pkg/adapters"
	"github.com/harunnryd/interpret/pkg/billing"
	"github.com/harunnryd/interpret/pkg/conversation"
	"github.com/harunnryd/interpret/pkg/errorsx"
	"github.com/harunnryd/interpret/pkg/session"
)

type capture struct {
	mu      sync.Mutex
	opens   int
	closes  []error
	errs    []error
	updates []conversation.Update
	updated chan struct{}
}

func newCapture() *capture {
	return &capture{updated: make(chan struct{}, 64)}
}

func (c *capture) handlers() adapters.Handlers {
	return adapters.Handlers{
		OnOpen: func() {
			c.mu.Lock()
			c.opens++
			c.mu.Unlock()
		},
		OnClose: func(err error) {
			c.mu.Lock()
			c.closes = append(c.closes, err)
			c.mu.Unlock()
		},
		OnError: func(err error) {
			c.mu.Lock()
			c.errs = append(c.errs, err)
			c.mu.Unlock()
		},
		OnConversationUpdated: func(upd conversation.Update) {
			c.mu.Lock()
			c.updates = append(c.updates, upd)
			c.mu.Unlock()
			select {
			case c.updated <- struct{}{}:
			default:
			}
		},
	}
}

func (c *capture) waitUpdates(t *testing.T, n int) []conversation.Update {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		c.mu.Lock()
		if len(c.updates) >= n {
			out := append([]conversation.Update(nil), c.updates...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		select {
		case <-c.updated:
		case <-deadline:
			t.Fatalf("timed out waiting for %d conversation updates", n)
		}
	}
}

type recordingReporter struct {
	mu     sync.Mutex
	events []billing.UsageEvent
}

func (r *recordingReporter) Report(ctx context.Context, ev billing.UsageEvent) (billing.Result, error) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return billing.Result{Success: true}, nil
}

// fakeRoom scripts the media room in-process.
type fakeRoom struct {
	mu           sync.Mutex
	connected    bool
	closed       bool
	connectedURL string
	token        string
	published    []map[string]any
	audio        [][]byte
	onData       func([]byte)
	onDisconnect func(error)
	connectErr   error
}

func (f *fakeRoom) Connect(ctx context.Context, url, token string) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.connectedURL = url
	f.token = token
	f.mu.Unlock()
	return nil
}

func (f *fakeRoom) PublishData(payload []byte) error {
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return err
	}
	f.mu.Lock()
	f.published = append(f.published, body)
	f.mu.Unlock()
	return nil
}

func (f *fakeRoom) PublishAudioSample(frame []byte, d time.Duration) error {
	f.mu.Lock()
	f.audio = append(f.audio, frame)
	f.mu.Unlock()
	return nil
}

func (f *fakeRoom) SetDataHandler(fn func([]byte))      { f.onData = fn }
func (f *fakeRoom) SetDisconnectHandler(fn func(error)) { f.onDisconnect = fn }

func (f *fakeRoom) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeRoom) push(t *testing.T, msg map[string]any) {
	t.Helper()
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal room message: %v", err)
	}
	f.onData(raw)
}

func (f *fakeRoom) messages() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.published...)
}

// restRecorder fakes the session-storage endpoints.
type restRecorder struct {
	mu       sync.Mutex
	existing []string
	deleted  []string
	created  int
}

func (r *restRecorder) server() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.Method == http.MethodPost && req.URL.Path == "/session-storage/session":
			r.mu.Lock()
			r.created++
			r.mu.Unlock()
			json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{
					"id":         "sess-1",
					"publisher":  "tok-pub",
					"webrtc_url": "wss://media.example/room",
					"ws_url":     "wss://media.example/ws",
				},
			})
		case req.Method == http.MethodGet && req.URL.Path == "/session-storage/sessions":
			r.mu.Lock()
			ids := append([]string(nil), r.existing...)
			r.mu.Unlock()
			entries := make([]map[string]string, 0, len(ids))
			for _, id := range ids {
				entries = append(entries, map[string]string{"id": id})
			}
			json.NewEncoder(w).Encode(map[string]any{"data": entries})
		case req.Method == http.MethodDelete:
			r.mu.Lock()
			r.deleted = append(r.deleted, req.URL.Path)
			r.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func palabraConfig() *session.PalabraConfig {
	return &session.PalabraConfig{
		SourceLanguage:      "en",
		TargetLanguage:      "es",
		VoiceID:             "default_low",
		DesiredQueueLevelMs: 5000,
		MaxQueueLevelMs:     24000,
		AutoTempo:           true,
	}
}

func connectedPalabra(t *testing.T, rec *restRecorder, room *fakeRoom, cap *capture, opts ...func(*Options)) (*Client, *httptest.Server) {
	t.Helper()
	srv := rec.server()
	o := Options{
		ClientID:     "cid",
		ClientSecret: "secret",
		APIHost:      srv.URL,
		Rooms:        func() RoomSession { return room },
	}
	for _, fn := range opts {
		fn(&o)
	}
	cl := NewClient(o)
	cl.SetHandlers(cap.handlers())
	if err := cl.Connect(context.Background(), palabraConfig()); err != nil {
		srv.Close()
		t.Fatalf("connect: %v", err)
	}
	return cl, srv
}

func TestConnectStartsTask(t *testing.T) {
	rec := &restRecorder{}
	room := &fakeRoom{}
	cap := newCapture()
	cl, srv := connectedPalabra(t, rec, room, cap)
	defer srv.Close()
	defer cl.Disconnect(context.Background())

	if !cl.IsConnected() {
		t.Fatalf("expected connected after set_task")
	}
	if room.connectedURL != "wss://media.example/room" || room.token != "tok-pub" {
		t.Fatalf("room joined with wrong handshake: %q %q", room.connectedURL, room.token)
	}

	msgs := room.messages()
	if len(msgs) != 1 || msgs[0]["message_type"] != "set_task" {
		t.Fatalf("expected one set_task message, got %+v", msgs)
	}
	data := msgs[0]["data"].(map[string]any)
	pipeline := data["pipeline"].(map[string]any)
	trans := pipeline["transcription"].(map[string]any)
	if trans["source_language"] != "en" {
		t.Fatalf("unexpected source language: %v", trans["source_language"])
	}
	targets := pipeline["translations"].([]any)
	first := targets[0].(map[string]any)
	if first["target_language"] != "es" {
		t.Fatalf("unexpected target language: %v", first["target_language"])
	}
	queues := pipeline["translation_queue_configs"].(map[string]any)["global"].(map[string]any)
	if queues["desired_queue_level_ms"].(float64) != 5000 {
		t.Fatalf("unexpected queue config: %+v", queues)
	}
}

func TestConnectCleansStaleSessions(t *testing.T) {
	rec := &restRecorder{existing: []string{"old-1", "old-2"}}
	room := &fakeRoom{}
	cap := newCapture()
	cl, srv := connectedPalabra(t, rec, room, cap)
	defer srv.Close()
	defer cl.Disconnect(context.Background())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.deleted) != 2 {
		t.Fatalf("expected 2 stale deletes, got %v", rec.deleted)
	}
}

func TestConnectRequiresCredentials(t *testing.T) {
	cl := NewClient(Options{})
	err := cl.Connect(context.Background(), palabraConfig())
	if !errorsx.HasReason(err, errorsx.ReasonConfigMissing) {
		t.Fatalf("expected missing-config error, got %v", err)
	}
}

func TestTranscriptionLifecycle(t *testing.T) {
	rec := &restRecorder{}
	room := &fakeRoom{}
	cap := newCapture()
	cl, srv := connectedPalabra(t, rec, room, cap)
	defer srv.Close()
	defer cl.Disconnect(context.Background())

	room.push(t, map[string]any{
		"message_type": "partial_transcription",
		"data": map[string]any{
			"transcription": map[string]any{"text": "hel", "transcription_id": "t1", "language": "en"},
		},
	})
	room.push(t, map[string]any{
		"message_type": "validated_transcription",
		"data": map[string]any{
			"transcription": map[string]any{"text": "hello", "transcription_id": "t1", "language": "en"},
		},
	})
	room.push(t, map[string]any{
		"message_type": "translated_transcription",
		"data": map[string]any{
			"transcription": map[string]any{"text": "hola", "transcription_id": "t1", "language": "es"},
		},
	})

	upds := cap.waitUpdates(t, 3)
	if upds[0].Item.Role != conversation.RoleUser || upds[0].Item.Status != conversation.StatusInProgress {
		t.Fatalf("unexpected partial: %+v", upds[0].Item)
	}
	if upds[1].Item.Status != conversation.StatusCompleted || upds[1].Item.Text != "hello" {
		t.Fatalf("validated must finalize: %+v", upds[1].Item)
	}
	if upds[2].Item.Role != conversation.RoleAssistant || upds[2].Item.Stage != conversation.StageTranslation {
		t.Fatalf("unexpected translation: %+v", upds[2].Item)
	}
	if upds[1].Item.ID == upds[2].Item.ID {
		t.Fatalf("transcription and translation stages must not share an item")
	}
}

func TestStalePartialAfterValidatedIsDropped(t *testing.T) {
	rec := &restRecorder{}
	room := &fakeRoom{}
	cap := newCapture()
	cl, srv := connectedPalabra(t, rec, room, cap)
	defer srv.Close()
	defer cl.Disconnect(context.Background())

	room.push(t, map[string]any{
		"message_type": "validated_transcription",
		"data": map[string]any{
			"transcription": map[string]any{"text": "done", "transcription_id": "t1", "language": "en"},
		},
	})
	room.push(t, map[string]any{
		"message_type": "partial_transcription",
		"data": map[string]any{
			"transcription": map[string]any{"text": "don", "transcription_id": "t1", "language": "en"},
		},
	})
	room.push(t, map[string]any{
		"message_type": "partial_transcription",
		"data": map[string]any{
			"transcription": map[string]any{"text": "next", "transcription_id": "t2", "language": "en"},
		},
	})

	upds := cap.waitUpdates(t, 2)
	if upds[0].Item.Text != "done" {
		t.Fatalf("unexpected final: %+v", upds[0].Item)
	}
	// The stale t1 partial is suppressed; the next update is t2.
	if upds[1].Item.Text != "next" {
		t.Fatalf("stale partial leaked: %+v", upds[1].Item)
	}
}

func TestQueueStatusIsIgnored(t *testing.T) {
	rec := &restRecorder{}
	room := &fakeRoom{}
	cap := newCapture()
	cl, srv := connectedPalabra(t, rec, room, cap)
	defer srv.Close()
	defer cl.Disconnect(context.Background())

	room.push(t, map[string]any{
		"message_type": "current_queue_level_ms",
		"data":         map[string]any{"es": 1200},
	})
	room.push(t, map[string]any{
		"message_type": "partial_transcription",
		"data": map[string]any{
			"transcription": map[string]any{"text": "hi", "transcription_id": "t1", "language": "en"},
		},
	})

	upds := cap.waitUpdates(t, 1)
	if upds[0].Item.Text != "hi" {
		t.Fatalf("queue status must not produce conversation updates: %+v", upds[0].Item)
	}
}

func TestDisconnectEndsTaskAndDeletesSession(t *testing.T) {
	rec := &restRecorder{}
	room := &fakeRoom{}
	cap := newCapture()
	cl, srv := connectedPalabra(t, rec, room, cap)
	defer srv.Close()

	if err := cl.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	msgs := room.messages()
	last := msgs[len(msgs)-1]
	if last["message_type"] != "end_task" {
		t.Fatalf("expected end_task before close, got %+v", last)
	}
	if !room.closed {
		t.Fatalf("room must be closed on disconnect")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.deleted) != 1 || rec.deleted[0] != "/session-storage/sessions/sess-1" {
		t.Fatalf("session not deleted: %v", rec.deleted)
	}
	if cl.IsConnected() {
		t.Fatalf("must not be connected after disconnect")
	}
	// Idempotent.
	if err := cl.Disconnect(context.Background()); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
}

func TestTranslatedFinalReportsUsage(t *testing.T) {
	rec := &restRecorder{}
	room := &fakeRoom{}
	cap := newCapture()
	rep := &recordingReporter{}
	cl, srv := connectedPalabra(t, rec, room, cap, func(o *Options) {
		o.UsageReporter = rep
		o.SubjectID = "user-1"
	})
	defer srv.Close()

	room.push(t, map[string]any{
		"message_type": "translated_transcription",
		"data": map[string]any{
			"transcription": map[string]any{"text": "hola", "transcription_id": "t1", "language": "es"},
		},
	})
	cap.waitUpdates(t, 1)
	_ = cl.Disconnect(context.Background())

	rep.mu.Lock()
	defer rep.mu.Unlock()
	if len(rep.events) != 1 || rep.events[0].EventType != "translated_transcription" {
		t.Fatalf("expected one usage event, got %+v", rep.events)
	}
	if rep.events[0].SubjectID != "user-1" {
		t.Fatalf("usage event missing subject: %+v", rep.events[0])
	}
}

type stubEncoder struct{}

func (stubEncoder) Encode(samples []int16) ([]byte, error) {
	return []byte{0xAA, byte(len(samples))}, nil
}
func (stubEncoder) Format() string  { return "opus" }
func (stubEncoder) SampleRate() int { return 48000 }

func TestAppendInputAudioUsesEncoder(t *testing.T) {
	rec := &restRecorder{}
	room := &fakeRoom{}
	cap := newCapture()
	cl, srv := connectedPalabra(t, rec, room, cap, func(o *Options) {
		o.Encoder = stubEncoder{}
	})
	defer srv.Close()
	defer cl.Disconnect(context.Background())

	if err := cl.AppendInputAudio(make([]int16, 480)); err != nil {
		t.Fatalf("append audio: %v", err)
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if len(room.audio) != 1 {
		t.Fatalf("expected one published frame, got %d", len(room.audio))
	}
}

func TestAppendInputAudioWithoutEncoderDrops(t *testing.T) {
	rec := &restRecorder{}
	room := &fakeRoom{}
	cap := newCapture()
	cl, srv := connectedPalabra(t, rec, room, cap)
	defer srv.Close()
	defer cl.Disconnect(context.Background())

	if err := cl.AppendInputAudio([]int16{1, 2, 3}); err != nil {
		t.Fatalf("dropping without encoder must not error: %v", err)
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if len(room.audio) != 0 {
		t.Fatalf("no frames expected without an encoder")
	}
}

func TestRoomLossClosesSession(t *testing.T) {
	rec := &restRecorder{}
	room := &fakeRoom{}
	cap := newCapture()
	cl, srv := connectedPalabra(t, rec, room, cap)
	defer srv.Close()

	room.onDisconnect(errorsx.New(errorsx.ReasonTransportClosed, "room lost"))
	if cl.IsConnected() {
		t.Fatalf("room loss must close the session")
	}
	cap.mu.Lock()
	defer cap.mu.Unlock()
	if len(cap.closes) != 1 {
		t.Fatalf("expected one close callback, got %d", len(cap.closes))
	}
}

func TestValidateCredentials(t *testing.T) {
	rec := &restRecorder{}
	srv := rec.server()
	defer srv.Close()

	if err := ValidateCredentials(context.Background(), srv.URL, "cid", "secret", srv.Client()); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := ValidateCredentials(context.Background(), srv.URL, "", "", nil); !errorsx.HasReason(err, errorsx.ReasonConfigMissing) {
		t.Fatalf("expected missing-config error, got %v", err)
	}
}

func TestUpdateSessionRestartsTask(t *testing.T) {
	rec := &restRecorder{}
	room := &fakeRoom{}
	cap := newCapture()
	cl, srv := connectedPalabra(t, rec, room, cap)
	defer srv.Close()
	defer cl.Disconnect(context.Background())

	patch := &session.PalabraConfig{TargetLanguage: "fr"}
	if err := cl.UpdateSession(context.Background(), patch); err != nil {
		t.Fatalf("update session: %v", err)
	}
	msgs := room.messages()
	last := msgs[len(msgs)-1]
	if last["message_type"] != "set_task" {
		t.Fatalf("expected a fresh set_task, got %+v", last)
	}
	pipeline := last["data"].(map[string]any)["pipeline"].(map[string]any)
	target := pipeline["translations"].([]any)[0].(map[string]any)["target_language"]
	if target != "fr" {
		t.Fatalf("merged target not applied: %v", target)
	}
}
