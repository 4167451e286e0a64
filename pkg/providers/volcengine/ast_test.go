package volcengine

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/interpret/pkg/conversation"
	"github.com/harunnryd/interpret/pkg/errorsx"
	"github.com/harunnryd/interpret/pkg/session"
	"github.com/harunnryd/interpret/pkg/transports/mock"
	"github.com/harunnryd/interpret/pkg/wire/astproto"
)

func astConfig() *session.VolcengineASTConfig {
	return &session.VolcengineASTConfig{
		SourceLanguage: "zh",
		TargetLanguage: "en",
	}
}

func pushEnvelope(conn *mock.Conn, resp *astproto.TranslateResponse) {
	conn.PushBinary(astproto.MarshalResponse(resp))
}

func sessionStarted() *astproto.TranslateResponse {
	return &astproto.TranslateResponse{
		Event:        astproto.EventSessionStarted,
		ResponseMeta: &astproto.ResponseMeta{StatusCode: astproto.StatusOKNamespace},
	}
}

func connectAST(t *testing.T, conn *mock.Conn, cap *capture) (*ASTClient, *mock.Dialer) {
	t.Helper()
	pushEnvelope(conn, sessionStarted())
	dialer := mock.NewDialer(conn)
	cl := NewASTClient(ASTOptions{
		AppKey:     "appkey",
		AccessKey:  "accesskey",
		ResourceID: "volc.service_type.ast",
		UID:        "user-1",
		Platform:   "linux",
		Dialer:     dialer,
	})
	cl.SetHandlers(cap.handlers())
	if err := cl.Connect(context.Background(), astConfig()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return cl, dialer
}

func TestASTConnectHandshake(t *testing.T) {
	conn := mock.NewConn()
	cap := newCapture()
	cl, dialer := connectAST(t, conn, cap)
	defer cl.Disconnect(context.Background())

	header := dialer.DialedHeaders[0]
	if header.Get("X-Api-App-Key") != "appkey" || header.Get("X-Api-Access-Key") != "accesskey" {
		t.Fatalf("auth headers missing: %v", header)
	}
	if header.Get("X-Api-Connect-Id") == "" {
		t.Fatalf("connect id header missing")
	}

	first := <-conn.Sent()
	// The StartSession envelope is outbound; its field numbering mirrors
	// the response envelope only at the event position, so decode as a
	// response to read the event code.
	dec, err := astproto.UnmarshalResponse(first.Data)
	if err != nil {
		t.Fatalf("decode start envelope: %v", err)
	}
	if dec.Event != astproto.EventStartSession {
		t.Fatalf("first envelope must be StartSession, got %v", dec.Event)
	}
	if !cl.IsConnected() {
		t.Fatalf("expected connected after SessionStarted")
	}
}

func TestASTConnectFailsOnSessionFailed(t *testing.T) {
	conn := mock.NewConn()
	pushEnvelope(conn, &astproto.TranslateResponse{
		Event:        astproto.EventSessionFailed,
		ResponseMeta: &astproto.ResponseMeta{StatusCode: astproto.StatusOK, Message: "quota exceeded"},
	})
	cl := NewASTClient(ASTOptions{
		AppKey: "k", AccessKey: "a",
		Dialer: mock.NewDialer(conn),
	})
	err := cl.Connect(context.Background(), astConfig())
	if !errorsx.HasReason(err, errorsx.ReasonUpstreamStatus) {
		t.Fatalf("expected upstream failure, got %v", err)
	}
	if cl.IsConnected() {
		t.Fatalf("must not be connected after SessionFailed")
	}
}

func TestASTConnectFailsOnErrorStatus(t *testing.T) {
	conn := mock.NewConn()
	pushEnvelope(conn, &astproto.TranslateResponse{
		Event:        astproto.EventSessionStarted,
		ResponseMeta: &astproto.ResponseMeta{StatusCode: 45000001, Message: "bad resource"},
	})
	cl := NewASTClient(ASTOptions{
		AppKey: "k", AccessKey: "a",
		Dialer: mock.NewDialer(conn),
	})
	if err := cl.Connect(context.Background(), astConfig()); err == nil {
		t.Fatalf("error status before readiness must fail connect")
	}
}

func TestASTSubtitleLifecycle(t *testing.T) {
	conn := mock.NewConn()
	cap := newCapture()
	cl, _ := connectAST(t, conn, cap)
	defer cl.Disconnect(context.Background())

	meta := &astproto.ResponseMeta{StatusCode: astproto.StatusOKNamespace}
	pushEnvelope(conn, &astproto.TranslateResponse{Event: astproto.EventSourceSubtitleStart, ResponseMeta: meta})
	pushEnvelope(conn, &astproto.TranslateResponse{Event: astproto.EventSourceSubtitleResponse, ResponseMeta: meta, Text: "你好"})
	pushEnvelope(conn, &astproto.TranslateResponse{Event: astproto.EventSourceSubtitleEnd, ResponseMeta: meta, Text: "你好。", StartTime: 0, EndTime: 1800})
	pushEnvelope(conn, &astproto.TranslateResponse{Event: astproto.EventTranslationSubtitleStart, ResponseMeta: meta})
	pushEnvelope(conn, &astproto.TranslateResponse{Event: astproto.EventTranslationSubtitleResponse, ResponseMeta: meta, Text: "Hello."})

	upds := cap.waitUpdates(t, 3)
	if upds[0].Item.Role != conversation.RoleUser || upds[0].Item.Text != "你好" {
		t.Fatalf("unexpected first subtitle: %+v", upds[0].Item)
	}
	if upds[1].Item.Status != conversation.StatusCompleted || upds[1].Item.Text != "你好。" {
		t.Fatalf("subtitle end must finalize: %+v", upds[1].Item)
	}
	if upds[2].Item.Role != conversation.RoleAssistant || upds[2].Item.Stage != conversation.StageTranslation {
		t.Fatalf("unexpected translation subtitle: %+v", upds[2].Item)
	}
	if upds[0].Item.ID == upds[2].Item.ID {
		t.Fatalf("source and translation segments must not share an item")
	}
}

func TestASTTTSBuffering(t *testing.T) {
	conn := mock.NewConn()
	cap := newCapture()
	cl, _ := connectAST(t, conn, cap)
	defer cl.Disconnect(context.Background())

	meta := &astproto.ResponseMeta{StatusCode: astproto.StatusOKNamespace}
	pushEnvelope(conn, &astproto.TranslateResponse{Event: astproto.EventTTSSentenceStart, ResponseMeta: meta})
	pushEnvelope(conn, &astproto.TranslateResponse{Event: astproto.EventTTSResponse, ResponseMeta: meta, Data: []byte{1, 2}})
	pushEnvelope(conn, &astproto.TranslateResponse{Event: astproto.EventTTSResponse, ResponseMeta: meta, Data: []byte{3}})
	pushEnvelope(conn, &astproto.TranslateResponse{Event: astproto.EventTTSSentenceEnd, ResponseMeta: meta})

	upds := cap.waitUpdates(t, 3)
	last := upds[len(upds)-1]
	if last.Item.Status != conversation.StatusCompleted {
		t.Fatalf("sentence end must close the audio item: %+v", last.Item)
	}
	if len(last.Item.Audio) != 3 {
		t.Fatalf("expected 3 buffered audio bytes, got %d", len(last.Item.Audio))
	}
	if last.Item.AudioFormat != "ogg_opus" {
		t.Fatalf("unexpected audio format %q", last.Item.AudioFormat)
	}
}

type stubDecoder struct {
	mu  sync.Mutex
	fed [][]byte
}

func (d *stubDecoder) Decode(compressed []byte) ([]int16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fed = append(d.fed, append([]byte(nil), compressed...))
	return make([]int16, len(compressed)), nil
}

func (d *stubDecoder) Format() string { return "ogg_opus" }

type stubSink struct {
	mu      sync.Mutex
	written [][]int16
}

func (s *stubSink) Write(samples []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, samples)
	return nil
}

func (s *stubSink) Flush() error { return nil }

func TestASTSentenceDecodesToSinkAsOneBuffer(t *testing.T) {
	conn := mock.NewConn()
	cap := newCapture()
	pushEnvelope(conn, sessionStarted())
	dec := &stubDecoder{}
	sink := &stubSink{}
	cl := NewASTClient(ASTOptions{
		AppKey: "k", AccessKey: "a",
		Dialer:  mock.NewDialer(conn),
		Decoder: dec,
		Sink:    sink,
	})
	cl.SetHandlers(cap.handlers())
	if err := cl.Connect(context.Background(), astConfig()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer cl.Disconnect(context.Background())

	meta := &astproto.ResponseMeta{StatusCode: astproto.StatusOKNamespace}
	pushEnvelope(conn, &astproto.TranslateResponse{Event: astproto.EventTTSSentenceStart, ResponseMeta: meta})
	pushEnvelope(conn, &astproto.TranslateResponse{Event: astproto.EventTTSResponse, ResponseMeta: meta, Data: []byte{1, 2}})
	pushEnvelope(conn, &astproto.TranslateResponse{Event: astproto.EventTTSResponse, ResponseMeta: meta, Data: []byte{3}})
	pushEnvelope(conn, &astproto.TranslateResponse{Event: astproto.EventTTSSentenceEnd, ResponseMeta: meta})

	deadline := time.Now().Add(2 * time.Second)
	for {
		sink.mu.Lock()
		n := len(sink.written)
		sink.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sink never received the decoded sentence")
		}
		time.Sleep(5 * time.Millisecond)
	}
	dec.mu.Lock()
	defer dec.mu.Unlock()
	if len(dec.fed) != 1 || !bytes.Equal(dec.fed[0], []byte{1, 2, 3}) {
		t.Fatalf("decoder must see the sentence as one concatenated buffer, got %v", dec.fed)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.written) != 1 || len(sink.written[0]) != 3 {
		t.Fatalf("sink must get one decoded chunk, got %v", sink.written)
	}
}

func TestASTUsageResponseReportsDuration(t *testing.T) {
	conn := mock.NewConn()
	cap := newCapture()
	pushEnvelope(conn, sessionStarted())
	rep := &recordingReporter{}
	cl := NewASTClient(ASTOptions{
		AppKey: "k", AccessKey: "a",
		Dialer:        mock.NewDialer(conn),
		UsageReporter: rep,
		SubjectID:     "user-1",
	})
	cl.SetHandlers(cap.handlers())
	if err := cl.Connect(context.Background(), astConfig()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	pushEnvelope(conn, &astproto.TranslateResponse{
		Event: astproto.EventUsageResponse,
		ResponseMeta: &astproto.ResponseMeta{
			StatusCode: astproto.StatusOKNamespace,
			Billing:    &astproto.Billing{DurationMsec: 5000},
		},
	})
	_ = cl.Disconnect(context.Background())

	rep.mu.Lock()
	defer rep.mu.Unlock()
	if len(rep.events) != 1 || rep.events[0].DurationSeconds != 5 {
		t.Fatalf("expected 5s usage event, got %+v", rep.events)
	}
}

func TestASTMidStreamErrorKeepsSession(t *testing.T) {
	conn := mock.NewConn()
	cap := newCapture()
	cl, _ := connectAST(t, conn, cap)
	defer cl.Disconnect(context.Background())

	pushEnvelope(conn, &astproto.TranslateResponse{
		Event:        astproto.EventSessionFailed,
		ResponseMeta: &astproto.ResponseMeta{StatusCode: 55000009, Message: "internal hiccup"},
	})
	upds := cap.waitUpdates(t, 1)
	if upds[0].Item.Role != conversation.RoleSystem {
		t.Fatalf("expected system error item")
	}
	if !cl.IsConnected() {
		t.Fatalf("mid-stream error must not close the session")
	}
}

func TestASTDisconnectSendsFinishSession(t *testing.T) {
	conn := mock.NewConn()
	cap := newCapture()
	cl, _ := connectAST(t, conn, cap)

	<-conn.Sent() // StartSession
	if err := cl.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	select {
	case m := <-conn.Sent():
		dec, err := astproto.UnmarshalResponse(m.Data)
		if err != nil {
			t.Fatalf("decode finish envelope: %v", err)
		}
		if dec.Event != astproto.EventFinishSession {
			t.Fatalf("expected FinishSession, got %v", dec.Event)
		}
	default:
		t.Fatalf("no FinishSession envelope sent")
	}
}

func TestASTAudioFramesAreBinaryTaskRequests(t *testing.T) {
	conn := mock.NewConn()
	cap := newCapture()
	cl, _ := connectAST(t, conn, cap)
	defer cl.Disconnect(context.Background())

	<-conn.Sent() // StartSession
	if err := cl.AppendInputAudio([]int16{100, -100}); err != nil {
		t.Fatalf("append audio: %v", err)
	}
	m := <-conn.Sent()
	dec, err := astproto.UnmarshalResponse(m.Data)
	if err != nil {
		t.Fatalf("decode task envelope: %v", err)
	}
	if dec.Event != astproto.EventTaskRequest {
		t.Fatalf("expected TaskRequest, got %v", dec.Event)
	}
}
