package runner

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/interpret/pkg/adapters"
	"github.com/harunnryd/interpret/pkg/conversation"
	"github.com/harunnryd/interpret/pkg/session"
)

type fakeClient struct {
	mu          sync.Mutex
	handlers    adapters.Handlers
	connected   bool
	disconnects int
	connectErr  error
	appended    [][]int16
}

func (f *fakeClient) Connect(ctx context.Context, cfg session.Config) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	f.connected = false
	f.disconnects++
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) UpdateSession(ctx context.Context, cfg session.Config) error { return nil }
func (f *fakeClient) Reset()                                                      {}
func (f *fakeClient) AppendInputAudio(samples []int16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, samples)
	return nil
}
func (f *fakeClient) AppendInputText(text string) error                           { return nil }
func (f *fakeClient) CreateResponse(cfg *adapters.ResponseConfig) error           { return nil }
func (f *fakeClient) CancelResponse() error                                       { return nil }
func (f *fakeClient) Items() []conversation.Item                                  { return nil }
func (f *fakeClient) Provider() session.Provider                                  { return session.ProviderOpenAI }

func (f *fakeClient) SetHandlers(h adapters.Handlers) {
	f.mu.Lock()
	f.handlers = h
	f.mu.Unlock()
}

func (f *fakeClient) callbacks() adapters.Handlers {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cl := &fakeClient{}
	run := New(cl, &session.OpenAIConfig{Model: "m"}, nil, Hooks{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run.Run(ctx) }()

	waitState(t, run, StateRunning)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop on cancel")
	}
	if cl.disconnects != 1 {
		t.Fatalf("expected one disconnect, got %d", cl.disconnects)
	}
	if run.State() != StateStopped {
		t.Fatalf("expected stopped state, got %d", run.State())
	}
}

func TestRunReturnsSessionLossCause(t *testing.T) {
	cl := &fakeClient{}
	run := New(cl, &session.OpenAIConfig{Model: "m"}, nil, Hooks{})

	done := make(chan error, 1)
	go func() { done <- run.Run(context.Background()) }()

	waitState(t, run, StateRunning)
	cause := errors.New("socket dropped")
	cl.callbacks().OnClose(cause)

	select {
	case err := <-done:
		if !errors.Is(err, cause) {
			t.Fatalf("expected loss cause, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop on session loss")
	}
}

func TestRunFailsFastOnConnectError(t *testing.T) {
	cause := errors.New("no route")
	cl := &fakeClient{connectErr: cause}
	run := New(cl, &session.OpenAIConfig{Model: "m"}, nil, Hooks{})

	if err := run.Run(context.Background()); !errors.Is(err, cause) {
		t.Fatalf("expected connect error, got %v", err)
	}
	if cl.disconnects != 0 {
		t.Fatalf("no disconnect expected after failed connect")
	}
}

type chunkSource struct {
	mu     sync.Mutex
	chunks [][]int16
}

func (s *chunkSource) Read(ctx context.Context) ([]int16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.chunks) == 0 {
		return nil, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *chunkSource) SampleRate() int { return 16000 }
func (s *chunkSource) Channels() int   { return 1 }

func TestRunPumpsSourceIntoClient(t *testing.T) {
	cl := &fakeClient{}
	run := New(cl, &session.OpenAIConfig{Model: "m"}, nil, Hooks{})
	run.SetSource(&chunkSource{chunks: [][]int16{{1, 2}, {3}}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run.Run(ctx) }()

	waitState(t, run, StateRunning)
	deadline := time.Now().Add(2 * time.Second)
	for {
		cl.mu.Lock()
		n := len(cl.appended)
		cl.mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("pump forwarded %d chunks, want 2", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if len(cl.appended[0]) != 2 || len(cl.appended[1]) != 1 {
		t.Fatalf("chunks arrived malformed: %v", cl.appended)
	}
}

func waitState(t *testing.T, run *Runner, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if run.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("runner never reached state %d", want)
}
