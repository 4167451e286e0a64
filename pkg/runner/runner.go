// Package runner hosts one realtime translation session: it wires the
// handlers, connects, and tears down cleanly when the context ends.
package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/dimiro1/banner"

	"github.com/harunnryd/interpret/pkg/adapters"
	"github.com/harunnryd/interpret/pkg/audio"
	"github.com/harunnryd/interpret/pkg/conversation"
	"github.com/harunnryd/interpret/pkg/session"
)

type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

const EngineVersion = "dev"

func PrintBanner() {
	tpl := "{{ .Title \"INTERPRET\" \"\" 0 }}\nVersion: " + EngineVersion + "\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}

// Hooks observe the session lifecycle and conversation stream.
type Hooks struct {
	OnUpdate func(conversation.Update)
	OnError  func(error)
}

// Runner drives one client through a full session.
type Runner struct {
	client adapters.Client
	cfg    session.Config
	log    *slog.Logger
	hooks  Hooks
	src    audio.InputSource

	mu    sync.Mutex
	state State
	lost  chan error
}

func New(client adapters.Client, cfg session.Config, log *slog.Logger, hooks Hooks) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		client: client,
		cfg:    cfg,
		log:    log.With(slog.String("component", "runner")),
		hooks:  hooks,
		lost:   make(chan error, 1),
	}
}

// SetSource attaches a capture source. Run pumps its chunks into the
// client for the session's lifetime. Must be set before Run.
func (r *Runner) SetSource(src audio.InputSource) { r.src = src }

func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Run connects and blocks until the context ends or the session is lost,
// then disconnects.
func (r *Runner) Run(ctx context.Context) error {
	r.setState(StateStarting)
	r.client.SetHandlers(adapters.Handlers{
		OnOpen: func() {
			r.log.Info("session open", slog.String("provider", string(r.client.Provider())))
		},
		OnClose: func(err error) {
			select {
			case r.lost <- err:
			default:
			}
		},
		OnError: func(err error) {
			r.log.Error("session error", slog.String("error", err.Error()))
			if r.hooks.OnError != nil {
				r.hooks.OnError(err)
			}
		},
		OnConversationUpdated: func(upd conversation.Update) {
			if r.hooks.OnUpdate != nil {
				r.hooks.OnUpdate(upd)
			}
		},
	})

	if err := r.client.Connect(ctx, r.cfg); err != nil {
		r.setState(StateStopped)
		return err
	}
	r.setState(StateRunning)

	if r.src != nil {
		pumpCtx, stopPump := context.WithCancel(ctx)
		pumpDone := make(chan struct{})
		go r.pump(pumpCtx, pumpDone)
		defer func() {
			stopPump()
			<-pumpDone
		}()
	}

	var cause error
	select {
	case <-ctx.Done():
	case err := <-r.lost:
		cause = err
		if cause != nil {
			r.log.Warn("session lost", slog.String("error", cause.Error()))
		}
	}

	r.setState(StateDraining)
	shutdownCtx := context.WithoutCancel(ctx)
	err := r.client.Disconnect(shutdownCtx)
	r.setState(StateStopped)
	if cause != nil {
		return cause
	}
	return err
}

// pump forwards capture chunks until the source drains or the session
// ends. Source exhaustion does not end the session: translation output
// for the last chunks is still in flight.
func (r *Runner) pump(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		samples, err := r.src.Read(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				r.log.Info("capture source drained")
			case ctx.Err() != nil:
			default:
				r.log.Warn("capture source failed", slog.String("error", err.Error()))
			}
			return
		}
		if len(samples) == 0 {
			continue
		}
		if err := r.client.AppendInputAudio(samples); err != nil {
			r.log.Warn("forwarding capture chunk failed", slog.String("error", err.Error()))
			return
		}
	}
}

// Client exposes the wrapped adapter so callers can feed input.
func (r *Runner) Client() adapters.Client { return r.client }
