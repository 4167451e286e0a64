package adapters

import (
	"sync"

	"github.com/harunnryd/interpret/pkg/errorsx"
)

// ConnectionState tracks the session lifecycle.
type ConnectionState string

const (
	StateIdle           ConnectionState = "idle"
	StateConnecting     ConnectionState = "connecting"
	StateAuthenticating ConnectionState = "authenticating"
	StateReady          ConnectionState = "ready"
	StateStreaming      ConnectionState = "streaming"
	StateClosing        ConnectionState = "closing"
	StateClosed         ConnectionState = "closed"
	StateFailed         ConnectionState = "failed"
)

// validTransitions enumerates the allowed lifecycle edges. Closing is
// reachable from every live state so disconnect stays idempotent.
var validTransitions = map[ConnectionState][]ConnectionState{
	StateIdle:           {StateConnecting},
	StateConnecting:     {StateAuthenticating, StateReady, StateClosing, StateFailed},
	StateAuthenticating: {StateReady, StateClosing, StateFailed},
	StateReady:          {StateStreaming, StateClosing, StateClosed, StateFailed},
	StateStreaming:      {StateReady, StateClosing, StateClosed, StateFailed},
	StateClosing:        {StateClosed, StateFailed},
	StateClosed:         {StateConnecting},
	StateFailed:         {StateConnecting},
}

// StateMachine guards lifecycle transitions. Observers registered with
// OnTransition run synchronously under the transition.
type StateMachine struct {
	mu        sync.Mutex
	state     ConnectionState
	observers []func(from, to ConnectionState)
}

func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateIdle}
}

// State returns the current state.
func (m *StateMachine) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Is reports whether the machine is in any of the given states.
func (m *StateMachine) Is(states ...ConnectionState) bool {
	cur := m.State()
	for _, s := range states {
		if cur == s {
			return true
		}
	}
	return false
}

// Live reports whether the session can carry traffic or is setting up.
func (m *StateMachine) Live() bool {
	return m.Is(StateConnecting, StateAuthenticating, StateReady, StateStreaming)
}

// Transition moves to the target state, failing on an illegal edge.
func (m *StateMachine) Transition(to ConnectionState) error {
	m.mu.Lock()
	from := m.state
	allowed := false
	for _, s := range validTransitions[from] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		m.mu.Unlock()
		return errorsx.New(errorsx.ReasonSessionState, "illegal transition %s -> %s", from, to)
	}
	m.state = to
	observers := m.observers
	m.mu.Unlock()
	for _, fn := range observers {
		fn(from, to)
	}
	return nil
}

// Force sets the state unconditionally. Terminal cleanup paths use it when
// racing transport failures make the precise source state unknowable.
func (m *StateMachine) Force(to ConnectionState) {
	m.mu.Lock()
	from := m.state
	m.state = to
	observers := m.observers
	m.mu.Unlock()
	for _, fn := range observers {
		fn(from, to)
	}
}

// OnTransition registers a transition observer.
func (m *StateMachine) OnTransition(fn func(from, to ConnectionState)) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}
