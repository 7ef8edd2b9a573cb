// Package conversation runs one duplex audio conversation against a live
// session: the uplink streams microphone chunks to the model, the downlink
// plays its speech, executes its tool calls and persists resumption handles,
// and the [Lifecycle] ties both to the audio devices under one cancellation
// scope.
package conversation

import (
	"errors"
	"fmt"
	"sync"
)

// State is the connection state of a conversation.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrIllegalTransition is returned by [StateMachine.Transition] for a move
// the state graph does not allow.
var ErrIllegalTransition = errors.New("conversation: illegal state transition")

// transitions lists the allowed successors of each state. Connected may
// return to Connecting when the session is resumed on a new connection.
var transitions = map[State][]State{
	StateDisconnected: {StateConnecting, StateClosing},
	StateConnecting:   {StateConnected, StateClosing},
	StateConnected:    {StateConnecting, StateClosing},
	StateClosing:      {StateClosed},
	StateClosed:       nil,
}

// StateMachine guards the conversation state. It is safe for concurrent use.
type StateMachine struct {
	mu       sync.Mutex
	state    State
	onChange func(from, to State)
}

// NewStateMachine starts in [StateDisconnected]. onChange, if non-nil, is
// called after each successful transition while the lock is not held.
func NewStateMachine(onChange func(from, to State)) *StateMachine {
	return &StateMachine{onChange: onChange}
}

// Current returns the current state.
func (m *StateMachine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to next if the graph allows it.
func (m *StateMachine) Transition(next State) error {
	m.mu.Lock()
	from := m.state
	ok := false
	for _, s := range transitions[from] {
		if s == next {
			ok = true
			break
		}
	}
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, next)
	}
	m.state = next
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(from, next)
	}
	return nil
}

// Close walks from any non-terminal state through Closing to Closed. It is
// a no-op once Closed.
func (m *StateMachine) Close() {
	switch m.Current() {
	case StateClosed:
		return
	case StateClosing:
	default:
		_ = m.Transition(StateClosing)
	}
	_ = m.Transition(StateClosed)
}
