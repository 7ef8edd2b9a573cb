// Package mock provides test doubles for the live package interfaces.
//
// Use Connector to verify Connect calls and hand out scripted sessions. Use
// Session to feed inbound messages through [Session.Push] and inspect the
// audio and tool responses sent by the code under test.
//
// Example:
//
//	sess := mock.NewSession()
//	sess.Push(&live.Message{TurnComplete: true})
//	sess.End() // Receive returns live.ErrClosed once the script is drained
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/livetalk/pkg/provider/live"
)

// ConnectCall records a single invocation of Connector.Connect.
type ConnectCall struct {
	Cfg live.SessionConfig
}

// Connector is a mock implementation of live.Connector.
type Connector struct {
	mu sync.Mutex

	// Sessions are returned by successive Connect calls. When exhausted a
	// fresh Session is created.
	Sessions []*Session

	// ConnectErr, if non-nil, is returned by Connect.
	ConnectErr error

	// ConnectErrs, if non-empty, are returned by successive Connect calls
	// before falling back to ConnectErr.
	ConnectErrs []error

	ConnectCalls []ConnectCall
}

var _ live.Connector = (*Connector)(nil)

// Connect records the call and returns the next scripted session.
func (c *Connector) Connect(_ context.Context, cfg live.SessionConfig) (live.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ConnectCalls = append(c.ConnectCalls, ConnectCall{Cfg: cfg})
	if len(c.ConnectErrs) > 0 {
		err := c.ConnectErrs[0]
		c.ConnectErrs = c.ConnectErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if c.ConnectErr != nil {
		return nil, c.ConnectErr
	}
	if len(c.Sessions) > 0 {
		s := c.Sessions[0]
		c.Sessions = c.Sessions[1:]
		return s, nil
	}
	return NewSession(), nil
}

// Calls returns a copy of the recorded Connect calls.
func (c *Connector) Calls() []ConnectCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ConnectCall, len(c.ConnectCalls))
	copy(out, c.ConnectCalls)
	return out
}

// AudioCall records one SendAudio invocation.
type AudioCall struct {
	Data     []byte
	MIMEType string
}

// Session is a mock implementation of live.Session.
type Session struct {
	mu sync.Mutex

	// SendAudioErr, if non-nil, is returned by SendAudio. SendAudioErrs, if
	// non-empty, are consumed first, one per call.
	SendAudioErr  error
	SendAudioErrs []error

	// SendToolResponseErr, if non-nil, is returned by SendToolResponse.
	SendToolResponseErr error

	AudioCalls    []AudioCall
	ToolResponses [][]live.FunctionResponse
	CloseCount    int

	inbox   chan item
	ended   bool
	closed  chan struct{}
	changed chan struct{}
}

type item struct {
	msg *live.Message
	err error
}

// NewSession returns a Session with an empty script.
func NewSession() *Session {
	return &Session{
		inbox:   make(chan item, 256),
		closed:  make(chan struct{}),
		changed: make(chan struct{}, 1),
	}
}

// Push appends a message to the inbound script.
func (s *Session) Push(msg *live.Message) {
	s.inbox <- item{msg: msg}
}

// PushErr appends a receive error to the inbound script.
func (s *Session) PushErr(err error) {
	s.inbox <- item{err: err}
}

// End marks the script complete: once drained, Receive reports
// live.ErrClosed.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		close(s.inbox)
	}
}

// SendAudio records the call.
func (s *Session) SendAudio(_ context.Context, data []byte, mimeType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.notify()
	s.AudioCalls = append(s.AudioCalls, AudioCall{Data: data, MIMEType: mimeType})
	if len(s.SendAudioErrs) > 0 {
		err := s.SendAudioErrs[0]
		s.SendAudioErrs = s.SendAudioErrs[1:]
		return err
	}
	return s.SendAudioErr
}

// SendToolResponse records the call.
func (s *Session) SendToolResponse(_ context.Context, responses []live.FunctionResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.notify()
	cp := make([]live.FunctionResponse, len(responses))
	copy(cp, responses)
	s.ToolResponses = append(s.ToolResponses, cp)
	return s.SendToolResponseErr
}

// Receive returns the next scripted message. It blocks when the script is
// empty and not ended, until ctx is done or the session is closed.
func (s *Session) Receive(ctx context.Context) (*live.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, live.ErrClosed
	case it, ok := <-s.inbox:
		if !ok {
			return nil, live.ErrClosed
		}
		return it.msg, it.err
	}
}

// Close records the call and unblocks Receive.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	if s.CloseCount == 1 {
		close(s.closed)
	}
	return nil
}

// Closes returns how often Close was called.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCount
}

// Audio returns a copy of the recorded SendAudio calls.
func (s *Session) Audio() []AudioCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AudioCall, len(s.AudioCalls))
	copy(out, s.AudioCalls)
	return out
}

// Responses returns a copy of the recorded tool response batches.
func (s *Session) Responses() [][]live.FunctionResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]live.FunctionResponse, len(s.ToolResponses))
	copy(out, s.ToolResponses)
	return out
}

// Changed is signalled (without blocking) after every send.
func (s *Session) Changed() <-chan struct{} { return s.changed }

func (s *Session) notify() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}
