package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/livetalk/pkg/provider/live"
)

// link is the session the uplink and downlink share. When the conversation
// can reconnect, the session behind it is replaced in place, so neither task
// has to restart.
type link struct {
	resumable bool

	mu   sync.RWMutex
	sess live.Session
}

var _ live.Session = (*link)(nil)

func newLink(sess live.Session, resumable bool) *link {
	return &link{sess: sess, resumable: resumable}
}

func (l *link) current() live.Session {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sess
}

// SendAudio forwards to the current session. While reconnects are possible
// the downlink decides when the conversation is over, so a closed session
// only costs the uplink this one chunk.
func (l *link) SendAudio(ctx context.Context, data []byte, mimeType string) error {
	err := l.current().SendAudio(ctx, data, mimeType)
	if err != nil && l.resumable && errors.Is(err, live.ErrClosed) {
		return fmt.Errorf("%w: session reconnecting: %w", live.ErrRejected, err)
	}
	return err
}

func (l *link) SendToolResponse(ctx context.Context, responses []live.FunctionResponse) error {
	return l.current().SendToolResponse(ctx, responses)
}

func (l *link) Receive(ctx context.Context) (*live.Message, error) {
	return l.current().Receive(ctx)
}

// swap installs next and closes the session it replaces.
func (l *link) swap(next live.Session) error {
	l.mu.Lock()
	prev := l.sess
	l.sess = next
	l.mu.Unlock()
	if prev == nil {
		return nil
	}
	return prev.Close()
}

func (l *link) Close() error {
	return l.current().Close()
}
