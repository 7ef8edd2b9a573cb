package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/MrWong99/livetalk/internal/observe"
	"github.com/MrWong99/livetalk/internal/tools"
	"github.com/MrWong99/livetalk/pkg/provider/live"
)

// Receiver is the downstream half of a live session. Tool responses are sent
// back through it.
type Receiver interface {
	Receive(ctx context.Context) (*live.Message, error)
	SendToolResponse(ctx context.Context, responses []live.FunctionResponse) error
}

// Speaker plays response audio. [playback.Player] satisfies it.
type Speaker interface {
	Admit(ctx context.Context, b []byte) bool
	Flush() int
	Teardown() error
}

// ToolHandler executes one batch of function calls and sends their
// responses. [tools.Executor] satisfies it.
type ToolHandler interface {
	Handle(ctx context.Context, sender tools.ResponseSender, calls []live.FunctionCall) error
}

// HandleSaver persists resumption handles.
type HandleSaver interface {
	Save(handle string) error
}

// AuditSink records every inbound frame.
type AuditSink interface {
	Append(raw []byte) error
}

// Downlink dispatches inbound messages: it persists resumption handles,
// audits every frame, runs tool calls and plays audio.
type Downlink struct {
	Session    Receiver
	Player     Speaker
	Tools      ToolHandler
	Resumption HandleSaver
	Audit      AuditSink
	Metrics    *observe.Metrics

	// Reconnect, if set, is called when the session ends or announces that
	// it will. A nil Reconnect makes a closed session end the downlink.
	Reconnect func(ctx context.Context) error

	// RetryPause is the wait after a failed receive. It doubles with each
	// consecutive failure up to maxRetryPause. Zero means defaultRetryPause.
	RetryPause time.Duration
}

const (
	defaultRetryPause = 50 * time.Millisecond
	maxRetryPause     = 2 * time.Second
)

// retryPause returns the wait after the n-th consecutive receive failure.
func (d *Downlink) retryPause(n int) time.Duration {
	pause := d.RetryPause
	if pause <= 0 {
		pause = defaultRetryPause
	}
	for i := 1; i < n && pause < maxRetryPause; i++ {
		pause *= 2
	}
	return min(pause, maxRetryPause)
}

// Run receives until the session closes or ctx is done. Failures handling a
// single message are logged and the loop continues. The player is torn down
// on return.
func (d *Downlink) Run(ctx context.Context) error {
	defer func() {
		if err := d.Player.Teardown(); err != nil {
			slog.Warn("playback teardown failed", "err", err)
		}
	}()

	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		msg, err := d.Session.Receive(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, live.ErrClosed):
			if d.Reconnect == nil {
				slog.Info("session closed by remote")
				return nil
			}
			slog.Info("session closed by remote, reconnecting")
			if err := d.reconnect(ctx); err != nil {
				return err
			}
			failures = 0
			continue
		default:
			failures++
			pause := d.retryPause(failures)
			slog.Error("failed to receive message", "err", err, "failures", failures, "retry_in", pause)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pause):
			}
			continue
		}
		failures = 0
		if msg == nil {
			continue
		}

		goAway := d.dispatch(ctx, msg)
		if goAway && d.Reconnect != nil {
			slog.Warn("server announced disconnect, reconnecting early")
			if err := d.reconnect(ctx); err != nil {
				return err
			}
		}
	}
}

func (d *Downlink) reconnect(ctx context.Context) error {
	if err := d.Reconnect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("downlink: %w", err)
	}
	return nil
}

// dispatch handles one message and reports whether it carried a GoAway.
func (d *Downlink) dispatch(ctx context.Context, msg *live.Message) (goAway bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while handling message", "panic", r, "stack", string(debug.Stack()))
			goAway = false
		}
	}()

	if msg.ResumptionHandle != "" {
		if err := d.Resumption.Save(msg.ResumptionHandle); err != nil {
			slog.Error("failed to save resumption handle", "err", err)
		} else {
			d.Metrics.ResumptionUpdates.Add(ctx, 1)
			slog.Debug("resumption handle saved")
		}
	}
	if len(msg.Raw) > 0 {
		if err := d.Audit.Append(msg.Raw); err != nil {
			slog.Error("failed to append audit record", "err", err)
		}
	}

	if ctx.Err() != nil {
		return false
	}
	if msg.Empty() {
		d.Metrics.RecordDownlink(ctx, "empty")
		slog.Debug("empty message skipped")
		return false
	}

	if msg.InputTranscript != "" {
		slog.Info("input transcript", "text", msg.InputTranscript)
	}
	if msg.OutputTranscript != "" {
		slog.Info("output transcript", "text", msg.OutputTranscript)
	}
	if msg.Interrupted {
		d.Metrics.RecordDownlink(ctx, "interrupted")
		n := d.Player.Flush()
		slog.Info("model interrupted, playback flushed", "bytes", n)
	}

	switch {
	case len(msg.ToolCalls) > 0:
		d.Metrics.RecordDownlink(ctx, "tool_call")
		if err := d.Tools.Handle(ctx, d.Session, msg.ToolCalls); err != nil && ctx.Err() == nil {
			slog.Warn("tool call batch incomplete", "calls", len(msg.ToolCalls), "err", err)
		}
	case len(msg.Audio) > 0:
		d.Metrics.RecordDownlink(ctx, "audio")
		d.play(ctx, msg.Audio)
	case msg.TurnComplete:
		d.Metrics.RecordDownlink(ctx, "turn_complete")
		slog.Info("turn complete")
	}

	if msg.GoAway {
		d.Metrics.RecordDownlink(ctx, "go_away")
	}
	return msg.GoAway
}

func (d *Downlink) play(ctx context.Context, parts [][]byte) {
	for _, part := range parts {
		if len(part) == 0 {
			continue
		}
		start := time.Now()
		ok := d.Player.Admit(ctx, part)
		d.Metrics.PlaybackAdmitWait.Record(ctx, time.Since(start).Seconds())
		if ok {
			d.Metrics.RecordPlayback(ctx, len(part), "admitted")
		} else {
			d.Metrics.RecordPlayback(ctx, len(part), "dropped")
		}
	}
}
