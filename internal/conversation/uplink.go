package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/livetalk/internal/observe"
	"github.com/MrWong99/livetalk/pkg/audio/relay"
	"github.com/MrWong99/livetalk/pkg/provider/live"
)

// AudioSender is the upstream half of a live session.
type AudioSender interface {
	SendAudio(ctx context.Context, data []byte, mimeType string) error
}

// Uplink streams queued microphone chunks to the session.
type Uplink struct {
	Sender  AudioSender
	Queue   *relay.Queue
	Metrics *observe.Metrics
}

// Run drains the queue until it is closed and empty or ctx is done. A chunk
// the session rejects is skipped; only the first of a run of rejections is
// logged as a warning. Any other send failure ends the uplink with that
// error. Cancellation returns nil.
func (u *Uplink) Run(ctx context.Context) error {
	chunks, err := u.Queue.Drain(ctx)
	if err != nil {
		return fmt.Errorf("uplink: %w", err)
	}

	rejected := 0
	for chunk := range chunks {
		if chunk.Empty() {
			continue
		}
		err := u.Sender.SendAudio(ctx, chunk.Data, chunk.Format.MIMEType())
		switch {
		case err == nil:
			u.Metrics.RecordUplink(ctx, "sent")
			if rejected > 0 {
				slog.Info("session accepting audio again", "rejected", rejected)
				rejected = 0
			}
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, live.ErrRejected):
			u.Metrics.RecordUplink(ctx, "rejected")
			rejected++
			if rejected == 1 {
				slog.Warn("session rejecting audio, dropping chunks", "err", err)
			} else {
				slog.Debug("audio chunk rejected by session", "bytes", len(chunk.Data), "err", err)
			}
		default:
			u.Metrics.RecordUplink(ctx, "error")
			return fmt.Errorf("uplink: send audio: %w", err)
		}
	}
	slog.Debug("uplink finished", "stats", u.Queue.Stats())
	return nil
}
