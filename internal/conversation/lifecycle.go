package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livetalk/internal/observe"
	"github.com/MrWong99/livetalk/pkg/audio"
	"github.com/MrWong99/livetalk/pkg/audio/capture"
	"github.com/MrWong99/livetalk/pkg/audio/relay"
	"github.com/MrWong99/livetalk/pkg/provider/live"
)

// Default reconnection parameters.
const (
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// ErrAlreadyRun is returned by a second call to [Lifecycle.Run].
var ErrAlreadyRun = errors.New("conversation: lifecycle already run")

// Player is the render side of the conversation. [playback.Player]
// satisfies it.
type Player interface {
	Speaker
	Init(deviceID string) error
}

// HandleStore persists resumption handles and remembers the latest one.
// [store.ResumptionFile] satisfies it.
type HandleStore interface {
	HandleSaver
	Last() string
}

// Deps are the collaborators of a [Lifecycle]. All but Metrics are required.
type Deps struct {
	Connector  live.Connector
	Capture    *capture.Source
	Player     Player
	Tools      ToolHandler
	Resumption HandleStore
	Audit      AuditSink

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// ReconnectPolicy controls resumption after the remote ends a session.
type ReconnectPolicy struct {
	// MaxRetries is the number of connection attempts per drop. Zero
	// disables reconnecting.
	MaxRetries int

	// InitialBackoff doubles after every failed attempt up to MaxBackoff.
	// Defaults to 1s and 30s.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Config holds the per-conversation settings.
type Config struct {
	// Session is sent in the setup message. Its ResumptionHandle is used for
	// the first connection.
	Session live.SessionConfig

	// Transport names the connector in logs and metrics.
	Transport string

	CaptureDevice  string
	PlaybackDevice string

	// QueueCapacity bounds the relay queue. Defaults to
	// [relay.DefaultCapacity].
	QueueCapacity int

	Reconnect ReconnectPolicy
}

// Lifecycle owns one conversation from connect to teardown. A Lifecycle
// runs once.
type Lifecycle struct {
	deps  Deps
	cfg   Config
	state *StateMachine
	queue *relay.Queue
	link  *link
	ran   atomic.Bool
}

// New checks deps and wires the capture source to close the relay queue
// when it stops.
func New(deps Deps, cfg Config) (*Lifecycle, error) {
	var missing []string
	if deps.Connector == nil {
		missing = append(missing, "connector")
	}
	if deps.Capture == nil {
		missing = append(missing, "capture source")
	}
	if deps.Player == nil {
		missing = append(missing, "player")
	}
	if deps.Tools == nil {
		missing = append(missing, "tool handler")
	}
	if deps.Resumption == nil {
		missing = append(missing, "resumption store")
	}
	if deps.Audit == nil {
		missing = append(missing, "audit log")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("conversation: missing %s", strings.Join(missing, ", "))
	}

	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = relay.DefaultCapacity
	}
	if cfg.Transport == "" {
		cfg.Transport = "live"
	}
	if cfg.Reconnect.InitialBackoff <= 0 {
		cfg.Reconnect.InitialBackoff = defaultBackoff
	}
	if cfg.Reconnect.MaxBackoff <= 0 {
		cfg.Reconnect.MaxBackoff = defaultMaxBackoff
	}

	l := &Lifecycle{
		deps:  deps,
		cfg:   cfg,
		queue: relay.New(cfg.QueueCapacity),
	}
	l.state = NewStateMachine(func(from, to State) {
		slog.Info("session state changed", "from", from.String(), "to", to.String())
	})

	onStop := deps.Capture.OnStop
	deps.Capture.OnStop = func() {
		l.queue.Close()
		if onStop != nil {
			onStop()
		}
	}
	return l, nil
}

// State returns the current connection state.
func (l *Lifecycle) State() State {
	return l.state.Current()
}

// Ready reports an error unless the session is connected. It fits
// [health.Checker].
func (l *Lifecycle) Ready(context.Context) error {
	if s := l.state.Current(); s != StateConnected {
		return fmt.Errorf("session %s", s)
	}
	return nil
}

// Run connects, streams microphone audio up and model output down until
// either side ends or ctx is done, then tears everything down in order:
// capture, playback, session. A remote close and cancellation both return
// nil.
func (l *Lifecycle) Run(ctx context.Context) error {
	if !l.ran.CompareAndSwap(false, true) {
		return ErrAlreadyRun
	}
	if err := l.state.Transition(StateConnecting); err != nil {
		return err
	}

	sess, err := l.connect(ctx, l.cfg.Session.ResumptionHandle)
	if err != nil {
		l.state.Close()
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	l.link = newLink(sess, l.cfg.Reconnect.MaxRetries > 0)
	_ = l.state.Transition(StateConnected)
	l.deps.Metrics.ActiveSessions.Add(ctx, 1)

	err = l.stream(ctx)
	l.shutdown(context.WithoutCancel(ctx))

	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, live.ErrClosed):
		slog.Info("session ended", "reason", err)
		return nil
	default:
		return err
	}
}

// stream runs capture, uplink and downlink under one cancellation scope.
// Whichever task ends first cancels the others.
func (l *Lifecycle) stream(ctx context.Context) error {
	if err := l.deps.Player.Init(l.cfg.PlaybackDevice); err != nil {
		return fmt.Errorf("conversation: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if err := l.deps.Capture.Start(gctx, l.cfg.CaptureDevice, audio.CaptureFormat, l.onChunk); err != nil {
		return fmt.Errorf("conversation: %w", err)
	}

	up := &Uplink{
		Sender:  l.link,
		Queue:   l.queue,
		Metrics: l.deps.Metrics,
	}
	down := &Downlink{
		Session:    l.link,
		Player:     l.deps.Player,
		Tools:      l.deps.Tools,
		Resumption: l.deps.Resumption,
		Audit:      l.deps.Audit,
		Metrics:    l.deps.Metrics,
	}
	if l.cfg.Reconnect.MaxRetries > 0 {
		down.Reconnect = l.reconnect
	}

	g.Go(func() error {
		defer cancel()
		return up.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return down.Run(gctx)
	})
	return g.Wait()
}

func (l *Lifecycle) onChunk(c audio.Chunk) {
	if l.queue.Push(c) {
		return
	}
	reason := "full"
	if l.queue.Closed() {
		reason = "closed"
	}
	l.deps.Metrics.RecordCaptureDrop(context.Background(), reason)
}

func (l *Lifecycle) shutdown(ctx context.Context) {
	if err := l.deps.Capture.Stop(); err != nil {
		slog.Warn("capture stop failed", "err", err)
	}
	if err := l.deps.Player.Teardown(); err != nil {
		slog.Warn("playback teardown failed", "err", err)
	}
	_ = l.state.Transition(StateClosing)
	if err := l.link.Close(); err != nil {
		slog.Warn("session close failed", "err", err)
	}
	l.state.Close()
	l.deps.Metrics.ActiveSessions.Add(ctx, -1)

	stats := l.queue.Stats()
	slog.Info("conversation closed", "queue_stats", stats)
}

func (l *Lifecycle) connect(ctx context.Context, handle string) (live.Session, error) {
	ctx, span := observe.StartSpan(ctx, "conversation.connect",
		trace.WithAttributes(
			attribute.String("transport", l.cfg.Transport),
			attribute.Bool("resumed", handle != ""),
		),
	)
	defer span.End()

	cfg := l.cfg.Session
	cfg.ResumptionHandle = handle
	sess, err := l.deps.Connector.Connect(ctx, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.deps.Metrics.RecordConnect(ctx, l.cfg.Transport, "error")
		return nil, fmt.Errorf("conversation: connect: %w", err)
	}
	l.deps.Metrics.RecordConnect(ctx, l.cfg.Transport, "ok")
	observe.Logger(ctx).Info("session connected", "transport", l.cfg.Transport, "resumed", handle != "")
	return sess, nil
}

// resumeHandle prefers the newest handle seen in this process.
func (l *Lifecycle) resumeHandle() string {
	if h := l.deps.Resumption.Last(); h != "" {
		return h
	}
	return l.cfg.Session.ResumptionHandle
}

// reconnect replaces the session with exponential backoff between attempts.
func (l *Lifecycle) reconnect(ctx context.Context) error {
	if err := l.state.Transition(StateConnecting); err != nil {
		return err
	}
	policy := l.cfg.Reconnect
	handle := l.resumeHandle()
	backoff := policy.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= policy.MaxRetries; attempt++ {
		slog.Info("attempting reconnection",
			"attempt", attempt,
			"max_retries", policy.MaxRetries,
			"resumed", handle != "",
		)
		sess, err := l.connect(ctx, handle)
		if err == nil {
			if err := l.link.swap(sess); err != nil {
				slog.Debug("closing replaced session", "err", err)
			}
			_ = l.state.Transition(StateConnected)
			slog.Info("reconnection successful", "attempt", attempt)
			return nil
		}
		lastErr = err
		slog.Warn("reconnection attempt failed", "attempt", attempt, "err", err)

		if attempt == policy.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, policy.MaxBackoff)
	}
	return fmt.Errorf("conversation: reconnect failed after %d attempts: %w", policy.MaxRetries, lastErr)
}
