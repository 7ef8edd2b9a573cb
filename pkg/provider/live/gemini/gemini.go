// Package gemini implements [live.Connector] for the Gemini API Live
// endpoint.
//
// It opens a WebSocket to the BidiGenerateContent service, authenticates with
// an API key, and exchanges the protocol's JSON frames directly. Outbound
// frames go through a bounded outbox drained by a single writer goroutine, so
// a slow network surfaces as [live.ErrRejected] on audio sends instead of
// blocking the uplink.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/livetalk/pkg/provider/live"
)

var _ live.Connector = (*Provider)(nil)
var _ live.Session = (*session)(nil)

const (
	// DefaultModel is the Live model used when none is configured.
	DefaultModel   = "gemini-2.0-flash-live-001"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
	writeTimeout      = 10 * time.Second

	defaultOutboxSize = 64
	inboxSize         = 64

	// readLimit bounds a single inbound frame. Audio turns can be large.
	readLimit = 16 << 20
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Used in tests to point at a
// local server.
func WithBaseURL(base string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(base, "/") }
}

// WithOutboxSize sets how many outbound frames may wait for the writer
// before audio sends are rejected.
func WithOutboxSize(n int) Option {
	return func(p *Provider) { p.outboxSize = n }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider connects to the Gemini API Live endpoint.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	outboxSize int
}

// New creates a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		model:      DefaultModel,
		baseURL:    defaultBaseURL,
		outboxSize: defaultOutboxSize,
	}
	for _, o := range opts {
		o(p)
	}
	if p.outboxSize <= 0 {
		p.outboxSize = defaultOutboxSize
	}
	return p
}

// Model returns the configured model name.
func (p *Provider) Model() string { return p.model }

// Connect dials the endpoint and sends the setup frame. The session is ready
// for audio as soon as Connect returns; the server's setupComplete arrives
// as an ordinary (empty) message.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	if len(cfg.Retrieval) > 0 {
		return nil, fmt.Errorf("gemini: retrieval corpora are only available through Vertex AI")
	}

	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?%s",
		p.baseURL, url.Values{"key": {p.apiKey}}.Encode(),
	)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	setup, err := json.Marshal(buildSetup(p.model, cfg))
	if err != nil {
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: marshal setup: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, setup); err != nil {
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	s := &session{
		conn:   conn,
		inbox:  make(chan *live.Message, inboxSize),
		outbox: make(chan []byte, p.outboxSize),
		done:   make(chan struct{}),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	go s.receiveLoop()
	go s.writeLoop()
	go s.keepaliveLoop()

	return s, nil
}

// buildSetup translates cfg into the BidiGenerateContent setup frame.
func buildSetup(model string, cfg live.SessionConfig) setupMessage {
	setup := setupConfig{
		Model: "models/" + model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
			Temperature:        cfg.Temperature,
			TopP:               cfg.TopP,
			TopK:               cfg.TopK,
		},
	}

	if cfg.Voice != "" || cfg.Language != "" {
		sc := &speechConfig{LanguageCode: cfg.Language}
		if cfg.Voice != "" {
			sc.VoiceConfig = &voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			}
		}
		setup.GenerationConfig.SpeechConfig = sc
	}

	if cfg.SystemInstruction != "" {
		setup.SystemInstruction = &content{
			Role:  "user",
			Parts: []part{{Text: cfg.SystemInstruction}},
		}
	}

	if len(cfg.Tools) > 0 {
		decls := make([]functionDeclaration, len(cfg.Tools))
		for i, t := range cfg.Tools {
			decls[i] = functionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			}
		}
		setup.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	ad := cfg.ActivityDetection
	setup.RealtimeInputConfig = &realtimeInputConfig{
		AutomaticActivityDetection: automaticActivityDetection{
			Disabled:                 ad.Disabled,
			StartOfSpeechSensitivity: sensitivity("START", ad.StartSensitivity),
			EndOfSpeechSensitivity:   sensitivity("END", ad.EndSensitivity),
			PrefixPaddingMs:          ad.PrefixPaddingMs,
			SilenceDurationMs:        ad.SilenceDurationMs,
		},
	}

	setup.SessionResumption = &sessionResumption{Handle: cfg.ResumptionHandle}
	if cfg.InputTranscription {
		setup.InputAudioTranscription = &struct{}{}
	}
	if cfg.OutputTranscription {
		setup.OutputAudioTranscription = &struct{}{}
	}

	return setupMessage{Setup: setup}
}

// sensitivity renders e.g. START_SENSITIVITY_HIGH.
func sensitivity(edge string, s live.Sensitivity) string {
	if s == live.SensitivityUnspecified {
		return ""
	}
	return edge + "_SENSITIVITY_" + string(s)
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	inbox  chan *live.Message
	outbox chan []byte

	mu     sync.Mutex
	errVal error
	closed bool

	done     chan struct{}
	doneOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// terminate records the first fatal error and stops all loops.
func (s *session) terminate(err error) {
	s.mu.Lock()
	if s.errVal == nil && err != nil {
		s.errVal = err
	}
	s.mu.Unlock()
	s.doneOnce.Do(func() {
		s.cancel()
		close(s.done)
	})
}

// closedErr wraps the terminating cause, if any, in live.ErrClosed.
func (s *session) closedErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		return live.ErrClosed
	}
	return fmt.Errorf("%w: %w", live.ErrClosed, s.errVal)
}

// receiveLoop reads frames and hands translated messages to Receive. It owns
// inbox and closes it on exit.
func (s *session) receiveLoop() {
	defer close(s.inbox)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.terminate(fmt.Errorf("gemini: read: %w", err))
			}
			return
		}

		var frame serverMessage
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Debug("gemini: skipping malformed frame", "err", err, "bytes", len(data))
			continue
		}
		if frame.Error != nil {
			slog.Warn("gemini: server error", "code", frame.Error.Code, "status", frame.Error.Status, "message", frame.Error.Message)
		}

		msg := frame.toMessage()
		msg.Raw = data
		select {
		case s.inbox <- msg:
		case <-s.ctx.Done():
			return
		}
	}
}

// writeLoop is the only goroutine that writes data frames after setup.
func (s *session) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case data := <-s.outbox:
			ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
			err := s.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				if s.ctx.Err() == nil {
					s.terminate(fmt.Errorf("gemini: write: %w", err))
					s.conn.CloseNow()
				}
				return
			}
		}
	}
}

// keepaliveLoop sends WebSocket pings to keep the connection alive.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			if err := s.conn.Ping(pingCtx); err != nil && s.ctx.Err() == nil {
				slog.Debug("gemini: keepalive ping failed", "err", err)
			}
			cancel()
		}
	}
}

func (s *session) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// ── live.Session ───────────────────────────────────────────────────────────────

// SendAudio queues one realtime audio chunk. A full outbox rejects the chunk.
func (s *session) SendAudio(ctx context.Context, data []byte, mimeType string) error {
	if s.isDone() {
		return s.closedErr()
	}
	frame, err := json.Marshal(realtimeInputMessage{
		RealtimeInput: realtimeInput{
			Audio: &blob{MIMEType: mimeType, Data: base64.StdEncoding.EncodeToString(data)},
		},
	})
	if err != nil {
		return fmt.Errorf("gemini: marshal audio: %w", err)
	}
	select {
	case s.outbox <- frame:
		return nil
	case <-s.done:
		return s.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("gemini: outbox full: %w", live.ErrRejected)
	}
}

// SendToolResponse queues a toolResponse frame, waiting for outbox space.
func (s *session) SendToolResponse(ctx context.Context, responses []live.FunctionResponse) error {
	if s.isDone() {
		return s.closedErr()
	}
	frs := make([]functionResponse, len(responses))
	for i, r := range responses {
		frs[i] = functionResponse{
			ID:       r.ID,
			Name:     r.Name,
			Response: map[string]any{"content": r.Content},
		}
	}
	frame, err := json.Marshal(toolResponseMessage{ToolResponse: toolResponse{FunctionResponses: frs}})
	if err != nil {
		return fmt.Errorf("gemini: marshal tool response: %w", err)
	}
	select {
	case s.outbox <- frame:
		return nil
	case <-s.done:
		return s.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the next inbound message.
func (s *session) Receive(ctx context.Context) (*live.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-s.inbox:
		if !ok {
			return nil, s.closedErr()
		}
		return msg, nil
	}
}

// Close terminates the session. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.terminate(nil) // unblocks receiveLoop, writeLoop and keepaliveLoop
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
