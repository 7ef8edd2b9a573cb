// Package vertex implements [live.Connector] on Vertex AI through the
// google.golang.org/genai client. Credentials come from Application Default
// Credentials; the project and location select the regional endpoint.
//
// Unlike the Gemini API transport, Vertex sessions can attach managed
// retrieval corpora and resume transparently.
package vertex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/MrWong99/livetalk/pkg/provider/live"
)

var _ live.Connector = (*Provider)(nil)
var _ live.Session = (*session)(nil)

// DefaultModel is the Live model used when none is configured.
const DefaultModel = "gemini-live-2.5-flash-preview-native-audio-09-2025"

const inboxSize = 64

// Config selects the Vertex AI project and model.
type Config struct {
	Project  string
	Location string
	Model    string
}

// Provider opens Live sessions on Vertex AI.
type Provider struct {
	client *genai.Client
	model  string
}

// New creates a genai client bound to the Vertex AI backend.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Project == "" {
		return nil, fmt.Errorf("vertex: project is required")
	}
	if cfg.Location == "" {
		return nil, fmt.Errorf("vertex: location is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend:  genai.BackendVertexAI,
		Project:  cfg.Project,
		Location: cfg.Location,
	})
	if err != nil {
		return nil, fmt.Errorf("vertex: create client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Provider{client: client, model: model}, nil
}

// Model returns the configured model name.
func (p *Provider) Model() string { return p.model }

// Connect opens a Live session and starts its reader.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	lc, err := BuildConnectConfig(cfg)
	if err != nil {
		return nil, err
	}
	gs, err := p.client.Live.Connect(ctx, p.model, lc)
	if err != nil {
		return nil, fmt.Errorf("vertex: connect %s: %w", p.model, err)
	}
	s := newSession(gs)
	go s.receiveLoop()
	return s, nil
}

// BuildConnectConfig translates cfg into the genai connect configuration.
func BuildConnectConfig(cfg live.SessionConfig) (*genai.LiveConnectConfig, error) {
	lc := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		Temperature:        cfg.Temperature,
		TopP:               cfg.TopP,
		TopK:               cfg.TopK,
		SessionResumption: &genai.SessionResumptionConfig{
			Handle:      cfg.ResumptionHandle,
			Transparent: true,
		},
	}

	if cfg.Voice != "" || cfg.Language != "" {
		sc := &genai.SpeechConfig{LanguageCode: cfg.Language}
		if cfg.Voice != "" {
			sc.VoiceConfig = &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			}
		}
		lc.SpeechConfig = sc
	}

	if cfg.SystemInstruction != "" {
		lc.SystemInstruction = genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser)
	}

	if cfg.InputTranscription {
		lc.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.OutputTranscription {
		lc.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}

	ad := cfg.ActivityDetection
	aad := &genai.AutomaticActivityDetection{
		Disabled:                 ad.Disabled,
		StartOfSpeechSensitivity: startSensitivity(ad.StartSensitivity),
		EndOfSpeechSensitivity:   endSensitivity(ad.EndSensitivity),
	}
	if ad.PrefixPaddingMs > 0 {
		aad.PrefixPaddingMs = genai.Ptr(ad.PrefixPaddingMs)
	}
	if ad.SilenceDurationMs > 0 {
		aad.SilenceDurationMs = genai.Ptr(ad.SilenceDurationMs)
	}
	lc.RealtimeInputConfig = &genai.RealtimeInputConfig{AutomaticActivityDetection: aad}

	if len(cfg.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(cfg.Tools))
		for _, t := range cfg.Tools {
			schema, err := SchemaFromMap(t.Parameters)
			if err != nil {
				return nil, fmt.Errorf("vertex: tool %q: %w", t.Name, err)
			}
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			})
		}
		lc.Tools = append(lc.Tools, &genai.Tool{FunctionDeclarations: decls})
	}

	for _, r := range cfg.Retrieval {
		lc.Tools = append(lc.Tools, &genai.Tool{
			Retrieval: &genai.Retrieval{
				VertexRAGStore: &genai.VertexRAGStore{
					RAGResources: []*genai.VertexRAGStoreRAGResource{{RAGCorpus: r.Corpus}},
					StoreContext: genai.Ptr(r.StoreContext),
				},
			},
		})
	}

	return lc, nil
}

func startSensitivity(s live.Sensitivity) genai.StartSensitivity {
	switch s {
	case live.SensitivityHigh:
		return genai.StartSensitivityHigh
	case live.SensitivityLow:
		return genai.StartSensitivityLow
	}
	return ""
}

func endSensitivity(s live.Sensitivity) genai.EndSensitivity {
	switch s {
	case live.SensitivityHigh:
		return genai.EndSensitivityHigh
	case live.SensitivityLow:
		return genai.EndSensitivityLow
	}
	return ""
}

// SchemaFromMap converts a JSON Schema object into the genai schema type.
// A nil map yields a nil schema (no parameters).
func SchemaFromMap(m map[string]any) (*genai.Schema, error) {
	if m == nil {
		return nil, nil
	}
	s := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if f, ok := m["format"].(string); ok {
		s.Format = f
	}
	if enum, ok := m["enum"].([]any); ok {
		for _, e := range enum {
			if v, ok := e.(string); ok {
				s.Enum = append(s.Enum, v)
			}
		}
	}
	switch req := m["required"].(type) {
	case []string:
		s.Required = append(s.Required, req...)
	case []any:
		for _, r := range req {
			if v, ok := r.(string); ok {
				s.Required = append(s.Required, v)
			}
		}
	}
	if props, ok := m["properties"].(map[string]any); ok && len(props) > 0 {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			pm, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("property %q: not an object", name)
			}
			ps, err := SchemaFromMap(pm)
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", name, err)
			}
			s.Properties[name] = ps
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		is, err := SchemaFromMap(items)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		s.Items = is
	}
	return s, nil
}

// ── session ────────────────────────────────────────────────────────────────────

type result struct {
	msg *live.Message
	err error
}

type session struct {
	gs *genai.Session

	// sendMu serialises writes; the underlying connection allows one writer.
	sendMu sync.Mutex

	inbox chan result

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newSession(gs *genai.Session) *session {
	return &session{
		gs:    gs,
		inbox: make(chan result, inboxSize),
		done:  make(chan struct{}),
	}
}

// receiveLoop owns inbox and closes it on exit. genai's Receive has no
// context, so the loop ends only when the connection does.
func (s *session) receiveLoop() {
	defer close(s.inbox)
	for {
		m, err := s.gs.Receive()
		if err != nil {
			select {
			case s.inbox <- result{err: classify(err)}:
			case <-s.done:
			}
			return
		}
		msg := translate(m)
		if raw, err := json.Marshal(m); err == nil {
			msg.Raw = raw
		} else {
			slog.Debug("vertex: marshal message for audit", "err", err)
		}
		select {
		case s.inbox <- result{msg: msg}:
		case <-s.done:
			return
		}
	}
}

// classify maps transport errors onto the live sentinels.
func classify(err error) error {
	switch {
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		return fmt.Errorf("%w: %w", live.ErrClosed, err)
	case errors.Is(err, websocket.ErrCloseSent), errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		return fmt.Errorf("%w: %w", live.ErrClosed, err)
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return fmt.Errorf("%w: code %d: %s", live.ErrClosed, ce.Code, ce.Text)
	}
	return fmt.Errorf("vertex: %w", err)
}

// translate flattens a genai server message into a live.Message.
func translate(m *genai.LiveServerMessage) *live.Message {
	msg := &live.Message{}
	if sc := m.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p == nil || p.InlineData == nil || len(p.InlineData.Data) == 0 {
					continue
				}
				if !strings.HasPrefix(p.InlineData.MIMEType, "audio/") {
					continue
				}
				msg.Audio = append(msg.Audio, p.InlineData.Data)
			}
		}
		msg.TurnComplete = sc.TurnComplete
		msg.Interrupted = sc.Interrupted
		if sc.InputTranscription != nil {
			msg.InputTranscript = sc.InputTranscription.Text
		}
		if sc.OutputTranscription != nil {
			msg.OutputTranscript = sc.OutputTranscription.Text
		}
	}
	if tc := m.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			msg.ToolCalls = append(msg.ToolCalls, live.FunctionCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
	}
	if u := m.SessionResumptionUpdate; u != nil && u.NewHandle != "" {
		msg.ResumptionHandle = u.NewHandle
	}
	msg.GoAway = m.GoAway != nil
	return msg
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SendAudio streams one realtime audio blob.
func (s *session) SendAudio(ctx context.Context, data []byte, mimeType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isClosed() {
		return live.ErrClosed
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	err := s.gs.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{MIMEType: mimeType, Data: data},
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// SendToolResponse delivers function results as {"content": ...} objects.
func (s *session) SendToolResponse(ctx context.Context, responses []live.FunctionResponse) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isClosed() {
		return live.ErrClosed
	}
	frs := make([]*genai.FunctionResponse, len(responses))
	for i, r := range responses {
		frs[i] = &genai.FunctionResponse{
			ID:       r.ID,
			Name:     r.Name,
			Response: map[string]any{"content": r.Content},
		}
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.gs.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: frs}); err != nil {
		return classify(err)
	}
	return nil
}

// Receive returns the next inbound message.
func (s *session) Receive(ctx context.Context) (*live.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r, ok := <-s.inbox:
		if !ok {
			return nil, live.ErrClosed
		}
		return r.msg, r.err
	}
}

// Close ends the session. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	if err := s.gs.Close(); err != nil && !errors.Is(classify(err), live.ErrClosed) {
		return fmt.Errorf("vertex: close: %w", err)
	}
	return nil
}
