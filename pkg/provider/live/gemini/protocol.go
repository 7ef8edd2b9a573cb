package gemini

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/MrWong99/livetalk/pkg/provider/live"
)

// ── Outgoing frames ───────────────────────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string               `json:"model"`
	GenerationConfig         generationConfig     `json:"generationConfig"`
	SystemInstruction        *content             `json:"systemInstruction,omitempty"`
	Tools                    []geminiTool         `json:"tools,omitempty"`
	RealtimeInputConfig      *realtimeInputConfig `json:"realtimeInputConfig,omitempty"`
	SessionResumption        *sessionResumption   `json:"sessionResumption,omitempty"`
	InputAudioTranscription  *struct{}            `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}            `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
	Temperature        *float32      `json:"temperature,omitempty"`
	TopP               *float32      `json:"topP,omitempty"`
	TopK               *float32      `json:"topK,omitempty"`
}

type speechConfig struct {
	VoiceConfig  *voiceConfig `json:"voiceConfig,omitempty"`
	LanguageCode string       `json:"languageCode,omitempty"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type geminiTool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations,omitempty"`
}

type functionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type realtimeInputConfig struct {
	AutomaticActivityDetection automaticActivityDetection `json:"automaticActivityDetection"`
}

type automaticActivityDetection struct {
	Disabled                 bool   `json:"disabled,omitempty"`
	StartOfSpeechSensitivity string `json:"startOfSpeechSensitivity,omitempty"`
	EndOfSpeechSensitivity   string `json:"endOfSpeechSensitivity,omitempty"`
	PrefixPaddingMs          int32  `json:"prefixPaddingMs,omitempty"`
	SilenceDurationMs        int32  `json:"silenceDurationMs,omitempty"`
}

type sessionResumption struct {
	Handle string `json:"handle,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	Audio *blob `json:"audio,omitempty"`
}

type toolResponseMessage struct {
	ToolResponse toolResponse `json:"toolResponse"`
}

type toolResponse struct {
	FunctionResponses []functionResponse `json:"functionResponses"`
}

type functionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// ── Incoming frames ───────────────────────────────────────────────────────────

type serverMessage struct {
	SetupComplete           *json.RawMessage         `json:"setupComplete,omitempty"`
	ServerContent           *serverContent           `json:"serverContent,omitempty"`
	ToolCall                *toolCallMsg             `json:"toolCall,omitempty"`
	ToolCallCancellation    *json.RawMessage         `json:"toolCallCancellation,omitempty"`
	SessionResumptionUpdate *sessionResumptionUpdate `json:"sessionResumptionUpdate,omitempty"`
	GoAway                  *goAway                  `json:"goAway,omitempty"`
	Error                   *geminiError             `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

type toolCallMsg struct {
	FunctionCalls []functionCall `json:"functionCalls"`
}

type functionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type sessionResumptionUpdate struct {
	NewHandle string `json:"newHandle"`
	Resumable bool   `json:"resumable"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

// toMessage flattens a server frame into a live.Message.
func (m *serverMessage) toMessage() *live.Message {
	msg := &live.Message{}

	if sc := m.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData == nil || !strings.HasPrefix(p.InlineData.MIMEType, "audio/") {
					continue
				}
				data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil || len(data) == 0 {
					continue
				}
				msg.Audio = append(msg.Audio, data)
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

	if m.ToolCall != nil {
		for _, fc := range m.ToolCall.FunctionCalls {
			msg.ToolCalls = append(msg.ToolCalls, live.FunctionCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
	}

	if u := m.SessionResumptionUpdate; u != nil && u.NewHandle != "" {
		msg.ResumptionHandle = u.NewHandle
	}

	msg.GoAway = m.GoAway != nil
	return msg
}
