// Package live defines the transport-neutral contract for a bidirectional
// Live session: microphone audio and tool results flow up, model speech,
// tool calls, transcripts and resumption handles flow down.
//
// Two transports implement [Connector]: package gemini speaks the Gemini API
// WebSocket protocol directly with an API key, and package vertex uses the
// google.golang.org/genai client against Vertex AI.
//
// All Session implementations must be safe for one sender and one receiver
// running concurrently.
package live

import (
	"context"
	"errors"
)

var (
	// ErrClosed reports that the remote side (or a local Close) ended the
	// session. A receiver that sees it must stop reading.
	ErrClosed = errors.New("live: session closed")

	// ErrRejected reports that a single outbound message was refused while
	// the session itself remains usable, for example because the send
	// buffer is full. Callers may log it and carry on.
	ErrRejected = errors.New("live: message rejected")
)

// Sensitivity tunes automatic voice activity detection.
type Sensitivity string

const (
	SensitivityUnspecified Sensitivity = ""
	SensitivityLow         Sensitivity = "LOW"
	SensitivityHigh        Sensitivity = "HIGH"
)

// ActivityDetection configures server-side voice activity detection.
type ActivityDetection struct {
	// Disabled turns automatic detection off.
	Disabled bool

	StartSensitivity Sensitivity
	EndSensitivity   Sensitivity

	// PrefixPaddingMs is the speech required before a start is committed.
	PrefixPaddingMs int32

	// SilenceDurationMs is the silence required before an end is committed.
	SilenceDurationMs int32
}

// ToolDeclaration advertises one callable function to the model.
type ToolDeclaration struct {
	Name        string
	Description string

	// Parameters is a JSON Schema object, or nil for a function without
	// arguments.
	Parameters map[string]any
}

// RetrievalSource attaches a managed retrieval corpus to the session. Only
// the Vertex transport supports it.
type RetrievalSource struct {
	// Corpus is the full resource name,
	// projects/{p}/locations/{l}/ragCorpora/{id}.
	Corpus string

	// StoreContext asks the service to write conversation context back into
	// the corpus, turning it into long-term memory.
	StoreContext bool
}

// SessionConfig is everything sent in the opening setup message.
type SessionConfig struct {
	// Voice is a prebuilt voice name such as "Leda".
	Voice string

	// Language is a BCP-47 code such as "ja-JP".
	Language string

	SystemInstruction string

	Tools     []ToolDeclaration
	Retrieval []RetrievalSource

	// ResumptionHandle resumes an earlier session when non-empty.
	ResumptionHandle string

	// Temperature, TopP and TopK are sent only when non-nil.
	Temperature *float32
	TopP        *float32
	TopK        *float32

	ActivityDetection ActivityDetection

	InputTranscription  bool
	OutputTranscription bool
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
}

// FunctionResponse answers a FunctionCall. Content is delivered to the model
// as {"content": Content}.
type FunctionResponse struct {
	ID      string
	Name    string
	Content string
}

// Message is one inbound server frame. Any combination of fields may be set;
// a Message with none set is [Message.Empty].
type Message struct {
	// Audio holds decoded model speech parts in arrival order.
	Audio [][]byte

	// ToolCalls holds the calls of a toolCall frame.
	ToolCalls []FunctionCall

	// ResumptionHandle is the newest handle from a resumption update.
	ResumptionHandle string

	TurnComplete bool
	Interrupted  bool

	InputTranscript  string
	OutputTranscript string

	// GoAway is set when the server announced it will close the connection
	// soon.
	GoAway bool

	// Raw is the frame as received, for the audit log.
	Raw []byte
}

// Empty reports whether m carries nothing the dispatcher acts on.
func (m *Message) Empty() bool {
	return len(m.Audio) == 0 && len(m.ToolCalls) == 0 && m.ResumptionHandle == "" &&
		!m.TurnComplete && !m.Interrupted && !m.GoAway &&
		m.InputTranscript == "" && m.OutputTranscript == ""
}

// Session is an open Live connection.
type Session interface {
	// SendAudio streams one chunk of microphone audio encoded as mimeType.
	// It returns an error wrapping [ErrRejected] when only this chunk was
	// refused and [ErrClosed] when the session is gone.
	SendAudio(ctx context.Context, data []byte, mimeType string) error

	// SendToolResponse delivers results for earlier function calls.
	SendToolResponse(ctx context.Context, responses []FunctionResponse) error

	// Receive blocks for the next inbound message. It returns an error
	// wrapping [ErrClosed] once the connection has ended, or ctx.Err() when
	// ctx is done first.
	Receive(ctx context.Context) (*Message, error)

	// Close ends the session. It is safe to call more than once.
	Close() error
}

// Connector opens sessions.
type Connector interface {
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)
}
