// Package config provides the configuration schema, defaults, loader, and
// credential resolution for livetalk.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Default models per transport.
const (
	DefaultVertexModel = "gemini-live-2.5-flash-preview-native-audio-09-2025"
	DefaultGeminiModel = "gemini-2.0-flash-live-001"
)

// DefaultSystemInstruction is used when neither text nor a file is given.
const DefaultSystemInstruction = "あなたは親切で知的なアシスタントです。ユーザーの質問に簡潔に答えてください（1〜2文で）。" +
	"現在の日時や時刻が必要な場合は、必ずgetCurrentDateTime関数を使用して正確な時刻を取得してください。" +
	"天気を聞かれた場合はgetWeatherInfo関数を使用してください。関数を使った結果を自然な日本語で説明してください。"

// Config is the root configuration structure. It is loaded from YAML with
// [Load] or [LoadFromReader] on top of [Default].
type Config struct {
	LogLevel  LogLevel        `yaml:"log_level"`
	Live      LiveConfig      `yaml:"live"`
	Audio     AudioConfig     `yaml:"audio"`
	Files     FilesConfig     `yaml:"files"`
	Tools     ToolsConfig     `yaml:"tools"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Server    ServerConfig    `yaml:"server"`
	MCP       MCPConfig       `yaml:"mcp"`
}

// LiveConfig selects the transport and shapes the session setup.
type LiveConfig struct {
	// VertexAI selects Vertex AI (true) or the Gemini API (false).
	VertexAI bool `yaml:"vertexai"`

	// Model overrides the transport's default model.
	Model string `yaml:"model"`

	// BaseURL overrides the Gemini API WebSocket endpoint.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`

	Voice    string `yaml:"voice" validate:"required"`
	Language string `yaml:"language" validate:"required"`

	// SystemInstruction takes precedence over SystemInstructionFile.
	SystemInstruction     string `yaml:"system_instruction"`
	SystemInstructionFile string `yaml:"system_instruction_file"`

	Temperature *float32 `yaml:"temperature" validate:"omitempty,gte=0,lte=2"`
	TopP        *float32 `yaml:"top_p" validate:"omitempty,gte=0,lte=1"`
	TopK        *float32 `yaml:"top_k" validate:"omitempty,gte=1"`

	InputTranscription  bool `yaml:"input_transcription"`
	OutputTranscription bool `yaml:"output_transcription"`

	ActivityDetection ActivityDetectionConfig `yaml:"activity_detection"`

	// ResumptionHandle resumes a previous session.
	ResumptionHandle string `yaml:"resumption_handle"`

	// KnowledgeCorpus and MemoryCorpus name Vertex RAG corpora.
	KnowledgeCorpus string `yaml:"knowledge_corpus"`
	MemoryCorpus    string `yaml:"memory_corpus"`
}

// ActivityDetectionConfig tunes server-side voice activity detection.
type ActivityDetectionConfig struct {
	Disabled          bool   `yaml:"disabled"`
	StartSensitivity  string `yaml:"start_sensitivity" validate:"omitempty,oneof=LOW HIGH"`
	EndSensitivity    string `yaml:"end_sensitivity" validate:"omitempty,oneof=LOW HIGH"`
	PrefixPaddingMs   int32  `yaml:"prefix_padding_ms" validate:"gte=0"`
	SilenceDurationMs int32  `yaml:"silence_duration_ms" validate:"gte=0"`
}

// AudioConfig selects devices and tunes buffering.
type AudioConfig struct {
	// CaptureDevice and PlaybackDevice are device indices or name fragments;
	// empty selects the system default.
	CaptureDevice  string `yaml:"capture_device"`
	PlaybackDevice string `yaml:"playback_device"`

	QueueCapacity int           `yaml:"queue_capacity" validate:"gte=1"`
	HighWater     float64       `yaml:"high_water" validate:"gt=0,lte=1"`
	PollInterval  time.Duration `yaml:"poll_interval" validate:"gt=0"`
}

// FilesConfig names the on-disk artifacts.
type FilesConfig struct {
	AuditLog         string `yaml:"audit_log" validate:"required"`
	ResumptionHandle string `yaml:"resumption_handle" validate:"required"`
}

// ToolsConfig tunes function execution.
type ToolsConfig struct {
	// CallTimeout bounds a single tool call. Zero disables the bound.
	CallTimeout time.Duration `yaml:"call_timeout" validate:"gte=0"`
}

// ReconnectConfig controls reconnection after the server ends a session.
// MaxRetries of zero disables reconnection.
type ReconnectConfig struct {
	MaxRetries     int           `yaml:"max_retries" validate:"gte=0"`
	InitialBackoff time.Duration `yaml:"initial_backoff" validate:"gte=0"`
	MaxBackoff     time.Duration `yaml:"max_backoff" validate:"gte=0"`
}

// ServerConfig configures the optional diagnostics server.
type ServerConfig struct {
	// ListenAddr enables /healthz, /readyz and /metrics when set.
	ListenAddr string `yaml:"listen_addr" validate:"omitempty,hostname_port"`
}

// MCPConfig lists external tool servers.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers" validate:"dive"`
}

// MCPServerConfig describes one MCP server.
type MCPServerConfig struct {
	Name      string            `yaml:"name" validate:"required"`
	Transport string            `yaml:"transport" validate:"oneof=stdio streamable-http"`
	Command   string            `yaml:"command"`
	URL       string            `yaml:"url" validate:"omitempty,url"`
	Env       map[string]string `yaml:"env"`

	// MaxFailures and ResetTimeout tune the server's circuit breaker.
	MaxFailures  int           `yaml:"max_failures" validate:"gte=0"`
	ResetTimeout time.Duration `yaml:"reset_timeout" validate:"gte=0"`
}

func ptr[T any](v T) *T { return &v }

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel: LogInfo,
		Live: LiveConfig{
			VertexAI:            true,
			Voice:               "Leda",
			Language:            "ja-JP",
			Temperature:         ptr(float32(0.5)),
			TopP:                ptr(float32(0.9)),
			TopK:                ptr(float32(40)),
			InputTranscription:  true,
			OutputTranscription: true,
			ActivityDetection: ActivityDetectionConfig{
				StartSensitivity:  "HIGH",
				EndSensitivity:    "HIGH",
				PrefixPaddingMs:   10,
				SilenceDurationMs: 10,
			},
		},
		Audio: AudioConfig{
			QueueCapacity: 128,
			HighWater:     0.9,
			PollInterval:  100 * time.Millisecond,
		},
		Files: FilesConfig{
			AuditLog:         "LiveAudioConversationResponse.json",
			ResumptionHandle: "LiveAudioConversationResumptionHandle.txt",
		},
		Tools: ToolsConfig{CallTimeout: 30 * time.Second},
		Reconnect: ReconnectConfig{
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
		},
	}
}

// ModelName returns the configured model or the transport default.
func (l LiveConfig) ModelName() string {
	switch {
	case l.Model != "":
		return l.Model
	case l.VertexAI:
		return DefaultVertexModel
	default:
		return DefaultGeminiModel
	}
}

// TransportName is the human-readable transport label.
func (l LiveConfig) TransportName() string {
	if l.VertexAI {
		return "Vertex AI"
	}
	return "Gemini API"
}
