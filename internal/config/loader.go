package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrMissingCredentials is returned by [ResolveCredentials] when the
// selected transport has no identity to connect with.
var ErrMissingCredentials = errors.New("config: missing credentials")

// Environment variable names.
const (
	EnvProject  = "GOOGLE_CLOUD_PROJECT"
	EnvLocation = "GOOGLE_CLOUD_LOCATION"
	EnvAPIKey   = "GOOGLE_API_KEY"

	DefaultLocation = "us-central1"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads the YAML file at path on top of [Default] and validates the
// result. An empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, Validate(cfg)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r on top of [Default] and validates the
// result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags and cross-field rules and returns every
// failure joined into one error.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s fails %q (value %v)", fieldPath(fe.Namespace()), fe.Tag(), fe.Value()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	if !cfg.Live.VertexAI {
		if cfg.Live.KnowledgeCorpus != "" || cfg.Live.MemoryCorpus != "" {
			errs = append(errs, errors.New("live.knowledge_corpus and live.memory_corpus require live.vertexai"))
		}
	}

	if cfg.Reconnect.MaxBackoff > 0 && cfg.Reconnect.MaxBackoff < cfg.Reconnect.InitialBackoff {
		errs = append(errs, fmt.Errorf("reconnect.max_backoff %v is shorter than reconnect.initial_backoff %v",
			cfg.Reconnect.MaxBackoff, cfg.Reconnect.InitialBackoff))
	}

	seen := make(map[string]int, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if prev, ok := seen[srv.Name]; ok && srv.Name != "" {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of mcp.servers[%d]", prefix, srv.Name, prev))
		}
		seen[srv.Name] = i
		if srv.Transport == "stdio" && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == "streamable-http" && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}

// fieldPath turns "Config.Live.Voice" into "live.voice" style paths.
func fieldPath(ns string) string {
	ns = strings.TrimPrefix(ns, "Config.")
	return strings.ToLower(ns)
}

// Credentials identify the caller to the selected transport.
type Credentials struct {
	Project  string
	Location string
	APIKey   string
}

// ResolveCredentials reads the identity for the transport from the
// environment via getenv. Vertex AI needs a project (location defaults to
// us-central1); the Gemini API needs an API key.
func ResolveCredentials(vertexAI bool, getenv func(string) string) (Credentials, error) {
	if vertexAI {
		project := getenv(EnvProject)
		if project == "" {
			return Credentials{}, fmt.Errorf("%w: project ID is not set in the environment variable %s", ErrMissingCredentials, EnvProject)
		}
		location := getenv(EnvLocation)
		if location == "" {
			location = DefaultLocation
		}
		return Credentials{Project: project, Location: location}, nil
	}

	key := getenv(EnvAPIKey)
	if key == "" {
		return Credentials{}, fmt.Errorf("%w: API key is not set in the environment variable %s", ErrMissingCredentials, EnvAPIKey)
	}
	return Credentials{APIKey: key}, nil
}

// ResolveSystemInstruction returns the inline instruction, else the trimmed
// contents of the instruction file, else [DefaultSystemInstruction].
func (l LiveConfig) ResolveSystemInstruction() (string, error) {
	if l.SystemInstruction != "" {
		return l.SystemInstruction, nil
	}
	if l.SystemInstructionFile != "" {
		data, err := os.ReadFile(l.SystemInstructionFile)
		if err != nil {
			return "", fmt.Errorf("config: read system instruction: %w", err)
		}
		if s := strings.TrimSpace(string(data)); s != "" {
			return s, nil
		}
	}
	return DefaultSystemInstruction, nil
}

// AbsPaths rewrites the file paths relative to the working directory.
func (f *FilesConfig) AbsPaths() error {
	for _, p := range []*string{&f.AuditLog, &f.ResumptionHandle} {
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("config: resolve %q: %w", *p, err)
		}
		*p = abs
	}
	return nil
}
