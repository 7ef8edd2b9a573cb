// Command livetalk holds a spoken conversation with a Gemini Live model:
// the default microphone streams to the model and its replies play through
// the default speaker until Ctrl+C.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/livetalk/internal/config"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(&options{})
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "livetalk: %v\n", err)
		return 1
	}
	return 0
}

// options are the command-line overrides. Only flags the user actually set
// replace file values.
type options struct {
	configPath            string
	logLevel              string
	vertexAI              string
	resumptionHandle      string
	systemInstruction     string
	systemInstructionFile string
	knowledgeCorpus       string
	memoryCorpus          string
}

func newRootCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "livetalk",
		Short: "Real-time voice conversation with a Gemini Live model",
		Long: `livetalk streams your microphone to a Gemini Live session and plays the
model's spoken replies. The model can call built-in tools (date/time and
weather) and tools from configured MCP servers.

Vertex AI (default) reads GOOGLE_CLOUD_PROJECT and GOOGLE_CLOUD_LOCATION
(default us-central1); the Gemini API reads GOOGLE_API_KEY.`,
		Example: `  livetalk
  livetalk --vertexai false
  livetalk --resumption-handle "your-handle-here"
  livetalk --system-instruction "You are a helpful assistant."
  livetalk --knowledge-corpus "projects/p/locations/l/ragCorpora/id"`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, o)
			if err != nil {
				return err
			}
			return converse(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.configPath, "config", "", "path to a YAML configuration file")
	f.StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn or error")
	f.StringVar(&o.vertexAI, "vertexai", "true", "use Vertex AI (true) or the Gemini API (false)")
	f.StringVar(&o.resumptionHandle, "resumption-handle", "", "resume a previous session with the given handle")
	f.StringVar(&o.systemInstruction, "system-instruction", "", "custom system instruction for the model")
	f.StringVar(&o.systemInstructionFile, "system-instruction-file", "", "read the system instruction from a file")
	f.StringVar(&o.knowledgeCorpus, "knowledge-corpus", "", "Vertex RAG corpus used for grounding")
	f.StringVar(&o.memoryCorpus, "memory-corpus", "", "Vertex RAG corpus used as conversation memory")

	cmd.AddCommand(newDevicesCmd())
	return cmd
}

// loadConfig reads the file (or defaults), applies the flags that were set
// and validates the result.
func loadConfig(cmd *cobra.Command, o *options) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("vertexai") {
		v, err := strconv.ParseBool(o.vertexAI)
		if err != nil {
			return nil, fmt.Errorf("--vertexai expects true or false, got %q", o.vertexAI)
		}
		cfg.Live.VertexAI = v
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = config.LogLevel(o.logLevel)
	}
	if flags.Changed("resumption-handle") {
		cfg.Live.ResumptionHandle = o.resumptionHandle
	}
	if flags.Changed("system-instruction") {
		cfg.Live.SystemInstruction = o.systemInstruction
	}
	if flags.Changed("system-instruction-file") {
		cfg.Live.SystemInstructionFile = o.systemInstructionFile
	}
	if flags.Changed("knowledge-corpus") {
		cfg.Live.KnowledgeCorpus = o.knowledgeCorpus
	}
	if flags.Changed("memory-corpus") {
		cfg.Live.MemoryCorpus = o.memoryCorpus
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
