package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/livetalk/internal/config"
	"github.com/MrWong99/livetalk/internal/tools"
	"github.com/MrWong99/livetalk/pkg/audio/device"
	"github.com/MrWong99/livetalk/pkg/provider/live"
)

func parse(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()
	var o options
	cmd := newRootCmd(&o)
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags(%v): %v", args, err)
	}
	return loadConfig(cmd, &o)
}

func TestRun_HelpExitsZero(t *testing.T) {
	for _, arg := range []string{"-h", "--help"} {
		if code := run([]string{arg}); code != 0 {
			t.Errorf("run(%s) = %d, want 0", arg, code)
		}
	}
}

func TestRun_FlagWithoutValueExitsOne(t *testing.T) {
	for _, flag := range []string{
		"--resumption-handle",
		"--system-instruction",
		"--system-instruction-file",
		"--knowledge-corpus",
		"--memory-corpus",
		"--vertexai",
	} {
		if code := run([]string{flag}); code != 1 {
			t.Errorf("run(%s) = %d, want 1", flag, code)
		}
	}
}

func TestRun_MissingCredentialsExitsOne(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	t.Setenv(config.EnvAPIKey, "")
	if code := run([]string{"--vertexai", "false", "--log-level", "error"}); code != 1 {
		t.Errorf("run without API key = %d, want 1", code)
	}

	t.Setenv(config.EnvProject, "")
	if code := run([]string{"--log-level", "error"}); code != 1 {
		t.Errorf("run without project = %d, want 1", code)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := parse(t)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if !cfg.Live.VertexAI {
		t.Error("VertexAI should default to true")
	}
	if cfg.Live.ResumptionHandle != "" || cfg.Live.SystemInstruction != "" {
		t.Errorf("unexpected overrides: %+v", cfg.Live)
	}
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livetalk.yaml")
	yaml := "log_level: warn\nlive:\n  vertexai: true\n  voice: Puck\n  language: en-US\n  system_instruction: from file\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := parse(t,
		"--config", path,
		"--vertexai", "false",
		"--resumption-handle", "h-123",
		"--system-instruction", "from flag",
		"--log-level", "debug",
	)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Live.VertexAI {
		t.Error("--vertexai false not applied")
	}
	if cfg.Live.ResumptionHandle != "h-123" {
		t.Errorf("ResumptionHandle = %q", cfg.Live.ResumptionHandle)
	}
	if cfg.Live.SystemInstruction != "from flag" {
		t.Errorf("SystemInstruction = %q", cfg.Live.SystemInstruction)
	}
	if cfg.LogLevel != config.LogDebug {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Live.Voice != "Puck" || cfg.Live.Language != "en-US" {
		t.Errorf("file values lost: voice=%q language=%q", cfg.Live.Voice, cfg.Live.Language)
	}
}

func TestLoadConfig_Rejects(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad bool", []string{"--vertexai", "maybe"}, "--vertexai"},
		{"bad level", []string{"--log-level", "loud"}, "log"},
		{"corpus needs vertex", []string{"--vertexai", "false", "--knowledge-corpus", "c"}, "corpus"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("loadConfig(%v) = %v, want error mentioning %q", tt.args, err, tt.want)
			}
		})
	}
}

func TestSessionConfig(t *testing.T) {
	lc := config.Default().Live
	lc.ResumptionHandle = "h"
	lc.KnowledgeCorpus = "projects/p/locations/l/ragCorpora/k"
	lc.MemoryCorpus = "projects/p/locations/l/ragCorpora/m"
	decls := []live.ToolDeclaration{tools.Weather().Declaration}

	sc := sessionConfig(lc, "be brief", decls)
	if sc.Voice != "Leda" || sc.Language != "ja-JP" {
		t.Errorf("voice/language = %q/%q", sc.Voice, sc.Language)
	}
	if sc.SystemInstruction != "be brief" || sc.ResumptionHandle != "h" {
		t.Errorf("instruction/handle = %q/%q", sc.SystemInstruction, sc.ResumptionHandle)
	}
	if len(sc.Tools) != 1 || sc.Tools[0].Name != tools.WeatherName {
		t.Errorf("tools = %+v", sc.Tools)
	}
	if sc.ActivityDetection.StartSensitivity != live.SensitivityHigh || sc.ActivityDetection.SilenceDurationMs != 10 {
		t.Errorf("activity detection = %+v", sc.ActivityDetection)
	}
	if *sc.Temperature != 0.5 || *sc.TopP != 0.9 || *sc.TopK != 40 {
		t.Errorf("sampling = %v/%v/%v", *sc.Temperature, *sc.TopP, *sc.TopK)
	}
	want := []live.RetrievalSource{
		{Corpus: lc.KnowledgeCorpus},
		{Corpus: lc.MemoryCorpus, StoreContext: true},
	}
	if len(sc.Retrieval) != 2 || sc.Retrieval[0] != want[0] || sc.Retrieval[1] != want[1] {
		t.Errorf("retrieval = %+v, want %+v", sc.Retrieval, want)
	}
}

func TestMCPServerConfig(t *testing.T) {
	sc := mcpServerConfig(config.MCPServerConfig{
		Name:        "files",
		Transport:   "stdio",
		Command:     "mcp-files --root /tmp",
		MaxFailures: 2,
	})
	if sc.Name != "files" || !sc.Transport.IsValid() || sc.Breaker.MaxFailures != 2 {
		t.Errorf("mcpServerConfig = %+v", sc)
	}
}

func TestPrintStartupSummary(t *testing.T) {
	cfg := config.Default()
	cfg.Live.ResumptionHandle = "h"

	var buf bytes.Buffer
	printStartupSummary(&buf, cfg, []string{tools.DateTimeName, tools.WeatherName})
	out := buf.String()
	for _, want := range []string{"Vertex AI", "resuming", tools.DateTimeName, tools.WeatherName, "Ctrl+C"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestPrintDevices(t *testing.T) {
	var buf bytes.Buffer
	printDevices(&buf, device.KindCapture, []device.Info{
		{Index: 0, Name: "Built-in Microphone", IsDefault: true},
		{Index: 1, Name: "USB Headset"},
	})
	out := buf.String()
	if !strings.Contains(out, "capture devices:") || !strings.Contains(out, "*  0  Built-in Microphone") {
		t.Errorf("unexpected output:\n%s", out)
	}

	buf.Reset()
	printDevices(&buf, device.KindPlayback, nil)
	if !strings.Contains(buf.String(), "(none)") {
		t.Errorf("empty list output = %q", buf.String())
	}
}
