package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MrWong99/livetalk/internal/config"
)

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config, toolNames []string) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════════╗")
	fmt.Fprintln(w, "║         livetalk — startup summary        ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════════╣")
	printRow(w, "Transport", cfg.Live.TransportName())
	printRow(w, "Model", cfg.Live.ModelName())
	printRow(w, "Voice", cfg.Live.Voice+" / "+cfg.Live.Language)
	if cfg.Live.ResumptionHandle != "" {
		printRow(w, "Session", "resuming")
	} else {
		printRow(w, "Session", "new")
	}
	if cfg.Live.KnowledgeCorpus != "" {
		printRow(w, "Knowledge RAG", cfg.Live.KnowledgeCorpus)
	}
	if cfg.Live.MemoryCorpus != "" {
		printRow(w, "Memory RAG", cfg.Live.MemoryCorpus)
	}
	for i, name := range toolNames {
		label := ""
		if i == 0 {
			label = "Tools"
		}
		printRow(w, label, name)
	}
	printRow(w, "MCP servers", fmt.Sprint(len(cfg.MCP.Servers)))
	if cfg.Server.ListenAddr != "" {
		printRow(w, "Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════════╝")
	fmt.Fprintln(w, "Speak into the microphone. Press Ctrl+C to stop.")
}

func printRow(w io.Writer, label, value string) {
	if r := []rune(value); len(r) > 24 {
		value = string(r[:23]) + "…"
	}
	fmt.Fprintf(w, "║  %-13s : %-24s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
