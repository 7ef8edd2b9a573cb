package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/MrWong99/livetalk/internal/config"
	"github.com/MrWong99/livetalk/internal/conversation"
	"github.com/MrWong99/livetalk/internal/health"
	"github.com/MrWong99/livetalk/internal/observe"
	"github.com/MrWong99/livetalk/internal/resilience"
	"github.com/MrWong99/livetalk/internal/store"
	"github.com/MrWong99/livetalk/internal/tools"
	"github.com/MrWong99/livetalk/internal/tools/mcptools"
	"github.com/MrWong99/livetalk/pkg/audio/capture"
	"github.com/MrWong99/livetalk/pkg/audio/device"
	"github.com/MrWong99/livetalk/pkg/audio/playback"
	"github.com/MrWong99/livetalk/pkg/provider/live"
	"github.com/MrWong99/livetalk/pkg/provider/live/gemini"
	"github.com/MrWong99/livetalk/pkg/provider/live/vertex"
)

// converse wires every component from cfg and runs one conversation until
// it ends or ctx is cancelled.
func converse(ctx context.Context, cfg *config.Config) error {
	slog.SetDefault(newLogger(cfg.LogLevel))

	// ── Identity and setup ────────────────────────────────────────────────────
	if err := cfg.Files.AbsPaths(); err != nil {
		return err
	}
	creds, err := config.ResolveCredentials(cfg.Live.VertexAI, os.Getenv)
	if err != nil {
		return err
	}
	instruction, err := cfg.Live.ResolveSystemInstruction()
	if err != nil {
		return err
	}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	var provider *observe.Provider
	if cfg.Server.ListenAddr != "" {
		provider, err = observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				slog.Warn("telemetry shutdown error", "err", err)
			}
		}()
	}
	metrics := observe.DefaultMetrics()

	// ── Tools ─────────────────────────────────────────────────────────────────
	registry, err := tools.NewRegistry(tools.Builtins(nil)...)
	if err != nil {
		return err
	}
	host := mcptools.New()
	defer func() {
		if err := host.Close(); err != nil {
			slog.Warn("mcp host close error", "err", err)
		}
	}()
	connectMCPServers(ctx, host, registry, cfg.MCP.Servers)

	executor := tools.NewExecutor(registry,
		tools.WithMetrics(metrics),
		tools.WithCallTimeout(cfg.Tools.CallTimeout),
	)

	// ── Transport ─────────────────────────────────────────────────────────────
	connector, err := newConnector(ctx, cfg.Live, creds)
	if err != nil {
		return err
	}

	// ── Audio ─────────────────────────────────────────────────────────────────
	backend, err := device.New()
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			slog.Warn("audio backend close error", "err", err)
		}
	}()
	player := playback.New(backend,
		playback.WithHighWater(cfg.Audio.HighWater),
		playback.WithPollInterval(cfg.Audio.PollInterval),
	)

	// ── Files ─────────────────────────────────────────────────────────────────
	audit := store.NewAuditLog(cfg.Files.AuditLog)
	defer func() {
		if err := audit.Close(); err != nil {
			slog.Warn("audit log close error", "err", err)
		}
	}()

	lc, err := conversation.New(conversation.Deps{
		Connector:  connector,
		Capture:    capture.New(backend),
		Player:     player,
		Tools:      executor,
		Resumption: store.NewResumptionFile(cfg.Files.ResumptionHandle),
		Audit:      audit,
		Metrics:    metrics,
	}, conversation.Config{
		Session:        sessionConfig(cfg.Live, instruction, registry.Declarations()),
		Transport:      cfg.Live.TransportName(),
		CaptureDevice:  cfg.Audio.CaptureDevice,
		PlaybackDevice: cfg.Audio.PlaybackDevice,
		QueueCapacity:  cfg.Audio.QueueCapacity,
		Reconnect: conversation.ReconnectPolicy{
			MaxRetries:     cfg.Reconnect.MaxRetries,
			InitialBackoff: cfg.Reconnect.InitialBackoff,
			MaxBackoff:     cfg.Reconnect.MaxBackoff,
		},
	})
	if err != nil {
		return err
	}

	// ── Diagnostics server (optional) ─────────────────────────────────────────
	if cfg.Server.ListenAddr != "" {
		probes := health.New(health.Checker{Name: "session", Check: lc.Ready})
		handler := health.NewMux(probes, provider.Registry, metrics)
		go func() {
			if err := health.Serve(ctx, cfg.Server.ListenAddr, handler); err != nil {
				slog.Error("diagnostics server error", "err", err)
			}
		}()
	}

	printStartupSummary(os.Stdout, cfg, registry.Names())

	if err := lc.Run(ctx); err != nil {
		return err
	}
	slog.Info("goodbye")
	return nil
}

// newConnector builds the transport selected by lc.
func newConnector(ctx context.Context, lc config.LiveConfig, creds config.Credentials) (live.Connector, error) {
	if lc.VertexAI {
		p, err := vertex.New(ctx, vertex.Config{
			Project:  creds.Project,
			Location: creds.Location,
			Model:    lc.ModelName(),
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	opts := []gemini.Option{gemini.WithModel(lc.ModelName())}
	if lc.BaseURL != "" {
		opts = append(opts, gemini.WithBaseURL(lc.BaseURL))
	}
	return gemini.New(creds.APIKey, opts...), nil
}

// sessionConfig maps the live settings onto the setup message.
func sessionConfig(lc config.LiveConfig, instruction string, decls []live.ToolDeclaration) live.SessionConfig {
	sc := live.SessionConfig{
		Voice:               lc.Voice,
		Language:            lc.Language,
		SystemInstruction:   instruction,
		Tools:               decls,
		ResumptionHandle:    lc.ResumptionHandle,
		Temperature:         lc.Temperature,
		TopP:                lc.TopP,
		TopK:                lc.TopK,
		InputTranscription:  lc.InputTranscription,
		OutputTranscription: lc.OutputTranscription,
		ActivityDetection: live.ActivityDetection{
			Disabled:          lc.ActivityDetection.Disabled,
			StartSensitivity:  live.Sensitivity(lc.ActivityDetection.StartSensitivity),
			EndSensitivity:    live.Sensitivity(lc.ActivityDetection.EndSensitivity),
			PrefixPaddingMs:   lc.ActivityDetection.PrefixPaddingMs,
			SilenceDurationMs: lc.ActivityDetection.SilenceDurationMs,
		},
	}
	if lc.KnowledgeCorpus != "" {
		sc.Retrieval = append(sc.Retrieval, live.RetrievalSource{Corpus: lc.KnowledgeCorpus})
	}
	if lc.MemoryCorpus != "" {
		sc.Retrieval = append(sc.Retrieval, live.RetrievalSource{Corpus: lc.MemoryCorpus, StoreContext: true})
	}
	return sc
}

// connectMCPServers adds each reachable server's tools to reg. A server that
// cannot be reached is logged and skipped; built-in tools keep their names.
func connectMCPServers(ctx context.Context, host *mcptools.Host, reg *tools.Registry, servers []config.MCPServerConfig) {
	for _, s := range servers {
		discovered, err := host.Connect(ctx, mcpServerConfig(s))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			slog.Error("failed to connect mcp server", "server", s.Name, "err", err)
			continue
		}
		for _, name := range reg.Merge(discovered...) {
			slog.Warn("mcp tool shadowed by an earlier tool", "server", s.Name, "tool", name)
		}
	}
}

func mcpServerConfig(s config.MCPServerConfig) mcptools.ServerConfig {
	return mcptools.ServerConfig{
		Name:      s.Name,
		Transport: mcptools.Transport(s.Transport),
		Command:   s.Command,
		URL:       s.URL,
		Env:       s.Env,
		Breaker: resilience.CircuitBreakerConfig{
			MaxFailures:  s.MaxFailures,
			ResetTimeout: s.ResetTimeout,
		},
	}
}
