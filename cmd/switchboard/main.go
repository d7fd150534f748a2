// Command switchboard runs the voice relay: one live duplex session against
// the remote speech model, handed between configured agent personas on the
// caller's request.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/switchboard/internal/agent/orchestrator"
	"github.com/MrWong99/switchboard/internal/config"
	"github.com/MrWong99/switchboard/internal/mcp"
	"github.com/MrWong99/switchboard/internal/observe"
	"github.com/MrWong99/switchboard/internal/ops"
	discorddevice "github.com/MrWong99/switchboard/pkg/audio/discord"
	"github.com/MrWong99/switchboard/pkg/channel"
	wschannel "github.com/MrWong99/switchboard/pkg/channel/websocket"
	"github.com/MrWong99/switchboard/pkg/tools"
)

// version is stamped at build time via -ldflags.
var version = "dev"

// shutdownTimeout bounds teardown of telemetry and tool servers after the
// conversation loop exits.
const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	validate := flag.Bool("validate", false, "validate the configuration and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "switchboard: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "switchboard: %v\n", err)
		}
		return 1
	}
	if *validate {
		fmt.Printf("switchboard: %s is valid\n", *configPath)
		return 0
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("switchboard starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "switchboard",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Agent registry ────────────────────────────────────────────────────────
	registry, err := cfg.Agents.Registry()
	if err != nil {
		slog.Error("failed to build agent registry", "err", err)
		return 1
	}

	// ── Tools ─────────────────────────────────────────────────────────────────
	dispatcher := tools.NewDispatcher()
	mcpHost := mcp.NewHost()
	if err := mcpHost.ConnectAll(ctx, mcpServers(cfg), dispatcher); err != nil {
		slog.Error("failed to connect MCP servers", "err", err)
		return 1
	}
	defer func() {
		if err := mcpHost.Close(); err != nil {
			slog.Warn("mcp teardown error", "err", err)
		}
	}()

	// ── Audio device ──────────────────────────────────────────────────────────
	dg, err := discordgo.New("Bot " + cfg.Audio.Discord.Token)
	if err != nil {
		slog.Error("failed to create discord session", "err", err)
		return 1
	}
	if err := dg.Open(); err != nil {
		slog.Error("failed to open discord gateway", "err", err)
		return 1
	}
	defer func() {
		if err := dg.Close(); err != nil {
			slog.Warn("discord gateway close error", "err", err)
		}
	}()
	device := discorddevice.New(dg, cfg.Audio.Discord.GuildID, cfg.Audio.Discord.ChannelID)
	slog.Info("discord gateway connected",
		"guild_id", cfg.Audio.Discord.GuildID, "channel_id", cfg.Audio.Discord.ChannelID)

	// ── Ops HTTP server ───────────────────────────────────────────────────────
	if cfg.Server.ListenAddr != "" {
		opsServer := ops.NewServer(cfg.Server.ListenAddr, opsHandler(cfg, mcpHost, dg), nil)
		opsServer.Start()
		defer func() {
			if err := opsServer.Close(); err != nil {
				slog.Warn("ops server close error", "err", err)
			}
		}()
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, dispatcher)

	// ── Conversation loop ─────────────────────────────────────────────────────
	orch, err := orchestrator.New(orchestrator.Config{
		Dialer: &wschannel.Dialer{},
		Channel: channel.Config{
			Endpoint:    cfg.Channel.Endpoint,
			APIKey:      cfg.Channel.APIKey,
			Model:       cfg.Channel.Model,
			DialTimeout: cfg.Channel.DialTimeout.Std(),
		},
		Device:         device,
		Dispatcher:     dispatcher,
		Registry:       registry,
		DefaultAgent:   cfg.Agents.Default,
		Inference:      cfg.Channel.Inference.Wire(),
		CaptureFormat:  cfg.Audio.CaptureFormat(),
		PlaybackFormat: cfg.Audio.PlaybackFormat(),
		MaxRestarts:    cfg.Restart.MaxAttempts,
		Restart:        cfg.Restart.Backoff(),
	})
	if err != nil {
		slog.Error("failed to build orchestrator", "err", err)
		return 1
	}

	slog.Info("ready — press Ctrl+C to shut down")
	if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("conversation loop error", "err", err)
		return 1
	}

	slog.Info("goodbye", "handoffs", orch.Handoffs(), "turns", orch.History().Len())
	return 0
}

// mcpServers converts the config blocks into MCP host server configs.
func mcpServers(cfg *config.Config) []mcp.ServerConfig {
	out := make([]mcp.ServerConfig, 0, len(cfg.MCP.Servers))
	for _, s := range cfg.MCP.Servers {
		out = append(out, mcp.ServerConfig{
			Name:      s.Name,
			Transport: s.Transport,
			Command:   s.Command,
			URL:       s.URL,
			Env:       s.Env,
		})
	}
	return out
}

// opsHandler assembles the readiness checkers for the ops surface.
func opsHandler(cfg *config.Config, host *mcp.Host, dg *discordgo.Session) *ops.Handler {
	configured := len(cfg.MCP.Servers)
	return ops.NewHandler(
		ops.Checker{Name: "channel", Check: func(context.Context) error {
			if cfg.Channel.Endpoint == "" {
				return errors.New("no endpoint configured")
			}
			return nil
		}},
		ops.Checker{Name: "device", Check: func(context.Context) error {
			if dg.HeartbeatLatency() == 0 {
				return errors.New("discord gateway not connected")
			}
			return nil
		}},
		ops.Checker{Name: "mcp", Check: func(context.Context) error {
			if connected := len(host.Servers()); connected < configured {
				return fmt.Errorf("%d of %d servers connected", connected, configured)
			}
			return nil
		}},
	)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, dispatcher *tools.Dispatcher) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       Switchboard — startup summary   ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Channel", cfg.Channel.Endpoint)
	printRow("Model", cfg.Channel.Model)
	printRow("Device", string(cfg.Audio.Device))
	printRow("Default agent", cfg.Agents.Default)
	fmt.Printf("║  Agents          : %-19d ║\n", len(cfg.Agents.Profiles))
	fmt.Printf("║  Tools           : %-19d ║\n", len(dispatcher.Names()))
	fmt.Printf("║  MCP servers     : %-19d ║\n", len(cfg.MCP.Servers))
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
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
