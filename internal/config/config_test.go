package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/switchboard/internal/config"
	"github.com/MrWong99/switchboard/pkg/audio"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: info

channel:
  endpoint: wss://speech.example.com/v1/duplex
  api_key: sk-test
  model: duplex-voice-1
  dial_timeout: 10s
  inference:
    max_tokens: 1024
    temperature: 0.7
    top_p: 0.9

audio:
  device: discord
  discord:
    token: bot-token
    guild_id: "123456789"
    channel_id: "987654321"
  capture:
    sample_rate_hz: 16000
    channels: 1
    frame_ms: 20
  playback:
    sample_rate_hz: 24000
    channels: 1
    frame_ms: 20

agents:
  default: support
  profiles:
    - name: support
      voice_id: en-warm
      system_instruction: You are a patient support agent.
      tools:
        - open_ticket_tool
    - name: sales
      voice_id: en-bright
      system_instruction: You are an upbeat sales agent.
      greeting: Introduce yourself as the sales department.

mcp:
  servers:
    - name: tickets
      transport: stdio
      command: /usr/local/bin/mcp-tickets
    - name: crm
      transport: http
      url: https://crm.example.com/mcp

restart:
  max_attempts: 5
  initial_backoff: 1s
  max_backoff: 30s
`

// minimalYAML satisfies every hard validation rule with the fewest fields.
const minimalYAML = `
channel:
  endpoint: wss://speech.example.com/v1/duplex

audio:
  device: discord
  discord:
    token: bot-token
    guild_id: "1"
    channel_id: "2"

agents:
  default: solo
  profiles:
    - name: solo
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Channel.Endpoint != "wss://speech.example.com/v1/duplex" {
		t.Errorf("channel.endpoint: got %q", cfg.Channel.Endpoint)
	}
	if cfg.Channel.DialTimeout.Std() != 10*time.Second {
		t.Errorf("channel.dial_timeout: got %v, want 10s", cfg.Channel.DialTimeout.Std())
	}
	if cfg.Channel.Inference.MaxTokens != 1024 {
		t.Errorf("channel.inference.max_tokens: got %d, want 1024", cfg.Channel.Inference.MaxTokens)
	}
	if cfg.Audio.Device != config.DeviceDiscord {
		t.Errorf("audio.device: got %q, want %q", cfg.Audio.Device, config.DeviceDiscord)
	}
	if cfg.Agents.Default != "support" {
		t.Errorf("agents.default: got %q, want %q", cfg.Agents.Default, "support")
	}
	if len(cfg.Agents.Profiles) != 2 {
		t.Fatalf("agents.profiles: got %d, want 2", len(cfg.Agents.Profiles))
	}
	if cfg.Agents.Profiles[1].Greeting != "Introduce yourself as the sales department." {
		t.Errorf("agents.profiles[1].greeting: got %q", cfg.Agents.Profiles[1].Greeting)
	}
	if len(cfg.MCP.Servers) != 2 {
		t.Fatalf("mcp.servers: got %d, want 2", len(cfg.MCP.Servers))
	}
	if cfg.Restart.MaxAttempts != 5 {
		t.Errorf("restart.max_attempts: got %d, want 5", cfg.Restart.MaxAttempts)
	}
}

func TestLoadFromReader_MinimalIsValid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error for minimal config: %v", err)
	}
	if cfg.Agents.Default != "solo" {
		t.Errorf("agents.default: got %q, want %q", cfg.Agents.Default, "solo")
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	yaml := `
channel:
  endpoint: wss://speech.example.com/v1/duplex
  api_kye: oops
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "api_kye") {
		t.Errorf("error should mention the unknown field, got: %v", err)
	}
}

func TestLoadFromReader_BadDuration(t *testing.T) {
	yaml := `
channel:
  endpoint: wss://speech.example.com/v1/duplex
  dial_timeout: soon
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unparseable duration, got nil")
	}
	if !strings.Contains(err.Error(), "soon") {
		t.Errorf("error should mention the bad value, got: %v", err)
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate_InvalidLogLevel(t *testing.T) {
	yaml := minimalYAML + `
server:
  log_level: verbose
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_MissingEndpoint(t *testing.T) {
	yaml := `
audio:
  device: discord
  discord:
    token: t
    guild_id: g
    channel_id: c

agents:
  default: solo
  profiles:
    - name: solo
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing channel.endpoint, got nil")
	}
	if !strings.Contains(err.Error(), "channel.endpoint") {
		t.Errorf("error should mention channel.endpoint, got: %v", err)
	}
}

func TestValidate_BadEndpointScheme(t *testing.T) {
	yaml := strings.Replace(minimalYAML,
		"wss://speech.example.com/v1/duplex",
		"ftp://speech.example.com/v1/duplex", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for ftp endpoint scheme, got nil")
	}
	if !strings.Contains(err.Error(), "scheme") {
		t.Errorf("error should mention the scheme, got: %v", err)
	}
}

func TestValidate_InvalidDevice(t *testing.T) {
	yaml := strings.Replace(minimalYAML, "device: discord", "device: alsa", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown device, got nil")
	}
	if !strings.Contains(err.Error(), "audio.device") {
		t.Errorf("error should mention audio.device, got: %v", err)
	}
}

func TestValidate_DiscordMissingToken(t *testing.T) {
	yaml := strings.Replace(minimalYAML, "    token: bot-token\n", "", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing discord token, got nil")
	}
	if !strings.Contains(err.Error(), "audio.discord.token") {
		t.Errorf("error should mention audio.discord.token, got: %v", err)
	}
}

func TestValidate_NoProfiles(t *testing.T) {
	yaml := `
channel:
  endpoint: wss://speech.example.com/v1/duplex

audio:
  device: discord
  discord:
    token: t
    guild_id: g
    channel_id: c
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for empty agents.profiles, got nil")
	}
	if !strings.Contains(err.Error(), "agents.profiles") {
		t.Errorf("error should mention agents.profiles, got: %v", err)
	}
}

func TestValidate_DuplicateAgentName(t *testing.T) {
	yaml := minimalYAML + `    - name: " SOLO "
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for duplicate agent name, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("error should mention the duplicate, got: %v", err)
	}
}

func TestValidate_DefaultNotAProfile(t *testing.T) {
	yaml := strings.Replace(minimalYAML, "default: solo", "default: ghost", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown default agent, got nil")
	}
	if !strings.Contains(err.Error(), "agents.default") {
		t.Errorf("error should mention agents.default, got: %v", err)
	}
}

func TestValidate_MCPMissingCommand(t *testing.T) {
	yaml := minimalYAML + `
mcp:
  servers:
    - name: badserver
      transport: stdio
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing stdio command, got nil")
	}
}

func TestValidate_MCPMissingURL(t *testing.T) {
	yaml := minimalYAML + `
mcp:
  servers:
    - name: webserver
      transport: http
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing http url, got nil")
	}
}

func TestValidate_MCPInvalidTransport(t *testing.T) {
	yaml := minimalYAML + `
mcp:
  servers:
    - name: badtransport
      transport: grpc
      command: /bin/server
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid transport, got nil")
	}
}

func TestValidate_RestartBackoffOrdering(t *testing.T) {
	yaml := minimalYAML + `
restart:
  initial_backoff: 30s
  max_backoff: 1s
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for max_backoff below initial_backoff, got nil")
	}
	if !strings.Contains(err.Error(), "restart.max_backoff") {
		t.Errorf("error should mention restart.max_backoff, got: %v", err)
	}
}

// ── Conversions ───────────────────────────────────────────────────────────────

func TestFormatConfig_Defaults(t *testing.T) {
	var f config.FormatConfig
	got := f.Format(config.DefaultCaptureFormat)
	want := audio.Format{SampleRateHz: 16000, Channels: 1, FrameBytes: 640}
	if got != want {
		t.Errorf("empty format block: got %+v, want %+v", got, want)
	}
}

func TestFormatConfig_DerivesFrameBytes(t *testing.T) {
	f := config.FormatConfig{SampleRateHz: 48000, Channels: 2, FrameMs: 10}
	got := f.Format(config.DefaultCaptureFormat)
	// 48000 Hz * 2 ch * 2 bytes * 10ms = 1920 bytes.
	if got.FrameBytes != 1920 {
		t.Errorf("frame_bytes: got %d, want 1920", got.FrameBytes)
	}
}

func TestAudioConfig_PlaybackDefaults(t *testing.T) {
	var a config.AudioConfig
	got := a.PlaybackFormat()
	if got != config.DefaultPlaybackFormat {
		t.Errorf("playback format: got %+v, want %+v", got, config.DefaultPlaybackFormat)
	}
}

func TestAgentsConfig_Registry(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reg, err := cfg.Agents.Registry()
	if err != nil {
		t.Fatalf("unexpected registry error: %v", err)
	}
	if reg.Len() != 2 {
		t.Fatalf("registry size: got %d, want 2", reg.Len())
	}
	p, err := reg.Get("support")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.ToolWhitelist) != 1 || p.ToolWhitelist[0] != "open_ticket_tool" {
		t.Errorf("support tool whitelist: got %v", p.ToolWhitelist)
	}
}

func TestRestartConfig_Backoff(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b := cfg.Restart.Backoff()
	if b.Initial != time.Second {
		t.Errorf("backoff initial: got %v, want 1s", b.Initial)
	}
	if b.Max != 30*time.Second {
		t.Errorf("backoff max: got %v, want 30s", b.Max)
	}
}

func TestInferenceConfig_Wire(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w := cfg.Channel.Inference.Wire()
	if w.MaxTokens != 1024 || w.Temperature != 0.7 || w.TopP != 0.9 {
		t.Errorf("wire inference: got %+v", w)
	}
}
