// Package config provides the configuration schema and loader for the
// Switchboard voice relay.
package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/MrWong99/switchboard/internal/agent"
	"github.com/MrWong99/switchboard/internal/mcp"
	"github.com/MrWong99/switchboard/internal/resilience"
	"github.com/MrWong99/switchboard/pkg/audio"
	"github.com/MrWong99/switchboard/pkg/wire"
	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the Switchboard process.
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

// Device selects the audio device implementation.
type Device string

const (
	// DeviceDiscord captures and plays audio through a Discord voice channel.
	DeviceDiscord Device = "discord"
)

// IsValid reports whether d is a recognised device.
func (d Device) IsValid() bool {
	return d == DeviceDiscord
}

// Duration is a [time.Duration] that unmarshals from YAML strings like
// "500ms" or "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for Switchboard.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Channel ChannelConfig `yaml:"channel"`
	Audio   AudioConfig   `yaml:"audio"`
	Agents  AgentsConfig  `yaml:"agents"`
	MCP     MCPConfig     `yaml:"mcp"`
	Restart RestartConfig `yaml:"restart"`
}

// ServerConfig holds the operational HTTP surface and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the operational HTTP server serving
	// /healthz, /readyz, and /metrics (e.g., ":8080"). Empty disables the
	// server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ChannelConfig describes the upstream speech model service.
type ChannelConfig struct {
	// Endpoint is the websocket URL of the speech model service
	// (e.g., "wss://speech.example.com/v1/duplex").
	Endpoint string `yaml:"endpoint"`

	// APIKey is sent as a Bearer token when dialing. May be empty for
	// unauthenticated endpoints.
	APIKey string `yaml:"api_key"`

	// Model selects the remote conversational model.
	Model string `yaml:"model"`

	// DialTimeout bounds connection establishment. Zero means the channel
	// package default.
	DialTimeout Duration `yaml:"dial_timeout"`

	// Inference tunes the remote model's sampling. Zero values defer to the
	// service defaults.
	Inference InferenceConfig `yaml:"inference"`
}

// InferenceConfig mirrors the sampling settings advertised at session start.
type InferenceConfig struct {
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
}

// Wire converts the block into the wire-level inference settings.
func (i InferenceConfig) Wire() wire.InferenceConfig {
	return wire.InferenceConfig{
		MaxTokens:   i.MaxTokens,
		Temperature: i.Temperature,
		TopP:        i.TopP,
	}
}

// Default stream formats, 20ms frames. Capture matches what speech models
// expect for input (16 kHz mono); playback matches what they produce
// (24 kHz mono).
var (
	DefaultCaptureFormat  = audio.Format{SampleRateHz: 16000, Channels: 1, FrameBytes: 640}
	DefaultPlaybackFormat = audio.Format{SampleRateHz: 24000, Channels: 1, FrameBytes: 960}
)

// defaultFrameMs is the frame duration applied when a format block does not
// set one.
const defaultFrameMs = 20

// AudioConfig selects the audio device and the PCM formats the bridge runs.
type AudioConfig struct {
	// Device selects the audio device implementation.
	Device Device `yaml:"device"`

	// Discord configures the Discord device. Required when Device is
	// "discord".
	Discord DiscordConfig `yaml:"discord"`

	// Capture is the format microphone frames are captured in and sent
	// upstream. Zero fields use [DefaultCaptureFormat].
	Capture FormatConfig `yaml:"capture"`

	// Playback is the format the model's audio is played back in. Zero
	// fields use [DefaultPlaybackFormat].
	Playback FormatConfig `yaml:"playback"`
}

// CaptureFormat returns the capture-side [audio.Format] with defaults applied.
func (a AudioConfig) CaptureFormat() audio.Format {
	return a.Capture.Format(DefaultCaptureFormat)
}

// PlaybackFormat returns the playback-side [audio.Format] with defaults applied.
func (a AudioConfig) PlaybackFormat() audio.Format {
	return a.Playback.Format(DefaultPlaybackFormat)
}

// DiscordConfig holds the Discord bot credentials and voice channel target.
type DiscordConfig struct {
	// Token is the bot token used to authenticate the gateway session.
	Token string `yaml:"token"`

	// GuildID is the guild hosting the voice channel.
	GuildID string `yaml:"guild_id"`

	// ChannelID is the voice channel the bot joins.
	ChannelID string `yaml:"channel_id"`
}

// FormatConfig describes a PCM stream format. All fields are optional.
type FormatConfig struct {
	// SampleRateHz is the PCM sample rate.
	SampleRateHz int `yaml:"sample_rate_hz"`

	// Channels is the channel count (1 or 2).
	Channels int `yaml:"channels"`

	// FrameMs is the frame duration in milliseconds. Default: 20.
	FrameMs int `yaml:"frame_ms"`
}

// Format converts the block into an [audio.Format]. Zero SampleRateHz and
// Channels fall back to def; FrameBytes is always derived from the frame
// duration.
func (f FormatConfig) Format(def audio.Format) audio.Format {
	out := def
	if f.SampleRateHz > 0 {
		out.SampleRateHz = f.SampleRateHz
	}
	if f.Channels > 0 {
		out.Channels = f.Channels
	}
	frameMs := f.FrameMs
	if frameMs <= 0 {
		frameMs = defaultFrameMs
	}
	out.FrameBytes = out.SampleRateHz * out.Channels * 2 * frameMs / 1000
	return out
}

// AgentsConfig holds the static persona registry.
type AgentsConfig struct {
	// Default is the agent that answers first. Must name one of Profiles.
	Default string `yaml:"default"`

	// Profiles lists every persona the process can host.
	Profiles []AgentConfig `yaml:"profiles"`
}

// Registry builds the immutable [agent.Registry] from the configured
// profiles.
func (a AgentsConfig) Registry() (*agent.Registry, error) {
	profiles := make([]agent.Profile, 0, len(a.Profiles))
	for _, p := range a.Profiles {
		profiles = append(profiles, agent.Profile{
			Name:              p.Name,
			VoiceID:           p.VoiceID,
			SystemInstruction: p.SystemInstruction,
			ToolWhitelist:     slices.Clone(p.Tools),
			Greeting:          p.Greeting,
		})
	}
	return agent.NewRegistry(profiles)
}

// AgentConfig describes a single persona.
type AgentConfig struct {
	// Name is the registry key and the handoff target the switch_agent tool
	// accepts.
	Name string `yaml:"name"`

	// VoiceID selects the model voice for this persona.
	VoiceID string `yaml:"voice_id"`

	// SystemInstruction is the persona's character sheet, injected verbatim
	// at session start.
	SystemInstruction string `yaml:"system_instruction"`

	// Tools lists dispatcher tool names this persona may invoke.
	Tools []string `yaml:"tools"`

	// Greeting overrides the default opening prompt for this persona.
	Greeting string `yaml:"greeting"`
}

// MCPConfig holds the list of Model Context Protocol servers to source
// tools from.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes how to connect to a single MCP tool server.
type MCPServerConfig struct {
	// Name is a unique human-readable identifier for this server (used in
	// logs and tool attribution).
	Name string `yaml:"name"`

	// Transport specifies the connection mechanism.
	Transport mcp.Transport `yaml:"transport"`

	// Command is the executable (with optional arguments) launched when
	// Transport is "stdio". Ignored for http transport.
	Command string `yaml:"command"`

	// URL is the MCP endpoint address used when Transport is "http".
	// Ignored for stdio transport.
	URL string `yaml:"url"`

	// Env holds additional environment variables injected into the
	// subprocess when Transport is "stdio". May be nil.
	Env map[string]string `yaml:"env"`
}

// RestartConfig tunes how the orchestrator restarts a session after a
// channel error.
type RestartConfig struct {
	// MaxAttempts bounds consecutive restarts before the orchestrator gives
	// up. Zero means the orchestrator default.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the delay before the first restart. Zero means the
	// policy default of 1s.
	InitialBackoff Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the restart delay. Zero means the policy default of
	// 30s.
	MaxBackoff Duration `yaml:"max_backoff"`
}

// Backoff converts the block into a [resilience.Backoff] policy.
func (r RestartConfig) Backoff() resilience.Backoff {
	return resilience.Backoff{
		Initial: r.InitialBackoff.Std(),
		Max:     r.MaxBackoff.Std(),
	}
}
