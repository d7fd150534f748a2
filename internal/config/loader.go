package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()
	return LoadFromReader(f)
}

// LoadFromReader decodes YAML configuration from r and validates it.
// Unknown fields are rejected so typos surface at startup rather than
// silently producing defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg for hard errors and logs warnings for suspicious but
// workable settings. All hard errors are collected and returned joined, so a
// single run reports every problem at once.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level: unknown level %q (expected debug, info, warn or error)", cfg.Server.LogLevel))
	}

	errs = append(errs, validateChannel(&cfg.Channel)...)
	errs = append(errs, validateAudio(&cfg.Audio)...)
	errs = append(errs, validateAgents(&cfg.Agents)...)
	errs = append(errs, validateMCP(&cfg.MCP)...)
	errs = append(errs, validateRestart(&cfg.Restart)...)

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func validateChannel(c *ChannelConfig) []error {
	var errs []error
	if c.Endpoint == "" {
		errs = append(errs, errors.New("channel.endpoint: required"))
	} else {
		u, err := url.Parse(c.Endpoint)
		if err != nil {
			errs = append(errs, fmt.Errorf("channel.endpoint: %w", err))
		} else {
			switch u.Scheme {
			case "ws", "wss", "http", "https":
			default:
				errs = append(errs, fmt.Errorf("channel.endpoint: unsupported scheme %q (expected ws, wss, http or https)", u.Scheme))
			}
		}
	}
	if c.APIKey == "" {
		slog.Warn("config: channel.api_key is empty, dialing unauthenticated")
	}
	if c.Model == "" {
		slog.Warn("config: channel.model is empty, the service default model will answer")
	}
	if c.DialTimeout < 0 {
		errs = append(errs, errors.New("channel.dial_timeout: must not be negative"))
	}
	if c.Inference.MaxTokens < 0 {
		errs = append(errs, errors.New("channel.inference.max_tokens: must not be negative"))
	}
	if c.Inference.Temperature < 0 {
		errs = append(errs, errors.New("channel.inference.temperature: must not be negative"))
	}
	if c.Inference.TopP < 0 || c.Inference.TopP > 1 {
		errs = append(errs, errors.New("channel.inference.top_p: must be between 0 and 1"))
	}
	return errs
}

func validateAudio(a *AudioConfig) []error {
	var errs []error
	if a.Device == "" {
		errs = append(errs, errors.New("audio.device: required"))
	} else if !a.Device.IsValid() {
		errs = append(errs, fmt.Errorf("audio.device: unknown device %q (expected discord)", a.Device))
	}
	if a.Device == DeviceDiscord {
		if a.Discord.Token == "" {
			errs = append(errs, errors.New("audio.discord.token: required for the discord device"))
		}
		if a.Discord.GuildID == "" {
			errs = append(errs, errors.New("audio.discord.guild_id: required for the discord device"))
		}
		if a.Discord.ChannelID == "" {
			errs = append(errs, errors.New("audio.discord.channel_id: required for the discord device"))
		}
	}
	errs = append(errs, validateFormat("audio.capture", &a.Capture)...)
	errs = append(errs, validateFormat("audio.playback", &a.Playback)...)
	return errs
}

func validateFormat(field string, f *FormatConfig) []error {
	var errs []error
	if f.SampleRateHz < 0 {
		errs = append(errs, fmt.Errorf("%s.sample_rate_hz: must not be negative", field))
	}
	if f.Channels < 0 || f.Channels > 2 {
		errs = append(errs, fmt.Errorf("%s.channels: must be 1 or 2", field))
	}
	if f.FrameMs < 0 {
		errs = append(errs, fmt.Errorf("%s.frame_ms: must not be negative", field))
	}
	return errs
}

func validateAgents(a *AgentsConfig) []error {
	var errs []error
	if len(a.Profiles) == 0 {
		errs = append(errs, errors.New("agents.profiles: at least one profile is required"))
	}

	seen := make(map[string]bool, len(a.Profiles))
	for i, p := range a.Profiles {
		key := strings.ToLower(strings.TrimSpace(p.Name))
		switch {
		case key == "":
			errs = append(errs, fmt.Errorf("agents.profiles[%d].name: required", i))
		case seen[key]:
			errs = append(errs, fmt.Errorf("agents.profiles[%d].name: duplicate name %q", i, p.Name))
		default:
			seen[key] = true
		}
		if p.SystemInstruction == "" {
			slog.Warn("config: agent has no system_instruction, the persona will improvise", "agent", p.Name)
		}
		if p.VoiceID == "" {
			slog.Warn("config: agent has no voice_id, the service default voice will speak", "agent", p.Name)
		}
	}

	switch {
	case a.Default == "":
		errs = append(errs, errors.New("agents.default: required"))
	case !seen[strings.ToLower(strings.TrimSpace(a.Default))]:
		errs = append(errs, fmt.Errorf("agents.default: %q does not name a configured profile", a.Default))
	}
	return errs
}

func validateMCP(m *MCPConfig) []error {
	var errs []error
	seen := make(map[string]bool, len(m.Servers))
	for i, s := range m.Servers {
		switch {
		case s.Name == "":
			errs = append(errs, fmt.Errorf("mcp.servers[%d].name: required", i))
		case seen[s.Name]:
			errs = append(errs, fmt.Errorf("mcp.servers[%d].name: duplicate name %q", i, s.Name))
		default:
			seen[s.Name] = true
		}
		if !s.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("mcp.servers[%d].transport: unknown transport %q (expected stdio or http)", i, s.Transport))
			continue
		}
		switch s.Transport {
		case "stdio":
			if s.Command == "" {
				errs = append(errs, fmt.Errorf("mcp.servers[%d].command: required for stdio transport", i))
			}
		case "http":
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("mcp.servers[%d].url: required for http transport", i))
			}
		}
	}
	return errs
}

func validateRestart(r *RestartConfig) []error {
	var errs []error
	if r.MaxAttempts < 0 {
		errs = append(errs, errors.New("restart.max_attempts: must not be negative"))
	}
	if r.InitialBackoff < 0 {
		errs = append(errs, errors.New("restart.initial_backoff: must not be negative"))
	}
	if r.MaxBackoff < 0 {
		errs = append(errs, errors.New("restart.max_backoff: must not be negative"))
	}
	if r.InitialBackoff > 0 && r.MaxBackoff > 0 && r.MaxBackoff < r.InitialBackoff {
		errs = append(errs, errors.New("restart.max_backoff: must not be less than restart.initial_backoff"))
	}
	return errs
}
