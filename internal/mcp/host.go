// Package mcp connects Switchboard to Model Context Protocol (MCP) tool
// servers using the official MCP Go SDK.
//
// A [Host] dials the configured servers, imports their tool catalogues into
// the shared dispatcher registry, and routes each imported tool's executions
// back to the owning server session. Per-agent whitelists still decide which
// of the imported tools a persona advertises; the host only makes them
// callable.
//
// Lifecycle:
//
//  1. Call [Host.ConnectAll] (or [Host.Connect] per server) at startup.
//  2. Execute imported tools through the dispatcher as usual.
//  3. Call [Host.Close] to release all server sessions.
//
// All methods are safe for concurrent use.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/switchboard/pkg/tools"
)

// Registrar receives the tool definitions a host imports.
// *tools.Dispatcher satisfies it.
type Registrar interface {
	Register(def tools.Definition, h tools.Handler) error
}

var _ Registrar = (*tools.Dispatcher)(nil)

// Host manages connections to MCP servers and bridges their tools into the
// dispatcher registry.
//
// The zero value is NOT usable; create instances with [NewHost].
type Host struct {
	mu       sync.Mutex
	sessions map[string]*mcpsdk.ClientSession // key: server name

	// client is reused across all server connections. The official SDK allows
	// a single Client to manage multiple sessions concurrently.
	client *mcpsdk.Client
}

// NewHost creates and returns a ready-to-use Host.
func NewHost() *Host {
	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "switchboard", Version: "1.0.0"},
		nil,
	)
	return &Host{
		sessions: make(map[string]*mcpsdk.ClientSession),
		client:   client,
	}
}

// ConnectAll dials every configured server in parallel and registers the
// discovered tools with reg. On the first failure all sessions opened so far
// are closed and the error is returned; a half-connected host would silently
// drop tools the agents were promised.
//
// ctx must outlive the host: stdio server subprocesses are bound to it.
func (h *Host) ConnectAll(ctx context.Context, servers []ServerConfig, reg Registrar) error {
	var g errgroup.Group
	for _, cfg := range servers {
		g.Go(func() error {
			return h.Connect(ctx, cfg, reg)
		})
	}
	if err := g.Wait(); err != nil {
		_ = h.Close()
		return err
	}
	return nil
}

// Connect dials the server described by cfg, imports its tool catalogue into
// reg, and keeps the session open for tool execution until [Host.Close]. If a
// server with the same Name is already connected, the old session is closed
// and replaced.
func (h *Host) Connect(ctx context.Context, cfg ServerConfig, reg Registrar) error {
	if cfg.Name == "" {
		return fmt.Errorf("mcp: server config must have a non-empty name")
	}
	transport, err := buildTransport(ctx, cfg)
	if err != nil {
		return err
	}

	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcp: connect to server %q: %w", cfg.Name, err)
	}

	// Discover tools using the iterator.
	var defs []tools.Definition
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("mcp: list tools for server %q: %w", cfg.Name, err)
		}
		defs = append(defs, tools.Definition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schemaJSON(tool.InputSchema),
		})
	}

	for _, def := range defs {
		if err := reg.Register(def, remoteTool(session, def.Name)); err != nil {
			_ = session.Close()
			return fmt.Errorf("mcp: register tool %q from server %q: %w", def.Name, cfg.Name, err)
		}
	}

	h.mu.Lock()
	if old, ok := h.sessions[cfg.Name]; ok {
		_ = old.Close()
	}
	h.sessions[cfg.Name] = session
	h.mu.Unlock()

	slog.Info("mcp server connected",
		"server", cfg.Name,
		"transport", cfg.Transport,
		"tools", len(defs),
	)
	return nil
}

// buildTransport constructs the SDK transport for cfg.
//
// For [TransportStdio]: cfg.Command is split on spaces into executable + args;
// cfg.Env is appended to the inherited environment.
//
// For [TransportHTTP]: cfg.URL is the endpoint address.
func buildTransport(ctx context.Context, cfg ServerConfig) (mcpsdk.Transport, error) {
	switch cfg.Transport {
	case TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return nil, fmt.Errorf("mcp: stdio server %q requires a non-empty Command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		return &mcpsdk.CommandTransport{Command: cmd}, nil

	case TransportHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcp: http server %q requires a non-empty URL", cfg.Name)
		}
		return &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}, nil

	default:
		return nil, fmt.Errorf("mcp: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}
}

// remoteTool bridges one imported tool to its owning server session.
func remoteTool(session *mcpsdk.ClientSession, name string) tools.HandlerFunc {
	return func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		// Decode args into a map for the SDK.
		var argsMap map[string]any
		if len(args) > 0 {
			if err := json.Unmarshal(args, &argsMap); err != nil {
				return nil, fmt.Errorf("mcp: invalid args JSON for tool %q: %w", name, err)
			}
		}

		res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
			Name:      name,
			Arguments: argsMap,
		})
		if err != nil {
			return nil, fmt.Errorf("mcp: call to tool %q failed: %w", name, err)
		}
		return payloadFromResult(name, res)
	}
}

// payloadFromResult flattens a call result into the JSON payload the
// dispatcher forwards to the model. Text chunks are concatenated; plain-text
// output is wrapped in an {"output": ...} object so the payload is always a
// valid JSON value. An application-level tool error becomes a Go error, which
// the dispatcher converts into its normal error envelope.
func payloadFromResult(name string, res *mcpsdk.CallToolResult) (json.RawMessage, error) {
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	text := sb.String()

	if res.IsError {
		if text == "" {
			text = "tool execution failed"
		}
		return nil, fmt.Errorf("mcp: tool %q: %s", name, text)
	}
	if text == "" {
		return json.RawMessage(`{}`), nil
	}
	if json.Valid([]byte(text)) {
		return json.RawMessage(text), nil
	}
	wrapped, err := json.Marshal(struct {
		Output string `json:"output"`
	}{Output: text})
	if err != nil {
		return nil, fmt.Errorf("mcp: tool %q produced unencodable output: %w", name, err)
	}
	return wrapped, nil
}

// schemaJSON renders a tool's input schema as raw JSON. A nil or
// unmarshalable schema falls back to the permissive object schema.
func schemaJSON(schema any) json.RawMessage {
	fallback := json.RawMessage(`{"type":"object"}`)
	if schema == nil {
		return fallback
	}
	data, err := json.Marshal(schema)
	if err != nil || string(data) == "null" {
		return fallback
	}
	return data
}

// Servers returns the names of the connected servers, sorted.
func (h *Host) Servers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.sessions))
	for name := range h.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close shuts down all server sessions and releases associated resources.
// After Close returns the Host must not be used again.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for name, session := range h.sessions {
		if err := session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mcp: close server %q: %w", name, err))
		}
		delete(h.sessions, name)
	}
	return errors.Join(errs...)
}

// splitCommand splits a command string into executable and arguments.
// e.g. "/bin/foo --bar baz" → ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
