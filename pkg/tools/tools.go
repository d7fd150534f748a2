// Package tools implements the dispatcher that resolves model-issued tool
// invocations to registered handlers and returns well-formed result envelopes.
//
// The dispatcher never fails the caller: unknown tool names, malformed
// arguments, handler errors, handler panics, and per-tool timeouts are all
// converted into a [Result] with IsError set and an error payload. A tool
// failure is a normal data outcome, never a reason to close the session that
// issued it.
//
// Handlers receive the invocation context and should honour cancellation.
// Cancellation on session teardown is advisory: side effects a handler has
// already committed are not rolled back, so handlers should be idempotent
// where possible.
//
// Typical usage:
//
//	d := tools.NewDispatcher()
//	d.RegisterFunc(tools.Definition{Name: "open_ticket_tool"}, openTicket)
//
//	res := d.Execute(ctx, tools.Invocation{
//	    ToolName:  "open_ticket_tool",
//	    ToolUseID: "tu-1",
//	    Arguments: json.RawMessage(`{"issue_description":"..."}`),
//	})
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/switchboard/pkg/wire"
)

// defaultTimeout bounds a single tool execution when the registered
// [Definition] does not declare its own.
const defaultTimeout = 30 * time.Second

// Handler executes one tool call. args is the JSON-encoded arguments object
// from the tool-use event ("{}" when the model sent none). The returned bytes
// must be a valid JSON value; returning an error marks the result as a tool
// error without affecting other invocations.
type Handler interface {
	Call(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// HandlerFunc adapts a plain function to the [Handler] interface.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Call implements [Handler].
func (f HandlerFunc) Call(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return f(ctx, args)
}

// Definition is the public descriptor of a registered tool.
type Definition struct {
	// Name is the identifier the model uses in tool-use events.
	Name string

	// Description tells the model what the tool does.
	Description string

	// InputSchema is the JSON Schema for the tool's arguments object.
	InputSchema json.RawMessage

	// Timeout is the hard deadline for one execution. Zero applies the
	// package default of 30 seconds.
	Timeout time.Duration
}

// Invocation is one model-issued tool call, created when the session receives
// a tool-use event.
type Invocation struct {
	ToolName  string
	ToolUseID string
	Arguments json.RawMessage
}

// Result is the outcome envelope for one invocation. It always carries the
// ToolUseID of the invocation that produced it — that pairing is the core
// invariant of tool dispatch.
type Result struct {
	ToolUseID string

	// Payload is a valid JSON value. On error it is {"error": "<message>"}.
	Payload json.RawMessage

	// IsError marks an application-level failure (unknown tool, bad
	// arguments, handler error or panic, timeout).
	IsError bool

	// Duration is the wall-clock execution time, for metrics.
	Duration time.Duration
}

type entry struct {
	def     Definition
	handler Handler
}

// Dispatcher holds the name→handler registry and executes invocations.
// Multiple invocations may run concurrently; the dispatcher does not
// serialize them.
//
// The zero value is not usable; create instances with [NewDispatcher].
type Dispatcher struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewDispatcher creates an empty, ready-to-use Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{entries: make(map[string]entry)}
}

// Register adds a tool to the registry. A tool with the same name replaces
// the previous registration.
func (d *Dispatcher) Register(def Definition, h Handler) error {
	if def.Name == "" {
		return fmt.Errorf("tools: definition must have a non-empty name")
	}
	if h == nil {
		return fmt.Errorf("tools: tool %q must have a non-nil handler", def.Name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[def.Name] = entry{def: def, handler: h}
	return nil
}

// RegisterFunc registers a plain function as a tool handler.
func (d *Dispatcher) RegisterFunc(def Definition, fn HandlerFunc) error {
	if fn == nil {
		return fmt.Errorf("tools: tool %q must have a non-nil handler", def.Name)
	}
	return d.Register(def, fn)
}

// Names returns the registered tool names, sorted.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.entries))
	for name := range d.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns one advertised [wire.ToolSpec] per requested name, in order.
// Names without a registration are advertised bare: calling them later yields
// a normal unknown-tool error result, not a protocol failure.
func (d *Dispatcher) Specs(names ...string) []wire.ToolSpec {
	d.mu.RLock()
	defer d.mu.RUnlock()

	specs := make([]wire.ToolSpec, 0, len(names))
	for _, name := range names {
		if e, ok := d.entries[name]; ok {
			specs = append(specs, wire.ToolSpec{
				Name:        e.def.Name,
				Description: e.def.Description,
				InputSchema: e.def.InputSchema,
			})
			continue
		}
		specs = append(specs, wire.ToolSpec{Name: name})
	}
	return specs
}

// Execute runs one invocation and returns its result envelope. It never
// returns a Go error and never lets a handler panic escape: every failure
// mode is captured as Result{IsError: true}.
func (d *Dispatcher) Execute(ctx context.Context, inv Invocation) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tool handler panicked", "tool", inv.ToolName, "tool_use_id", inv.ToolUseID, "panic", r)
			res = errorResult(inv.ToolUseID, fmt.Sprintf("tool %q panicked: %v", inv.ToolName, r))
		}
		res.Duration = time.Since(start)
	}()

	d.mu.RLock()
	e, ok := d.entries[inv.ToolName]
	d.mu.RUnlock()

	if !ok {
		slog.Warn("unknown tool requested", "tool", inv.ToolName, "tool_use_id", inv.ToolUseID)
		return errorResult(inv.ToolUseID, fmt.Sprintf("unknown tool %q", inv.ToolName))
	}

	args := inv.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	} else if !json.Valid(args) {
		return errorResult(inv.ToolUseID, fmt.Sprintf("tool %q received malformed arguments", inv.ToolName))
	}

	timeout := e.def.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := e.handler.Call(callCtx, args)
	if err != nil {
		slog.Debug("tool returned error", "tool", inv.ToolName, "tool_use_id", inv.ToolUseID, "err", err)
		return errorResult(inv.ToolUseID, err.Error())
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	if !json.Valid(payload) {
		return errorResult(inv.ToolUseID, fmt.Sprintf("tool %q returned invalid JSON", inv.ToolName))
	}

	return Result{ToolUseID: inv.ToolUseID, Payload: payload}
}

// errorResult builds the well-formed error envelope for a failed invocation.
func errorResult(toolUseID, msg string) Result {
	payload, err := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: msg})
	if err != nil {
		payload = json.RawMessage(`{"error":"internal"}`)
	}
	return Result{ToolUseID: toolUseID, Payload: payload, IsError: true}
}
