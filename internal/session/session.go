// Package session implements the duplex conversation session: the state
// machine that owns one streaming connection to the remote speech model and
// coordinates outbound audio, inbound event dispatch, tool execution,
// barge-in, and agent-switch interception.
//
// A [Session] moves through INITIALIZING → STREAMING → CLOSING → CLOSED and
// is single-use: construct one with [New], drive it with [Session.Run], and
// build a fresh one for the next conversation. Run blocks until the session
// is fully torn down, so a caller that loops over sessions never has two
// alive at once.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/switchboard/internal/agent"
	"github.com/MrWong99/switchboard/internal/observe"
	"github.com/MrWong99/switchboard/pkg/audio"
	"github.com/MrWong99/switchboard/pkg/channel"
	"github.com/MrWong99/switchboard/pkg/conversation"
	"github.com/MrWong99/switchboard/pkg/tools"
	"github.com/MrWong99/switchboard/pkg/wire"
)

// SwitchAgentTool is the name of the always-advertised tool the model invokes
// to hand the conversation to a different agent. Invocations are intercepted
// by the session and never reach the tool dispatcher.
const SwitchAgentTool = "switch_agent"

// teardownTimeout bounds the best-effort close handshake. The run context is
// already cancelled by the time teardown runs, so it gets its own deadline.
const teardownTimeout = 3 * time.Second

// ErrCaptureClosed is returned by Run when the audio bridge's capture input
// closes while the session is still streaming. The caller can distinguish a
// device failure from an external bridge stop by inspecting the bridge.
var ErrCaptureClosed = errors.New("session: capture input closed")

// Internal close causes carried out of the task group.
var (
	errSwitchRequested   = errors.New("session: agent switch requested")
	errEndOfConversation = errors.New("session: conversation ended by remote")
)

// AudioBridge is the slice of the audio I/O bridge a session drives. It is
// satisfied by [audio.Bridge].
type AudioBridge interface {
	// Input yields capture frames to forward to the model. The channel is
	// closed when capture stops.
	Input() <-chan audio.Frame

	// EnqueuePlayback queues one model audio frame for playback.
	EnqueuePlayback(ctx context.Context, f audio.Frame) error

	// FlushOutput discards all queued playback frames and reports how many
	// were dropped.
	FlushOutput() int
}

var _ AudioBridge = (*audio.Bridge)(nil)

// Config carries the collaborators and settings for one session.
// Dialer, Bridge, Dispatcher, and Registry are required.
type Config struct {
	// Dialer establishes the streaming connection during INITIALIZING.
	Dialer channel.Dialer

	// Channel is the connection configuration handed to the dialer.
	Channel channel.Config

	// Bridge is the audio I/O bridge capture frames are read from and model
	// audio is played through. The session does not own the bridge's
	// lifecycle; it only consumes it.
	Bridge AudioBridge

	// Dispatcher executes tool invocations requested by the model.
	Dispatcher *tools.Dispatcher

	// Registry resolves agent-switch targets and enumerates the agent names
	// advertised in the switch tool's schema.
	Registry *agent.Registry

	// Profile is the active agent for this session.
	Profile agent.Profile

	// History is the shared dialogue history. Seeded turns are replayed
	// during INITIALIZING and confirmed turns are appended while streaming.
	History *conversation.History

	// Inference tunes the remote model for this session.
	Inference wire.InferenceConfig

	// CaptureFormat describes the PCM frames read from the bridge.
	CaptureFormat audio.Format

	// PlaybackFormat describes the PCM the model is asked to produce.
	PlaybackFormat audio.Format

	// Metrics receives session instrumentation. Defaults to
	// [observe.DefaultMetrics] when nil.
	Metrics *observe.Metrics
}

// Session is one conversation against the remote speech model.
//
// The zero value is not usable; construct with [New].
type Session struct {
	cfg Config

	id       string
	promptID string

	state   atomic.Int32
	started atomic.Bool
	bargeIn atomic.Bool

	ch channel.Channel

	// sendMu serializes every channel send so multi-event emission blocks
	// from concurrent tasks never interleave.
	sendMu sync.Mutex

	// mu guards the in-flight tool set.
	mu       sync.Mutex
	inFlight map[string]string // content id → tool use id

	// audioContentID is the identifier of the long-lived outbound audio
	// content. Written by the outbound pump, read by teardown after the task
	// group is joined.
	audioContentID string

	// switchTarget is written only by the receive loop and read after the
	// task group is joined.
	switchTarget string
}

// New builds a session for one conversation with the given agent profile.
func New(cfg Config) *Session {
	if cfg.History == nil {
		cfg.History = conversation.NewHistory()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Session{
		cfg:      cfg,
		id:       wire.NewSessionID(),
		promptID: wire.NewPromptID(),
		inFlight: make(map[string]string),
	}
}

// ID returns the wire session identifier.
func (s *Session) ID() string { return s.id }

// State reports the current lifecycle phase.
func (s *Session) State() State { return State(s.state.Load()) }

// BargeInRequested reports whether the user interrupted the model at least
// once during this session.
func (s *Session) BargeInRequested() bool { return s.bargeIn.Load() }

// Run drives the session from INITIALIZING to CLOSED and blocks until every
// session task has exited and the channel is released. It returns a nil
// error when the conversation ended normally or an agent switch was
// requested; the Outcome distinguishes the two. A non-nil error means the
// session died abnormally: channel failure, protocol violation, capture
// input closing, or context cancellation.
//
// Tool execution failures never end the session; they are reported to the
// model as error results and streaming continues.
func (s *Session) Run(ctx context.Context) (Outcome, error) {
	if !s.started.CompareAndSwap(false, true) {
		return Outcome{}, errors.New("session: already run")
	}

	ctx, span := observe.StartSpan(ctx, "session.run",
		trace.WithAttributes(observe.Attr("agent", s.cfg.Profile.Name)))
	defer span.End()

	m := s.cfg.Metrics
	m.ActiveSessions.Add(ctx, 1)
	start := time.Now()
	defer func() {
		m.ActiveSessions.Add(ctx, -1)
		m.SessionDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("agent", s.cfg.Profile.Name)))
	}()

	slog.Info("session initializing",
		"session_id", s.id, "agent", s.cfg.Profile.Name, "endpoint", s.cfg.Channel.Endpoint)

	if err := s.initialize(ctx); err != nil {
		s.close("init failure")
		return Outcome{}, err
	}

	s.state.Store(int32(StateStreaming))
	slog.Info("session streaming", "session_id", s.id, "agent", s.cfg.Profile.Name)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.pumpOutbound(gctx) })
	g.Go(func() error { return s.receiveLoop(gctx, g) })
	cause := g.Wait()

	s.close(closeReason(cause))

	switch {
	case errors.Is(cause, errSwitchRequested):
		span.AddEvent("agent switch", trace.WithAttributes(observe.Attr("target", s.switchTarget)))
		return Outcome{SwitchRequested: true, Target: s.switchTarget}, nil
	case errors.Is(cause, errEndOfConversation):
		return Outcome{}, nil
	default:
		return Outcome{}, cause
	}
}

// ── Initialization ──────────────────────────────────────────────────────────

// initialize dials the channel and plays the initialization sequence:
// session-start, prompt-start with the advertised tool schema, the agent's
// system instruction, the seeded history replay, and the greeting prompt.
func (s *Session) initialize(ctx context.Context) error {
	ch, err := s.cfg.Dialer.Dial(ctx, s.cfg.Channel)
	if err != nil {
		return fmt.Errorf("session: dial: %w", err)
	}
	s.ch = ch

	specs := s.cfg.Dispatcher.Specs(s.cfg.Profile.ToolWhitelist...)
	specs = append(specs, switchAgentSpec(s.cfg.Registry.Names()))

	playback := wire.AudioConfig{
		SampleRateHz: s.cfg.PlaybackFormat.SampleRateHz,
		Channels:     s.cfg.PlaybackFormat.Channels,
		Encoding:     wire.EncodingPCM16,
	}

	if err := s.sendBlock(ctx, wire.NewSessionStart(s.id, s.cfg.Inference)); err != nil {
		return fmt.Errorf("session: session-start: %w", err)
	}
	if err := s.sendBlock(ctx, wire.NewPromptStart(s.promptID, s.cfg.Profile.VoiceID, playback, specs)); err != nil {
		return fmt.Errorf("session: prompt-start: %w", err)
	}
	if instruction := s.cfg.Profile.SystemInstruction; instruction != "" {
		if err := s.sendText(ctx, wire.RoleSystem, instruction); err != nil {
			return fmt.Errorf("session: system instruction: %w", err)
		}
	}
	for _, turn := range s.cfg.History.Turns() {
		if err := s.sendText(ctx, outboundRole(turn.Role), turn.Text); err != nil {
			return fmt.Errorf("session: history replay: %w", err)
		}
	}
	if err := s.sendText(ctx, wire.RoleUser, s.cfg.Profile.GreetingPrompt()); err != nil {
		return fmt.Errorf("session: greeting: %w", err)
	}
	return nil
}

// switchAgentSpec builds the always-present switch tool. Its input schema
// enumerates the registered agent names so the model only proposes targets
// that exist.
func switchAgentSpec(names []string) wire.ToolSpec {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"role": map[string]any{
				"type":        "string",
				"description": "Name of the agent to hand the conversation to.",
				"enum":        names,
			},
		},
		"required": []string{"role"},
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		raw = json.RawMessage(`{"type":"object"}`)
	}
	return wire.ToolSpec{
		Name:        SwitchAgentTool,
		Description: "Transfer the caller to a different agent when they ask for something outside this agent's scope.",
		InputSchema: raw,
	}
}

// ── Streaming tasks ─────────────────────────────────────────────────────────

// pumpOutbound forwards capture frames into one long-lived user audio
// content. The content stays open for the whole session; teardown ends it.
func (s *Session) pumpOutbound(ctx context.Context) error {
	cid := wire.NewContentID()
	capture := wire.AudioConfig{
		SampleRateHz: s.cfg.CaptureFormat.SampleRateHz,
		Channels:     s.cfg.CaptureFormat.Channels,
		Encoding:     wire.EncodingPCM16,
	}
	if err := s.sendBlock(ctx, wire.NewAudioContentStart(cid, wire.RoleUser, capture)); err != nil {
		return fmt.Errorf("session: open audio content: %w", err)
	}
	s.audioContentID = cid

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-s.cfg.Bridge.Input():
			if !ok {
				return ErrCaptureClosed
			}
			if err := s.sendBlock(ctx, wire.NewAudioChunk(cid, frame)); err != nil {
				return fmt.Errorf("session: send audio: %w", err)
			}
			s.cfg.Metrics.RecordAudioFrames(ctx, "capture", 1)
		}
	}
}

// receiveLoop dispatches inbound events until the conversation ends, the
// model requests an agent switch, or the channel fails. Tool invocations are
// executed on tasks spawned into g so the loop never blocks on a tool.
func (s *Session) receiveLoop(ctx context.Context, g *errgroup.Group) error {
	tracker := wire.NewFrameTracker()
	pending := make(map[string]*pendingText)

	for {
		ev, err := s.ch.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("session: receive: %w", err)
		}
		if err := tracker.Observe(ev); err != nil {
			// Defensive close: a peer that breaks framing cannot be trusted
			// to keep audio and tool results coherent.
			return fmt.Errorf("session: inbound framing: %w", err)
		}

		switch ev.Kind {
		case wire.KindContentStart:
			cs := ev.ContentStart
			if cs.Type == wire.ContentText {
				pending[cs.ContentID] = &pendingText{role: cs.Role}
			}

		case wire.KindTextChunk:
			tc := ev.TextChunk
			if tc.Interrupted {
				s.handleBargeIn(ctx)
			}
			if p, ok := pending[tc.ContentID]; ok && tc.Text != "" {
				p.text.WriteString(tc.Text)
			}

		case wire.KindAudioChunk:
			if err := s.cfg.Bridge.EnqueuePlayback(ctx, ev.AudioChunk.Audio); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("session: enqueue playback: %w", err)
			}
			s.cfg.Metrics.RecordAudioFrames(ctx, "playback", 1)

		case wire.KindContentEnd:
			if p, ok := pending[ev.ContentEnd.ContentID]; ok {
				delete(pending, ev.ContentEnd.ContentID)
				s.confirmTurn(p)
			}

		case wire.KindToolUse:
			tu := *ev.ToolUse
			if tu.ToolName == SwitchAgentTool {
				if done := s.interceptSwitch(ctx, tu); done {
					return errSwitchRequested
				}
				continue
			}
			s.spawnTool(ctx, g, tu)

		case wire.KindSessionEnd:
			reason := ""
			if ev.SessionEnd != nil {
				reason = ev.SessionEnd.Reason
			}
			slog.Info("session ended by remote", "session_id", s.id, "reason", reason)
			return errEndOfConversation

		default:
			slog.Warn("unexpected inbound event", "session_id", s.id, "kind", ev.Kind)
		}
	}
}

// pendingText accumulates one inbound text content between its start and end
// events. Only confirmed (ended) contents become history turns.
type pendingText struct {
	role wire.Role
	text strings.Builder
}

// confirmTurn appends a completed text content to the shared history.
func (s *Session) confirmTurn(p *pendingText) {
	text := strings.TrimSpace(p.text.String())
	if text == "" {
		return
	}
	role, ok := historyRole(p.role)
	if !ok {
		return
	}
	s.cfg.History.Append(conversation.Turn{Role: role, Text: text})
	slog.Debug("turn confirmed", "session_id", s.id, "role", role, "chars", len(text))
}

// handleBargeIn reacts to the model's interruption marker: everything queued
// for playback is stale the moment the user talks over the agent.
func (s *Session) handleBargeIn(ctx context.Context) {
	s.bargeIn.Store(true)
	flushed := s.cfg.Bridge.FlushOutput()
	s.cfg.Metrics.RecordBargeIn(ctx, s.cfg.Profile.Name)
	if flushed > 0 {
		s.cfg.Metrics.DroppedFrames.Add(ctx, int64(flushed),
			metric.WithAttributes(observe.Attr("reason", "barge_in")))
	}
	trace.SpanFromContext(ctx).AddEvent("barge-in",
		trace.WithAttributes(attribute.Int("flushed_frames", flushed)))
	slog.Info("barge-in: flushed playback queue", "session_id", s.id, "frames", flushed)
}

// interceptSwitch handles a switch-agent invocation. A resolvable target
// ends the session's active work (reported true); an unknown or malformed
// target is answered with a normal error result so the model can recover.
func (s *Session) interceptSwitch(ctx context.Context, tu wire.ToolUse) bool {
	var req struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal(tu.Arguments, &req); err != nil || strings.TrimSpace(req.Role) == "" {
		slog.Warn("switch request malformed", "session_id", s.id, "arguments", string(tu.Arguments))
		s.emitToolError(ctx, tu.ToolUseID, "switch_agent requires a role argument")
		return false
	}
	target, err := s.cfg.Registry.Resolve(req.Role)
	if err != nil {
		slog.Warn("switch target not resolvable", "session_id", s.id, "role", req.Role, "error", err)
		s.emitToolError(ctx, tu.ToolUseID, fmt.Sprintf("no agent matches %q", req.Role))
		return false
	}

	s.switchTarget = target.Name
	slog.Info("agent switch requested",
		"session_id", s.id, "from", s.cfg.Profile.Name, "to", target.Name)
	return true
}

// spawnTool runs one tool invocation on its own task. The result block is
// emitted atomically under the send mutex, so concurrent completions stay
// correlated by toolUseId regardless of finish order.
func (s *Session) spawnTool(ctx context.Context, g *errgroup.Group, tu wire.ToolUse) {
	inv := tools.Invocation{
		ToolName:  tu.ToolName,
		ToolUseID: tu.ToolUseID,
		Arguments: tu.Arguments,
	}
	cid := wire.NewContentID()

	s.mu.Lock()
	s.inFlight[cid] = tu.ToolUseID
	s.mu.Unlock()

	trace.SpanFromContext(ctx).AddEvent("tool call",
		trace.WithAttributes(observe.Attr("tool", tu.ToolName)))

	g.Go(func() error {
		defer func() {
			s.mu.Lock()
			delete(s.inFlight, cid)
			s.mu.Unlock()
		}()

		res := s.cfg.Dispatcher.Execute(ctx, inv)

		status := "ok"
		if res.IsError {
			status = "error"
		}
		s.cfg.Metrics.RecordToolCall(ctx, inv.ToolName, status)
		s.cfg.Metrics.ToolExecutionDuration.Record(ctx, res.Duration.Seconds(),
			metric.WithAttributes(observe.Attr("tool", inv.ToolName)))

		err := s.sendBlock(ctx,
			wire.NewToolContentStart(cid, res.ToolUseID),
			wire.NewToolResult(cid, res.ToolUseID, res.Payload, res.IsError),
			wire.NewContentEnd(cid, wire.StopEndTurn),
		)
		if err != nil {
			// The channel is the receive loop's problem; a tool task only
			// reports its own work.
			slog.Warn("tool result not delivered",
				"session_id", s.id, "tool", inv.ToolName, "tool_use_id", inv.ToolUseID, "error", err)
		}
		return nil
	})
}

// emitToolError sends a correlated error result without going through the
// dispatcher.
func (s *Session) emitToolError(ctx context.Context, toolUseID, msg string) {
	payload, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		payload = json.RawMessage(`{"error":"internal error"}`)
	}
	cid := wire.NewContentID()
	sendErr := s.sendBlock(ctx,
		wire.NewToolContentStart(cid, toolUseID),
		wire.NewToolResult(cid, toolUseID, payload, true),
		wire.NewContentEnd(cid, wire.StopEndTurn),
	)
	if sendErr != nil {
		slog.Warn("tool error not delivered", "session_id", s.id, "tool_use_id", toolUseID, "error", sendErr)
	}
}

// ── Teardown ────────────────────────────────────────────────────────────────

// close moves the session through CLOSING to CLOSED: the open audio content
// is ended, prompt-end and session-end are offered to the peer, and the
// channel is released. Every step is best effort; the channel may already be
// dead.
func (s *Session) close(reason string) {
	s.state.Store(int32(StateClosing))

	s.mu.Lock()
	open := len(s.inFlight)
	s.mu.Unlock()
	slog.Info("session closing", "session_id", s.id, "reason", reason, "tools_in_flight", open)

	if s.ch != nil {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()

		if s.audioContentID != "" {
			s.trySend(ctx, wire.NewContentEnd(s.audioContentID, wire.StopEndTurn))
		}
		s.trySend(ctx, wire.NewPromptEnd(s.promptID))
		s.trySend(ctx, wire.NewSessionEnd(reason))

		if err := s.ch.Close(); err != nil {
			slog.Warn("channel close", "session_id", s.id, "error", err)
		}
	}

	s.state.Store(int32(StateClosed))
	slog.Info("session closed", "session_id", s.id)
}

// trySend delivers one teardown event, logging instead of propagating.
func (s *Session) trySend(ctx context.Context, ev wire.Event) {
	if err := s.sendBlock(ctx, ev); err != nil {
		slog.Debug("teardown send skipped", "session_id", s.id, "kind", ev.Kind, "error", err)
	}
}

// closeReason maps a task-group cause to the reason reported on session-end.
func closeReason(cause error) string {
	switch {
	case errors.Is(cause, errSwitchRequested):
		return "agent switch"
	case errors.Is(cause, errEndOfConversation):
		return "conversation complete"
	case errors.Is(cause, context.Canceled), errors.Is(cause, context.DeadlineExceeded):
		return "shutdown"
	default:
		return "error"
	}
}

// ── Helpers ─────────────────────────────────────────────────────────────────

// sendBlock emits a sequence of events as one uninterrupted block. All
// channel sends go through here; the mutex keeps multi-event blocks from
// concurrent tasks from interleaving.
func (s *Session) sendBlock(ctx context.Context, evs ...wire.Event) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	for _, ev := range evs {
		if err := s.ch.Send(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// sendText emits one framed text content block.
func (s *Session) sendText(ctx context.Context, role wire.Role, text string) error {
	cid := wire.NewContentID()
	return s.sendBlock(ctx,
		wire.NewContentStart(cid, role),
		wire.NewTextChunk(cid, text),
		wire.NewContentEnd(cid, wire.StopEndTurn),
	)
}

// outboundRole maps a history role onto the wire vocabulary.
func outboundRole(r conversation.Role) wire.Role {
	switch r {
	case conversation.RoleAssistant:
		return wire.RoleAssistant
	case conversation.RoleSystem:
		return wire.RoleSystem
	default:
		return wire.RoleUser
	}
}

// historyRole maps an inbound wire role onto the history vocabulary. Tool
// contents carry no dialogue and report false.
func historyRole(r wire.Role) (conversation.Role, bool) {
	switch r {
	case wire.RoleUser:
		return conversation.RoleUser, true
	case wire.RoleAssistant:
		return conversation.RoleAssistant, true
	case wire.RoleSystem:
		return conversation.RoleSystem, true
	default:
		return "", false
	}
}
