// Package wire defines the event vocabulary exchanged with the remote
// conversational speech service, and the stateless builders that construct it.
//
// Every message on the duplex channel is one [Event]: a small envelope with a
// [Kind] discriminator and exactly one populated payload field. Content
// (audio, text, or a tool result) is framed into blocks: a content-start
// event, zero or more payload events, and a content-end event, all correlated
// by a content identifier. [FrameTracker] validates that framing on one
// logical thread of events.
//
// The vocabulary is deliberately vendor-neutral. Adapters for a concrete
// speech service live behind the channel package; this package only defines
// what the events mean.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Kind discriminates the event types on the channel.
type Kind string

const (
	// KindSessionStart opens the streaming session and fixes inference settings.
	KindSessionStart Kind = "session-start"

	// KindPromptStart opens a prompt: voice selection and the advertised tool schema.
	KindPromptStart Kind = "prompt-start"

	// KindContentStart opens a content block (AUDIO, TEXT, or TOOL) with a role.
	KindContentStart Kind = "content-start"

	// KindAudioChunk carries one audio frame belonging to an open AUDIO content.
	KindAudioChunk Kind = "audio-chunk"

	// KindTextChunk carries text belonging to an open TEXT content. It may also
	// carry the barge-in marker (see [TextChunk.Interrupted]).
	KindTextChunk Kind = "text-chunk"

	// KindToolUse is a model-issued request to invoke a tool. Inbound only.
	KindToolUse Kind = "tool-use"

	// KindToolResult returns a tool outcome correlated by its toolUseId.
	KindToolResult Kind = "tool-result"

	// KindContentEnd closes a content block.
	KindContentEnd Kind = "content-end"

	// KindPromptEnd closes the prompt opened by prompt-start.
	KindPromptEnd Kind = "prompt-end"

	// KindSessionEnd closes the session. Inbound it signals a normal
	// end-of-conversation; outbound it is the final event of a teardown.
	KindSessionEnd Kind = "session-end"
)

// IsValid reports whether k is a known event kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindSessionStart, KindPromptStart, KindContentStart, KindAudioChunk,
		KindTextChunk, KindToolUse, KindToolResult, KindContentEnd,
		KindPromptEnd, KindSessionEnd:
		return true
	}
	return false
}

// ContentType classifies what an open content block carries.
type ContentType string

const (
	ContentAudio ContentType = "AUDIO"
	ContentText  ContentType = "TEXT"
	ContentTool  ContentType = "TOOL"
)

// IsValid reports whether t is a known content type.
func (t ContentType) IsValid() bool {
	switch t {
	case ContentAudio, ContentText, ContentTool:
		return true
	}
	return false
}

// Role identifies the conversational party a content block belongs to.
type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
	RoleSystem    Role = "SYSTEM"
	RoleTool      Role = "TOOL"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// Stop reasons carried on content-end events.
const (
	StopEndTurn     = "END_TURN"
	StopInterrupted = "INTERRUPTED"
	StopToolUse     = "TOOL_USE"
)

// ── Envelope ───────────────────────────────────────────────────────────────────

// Event is the envelope for every message on the channel. Exactly one payload
// field is populated, matching [Event.Kind].
type Event struct {
	Kind Kind `json:"type"`

	SessionStart *SessionStart `json:"sessionStart,omitempty"`
	PromptStart  *PromptStart  `json:"promptStart,omitempty"`
	ContentStart *ContentStart `json:"contentStart,omitempty"`
	AudioChunk   *AudioChunk   `json:"audioChunk,omitempty"`
	TextChunk    *TextChunk    `json:"textChunk,omitempty"`
	ToolUse      *ToolUse      `json:"toolUse,omitempty"`
	ToolResult   *ToolResult   `json:"toolResult,omitempty"`
	ContentEnd   *ContentEnd   `json:"contentEnd,omitempty"`
	PromptEnd    *PromptEnd    `json:"promptEnd,omitempty"`
	SessionEnd   *SessionEnd   `json:"sessionEnd,omitempty"`
}

// InferenceConfig fixes the remote model's sampling settings for a session.
type InferenceConfig struct {
	MaxTokens   int     `json:"maxTokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"topP,omitempty"`
}

// AudioConfig describes the PCM format of audio chunks within a content block.
type AudioConfig struct {
	SampleRateHz int    `json:"sampleRateHz"`
	Channels     int    `json:"channels"`
	Encoding     string `json:"encoding"`
}

// EncodingPCM16 is the only audio encoding the vocabulary currently defines:
// little-endian signed 16-bit PCM.
const EncodingPCM16 = "pcm16"

// ToolSpec describes one tool advertised to the model at prompt-start.
type ToolSpec struct {
	// Name is the identifier the model uses in tool-use events.
	Name string `json:"name"`

	// Description tells the model what the tool does.
	Description string `json:"description,omitempty"`

	// InputSchema is the JSON Schema for the tool's arguments object.
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// SessionStart opens the streaming session.
type SessionStart struct {
	SessionID string          `json:"sessionId"`
	Inference InferenceConfig `json:"inference"`
}

// PromptStart opens a prompt. The advertised tool schema must be exactly the
// active agent's whitelist plus the always-present switch-agent tool.
type PromptStart struct {
	PromptID    string      `json:"promptId"`
	VoiceID     string      `json:"voiceId,omitempty"`
	OutputAudio AudioConfig `json:"outputAudio"`
	Tools       []ToolSpec  `json:"tools,omitempty"`
}

// ContentStart opens a content block.
type ContentStart struct {
	ContentID string      `json:"contentId"`
	Type      ContentType `json:"contentType"`
	Role      Role        `json:"role"`

	// Audio describes the chunk format. Set only when Type is AUDIO.
	Audio *AudioConfig `json:"audio,omitempty"`

	// ToolUseID correlates a TOOL content block with the tool-use event that
	// requested it. Set only when Type is TOOL.
	ToolUseID string `json:"toolUseId,omitempty"`
}

// AudioChunk carries one frame of audio inside an open AUDIO content block.
type AudioChunk struct {
	ContentID string `json:"contentId"`

	// Audio is raw PCM. encoding/json transports it as base64.
	Audio []byte `json:"audio"`
}

// TextChunk carries text inside an open TEXT content block.
type TextChunk struct {
	ContentID string `json:"contentId"`
	Text      string `json:"text"`

	// Interrupted marks a barge-in: the user started speaking over the
	// model's in-progress audio output. Queued playback must be discarded.
	Interrupted bool `json:"interrupted,omitempty"`
}

// ToolUse is a model-issued request to invoke a tool. It arrives inside an
// open TOOL content block and is answered by a [ToolResult] carrying the
// same ToolUseID.
type ToolUse struct {
	ContentID string          `json:"contentId"`
	ToolName  string          `json:"toolName"`
	ToolUseID string          `json:"toolUseId"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult returns a tool outcome inside an open TOOL content block.
type ToolResult struct {
	ContentID string          `json:"contentId"`
	ToolUseID string          `json:"toolUseId"`
	Payload   json.RawMessage `json:"payload"`
	IsError   bool            `json:"isError,omitempty"`
}

// ContentEnd closes a content block.
type ContentEnd struct {
	ContentID  string `json:"contentId"`
	StopReason string `json:"stopReason,omitempty"`
}

// PromptEnd closes the prompt.
type PromptEnd struct {
	PromptID string `json:"promptId"`
}

// SessionEnd closes the session.
type SessionEnd struct {
	Reason string `json:"reason,omitempty"`
}

// ── Identifiers ────────────────────────────────────────────────────────────────

// NewSessionID returns a fresh session identifier.
func NewSessionID() string { return uuid.NewString() }

// NewPromptID returns a fresh prompt identifier.
func NewPromptID() string { return uuid.NewString() }

// NewContentID returns a fresh content identifier.
func NewContentID() string { return uuid.NewString() }

// NewToolUseID returns a fresh tool-use identifier. Normally tool-use ids are
// assigned by the remote side; this is used by tests and local echoes.
func NewToolUseID() string { return uuid.NewString() }

// ── Builders ───────────────────────────────────────────────────────────────────

// NewSessionStart builds a session-start event with the given session id.
func NewSessionStart(sessionID string, inf InferenceConfig) Event {
	return Event{Kind: KindSessionStart, SessionStart: &SessionStart{
		SessionID: sessionID,
		Inference: inf,
	}}
}

// NewPromptStart builds a prompt-start event advertising the given tools.
func NewPromptStart(promptID, voiceID string, out AudioConfig, tools []ToolSpec) Event {
	return Event{Kind: KindPromptStart, PromptStart: &PromptStart{
		PromptID:    promptID,
		VoiceID:     voiceID,
		OutputAudio: out,
		Tools:       tools,
	}}
}

// NewContentStart builds a content-start event for a TEXT content block.
func NewContentStart(contentID string, role Role) Event {
	return Event{Kind: KindContentStart, ContentStart: &ContentStart{
		ContentID: contentID,
		Type:      ContentText,
		Role:      role,
	}}
}

// NewAudioContentStart builds a content-start event for an AUDIO content block.
func NewAudioContentStart(contentID string, role Role, format AudioConfig) Event {
	return Event{Kind: KindContentStart, ContentStart: &ContentStart{
		ContentID: contentID,
		Type:      ContentAudio,
		Role:      role,
		Audio:     &format,
	}}
}

// NewToolContentStart builds a content-start event for the TOOL content block
// that will carry the result for toolUseID.
func NewToolContentStart(contentID, toolUseID string) Event {
	return Event{Kind: KindContentStart, ContentStart: &ContentStart{
		ContentID: contentID,
		Type:      ContentTool,
		Role:      RoleTool,
		ToolUseID: toolUseID,
	}}
}

// NewAudioChunk builds an audio-chunk event for an open AUDIO content block.
func NewAudioChunk(contentID string, pcm []byte) Event {
	return Event{Kind: KindAudioChunk, AudioChunk: &AudioChunk{
		ContentID: contentID,
		Audio:     pcm,
	}}
}

// NewTextChunk builds a text-chunk event for an open TEXT content block.
func NewTextChunk(contentID, text string) Event {
	return Event{Kind: KindTextChunk, TextChunk: &TextChunk{
		ContentID: contentID,
		Text:      text,
	}}
}

// NewToolResult builds a tool-result event correlated by toolUseID.
func NewToolResult(contentID, toolUseID string, payload json.RawMessage, isError bool) Event {
	return Event{Kind: KindToolResult, ToolResult: &ToolResult{
		ContentID: contentID,
		ToolUseID: toolUseID,
		Payload:   payload,
		IsError:   isError,
	}}
}

// NewContentEnd builds a content-end event.
func NewContentEnd(contentID, stopReason string) Event {
	return Event{Kind: KindContentEnd, ContentEnd: &ContentEnd{
		ContentID:  contentID,
		StopReason: stopReason,
	}}
}

// NewPromptEnd builds a prompt-end event.
func NewPromptEnd(promptID string) Event {
	return Event{Kind: KindPromptEnd, PromptEnd: &PromptEnd{PromptID: promptID}}
}

// NewSessionEnd builds a session-end event.
func NewSessionEnd(reason string) Event {
	return Event{Kind: KindSessionEnd, SessionEnd: &SessionEnd{Reason: reason}}
}

// ── Encode / Decode ────────────────────────────────────────────────────────────

// Encode validates ev and marshals it to one JSON message.
func Encode(ev Event) ([]byte, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal %s: %w", ev.Kind, err)
	}
	return data, nil
}

// Decode parses one JSON message into an [Event] and validates that the
// payload matches the kind discriminator.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("wire: unmarshal: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Validate checks that the event carries exactly one payload and that it
// matches the kind discriminator.
func (ev Event) Validate() error {
	if !ev.Kind.IsValid() {
		return fmt.Errorf("wire: unknown event kind %q", ev.Kind)
	}
	if n := ev.payloadCount(); n != 1 {
		return fmt.Errorf("wire: %s event carries %d payloads, want exactly 1", ev.Kind, n)
	}

	var ok bool
	switch ev.Kind {
	case KindSessionStart:
		ok = ev.SessionStart != nil
	case KindPromptStart:
		ok = ev.PromptStart != nil
	case KindContentStart:
		ok = ev.ContentStart != nil
	case KindAudioChunk:
		ok = ev.AudioChunk != nil
	case KindTextChunk:
		ok = ev.TextChunk != nil
	case KindToolUse:
		ok = ev.ToolUse != nil
	case KindToolResult:
		ok = ev.ToolResult != nil
	case KindContentEnd:
		ok = ev.ContentEnd != nil
	case KindPromptEnd:
		ok = ev.PromptEnd != nil
	case KindSessionEnd:
		ok = ev.SessionEnd != nil
	}
	if !ok {
		return fmt.Errorf("wire: %s event missing its payload", ev.Kind)
	}

	if ev.Kind == KindContentStart {
		cs := ev.ContentStart
		if !cs.Type.IsValid() {
			return fmt.Errorf("wire: content-start %q has unknown content type %q", cs.ContentID, cs.Type)
		}
		if !cs.Role.IsValid() {
			return fmt.Errorf("wire: content-start %q has unknown role %q", cs.ContentID, cs.Role)
		}
	}
	return nil
}

// payloadCount returns how many payload fields are populated.
func (ev Event) payloadCount() int {
	n := 0
	for _, set := range []bool{
		ev.SessionStart != nil,
		ev.PromptStart != nil,
		ev.ContentStart != nil,
		ev.AudioChunk != nil,
		ev.TextChunk != nil,
		ev.ToolUse != nil,
		ev.ToolResult != nil,
		ev.ContentEnd != nil,
		ev.PromptEnd != nil,
		ev.SessionEnd != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// ContentID returns the content identifier the event refers to, or "" for
// events outside content framing (session/prompt lifecycle).
func (ev Event) ContentID() string {
	switch ev.Kind {
	case KindContentStart:
		return ev.ContentStart.ContentID
	case KindAudioChunk:
		return ev.AudioChunk.ContentID
	case KindTextChunk:
		return ev.TextChunk.ContentID
	case KindToolUse:
		return ev.ToolUse.ContentID
	case KindToolResult:
		return ev.ToolResult.ContentID
	case KindContentEnd:
		return ev.ContentEnd.ContentID
	}
	return ""
}
